package models

import (
	"time"

	"github.com/google/uuid"
)

// Lead is a captured contact for an organization, merged by email across
// submissions.
type Lead struct {
	ID              uuid.UUID `json:"id"`
	OrganizationID  uuid.UUID `json:"organization_id"`
	Email           string    `json:"email"`
	FullName        string    `json:"full_name,omitempty"`
	SubmissionCount int       `json:"submission_count"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
}

// Submission is one public form post attributed to a lead.
type Submission struct {
	ID        uuid.UUID `json:"id"`
	LeadID    uuid.UUID `json:"lead_id"`
	Source    string    `json:"source,omitempty"` // e.g. landing-page, docs-footer
	Fields    []byte    `json:"fields,omitempty"` // raw JSON form fields
	CreatedAt time.Time `json:"created_at"`
}
