package leads

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbushq/backend/internal/models"
)

// Repository handles lead and submission persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a leads repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecordSubmission upserts the lead by (org, email), bumps its counters,
// and inserts the submission row in one transaction. Returns the lead and
// whether it was newly created.
func (r *Repository) RecordSubmission(ctx context.Context, orgID uuid.UUID, email, fullName, source string, fields []byte) (*models.Lead, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	const upsert = `INSERT INTO leads (organization_id, email, full_name, submission_count, first_seen_at, last_seen_at)
		VALUES ($1, $2, NULLIF($3, ''), 1, NOW(), NOW())
		ON CONFLICT (organization_id, email) DO UPDATE SET
			full_name = COALESCE(NULLIF(EXCLUDED.full_name, ''), leads.full_name),
			submission_count = leads.submission_count + 1,
			last_seen_at = NOW()
		RETURNING id, organization_id, email, COALESCE(full_name, ''), submission_count, first_seen_at, last_seen_at`
	var lead models.Lead
	if err := tx.QueryRow(ctx, upsert, orgID, email, fullName).
		Scan(&lead.ID, &lead.OrganizationID, &lead.Email, &lead.FullName,
			&lead.SubmissionCount, &lead.FirstSeenAt, &lead.LastSeenAt); err != nil {
		return nil, false, err
	}
	created := lead.SubmissionCount == 1

	if _, err := tx.Exec(ctx, `INSERT INTO submissions (lead_id, source, fields)
		VALUES ($1, NULLIF($2, ''), $3)`, lead.ID, source, fields); err != nil {
		return nil, false, err
	}
	return &lead, created, tx.Commit(ctx)
}

// List returns an org's leads, most recently seen first.
func (r *Repository) List(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]models.Lead, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM leads WHERE organization_id = $1`, orgID).
		Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, organization_id, email, COALESCE(full_name, ''),
			submission_count, first_seen_at, last_seen_at
		FROM leads WHERE organization_id = $1
		ORDER BY last_seen_at DESC LIMIT $2 OFFSET $3`, orgID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var list []models.Lead
	for rows.Next() {
		var l models.Lead
		if err := rows.Scan(&l.ID, &l.OrganizationID, &l.Email, &l.FullName,
			&l.SubmissionCount, &l.FirstSeenAt, &l.LastSeenAt); err != nil {
			return nil, 0, err
		}
		list = append(list, l)
	}
	return list, total, rows.Err()
}

// Get returns one lead scoped to its org.
func (r *Repository) Get(ctx context.Context, id, orgID uuid.UUID) (*models.Lead, error) {
	var l models.Lead
	err := r.pool.QueryRow(ctx, `SELECT id, organization_id, email, COALESCE(full_name, ''),
			submission_count, first_seen_at, last_seen_at
		FROM leads WHERE id = $1 AND organization_id = $2`, id, orgID).
		Scan(&l.ID, &l.OrganizationID, &l.Email, &l.FullName,
			&l.SubmissionCount, &l.FirstSeenAt, &l.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListSubmissions returns a lead's submissions, newest first.
func (r *Repository) ListSubmissions(ctx context.Context, leadID uuid.UUID, limit, offset int) ([]models.Submission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, lead_id, COALESCE(source, ''), COALESCE(fields, 'null'::jsonb), created_at
		FROM submissions WHERE lead_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, leadID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Submission
	for rows.Next() {
		var s models.Submission
		if err := rows.Scan(&s.ID, &s.LeadID, &s.Source, &s.Fields, &s.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// All streams every lead of an org for export.
func (r *Repository) All(ctx context.Context, orgID uuid.UUID) ([]models.Lead, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, organization_id, email, COALESCE(full_name, ''),
			submission_count, first_seen_at, last_seen_at
		FROM leads WHERE organization_id = $1 ORDER BY first_seen_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Lead
	for rows.Next() {
		var l models.Lead
		if err := rows.Scan(&l.ID, &l.OrganizationID, &l.Email, &l.FullName,
			&l.SubmissionCount, &l.FirstSeenAt, &l.LastSeenAt); err != nil {
			return nil, err
		}
		list = append(list, l)
	}
	return list, rows.Err()
}
