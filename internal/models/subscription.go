package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus mirrors the payment provider's subscription states.
type SubscriptionStatus string

const (
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
)

// Plan is a sellable subscription tier.
type Plan struct {
	ID          uuid.UUID `json:"id"`
	Key         string    `json:"key"` // free, pro, enterprise
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	MaxMembers  int       `json:"max_members"` // 0 = unlimited
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	Prices      []Price   `json:"prices,omitempty"`
}

// Price is a billing interval + amount for a plan, linked to the
// provider's price object.
type Price struct {
	ID              uuid.UUID `json:"id"`
	PlanID          uuid.UUID `json:"plan_id"`
	ProviderPriceID string    `json:"provider_price_id,omitempty"`
	AmountCents     int       `json:"amount_cents"`
	Currency        string    `json:"currency"`
	Interval        string    `json:"interval"` // month or year
	CreatedAt       time.Time `json:"created_at"`
}

// Subscription is an organization's subscription to a plan.
type Subscription struct {
	ID                     uuid.UUID          `json:"id"`
	OrganizationID         uuid.UUID          `json:"organization_id"`
	PlanID                 uuid.UUID          `json:"plan_id"`
	PriceID                *uuid.UUID         `json:"price_id,omitempty"`
	ProviderCustomerID     string             `json:"provider_customer_id,omitempty"`
	ProviderSubscriptionID string             `json:"provider_subscription_id,omitempty"`
	Status                 SubscriptionStatus `json:"status"`
	CurrentPeriodStart     *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end"`
	CanceledAt             *time.Time         `json:"canceled_at,omitempty"`
	TrialEndsAt            *time.Time         `json:"trial_ends_at,omitempty"`
	PastDueSince           *time.Time         `json:"past_due_since,omitempty"` // first payment failure of the current cycle
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}
