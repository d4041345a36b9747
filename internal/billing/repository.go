package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbushq/backend/internal/models"
)

// Repository handles plan, price, and subscription persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a billing repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListPlans returns the active plans with their prices.
func (r *Repository) ListPlans(ctx context.Context) ([]models.Plan, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, key, name, COALESCE(description, ''), max_members, is_active, created_at
		FROM plans WHERE is_active = TRUE ORDER BY max_members`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var plans []models.Plan
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var p models.Plan
		if err := rows.Scan(&p.ID, &p.Key, &p.Name, &p.Description, &p.MaxMembers, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, err
		}
		index[p.ID] = len(plans)
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	priceRows, err := r.pool.Query(ctx, `SELECT id, plan_id, COALESCE(provider_price_id, ''), amount_cents, currency, interval, created_at
		FROM prices ORDER BY amount_cents`)
	if err != nil {
		return nil, err
	}
	defer priceRows.Close()
	for priceRows.Next() {
		var pr models.Price
		if err := priceRows.Scan(&pr.ID, &pr.PlanID, &pr.ProviderPriceID, &pr.AmountCents, &pr.Currency, &pr.Interval, &pr.CreatedAt); err != nil {
			return nil, err
		}
		if i, ok := index[pr.PlanID]; ok {
			plans[i].Prices = append(plans[i].Prices, pr)
		}
	}
	return plans, priceRows.Err()
}

// GetPlanByKey returns one plan by its key, without prices.
func (r *Repository) GetPlanByKey(ctx context.Context, key string) (*models.Plan, error) {
	var p models.Plan
	err := r.pool.QueryRow(ctx, `SELECT id, key, name, COALESCE(description, ''), max_members, is_active, created_at
		FROM plans WHERE key = $1`, key).
		Scan(&p.ID, &p.Key, &p.Name, &p.Description, &p.MaxMembers, &p.IsActive, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPrice returns a price by id.
func (r *Repository) GetPrice(ctx context.Context, id uuid.UUID) (*models.Price, error) {
	var pr models.Price
	err := r.pool.QueryRow(ctx, `SELECT id, plan_id, COALESCE(provider_price_id, ''), amount_cents, currency, interval, created_at
		FROM prices WHERE id = $1`, id).
		Scan(&pr.ID, &pr.PlanID, &pr.ProviderPriceID, &pr.AmountCents, &pr.Currency, &pr.Interval, &pr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

// GetPriceByProviderID maps the provider's price object back to ours.
func (r *Repository) GetPriceByProviderID(ctx context.Context, providerPriceID string) (*models.Price, error) {
	var pr models.Price
	err := r.pool.QueryRow(ctx, `SELECT id, plan_id, COALESCE(provider_price_id, ''), amount_cents, currency, interval, created_at
		FROM prices WHERE provider_price_id = $1`, providerPriceID).
		Scan(&pr.ID, &pr.PlanID, &pr.ProviderPriceID, &pr.AmountCents, &pr.Currency, &pr.Interval, &pr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

const subscriptionColumns = `id, organization_id, plan_id, price_id,
	COALESCE(provider_customer_id, ''), COALESCE(provider_subscription_id, ''),
	status, current_period_start, current_period_end, cancel_at_period_end,
	canceled_at, trial_ends_at, past_due_since, created_at, updated_at`

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var s models.Subscription
	if err := row.Scan(&s.ID, &s.OrganizationID, &s.PlanID, &s.PriceID,
		&s.ProviderCustomerID, &s.ProviderSubscriptionID,
		&s.Status, &s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CancelAtPeriodEnd,
		&s.CanceledAt, &s.TrialEndsAt, &s.PastDueSince, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByOrg returns an org's subscription, nil when none exists.
func (r *Repository) GetByOrg(ctx context.Context, orgID uuid.UUID) (*models.Subscription, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE organization_id = $1`, orgID)
	s, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// GetByProviderSubscriptionID resolves webhook events back to the local row.
func (r *Repository) GetByProviderSubscriptionID(ctx context.Context, providerSubID string) (*models.Subscription, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider_subscription_id = $1`, providerSubID)
	s, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// GetByProviderCustomerID resolves customer-scoped webhook events.
func (r *Repository) GetByProviderCustomerID(ctx context.Context, providerCustomerID string) (*models.Subscription, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider_customer_id = $1`, providerCustomerID)
	s, err := scanSubscription(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// CreateTrial starts a new org on the given plan with a trial. One row per
// org: the unique constraint makes a second insert fail.
func (r *Repository) CreateTrial(ctx context.Context, orgID, planID uuid.UUID, trialDays int) (*models.Subscription, error) {
	trialEnd := time.Now().UTC().Add(time.Duration(trialDays) * 24 * time.Hour)
	const q = `INSERT INTO subscriptions (organization_id, plan_id, status, trial_ends_at)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + subscriptionColumns
	row := r.pool.QueryRow(ctx, q, orgID, planID, models.SubscriptionTrialing, trialEnd)
	return scanSubscription(row)
}

// SetProviderCustomer stores the provider customer id on first use.
func (r *Repository) SetProviderCustomer(ctx context.Context, id uuid.UUID, customerID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE subscriptions SET provider_customer_id = $2, updated_at = NOW()
		WHERE id = $1`, id, customerID)
	return err
}

// SyncFromProvider overwrites the local row with the provider's view of
// the subscription. pastDueSince handling: set on first transition into
// past_due, cleared when the status leaves past_due.
func (r *Repository) SyncFromProvider(ctx context.Context, id uuid.UUID, planID uuid.UUID, priceID *uuid.UUID,
	providerSubID string, status models.SubscriptionStatus,
	periodStart, periodEnd, trialEnd *time.Time, cancelAtPeriodEnd bool) (*models.Subscription, error) {
	const q = `UPDATE subscriptions SET
			plan_id = $2,
			price_id = $3,
			provider_subscription_id = $4,
			status = $5,
			current_period_start = $6,
			current_period_end = $7,
			trial_ends_at = $8,
			cancel_at_period_end = $9,
			canceled_at = CASE WHEN $5 = 'canceled' AND canceled_at IS NULL THEN NOW() ELSE canceled_at END,
			past_due_since = CASE
				WHEN $5 = 'past_due' THEN COALESCE(past_due_since, NOW())
				WHEN $5 IN ('active', 'trialing') THEN NULL
				ELSE past_due_since
			END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + subscriptionColumns
	row := r.pool.QueryRow(ctx, q, id, planID, priceID, providerSubID, status,
		periodStart, periodEnd, trialEnd, cancelAtPeriodEnd)
	return scanSubscription(row)
}

// MarkPastDue records a payment failure, keeping the earliest failure time
// of the current cycle.
func (r *Repository) MarkPastDue(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	const q = `UPDATE subscriptions SET
			status = 'past_due',
			past_due_since = COALESCE(past_due_since, NOW()),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + subscriptionColumns
	row := r.pool.QueryRow(ctx, q, id)
	return scanSubscription(row)
}

// MarkCancelAtPeriodEnd flips the pending-cancel flag.
func (r *Repository) MarkCancelAtPeriodEnd(ctx context.Context, id uuid.UUID, cancel bool) error {
	_, err := r.pool.Exec(ctx, `UPDATE subscriptions SET cancel_at_period_end = $2, updated_at = NOW()
		WHERE id = $1`, id, cancel)
	return err
}

// ExpireGracePeriods moves past_due subscriptions whose grace window ended
// to unpaid. Returns the updated rows so the caller can notify and
// dispatch events.
func (r *Repository) ExpireGracePeriods(ctx context.Context, gracePeriodDays int) ([]models.Subscription, error) {
	const q = `UPDATE subscriptions SET status = 'unpaid', updated_at = NOW()
		WHERE status = 'past_due'
		  AND past_due_since IS NOT NULL
		  AND past_due_since + ($1 || ' days')::interval < NOW()
		RETURNING ` + subscriptionColumns
	rows, err := r.pool.Query(ctx, q, gracePeriodDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// ExpireTrials moves trialing subscriptions past their trial end to
// incomplete when no provider subscription was attached.
func (r *Repository) ExpireTrials(ctx context.Context) ([]models.Subscription, error) {
	const q = `UPDATE subscriptions SET status = 'incomplete', updated_at = NOW()
		WHERE status = 'trialing'
		  AND trial_ends_at IS NOT NULL AND trial_ends_at < NOW()
		  AND (provider_subscription_id IS NULL OR provider_subscription_id = '')
		RETURNING ` + subscriptionColumns
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// SeatsAvailable reports whether the org's plan allows another member.
// Plans with max_members 0 are unlimited.
func (r *Repository) SeatsAvailable(ctx context.Context, orgID uuid.UUID) (bool, error) {
	const q = `SELECT p.max_members, (SELECT COUNT(*) FROM members m WHERE m.organization_id = $1)
		FROM subscriptions s
		JOIN plans p ON p.id = s.plan_id
		WHERE s.organization_id = $1`
	var maxMembers, current int
	err := r.pool.QueryRow(ctx, q, orgID).Scan(&maxMembers, &current)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return maxMembers == 0 || current < maxMembers, nil
}

// ListOrgManagerEmails returns the emails of an org's owners and admins,
// used for dunning mail.
func (r *Repository) ListOrgManagerEmails(ctx context.Context, orgID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT u.email FROM members m
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1 AND m.role IN ('owner', 'admin')
		ORDER BY u.email`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var emails []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

// ListPastDue returns past_due subscriptions for dunning reminders.
func (r *Repository) ListPastDue(ctx context.Context) ([]models.Subscription, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE status = 'past_due'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}
