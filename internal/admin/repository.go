package admin

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository runs the aggregate queries behind platform and org analytics.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an admin analytics repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// PlatformStats is the admin dashboard headline block.
type PlatformStats struct {
	TotalUsers            int            `json:"total_users"`
	TotalOrganizations    int            `json:"total_organizations"`
	TotalLeads            int            `json:"total_leads"`
	SubscriptionsByStatus map[string]int `json:"subscriptions_by_status"`
	MRRCents              int            `json:"mrr_cents"`
}

// PlatformStats aggregates the headline counters in one round trip each.
func (r *Repository) PlatformStats(ctx context.Context) (*PlatformStats, error) {
	var s PlatformStats
	const counts = `SELECT
		(SELECT COUNT(*) FROM users),
		(SELECT COUNT(*) FROM organizations),
		(SELECT COUNT(*) FROM leads)`
	if err := r.pool.QueryRow(ctx, counts).Scan(&s.TotalUsers, &s.TotalOrganizations, &s.TotalLeads); err != nil {
		return nil, err
	}

	s.SubscriptionsByStatus = make(map[string]int)
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM subscriptions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		s.SubscriptionsByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// MRR: monthly prices count as-is, yearly prices divided by 12.
	// past_due stays in MRR; it is still expected revenue during grace.
	const mrr = `SELECT COALESCE(SUM(
			CASE WHEN p.interval = 'year' THEN p.amount_cents / 12 ELSE p.amount_cents END
		), 0)
		FROM subscriptions s
		JOIN prices p ON p.id = s.price_id
		WHERE s.status IN ('active', 'past_due')`
	if err := r.pool.QueryRow(ctx, mrr).Scan(&s.MRRCents); err != nil {
		return nil, err
	}
	return &s, nil
}

// TimeBucket is one point of a bucketed time series.
type TimeBucket struct {
	Bucket time.Time `json:"bucket"`
	Count  int       `json:"count"`
}

func collectBuckets(rows pgx.Rows) ([]TimeBucket, error) {
	defer rows.Close()
	var series []TimeBucket
	for rows.Next() {
		var b TimeBucket
		if err := rows.Scan(&b.Bucket, &b.Count); err != nil {
			return nil, err
		}
		series = append(series, b)
	}
	return series, rows.Err()
}

// SignupsByDay buckets user registrations per day over the window.
func (r *Repository) SignupsByDay(ctx context.Context, since time.Time) ([]TimeBucket, error) {
	rows, err := r.pool.Query(ctx, `SELECT date_trunc('day', created_at) AS bucket, COUNT(*)
		FROM users WHERE created_at >= $1
		GROUP BY bucket ORDER BY bucket`, since)
	if err != nil {
		return nil, err
	}
	return collectBuckets(rows)
}

// PlanDistribution counts subscriptions per plan key.
func (r *Repository) PlanDistribution(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.key, COUNT(*)
		FROM subscriptions s
		JOIN plans p ON p.id = s.plan_id
		WHERE s.status NOT IN ('canceled', 'incomplete')
		GROUP BY p.key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	dist := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		dist[key] = n
	}
	return dist, rows.Err()
}

// OrgSummary is one row of the admin org listing.
type OrgSummary struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	MemberCount int       `json:"member_count"`
	PlanKey     string    `json:"plan_key"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListOrganizations returns orgs with member counts and plan, paginated.
func (r *Repository) ListOrganizations(ctx context.Context, limit, offset int) ([]OrgSummary, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM organizations`).Scan(&total); err != nil {
		return nil, 0, err
	}

	const q = `SELECT o.id, o.name, o.slug,
			(SELECT COUNT(*) FROM members m WHERE m.organization_id = o.id),
			COALESCE(p.key, ''), COALESCE(s.status, ''), o.created_at
		FROM organizations o
		LEFT JOIN subscriptions s ON s.organization_id = o.id
		LEFT JOIN plans p ON p.id = s.plan_id
		ORDER BY o.created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var list []OrgSummary
	for rows.Next() {
		var o OrgSummary
		if err := rows.Scan(&o.ID, &o.Name, &o.Slug, &o.MemberCount, &o.PlanKey, &o.Status, &o.CreatedAt); err != nil {
			return nil, 0, err
		}
		list = append(list, o)
	}
	return list, total, rows.Err()
}

// OrgStats is the per-organization analytics block.
type OrgStats struct {
	MemberCount         int            `json:"member_count"`
	InvitationsByStatus map[string]int `json:"invitations_by_status"`
	LeadCount           int            `json:"lead_count"`
	LeadsByDay          []TimeBucket   `json:"leads_by_day"`
	NotificationCount   int            `json:"notification_count"`
	WebhookDeliveries   int            `json:"webhook_deliveries"`
	WebhookSuccessRate  float64        `json:"webhook_success_rate"`
}

// OrgStats aggregates activity for one organization.
func (r *Repository) OrgStats(ctx context.Context, orgID uuid.UUID, since time.Time) (*OrgStats, error) {
	var s OrgStats
	var webhookSuccess int
	const counts = `SELECT
		(SELECT COUNT(*) FROM members WHERE organization_id = $1),
		(SELECT COUNT(*) FROM leads WHERE organization_id = $1),
		(SELECT COUNT(*) FROM notifications WHERE organization_id = $1),
		(SELECT COUNT(*) FROM webhook_deliveries d
			JOIN webhook_endpoints e ON e.id = d.endpoint_id
			WHERE e.organization_id = $1),
		(SELECT COUNT(*) FROM webhook_deliveries d
			JOIN webhook_endpoints e ON e.id = d.endpoint_id
			WHERE e.organization_id = $1 AND d.status = 'success')`
	if err := r.pool.QueryRow(ctx, counts, orgID).Scan(&s.MemberCount, &s.LeadCount,
		&s.NotificationCount, &s.WebhookDeliveries, &webhookSuccess); err != nil {
		return nil, err
	}
	if s.WebhookDeliveries > 0 {
		s.WebhookSuccessRate = float64(webhookSuccess) / float64(s.WebhookDeliveries)
	}

	s.InvitationsByStatus = make(map[string]int)
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM invitations
		WHERE organization_id = $1 GROUP BY status`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		s.InvitationsByStatus[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	leadRows, err := r.pool.Query(ctx, `SELECT date_trunc('day', first_seen_at) AS bucket, COUNT(*)
		FROM leads WHERE organization_id = $1 AND first_seen_at >= $2
		GROUP BY bucket ORDER BY bucket`, orgID, since)
	if err != nil {
		return nil, err
	}
	s.LeadsByDay, err = collectBuckets(leadRows)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
