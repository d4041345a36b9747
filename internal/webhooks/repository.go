package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbushq/backend/internal/models"
)

// Repository handles webhook endpoint and delivery persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a webhooks repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateEndpoint inserts a new endpoint.
func (r *Repository) CreateEndpoint(ctx context.Context, e *models.WebhookEndpoint) error {
	const q = `INSERT INTO webhook_endpoints (organization_id, url, secret, events, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, e.OrganizationID, e.URL, e.Secret, e.Events, e.Active).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

const endpointColumns = `id, organization_id, url, secret, events, active, created_at, updated_at`

func scanEndpoint(row pgx.Row) (*models.WebhookEndpoint, error) {
	var e models.WebhookEndpoint
	if err := row.Scan(&e.ID, &e.OrganizationID, &e.URL, &e.Secret, &e.Events, &e.Active, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEndpoint returns an endpoint scoped to its org.
func (r *Repository) GetEndpoint(ctx context.Context, id, orgID uuid.UUID) (*models.WebhookEndpoint, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints
		WHERE id = $1 AND organization_id = $2`, id, orgID)
	e, err := scanEndpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// GetEndpointByID returns an endpoint without org scoping. Used by the
// delivery worker, which trusts the delivery row's endpoint reference.
func (r *Repository) GetEndpointByID(ctx context.Context, id uuid.UUID) (*models.WebhookEndpoint, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1`, id)
	e, err := scanEndpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// ListEndpoints returns all endpoints of an org.
func (r *Repository) ListEndpoints(ctx context.Context, orgID uuid.UUID) ([]models.WebhookEndpoint, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints
		WHERE organization_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.WebhookEndpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

// ListSubscribed returns the active endpoints of an org subscribed to an
// event type, either explicitly or via "*".
func (r *Repository) ListSubscribed(ctx context.Context, orgID uuid.UUID, eventType string) ([]models.WebhookEndpoint, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints
		WHERE organization_id = $1 AND active = TRUE AND ($2 = ANY(events) OR '*' = ANY(events))`,
		orgID, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.WebhookEndpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

// UpdateEndpoint applies partial updates. Nil fields are left unchanged.
func (r *Repository) UpdateEndpoint(ctx context.Context, id, orgID uuid.UUID, url *string, events []string, active *bool) (*models.WebhookEndpoint, error) {
	const q = `UPDATE webhook_endpoints SET
			url = COALESCE($3, url),
			events = COALESCE($4, events),
			active = COALESCE($5, active),
			updated_at = NOW()
		WHERE id = $1 AND organization_id = $2
		RETURNING ` + endpointColumns
	row := r.pool.QueryRow(ctx, q, id, orgID, url, events, active)
	e, err := scanEndpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// RotateSecret replaces an endpoint's signing secret.
func (r *Repository) RotateSecret(ctx context.Context, id, orgID uuid.UUID, secret string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE webhook_endpoints SET secret = $3, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2`, id, orgID, secret)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteEndpoint removes an endpoint and its delivery history.
func (r *Repository) DeleteEndpoint(ctx context.Context, id, orgID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM webhook_endpoints WHERE id = $1 AND organization_id = $2`,
		id, orgID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CreateDelivery inserts a pending delivery row.
func (r *Repository) CreateDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	const q = `INSERT INTO webhook_deliveries (endpoint_id, event_id, event_type, payload, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, d.EndpointID, d.EventID, d.EventType, d.Payload, d.Status).
		Scan(&d.ID, &d.CreatedAt)
}

const deliveryColumns = `id, endpoint_id, event_id, event_type, payload, status,
	COALESCE(status_code, 0), attempts, next_retry_at, completed_at, created_at`

func scanDelivery(row pgx.Row) (*models.WebhookDelivery, error) {
	var d models.WebhookDelivery
	if err := row.Scan(&d.ID, &d.EndpointID, &d.EventID, &d.EventType, &d.Payload, &d.Status,
		&d.StatusCode, &d.Attempts, &d.NextRetryAt, &d.CompletedAt, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDelivery returns a delivery by id.
func (r *Repository) GetDelivery(ctx context.Context, id uuid.UUID) (*models.WebhookDelivery, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)
	d, err := scanDelivery(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

// ListDeliveries returns an endpoint's deliveries, newest first.
func (r *Repository) ListDeliveries(ctx context.Context, endpointID uuid.UUID, limit, offset int) ([]models.WebhookDelivery, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE endpoint_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		endpointID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *d)
	}
	return list, rows.Err()
}

// MarkSuccess records a successful attempt.
func (r *Repository) MarkSuccess(ctx context.Context, id uuid.UUID, statusCode int) error {
	_, err := r.pool.Exec(ctx, `UPDATE webhook_deliveries SET
			status = $2, status_code = $3, attempts = attempts + 1,
			next_retry_at = NULL, completed_at = NOW()
		WHERE id = $1`, id, models.DeliveryStatusSuccess, statusCode)
	return err
}

// MarkRetrying records a failed attempt that will be retried.
func (r *Repository) MarkRetrying(ctx context.Context, id uuid.UUID, statusCode int, nextRetry time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE webhook_deliveries SET
			status = $2, status_code = NULLIF($3, 0), attempts = attempts + 1, next_retry_at = $4
		WHERE id = $1`, id, models.DeliveryStatusRetrying, statusCode, nextRetry)
	return err
}

// MarkDead records a delivery that exhausted its retries.
func (r *Repository) MarkDead(ctx context.Context, id uuid.UUID, statusCode int) error {
	_, err := r.pool.Exec(ctx, `UPDATE webhook_deliveries SET
			status = $2, status_code = NULLIF($3, 0), attempts = attempts + 1,
			next_retry_at = NULL, completed_at = NOW()
		WHERE id = $1`, id, models.DeliveryStatusDead, statusCode)
	return err
}

// EndpointStats summarizes delivery outcomes for one endpoint.
type EndpointStats struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// DeliveryStats aggregates delivery outcomes for an endpoint.
func (r *Repository) DeliveryStats(ctx context.Context, endpointID uuid.UUID) (*EndpointStats, error) {
	const q = `SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status IN ('pending', 'retrying')),
			COUNT(*) FILTER (WHERE status = 'dead')
		FROM webhook_deliveries WHERE endpoint_id = $1`
	var s EndpointStats
	err := r.pool.QueryRow(ctx, q, endpointID).Scan(&s.Total, &s.Success, &s.Pending, &s.Failed)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
