package notifications

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbushq/backend/internal/models"
)

// Repository handles notification persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a notifications repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a notification for one user.
func (r *Repository) Create(ctx context.Context, n *models.Notification) error {
	const q = `INSERT INTO notifications (user_id, organization_id, type, title, body)
		VALUES ($1, $2, $3, $4, NULLIF($5,''))
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, n.UserID, n.OrgID, n.Type, n.Title, n.Body).
		Scan(&n.ID, &n.CreatedAt)
}

// CreateForOrgRoles inserts the same notification for every member of the
// org holding one of the given roles. Returns the created rows so they
// can be pushed to connected clients.
func (r *Repository) CreateForOrgRoles(ctx context.Context, orgID uuid.UUID, roles []string, ntype, title, body string) ([]models.Notification, error) {
	const q = `INSERT INTO notifications (user_id, organization_id, type, title, body)
		SELECT m.user_id, $1, $2, $3, NULLIF($4,'')
		FROM members m
		WHERE m.organization_id = $1 AND m.role = ANY($5)
		RETURNING id, user_id, organization_id, type, title, COALESCE(body,''), read_at, created_at`
	rows, err := r.pool.Query(ctx, q, orgID, ntype, title, body, roles)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.OrgID, &n.Type, &n.Title, &n.Body, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// ListForUser returns notifications for a user, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]models.Notification, error) {
	q := `SELECT id, user_id, organization_id, type, title, COALESCE(body,''), read_at, created_at
		FROM notifications WHERE user_id = $1`
	if unreadOnly {
		q += ` AND read_at IS NULL`
	}
	q += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, q, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.OrgID, &n.Type, &n.Title, &n.Body, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// CountUnread returns the unread count for a user.
func (r *Repository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`,
		userID).Scan(&n)
	return n, err
}

// MarkRead marks one notification read. Scoped to the user so one user
// cannot mark another's rows.
func (r *Repository) MarkRead(ctx context.Context, id, userID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET read_at = NOW()
		WHERE id = $1 AND user_id = $2 AND read_at IS NULL`, id, userID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkAllRead marks all of a user's notifications read.
func (r *Repository) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE notifications SET read_at = NOW()
		WHERE user_id = $1 AND read_at IS NULL`, userID)
	return err
}
