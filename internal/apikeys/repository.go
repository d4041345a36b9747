package apikeys

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbushq/backend/internal/models"
)

// Repository handles API key persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an API keys repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const keyColumns = `id, organization_id, name, prefix, key_hash, created_by, last_used_at, revoked_at, created_at`

func scanKey(row pgx.Row) (*models.APIKey, error) {
	var k models.APIKey
	if err := row.Scan(&k.ID, &k.OrganizationID, &k.Name, &k.Prefix, &k.KeyHash,
		&k.CreatedBy, &k.LastUsedAt, &k.RevokedAt, &k.CreatedAt); err != nil {
		return nil, err
	}
	return &k, nil
}

// Create inserts a new key.
func (r *Repository) Create(ctx context.Context, k *models.APIKey) error {
	const q = `INSERT INTO api_keys (organization_id, name, prefix, key_hash, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, k.OrganizationID, k.Name, k.Prefix, k.KeyHash, k.CreatedBy).
		Scan(&k.ID, &k.CreatedAt)
}

// GetByHash resolves a presented key. Revoked keys do not resolve.
func (r *Repository) GetByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+keyColumns+` FROM api_keys
		WHERE key_hash = $1 AND revoked_at IS NULL`, keyHash)
	k, err := scanKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return k, err
}

// List returns an org's keys, newest first.
func (r *Repository) List(ctx context.Context, orgID uuid.UUID) ([]models.APIKey, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+keyColumns+` FROM api_keys
		WHERE organization_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *k)
	}
	return list, rows.Err()
}

// Revoke disables a key. Returns false when the key does not exist or is
// already revoked.
func (r *Repository) Revoke(ctx context.Context, id, orgID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE api_keys SET revoked_at = NOW()
		WHERE id = $1 AND organization_id = $2 AND revoked_at IS NULL`, id, orgID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// TouchLastUsed records key usage. Best effort, called on every request.
func (r *Repository) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	return err
}
