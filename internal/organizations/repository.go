package organizations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbushq/backend/internal/models"
)

// Repository handles organization and member persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an organizations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const orgColumns = `id, name, slug, COALESCE(logo_url,''), form_key, created_at, updated_at`

func scanOrg(row interface{ Scan(...any) error }) (*models.Organization, error) {
	var o models.Organization
	err := row.Scan(&o.ID, &o.Name, &o.Slug, &o.LogoURL, &o.FormKey, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Create creates an organization and adds the creator as owner in one
// transaction.
func (r *Repository) Create(ctx context.Context, org *models.Organization, creatorID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `INSERT INTO organizations (name, slug) VALUES ($1, $2)
		RETURNING id, form_key, created_at, updated_at`
	if err := tx.QueryRow(ctx, q, org.Name, org.Slug).
		Scan(&org.ID, &org.FormKey, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `INSERT INTO members (organization_id, user_id, role) VALUES ($1, $2, $3)`,
		org.ID, creatorID, models.OrgRoleOwner)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetByID returns an organization by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	return scanOrg(r.pool.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id))
}

// GetByFormKey returns an organization by its public lead-capture form key.
func (r *Repository) GetByFormKey(ctx context.Context, formKey string) (*models.Organization, error) {
	return scanOrg(r.pool.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE form_key = $1`, formKey))
}

// Update updates name and/or slug.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, name, slug string) (*models.Organization, error) {
	const q = `UPDATE organizations
		SET name = COALESCE(NULLIF($2,''), name),
		    slug = COALESCE(NULLIF($3,''), slug),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + orgColumns
	return scanOrg(r.pool.QueryRow(ctx, q, id, name, slug))
}

// SetLogoURL stores the logo URL after a completed upload.
func (r *Repository) SetLogoURL(ctx context.Context, id uuid.UUID, url string) error {
	_, err := r.pool.Exec(ctx, `UPDATE organizations SET logo_url = $2, updated_at = NOW() WHERE id = $1`, id, url)
	return err
}

// Delete removes an organization. Memberships, invitations, webhooks,
// and leads cascade at the schema level.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	return err
}

// ListForUser returns organizations the user is a member of.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Organization, error) {
	const q = `SELECT o.id, o.name, o.slug, COALESCE(o.logo_url,''), o.form_key, o.created_at, o.updated_at
		FROM organizations o
		INNER JOIN members m ON m.organization_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.name`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Organization
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

// GetMemberRole returns the user's role in the organization, or empty if
// not a member.
func (r *Repository) GetMemberRole(ctx context.Context, orgID, userID uuid.UUID) (string, error) {
	var role string
	err := r.pool.QueryRow(ctx, `SELECT role FROM members WHERE organization_id = $1 AND user_id = $2`,
		orgID, userID).Scan(&role)
	if err != nil {
		return "", err
	}
	return role, nil
}

// GetMemberRoleByEmail returns the role of the member with this email, or
// empty if no such member exists.
func (r *Repository) GetMemberRoleByEmail(ctx context.Context, orgID uuid.UUID, email string) (string, error) {
	var role string
	err := r.pool.QueryRow(ctx, `SELECT m.role FROM members m
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1 AND LOWER(u.email) = LOWER($2)`,
		orgID, email).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

// UpdateMemberRole changes a member's role.
func (r *Repository) UpdateMemberRole(ctx context.Context, orgID, userID uuid.UUID, role string) error {
	_, err := r.pool.Exec(ctx, `UPDATE members SET role = $3, updated_at = NOW()
		WHERE organization_id = $1 AND user_id = $2`, orgID, userID, role)
	return err
}

// RemoveMember removes a user from an organization.
func (r *Repository) RemoveMember(ctx context.Context, orgID, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM members WHERE organization_id = $1 AND user_id = $2`, orgID, userID)
	return err
}

// CountOwners returns the number of owners in the organization. Used for
// last-owner protection.
func (r *Repository) CountOwners(ctx context.Context, orgID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM members WHERE organization_id = $1 AND role = $2`,
		orgID, models.OrgRoleOwner).Scan(&n)
	return n, err
}

// CountMembers returns the number of members in the organization. Used
// for plan seat limits.
func (r *Repository) CountMembers(ctx context.Context, orgID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM members WHERE organization_id = $1`, orgID).Scan(&n)
	return n, err
}

// MemberDetail is a member with user details for listings.
type MemberDetail struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Role     string    `json:"role"`
	AddedAt  time.Time `json:"added_at"`
}

// ListMembers returns members of an organization (join members + users).
func (r *Repository) ListMembers(ctx context.Context, orgID uuid.UUID) ([]MemberDetail, error) {
	const q = `SELECT m.id, m.user_id, u.email, COALESCE(u.full_name, ''), m.role, m.created_at
		FROM members m
		INNER JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1
		ORDER BY m.created_at ASC`
	rows, err := r.pool.Query(ctx, q, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []MemberDetail
	for rows.Next() {
		var m MemberDetail
		if err := rows.Scan(&m.ID, &m.UserID, &m.Email, &m.FullName, &m.Role, &m.AddedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
