package models

import (
	"time"

	"github.com/google/uuid"
)

// PlatformRole represents a user's role in the platform (not within an org).
type PlatformRole string

const (
	PlatformRoleAdmin PlatformRole = "admin"
	PlatformRoleUser  PlatformRole = "user"
)

// User represents a platform user.
type User struct {
	ID        uuid.UUID    `json:"id"`
	Email     string       `json:"email"`
	Password  string       `json:"-"`
	FullName  string       `json:"full_name"`
	Role      PlatformRole `json:"role"`
	AvatarURL string       `json:"avatar_url,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID        uuid.UUID    `json:"id"`
	Email     string       `json:"email"`
	FullName  string       `json:"full_name"`
	Role      PlatformRole `json:"role"`
	AvatarURL string       `json:"avatar_url,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Role:      u.Role,
		AvatarURL: u.AvatarURL,
		CreatedAt: u.CreatedAt,
	}
}

// Account links a user to an authentication provider. The "credential"
// provider is the built-in email/password account; oauth providers store
// the provider's account ID.
type Account struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	Provider          string    `json:"provider"`
	ProviderAccountID string    `json:"provider_account_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// AccountProviderCredential is the built-in email/password provider.
const AccountProviderCredential = "credential"
