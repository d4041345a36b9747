package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService("test-secret", 15)
	userID := uuid.New()

	token, err := svc.Generate(userID, "a@b.com", "user")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "a@b.com", claims.Email)
	assert.Equal(t, "user", claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a", 15).Generate(uuid.New(), "a@b.com", "user")
	require.NoError(t, err)

	_, err = NewJWTService("secret-b", 15).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	svc := NewJWTService("test-secret", -1)
	token, err := svc.Generate(uuid.New(), "a@b.com", "user")
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc := NewJWTService("test-secret", 15)
	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		_, err := svc.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}
