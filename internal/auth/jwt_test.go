package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCreateToken_AndValidateToken(t *testing.T) {
	userID := uuid.New()
	orgID := uuid.New()
	secret := "test-secret"

	token, err := CreateToken(userID, "user@example.com", "ADMIN", &orgID, secret, 7)
	require.NoError(t, err)

	claims, err := ValidateToken(token, secret)
	require.NoError(t, err)
	require.Equal(t, userID, claims.UserID)
	require.Equal(t, userID.String(), claims.Subject)
	require.Equal(t, "user@example.com", claims.Email)
	require.Equal(t, "ADMIN", claims.Role)
	require.NotNil(t, claims.OrgID)
	require.Equal(t, orgID, *claims.OrgID)
	require.NotNil(t, claims.ExpiresAt)
}

func TestCreateToken_NoOrganization(t *testing.T) {
	userID := uuid.New()

	token, err := CreateToken(userID, "user@example.com", "MEMBER", nil, "secret", 7)
	require.NoError(t, err)

	claims, err := ValidateToken(token, "secret")
	require.NoError(t, err)
	require.Nil(t, claims.OrgID)
	require.Equal(t, "MEMBER", claims.Role)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	userID := uuid.New()
	token, err := CreateToken(userID, "user@example.com", "MEMBER", nil, "secret-a", 7)
	require.NoError(t, err)

	_, err = ValidateToken(token, "secret-b")
	require.Error(t, err)
}

func TestValidateToken_Expired(t *testing.T) {
	userID := uuid.New()
	token, err := CreateToken(userID, "user@example.com", "MEMBER", nil, "secret", -1)
	require.NoError(t, err)

	_, err = ValidateToken(token, "secret")
	require.Error(t, err)
}
