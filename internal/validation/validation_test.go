package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeInviteCode(t *testing.T) {
	require.Equal(t, "ABC123", NormalizeInviteCode("  abc123 "))
	require.Equal(t, "XYZ999", NormalizeInviteCode("xYz999"))
}

func TestValidateInviteCode(t *testing.T) {
	require.NoError(t, ValidateInviteCode("ABC123"))
	require.NoError(t, ValidateInviteCode("000000"))

	require.ErrorIs(t, ValidateInviteCode(""), ErrInviteCodeRequired)
	require.ErrorIs(t, ValidateInviteCode("abc123"), ErrInvalidInviteCode)
	require.ErrorIs(t, ValidateInviteCode("ABC12"), ErrInvalidInviteCode)
	require.ErrorIs(t, ValidateInviteCode("ABC1234"), ErrInvalidInviteCode)
	require.ErrorIs(t, ValidateInviteCode("ABC-12"), ErrInvalidInviteCode)
}

func TestValidateName(t *testing.T) {
	require.NoError(t, ValidateName("Platform Team"))

	require.ErrorIs(t, ValidateName("   "), ErrNameRequired)
	require.ErrorIs(t, ValidateName(strings.Repeat("x", 201)), ErrNameTooLong)
}
