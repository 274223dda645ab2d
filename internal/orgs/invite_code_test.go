package orgs

import (
	"testing"

	"github.com/crewdeck/crewdeck/internal/validation"
	"github.com/stretchr/testify/require"
)

func TestGenerateInviteCode_Format(t *testing.T) {
	seen := make(map[string]bool)

	for i := 0; i < 100; i++ {
		code, err := GenerateInviteCode()
		require.NoError(t, err)
		require.Len(t, code, InviteCodeLength)
		require.NoError(t, validation.ValidateInviteCode(code))
		seen[code] = true
	}

	// 100 draws from a 36^6 space should essentially never collide.
	require.Greater(t, len(seen), 95)
}
