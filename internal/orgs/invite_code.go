package orgs

import (
	"crypto/rand"
	"fmt"
)

const (
	// InviteCodeLength is the number of characters in an invite code
	InviteCodeLength = 6

	// inviteCodeAlphabet excludes nothing: codes are short-lived per org and
	// matched case-insensitively after uppercase normalization.
	inviteCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateInviteCode generates a random organization invite code.
// Codes are stored uppercase; resolution uppercases the input first.
func GenerateInviteCode() (string, error) {
	buf := make([]byte, InviteCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	code := make([]byte, InviteCodeLength)
	for i, b := range buf {
		code[i] = inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)]
	}

	return string(code), nil
}
