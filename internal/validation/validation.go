package validation

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrInviteCodeRequired is returned when no invite code was supplied
	ErrInviteCodeRequired = errors.New("invite code is required")

	// ErrInvalidInviteCode is returned when an invite code doesn't match the required format
	ErrInvalidInviteCode = errors.New("invalid invite code format")

	// ErrNameRequired is returned when a required name field is empty
	ErrNameRequired = errors.New("name is required")

	// ErrNameTooLong is returned when a name exceeds the storage limit
	ErrNameTooLong = errors.New("name must be at most 200 characters")

	// inviteCodeRegex validates normalized invite codes: 6 characters A-Z / 0-9
	inviteCodeRegex = regexp.MustCompile(`^[A-Z0-9]{6}$`)
)

// NormalizeInviteCode uppercases and trims an invite code. Codes are stored
// uppercase and resolved case-insensitively.
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateInviteCode validates a normalized invite code.
func ValidateInviteCode(code string) error {
	if code == "" {
		return ErrInviteCodeRequired
	}
	if !inviteCodeRegex.MatchString(code) {
		return ErrInvalidInviteCode
	}
	return nil
}

// ValidateName validates an organization, project, or task display name.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}
	if len(name) > 200 {
		return ErrNameTooLong
	}
	return nil
}
