package middleware

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
)

// MaxMessageLength is the longest message accepted, ten SMS segments.
const MaxMessageLength = 1600

// ValidateMessageContent validates message content. Blank text is left to
// the session manager, which owns that rule.
func ValidateMessageContent(content string) error {
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if id == "" || len(id) > 64 {
		return errors.New("invalid conversation ID")
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune(".*>/", r) {
			return errors.New("invalid conversation ID")
		}
	}
	return nil
}

// ValidatePhoneNumber accepts E.164-style numbers: an optional leading +
// followed by 7 to 15 digits.
func ValidatePhoneNumber(phone string) error {
	digits := strings.TrimPrefix(strings.TrimSpace(phone), "+")
	if len(digits) < 7 || len(digits) > 15 {
		return errors.New("invalid phone number")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return errors.New("invalid phone number")
		}
	}
	return nil
}

// ParseStatusFilter parses the status query parameter of the inbox list.
func ParseStatusFilter(status string) (model.Status, error) {
	s := model.Status(strings.ToLower(strings.TrimSpace(status)))
	if s == "" || s == model.StatusAll || s.Valid() {
		return s, nil
	}
	return "", errors.New("invalid status filter")
}
