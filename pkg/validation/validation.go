package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// StreamNameRegex matches the names media servers accept for a stream.
	StreamNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

	// SubjectRegex matches token subjects.
	SubjectRegex = regexp.MustCompile(`^[a-zA-Z0-9_.@-]+$`)
)

// ValidateStreamName validates a published stream name
func ValidateStreamName(name string) error {
	if name == "" {
		return fmt.Errorf("stream name is required")
	}
	if len(name) > 256 {
		return fmt.Errorf("stream name is too long (max 256 characters)")
	}
	if !StreamNameRegex.MatchString(name) {
		return fmt.Errorf("stream name contains invalid characters (only letters, numbers, _, -, . allowed)")
	}
	return nil
}

// ValidateParticipantName validates a display name. Empty is allowed.
func ValidateParticipantName(name string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("participant name is not valid UTF-8")
	}
	if err := ValidateStringLength(name, 0, 100, "participant name"); err != nil {
		return err
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("participant name contains control characters")
		}
	}
	return nil
}

// ValidateSubject validates the subject of an API token
func ValidateSubject(subject string) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return fmt.Errorf("subject is required")
	}
	if len(subject) > 100 {
		return fmt.Errorf("subject is too long (max 100 characters)")
	}
	if !SubjectRegex.MatchString(subject) {
		return fmt.Errorf("subject contains invalid characters")
	}
	return nil
}

// ValidateURL checks that urlStr is absolute with one of the given schemes.
func ValidateURL(urlStr string, schemes ...string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	if len(schemes) == 0 {
		return nil
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return nil
		}
	}
	return fmt.Errorf("invalid URL scheme %q (must be %s)", u.Scheme, strings.Join(schemes, ", "))
}

// ValidateStringLength validates string length in runes
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
