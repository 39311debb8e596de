package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNameLength bounds user, channel and topic names, in runes.
const MaxNameLength = 64

// MaxPayloadLength bounds message payloads, in bytes.
const MaxPayloadLength = 16 * 1024

// ValidateName validates a user, channel or topic name. Names are
// case-sensitive and may contain any printable character, but must not
// start or end with whitespace.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("is required")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("must be valid UTF-8")
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("must not start or end with whitespace")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("is too long (max %d characters)", MaxNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("contains control characters")
		}
	}
	return nil
}

// ValidatePayload validates a message payload. Empty payloads are allowed.
func ValidatePayload(payload string) error {
	if !utf8.ValidString(payload) {
		return fmt.Errorf("must be valid UTF-8")
	}
	if len(payload) > MaxPayloadLength {
		return fmt.Errorf("is too long (max %d bytes)", MaxPayloadLength)
	}
	return nil
}

// ValidateURL validates a server URL
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
