// Package credentials resolves which Gemini API key a call should use.
package credentials

import (
	"strings"

	"github.com/KPaul404/Virtual-try-on/internal/domain"
)

// Source holds the process-wide default credential. The zero value has no
// default.
type Source struct {
	defaultKey string
}

func NewSource(defaultKey string) Source {
	return Source{defaultKey: strings.TrimSpace(defaultKey)}
}

// HasDefault reports whether a process-wide key is configured.
func (s Source) HasDefault() bool {
	return s.defaultKey != ""
}

// Resolve returns explicit when set, otherwise the default key.
func (s Source) Resolve(explicit string) (string, error) {
	return Resolve(explicit, s.defaultKey)
}

// Resolve applies the precedence explicit > fallback. It fails with a
// ConfigurationError when neither is usable.
func Resolve(explicit, fallback string) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, nil
	}
	if key := strings.TrimSpace(fallback); key != "" {
		return key, nil
	}
	return "", &domain.ConfigurationError{
		Message: "GEMINI_API_KEY is not set and no session key was provided",
	}
}

// Mask hides all but the last four characters of key for logging.
func Mask(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
