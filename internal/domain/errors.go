package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation failed")
	ErrConfiguration  = errors.New("configuration error")
	ErrCompositing    = errors.New("compositing failed")
	ErrGeneration     = errors.New("generation failed")
	ErrQuotaExceeded  = errors.New("quota exceeded")
	ErrInvalidImage   = errors.New("invalid image")
	ErrRunInProgress  = errors.New("run already in progress")
	ErrMissingSources = errors.New("missing source images")
)

// ValidationError reports missing or malformed caller input. It is raised
// before any remote call is attempted.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConfigurationError reports that no usable credential (or other required
// setting) is available.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// CompositingError wraps an image decode, draw or encode failure.
type CompositingError struct {
	Op  string
	Err error
}

func (e *CompositingError) Error() string {
	return fmt.Sprintf("compositor: %s: %v", e.Op, e.Err)
}

func (e *CompositingError) Unwrap() error { return e.Err }

func (e *CompositingError) Is(target error) bool { return target == ErrCompositing }

// GenerationCause classifies why a generation call failed.
type GenerationCause string

const (
	CauseBlocked          GenerationCause = "blocked"
	CauseEmptyResponse    GenerationCause = "empty_response"
	CauseNoImage          GenerationCause = "no_image"
	CauseProviderRejected GenerationCause = "provider_rejected"
	CauseNetwork          GenerationCause = "network"
	CauseCredential       GenerationCause = "credential"
	CauseQuota            GenerationCause = "quota"
)

// GenerationError is returned by the generation client and its providers.
// Quota failures are a sub-case of provider rejections and match
// ErrQuotaExceeded.
type GenerationError struct {
	Op      string
	Cause   GenerationCause
	Status  int
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Cause)
	}
	if e.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool {
	switch target {
	case ErrGeneration:
		return true
	case ErrQuotaExceeded:
		return e.Cause == CauseQuota
	}
	return false
}

// IsQuotaExceeded reports whether err signals an exhausted provider quota.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

// GenerationCauseOf returns the cause of the first GenerationError in err's
// chain, or the empty string.
func GenerationCauseOf(err error) GenerationCause {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Cause
	}
	return ""
}
