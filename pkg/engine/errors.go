package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the public outcome taxonomy of a run. It is stable across
// adapter versions; adapter-specific codes are mapped onto it by Classify.
type Kind string

const (
	// KindSuccess indicates the step or run completed.
	KindSuccess Kind = "success"

	// KindConfiguration indicates missing or invalid configuration.
	// Examples: no config file, malformed JSON, invalid port.
	KindConfiguration Kind = "configuration_error"

	// KindExternalService indicates a producer or remote API could not be
	// reached or identified itself incorrectly.
	KindExternalService Kind = "external_service_error"

	// KindStorage indicates a filesystem or embedded database failure.
	// Examples: permission denied, database locked, disk full.
	KindStorage Kind = "storage_error"

	// KindUnclassified indicates a failure with no recognizable cause.
	KindUnclassified Kind = "unclassified"
)

// Public exit codes returned by the tokei process.
const (
	ExitSuccess         = 0
	ExitConfiguration   = 1
	ExitExternalService = 2
	ExitStorage         = 3
	ExitUnclassified    = 99
)

// ExitCode returns the public process exit code for the kind. Unknown
// values map to ExitUnclassified.
func (k Kind) ExitCode() int {
	switch k {
	case KindSuccess:
		return ExitSuccess
	case KindConfiguration:
		return ExitConfiguration
	case KindExternalService:
		return ExitExternalService
	case KindStorage:
		return ExitStorage
	default:
		return ExitUnclassified
	}
}

// Validate checks if the kind is one of the known values.
func (k Kind) Validate() error {
	switch k {
	case KindSuccess, KindConfiguration, KindExternalService, KindStorage, KindUnclassified:
		return nil
	default:
		return fmt.Errorf("invalid outcome kind: %s", k)
	}
}

// RunError is a classified failure of one run step.
type RunError struct {
	// Kind is the public classification.
	Kind Kind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Step is the orchestrator state the error occurred in, if known.
	Step State `json:"step,omitempty"`

	// Producer names the producer involved, if any.
	Producer string `json:"producer,omitempty"`

	// AdapterCode is the raw exit code of the external process, if any.
	AdapterCode *int `json:"adapter_code,omitempty"`

	// Stderr is the diagnostic text captured from the external process.
	Stderr string `json:"stderr,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *RunError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *RunError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is. Two run errors are
// equal when they share a kind.
func (e *RunError) Is(target error) bool {
	t, ok := target.(*RunError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *RunError {
	return &RunError{Kind: KindConfiguration, Message: message, Err: err}
}

// NewExternalServiceError creates a new external service error.
func NewExternalServiceError(message string, err error) *RunError {
	return &RunError{Kind: KindExternalService, Message: message, Err: err}
}

// NewStorageError creates a new storage error.
func NewStorageError(message string, err error) *RunError {
	return &RunError{Kind: KindStorage, Message: message, Err: err}
}

// NewUnclassifiedError creates a new unclassified error.
func NewUnclassifiedError(message string, err error) *RunError {
	return &RunError{Kind: KindUnclassified, Message: message, Err: err}
}

// NewProcessError classifies a failed external process from its exit code
// and captured stderr.
func NewProcessError(message string, code int, stderr string) *RunError {
	kind := Classify(code, stderr)
	if kind == KindSuccess {
		// A zero exit reported as a failure still failed.
		kind = KindUnclassified
	}
	c := code
	return &RunError{
		Kind:        kind,
		Message:     message,
		AdapterCode: &c,
		Stderr:      strings.TrimSpace(stderr),
	}
}

// WithStep records the orchestrator state the error occurred in.
func (e *RunError) WithStep(step State) *RunError {
	e.Step = step
	return e
}

// WithProducer records the producer involved.
func (e *RunError) WithProducer(name string) *RunError {
	e.Producer = name
	return e
}

// WithStderr attaches captured diagnostic text.
func (e *RunError) WithStderr(stderr string) *RunError {
	e.Stderr = strings.TrimSpace(stderr)
	return e
}

// KindOf returns the classification of err. A nil error is a success;
// an error without a classification is unclassified.
func KindOf(err error) Kind {
	if err == nil {
		return KindSuccess
	}
	var e *RunError
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnclassified
}

// IsConfiguration returns true if the error is classified as configuration.
func IsConfiguration(err error) bool {
	return err != nil && KindOf(err) == KindConfiguration
}

// IsExternalService returns true if the error is classified as external service.
func IsExternalService(err error) bool {
	return err != nil && KindOf(err) == KindExternalService
}

// IsStorage returns true if the error is classified as storage.
func IsStorage(err error) bool {
	return err != nil && KindOf(err) == KindStorage
}

func asRunError(err error) (*RunError, bool) {
	var e *RunError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
