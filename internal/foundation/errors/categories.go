package errors

import "maps"

// ErrorCategory groups failures by what went wrong and where the user should look.
type ErrorCategory string

const (
	// CategoryConfig represents malformed or missing configuration values.
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"

	// CategoryTransform marks a stage whose transform reported failure (compiler
	// diagnostics, bundler exit status, malformed markup).
	CategoryTransform  ErrorCategory = "transform"
	CategoryFileSystem ErrorCategory = "filesystem"
	CategoryBuild      ErrorCategory = "build"

	// CategoryUpstream marks a stage that did not run because a dependency failed.
	// It is informational and never reported as the headline failure of a run.
	CategoryUpstream ErrorCategory = "upstream"

	// CategoryNetwork covers the dev server listener and NATS.
	CategoryNetwork ErrorCategory = "network"

	// CategoryEventStore represents run history persistence failures.
	CategoryEventStore ErrorCategory = "eventstore"

	CategoryRuntime  ErrorCategory = "runtime"
	CategoryInternal ErrorCategory = "internal"
)

// exitCodes maps categories to process exit codes. Unlisted categories exit 1.
var exitCodes = map[ErrorCategory]int{
	CategoryValidation: 2, // invalid usage
	CategoryConfig:     7,
	CategoryNetwork:    8,
	CategoryEventStore: 8,
	CategoryInternal:   10,
	CategoryTransform:  11, // the build itself failed
	CategoryFileSystem: 11,
	CategoryBuild:      11,
	CategoryUpstream:   11,
	CategoryRuntime:    12,
}

// ExitCode is the process exit status for a failure in category c.
func (c ErrorCategory) ExitCode() int {
	if code, ok := exitCodes[c]; ok {
		return code
	}
	return 1
}

// ErrorSeverity indicates the impact level of an error.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops the session
	SeverityError   ErrorSeverity = "error"   // Fails the current run
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"
)

// RetryStrategy says what, if anything, makes the failure go away.
type RetryStrategy string

const (
	RetryNever      RetryStrategy = "never"
	RetryBackoff    RetryStrategy = "backoff"   // transient; retry after a delay
	RetryOnChange   RetryStrategy = "on_change" // the next source change reruns the stage
	RetryUserAction RetryStrategy = "user"      // fix the config or the environment
)

// ErrorContext holds structured key/value details attached to an error.
type ErrorContext map[string]any

// Set adds or updates a value, allocating the map when c is nil.
func (c ErrorContext) Set(key string, value any) ErrorContext {
	if c == nil {
		c = make(ErrorContext)
	}
	c[key] = value
	return c
}

// Get retrieves a context value.
func (c ErrorContext) Get(key string) (any, bool) {
	value, exists := c[key]
	return value, exists
}

// Merge returns a new context holding both, other taking precedence.
func (c ErrorContext) Merge(other ErrorContext) ErrorContext {
	result := make(ErrorContext, len(c)+len(other))
	maps.Copy(result, c)
	maps.Copy(result, other)
	return result
}
