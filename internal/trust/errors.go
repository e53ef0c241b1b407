package trust

import "errors"

var (
	// ErrMetricsUnavailable indicates the metrics provider could not answer
	// within the configured timeout. Transient; retried with backoff before
	// surfacing.
	ErrMetricsUnavailable = errors.New("metrics unavailable")

	// ErrInvalidWeightConfiguration indicates a category weight table that
	// does not sum to 1.0. Fatal at startup, never silently corrected.
	ErrInvalidWeightConfiguration = errors.New("invalid weight configuration")

	// ErrUnknownAgent indicates no score has ever been committed for the agent.
	ErrUnknownAgent = errors.New("unknown agent")
)
