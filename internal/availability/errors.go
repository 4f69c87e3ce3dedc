package availability

import "errors"

var (
	// ErrUpstreamUnavailable means the busy-period source failed, timed out or
	// returned data that cannot be trusted. No partial result accompanies it.
	ErrUpstreamUnavailable = errors.New("busy-period source unavailable")

	// ErrInvalidConfiguration means the working-hours policy cannot produce slots.
	ErrInvalidConfiguration = errors.New("invalid availability configuration")

	// ErrAmbiguousLocalTime marks a local wall time that falls into a DST gap
	// or overlap. Affected candidates are skipped.
	ErrAmbiguousLocalTime = errors.New("ambiguous local time")

	// ErrInvalidRequest means the caller passed an unknown lesson type or a bad range.
	ErrInvalidRequest = errors.New("invalid availability request")
)
