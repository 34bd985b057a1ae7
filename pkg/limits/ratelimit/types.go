package ratelimit

import "time"

// Window identifies one rate-limit time window.
type Window string

const (
	// WindowSecond is the per-second window.
	WindowSecond Window = "second"

	// WindowMinute is the per-minute window.
	WindowMinute Window = "minute"

	// WindowHour is the per-hour window.
	WindowHour Window = "hour"
)

// Duration returns the window's length.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowSecond:
		return time.Second
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	default:
		return 0
	}
}

// ConsumptionResult contains the result of a rate limit consumption.
type ConsumptionResult struct {
	// Allowed indicates if the request is permitted.
	Allowed bool

	// Window is the window being reported: on denial the tightest
	// exhausted window, on success the tightest configured one.
	Window Window

	// Limit is the configured ceiling for the reported window.
	Limit int64

	// Remaining is the number of whole tokens left in that window.
	Remaining int64

	// RetryAfter is how long until the next token is available.
	// Zero when a token is available now.
	RetryAfter time.Duration

	// Reset is when the reported window has a token available again.
	Reset time.Time
}

// ResetSeconds returns RetryAfter rounded up to whole seconds, for the
// X-RateLimit-Reset and Retry-After headers. A denial always reports at
// least one second so clients never busy-loop on zero.
func (r *ConsumptionResult) ResetSeconds() int64 {
	if r.RetryAfter <= 0 {
		if r.Allowed {
			return 0
		}
		return 1
	}

	secs := int64((r.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
