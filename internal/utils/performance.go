package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// SlowOperationThreshold is the duration above which Timer logs at warn level.
const SlowOperationThreshold = 10 * time.Second

// Timer measures the duration of a named operation and logs it on Stop.
type Timer struct {
	start time.Time
	name  string
	log   zerolog.Logger
}

// NewTimer creates a new timer with the given name
func NewTimer(name string, log zerolog.Logger) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
		log:   log,
	}
}

// Elapsed returns the time since the timer started without logging.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Stop logs the duration and returns it.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)

	event := t.log.Debug()
	if duration > SlowOperationThreshold {
		event = t.log.Warn()
	}
	event.
		Str("operation", t.name).
		Dur("duration", duration).
		Msg("Performance measurement")

	return duration
}
