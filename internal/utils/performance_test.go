package utils

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestTimer_StopLogsOperation(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)

	timer := NewTimer("solve", log)
	time.Sleep(time.Millisecond)
	d := timer.Stop()

	assert.GreaterOrEqual(t, d, time.Millisecond)
	assert.GreaterOrEqual(t, timer.Elapsed(), d)
	assert.Contains(t, buf.String(), `"operation":"solve"`)
}
