package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRTTAverage(t *testing.T) {
	var r rttMonitor

	assert.Equal(t, 10*time.Millisecond, r.add(10*time.Millisecond), "first sample is taken as is")
	assert.Equal(t, 12*time.Millisecond, r.add(20*time.Millisecond))
	assert.Equal(t, 9600*time.Microsecond, r.add(0))

	r.reset()
	assert.Equal(t, 50*time.Millisecond, r.add(50*time.Millisecond))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "scanning", Scanning.String())
	assert.Equal(t, "stopped", Stopped.String())
}
