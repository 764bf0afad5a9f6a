package monitor

import "time"

// rttAlpha weights the newest sample in the moving average.
const rttAlpha = 0.2

// rttMonitor keeps the exponentially weighted average round trip time.
// Only the monitor goroutine touches it.
type rttMonitor struct {
	avg time.Duration
	set bool
}

func (r *rttMonitor) add(sample time.Duration) time.Duration {
	if !r.set {
		r.avg = sample
		r.set = true
		return r.avg
	}
	r.avg = time.Duration(rttAlpha*float64(sample) + (1-rttAlpha)*float64(r.avg))
	return r.avg
}

func (r *rttMonitor) reset() {
	r.avg = 0
	r.set = false
}
