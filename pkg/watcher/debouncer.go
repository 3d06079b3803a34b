package watcher

import (
	"time"

	"github.com/ritzau/tswatch/pkg/host"
)

// DefaultDebounce is the quiet period before a rebuild starts.
const DefaultDebounce = 250 * time.Millisecond

// Debouncer holds at most one pending callback. Arming it again cancels
// the pending one, so only the last event of a burst decides the timing.
type Debouncer struct {
	sys         host.System
	quietPeriod time.Duration
	timer       host.Timer
}

// NewDebouncer creates a debouncer scheduling through sys.
func NewDebouncer(sys host.System, quietPeriod time.Duration) *Debouncer {
	if quietPeriod <= 0 {
		quietPeriod = DefaultDebounce
	}
	return &Debouncer{sys: sys, quietPeriod: quietPeriod}
}

// Arm schedules fn after the quiet period, replacing any pending call.
func (d *Debouncer) Arm(fn func()) {
	d.Cancel()
	var t host.Timer
	t = d.sys.SetTimeout(func() {
		if d.timer == t {
			d.timer = nil
		}
		fn()
	}, d.quietPeriod)
	d.timer = t
}

// Cancel drops the pending call, if any.
func (d *Debouncer) Cancel() {
	if d.timer != nil {
		d.sys.ClearTimeout(d.timer)
		d.timer = nil
	}
}

// Pending reports whether a call is scheduled.
func (d *Debouncer) Pending() bool {
	return d.timer != nil
}
