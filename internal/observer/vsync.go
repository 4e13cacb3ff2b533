package observer

import (
	"context"
	"sync"
	"time"

	"github.com/bnema/hwcplane/internal/logger"
)

// DefaultVsyncPeriod is used until a display config sets the real period
const DefaultVsyncPeriod = time.Second / 60

var epoch = time.Now()

// Monotonic returns nanoseconds on the monotonic clock
func Monotonic() int64 {
	return int64(time.Since(epoch))
}

// VsyncFunc receives a vsync event for a pipe with a monotonic timestamp
type VsyncFunc func(pipe int, timestamp int64)

// SoftVsyncObserver generates vsync events from a timer for pipes without a
// hardware vsync interrupt. It is idle until enabled.
type SoftVsyncObserver struct {
	mu       sync.Mutex
	pipe     int
	period   time.Duration
	enabled  bool
	callback VsyncFunc
	wake     chan struct{}
}

// NewSoftVsyncObserver creates a disabled observer for pipe
func NewSoftVsyncObserver(pipe int, callback VsyncFunc) *SoftVsyncObserver {
	return &SoftVsyncObserver{
		pipe:     pipe,
		period:   DefaultVsyncPeriod,
		callback: callback,
		wake:     make(chan struct{}, 1),
	}
}

// Pipe returns the pipe the observer reports for
func (v *SoftVsyncObserver) Pipe() int {
	return v.pipe
}

// Control enables or disables event delivery
func (v *SoftVsyncObserver) Control(enabled bool) {
	v.mu.Lock()
	changed := v.enabled != enabled
	v.enabled = enabled
	v.mu.Unlock()

	if changed {
		logger.Debugf("Soft vsync pipe %d enabled=%v", v.pipe, enabled)
		v.kick()
	}
}

// Enabled reports whether events are being delivered
func (v *SoftVsyncObserver) Enabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.enabled
}

// SetPeriod changes the event interval. Non-positive values are ignored.
func (v *SoftVsyncObserver) SetPeriod(period time.Duration) {
	if period <= 0 {
		return
	}
	v.mu.Lock()
	v.period = period
	v.mu.Unlock()
	v.kick()
}

// Period returns the current event interval
func (v *SoftVsyncObserver) Period() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.period
}

func (v *SoftVsyncObserver) kick() {
	select {
	case v.wake <- struct{}{}:
	default:
	}
}

// Run delivers events until ctx is done
func (v *SoftVsyncObserver) Run(ctx context.Context) error {
	for {
		v.mu.Lock()
		enabled, period := v.enabled, v.period
		v.mu.Unlock()

		if !enabled {
			select {
			case <-ctx.Done():
				return nil
			case <-v.wake:
				continue
			}
		}

		ticker := time.NewTicker(period)
		if !v.tick(ctx, ticker) {
			ticker.Stop()
			return nil
		}
		ticker.Stop()
	}
}

// tick delivers events at a fixed period until the settings change. It
// returns false once ctx is done.
func (v *SoftVsyncObserver) tick(ctx context.Context, ticker *time.Ticker) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-v.wake:
			return true
		case <-ticker.C:
			if !v.Enabled() {
				return true
			}
			if v.callback != nil {
				v.callback(v.pipe, Monotonic())
			}
		}
	}
}
