package observer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHotplugObserver(t *testing.T) {
	root := t.TempDir()
	hdmi := filepath.Join(root, "card0-HDMI-A-1", "status")
	other := filepath.Join(root, "card0-HDMI-A-1", "enabled")
	require.NoError(t, os.MkdirAll(filepath.Dir(hdmi), 0755))
	require.NoError(t, os.WriteFile(hdmi, []byte("disconnected\n"), 0644))

	h := NewHotplugObserver(map[string]int{hdmi: 1, "": 0})
	assert.Equal(t, 1, h.Len())

	var mu sync.Mutex
	var events []HotplugEvent
	require.NoError(t, h.Start(context.Background(), func(e HotplugEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}))
	defer h.Stop()

	assert.Error(t, h.Start(context.Background(), func(HotplugEvent) {}), "second start must fail")

	require.NoError(t, os.WriteFile(other, []byte("enabled\n"), 0644))
	require.NoError(t, os.WriteFile(hdmi, []byte("connected\n"), 0644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	for _, e := range events {
		assert.Equal(t, 1, e.Pipe)
		assert.Equal(t, hdmi, e.Path)
	}
	mu.Unlock()

	assert.NoError(t, h.Stop())
	assert.NoError(t, h.Stop(), "stop is idempotent")
}

func TestHotplugObserverMissingDirectory(t *testing.T) {
	h := NewHotplugObserver(map[string]int{"/nonexistent/hwcplane/status": 0})
	err := h.Start(context.Background(), func(HotplugEvent) {})
	assert.Error(t, err)
	assert.NoError(t, h.Stop())
}

func TestHotplugObserverRunStopsWithContext(t *testing.T) {
	root := t.TempDir()
	status := filepath.Join(root, "status")
	require.NoError(t, os.WriteFile(status, []byte("connected\n"), 0644))

	h := NewHotplugObserver(map[string]int{status: 0})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.Run(ctx, func(HotplugEvent) {}) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSoftVsyncObserver(t *testing.T) {
	var count atomic.Int32
	var last atomic.Int64
	var monotonic atomic.Bool
	monotonic.Store(true)

	v := NewSoftVsyncObserver(1, func(pipe int, ts int64) {
		if pipe != 1 {
			return
		}
		if ts < last.Load() {
			monotonic.Store(false)
		}
		last.Store(ts)
		count.Add(1)
	})
	assert.Equal(t, DefaultVsyncPeriod, v.Period())
	v.SetPeriod(2 * time.Millisecond)
	v.SetPeriod(0)
	assert.Equal(t, 2*time.Millisecond, v.Period())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, v.Run(ctx))
	}()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), count.Load(), "disabled observer must stay silent")

	v.Control(true)
	assert.True(t, v.Enabled())
	assert.Eventually(t, func() bool { return count.Load() >= 3 }, 2*time.Second, time.Millisecond)

	v.Control(false)
	time.Sleep(10 * time.Millisecond)
	settled := count.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, count.Load(), "no events after disable")
	assert.True(t, monotonic.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMonotonic(t *testing.T) {
	a := Monotonic()
	b := Monotonic()
	assert.GreaterOrEqual(t, b, a)
}
