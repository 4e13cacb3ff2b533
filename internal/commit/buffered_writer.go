package commit

import (
	"io"
	"sync"
	"time"
)

// BufferedWriter batches recorder output and flushes it after maxDelay or
// once maxSize bytes are pending, so recording does not add a write per
// cycle on the composition thread
type BufferedWriter struct {
	w        io.Writer
	buf      []byte
	mu       sync.Mutex
	kick     chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	maxDelay time.Duration
	maxSize  int
	err      error
}

// NewBufferedWriter creates a new buffered writer that automatically flushes
func NewBufferedWriter(w io.Writer, maxDelay time.Duration, maxSize int) *BufferedWriter {
	bw := &BufferedWriter{
		w:        w,
		buf:      make([]byte, 0, maxSize),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		maxDelay: maxDelay,
		maxSize:  maxSize,
	}

	go bw.flushLoop()
	return bw
}

// Write implements io.Writer. A failed background flush is reported by the
// next Write.
func (bw *BufferedWriter) Write(p []byte) (int, error) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.err != nil {
		return 0, bw.err
	}
	if len(bw.buf)+len(p) > bw.maxSize {
		if err := bw.flushLocked(); err != nil {
			return 0, err
		}
	}

	bw.buf = append(bw.buf, p...)

	// first pending bytes arm the timer
	if len(bw.buf) == len(p) {
		select {
		case bw.kick <- struct{}{}:
		default:
		}
	}
	return len(p), nil
}

// Flush forces an immediate flush of the buffer
func (bw *BufferedWriter) Flush() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.flushLocked()
}

// flushLocked flushes the buffer (caller must hold mutex)
func (bw *BufferedWriter) flushLocked() error {
	if len(bw.buf) == 0 {
		return bw.err
	}

	_, err := bw.w.Write(bw.buf)
	bw.buf = bw.buf[:0]
	if err != nil && bw.err == nil {
		bw.err = err
	}

	if flusher, ok := bw.w.(interface{ Flush() error }); ok {
		if ferr := flusher.Flush(); ferr != nil && bw.err == nil {
			bw.err = ferr
		}
	}
	return bw.err
}

func (bw *BufferedWriter) flushLoop() {
	defer close(bw.stopped)

	timer := time.NewTimer(bw.maxDelay)
	timer.Stop()

	for {
		select {
		case <-bw.done:
			timer.Stop()
			return
		case <-bw.kick:
			timer.Reset(bw.maxDelay)
		case <-timer.C:
			_ = bw.Flush()
		}
	}
}

// Close stops the flush loop and writes out what is pending
func (bw *BufferedWriter) Close() error {
	close(bw.done)
	<-bw.stopped
	return bw.Flush()
}
