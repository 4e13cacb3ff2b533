// Package commit is the boundary to the code that programs the display
// hardware. A composition cycle is framed by Begin and End, with one Commit
// per display in between.
package commit

import (
	"github.com/bnema/hwcplane/internal/logger"
	"github.com/bnema/hwcplane/internal/plane"
)

// PlaneUpdate is the state one plane must show after the cycle
type PlaneUpdate struct {
	Plane   plane.ID
	Layer   int
	Enabled bool
	Slot    int
	ZOrder  int
	Handle  uint64
}

// Context receives the plane states of each composition cycle
type Context interface {
	Begin(cycle uint64) error
	Commit(pipe int, updates []PlaneUpdate) error
	End() error
}

// LogContext only logs what would be programmed
type LogContext struct{}

func (LogContext) Begin(cycle uint64) error {
	logger.Debug("commit begin", "cycle", cycle)
	return nil
}

func (LogContext) Commit(pipe int, updates []PlaneUpdate) error {
	for _, u := range updates {
		logger.Debug("commit plane",
			"pipe", pipe, "plane", u.Plane, "layer", u.Layer,
			"slot", u.Slot, "zorder", u.ZOrder, "handle", u.Handle)
	}
	return nil
}

func (LogContext) End() error {
	return nil
}
