package hwc

import (
	"fmt"

	"github.com/bnema/hwcplane/internal/commit"
	"github.com/bnema/hwcplane/internal/display"
	"github.com/bnema/hwcplane/internal/frame"
	"github.com/bnema/hwcplane/internal/logger"
)

// CycleFunc is called after every simulated composition cycle with the
// frames that were prepared, composition types rewritten
type CycleFunc func(cycle uint64, frames map[int]*frame.Frame)

// RunScenario drives the composer through a scripted scenario. Hotplug
// entries flip connectors on backend, which must support manual hotplug,
// before the cycle runs. A pipe without a frame in a cycle drops its list.
func (h *Hwcomposer) RunScenario(s *frame.Scenario, backend display.Backend, ctx commit.Context, onCycle CycleFunc) error {
	for ci, c := range s.Cycles {
		for pipe, connected := range c.Hotplug {
			d := h.Device(pipe)
			if d == nil {
				return fmt.Errorf("cycle %d: hotplug on unknown pipe %d", ci, pipe)
			}
			if err := display.SetConnected(backend, d.Name(), connected); err != nil {
				return fmt.Errorf("cycle %d: %w", ci, err)
			}
			if err := h.Hotplug(pipe); err != nil {
				logger.Warnf("Cycle %d: hotplug on pipe %d: %v", ci, pipe, err)
			}
		}

		for pass := 0; pass < c.Repeat; pass++ {
			frames := make(map[int]*frame.Frame, len(c.Frames))
			for pipe, f := range c.Frames {
				cp := f.Clone()
				if pass > 0 {
					cp.GeometryChanged = false
				}
				frames[pipe] = cp
			}

			h.Prepare(frames)
			if err := h.Commit(ctx); err != nil {
				return fmt.Errorf("cycle %d pass %d: %w", ci, pass, err)
			}
			if onCycle != nil {
				onCycle(h.Cycle(), frames)
			}
		}
	}
	return nil
}
