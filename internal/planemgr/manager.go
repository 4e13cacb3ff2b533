// Package planemgr assigns hardware planes to the layers of a frame.
//
// The manager owns the plane pool and two bitmaps per plane type: free
// planes and reclaimed planes. A reclaimed plane was released by a layer
// list but has not yet been turned off; it may be reassigned right away, and
// DisableReclaimedPlanes folds it back into the free set once it is disabled
// in hardware. All methods are meant to run on the composition thread.
package planemgr

import (
	"errors"
	"fmt"

	"github.com/bnema/hwcplane/internal/caps"
	"github.com/bnema/hwcplane/internal/logger"
	"github.com/bnema/hwcplane/internal/plane"
)

var (
	// ErrInvalidPipe is returned for pipe ids the hardware does not have
	ErrInvalidPipe = errors.New("invalid pipe")
	// ErrNotInitialized is returned when the manager has no planes yet
	ErrNotInitialized = errors.New("plane manager not initialized")
)

// Manager is the plane manager of one display controller
type Manager struct {
	caps *caps.Capability
	pool *plane.Pool

	free      [plane.NumTypes]plane.Mask
	reclaimed [plane.NumTypes]plane.Mask

	initialized bool
}

// New builds a manager for the given hardware generation. Planes are not
// allocated until Initialize.
func New(c *caps.Capability) (*Manager, error) {
	pool, err := plane.NewPool(c.Planes())
	if err != nil {
		return nil, fmt.Errorf("building plane pool for %s: %w", c.Name, err)
	}
	return &Manager{caps: c, pool: pool}, nil
}

// Initialize allocates every plane with bufferCount backing buffers. A
// failure is fatal for bring-up.
func (m *Manager) Initialize(bufferCount int, alloc plane.Allocator) error {
	if m.initialized {
		return nil
	}
	if err := m.pool.Initialize(bufferCount, alloc); err != nil {
		return fmt.Errorf("plane manager: %w", err)
	}
	for _, t := range plane.Types {
		m.free[t] = plane.Full(m.pool.Count(t))
		m.reclaimed[t] = 0
	}
	m.initialized = true

	logger.Debug("plane manager initialized",
		"generation", m.caps.Name,
		"sprites", m.pool.Count(plane.TypeSprite),
		"overlays", m.pool.Count(plane.TypeOverlay),
		"primaries", m.pool.Count(plane.TypePrimary),
		"cursors", m.pool.Count(plane.TypeCursor))
	return nil
}

// Deinitialize disables and releases every plane
func (m *Manager) Deinitialize() {
	if !m.initialized {
		return
	}
	for _, p := range m.pool.All() {
		if err := p.Disable(); err != nil {
			logger.Warn("failed to disable plane", "plane", p.ID(), "err", err)
		}
	}
	m.pool.Deinitialize()
	for _, t := range plane.Types {
		m.free[t] = 0
		m.reclaimed[t] = 0
	}
	m.initialized = false
}

// Initialized reports whether planes are allocated
func (m *Manager) Initialized() bool {
	return m.initialized
}

// Capability returns the hardware description the manager runs with
func (m *Manager) Capability() *caps.Capability {
	return m.caps
}

// Plane returns the plane behind id without taking it
func (m *Manager) Plane(id plane.ID) *plane.Plane {
	return m.pool.Get(id)
}

// States snapshots every plane
func (m *Manager) States() []plane.State {
	all := m.pool.All()
	states := make([]plane.State, len(all))
	for i, p := range all {
		states[i] = p.State()
	}
	return states
}

// IsFreePlane reports whether id is free or reclaimed
func (m *Manager) IsFreePlane(id plane.ID) bool {
	if !m.initialized || m.pool.Get(id) == nil {
		return false
	}
	return (m.free[id.Type] | m.reclaimed[id.Type]).Has(id.Index)
}

// GetPlane takes the plane behind id out of the free and reclaimed sets. It
// returns nil if the plane is busy.
func (m *Manager) GetPlane(id plane.ID) *plane.Plane {
	if !m.IsFreePlane(id) {
		logger.Debug("plane is not available", "plane", id)
		return nil
	}
	m.free[id.Type].Clear(id.Index)
	m.reclaimed[id.Type].Clear(id.Index)
	return m.pool.Get(id)
}

// GetFreePlanes counts available planes of type t that pipe can use
func (m *Manager) GetFreePlanes(pipe int, t plane.Type) int {
	p, ok := m.caps.Pipe(pipe)
	if !ok || !m.initialized || !t.Valid() {
		return 0
	}
	avail := m.free[t] | m.reclaimed[t]

	switch t {
	case plane.TypePrimary:
		if avail.Has(p.Primary.Index) {
			return 1
		}
		return 0
	case plane.TypeCursor:
		if p.Cursor.Valid() && avail.Has(p.Cursor.Index) {
			return 1
		}
		return 0
	case plane.TypeSprite:
		return (avail & p.RoutableSprites()).Count()
	default:
		return avail.Count()
	}
}

// ReclaimPlane returns a plane released by pipe's layer list. The plane stays
// enabled until the next DisableReclaimedPlanes but may be reassigned before
// that.
func (m *Manager) ReclaimPlane(pipe int, id plane.ID) error {
	if _, ok := m.caps.Pipe(pipe); !ok {
		return fmt.Errorf("%w: %d", ErrInvalidPipe, pipe)
	}
	if !m.initialized {
		return ErrNotInitialized
	}
	if m.pool.Get(id) == nil {
		return fmt.Errorf("reclaim: unknown plane %s", id)
	}
	m.reclaimed[id.Type].Set(id.Index)
	return nil
}

// DisableReclaimedPlanes turns off every reclaimed plane and moves it to the
// free set. A plane that fails to disable or reset stays reclaimed and is
// retried next cycle.
func (m *Manager) DisableReclaimedPlanes() {
	if !m.initialized {
		return
	}
	for _, t := range plane.Types {
		m.reclaimed[t].ForEach(func(i int) {
			p := m.pool.Get(plane.ID{Type: t, Index: i})
			if p == nil {
				return
			}
			if err := p.Disable(); err != nil {
				logger.Warn("failed to disable reclaimed plane", "plane", p.ID(), "err", err)
				return
			}
			if err := p.Reset(); err != nil {
				logger.Warn("failed to reset reclaimed plane", "plane", p.ID(), "err", err)
				return
			}
			m.free[t].Set(i)
			m.reclaimed[t].Clear(i)
		})
	}
}
