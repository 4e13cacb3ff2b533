package plane

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/bnema/hwcplane/internal/logger"
)

var (
	// ErrNotInitialized is returned when a plane is used before Initialize
	ErrNotInitialized = errors.New("plane not initialized")
	// ErrInit wraps backing-resource allocation failures
	ErrInit = errors.New("plane initialization failed")
)

// NoLayer marks a plane that is not bound to any layer
const NoLayer = -1

// Allocator hands out the backing buffers a plane scans out from. The real
// buffer allocator lives outside this module.
type Allocator interface {
	AllocateBuffers(id ID, count int) ([]uint64, error)
	FreeBuffers(id ID, handles []uint64)
}

// SyntheticAllocator returns unique fake handles and never fails
type SyntheticAllocator struct {
	next atomic.Uint64
}

func (a *SyntheticAllocator) AllocateBuffers(id ID, count int) ([]uint64, error) {
	handles := make([]uint64, count)
	for i := range handles {
		handles[i] = a.next.Add(1)
	}
	return handles, nil
}

func (a *SyntheticAllocator) FreeBuffers(ID, []uint64) {}

// Plane is one hardware plane. It is created once per device bring-up and
// reused across frames through Enable/Disable.
type Plane struct {
	id          ID
	noTransform bool

	initialized bool
	enabled     bool
	slot        int
	zorder      int
	pipe        int
	layer       int

	alloc   Allocator
	buffers []uint64
}

// New creates an uninitialized plane. noTransform marks plane instances that
// can only scan out with the identity transform.
func New(id ID, noTransform bool) *Plane {
	return &Plane{
		id:          id,
		noTransform: noTransform,
		slot:        -1,
		zorder:      -1,
		pipe:        -1,
		layer:       NoLayer,
	}
}

// Initialize allocates minBufferCount backing buffers. On failure the plane
// is unusable and must be dropped by the caller.
func (p *Plane) Initialize(minBufferCount int, alloc Allocator) error {
	if minBufferCount < 1 {
		return fmt.Errorf("%w: %s: buffer count %d", ErrInit, p.id, minBufferCount)
	}
	handles, err := alloc.AllocateBuffers(p.id, minBufferCount)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInit, p.id, err)
	}
	if len(handles) < minBufferCount {
		alloc.FreeBuffers(p.id, handles)
		return fmt.Errorf("%w: %s: got %d of %d buffers", ErrInit, p.id, len(handles), minBufferCount)
	}
	p.alloc = alloc
	p.buffers = handles
	p.initialized = true
	return nil
}

// Deinitialize releases backing buffers
func (p *Plane) Deinitialize() {
	if !p.initialized {
		return
	}
	p.enabled = false
	p.alloc.FreeBuffers(p.id, p.buffers)
	p.buffers = nil
	p.initialized = false
}

func (p *Plane) ID() ID { return p.id }
func (p *Plane) Type() Type { return p.id.Type }
func (p *Plane) Index() int { return p.id.Index }
func (p *Plane) Enabled() bool { return p.enabled }

// Slot is the hardware z-order slot consumed by the commit step
func (p *Plane) Slot() int { return p.slot }

// ZOrder is the plane's position in the frame's stacking order
func (p *Plane) ZOrder() int { return p.zorder }

// Layer is the index of the bound layer, or NoLayer
func (p *Plane) Layer() int { return p.layer }

// Pipe is the pipe the plane is bound to, or -1
func (p *Plane) Pipe() int { return p.pipe }

// Buffers returns the backing buffer handles
func (p *Plane) Buffers() []uint64 { return p.buffers }

// SupportsTransform reports whether the plane can scan out with transform
func (p *Plane) SupportsTransform(transform uint32) bool {
	return transform == 0 || !p.noTransform
}

// Enable makes the plane visible
func (p *Plane) Enable() error {
	if !p.initialized {
		return ErrNotInitialized
	}
	p.enabled = true
	return nil
}

// Disable hides the plane. Disabling a disabled plane is a no-op.
func (p *Plane) Disable() error {
	if !p.initialized {
		return ErrNotInitialized
	}
	if p.enabled {
		logger.Debug("plane disabled", "plane", p.id)
	}
	p.enabled = false
	return nil
}

// Reset drops the frame-scoped binding state
func (p *Plane) Reset() error {
	if !p.initialized {
		return ErrNotInitialized
	}
	p.slot = -1
	p.zorder = -1
	p.pipe = -1
	p.layer = NoLayer
	return nil
}

// SetZOrderConfig records the hardware slot for this frame
func (p *Plane) SetZOrderConfig(slot int) {
	p.slot = slot
}

// SetZOrder records the plane's position in the stacking order
func (p *Plane) SetZOrder(zorder int) {
	p.zorder = zorder
}

// Bind records the layer and pipe the plane serves this frame
func (p *Plane) Bind(pipe, layer int) {
	p.pipe = pipe
	p.layer = layer
}

// State is a snapshot handed to the commit step
type State struct {
	ID      ID
	Enabled bool
	Slot    int
	ZOrder  int
	Pipe    int
	Layer   int
}

func (p *Plane) State() State {
	return State{
		ID:      p.id,
		Enabled: p.enabled,
		Slot:    p.slot,
		ZOrder:  p.zorder,
		Pipe:    p.pipe,
		Layer:   p.layer,
	}
}
