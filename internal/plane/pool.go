package plane

import (
	"fmt"
	"sort"
)

// Desc describes one plane instance in a hardware generation
type Desc struct {
	ID          ID
	NoTransform bool
}

// Pool is the fixed arena of planes, indexed by ID. It outlives every
// per-frame structure that holds an ID.
type Pool struct {
	planes [NumTypes][]*Plane
}

// NewPool builds the arena. Indices within a type must run 0..n-1.
func NewPool(descs []Desc) (*Pool, error) {
	sorted := append([]Desc(nil), descs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ID.Type != sorted[j].ID.Type {
			return sorted[i].ID.Type < sorted[j].ID.Type
		}
		return sorted[i].ID.Index < sorted[j].ID.Index
	})

	p := &Pool{}
	for _, d := range sorted {
		if !d.ID.Valid() {
			return nil, fmt.Errorf("invalid plane id %v", d.ID)
		}
		list := p.planes[d.ID.Type]
		if d.ID.Index != len(list) {
			return nil, fmt.Errorf("plane %s: indices of type %s must be contiguous from 0", d.ID, d.ID.Type)
		}
		if d.ID.Index >= MaxPerType {
			return nil, fmt.Errorf("plane %s: more than %d planes of one type", d.ID, MaxPerType)
		}
		p.planes[d.ID.Type] = append(list, New(d.ID, d.NoTransform))
	}
	return p, nil
}

// Initialize allocates every plane. On the first failure all planes are
// released and the error is returned.
func (p *Pool) Initialize(bufferCount int, alloc Allocator) error {
	var done []*Plane
	for _, pl := range p.All() {
		if err := pl.Initialize(bufferCount, alloc); err != nil {
			for _, d := range done {
				d.Deinitialize()
			}
			return err
		}
		done = append(done, pl)
	}
	return nil
}

// Deinitialize releases every plane
func (p *Pool) Deinitialize() {
	for _, pl := range p.All() {
		pl.Deinitialize()
	}
}

// Get returns the plane for id, or nil
func (p *Pool) Get(id ID) *Plane {
	if !id.Valid() || id.Index >= len(p.planes[id.Type]) {
		return nil
	}
	return p.planes[id.Type][id.Index]
}

// Count returns the number of planes of type t
func (p *Pool) Count(t Type) int {
	if !t.Valid() {
		return 0
	}
	return len(p.planes[t])
}

// All returns every plane in type then index order
func (p *Pool) All() []*Plane {
	var all []*Plane
	for _, t := range Types {
		all = append(all, p.planes[t]...)
	}
	return all
}
