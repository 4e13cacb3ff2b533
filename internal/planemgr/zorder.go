package planemgr

import (
	"sort"

	"github.com/bnema/hwcplane/internal/plane"
)

// ZOrderLayer is one layer's request for a plane in the current frame
type ZOrderLayer struct {
	// PlaneType is the requested type. After a successful assignment it is
	// replaced by the type of the plane actually bound, so a sprite request
	// served by the primary plane reads TypePrimary.
	PlaneType plane.Type
	// Layer indexes the source layer in the device's layer list
	Layer int
	// Transform of the source layer; some planes only accept identity
	Transform uint32
	// ZOrder is the requested stacking position of the source layer
	ZOrder int

	// Plane is the bound plane, plane.None until assigned
	Plane plane.ID
	// Slot is the hardware z-order slot programmed at commit
	Slot int
}

// Bound reports whether a plane was assigned
func (l *ZOrderLayer) Bound() bool {
	return l.Plane.Valid()
}

// ZOrderConfig is the frame's stacking request, bottom first, kept sorted by
// ZOrder
type ZOrderConfig []*ZOrderLayer

// Insert adds l at its ZOrder position, after any entries with equal ZOrder
func (c *ZOrderConfig) Insert(l *ZOrderLayer) {
	s := *c
	i := sort.Search(len(s), func(i int) bool { return s[i].ZOrder > l.ZOrder })
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = l
	*c = s
}

// Remove deletes l and reports whether it was present
func (c *ZOrderConfig) Remove(l *ZOrderLayer) bool {
	s := *c
	for i, e := range s {
		if e == l {
			copy(s[i:], s[i+1:])
			s[len(s)-1] = nil
			*c = s[:len(s)-1]
			return true
		}
	}
	return false
}

// Contains reports whether l is part of the config
func (c ZOrderConfig) Contains(l *ZOrderLayer) bool {
	for _, e := range c {
		if e == l {
			return true
		}
	}
	return false
}

// overlayIndex is the bitmask of stacking positions requesting an overlay
func (c ZOrderConfig) overlayIndex() uint32 {
	var index uint32
	for i, l := range c {
		if l.PlaneType == plane.TypeOverlay {
			index |= 1 << uint(i)
		}
	}
	return index
}
