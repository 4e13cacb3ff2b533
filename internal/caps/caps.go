// Package caps describes what a hardware generation's display planes can do:
// the plane inventory, which planes each pipe can reach, and the legal
// z-order placements of overlay planes. Everything here is data; the plane
// manager interprets it.
package caps

import (
	"fmt"

	"github.com/bnema/hwcplane/internal/plane"
)

// ZOrderRow is one hardware-legal stacking. Overlays is the bitmask of
// stacking positions occupied by overlay planes and Planes lists the plane
// backing each non-cursor position, bottom first.
type ZOrderRow struct {
	Overlays uint32
	Planes   []plane.ID
}

// Pipe holds the per-pipe routing and z-order table
type Pipe struct {
	Primary plane.ID
	Cursor  plane.ID
	// Sprites lists the sprite plane indices routable to this pipe
	Sprites []int
	// MaxSprites caps non-overlay, non-cursor entries, primary included
	MaxSprites int
	// BottomOverlaySpriteLimit caps non-overlay entries stacked on a
	// bottom-most overlay when the overlay erratum is active. Zero disables.
	BottomOverlaySpriteLimit int
	// ZOrder rows are tried in order; earlier rows are preferred
	ZOrder []ZOrderRow
}

// Capability is the complete description of one hardware generation
type Capability struct {
	Name string

	SpritePlanes  int
	OverlayPlanes int
	PrimaryPlanes int
	CursorPlanes  int

	// MaxLayers bounds a z-order config, not counting a cursor entry
	MaxLayers int

	// OverlayHwWorkaround enables the erratum rules for an overlay placed
	// at the bottom of the stack without the primary plane
	OverlayHwWorkaround bool

	// Pipes is indexed by pipe id
	Pipes []Pipe

	// NoTransform lists plane instances limited to the identity transform
	NoTransform []plane.ID
}

// Pipe returns the description of pipe, or false for an unknown pipe
func (c *Capability) Pipe(pipe int) (*Pipe, bool) {
	if pipe < 0 || pipe >= len(c.Pipes) {
		return nil, false
	}
	return &c.Pipes[pipe], true
}

// Count returns the inventory size of type t
func (c *Capability) Count(t plane.Type) int {
	switch t {
	case plane.TypeSprite:
		return c.SpritePlanes
	case plane.TypeOverlay:
		return c.OverlayPlanes
	case plane.TypePrimary:
		return c.PrimaryPlanes
	case plane.TypeCursor:
		return c.CursorPlanes
	}
	return 0
}

// Has reports whether id is part of the inventory
func (c *Capability) Has(id plane.ID) bool {
	return id.Valid() && id.Index < c.Count(id.Type)
}

// Planes returns the plane descriptions used to build the plane pool
func (c *Capability) Planes() []plane.Desc {
	noTransform := make(map[plane.ID]bool, len(c.NoTransform))
	for _, id := range c.NoTransform {
		noTransform[id] = true
	}

	var descs []plane.Desc
	for _, t := range plane.Types {
		for i := 0; i < c.Count(t); i++ {
			id := plane.ID{Type: t, Index: i}
			descs = append(descs, plane.Desc{ID: id, NoTransform: noTransform[id]})
		}
	}
	return descs
}

// RoutableSprites returns the sprite planes this pipe can reach as a mask
func (p *Pipe) RoutableSprites() plane.Mask {
	var m plane.Mask
	for _, i := range p.Sprites {
		m.Set(i)
	}
	return m
}

// Rows returns the table rows for an overlay bitmask, in preference order
func (p *Pipe) Rows(overlays uint32) []ZOrderRow {
	var rows []ZOrderRow
	for _, r := range p.ZOrder {
		if r.Overlays == overlays {
			rows = append(rows, r)
		}
	}
	return rows
}

// String renders a row as "[a b c]" using plane IDs
func (r ZOrderRow) String() string {
	return fmt.Sprintf("%d:%v", r.Overlays, r.Planes)
}
