package caps

import (
	"fmt"
	"math/bits"

	"github.com/bnema/hwcplane/internal/plane"
)

// Severity grades a table finding
type Severity int

const (
	// Warning marks a row that is legal but suspicious, e.g. one that can
	// never back a full stack
	Warning Severity = iota
	// Error marks a table the plane manager cannot use
	Error
)

func (s Severity) String() string {
	if s == Error {
		return "error"
	}
	return "warning"
}

// Finding is one problem found in a capability description. Row is -1 for
// pipe-level findings and Pipe is -1 for generation-level ones.
type Finding struct {
	Severity Severity
	Pipe     int
	Row      int
	Message  string
}

func (f Finding) String() string {
	switch {
	case f.Pipe < 0:
		return fmt.Sprintf("%s: %s", f.Severity, f.Message)
	case f.Row < 0:
		return fmt.Sprintf("%s: pipe %d: %s", f.Severity, f.Pipe, f.Message)
	default:
		return fmt.Sprintf("%s: pipe %d row %d: %s", f.Severity, f.Pipe, f.Row, f.Message)
	}
}

// HasErrors reports whether any finding is an Error
func HasErrors(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == Error {
			return true
		}
	}
	return false
}

// Validate checks the description for inconsistencies. Rows whose plane
// count does not match the number of non-cursor layers they are meant to
// serve are reported as warnings rather than corrected.
func (c *Capability) Validate() []Finding {
	var out []Finding
	add := func(sev Severity, pipe, row int, format string, args ...interface{}) {
		out = append(out, Finding{Severity: sev, Pipe: pipe, Row: row, Message: fmt.Sprintf(format, args...)})
	}

	for _, t := range plane.Types {
		n := c.Count(t)
		if n < 0 || n > plane.MaxPerType {
			add(Error, -1, -1, "%s plane count %d out of range 0..%d", t, n, plane.MaxPerType)
		}
	}
	if c.PrimaryPlanes < 1 {
		add(Error, -1, -1, "at least one primary plane is required")
	}
	if c.MaxLayers < 1 {
		add(Error, -1, -1, "max layers must be at least 1, got %d", c.MaxLayers)
	}
	if len(c.Pipes) == 0 {
		add(Error, -1, -1, "no pipes described")
	}
	for _, id := range c.NoTransform {
		if !c.Has(id) {
			add(Error, -1, -1, "no-transform plane %s is not in the inventory", id)
		}
	}

	for pi := range c.Pipes {
		p := &c.Pipes[pi]
		if p.Primary.Type != plane.TypePrimary || !c.Has(p.Primary) {
			add(Error, pi, -1, "primary plane %s is not a primary plane of the inventory", p.Primary)
		}
		if p.Cursor != plane.None && (p.Cursor.Type != plane.TypeCursor || !c.Has(p.Cursor)) {
			add(Error, pi, -1, "cursor plane %s is not a cursor plane of the inventory", p.Cursor)
		}
		for _, s := range p.Sprites {
			if s < 0 || s >= c.SpritePlanes {
				add(Error, pi, -1, "routable sprite %d out of range", s)
			}
		}
		if p.MaxSprites < 1 || p.MaxSprites > len(p.Sprites)+1 {
			add(Error, pi, -1, "max sprites %d must be between 1 and %d", p.MaxSprites, len(p.Sprites)+1)
		}
		if len(p.ZOrder) == 0 {
			add(Error, pi, -1, "empty z-order table")
		}

		routable := p.RoutableSprites()
		seen := make(map[string]int)
		for ri, r := range p.ZOrder {
			c.validateRow(pi, ri, p, r, routable, add)

			key := r.String()
			if first, dup := seen[key]; dup {
				add(Warning, pi, ri, "duplicates row %d", first)
			} else {
				seen[key] = ri
			}
		}
	}
	return out
}

func (c *Capability) validateRow(pi, ri int, p *Pipe, r ZOrderRow, routable plane.Mask,
	add func(Severity, int, int, string, ...interface{})) {
	if len(r.Planes) == 0 {
		add(Error, pi, ri, "row has no planes")
		return
	}

	var overlays uint32
	used := make(map[plane.ID]bool, len(r.Planes))
	for pos, id := range r.Planes {
		if !c.Has(id) {
			add(Error, pi, ri, "plane %s at position %d is not in the inventory", id, pos)
			continue
		}
		if used[id] {
			add(Error, pi, ri, "plane %s used twice", id)
		}
		used[id] = true

		switch id.Type {
		case plane.TypeOverlay:
			overlays |= 1 << uint(pos)
		case plane.TypePrimary:
			if id != p.Primary {
				add(Error, pi, ri, "primary plane %s does not belong to this pipe", id)
			}
		case plane.TypeSprite:
			if !routable.Has(id.Index) {
				add(Error, pi, ri, "sprite %s is not routable to this pipe", id)
			}
		case plane.TypeCursor:
			add(Error, pi, ri, "cursor plane %s must not appear in a z-order row", id)
		}
	}
	if overlays != r.Overlays {
		add(Error, pi, ri, "overlay bitmask %d does not match overlay positions %d", r.Overlays, overlays)
	}

	expected := bits.OnesCount32(r.Overlays) + p.MaxSprites
	if expected > c.MaxLayers {
		expected = c.MaxLayers
	}
	if len(r.Planes) != expected {
		add(Warning, pi, ri, "row provides %d planes but the pipe can stack %d layers for this overlay placement",
			len(r.Planes), expected)
	}
}
