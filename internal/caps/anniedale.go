package caps

import (
	"fmt"
	"sort"

	"github.com/bnema/hwcplane/internal/plane"
)

// Plane instances of the reference generation, named after the hardware
// blocks they drive.
var (
	primaryA = plane.ID{Type: plane.TypePrimary, Index: 0}
	primaryB = plane.ID{Type: plane.TypePrimary, Index: 1}
	primaryC = plane.ID{Type: plane.TypePrimary, Index: 2}
	spriteA  = plane.ID{Type: plane.TypeSprite, Index: 0}
	spriteB  = plane.ID{Type: plane.TypeSprite, Index: 1}
	spriteC  = plane.ID{Type: plane.TypeSprite, Index: 2}
	overlayA = plane.ID{Type: plane.TypeOverlay, Index: 0}
	overlayC = plane.ID{Type: plane.TypeOverlay, Index: 1}
	cursorA  = plane.ID{Type: plane.TypeCursor, Index: 0}
	cursorB  = plane.ID{Type: plane.TypeCursor, Index: 1}
	cursorC  = plane.ID{Type: plane.TypeCursor, Index: 2}
)

func row(overlays uint32, ids ...plane.ID) ZOrderRow {
	return ZOrderRow{Overlays: overlays, Planes: ids}
}

// Pipe A, video-mode panel. Overlay A is preferred over overlay C.
func pipeAVideo() []ZOrderRow {
	return []ZOrderRow{
		row(0, primaryA, spriteA, spriteB, spriteC),
		row(1, overlayA, spriteA, spriteB, spriteC),
		row(1, overlayC, spriteA, spriteB, spriteC),
		row(2, primaryA, overlayA, spriteB, spriteC),
		row(2, primaryA, overlayC, spriteB, spriteC),
		row(3, overlayA, overlayC, spriteB, spriteC),
		row(4, primaryA, spriteA, overlayA, spriteC),
		row(4, primaryA, spriteA, overlayC, spriteC),
		row(6, primaryA, overlayA, overlayC, spriteC),
		row(8, primaryA, spriteA, spriteB, overlayA),
		row(8, primaryA, spriteA, spriteB, overlayC),
		row(12, primaryA, spriteA, overlayA, overlayC),
	}
}

// Pipe A, command-mode panel. With an overlay at the bottom the first
// sprite cannot be used, so those rows carry one plane fewer.
func pipeACommand() []ZOrderRow {
	return []ZOrderRow{
		row(0, primaryA, spriteA, spriteB, spriteC),
		row(1, overlayA, spriteB, spriteC),
		row(1, overlayC, spriteB, spriteC),
		row(2, primaryA, overlayA, spriteB, spriteC),
		row(2, primaryA, overlayC, spriteB, spriteC),
		row(3, overlayA, overlayC, spriteC),
		row(4, primaryA, spriteA, overlayA, spriteC),
		row(4, primaryA, spriteA, overlayC, spriteC),
		row(6, primaryA, overlayA, overlayC, spriteC),
		row(8, primaryA, spriteA, spriteB, overlayA),
		row(8, primaryA, spriteA, spriteB, overlayC),
		row(12, primaryA, spriteA, overlayA, overlayC),
	}
}

// Pipe B prefers overlay C; overlay A only when both are needed or at top.
func pipeB() []ZOrderRow {
	return []ZOrderRow{
		row(0, primaryB, spriteA),
		row(1, overlayC, primaryB, spriteA),
		row(2, primaryB, overlayC, spriteA),
		row(3, overlayA, overlayC, primaryB, spriteA),
		row(4, primaryB, spriteA, overlayC),
		row(4, primaryB, spriteA, overlayA),
		row(6, primaryB, overlayA, overlayC, spriteA),
		row(12, primaryB, spriteA, overlayA, overlayC),
	}
}

// Anniedale returns the reference generation: three primary, three sprite,
// two overlay and three cursor planes, with two usable pipes. commandMode
// selects the overlay erratum tables for the primary panel.
func Anniedale(commandMode bool) *Capability {
	pipeA := Pipe{
		Primary:    primaryA,
		Cursor:     cursorA,
		Sprites:    []int{spriteA.Index, spriteB.Index, spriteC.Index},
		MaxSprites: 4,
		ZOrder:     pipeAVideo(),
	}
	name := "anniedale-video"
	if commandMode {
		name = "anniedale-command"
		pipeA.ZOrder = pipeACommand()
		pipeA.BottomOverlaySpriteLimit = 2
	}

	return &Capability{
		Name:                name,
		SpritePlanes:        3,
		OverlayPlanes:       2,
		PrimaryPlanes:       3,
		CursorPlanes:        3,
		MaxLayers:           4,
		OverlayHwWorkaround: commandMode,
		Pipes: []Pipe{
			pipeA,
			{
				Primary:    primaryB,
				Cursor:     cursorB,
				Sprites:    []int{spriteA.Index},
				MaxSprites: 2,
				ZOrder:     pipeB(),
			},
		},
		NoTransform: []plane.ID{overlayC},
	}
}

var generations = map[string]func(commandMode bool) *Capability{
	"anniedale": Anniedale,
}

// Builtin returns a built-in generation by name
func Builtin(name string, commandMode bool) (*Capability, error) {
	gen, ok := generations[name]
	if !ok {
		return nil, fmt.Errorf("unknown hardware generation %q (known: %v)", name, Generations())
	}
	return gen(commandMode), nil
}

// Generations lists the built-in generation names
func Generations() []string {
	names := make([]string, 0, len(generations))
	for name := range generations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
