// Package plane models the fixed inventory of hardware scan-out planes.
package plane

import (
	"fmt"
	"strconv"
	"strings"
)

// Type identifies a class of hardware plane
type Type int

const (
	TypeNone Type = iota
	TypeSprite
	TypeOverlay
	TypePrimary
	TypeCursor

	// NumTypes sizes per-type arrays; index 0 (TypeNone) is unused
	NumTypes
)

// Types lists every concrete plane type in pool order
var Types = []Type{TypeSprite, TypeOverlay, TypePrimary, TypeCursor}

func (t Type) String() string {
	switch t {
	case TypeSprite:
		return "sprite"
	case TypeOverlay:
		return "overlay"
	case TypePrimary:
		return "primary"
	case TypeCursor:
		return "cursor"
	default:
		return "none"
	}
}

// Valid reports whether t names a concrete plane type
func (t Type) Valid() bool {
	return t > TypeNone && t < NumTypes
}

// ParseType is the inverse of Type.String
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sprite":
		return TypeSprite, nil
	case "overlay":
		return TypeOverlay, nil
	case "primary":
		return TypePrimary, nil
	case "cursor":
		return TypeCursor, nil
	}
	return TypeNone, fmt.Errorf("unknown plane type %q", s)
}

// ID is the arena handle of a plane: its type plus its index within that type.
// The zero value names no plane.
type ID struct {
	Type  Type
	Index int
}

// None is the unbound handle
var None = ID{}

// Valid reports whether id can refer to a plane at all
func (id ID) Valid() bool {
	return id.Type.Valid() && id.Index >= 0
}

func (id ID) String() string {
	if !id.Valid() {
		return "none"
	}
	return fmt.Sprintf("%s/%d", id.Type, id.Index)
}

// ParseID reads the "type/index" form produced by ID.String
func ParseID(s string) (ID, error) {
	typ, idx, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return None, fmt.Errorf("invalid plane id %q: expected type/index", s)
	}
	t, err := ParseType(typ)
	if err != nil {
		return None, fmt.Errorf("invalid plane id %q: %w", s, err)
	}
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return None, fmt.Errorf("invalid plane id %q: bad index", s)
	}
	return ID{Type: t, Index: n}, nil
}
