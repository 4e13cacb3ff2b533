package plane

import "math/bits"

// MaxPerType bounds the number of planes of a single type
const MaxPerType = 32

// Mask is a per-type bitmap of plane indices
type Mask uint32

// Full returns a mask with the low n bits set
func Full(n int) Mask {
	if n >= MaxPerType {
		return ^Mask(0)
	}
	return Mask(1)<<uint(n) - 1
}

func (m Mask) Has(index int) bool {
	return index >= 0 && index < MaxPerType && m&(1<<uint(index)) != 0
}

func (m *Mask) Set(index int) {
	*m |= 1 << uint(index)
}

func (m *Mask) Clear(index int) {
	*m &^= 1 << uint(index)
}

// Count returns the number of set bits
func (m Mask) Count() int {
	return bits.OnesCount32(uint32(m))
}

// ForEach calls fn for each set index, lowest first
func (m Mask) ForEach(fn func(index int)) {
	for w := uint32(m); w != 0; w &= w - 1 {
		fn(bits.TrailingZeros32(w))
	}
}
