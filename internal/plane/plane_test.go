package plane

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingAllocator struct {
	failOn ID
	freed  []ID
}

func (a *failingAllocator) AllocateBuffers(id ID, count int) ([]uint64, error) {
	if id == a.failOn {
		return nil, errors.New("out of memory")
	}
	return make([]uint64, count), nil
}

func (a *failingAllocator) FreeBuffers(id ID, _ []uint64) {
	a.freed = append(a.freed, id)
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    ID
		wantErr bool
	}{
		{in: "primary/0", want: ID{TypePrimary, 0}},
		{in: " overlay/1 ", want: ID{TypeOverlay, 1}},
		{in: "cursor/2", want: ID{TypeCursor, 2}},
		{in: "sprite", wantErr: true},
		{in: "video/0", wantErr: true},
		{in: "sprite/-1", wantErr: true},
		{in: "sprite/x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseID(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, s string) ID {
	t.Helper()
	id, err := ParseID(s)
	require.NoError(t, err)
	return id
}

func TestMask(t *testing.T) {
	m := Full(3)
	assert.Equal(t, 3, m.Count())
	assert.True(t, m.Has(2))
	assert.False(t, m.Has(3))

	m.Clear(1)
	assert.Equal(t, 2, m.Count())
	assert.False(t, m.Has(1))

	var seen []int
	m.ForEach(func(i int) { seen = append(seen, i) })
	assert.Equal(t, []int{0, 2}, seen)

	m.Set(1)
	assert.Equal(t, Full(3), m)
	assert.False(t, m.Has(-1))
}

func TestPlaneLifecycle(t *testing.T) {
	p := New(ID{TypeSprite, 0}, false)

	assert.ErrorIs(t, p.Enable(), ErrNotInitialized)

	require.NoError(t, p.Initialize(2, &SyntheticAllocator{}))
	assert.Len(t, p.Buffers(), 2)

	require.NoError(t, p.Enable())
	assert.True(t, p.Enabled())

	require.NoError(t, p.Disable())
	require.NoError(t, p.Disable(), "disable must be idempotent")
	assert.False(t, p.Enabled())

	p.SetZOrderConfig(3)
	p.SetZOrder(1)
	p.Bind(0, 4)
	assert.Equal(t, State{ID: p.ID(), Slot: 3, ZOrder: 1, Pipe: 0, Layer: 4}, p.State())

	require.NoError(t, p.Reset())
	assert.Equal(t, -1, p.Slot())
	assert.Equal(t, NoLayer, p.Layer())

	p.Deinitialize()
	assert.Nil(t, p.Buffers())
}

func TestPlaneInitializeFailure(t *testing.T) {
	id := ID{TypeOverlay, 0}
	p := New(id, false)

	err := p.Initialize(2, &failingAllocator{failOn: id})
	assert.ErrorIs(t, err, ErrInit)

	err = p.Initialize(0, &SyntheticAllocator{})
	assert.ErrorIs(t, err, ErrInit)
}

func TestSupportsTransform(t *testing.T) {
	plain := New(ID{TypeOverlay, 0}, false)
	restricted := New(ID{TypeOverlay, 1}, true)

	assert.True(t, plain.SupportsTransform(4))
	assert.True(t, restricted.SupportsTransform(0))
	assert.False(t, restricted.SupportsTransform(4))
}

func TestPool(t *testing.T) {
	descs := []Desc{
		{ID: ID{TypeOverlay, 1}, NoTransform: true},
		{ID: ID{TypeSprite, 0}},
		{ID: ID{TypeOverlay, 0}},
		{ID: ID{TypePrimary, 0}},
	}

	pool, err := NewPool(descs)
	require.NoError(t, err)

	assert.Equal(t, 2, pool.Count(TypeOverlay))
	assert.Equal(t, 0, pool.Count(TypeCursor))
	assert.Nil(t, pool.Get(ID{TypeSprite, 1}))
	assert.Nil(t, pool.Get(None))
	assert.False(t, pool.Get(ID{TypeOverlay, 1}).SupportsTransform(1))

	all := pool.All()
	require.Len(t, all, 4)
	assert.Equal(t, ID{TypeSprite, 0}, all[0].ID())
	assert.Equal(t, ID{TypePrimary, 0}, all[3].ID())

	t.Run("rejects gaps", func(t *testing.T) {
		_, err := NewPool([]Desc{{ID: ID{TypeSprite, 1}}})
		assert.Error(t, err)
	})

	t.Run("releases planes on failed initialize", func(t *testing.T) {
		alloc := &failingAllocator{failOn: ID{TypePrimary, 0}}
		err := pool.Initialize(1, alloc)
		assert.ErrorIs(t, err, ErrInit)
		assert.Len(t, alloc.freed, 3)
	})
}
