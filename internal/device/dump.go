package device

import (
	"github.com/bnema/hwcplane/internal/display"
	"github.com/bnema/hwcplane/internal/layerlist"
)

// Status is a snapshot of a device for dumps
type Status struct {
	Pipe      int
	Name      string
	Connected bool
	Blank     bool
	Vsync     bool
	State     State
	Configs   []display.Config
	Active    int
	FBLayers  int
	Layers    []layerlist.DumpRow
}

// Dump snapshots the device and its layer list
func (d *PhysicalDevice) Dump() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Status{
		Pipe:      d.pipe,
		Name:      d.name,
		Connected: d.connected,
		Blank:     d.blank,
		Vsync:     d.vsync.Enabled(),
		State:     d.state,
		Configs:   append([]display.Config(nil), d.configs...),
		Active:    d.active,
	}
	if d.list != nil {
		s.FBLayers = d.list.FBLayers()
		s.Layers = d.list.Dump()
	}
	return s
}
