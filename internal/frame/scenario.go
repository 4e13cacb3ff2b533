package frame

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// defaultTargetHandle tags implicit framebuffer targets; the low bits carry
// the pipe
const defaultTargetHandle = 0xfb000000

// Scenario is a scripted sequence of composition cycles, used to drive the
// composer without a real compositor
type Scenario struct {
	Name   string
	Cycles []Cycle
}

// Cycle holds the frames of every display for one composition cycle
type Cycle struct {
	// Repeat replays the cycle; only the first pass keeps GeometryChanged
	Repeat int
	Frames map[int]*Frame
	// Hotplug toggles connectors before the cycle runs, keyed by pipe
	Hotplug map[int]bool
}

type fileScenario struct {
	Name   string      `mapstructure:"name"`
	Cycles []fileCycle `mapstructure:"cycles"`
}

type fileCycle struct {
	Repeat   int           `mapstructure:"repeat"`
	Displays []fileDisplay `mapstructure:"displays"`
	Hotplug  []fileHotplug `mapstructure:"hotplug"`
}

type fileHotplug struct {
	Pipe      int  `mapstructure:"pipe"`
	Connected bool `mapstructure:"connected"`
}

type fileDisplay struct {
	Pipe            int         `mapstructure:"pipe"`
	GeometryChanged bool        `mapstructure:"geometry_changed"`
	TargetHandle    uint64      `mapstructure:"target_handle"`
	Layers          []fileLayer `mapstructure:"layers"`
}

type fileLayer struct {
	Composition string   `mapstructure:"composition"`
	Handle      uint64   `mapstructure:"handle"`
	Format      string   `mapstructure:"format"`
	Transform   uint32   `mapstructure:"transform"`
	Flags       []string `mapstructure:"flags"`
	Crop        []int    `mapstructure:"crop"`
	Frame       []int    `mapstructure:"frame"`
	Buffer      []int    `mapstructure:"buffer"`
}

// LoadScenario reads a TOML scenario file
func LoadScenario(path string) (*Scenario, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}

	var fs fileScenario
	if err := v.Unmarshal(&fs); err != nil {
		return nil, fmt.Errorf("decoding scenario %s: %w", path, err)
	}

	s := &Scenario{Name: fs.Name}
	for ci, fc := range fs.Cycles {
		c := Cycle{Repeat: fc.Repeat, Frames: make(map[int]*Frame)}
		if c.Repeat < 1 {
			c.Repeat = 1
		}
		if len(fc.Hotplug) > 0 {
			c.Hotplug = make(map[int]bool)
			for _, h := range fc.Hotplug {
				c.Hotplug[h.Pipe] = h.Connected
			}
		}
		for _, fd := range fc.Displays {
			if _, dup := c.Frames[fd.Pipe]; dup {
				return nil, fmt.Errorf("cycle %d: pipe %d listed twice", ci, fd.Pipe)
			}
			f, err := fd.toFrame()
			if err != nil {
				return nil, fmt.Errorf("cycle %d pipe %d: %w", ci, fd.Pipe, err)
			}
			c.Frames[fd.Pipe] = f
		}
		s.Cycles = append(s.Cycles, c)
	}
	if len(s.Cycles) == 0 {
		return nil, fmt.Errorf("scenario %s has no cycles", path)
	}
	return s, nil
}

func (fd fileDisplay) toFrame() (*Frame, error) {
	f := &Frame{GeometryChanged: fd.GeometryChanged}
	for i, fl := range fd.Layers {
		l, err := fl.toLayer()
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		f.Layers = append(f.Layers, l)
	}

	// The target is implicit unless the file spells it out
	if f.Target() == nil {
		target := Layer{Composition: FramebufferTarget, Handle: fd.TargetHandle, Format: FormatRGBA8888}
		if target.Handle == 0 {
			target.Handle = defaultTargetHandle | uint64(fd.Pipe)
		}
		if len(f.Layers) > 0 {
			target.DisplayFrame = f.Layers[0].DisplayFrame
			target.SourceCrop = target.DisplayFrame
		}
		f.Layers = append(f.Layers, target)
	}
	return f, f.Validate()
}

func (fl fileLayer) toLayer() (Layer, error) {
	l := Layer{Handle: fl.Handle, Transform: fl.Transform}

	switch strings.ToLower(fl.Composition) {
	case "", "fb", "gles", "framebuffer":
		l.Composition = Framebuffer
	case "force_fb":
		l.Composition = ForceFramebuffer
	case "hwc", "overlay":
		l.Composition = Overlay
	case "sideband":
		l.Composition = Sideband
	case "fbt", "target":
		l.Composition = FramebufferTarget
	default:
		return l, fmt.Errorf("unknown composition %q", fl.Composition)
	}

	if fl.Format != "" {
		f, err := ParseFormat(fl.Format)
		if err != nil {
			return l, err
		}
		l.Format = f
	}

	for _, flag := range fl.Flags {
		switch strings.ToLower(flag) {
		case "skip":
			l.Flags |= FlagSkip
		case "cursor":
			l.Flags |= FlagCursor
		default:
			return l, fmt.Errorf("unknown flag %q", flag)
		}
	}

	var err error
	if l.DisplayFrame, err = rect("frame", fl.Frame); err != nil {
		return l, err
	}
	if len(fl.Crop) == 0 {
		l.SourceCrop = Rect{Right: l.DisplayFrame.Width(), Bottom: l.DisplayFrame.Height()}
	} else if l.SourceCrop, err = rect("crop", fl.Crop); err != nil {
		return l, err
	}

	switch len(fl.Buffer) {
	case 0:
		l.BufferWidth, l.BufferHeight = l.SourceCrop.Right, l.SourceCrop.Bottom
	case 2:
		l.BufferWidth, l.BufferHeight = fl.Buffer[0], fl.Buffer[1]
	default:
		return l, fmt.Errorf("buffer must be [width, height]")
	}
	return l, nil
}

func rect(name string, v []int) (Rect, error) {
	if len(v) != 4 {
		return Rect{}, fmt.Errorf("%s must be [left, top, right, bottom], got %v", name, v)
	}
	return Rect{Left: v[0], Top: v[1], Right: v[2], Bottom: v[3]}, nil
}
