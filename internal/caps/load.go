package caps

import (
	"fmt"
	"strings"

	"github.com/bnema/hwcplane/internal/config"
	"github.com/bnema/hwcplane/internal/logger"
	"github.com/bnema/hwcplane/internal/plane"
	"github.com/spf13/viper"
)

// fileRow, filePipe and fileCapability mirror the TOML layout of a
// capability description
type fileRow struct {
	Overlays uint32   `mapstructure:"overlays"`
	Planes   []string `mapstructure:"planes"`
}

type filePipe struct {
	Primary                  string    `mapstructure:"primary"`
	Cursor                   string    `mapstructure:"cursor"`
	Sprites                  []int     `mapstructure:"sprites"`
	MaxSprites               int       `mapstructure:"max_sprites"`
	BottomOverlaySpriteLimit int       `mapstructure:"bottom_overlay_sprite_limit"`
	ZOrder                   []fileRow `mapstructure:"zorder"`
}

type fileCapability struct {
	Name                string     `mapstructure:"name"`
	SpritePlanes        int        `mapstructure:"sprite_planes"`
	OverlayPlanes       int        `mapstructure:"overlay_planes"`
	PrimaryPlanes       int        `mapstructure:"primary_planes"`
	CursorPlanes        int        `mapstructure:"cursor_planes"`
	MaxLayers           int        `mapstructure:"max_layers"`
	OverlayHwWorkaround bool       `mapstructure:"overlay_hw_workaround"`
	NoTransform         []string   `mapstructure:"no_transform"`
	Pipes               []filePipe `mapstructure:"pipes"`
}

// Load reads a capability description from a TOML file. Descriptions with
// error findings are rejected; warnings are logged.
func Load(path string) (*Capability, error) {
	c, err := Parse(path)
	if err != nil {
		return nil, err
	}
	if err := check(c); err != nil {
		return nil, fmt.Errorf("capability file %s: %w", path, err)
	}
	return c, nil
}

// Parse reads a capability description without validating it
func Parse(path string) (*Capability, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading capability file: %w", err)
	}

	var raw fileCapability
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("unable to unmarshal capability file: %w", err)
	}

	c, err := raw.convert()
	if err != nil {
		return nil, fmt.Errorf("capability file %s: %w", path, err)
	}
	return c, nil
}

// Resolve picks the capability description the configuration asks for
func Resolve(cfg *config.Config) (*Capability, error) {
	if cfg.Hardware.TablesFile != "" {
		return Load(cfg.Hardware.TablesFile)
	}
	c, err := Builtin(cfg.Hardware.Generation, cfg.CommandModePanel())
	if err != nil {
		return nil, err
	}
	if err := check(c); err != nil {
		return nil, err
	}
	return c, nil
}

func check(c *Capability) error {
	findings := c.Validate()
	var errs []string
	for _, f := range findings {
		if f.Severity == Error {
			errs = append(errs, f.String())
			continue
		}
		logger.Warn("capability table", "generation", c.Name, "finding", f.String())
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid capability description %q:\n  %s", c.Name, strings.Join(errs, "\n  "))
	}
	return nil
}

func (f *fileCapability) convert() (*Capability, error) {
	c := &Capability{
		Name:                f.Name,
		SpritePlanes:        f.SpritePlanes,
		OverlayPlanes:       f.OverlayPlanes,
		PrimaryPlanes:       f.PrimaryPlanes,
		CursorPlanes:        f.CursorPlanes,
		MaxLayers:           f.MaxLayers,
		OverlayHwWorkaround: f.OverlayHwWorkaround,
	}
	if c.Name == "" {
		c.Name = "custom"
	}

	for _, s := range f.NoTransform {
		id, err := plane.ParseID(s)
		if err != nil {
			return nil, fmt.Errorf("no_transform: %w", err)
		}
		c.NoTransform = append(c.NoTransform, id)
	}

	for pi, fp := range f.Pipes {
		p := Pipe{
			Sprites:                  fp.Sprites,
			MaxSprites:               fp.MaxSprites,
			BottomOverlaySpriteLimit: fp.BottomOverlaySpriteLimit,
		}
		var err error
		if p.Primary, err = plane.ParseID(fp.Primary); err != nil {
			return nil, fmt.Errorf("pipe %d primary: %w", pi, err)
		}
		if fp.Cursor != "" {
			if p.Cursor, err = plane.ParseID(fp.Cursor); err != nil {
				return nil, fmt.Errorf("pipe %d cursor: %w", pi, err)
			}
		}
		for ri, fr := range fp.ZOrder {
			r := ZOrderRow{Overlays: fr.Overlays}
			for _, s := range fr.Planes {
				id, err := plane.ParseID(s)
				if err != nil {
					return nil, fmt.Errorf("pipe %d row %d: %w", pi, ri, err)
				}
				r.Planes = append(r.Planes, id)
			}
			p.ZOrder = append(p.ZOrder, r)
		}
		c.Pipes = append(c.Pipes, p)
	}
	return c, nil
}
