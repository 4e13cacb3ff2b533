package display

import (
	"fmt"
	"sync"

	"github.com/bnema/hwcplane/internal/config"
)

// staticBackend serves connectors straight from the config, for headless
// runs and simulation. SetConnected stands in for a cable being plugged.
type staticBackend struct {
	mu         sync.Mutex
	connectors map[string]*Connector
}

func newStaticBackend(cfg config.DisplayConfig) (Backend, error) {
	return NewStaticBackend(cfg.Connectors)
}

// NewStaticBackend builds a backend from connector descriptions
func NewStaticBackend(conns []config.ConnectorConfig) (Backend, error) {
	s := &staticBackend{connectors: make(map[string]*Connector)}
	for _, c := range conns {
		modes, err := ParseModes(c.Modes)
		if err != nil {
			return nil, fmt.Errorf("connector %s: %w", c.Name, err)
		}
		s.connectors[c.Name] = &Connector{
			Name:      c.Name,
			Pipe:      c.Pipe,
			Connected: c.Connected,
			Modes:     modes,
			MMWidth:   c.MMWidth,
			MMHeight:  c.MMHeight,
		}
	}
	return s, nil
}

func (s *staticBackend) Name() string { return "static" }

func (s *staticBackend) StatusPath(string) string { return "" }

func (s *staticBackend) Connector(name string) (*Connector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connectors[name]
	if !ok {
		return nil, fmt.Errorf("unknown connector %s", name)
	}
	cp := *c
	cp.Modes = append([]Mode(nil), c.Modes...)
	return &cp, nil
}

// SetConnected flips the connection state of a static connector
func SetConnected(b Backend, name string, connected bool) error {
	s, ok := b.(*staticBackend)
	if !ok {
		return fmt.Errorf("backend %s does not support manual hotplug", b.Name())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connectors[name]
	if !ok {
		return fmt.Errorf("unknown connector %s", name)
	}
	c.Connected = connected
	return nil
}

func (s *staticBackend) Close() error {
	return nil
}
