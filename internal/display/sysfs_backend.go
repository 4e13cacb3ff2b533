package display

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bnema/hwcplane/internal/config"
	"github.com/bnema/hwcplane/internal/logger"
)

// sysfsBackend reads connector state from /sys/class/drm. Sysfs carries no
// refresh rates or physical size; those come from the config.
type sysfsBackend struct {
	root string
}

func newSysfsBackend(cfg config.DisplayConfig) (Backend, error) {
	root := cfg.DRMPath
	if root == "" {
		root = "/sys/class/drm"
	}
	if !fileExists(root) {
		return nil, fmt.Errorf("%s does not exist", root)
	}
	for _, c := range cfg.Connectors {
		if !fileExists(filepath.Join(root, c.Name, "status")) {
			return nil, fmt.Errorf("connector %s not found under %s", c.Name, root)
		}
	}
	return &sysfsBackend{root: root}, nil
}

func (s *sysfsBackend) Name() string { return "sysfs" }

func (s *sysfsBackend) StatusPath(name string) string {
	return filepath.Join(s.root, name, "status")
}

func (s *sysfsBackend) Connector(name string) (*Connector, error) {
	status, err := os.ReadFile(s.StatusPath(name))
	if err != nil {
		return nil, fmt.Errorf("reading status: %w", err)
	}
	conn := &Connector{
		Name:      name,
		Connected: strings.TrimSpace(string(status)) == "connected",
	}
	if !conn.Connected {
		return conn, nil
	}

	f, err := os.Open(filepath.Join(s.root, name, "modes"))
	if err != nil {
		return nil, fmt.Errorf("reading modes: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		m, err := ParseMode(line)
		if err != nil {
			logger.Debugf("sysfs: skipping mode line %q of %s: %v", line, name, err)
			continue
		}
		conn.Modes = append(conn.Modes, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading modes: %w", err)
	}
	return conn, nil
}

func (s *sysfsBackend) Close() error {
	return nil
}
