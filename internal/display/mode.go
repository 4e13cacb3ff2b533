package display

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode is one display timing, reduced to what the composer needs
type Mode struct {
	Width   int
	Height  int
	Refresh int // zero when the source does not report it
}

func (m Mode) String() string {
	if m.Refresh > 0 {
		return fmt.Sprintf("%dx%d@%d", m.Width, m.Height, m.Refresh)
	}
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}

// ParseMode reads "WIDTHxHEIGHT" or "WIDTHxHEIGHT@HZ". A trailing "i" for
// interlaced modes, as found in sysfs, is accepted.
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(s)
	res, rate, hasRate := strings.Cut(s, "@")
	res = strings.TrimSuffix(res, "i")

	ws, hs, ok := strings.Cut(res, "x")
	if !ok {
		return Mode{}, fmt.Errorf("invalid mode %q: expected WIDTHxHEIGHT", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return Mode{}, fmt.Errorf("invalid mode %q: bad width", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return Mode{}, fmt.Errorf("invalid mode %q: bad height", s)
	}

	m := Mode{Width: w, Height: h}
	if hasRate {
		r, err := strconv.ParseFloat(rate, 64)
		if err != nil || r <= 0 {
			return Mode{}, fmt.Errorf("invalid mode %q: bad refresh rate", s)
		}
		m.Refresh = int(r + 0.5)
	}
	return m, nil
}

// ParseModes parses a list of modes, stopping at the first error
func ParseModes(list []string) ([]Mode, error) {
	modes := make([]Mode, 0, len(list))
	for _, s := range list {
		m, err := ParseMode(s)
		if err != nil {
			return nil, err
		}
		modes = append(modes, m)
	}
	return modes, nil
}
