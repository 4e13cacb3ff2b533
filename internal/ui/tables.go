package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/bnema/hwcplane/internal/caps"
	"github.com/bnema/hwcplane/internal/commit"
	"github.com/bnema/hwcplane/internal/device"
	"github.com/bnema/hwcplane/internal/layerlist"
	"github.com/bnema/hwcplane/internal/plane"
	"github.com/bnema/hwcplane/internal/planemgr"
)

var cellStyle = lipgloss.NewStyle().Foreground(ColorText).Padding(0, 1)

// newTable builds a table in the house style. planeCols marks columns that
// hold plane IDs or type names and get tinted by plane type.
func newTable(headers []string, rows [][]string, planeCols ...int) *table.Table {
	tinted := make(map[int]bool, len(planeCols))
	for _, c := range planeCols {
		tinted[c] = true
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorSubtle)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return lipgloss.NewStyle().
					Foreground(ColorPrimary).
					Bold(true).
					Padding(0, 1)
			case tinted[col] && row >= 0 && row < len(rows):
				return PlaneStyle(planeType(rows[row][col])).Padding(0, 1)
			default:
				return cellStyle
			}
		}).
		Headers(headers...).
		Rows(rows...)
}

// planeType extracts the type name from "sprite/0" or "SPRITE"
func planeType(cell string) string {
	typ, _, _ := strings.Cut(cell, "/")
	return typ
}

func planeList(ids []plane.ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = PlaneStyle(id.Type.String()).Render(id.String())
	}
	return strings.Join(parts, " ")
}

// CapabilityTables renders the plane inventory and the z-order table of
// every pipe
func CapabilityTables(c *caps.Capability) string {
	var b strings.Builder

	workaround := "off"
	if c.OverlayHwWorkaround {
		workaround = "on"
	}
	b.WriteString(FormatHeader(strings.ToUpper(c.Name),
		fmt.Sprintf("max layers %d, overlay erratum %s", c.MaxLayers, workaround)))
	b.WriteString("\n")

	noTransform := make(map[plane.ID]bool)
	for _, id := range c.NoTransform {
		noTransform[id] = true
	}
	var inventory [][]string
	for _, t := range plane.Types {
		for i := 0; i < c.Count(t); i++ {
			id := plane.ID{Type: t, Index: i}
			transform := "any"
			if noTransform[id] {
				transform = "identity only"
			}
			inventory = append(inventory, []string{id.String(), transform})
		}
	}
	b.WriteString(newTable([]string{"PLANE", "TRANSFORM"}, inventory, 0).String())
	b.WriteString("\n")

	for pi := range c.Pipes {
		p := &c.Pipes[pi]
		sub := fmt.Sprintf("primary %s, cursor %s, sprites %v, max %d", p.Primary, p.Cursor, p.Sprites, p.MaxSprites)
		if p.BottomOverlaySpriteLimit > 0 {
			sub += fmt.Sprintf(", bottom overlay limit %d", p.BottomOverlaySpriteLimit)
		}
		b.WriteString("\n")
		b.WriteString(HeaderStyle.Render(fmt.Sprintf("Pipe %d", pi)) + " " + SubtleStyle.Render(sub))
		b.WriteString("\n")

		rows := make([][]string, 0, len(p.ZOrder))
		for ri, r := range p.ZOrder {
			rows = append(rows, []string{
				strconv.Itoa(ri),
				fmt.Sprintf("%04b", r.Overlays),
				planeList(r.Planes),
			})
		}
		b.WriteString(newTable([]string{"ROW", "OVERLAYS", "PLANES (BOTTOM FIRST)"}, rows).String())
		b.WriteString("\n")
	}
	return b.String()
}

// Findings renders table validation results
func Findings(findings []caps.Finding) string {
	if len(findings) == 0 {
		return FormatResult(true, "tables are consistent", "")
	}
	var b strings.Builder
	for _, f := range findings {
		icon, style := WarningStyle.Render(IconWarning), WarningStyle
		if f.Severity == caps.Error {
			icon, style = ErrorStyle.Render(IconError), ErrorStyle
		}
		b.WriteString(icon + " " + style.Render(f.String()) + "\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Assignment renders the result of a plane assignment for a z-order config
func Assignment(pipe int, config planemgr.ZOrderConfig, ok bool) string {
	rows := make([][]string, 0, len(config))
	for i, zl := range config {
		bound, slot := "-", "-"
		if zl.Bound() {
			bound = zl.Plane.String()
			slot = strconv.Itoa(zl.Slot)
		}
		rows = append(rows, []string{strconv.Itoa(i), zl.PlaneType.String(), bound, slot})
	}
	message := "assigned"
	if !ok {
		message = "no legal assignment"
	}
	status := FormatResult(ok, fmt.Sprintf("pipe %d", pipe), message)
	return status + "\n" + newTable([]string{"POS", "REQUEST", "PLANE", "SLOT"}, rows, 1, 2).String()
}

// LayerDump renders a layer list dump
func LayerDump(rows []layerlist.DumpRow) string {
	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		index, zorder := "-", "-"
		if r.Index >= 0 {
			index = strconv.Itoa(r.Index)
		}
		if r.ZOrder >= 0 {
			zorder = strconv.Itoa(r.ZOrder)
		}
		cells = append(cells, []string{strconv.Itoa(r.Layer), r.Type, r.Plane, index, zorder})
	}
	return newTable([]string{"LAYER", "TYPE", "PLANE", "INDEX", "Z-ORDER"}, cells, 2).String()
}

// DeviceStatus renders one device snapshot
func DeviceStatus(s device.Status) string {
	var b strings.Builder

	state := "disconnected"
	if s.Connected {
		state = s.State.String()
		if s.Blank {
			state += ", blanked"
		}
		if s.Vsync {
			state += ", vsync on"
		}
	}
	b.WriteString(FormatStatus(s.Connected, fmt.Sprintf("pipe %d %s", s.Pipe, HeaderStyle.Render(s.Name))))
	b.WriteString(" " + SubtleStyle.Render("("+state+")"))

	for i, c := range s.Configs {
		marker := " "
		if i == s.Active {
			marker = "*"
		}
		b.WriteString(fmt.Sprintf("\n  %s %s", marker, TextStyle.Render(c.String())))
	}

	if len(s.Layers) > 0 {
		b.WriteString("\n")
		b.WriteString(LayerDump(s.Layers))
		b.WriteString("\n" + SubtleStyle.Render(fmt.Sprintf("%d layer(s) composed by the GPU", s.FBLayers)))
	}
	return b.String()
}

// PlaneStates renders the state of every plane
func PlaneStates(states []plane.State) string {
	rows := make([][]string, 0, len(states))
	for _, s := range states {
		enabled, pipe, layer, slot, zorder := "no", "-", "-", "-", "-"
		if s.Enabled {
			enabled = "yes"
		}
		if s.Pipe >= 0 {
			pipe = strconv.Itoa(s.Pipe)
		}
		if s.Layer != plane.NoLayer {
			layer = strconv.Itoa(s.Layer)
		}
		if s.Slot >= 0 {
			slot = strconv.Itoa(s.Slot)
		}
		if s.ZOrder >= 0 {
			zorder = strconv.Itoa(s.ZOrder)
		}
		rows = append(rows, []string{s.ID.String(), enabled, pipe, layer, slot, zorder})
	}
	return newTable([]string{"PLANE", "ENABLED", "PIPE", "LAYER", "SLOT", "Z-ORDER"}, rows, 0).String()
}

// CommitRecord renders one recorded composition cycle
func CommitRecord(r commit.Record) string {
	var rows [][]string
	for _, pc := range r.Pipes {
		for _, u := range pc.Planes {
			enabled := "no"
			if u.Enabled {
				enabled = "yes"
			}
			rows = append(rows, []string{
				strconv.Itoa(pc.Pipe),
				u.Plane.String(),
				strconv.Itoa(u.Layer),
				enabled,
				strconv.Itoa(u.Slot),
				strconv.Itoa(u.ZOrder),
				fmt.Sprintf("%#x", u.Handle),
			})
		}
	}
	header := HeaderStyle.Render(fmt.Sprintf("Cycle %d", r.Cycle))
	if len(rows) == 0 {
		return header + " " + SubtleStyle.Render("(nothing committed)")
	}
	return header + "\n" + newTable([]string{"PIPE", "PLANE", "LAYER", "ENABLED", "SLOT", "Z-ORDER", "HANDLE"}, rows, 1).String()
}
