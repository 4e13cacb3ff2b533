package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bnema/hwcplane/internal/config"
	"github.com/bnema/hwcplane/internal/frame"
	"github.com/bnema/hwcplane/internal/logger"
	"github.com/bnema/hwcplane/internal/plane"
	"github.com/bnema/hwcplane/internal/planemgr"
	"github.com/bnema/hwcplane/internal/ui"
)

var assignCmd = &cobra.Command{
	Use:   "assign <type[:transform]>...",
	Short: "Try one plane assignment for a z-order request",
	Long: `Run the plane manager on a single z-order request, bottom entry first.
Each entry names the requested plane type (primary, sprite, overlay or
cursor), optionally followed by a transform such as "overlay:rot90".

Example:
  hwcplane assign --pipe 0 overlay sprite sprite`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, _ := cmd.Flags().GetInt("pipe")
		showPlanes, _ := cmd.Flags().GetBool("planes")

		zc, err := parseZOrderConfig(args)
		if err != nil {
			return err
		}

		c, err := capabilityFromFlags(cmd)
		if err != nil {
			return err
		}
		mgr, err := planemgr.New(c)
		if err != nil {
			return err
		}
		if err := mgr.Initialize(config.Get().Hardware.BufferCount, &plane.SyntheticAllocator{}); err != nil {
			return err
		}
		defer mgr.Deinitialize()

		ok := mgr.IsValidZOrder(pipe, zc)
		if !ok {
			logger.Debug("rejected by validity check", "pipe", pipe, "size", len(zc))
		} else {
			ok = mgr.AssignPlanes(pipe, zc)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ui.FormatHeader(c.Name, strings.Join(args, " ")))
		fmt.Fprintln(out, ui.Assignment(pipe, zc, ok))
		if showPlanes {
			fmt.Fprintln(out, ui.PlaneStates(mgr.States()))
		}
		if !ok {
			return fmt.Errorf("no legal plane assignment on pipe %d", pipe)
		}
		return nil
	},
}

// parseZOrderConfig turns "type[:transform]" arguments into a request,
// bottom first
func parseZOrderConfig(args []string) (planemgr.ZOrderConfig, error) {
	var zc planemgr.ZOrderConfig
	for i, arg := range args {
		typ, tr, hasTransform := strings.Cut(arg, ":")
		t, err := plane.ParseType(typ)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		var transform uint32
		if hasTransform {
			if transform, err = frame.ParseTransform(tr); err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
		}
		zc.Insert(&planemgr.ZOrderLayer{
			PlaneType: t,
			Layer:     i,
			Transform: transform,
			ZOrder:    i,
			Plane:     plane.None,
		})
	}
	return zc, nil
}

func init() {
	assignCmd.Flags().IntP("pipe", "p", 0, "pipe to assign on")
	assignCmd.Flags().Bool("planes", false, "also show the state of every plane")
	addHardwareFlags(assignCmd)
	rootCmd.AddCommand(assignCmd)
}
