package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/bnema/hwcplane/internal/caps"
	"github.com/bnema/hwcplane/internal/commit"
	"github.com/bnema/hwcplane/internal/config"
	"github.com/bnema/hwcplane/internal/display"
	"github.com/bnema/hwcplane/internal/frame"
	"github.com/bnema/hwcplane/internal/hwc"
	"github.com/bnema/hwcplane/internal/logger"
	"github.com/bnema/hwcplane/internal/plane"
	"github.com/bnema/hwcplane/internal/ui"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.toml>",
	Short: "Replay a frame scenario through the composer",
	Long: `Run every cycle of a scenario file through prepare and commit, using
connectors from the configuration. Hotplug entries in the scenario flip the
configured connectors, so the static display backend is always used.

With --record, the committed plane states of every cycle are written to a
file that 'hwcplane records' can read back.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) (err error) {
	recordPath, _ := cmd.Flags().GetString("record")
	dumpEach, _ := cmd.Flags().GetBool("dump-each")

	s, err := frame.LoadScenario(args[0])
	if err != nil {
		return err
	}

	hw, err := hardwareConfig(cmd)
	if err != nil {
		return err
	}
	c, err := caps.Resolve(hw)
	if err != nil {
		return err
	}

	cfg := *config.Get()
	cfg.Display.Backend = "static"
	disp, err := display.New(cfg.Display)
	if err != nil {
		return err
	}

	h, err := hwc.New(&cfg, c, disp, &plane.SyntheticAllocator{})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, h.Close()) }()

	if err := h.Initialize(); err != nil {
		logger.Warnf("Composer came up degraded: %v", err)
	}
	h.RegisterCallbacks(nil, func(pipe int, connected bool) {
		logger.Infof("Hotplug: pipe %d connected=%v", pipe, connected)
	})

	var ctx commit.Context = commit.LogContext{}
	var rec *commit.Recorder
	if recordPath != "" {
		f, err := os.Create(recordPath)
		if err != nil {
			return fmt.Errorf("failed to create record file: %w", err)
		}
		bw := commit.NewBufferedWriter(f, 50*time.Millisecond, 64*1024)
		defer func() {
			err = multierr.Append(err, bw.Close())
			err = multierr.Append(err, f.Close())
		}()
		rec = commit.NewRecorder(bw)
		ctx = rec
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ui.FormatHeader("SIMULATE", fmt.Sprintf("%s on %s, %d cycle block(s)", s.Name, c.Name, len(s.Cycles))))

	err = h.RunScenario(s, disp.Backend(), ctx, func(cycle uint64, frames map[int]*frame.Frame) {
		if !dumpEach {
			return
		}
		fmt.Fprintln(out, ui.HeaderStyle.Render(fmt.Sprintf("Cycle %d", cycle)))
		for _, st := range h.Dump() {
			fmt.Fprintln(out, ui.DeviceStatus(st))
		}
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out)
	for _, st := range h.Dump() {
		fmt.Fprintln(out, ui.DeviceStatus(st))
	}
	fmt.Fprintln(out, ui.PlaneStates(h.Manager().States()))

	if rec != nil {
		logger.Infof("Recorded %d cycle(s) to %s", rec.Count(), recordPath)
	}
	return nil
}

func init() {
	simulateCmd.Flags().StringP("record", "r", "", "write committed plane states to this file")
	simulateCmd.Flags().Bool("dump-each", false, "print the device state after every cycle")
	addHardwareFlags(simulateCmd)
	rootCmd.AddCommand(simulateCmd)
}
