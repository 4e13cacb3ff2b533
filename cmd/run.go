package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/bnema/hwcplane/internal/caps"
	"github.com/bnema/hwcplane/internal/config"
	"github.com/bnema/hwcplane/internal/display"
	"github.com/bnema/hwcplane/internal/hwc"
	"github.com/bnema/hwcplane/internal/logger"
	"github.com/bnema/hwcplane/internal/plane"
	"github.com/bnema/hwcplane/internal/ui"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bring up the composer and watch hotplug and vsync",
	Long: `Bring up the composer on the configured display backend, then run the
hotplug and soft vsync observers until interrupted. Connector changes are
reported as they happen and vsync rates are logged periodically.`,
	RunE: runComposer,
}

func runComposer(cmd *cobra.Command, args []string) (err error) {
	vsync, _ := cmd.Flags().GetBool("vsync")
	interval, _ := cmd.Flags().GetDuration("report-interval")

	cfg := config.Get()
	c, err := caps.Resolve(cfg)
	if err != nil {
		return err
	}
	disp, err := display.New(cfg.Display)
	if err != nil {
		return err
	}
	logger.Infof("Display backend: %s", disp.Backend().Name())

	h, err := hwc.New(cfg, c, disp, &plane.SyntheticAllocator{})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, h.Close()) }()

	if err := h.Initialize(); err != nil {
		logger.Warnf("Composer came up degraded: %v", err)
	}

	out := cmd.OutOrStdout()
	var vsyncCount [2]atomic.Int64
	h.RegisterCallbacks(
		func(pipe int, timestamp int64) {
			if pipe >= 0 && pipe < len(vsyncCount) {
				vsyncCount[pipe].Add(1)
			}
		},
		func(pipe int, connected bool) {
			logger.Infof("Hotplug: pipe %d connected=%v", pipe, connected)
			if d := h.Device(pipe); d != nil {
				fmt.Fprintln(out, ui.DeviceStatus(d.Dump()))
				if vsync && connected {
					if err := d.VsyncControl(true); err != nil {
						logger.Warnf("Failed to enable vsync on pipe %d: %v", pipe, err)
					}
				}
			}
		},
	)

	fmt.Fprintln(out, ui.FormatHeader("HWCPLANE", c.Name))
	for _, d := range h.Devices() {
		fmt.Fprintln(out, ui.DeviceStatus(d.Dump()))
		if vsync && d.Connected() {
			if err := d.VsyncControl(true); err != nil {
				logger.Warnf("Failed to enable vsync on pipe %d: %v", d.Pipe(), err)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	if vsync && interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					for pipe := range vsyncCount {
						if n := vsyncCount[pipe].Swap(0); n > 0 {
							logger.Infof("Pipe %d: %.1f vsync/s", pipe, float64(n)/interval.Seconds())
						}
					}
				}
			}
		}()
	}

	return h.Run(ctx)
}

func init() {
	runCmd.Flags().Bool("vsync", true, "enable soft vsync on connected pipes")
	runCmd.Flags().Duration("report-interval", 5*time.Second, "how often to log vsync rates")
	rootCmd.AddCommand(runCmd)
}
