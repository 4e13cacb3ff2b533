package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bnema/hwcplane/internal/commit"
	"github.com/bnema/hwcplane/internal/ui"
)

var recordsCmd = &cobra.Command{
	Use:   "records <file>",
	Short: "Print a commit recording made by 'simulate --record'",
	Args:  cobra.ExactArgs(1),
	// reading a recording needs no configuration
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open recording: %w", err)
		}
		defer f.Close()

		records, err := commit.ReadRecords(f)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ui.FormatHeader("RECORDS", fmt.Sprintf("%s, %d cycle(s)", args[0], len(records))))
		for _, r := range records {
			fmt.Fprintln(out, ui.CommitRecord(r))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recordsCmd)
}
