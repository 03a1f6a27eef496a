package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/gridpool/internal/domain"
)

func init() {
	runCmd.Flags().IntVar(&runSize, "size", 0, "Grid side length (overrides config)")
	runCmd.Flags().IntVarP(&runWorkers, "workers", "w", 0, "Number of workers; negative = one per spare CPU (overrides config)")
	runCmd.Flags().StringVarP(&runMode, "mode", "m", "dynamic", "Scheduling mode: dynamic, static or sequential")
	runCmd.Flags().StringVar(&runCost, "cost", "", "Cost function: heavy, constant or linear (overrides config)")
	runCmd.Flags().StringVar(&runListen, "listen", "", "Wait for TCP workers on this address instead of running them in-process")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Per-task deadline; a worker that misses it loses its task (0 = off)")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print per-worker task counts")
	rootCmd.AddCommand(runCmd)
}

var (
	runSize    int
	runWorkers int
	runMode    string
	runCost    string
	runListen  string
	runTimeout time.Duration
	runVerbose bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate the grid once",
	Long: `Evaluate the cost function over every grid cell and print the sum.

If fewer than one worker is available the grid is computed sequentially,
the answer is still printed and the command exits with status 2.`,
	Example: `  gridpool run --workers 8
  gridpool run --mode static --workers 8 --verbose
  gridpool run --listen :7461 --workers 4   # then start 4 'gridpool worker' processes`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	mode, err := domain.ParseRunMode(runMode)
	if err != nil {
		return fmt.Errorf("--mode %q: %w", runMode, err)
	}

	d, err := newDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	req := d.DefaultRequest()
	req.Mode = mode
	if runSize != 0 {
		req.Size = runSize
	}
	if cmd.Flags().Changed("workers") {
		req.Workers = runWorkers
	}
	if runCost != "" {
		req.Cost = runCost
	}
	if runListen != "" {
		req.Listen = runListen
	}
	if cmd.Flags().Changed("timeout") {
		req.TaskTimeout = runTimeout
	}

	rec, err := d.Execute(cmd.Context(), req)
	if rec.ID != "" && (err == nil || errors.Is(err, domain.ErrInsufficientWorkers)) {
		printResult(os.Stdout, rec, runVerbose)
	}
	return err
}
