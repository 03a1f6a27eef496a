// Package cli implements the gridpool command-line interface using Cobra.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tutu-network/gridpool/internal/api"
	"github.com/tutu-network/gridpool/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "gridpool",
	Short: "Schedule a grid of tasks across a worker pool",
	Long: `gridpool evaluates a cost function over every cell of a square grid
using a coordinator and a pool of workers. Each worker gets a new cell the
moment it reports a result, so slow cells never hold the others back.

Workers run in-process by default, or as separate processes over TCP
(gridpool run --listen / gridpool worker --connect).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagLogLevel  string
	flagLogFormat string
	flagNoRecord  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format: console or json (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&flagNoRecord, "no-record", false, "Do not save this run to history")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version
	api.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 when the run fell back to sequential for lack of workers,
// 1 for every other failure.
func exitCode(err error) int {
	if errors.Is(err, domain.ErrInsufficientWorkers) {
		return 2
	}
	return 1
}
