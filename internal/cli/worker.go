package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	workerCmd.Flags().StringVar(&workerConnect, "connect", "", "Coordinator address (host:port)")
	workerCmd.Flags().StringVar(&workerName, "name", "", "Name announced to the coordinator (default: hostname + random suffix)")
	workerCmd.Flags().StringVar(&workerCost, "cost", "", "Cost function; must match the coordinator's (overrides config)")
	_ = workerCmd.MarkFlagRequired("connect")
	rootCmd.AddCommand(workerCmd)
}

var (
	workerConnect string
	workerName    string
	workerCost    string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Join a coordinator as a TCP worker",
	Long: `Connect to a coordinator started with 'gridpool run --listen', evaluate
the tasks it hands out and exit when it says the grid is done.`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	d, err := newDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	n, err := d.Work(cmd.Context(), workerConnect, workerName, workerCost)
	if err != nil {
		return err
	}
	fmt.Printf("worker finished: %d tasks\n", n)
	return nil
}
