package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Show at most this many runs (0 = all)")
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(showCmd)
}

var runsLimit int

var runsCmd = &cobra.Command{
	Use:     "runs",
	Aliases: []string{"ls"},
	Short:   "List recorded runs, newest first",
	RunE:    runRuns,
}

func runRuns(cmd *cobra.Command, args []string) error {
	d, err := newDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	runs, err := d.Runs(runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet. Run 'gridpool run' to get started.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tGRID\tWORKERS\tANSWER\tTIME\tSTATUS\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%dx%d\t%d\t%e\t%s\t%s\t%s\n",
			r.ID, r.Mode, r.Size, r.Size, r.Workers, r.Answer,
			seconds(r.Elapsed), r.Status, r.StartedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

var showCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Show a recorded run with its per-worker breakdown",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	d, err := newDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	r, err := d.Run(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", r.ID)
	fmt.Printf("Mode:        %s\n", r.Mode)
	fmt.Printf("Cost:        %s\n", r.Cost)
	fmt.Printf("Grid:        %dx%d (%d tasks)\n", r.Size, r.Size, r.TotalTasks)
	fmt.Printf("Workers:     %d\n", r.Workers)
	fmt.Printf("Answer:      %e\n", r.Answer)
	fmt.Printf("Time:        %s\n", seconds(r.Elapsed))
	fmt.Printf("Reassigned:  %d\n", r.Reassigned)
	fmt.Printf("Status:      %s\n", r.Status)
	if r.Error != "" {
		fmt.Printf("Error:       %s\n", r.Error)
	}
	fmt.Printf("Started:     %s\n", r.StartedAt.Format("2006-01-02 15:04:05"))
	if len(r.PerWorker) > 0 {
		fmt.Println()
		printWorkers(os.Stdout, r.PerWorker)
	}
	return nil
}
