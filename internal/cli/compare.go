package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tutu-network/gridpool/internal/daemon"
)

func init() {
	compareCmd.Flags().IntVar(&compareSize, "size", 0, "Grid side length (overrides config)")
	compareCmd.Flags().IntVarP(&compareWorkers, "workers", "w", 0, "Number of workers for static and dynamic; negative = auto")
	compareCmd.Flags().StringVar(&compareCost, "cost", "", "Cost function (overrides config)")
	rootCmd.AddCommand(compareCmd)
}

var (
	compareSize    int
	compareWorkers int
	compareCost    string
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Run sequential, static and dynamic scheduling on the same grid",
	RunE:  runCompare,
}

func runCompare(cmd *cobra.Command, args []string) error {
	d, err := newDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	req := d.DefaultRequest()
	if compareSize != 0 {
		req.Size = compareSize
	}
	if cmd.Flags().Changed("workers") {
		req.Workers = compareWorkers
	}
	if compareCost != "" {
		req.Cost = compareCost
	}

	cmp, err := d.Compare(cmd.Context(), req)
	if err != nil {
		return err
	}
	printComparison(os.Stdout, cmp)
	return nil
}

func printComparison(w io.Writer, cmp daemon.Comparison) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODE\tWORKERS\tANSWER\tTIME\tSPEEDUP\tSTATUS")
	base := cmp.Runs[0].Elapsed
	for _, rec := range cmp.Runs {
		speedup := "-"
		if rec.Elapsed > 0 {
			speedup = fmt.Sprintf("%.2fx", base.Seconds()/rec.Elapsed.Seconds())
		}
		fmt.Fprintf(tw, "%s\t%d\t%e\t%s\t%s\t%s\n",
			rec.Mode, rec.Workers, rec.Answer, seconds(rec.Elapsed), speedup, rec.Status)
	}
	tw.Flush()

	if cmp.Agree {
		fmt.Fprintln(w, "answers agree")
	} else {
		fmt.Fprintln(w, "WARNING: answers differ")
	}
}
