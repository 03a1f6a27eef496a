package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/tutu-network/gridpool/internal/daemon"
	"github.com/tutu-network/gridpool/internal/domain"
)

// newDaemon loads the config, applies the global flags and builds a daemon.
func newDaemon() (*daemon.Daemon, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Logging.Format = flagLogFormat
	}
	if flagNoRecord {
		cfg.Storage.Record = false
	}
	return daemon.NewWithConfig(cfg)
}

// printResult writes a run the way the benchmark always has: the answer in
// %e and the wall-clock time in seconds.
func printResult(w io.Writer, rec domain.RunRecord, verbose bool) {
	fmt.Fprintf(w, "mode: %s  workers: %d  grid: %dx%d  cost: %s\n",
		rec.Mode, rec.Workers, rec.Size, rec.Size, rec.Cost)
	if rec.Status == domain.RunFallback {
		fmt.Fprintln(w, "no workers available: computed sequentially")
	}
	fmt.Fprintf(w, "answer = %e\n", rec.Answer)
	fmt.Fprintf(w, "Execution time: %.6f seconds\n", rec.Elapsed.Seconds())
	if rec.Reassigned > 0 {
		fmt.Fprintf(w, "reassigned tasks: %d\n", rec.Reassigned)
	}
	if rec.ID != "" {
		fmt.Fprintf(w, "run: %s\n", rec.ID)
	}
	if verbose && len(rec.PerWorker) > 0 {
		fmt.Fprintln(w)
		printWorkers(w, rec.PerWorker)
	}
}

func printWorkers(w io.Writer, stats []domain.WorkerStat) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKER\tTASKS\tSTATE")
	for _, s := range stats {
		state := "ok"
		if s.Failed {
			state = "missed deadline"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Worker, s.Tasks, state)
	}
	tw.Flush()
}

// seconds formats a duration the way printResult does.
func seconds(d time.Duration) string {
	return fmt.Sprintf("%.6fs", d.Seconds())
}
