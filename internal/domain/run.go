package domain

import "time"

// RunMode selects how a grid is evaluated.
type RunMode string

const (
	ModeDynamic    RunMode = "dynamic"
	ModeStatic     RunMode = "static"
	ModeSequential RunMode = "sequential"
)

// ParseRunMode validates a mode name.
func ParseRunMode(s string) (RunMode, error) {
	switch m := RunMode(s); m {
	case ModeDynamic, ModeStatic, ModeSequential:
		return m, nil
	}
	return "", ErrUnknownMode
}

// RunStatus is the outcome of a run.
type RunStatus string

const (
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFallback  RunStatus = "FALLBACK" // no workers; sequential result
	RunFailed    RunStatus = "FAILED"
)

// WorkerStat is one worker's share of a run.
type WorkerStat struct {
	Worker WorkerID `json:"worker"`
	Tasks  int      `json:"tasks"`
	Failed bool     `json:"failed,omitempty"`
}

// RunRecord is the persisted summary of one run.
type RunRecord struct {
	ID         string        `json:"id"`
	Mode       RunMode       `json:"mode"`
	Cost       string        `json:"cost"`
	Size       int           `json:"size"`
	Workers    int           `json:"workers"`
	TotalTasks int           `json:"total_tasks"`
	Answer     float64       `json:"answer"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Reassigned int           `json:"reassigned"`
	Status     RunStatus     `json:"status"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	PerWorker  []WorkerStat  `json:"per_worker,omitempty"`
}

// RunRequest describes one evaluation of a grid.
type RunRequest struct {
	Size        int           `json:"size"`
	Workers     int           `json:"workers"` // < 0: one per spare CPU
	Mode        RunMode       `json:"mode"`
	Cost        string        `json:"cost"`
	Listen      string        `json:"listen,omitempty"` // TCP address; empty runs workers in-process
	TaskTimeout time.Duration `json:"task_timeout,omitempty"`
}
