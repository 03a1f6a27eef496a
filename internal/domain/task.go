// Package domain holds the pure types shared by the scheduler, the transports
// and the outer layers. Nothing in here depends on infrastructure.
package domain

import "fmt"

// Task is one unit of work: a cell of the task space.
// It is identified 1:1 by its linear Index.
type Task struct {
	Index int `json:"index" cbor:"i"`
	X     int `json:"x" cbor:"x"`
	Y     int `json:"y" cbor:"y"`
}

func (t Task) String() string {
	return fmt.Sprintf("#%d(%d,%d)", t.Index, t.X, t.Y)
}

// TaskSpace is a finite, ordered set of tasks.
// At must be pure and total over [0, Len()).
type TaskSpace interface {
	Len() int
	At(i int) Task
}

// CostFunc evaluates one task. It must be deterministic and side-effect free.
type CostFunc func(x, y int) float64

// WorkerID identifies a worker for the lifetime of a run. IDs start at 1;
// the coordinator has no ID.
type WorkerID int

func (w WorkerID) String() string {
	return fmt.Sprintf("worker-%d", int(w))
}
