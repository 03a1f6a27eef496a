package taskpool

import (
	"time"

	"github.com/tutu-network/gridpool/internal/domain"
)

// reassignEntry is a task taken back from a worker that missed its deadline.
type reassignEntry struct {
	Task     domain.Task
	From     domain.WorkerID
	FailedAt time.Time
	Attempt  int
}

// reassignQueue holds tasks waiting for a live worker. FIFO: the oldest
// stalled task goes out first. Only used when a task timeout is set.
type reassignQueue struct {
	entries []reassignEntry
	total   int
}

func (q *reassignQueue) push(e reassignEntry) {
	q.entries = append(q.entries, e)
	q.total++
}

func (q *reassignQueue) pop() (reassignEntry, bool) {
	if len(q.entries) == 0 {
		return reassignEntry{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}

func (q *reassignQueue) len() int { return len(q.entries) }
