package taskpool

import (
	"fmt"

	"github.com/tutu-network/gridpool/internal/domain"
)

// state is the scheduler's bookkeeping. It belongs to the goroutine running
// Master.Run and is never shared.
//
// Invariants: 0 ≤ received ≤ sent ≤ total, and sent − received ≤ workers.
type state struct {
	total    int
	workers  int
	sent     int
	received int
	acc      Sum
}

func newState(total, workers int) *state {
	return &state{total: total, workers: workers}
}

// markSent records that the next fresh task left the coordinator.
func (s *state) markSent() error {
	if s.sent >= s.total {
		return fmt.Errorf("send past end (%d/%d): %w", s.sent, s.total, domain.ErrProtocolViolation)
	}
	if s.sent-s.received >= s.workers {
		return fmt.Errorf("in-flight limit %d reached: %w", s.workers, domain.ErrProtocolViolation)
	}
	s.sent++
	return nil
}

// markReceived records one accepted result.
func (s *state) markReceived(v float64) error {
	if s.received >= s.sent {
		return fmt.Errorf("result without outstanding task (%d/%d): %w", s.received, s.sent, domain.ErrProtocolViolation)
	}
	s.received++
	s.acc.Add(v)
	return nil
}

func (s *state) inFlight() int   { return s.sent - s.received }
func (s *state) exhausted() bool { return s.sent == s.total }
func (s *state) done() bool      { return s.received == s.total }
