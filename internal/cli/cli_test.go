package cli

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tutu-network/gridpool/internal/daemon"
	"github.com/tutu-network/gridpool/internal/domain"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInsufficientWorkers, 2},
		{fmt.Errorf("run: %w", domain.ErrInsufficientWorkers), 2},
		{domain.ErrTransport, 1},
		{domain.ErrProtocolViolation, 1},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestPrintResult(t *testing.T) {
	rec := domain.RunRecord{
		ID:      "abc",
		Mode:    domain.ModeDynamic,
		Cost:    "heavy",
		Size:    30,
		Workers: 2,
		Answer:  123456.789,
		Elapsed: 1500 * time.Millisecond,
		Status:  domain.RunSucceeded,
		PerWorker: []domain.WorkerStat{
			{Worker: 1, Tasks: 500},
			{Worker: 2, Tasks: 400, Failed: true},
		},
	}

	var buf bytes.Buffer
	printResult(&buf, rec, true)
	out := buf.String()
	for _, want := range []string{
		"answer = 1.234568e+05",
		"Execution time: 1.500000 seconds",
		"worker-1",
		"missed deadline",
		"run: abc",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printResult(&buf, rec, false)
	if strings.Contains(buf.String(), "WORKER") {
		t.Errorf("non-verbose output has worker table:\n%s", buf.String())
	}
}

func TestPrintResult_Fallback(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, domain.RunRecord{Mode: domain.ModeDynamic, Size: 4, Status: domain.RunFallback, Answer: 48}, false)
	if !strings.Contains(buf.String(), "computed sequentially") {
		t.Errorf("fallback output:\n%s", buf.String())
	}
}

func TestPrintComparison(t *testing.T) {
	cmp := daemon.Comparison{
		Agree: true,
		Runs: []domain.RunRecord{
			{Mode: domain.ModeSequential, Elapsed: 4 * time.Second, Status: domain.RunSucceeded},
			{Mode: domain.ModeStatic, Workers: 4, Elapsed: 2 * time.Second, Status: domain.RunSucceeded},
			{Mode: domain.ModeDynamic, Workers: 4, Elapsed: time.Second, Status: domain.RunSucceeded},
		},
	}
	var buf bytes.Buffer
	printComparison(&buf, cmp)
	out := buf.String()
	for _, want := range []string{"2.00x", "4.00x", "answers agree"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"run": false, "worker": false, "compare": false, "runs": false, "show": false, "serve": false, "config": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}
