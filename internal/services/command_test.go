package services

import (
	"context"
	"os/exec"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestExecRunnerStreamsBothStreams(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	var (
		mu    sync.Mutex
		lines []string
	)
	runner := &ExecRunner{}
	err := runner.Run(context.Background(), "sh", []string{"-c", "echo out; echo err 1>&2"}, func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	sort.Strings(lines)
	if len(lines) != 2 || lines[0] != "err" || lines[1] != "out" {
		t.Fatalf("unexpected lines %v", lines)
	}
}

func TestExecRunnerReportsExitCode(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	runner := &ExecRunner{}
	if err := runner.Run(context.Background(), "sh", []string{"-c", "exit 3"}, nil); err == nil {
		t.Fatal("expected error for non-zero exit")
	}
}

func TestExecRunnerStopKillsProcess(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	runner := &ExecRunner{}
	done := make(chan error, 1)
	go func() {
		done <- runner.Run(context.Background(), "sleep", []string{"30"}, nil)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runner.Stop() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected killed process to report an error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process was not stopped")
	}
}

func TestExecRunnerStopWithoutProcess(t *testing.T) {
	runner := &ExecRunner{}
	if runner.Stop() {
		t.Fatal("expected Stop to report false when idle")
	}
}
