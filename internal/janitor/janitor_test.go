package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddRejectsBadSchedule(t *testing.T) {
	j := New(slog.Default())
	err := j.Add(Job{Name: "bad", Schedule: "not a schedule", Run: func(context.Context) error { return nil }})
	if err == nil {
		t.Fatal("expected error for malformed schedule")
	}
}

func TestJobRuns(t *testing.T) {
	j := New(slog.Default())

	var runs atomic.Int32
	err := j.Add(Job{
		Name:     "tick",
		Schedule: "@every 10ms",
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	j.Start()
	defer j.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFailedJobKeepsRunning(t *testing.T) {
	j := New(slog.Default())

	var runs atomic.Int32
	if err := j.Add(Job{
		Name:     "flaky",
		Schedule: "@every 10ms",
		Run: func(context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		},
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	j.Start()
	defer j.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("runs = %d, want at least 2", runs.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
