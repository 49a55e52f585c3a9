package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestWorkerPoolRunsSubmittedJobs(t *testing.T) {
	pool := NewWorkerPool(3)
	pool.Start()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := pool.Submit(Job{
			Service: "backup",
			Device:  "edge-1",
			Run: func(context.Context) error {
				defer wg.Done()
				ran.Add(1)
				return nil
			},
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	wg.Wait()
	pool.Stop()

	if got := ran.Load(); got != 20 {
		t.Errorf("ran %d jobs, want 20", got)
	}
}

func TestWorkerPoolRejectsSubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()
	pool.Stop()

	err := pool.Submit(Job{Service: "backup", Device: "edge-1", Run: func(context.Context) error { return nil }})
	if err == nil {
		t.Error("Submit() accepted a job on a stopped pool")
	}
}
