// Package worker provides the bounded goroutine pool that fans service
// runs out over their target devices, and the cron scheduler that
// triggers recurring runs.
package worker

import (
	"context"
	"sync"

	"github.com/netfabd/netfabd/internal/log"
)

// Job is one unit of work, a single-device slice of a service run.
// Service and Device identify the job in logs.
type Job struct {
	Service string
	Device  string
	Run     func(context.Context) error
}

// WorkerPool bounds how many device sessions are open at once across
// all concurrent service runs.
type WorkerPool struct {
	maxWorkers int
	jobs       chan Job
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewWorkerPool creates a pool with the given concurrency.
func NewWorkerPool(maxWorkers int) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		maxWorkers: maxWorkers,
		jobs:       make(chan Job, 100),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the workers.
func (p *WorkerPool) Start() {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Info("Worker pool started", "workers", p.maxWorkers)
}

// Stop cancels the pool and waits for running jobs to finish. Queued
// jobs that have not started yet are dropped.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Submit queues a job. Submit blocks while the queue is full and fails
// once the pool is stopping.
func (p *WorkerPool) Submit(job Job) error {
	if err := p.ctx.Err(); err != nil {
		return err
	}
	select {
	case p.jobs <- job:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			log.Debug("Worker running device job",
				"worker_id", id, "service", job.Service, "device", job.Device)

			if err := job.Run(p.ctx); err != nil {
				log.Warn("Device job failed",
					"service", job.Service, "device", job.Device, "error", err)
			}
		}
	}
}
