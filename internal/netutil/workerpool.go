// Package netutil holds small concurrency helpers shared by the server's
// transport layer — currently just a bounded worker pool, adapted from the
// teacher's connection-handling pool.
package netutil

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

// TaskChanSize bounds how many pending tasks can queue before AddTask blocks.
const TaskChanSize = 100

// WorkerFunc is the unit of work a pool runs for each submitted task.
type WorkerFunc func(t *tomb.Tomb, task any) error

// WorkerPool runs a fixed number of long-lived goroutines pulling tasks off
// a shared channel, supervised by a tomb so the whole pool winds down
// together when the owning tomb dies.
type WorkerPool struct {
	n     int
	tasks chan any
}

// NewWorkerPool creates a pool with size long-lived workers.
func NewWorkerPool(size int) WorkerPool {
	return WorkerPool{
		n:     size,
		tasks: make(chan any, TaskChanSize),
	}
}

// AddTask enqueues a task for some idle worker to pick up.
func (p *WorkerPool) AddTask(task any) {
	p.tasks <- task
}

// Run starts the pool's workers under t and blocks until t starts dying.
// Each worker loops over tasks until the tomb dies, rather than exiting
// after a single task.
func (p *WorkerPool) Run(t *tomb.Tomb, work WorkerFunc) {
	log.Info().Int("workers", p.n).Msg("starting worker pool")
	for i := 0; i < p.n; i++ {
		t.Go(func() error {
			return p.runWorker(t, work)
		})
	}
	<-t.Dying()
}

func (p *WorkerPool) runWorker(t *tomb.Tomb, work WorkerFunc) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-p.tasks:
			if err := work(t, task); err != nil {
				log.Error().Err(err).Msg("worker task failed")
			}
		}
	}
}
