package search

import (
	"context"
	"errors"
	"sync"

	"mdsearch/pkg/population"
)

// errPoolClosed is returned when submitting to a closed pool.
var errPoolClosed = errors.New("worker pool has been closed")

// task runs on a worker with the worker's own population.
type task func(pop *population.Population)

// workerPool runs tasks on a fixed set of goroutines. Each worker owns one
// Population for its whole lifetime so no population is shared.
type workerPool struct {
	tasks chan task
	wg    sync.WaitGroup
	once  sync.Once
	done  chan struct{}
}

func newWorkerPool(workers, numType int) (*workerPool, error) {
	wp := &workerPool{
		tasks: make(chan task, workers),
		done:  make(chan struct{}),
	}
	pops := make([]*population.Population, workers)
	for i := range pops {
		pop, err := population.New(numType)
		if err != nil {
			return nil, err
		}
		pops[i] = pop
	}
	for _, pop := range pops {
		wp.wg.Add(1)
		go wp.worker(pop)
	}
	return wp, nil
}

func (wp *workerPool) worker(pop *population.Population) {
	defer wp.wg.Done()
	for t := range wp.tasks {
		t(pop)
	}
}

// submit blocks until a worker accepts t, ctx is done or the pool is closed.
func (wp *workerPool) submit(ctx context.Context, t task) error {
	select {
	case <-wp.done:
		return errPoolClosed
	default:
	}
	select {
	case wp.tasks <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-wp.done:
		return errPoolClosed
	}
}

// close stops accepting tasks and waits for queued and running tasks.
// It must not be called concurrently with submit.
func (wp *workerPool) close() {
	wp.once.Do(func() {
		close(wp.done)
		close(wp.tasks)
		wp.wg.Wait()
	})
}
