// Package workers runs independent jobs on a bounded set of goroutines.
package workers

import (
	"context"
	"sync"
)

// DefaultWorkers is used when a pool is created with a non-positive size.
const DefaultWorkers = 3

// Job is a unit of work. Jobs must not share mutable state.
type Job func(ctx context.Context) error

// Pool manages a pool of worker goroutines for parallel solves
type Pool struct {
	numWorkers int
}

// NewPool creates a new worker pool with the specified number of workers
func NewPool(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = DefaultWorkers
	}
	return &Pool{
		numWorkers: numWorkers,
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.numWorkers
}

// Run executes jobs in parallel and waits for all of them. Errors are
// collected by job index; the error of the lowest-indexed failing job is
// returned. Jobs still queued when ctx is cancelled are skipped and report
// ctx.Err().
func (p *Pool) Run(ctx context.Context, jobs []Job) error {
	errs := p.RunAll(ctx, jobs)
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// RunAll executes jobs in parallel and returns one error per job, in input
// order.
func (p *Pool) RunAll(ctx context.Context, jobs []Job) []error {
	numJobs := len(jobs)
	if numJobs == 0 {
		return []error{}
	}

	queue := make(chan jobItem, numJobs)
	results := make(chan resultItem, numJobs)

	var wg sync.WaitGroup
	numActualWorkers := p.numWorkers
	if numJobs < numActualWorkers {
		numActualWorkers = numJobs
	}

	for i := 0; i < numActualWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, queue, results)
		}()
	}

	for idx, job := range jobs {
		queue <- jobItem{index: idx, job: job}
	}
	close(queue)

	go func() {
		wg.Wait()
		close(results)
	}()

	errs := make([]error, numJobs)
	for result := range results {
		errs[result.index] = result.err
	}
	return errs
}

type jobItem struct {
	index int
	job   Job
}

type resultItem struct {
	index int
	err   error
}

func worker(ctx context.Context, queue <-chan jobItem, results chan<- resultItem) {
	for item := range queue {
		if err := ctx.Err(); err != nil {
			results <- resultItem{index: item.index, err: err}
			continue
		}
		results <- resultItem{index: item.index, err: item.job(ctx)}
	}
}
