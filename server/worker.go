package server

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// ErrPoolStopped is returned by Do after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// workRequest represents a unit of work to be executed on a pool goroutine.
type workRequest struct {
	fn   func() any
	done chan workResult
}

// workResult holds the return value from a work function.
type workResult struct {
	value any
	err   error
}

// WorkerPool runs verification work on a fixed set of goroutines so that a
// burst of requests cannot start unbounded parallel passes.
type WorkerPool struct {
	requests chan workRequest
	quit     chan struct{}
	stop     sync.Once
	wg       sync.WaitGroup
	size     int
}

// NewWorkerPool creates a pool of n goroutines (GOMAXPROCS when n <= 0)
// and starts them.
func NewWorkerPool(n int) *WorkerPool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	p := &WorkerPool{
		requests: make(chan workRequest),
		quit:     make(chan struct{}),
		size:     n,
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.loop()
	}
	return p
}

// Size returns the number of worker goroutines.
func (p *WorkerPool) Size() int {
	return p.size
}

// loop processes requests until the pool is stopped.
func (p *WorkerPool) loop() {
	defer p.wg.Done()
	for {
		select {
		case req := <-p.requests:
			req.done <- p.execute(req.fn)
		case <-p.quit:
			return
		}
	}
}

// execute runs a function, recovering from panics.
func (p *WorkerPool) execute(fn func() any) workResult {
	var result workResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn()
	}()
	return result
}

// Do submits fn to the pool and blocks until it completes or ctx is done.
// Requests are handed directly to an idle worker, so work accepted before
// Stop always completes. A panic in fn is returned as an error.
func (p *WorkerPool) Do(ctx context.Context, fn func() any) (any, error) {
	req := workRequest{
		fn:   fn,
		done: make(chan workResult, 1),
	}

	select {
	case p.requests <- req:
	case <-p.quit:
		return nil, ErrPoolStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case result := <-req.done:
		return result.value, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts down the worker goroutines and waits for running work to
// finish. It is safe to call more than once.
func (p *WorkerPool) Stop() {
	p.stop.Do(func() { close(p.quit) })
	p.wg.Wait()
}
