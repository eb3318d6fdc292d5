package server

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPoolDo(t *testing.T) {
	p := NewWorkerPool(2)
	defer p.Stop()

	v, err := p.Do(bg(), func() any { return 42 })
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if v.(int) != 42 {
		t.Errorf("value = %v, want 42", v)
	}
}

func TestWorkerPoolRecoversPanic(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Stop()

	_, err := p.Do(bg(), func() any { panic("boom") })
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v, want panic error", err)
	}

	// The worker survives the panic.
	if v, err := p.Do(bg(), func() any { return "ok" }); err != nil || v != "ok" {
		t.Errorf("Do after panic = %v, %v", v, err)
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	p := NewWorkerPool(3)
	defer p.Stop()

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Do(bg(), func() any {
				n := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}

func TestWorkerPoolStopped(t *testing.T) {
	p := NewWorkerPool(1)
	p.Stop()
	p.Stop() // idempotent

	if _, err := p.Do(bg(), func() any { return nil }); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("err = %v, want ErrPoolStopped", err)
	}
}

func TestWorkerPoolContextCancelled(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	go p.Do(bg(), func() any {
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(bg(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Do(ctx, func() any { return nil })
	close(release)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestWorkerPoolDefaultSize(t *testing.T) {
	p := NewWorkerPool(0)
	defer p.Stop()
	if p.Size() < 1 {
		t.Errorf("Size = %d", p.Size())
	}
}
