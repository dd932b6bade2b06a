package exr

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ParallelConfig configures the process-wide default scheduler.
type ParallelConfig struct {
	// NumWorkers is the number of chunks processed at once.
	// 0 means runtime.GOMAXPROCS(0); 1 processes chunks on the calling goroutine.
	NumWorkers int
}

// DefaultParallelConfig returns the default parallel configuration.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{}
}

var (
	parallelConfig   = DefaultParallelConfig()
	parallelConfigMu sync.RWMutex

	defaultScheduler atomic.Pointer[Scheduler]
)

// SetParallelConfig sets the global parallel configuration. Readers and
// writers created afterwards without WithScheduler use it.
func SetParallelConfig(config ParallelConfig) {
	parallelConfigMu.Lock()
	defer parallelConfigMu.Unlock()
	parallelConfig = config
	defaultScheduler.Store(nil)
}

// GetParallelConfig returns the current parallel configuration.
func GetParallelConfig() ParallelConfig {
	parallelConfigMu.RLock()
	defer parallelConfigMu.RUnlock()
	return parallelConfig
}

// effectiveWorkers returns the number of workers to use.
func effectiveWorkers(config ParallelConfig) int {
	if config.NumWorkers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return config.NumWorkers
}

// DefaultScheduler returns the shared scheduler sized by the global
// ParallelConfig, creating it on first use.
func DefaultScheduler() *Scheduler {
	if s := defaultScheduler.Load(); s != nil {
		return s
	}
	s := NewScheduler(effectiveWorkers(GetParallelConfig()))
	if defaultScheduler.CompareAndSwap(nil, s) {
		return s
	}
	return defaultScheduler.Load()
}

// Worker is per-goroutine scratch state, typically a pipeline, that a
// Scheduler hands to tasks. Release is called once the batch is done.
type Worker interface {
	Release()
}

// Scheduler runs batches of chunk tasks with bounded parallelism.
//
// Each Run keeps a free list of at most Threads workers. A task checks one
// out, runs, and returns it, so concurrent tasks never share a worker.
// Every task runs even when others fail; Run returns the first failure,
// panics included.
type Scheduler struct {
	threads int
}

// NewScheduler returns a scheduler running up to threads tasks at once.
func NewScheduler(threads int) *Scheduler {
	if threads < 1 {
		threads = 1
	}
	return &Scheduler{threads: threads}
}

// Threads returns the parallelism bound.
func (s *Scheduler) Threads() int {
	return s.threads
}

// Run calls task(w, i) for every i in [0, n). Workers come from newWorker.
// With one task or one thread everything runs on the calling goroutine.
func (s *Scheduler) Run(n int, newWorker func() Worker, task func(w Worker, i int) error) error {
	if n <= 0 {
		return nil
	}
	if n == 1 || s.threads <= 1 {
		w := newWorker()
		defer w.Release()
		var first error
		for i := 0; i < n; i++ {
			if err := runTask(task, w, i); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	size := s.threads
	if n < size {
		size = n
	}
	pool := &workerPool{
		sem:       semaphore.NewWeighted(int64(size)),
		newWorker: newWorker,
	}
	defer pool.release()

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		w := pool.checkout()
		g.Go(func() error {
			defer pool.checkin(w)
			return runTask(task, w, i)
		})
	}
	return g.Wait()
}

func runTask(task func(w Worker, i int) error, w Worker, i int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("exr: panic in chunk task %d: %v\n%s", i, r, debug.Stack())
		}
	}()
	return task(w, i)
}

// workerPool is the per-batch free list of workers.
type workerPool struct {
	sem       *semaphore.Weighted
	newWorker func() Worker

	mu   sync.Mutex
	free []Worker
	all  []Worker
}

// checkout blocks until fewer than the pool size workers are in use.
func (p *workerPool) checkout() Worker {
	// Acquire with a background context cannot fail.
	_ = p.sem.Acquire(context.Background(), 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		w := p.free[n-1]
		p.free = p.free[:n-1]
		return w
	}
	w := p.newWorker()
	p.all = append(p.all, w)
	return w
}

func (p *workerPool) checkin(w Worker) {
	p.mu.Lock()
	p.free = append(p.free, w)
	p.mu.Unlock()
	p.sem.Release(1)
}

func (p *workerPool) release() {
	for _, w := range p.all {
		w.Release()
	}
}

// sequencer lets tasks that finish out of order perform a step in order.
type sequencer struct {
	mu   sync.Mutex
	cond *sync.Cond
	next int
}

func newSequencer(first int) *sequencer {
	s := &sequencer{next: first}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// do waits until all positions before pos are done, runs fn, and marks pos
// done. fn runs with the sequencer locked.
func (s *sequencer) do(pos int, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.next != pos {
		s.cond.Wait()
	}
	err := fn()
	s.next++
	s.cond.Broadcast()
	return err
}
