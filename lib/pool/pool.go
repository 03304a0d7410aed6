package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("pool")

var (
	// ErrRejected is wrapped by every RejectedError
	ErrRejected = errors.New("task rejected")
	// ErrShutdown is returned by Submit after Shutdown was called
	ErrShutdown = errors.New("pool is shut down")
	// ErrNilTask is returned when a nil task is submitted
	ErrNilTask = errors.New("nil task")
)

// Task is a unit of work executed by a worker
type Task func()

// Config describes a pool
type Config struct {
	Name          string
	CoreSize      int
	MaxSize       int
	QueueCapacity int
	// KeepAlive is the idle time after which a worker above CoreSize exits.
	// Zero keeps all workers alive.
	KeepAlive time.Duration
}

// DefaultConfig is used for pools that are referenced but not configured
func DefaultConfig(name string) Config {
	return Config{
		Name:          name,
		CoreSize:      2,
		MaxSize:       16,
		QueueCapacity: 256,
		KeepAlive:     60 * time.Second,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Name == "":
		return errors.New("pool name must not be empty")
	case c.CoreSize < 0:
		return fmt.Errorf("pool %q: core size must not be negative", c.Name)
	case c.MaxSize < 1:
		return fmt.Errorf("pool %q: max size must be at least 1", c.Name)
	case c.CoreSize > c.MaxSize:
		return fmt.Errorf("pool %q: core size %d exceeds max size %d", c.Name, c.CoreSize, c.MaxSize)
	case c.QueueCapacity < 0:
		return fmt.Errorf("pool %q: queue capacity must not be negative", c.Name)
	case c.KeepAlive < 0:
		return fmt.Errorf("pool %q: keep alive must not be negative", c.Name)
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("%s(core=%d max=%d queue=%d keepAlive=%s)",
		c.Name, c.CoreSize, c.MaxSize, c.QueueCapacity, c.KeepAlive)
}

// RejectedError is returned when a pool has no idle worker, no room for another
// worker and a full queue
type RejectedError struct {
	Pool     string
	Snapshot Snapshot
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("pool %s rejected task (%s)", e.Pool, e.Snapshot)
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

// Snapshot is a point in time view of a pool
type Snapshot struct {
	Name            string
	PoolSize        int
	CoreSize        int
	MaxSize         int
	LargestPoolSize int
	Queued          int
	QueueCapacity   int
	Active          int64
	Completed       uint64
	Rejected        uint64
}

func (s Snapshot) String() string {
	return fmt.Sprintf("pool=%s size=%d/%d largest=%d active=%d queued=%d/%d completed=%d rejected=%d",
		s.Name, s.PoolSize, s.MaxSize, s.LargestPoolSize, s.Active, s.Queued, s.QueueCapacity, s.Completed, s.Rejected)
}

// Pool is a bounded worker pool that grows to its maximum size before it queues.
//
// Admission order: hand the task to an idle worker, else start a worker while
// below MaxSize, else enqueue, else reject.
type Pool struct {
	cfg Config

	// handoff only succeeds while a worker is blocked receiving
	handoff chan Task
	queue   chan Task
	stop    chan struct{}

	mu      sync.Mutex
	workers int
	largest int
	closed  bool
	wg      sync.WaitGroup

	active    atomic.Int64
	completed atomic.Uint64
	rejected  atomic.Uint64
}

// New creates a pool. No worker is started until the first submission.
func New(cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pool{
		cfg:     cfg,
		handoff: make(chan Task),
		queue:   make(chan Task, cfg.QueueCapacity),
		stop:    make(chan struct{}),
	}, nil
}

func (p *Pool) Name() string { return p.cfg.Name }

func (p *Pool) Config() Config { return p.cfg }

// Submit admits a task or returns a *RejectedError
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return ErrNilTask
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrShutdown
	}

	// (1) idle worker
	select {
	case p.handoff <- task:
		p.mu.Unlock()
		return nil
	default:
	}

	// (2) grow
	if p.workers < p.cfg.MaxSize {
		p.spawnLocked(task)
		p.mu.Unlock()
		return nil
	}

	// (3) queue
	select {
	case p.queue <- task:
		p.mu.Unlock()
		return nil
	default:
	}
	p.mu.Unlock()

	// (4) reject
	p.rejected.Add(1)
	snap := p.Snapshot()
	log.Debugf("rejected task: %s", snap)
	return &RejectedError{Pool: p.cfg.Name, Snapshot: snap}
}

func (p *Pool) spawnLocked(first Task) {
	p.workers++
	if p.workers > p.largest {
		p.largest = p.workers
	}
	p.wg.Add(1)
	go p.worker(first)
}

func (p *Pool) worker(task Task) {
	defer p.wg.Done()
	for {
		if task != nil {
			p.run(task)
		}
		var exit bool
		if task, exit = p.next(); exit {
			return
		}
	}
}

// next waits for the next task. It returns exit=true once the worker has been
// removed from the worker count.
func (p *Pool) next() (Task, bool) {
	select {
	case t := <-p.queue:
		return t, false
	default:
	}

	var expire <-chan time.Time
	if p.cfg.KeepAlive > 0 && p.aboveCore() {
		timer := time.NewTimer(p.cfg.KeepAlive)
		defer timer.Stop()
		expire = timer.C
	}

	select {
	case t := <-p.handoff:
		return t, false
	case t := <-p.queue:
		return t, false
	case <-expire:
		return nil, p.retire(false)
	case <-p.stop:
		select {
		case t := <-p.queue:
			return t, false
		default:
			return nil, p.retire(true)
		}
	}
}

func (p *Pool) aboveCore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers > p.cfg.CoreSize
}

// retire removes the calling worker unless it is still needed. While the pool
// lock is held nothing can be enqueued, so a queue that is empty here cannot be
// left without a worker.
func (p *Pool) retire(stopping bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) > 0 {
		return false
	}
	if !stopping && p.workers <= p.cfg.CoreSize {
		return false
	}
	p.workers--
	return true
}

func (p *Pool) run(task Task) {
	p.active.Add(1)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("pool %s: task panicked: %v", p.cfg.Name, r)
		}
		p.active.Add(-1)
		p.completed.Add(1)
	}()
	task()
}

// Snapshot returns the current statistics of the pool
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	size, largest := p.workers, p.largest
	p.mu.Unlock()
	return Snapshot{
		Name:            p.cfg.Name,
		PoolSize:        size,
		CoreSize:        p.cfg.CoreSize,
		MaxSize:         p.cfg.MaxSize,
		LargestPoolSize: largest,
		Queued:          len(p.queue),
		QueueCapacity:   p.cfg.QueueCapacity,
		Active:          p.active.Load(),
		Completed:       p.completed.Load(),
		Rejected:        p.rejected.Load(),
	}
}

// Rejected is the number of rejected submissions since creation
func (p *Pool) Rejected() uint64 { return p.rejected.Load() }

// Shutdown stops admission, lets the workers drain the queue and waits for them
// until ctx is done
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.stop)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool %s: shutdown: %w", p.cfg.Name, ctx.Err())
	}
}
