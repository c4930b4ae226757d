// Package workerpool provides a reusable bounded worker pool. Stages of the
// pipeline size a pool from config and submit per-file tasks; the pool
// drains on Stop so workers always finish the task in flight.
package workerpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is one unit of work.
type Task struct {
	ID      string
	Execute func(ctx context.Context) error
}

// WorkerPool manages a fixed set of reusable workers.
type WorkerPool struct {
	taskQueue chan Task
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *logrus.Logger
	config    Config

	totalTasks     int64
	activeTasks    int64
	completedTasks int64
	failedTasks    int64

	isRunning bool
	mutex     sync.RWMutex
}

// Config sizes the pool.
type Config struct {
	MaxWorkers      int           `yaml:"max_workers"`
	QueueSize       int           `yaml:"queue_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// New creates a worker pool.
func New(config Config, logger *logrus.Logger) *WorkerPool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = runtime.NumCPU()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.MaxWorkers * 10
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		config:    config,
	}
}

// Start launches the workers.
func (p *WorkerPool) Start() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.isRunning {
		return
	}
	p.isRunning = true

	for i := 0; i < p.config.MaxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.WithFields(logrus.Fields{
		"component": "workerpool",
		"workers":   p.config.MaxWorkers,
	}).Debug("worker pool started")
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			atomic.AddInt64(&p.activeTasks, 1)
			err := task.Execute(p.ctx)
			atomic.AddInt64(&p.activeTasks, -1)
			if err != nil {
				atomic.AddInt64(&p.failedTasks, 1)
				p.logger.WithFields(logrus.Fields{
					"component": "workerpool",
					"worker":    id,
					"task":      task.ID,
				}).WithError(err).Debug("task failed")
			} else {
				atomic.AddInt64(&p.completedTasks, 1)
			}
		}
	}
}

// Submit blocks until the task is queued or the pool/context stops. It
// returns false when the pool is shutting down.
func (p *WorkerPool) Submit(ctx context.Context, task Task) bool {
	p.mutex.RLock()
	running := p.isRunning
	p.mutex.RUnlock()
	if !running {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	atomic.AddInt64(&p.totalTasks, 1)
	select {
	case <-ctx.Done():
		return false
	case <-p.ctx.Done():
		return false
	case p.taskQueue <- task:
		return true
	}
}

// Stop drains the queue, then stops the workers. Draining is bounded by the
// shutdown timeout; workers always finish the task in flight.
func (p *WorkerPool) Stop() {
	p.mutex.Lock()
	if !p.isRunning {
		p.mutex.Unlock()
		return
	}
	p.isRunning = false
	p.mutex.Unlock()

	deadline := time.Now().Add(p.config.ShutdownTimeout)
	for time.Now().Before(deadline) {
		if len(p.taskQueue) == 0 && atomic.LoadInt64(&p.activeTasks) == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.cancel()
	p.wg.Wait()
}

// Stats reports pool counters.
type Stats struct {
	Total     int64
	Active    int64
	Completed int64
	Failed    int64
	Queued    int
}

// GetStats returns a snapshot of the pool counters.
func (p *WorkerPool) GetStats() Stats {
	return Stats{
		Total:     atomic.LoadInt64(&p.totalTasks),
		Active:    atomic.LoadInt64(&p.activeTasks),
		Completed: atomic.LoadInt64(&p.completedTasks),
		Failed:    atomic.LoadInt64(&p.failedTasks),
		Queued:    len(p.taskQueue),
	}
}
