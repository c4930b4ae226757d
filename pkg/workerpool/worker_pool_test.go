package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestPoolExecutesAllTasks(t *testing.T) {
	pool := New(Config{MaxWorkers: 4}, testLogger())
	pool.Start()

	var counter atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		pool.Submit(context.Background(), Task{
			Execute: func(ctx context.Context) error {
				defer wg.Done()
				counter.Add(1)
				return nil
			},
		})
	}
	wg.Wait()
	pool.Stop()

	assert.Equal(t, int64(100), counter.Load())
	stats := pool.GetStats()
	assert.Equal(t, int64(100), stats.Completed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestPoolCountsFailures(t *testing.T) {
	pool := New(Config{MaxWorkers: 2}, testLogger())
	pool.Start()

	var wg sync.WaitGroup
	wg.Add(1)
	pool.Submit(context.Background(), Task{
		Execute: func(ctx context.Context) error {
			defer wg.Done()
			return errors.New("boom")
		},
	})
	wg.Wait()
	pool.Stop()

	assert.Equal(t, int64(1), pool.GetStats().Failed)
}

func TestSubmitAfterStopReturnsFalse(t *testing.T) {
	pool := New(Config{MaxWorkers: 1}, testLogger())
	pool.Start()
	pool.Stop()

	ok := pool.Submit(context.Background(), Task{Execute: func(ctx context.Context) error { return nil }})
	assert.False(t, ok)
}

func TestSubmitHonorsCancelledContext(t *testing.T) {
	pool := New(Config{MaxWorkers: 1, QueueSize: 1}, testLogger())
	pool.Start()
	defer pool.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok := pool.Submit(ctx, Task{Execute: func(ctx context.Context) error { return nil }})
	assert.False(t, ok)
}
