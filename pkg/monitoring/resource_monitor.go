// Package monitoring samples process resource usage so the orchestrator can
// throttle prefetch when the configured memory soft cap is exceeded. The
// cap is advisory: batches already in flight complete, new ones wait.
package monitoring

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

// ResourceMonitor periodically samples the process RSS.
type ResourceMonitor struct {
	logger   *logrus.Logger
	limit    int64 // bytes; 0 disables throttling
	interval time.Duration

	mu         sync.RWMutex
	rssBytes   int64
	lastSample time.Time

	proc *process.Process
}

// New builds a monitor with the given soft memory cap in bytes.
func New(logger *logrus.Logger, limitBytes int64) *ResourceMonitor {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &ResourceMonitor{
		logger:   logger,
		limit:    limitBytes,
		interval: 2 * time.Second,
		proc:     proc,
	}
}

// Start launches the sampler until the context ends.
func (m *ResourceMonitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sample()
			}
		}
	}()
}

func (m *ResourceMonitor) sample() {
	if m.proc == nil {
		return
	}
	info, err := m.proc.MemoryInfo()
	if err != nil {
		return
	}
	m.mu.Lock()
	m.rssBytes = int64(info.RSS)
	m.lastSample = time.Now()
	m.mu.Unlock()
}

// RSSBytes returns the last sampled resident size.
func (m *ResourceMonitor) RSSBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rssBytes
}

// OverLimit reports whether the soft cap is currently exceeded.
func (m *ResourceMonitor) OverLimit() bool {
	if m.limit <= 0 {
		return false
	}
	return m.RSSBytes() > m.limit
}

// Throttle blocks while the process is over the soft cap, rechecking on the
// sampler cadence. It returns promptly on cancellation.
func (m *ResourceMonitor) Throttle(ctx context.Context) {
	for m.OverLimit() {
		m.logger.WithFields(logrus.Fields{
			"component": "monitoring",
			"rss":       m.RSSBytes(),
			"limit":     m.limit,
		}).Warn("memory soft cap exceeded, throttling prefetch")
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.interval):
			m.sample()
		}
	}
}
