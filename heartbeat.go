package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lonng/nano-gateway/internal/log"
	"github.com/lonng/nano-gateway/metrics"
	"github.com/lonng/nano-gateway/session"
)

// HeartbeatMonitor periodically closes sessions which have been idle for
// longer than the timeout. It is the only component closing sessions for
// inactivity.
type HeartbeatMonitor struct {
	manager  *session.Manager
	stats    *metrics.Stats
	interval time.Duration
	timeout  time.Duration

	started int32
	once    sync.Once
	chDie   chan struct{}
	done    chan struct{}
}

// NewHeartbeatMonitor returns a monitor sweeping the manager every interval
func NewHeartbeatMonitor(manager *session.Manager, stats *metrics.Stats, interval, timeout time.Duration) *HeartbeatMonitor {
	if stats == nil {
		stats = &metrics.Stats{}
	}
	return &HeartbeatMonitor{
		manager:  manager,
		stats:    stats,
		interval: interval,
		timeout:  timeout,
		chDie:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start starts the sweep goroutine
func (h *HeartbeatMonitor) Start() {
	if atomic.CompareAndSwapInt32(&h.started, 0, 1) {
		go h.run()
	}
}

func (h *HeartbeatMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer func() {
		ticker.Stop()
		close(h.done)
	}()

	for {
		select {
		case now := <-ticker.C:
			h.sweep(now)
		case <-h.chDie:
			return
		}
	}
}

// sweep closes every session whose last activity is older than now-timeout
// and returns the number of sessions it closed.
func (h *HeartbeatMonitor) sweep(now time.Time) int {
	deadline := now.Add(-h.timeout)
	evicted := 0
	for _, s := range h.manager.Idle(deadline) {
		// closed concurrently by the client, a transport error or shutdown
		if err := s.Close(); err != nil {
			continue
		}
		evicted++
		h.stats.HeartbeatEvictions.Inc()
		log.Infof("Session heartbeat timeout, SessionID=%d, UID=%d, LastTime=%s, Deadline=%s",
			s.ID(), s.UID(), s.LastActivity().Format(time.RFC3339Nano), deadline.Format(time.RFC3339Nano))
	}
	return evicted
}

// Stop stops the sweep goroutine and waits for it to exit, it is safe to
// call Stop more than once or without Start.
func (h *HeartbeatMonitor) Stop() {
	h.once.Do(func() { close(h.chDie) })
	if atomic.LoadInt32(&h.started) == 1 {
		<-h.done
	}
}
