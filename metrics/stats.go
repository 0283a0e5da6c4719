package metrics

import "sync/atomic"

// Counter is a monotonically increasing counter safe for concurrent use
type Counter struct {
	v int64
}

// Inc increments the counter by one
func (c *Counter) Inc() {
	atomic.AddInt64(&c.v, 1)
}

// Load returns the current value
func (c *Counter) Load() int64 {
	return atomic.LoadInt64(&c.v)
}

// Stats holds the counters of a gateway. Counters are only read on request,
// nothing is pushed.
type Stats struct {
	FramesProcessed    Counter // frames handed to a handler
	FramesRejected     Counter // frames rejected because the dispatch queue was full or draining
	HandlerFailures    Counter // handler panics and errors
	HeartbeatEvictions Counter // sessions closed for inactivity
	FrameErrors        Counter // connections closed for malformed or oversized frames
	CapacityRejected   Counter // connections rejected by the session ceiling
	Unauthorized       Counter // frames rejected because the session is not authenticated
	NoHandler          Counter // frames without a handler
}

// Snapshot is a point-in-time copy of Stats
type Snapshot struct {
	ActiveSessions     int   `json:"active_sessions"`
	FramesProcessed    int64 `json:"frames_processed"`
	FramesRejected     int64 `json:"frames_rejected"`
	HandlerFailures    int64 `json:"handler_failures"`
	HeartbeatEvictions int64 `json:"heartbeat_evictions"`
	FrameErrors        int64 `json:"frame_errors"`
	CapacityRejected   int64 `json:"capacity_rejected"`
	Unauthorized       int64 `json:"unauthorized"`
	NoHandler          int64 `json:"no_handler"`
}

// Snapshot copies the counters, active is the number of live sessions
func (s *Stats) Snapshot(active int) Snapshot {
	return Snapshot{
		ActiveSessions:     active,
		FramesProcessed:    s.FramesProcessed.Load(),
		FramesRejected:     s.FramesRejected.Load(),
		HandlerFailures:    s.HandlerFailures.Load(),
		HeartbeatEvictions: s.HeartbeatEvictions.Load(),
		FrameErrors:        s.FrameErrors.Load(),
		CapacityRejected:   s.CapacityRejected.Load(),
		Unauthorized:       s.Unauthorized.Load(),
		NoHandler:          s.NoHandler.Load(),
	}
}
