package gateway

import (
	"testing"
	"time"

	"github.com/lonng/nano-gateway/metrics"
	"github.com/lonng/nano-gateway/mock"
	"github.com/lonng/nano-gateway/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatSweep(t *testing.T) {
	m := session.NewManager(10)
	stats := &metrics.Stats{}
	h := NewHeartbeatMonitor(m, stats, time.Second, 30*time.Second)

	tr := mock.NewTransport()
	s, err := m.Register(tr)
	require.NoError(t, err)
	// the transport unregisters the session once it is closed
	tr.OnClose = func() { m.Unregister(s.ID()) }

	now := s.LastActivity()

	// not before the timeout
	assert.Equal(t, 0, h.sweep(now.Add(29*time.Second)))
	assert.Equal(t, 0, h.sweep(now.Add(30*time.Second)))
	assert.False(t, tr.Closed())
	assert.NotNil(t, m.Find(s.ID()))

	assert.Equal(t, 1, h.sweep(now.Add(30*time.Second+time.Millisecond)))
	assert.True(t, tr.Closed())
	assert.Nil(t, m.Find(s.ID()))
	assert.Equal(t, session.StateClosed, s.State())
	assert.Equal(t, int64(1), stats.HeartbeatEvictions.Load())
}

func TestHeartbeatActiveSession(t *testing.T) {
	m := session.NewManager(10)
	h := NewHeartbeatMonitor(m, nil, time.Second, 30*time.Second)

	idle, _ := m.Register(mock.NewTransport())
	active, _ := m.Register(mock.NewTransport())
	start := idle.LastActivity()

	time.Sleep(5 * time.Millisecond)
	active.Touch()

	// only the idle one crossed the deadline
	deadline := active.LastActivity().Add(30 * time.Second)
	assert.Equal(t, 1, h.sweep(deadline))
	assert.Equal(t, session.StateClosing, idle.State())
	assert.Equal(t, session.StateConnected, active.State())
	assert.True(t, start.Before(active.LastActivity()))
}

func TestHeartbeatSkipsClosed(t *testing.T) {
	m := session.NewManager(10)
	stats := &metrics.Stats{}
	h := NewHeartbeatMonitor(m, stats, time.Second, time.Second)

	s, _ := m.Register(mock.NewTransport())
	require.NoError(t, s.Close())

	// closed concurrently but not unregistered yet
	assert.Equal(t, 0, h.sweep(time.Now().Add(time.Hour)))
	assert.Equal(t, int64(0), stats.HeartbeatEvictions.Load())
}

func TestHeartbeatRun(t *testing.T) {
	m := session.NewManager(10)
	stats := &metrics.Stats{}
	h := NewHeartbeatMonitor(m, stats, 10*time.Millisecond, 20*time.Millisecond)

	tr := mock.NewTransport()
	s, _ := m.Register(tr)
	tr.OnClose = func() { m.Unregister(s.ID()) }

	h.Start()
	defer h.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for m.Count() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, int64(1), stats.HeartbeatEvictions.Load())

	h.Stop()
	NewHeartbeatMonitor(m, nil, time.Second, time.Second).Stop()
}
