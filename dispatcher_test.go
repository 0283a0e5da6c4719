package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/lonng/nano-gateway/component"
	"github.com/lonng/nano-gateway/message"
	"github.com/lonng/nano-gateway/metrics"
	"github.com/lonng/nano-gateway/mock"
	"github.com/lonng/nano-gateway/pipeline"
	"github.com/lonng/nano-gateway/scheduler"
	"github.com/lonng/nano-gateway/session"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	cmdLogin = 1
	cmdBag   = 2
)

func login(s *session.Session, in *message.Envelope) (*message.Envelope, error) {
	if in.Command == cmdLogin {
		if err := s.MarkAuthenticated(); err != nil {
			return nil, err
		}
		return in.Reply([]byte("welcome")), nil
	}
	return in.Reply(in.Body), nil
}

func bag(s *session.Session, in *message.Envelope) (*message.Envelope, error) {
	return in.Reply([]byte("sword,potion")), nil
}

type dispatcherEnv struct {
	dispatcher *Dispatcher
	stats      *metrics.Stats
	manager    *session.Manager
}

func newDispatcherEnv(t *testing.T, workers, queue int, pipe pipeline.Pipeline, handlers ...component.Handler) *dispatcherEnv {
	r := component.NewRegistry()
	require.NoError(t, r.Register(handlers...))
	r.Freeze()

	sched := scheduler.New(workers, queue)
	sched.Start()
	t.Cleanup(func() { sched.Close(context.Background()) })

	stats := &metrics.Stats{}
	return &dispatcherEnv{
		dispatcher: NewDispatcher(r, sched, pipe, nil, stats),
		stats:      stats,
		manager:    session.NewManager(1000),
	}
}

func (env *dispatcherEnv) connect(t *testing.T) (*session.Session, *mock.Transport) {
	tr := mock.NewTransport()
	s, err := env.manager.Register(tr)
	require.NoError(t, err)
	return s, tr
}

func recv(t *testing.T, tr *mock.Transport) *message.Envelope {
	select {
	case e := <-tr.Next():
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("no envelope received")
		return nil
	}
}

func errorBody(t *testing.T, e *message.Envelope) message.ErrorBody {
	require.True(t, e.IsError(), "expect error envelope, got %s", e)
	body := message.ErrorBody{}
	require.NoError(t, json.Unmarshal(e.Body, &body))
	return body
}

func TestDispatchUnauthorized(t *testing.T) {
	invoked := false
	env := newDispatcherEnv(t, 4, 16, nil, component.New(cmdBag, true,
		func(s *session.Session, in *message.Envelope) (*message.Envelope, error) {
			invoked = true
			return bag(s, in)
		}))
	s, tr := env.connect(t)

	in := message.New(cmdBag, 1, nil)
	in.TraceID = "trace-1"
	env.dispatcher.Dispatch(s, in)

	e := recv(t, tr)
	assert.Equal(t, cmdBag|message.ErrorMask, e.Command)
	assert.Equal(t, int32(cmdBag), e.RequestCommand())
	assert.Equal(t, int32(1), e.Sequence)
	assert.Equal(t, "trace-1", e.TraceID)
	assert.Equal(t, message.CodeUnauthorized, errorBody(t, e).Code)
	assert.False(t, invoked)
	assert.False(t, tr.Closed())
	assert.Equal(t, session.StateConnected, s.State())
	assert.Equal(t, int64(1), env.stats.Unauthorized.Load())

	require.NoError(t, s.MarkAuthenticated())
	env.dispatcher.Dispatch(s, message.New(cmdBag, 2, nil))
	e = recv(t, tr)
	assert.False(t, e.IsError())
	assert.Equal(t, "sword,potion", string(e.Body))
	assert.True(t, invoked)
}

func TestDispatchLoginThenBag(t *testing.T) {
	env := newDispatcherEnv(t, 4, 16, nil,
		component.New(component.CatchAll, false, login),
		component.New(cmdBag, true, bag))
	s, tr := env.connect(t)

	// queued back to back, the login is visible to the bag request
	env.dispatcher.Dispatch(s, message.New(cmdLogin, 1, nil))
	env.dispatcher.Dispatch(s, message.New(cmdBag, 2, nil))

	e := recv(t, tr)
	assert.Equal(t, int32(cmdLogin), e.Command)
	assert.Equal(t, "welcome", string(e.Body))

	e = recv(t, tr)
	assert.Equal(t, int32(cmdBag), e.Command)
	assert.Equal(t, int32(2), e.Sequence)
	assert.Equal(t, "sword,potion", string(e.Body))
	assert.Equal(t, int64(2), env.stats.FramesProcessed.Load())

	// other commands fall back to the catch-all
	env.dispatcher.Dispatch(s, message.New(9, 3, []byte("echo")))
	e = recv(t, tr)
	assert.Equal(t, int32(9), e.Command)
	assert.Equal(t, "echo", string(e.Body))
}

func TestDispatchNoHandler(t *testing.T) {
	env := newDispatcherEnv(t, 1, 16, nil, component.New(cmdBag, false, bag))
	s, tr := env.connect(t)

	env.dispatcher.Dispatch(s, message.New(42, 7, nil))
	e := recv(t, tr)
	assert.Equal(t, message.CodeNotFound, errorBody(t, e).Code)
	assert.Equal(t, int32(42), errorBody(t, e).Command)
	assert.Equal(t, int32(7), e.Sequence)
	assert.Equal(t, int64(1), env.stats.NoHandler.Load())
	assert.False(t, tr.Closed())

	// the connection stays usable
	env.dispatcher.Dispatch(s, message.New(cmdBag, 8, nil))
	assert.False(t, recv(t, tr).IsError())
}

func TestDispatchHandlerFailure(t *testing.T) {
	env := newDispatcherEnv(t, 1, 16, nil,
		component.New(3, false, func(s *session.Session, in *message.Envelope) (*message.Envelope, error) {
			panic("broken handler")
		}),
		component.New(4, false, func(s *session.Session, in *message.Envelope) (*message.Envelope, error) {
			return nil, errors.New("broken handler")
		}),
		component.New(5, false, bag))
	s, tr := env.connect(t)

	env.dispatcher.Dispatch(s, message.New(3, 1, nil))
	e := recv(t, tr)
	assert.Equal(t, message.CodeInternal, errorBody(t, e).Code)
	assert.Equal(t, "internal error", errorBody(t, e).Message)

	env.dispatcher.Dispatch(s, message.New(4, 2, nil))
	e = recv(t, tr)
	assert.Equal(t, message.CodeInternal, errorBody(t, e).Code)
	assert.Equal(t, int64(2), env.stats.HandlerFailures.Load())

	// the single worker survived
	env.dispatcher.Dispatch(s, message.New(5, 3, nil))
	e = recv(t, tr)
	assert.False(t, e.IsError())
	assert.Equal(t, int32(3), e.Sequence)
}

func TestDispatchOverload(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	env := newDispatcherEnv(t, 1, 1, nil,
		component.New(6, false, func(s *session.Session, in *message.Envelope) (*message.Envelope, error) {
			if in.Sequence == 1 {
				close(started)
				<-release
			}
			return in.Reply(nil), nil
		}))
	s, tr := env.connect(t)

	env.dispatcher.Dispatch(s, message.New(6, 1, nil))
	<-started
	env.dispatcher.Dispatch(s, message.New(6, 2, nil)) // queued
	env.dispatcher.Dispatch(s, message.New(6, 3, nil)) // rejected

	e := recv(t, tr)
	assert.Equal(t, int32(3), e.Sequence)
	assert.Equal(t, message.CodeOverloaded, errorBody(t, e).Code)
	assert.Equal(t, int64(1), env.stats.FramesRejected.Load())
	assert.False(t, tr.Closed())

	close(release)
	assert.Equal(t, int32(1), recv(t, tr).Sequence)
	assert.Equal(t, int32(2), recv(t, tr).Sequence)
}

func TestDispatchDraining(t *testing.T) {
	env := newDispatcherEnv(t, 1, 16, nil, component.New(cmdBag, false, bag))
	s, tr := env.connect(t)

	env.dispatcher.Drain()
	assert.True(t, env.dispatcher.Draining())
	env.dispatcher.Dispatch(s, message.New(cmdBag, 1, nil))
	assert.Equal(t, message.CodeOverloaded, errorBody(t, recv(t, tr)).Code)
	assert.Equal(t, int64(1), env.stats.FramesRejected.Load())
}

func TestDispatchSessionOrder(t *testing.T) {
	const sessions, messages = 10, 100
	env := newDispatcherEnv(t, 4, sessions*messages, nil,
		component.New(component.CatchAll, false, func(s *session.Session, in *message.Envelope) (*message.Envelope, error) {
			// attributes are only touched by handlers of the session
			s.Set("seqs", append(s.Value("seqs").([]int32), in.Sequence))
			return in.Reply(nil), nil
		}))

	var all []*session.Session
	var transports []*mock.Transport
	for i := 0; i < sessions; i++ {
		s, tr := env.connect(t)
		s.Set("seqs", []int32{})
		all = append(all, s)
		transports = append(transports, tr)
	}

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			for seq := int32(1); seq <= messages; seq++ {
				env.dispatcher.Dispatch(s, message.New(1, seq, nil))
			}
		}(s)
	}
	wg.Wait()

	for i, tr := range transports {
		for seq := int32(1); seq <= messages; seq++ {
			e := recv(t, tr)
			require.Equal(t, seq, e.Sequence)
		}
		seqs := all[i].Value("seqs").([]int32)
		require.Len(t, seqs, messages)
		for j, seq := range seqs {
			require.Equal(t, int32(j+1), seq)
		}
	}
	assert.Equal(t, int64(sessions*messages), env.stats.FramesProcessed.Load())
}

func TestDispatchReply(t *testing.T) {
	p := pipeline.New()
	p.Inbound().PushBack(func(s *session.Session, in *message.Envelope) error {
		if len(in.Body) > 4 {
			return errors.New("body too long")
		}
		return nil
	})
	env := newDispatcherEnv(t, 1, 16, p,
		component.New(cmdBag, false, func(s *session.Session, in *message.Envelope) (*message.Envelope, error) {
			return nil, nil
		}))
	s, tr := env.connect(t)

	// nil response is answered with an empty reply carrying a trace id
	env.dispatcher.Dispatch(s, message.New(cmdBag, 1, nil))
	e := recv(t, tr)
	assert.False(t, e.IsError())
	assert.Equal(t, int32(1), e.Sequence)
	assert.Empty(t, e.Body)
	assert.NotEmpty(t, e.TraceID)

	env.dispatcher.Dispatch(s, message.New(cmdBag, 2, []byte("too long")))
	body := errorBody(t, recv(t, tr))
	assert.Equal(t, message.CodeBadRequest, body.Code)
	assert.Equal(t, "body too long", body.Message)
}

func TestDispatchTouch(t *testing.T) {
	env := newDispatcherEnv(t, 1, 16, nil, component.New(cmdBag, false, bag))
	s, tr := env.connect(t)

	before := s.LastActivity()
	time.Sleep(5 * time.Millisecond)
	env.dispatcher.Dispatch(s, message.New(cmdBag, 1, nil))
	recv(t, tr)
	assert.True(t, s.LastActivity().After(before))
}
