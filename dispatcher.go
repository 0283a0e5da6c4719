// Copyright (c) nano Author. All Rights Reserved.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package gateway

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/lonng/nano-gateway/component"
	"github.com/lonng/nano-gateway/internal/log"
	"github.com/lonng/nano-gateway/message"
	"github.com/lonng/nano-gateway/metrics"
	"github.com/lonng/nano-gateway/pipeline"
	"github.com/lonng/nano-gateway/scheduler"
	"github.com/lonng/nano-gateway/serialize"
	"github.com/lonng/nano-gateway/serialize/json"
	"github.com/lonng/nano-gateway/session"
	"github.com/pingcap/errors"
)

// Dispatcher routes decoded envelopes to handlers. Dispatch is called from
// I/O goroutines and never blocks, handlers run on the scheduler workers
// in per-session order.
type Dispatcher struct {
	registry   *component.Registry
	scheduler  *scheduler.Scheduler
	pipeline   pipeline.Pipeline
	serializer serialize.Serializer
	stats      *metrics.Stats
	draining   int32
}

// NewDispatcher returns a dispatcher, pipe may be nil
func NewDispatcher(registry *component.Registry, sched *scheduler.Scheduler, pipe pipeline.Pipeline,
	serializer serialize.Serializer, stats *metrics.Stats) *Dispatcher {
	if serializer == nil {
		serializer = json.NewSerializer()
	}
	if stats == nil {
		stats = &metrics.Stats{}
	}
	return &Dispatcher{
		registry:   registry,
		scheduler:  sched,
		pipeline:   pipe,
		serializer: serializer,
		stats:      stats,
	}
}

// Dispatch queues the envelope on the mailbox of the session. When the
// queue is full, or the gateway is draining, the client is answered with an
// overload error right away and the connection stays open.
func (d *Dispatcher) Dispatch(s *session.Session, in *message.Envelope) {
	s.Touch()

	if d.Draining() {
		d.stats.FramesRejected.Inc()
		d.fail(s, in, message.CodeOverloaded, "server is shutting down")
		return
	}

	err := d.scheduler.Schedule(s.Mailbox(), func() { d.process(s, in) })
	if err != nil {
		d.stats.FramesRejected.Inc()
		if log.Debug() {
			log.Debugf("Reject message, SessionID=%d, %s, Error=%v", s.ID(), in, err)
		}
		d.fail(s, in, message.CodeOverloaded, "server is overloaded")
	}
}

// Drain makes every following Dispatch fail with an overload error,
// already queued envelopes are still processed.
func (d *Dispatcher) Drain() {
	atomic.StoreInt32(&d.draining, 1)
}

// Draining reports whether Drain has been called
func (d *Dispatcher) Draining() bool {
	return atomic.LoadInt32(&d.draining) == 1
}

func (d *Dispatcher) process(s *session.Session, in *message.Envelope) {
	if s.State() >= session.StateClosing {
		return
	}

	if pipe := d.pipeline; pipe != nil {
		if err := pipe.Inbound().Process(s, in); err != nil {
			log.Warnf("Inbound pipeline rejected message, SessionID=%d, %s, Error=%v", s.ID(), in, err)
			d.fail(s, in, message.CodeBadRequest, err.Error())
			return
		}
	}

	h, err := d.registry.Resolve(in.Command)
	if err != nil {
		d.stats.NoHandler.Inc()
		d.fail(s, in, message.CodeNotFound, fmt.Sprintf("no handler for command %d", in.Command))
		return
	}

	if h.RequiresAuth() && !s.IsAuthenticated() {
		d.stats.Unauthorized.Inc()
		d.fail(s, in, message.CodeUnauthorized, "session is not authenticated")
		return
	}

	d.stats.FramesProcessed.Inc()
	out, err := d.invoke(h, s, in)
	if err != nil {
		d.stats.HandlerFailures.Inc()
		log.Errorw("Handler failed",
			"session", s.ID(),
			"uid", s.UID(),
			"command", in.Command,
			"sequence", in.Sequence,
			"trace", in.TraceID,
			"error", err)
		d.fail(s, in, message.CodeInternal, "internal error")
		return
	}

	if out == nil {
		out = in.Reply(nil)
	}
	d.send(s, in, out)
}

func (d *Dispatcher) invoke(h component.Handler, s *session.Session, in *message.Envelope) (out *message.Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("handler panic: %v", r)
			log.Errorf("Handler panic, SessionID=%d, Command=%d, Stack=%s", s.ID(), in.Command, debug.Stack())
		}
	}()
	return h.Handle(s, in)
}

func (d *Dispatcher) fail(s *session.Session, in *message.Envelope, code int32, reason string) {
	body, err := d.serializer.Marshal(&message.ErrorBody{Code: code, Command: in.Command, Message: reason})
	if err != nil {
		// serializers such as protobuf can not encode the error body
		body, err = json.NewSerializer().Marshal(&message.ErrorBody{Code: code, Command: in.Command, Message: reason})
		if err != nil {
			log.Errorf("Marshal error body failed: %v", err)
			return
		}
	}
	d.send(s, in, message.NewError(in, body))
}

func (d *Dispatcher) send(s *session.Session, in, out *message.Envelope) {
	if out.TraceID == "" {
		out.TraceID = in.TraceID
	}
	if out.TraceID == "" {
		out.TraceID = uuid.NewString()
	}
	if err := s.Send(out); err != nil {
		log.Debugf("Send reply failed, SessionID=%d, %s, Error=%v", s.ID(), out, err)
	}
}
