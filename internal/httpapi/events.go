package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/veritalk/internal/protocol"
	"github.com/antoniostano/veritalk/internal/reliability"
	"github.com/antoniostano/veritalk/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsQueueSize    = 256
)

// handleEventsWS streams controller events to the client and applies the control
// messages it sends back.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvent("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()

	texts := make(chan queuedMessage, 64)
	controls := make(chan queuedMessage, 64)
	order := newControlOrder()
	outbound := make(chan any, wsQueueSize)
	snap := s.ctrl.Snapshot()
	outbound <- protocol.StateChanged{Type: protocol.TypeStateChanged, State: snap}

	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := protocol.TypeOf(msg); ok {
					s.metrics.WSMessage("outbound", string(t))
				}
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if msg, ok := eventMessage(ev); ok {
					s.enqueue(outbound, msg)
				}
			}
		}
	}()

	// A send can block for the whole request timeout, so controls such as end and
	// listen_stop run on their own lane. A text still waits for every control that
	// arrived before it.
	go func() {
		defer wg.Done()
		for q := range controls {
			s.dispatchAndReport(ctx, outbound, q.msg)
			order.done()
		}
	}()
	go func() {
		defer wg.Done()
		for q := range texts {
			if !order.wait(q.ticket) {
				continue
			}
			s.dispatchAndReport(ctx, outbound, q.msg)
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.enqueue(outbound, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Source: "gateway",
				Detail: err.Error(),
			})
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.WSMessage("inbound", string(t))
		}
		queue, q := texts, queuedMessage{msg: parsed}
		if _, ok := parsed.(protocol.ClientControl); ok {
			queue = controls
			q.ticket = order.add()
		} else {
			q.ticket = order.pending()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case queue <- q:
		}
	}

	cancel()
	order.close()
	close(texts)
	close(controls)
	wg.Wait()
	s.metrics.SessionEvent("ws_disconnected")
}

// enqueue keeps websocket writes on one goroutine and drops when the queue is full.
func (s *Server) enqueue(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
		t, _ := protocol.TypeOf(msg)
		s.metrics.WSMessage("dropped", string(t))
	}
}

func (s *Server) dispatchAndReport(ctx context.Context, outbound chan<- any, msg any) {
	err := s.dispatch(ctx, msg)
	if err == nil {
		return
	}
	_, code := classifyError(err)
	s.enqueue(outbound, protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		Code:      code,
		Source:    "controller",
		Retryable: reliability.IsRetryable(err),
		Detail:    err.Error(),
	})
}

type queuedMessage struct {
	msg any
	// ticket is the number of controls that must be dispatched before msg.
	ticket uint64
}

// controlOrder lets texts wait for earlier controls without controls ever waiting for
// texts.
type controlOrder struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queued   uint64
	finished uint64
	closed   bool
}

func newControlOrder() *controlOrder {
	o := &controlOrder{}
	o.cond = sync.NewCond(&o.mu)
	return o
}

func (o *controlOrder) add() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queued++
	return o.queued
}

func (o *controlOrder) pending() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queued
}

func (o *controlOrder) done() {
	o.mu.Lock()
	o.finished++
	o.mu.Unlock()
	o.cond.Broadcast()
}

// wait blocks until ticket controls were dispatched. It returns false once closed.
func (o *controlOrder) wait(ticket uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.finished < ticket && !o.closed {
		o.cond.Wait()
	}
	return !o.closed
}

func (o *controlOrder) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cond.Broadcast()
}

func (s *Server) dispatch(ctx context.Context, msg any) error {
	switch m := msg.(type) {
	case protocol.ClientText:
		_, err := s.ctrl.Send(ctx, m.Text, m.Context)
		return err
	case protocol.ClientControl:
		switch m.Action {
		case protocol.ActionStart:
			snap, err := s.ctrl.Start(ctx, m.Language, m.Voice)
			if err != nil && snap.Status == session.StatusActive {
				// Audio failed but text conversation works; the controller already
				// published an error event.
				return nil
			}
			return err
		case protocol.ActionEnd:
			return s.ctrl.End(ctx)
		case protocol.ActionListenStart:
			return s.ctrl.StartListening(ctx)
		case protocol.ActionListenStop:
			return s.ctrl.StopListening()
		case protocol.ActionToggleLanguage:
			s.ctrl.ToggleLanguage()
			return nil
		}
	}
	return nil
}

func eventMessage(ev session.Event) (any, bool) {
	switch ev.Type {
	case session.EventState:
		if ev.Snapshot == nil {
			return nil, false
		}
		return protocol.StateChanged{Type: protocol.TypeStateChanged, State: *ev.Snapshot}, true
	case session.EventMessage:
		if ev.Message == nil {
			return nil, false
		}
		return protocol.MessageAppended{Type: protocol.TypeMessageAppended, Message: *ev.Message}, true
	case session.EventError:
		return protocol.ErrorEvent{
			Type:   protocol.TypeErrorEvent,
			Code:   "session_error",
			Source: "controller",
			Detail: ev.Error,
		}, true
	default:
		return nil, false
	}
}
