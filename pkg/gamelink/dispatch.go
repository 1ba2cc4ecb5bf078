package gamelink

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// replyTable holds the one-shot reply callbacks keyed by outbound message id.
// Each id maps to at most one callback, consumed exactly once.
type replyTable struct {
	mu        sync.Mutex
	callbacks map[int64]ReplyFunc
}

func newReplyTable() *replyTable {
	return &replyTable{callbacks: make(map[int64]ReplyFunc)}
}

func (r *replyTable) put(id int64, fn ReplyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks[id] = fn
}

// take removes and returns the callback for id, consuming it.
func (r *replyTable) take(id int64) (ReplyFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn, ok := r.callbacks[id]
	if ok {
		delete(r.callbacks, id)
	}
	return fn, ok
}

// clear drops every registered callback. Callbacks are connection-scoped and
// must not fire against a later connection generation.
func (r *replyTable) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = make(map[int64]ReplyFunc)
}

// Send frames and transmits one message. It establishes a connection if none
// is open, arms an acknowledgment timer so a silent half-open connection gets
// renewed, and registers onReply against the message id if given.
//
// Send never returns an error: a send that cannot happen degrades to false,
// with onReply fired on nil data so reply-driven callers do not hang.
func (s *Session) Send(ctx context.Context, topic Topic, action string, value any, userInitiated bool, onReply ReplyFunc) bool {
	if !s.Establish(ctx) {
		if userInitiated {
			s.notifier.Notice(NoticeTooManyRequests)
		}
		if onReply != nil {
			onReply(nil)
		}
		return false
	}

	s.touchIdleTimer()

	id := s.nextMessageID()
	data, err := json.Marshal(outFrame{
		ID:       id,
		Route:    string(topic),
		Contents: frameBody{Action: action, Value: value},
	})
	if err != nil {
		s.logger.Error("failed to marshal outbound frame",
			zap.String("topic", string(topic)),
			zap.String("action", action),
			zap.Error(err))
		if onReply != nil {
			onReply(nil)
		}
		return false
	}

	s.mu.Lock()
	conn := s.conn
	open := s.state == stateOpen
	s.mu.Unlock()
	if !open || conn == nil {
		if onReply != nil {
			onReply(nil)
		}
		return false
	}

	s.liveness.trackAck(id)
	if onReply != nil {
		s.replies.put(id, onReply)
	}

	if err := conn.Write(ctx, data); err != nil {
		// The read loop will observe the dead connection and drive recovery.
		s.logger.Warn("write failed", zap.Int64("id", id), zap.Error(err))
		return false
	}

	s.metrics.RecordMessageSent(ctx)
	s.logger.Debug("sent message",
		zap.Int64("id", id),
		zap.String("topic", string(topic)),
		zap.String("action", action))
	return true
}

// sendEcho acknowledges one inbound routed frame. Echo frames carry no id of
// their own and are never themselves acknowledged.
func (s *Session) sendEcho(ctx context.Context, id int64) {
	data, err := json.Marshal(echoFrame(id))
	if err != nil {
		s.logger.Error("failed to marshal echo frame", zap.Error(err))
		return
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Write(ctx, data); err != nil {
		s.logger.Warn("failed to send echo", zap.Int64("acking", id), zap.Error(err))
	}
}

// handleEchoAck resolves the pending acknowledgment for a message we sent and
// publishes the round-trip sample.
func (s *Session) handleEchoAck(ctx context.Context, acked int64) {
	rtt, ok := s.liveness.resolveAck(acked)
	if !ok {
		s.logger.Debug("acknowledgment for unknown message", zap.Int64("id", acked))
		return
	}
	s.metrics.RecordEchoRoundTrip(ctx, rtt)
	s.logger.Debug("message acknowledged",
		zap.Int64("id", acked),
		zap.Duration("roundTrip", rtt))
}

// fireReply invokes a registered reply callback exactly once.
func (s *Session) fireReply(replyTo int64, contents json.RawMessage) {
	if fn, ok := s.replies.take(replyTo); ok {
		fn(contents)
	}
}

// clearDispatchState drops all connection-scoped bookkeeping. Pending
// acknowledgments and reply callbacks must not leak across reconnections or
// fire spuriously against a new connection.
func (s *Session) clearDispatchState() {
	s.liveness.reset()
	s.replies.clear()
}

func (s *Session) nextMessageID() int64 {
	return atomic.AddInt64(&s.messageID, 1)
}
