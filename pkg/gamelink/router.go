package gamelink

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// handleFrame validates and classifies one inbound frame. gen guards against
// frames from a previous connection generation arriving after teardown.
//
// Frames come in three shapes: acknowledgment echoes, reply-only frames, and
// routed payloads. A malformed frame is logged and dropped; it still counts
// as proof that the transport path is alive.
func (s *Session) handleFrame(ctx context.Context, gen uint64, data []byte) {
	s.mu.Lock()
	stale := gen != s.gen
	s.mu.Unlock()
	if stale {
		return
	}

	if s.registry.HasAnyActive() {
		s.liveness.bumpInactivity()
	}
	s.metrics.RecordFrameReceived(ctx)

	var f inFrame
	if err := json.Unmarshal(data, &f); err != nil {
		s.metrics.RecordFrameDropped(ctx)
		s.logger.Warn("dropping malformed inbound frame", zap.Error(err))
		return
	}

	switch {
	case f.Route == routeEcho:
		var acked int64
		if err := json.Unmarshal(f.Contents, &acked); err != nil {
			s.metrics.RecordFrameDropped(ctx)
			s.logger.Warn("dropping echo frame with bad contents", zap.Error(err))
			return
		}
		s.handleEchoAck(ctx, acked)
	case f.Route == "" && f.ReplyTo != nil:
		s.fireReply(*f.ReplyTo, f.Contents)
	case f.Route != "":
		s.handleRouted(ctx, f)
	default:
		s.metrics.RecordFrameDropped(ctx)
		s.logger.Warn("dropping frame with neither route nor replyto")
	}
}

// handleRouted acknowledges a routed frame, satisfies any reply callback, and
// hands the payload to its topic handler. The immediate echo is what lets the
// sender's acknowledgment timers resolve.
func (s *Session) handleRouted(ctx context.Context, f inFrame) {
	if f.ID != nil {
		s.sendEcho(ctx, *f.ID)
	}
	if f.ReplyTo != nil {
		s.fireReply(*f.ReplyTo, f.Contents)
	}

	var body inBody
	if len(f.Contents) > 0 {
		if err := json.Unmarshal(f.Contents, &body); err != nil {
			s.metrics.RecordFrameDropped(ctx)
			s.logger.Warn("dropping routed frame with bad contents",
				zap.String("topic", f.Route),
				zap.Error(err))
			return
		}
	}

	handler, ok := s.handlers[Topic(f.Route)]
	if !ok {
		s.logger.Warn("no handler for topic", zap.String("topic", f.Route))
		return
	}
	if err := handler.OnMessage(ctx, body.Action, body.Value); err != nil {
		s.logger.Warn("topic handler error",
			zap.String("topic", f.Route),
			zap.String("action", body.Action),
			zap.Error(err))
	}
}
