package gamelink

import (
	"context"
	"time"

	"github.com/playforge/gamelink/pkg/gamelink/o11y"
)

// SessionMetrics holds the metric instruments the session records into.
// A nil *SessionMetrics is valid and records nothing.
type SessionMetrics struct {
	echoRoundTrip  o11y.Histogram // send-to-acknowledgment round trip
	messagesSent   o11y.Counter
	framesReceived o11y.Counter
	framesDropped  o11y.Counter // malformed inbound frames
	closures       o11y.Counter // connection closures by reason
	ackTimeouts    o11y.Counter // acknowledgment timeouts forcing renewal
	connections    o11y.Counter
}

// NewSessionMetrics creates the session's metric instruments using the
// provided MetricsProvider. A nil provider disables metrics collection.
func NewSessionMetrics(provider o11y.MetricsProvider) *SessionMetrics {
	if provider == nil {
		return nil
	}

	return &SessionMetrics{
		echoRoundTrip:  provider.Histogram("gamelink_echo_roundtrip_seconds"),
		messagesSent:   provider.Counter("gamelink_messages_sent_total"),
		framesReceived: provider.Counter("gamelink_frames_received_total"),
		framesDropped:  provider.Counter("gamelink_frames_dropped_total"),
		closures:       provider.Counter("gamelink_closures_total"),
		ackTimeouts:    provider.Counter("gamelink_ack_timeouts_total"),
		connections:    provider.Counter("gamelink_connections_total"),
	}
}

// RecordEchoRoundTrip publishes one send-to-acknowledgment sample.
func (m *SessionMetrics) RecordEchoRoundTrip(ctx context.Context, rtt time.Duration) {
	if m == nil {
		return
	}
	m.echoRoundTrip.Record(ctx, rtt.Seconds())
}

// RecordMessageSent records one outbound message.
func (m *SessionMetrics) RecordMessageSent(ctx context.Context) {
	if m == nil {
		return
	}
	m.messagesSent.Add(ctx, 1)
}

// RecordFrameReceived records one inbound frame of any kind.
func (m *SessionMetrics) RecordFrameReceived(ctx context.Context) {
	if m == nil {
		return
	}
	m.framesReceived.Add(ctx, 1)
}

// RecordFrameDropped records one inbound frame dropped as malformed.
func (m *SessionMetrics) RecordFrameDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.framesDropped.Add(ctx, 1)
}

// RecordClosure records one connection closure, labeled by its reason.
func (m *SessionMetrics) RecordClosure(ctx context.Context, reason CloseReason) {
	if m == nil {
		return
	}
	m.closures.Add(ctx, 1, o11y.Label{Key: "reason", Value: reason.String()})
}

// RecordAckTimeout records one acknowledgment timeout.
func (m *SessionMetrics) RecordAckTimeout(ctx context.Context) {
	if m == nil {
		return
	}
	m.ackTimeouts.Add(ctx, 1)
}

// RecordConnection records one successfully opened connection.
func (m *SessionMetrics) RecordConnection(ctx context.Context) {
	if m == nil {
		return
	}
	m.connections.Add(ctx, 1)
}
