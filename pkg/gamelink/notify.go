package gamelink

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// User-facing connectivity notices.
const (
	NoticeConnectionLost  = "Connection lost. Retrying..."
	NoticeReconnected     = "Reconnected."
	NoticeConnecting      = "Still connecting..."
	NoticeTooManyRequests = "Too many requests. Please wait a moment."
	NoticeMessageTooBig   = "Message too large."
	NoticeTooManySockets  = "Too many open connections."
	NoticeOriginError     = "Unrecognized origin."
	NoticeNoIP            = "Unable to identify your connection."
	NoticePersistentAuth  = "Unable to refresh your session. Please sign in again."
)

// ReplyFunc receives the raw contents of the frame answering a sent message,
// or nil when the send failed before reaching the server, so reply-driven
// callers never hang.
type ReplyFunc func(contents json.RawMessage)

// TopicHandler consumes one topic's server-pushed payloads and knows how to
// resynchronize that topic's state after a reconnection.
type TopicHandler interface {
	// OnMessage handles the payload of one routed frame.
	OnMessage(ctx context.Context, action string, value json.RawMessage) error
	// Resync re-requests whatever server state the topic needs after the
	// connection has been re-established.
	Resync(ctx context.Context) error
}

// BaseTopicHandler is a no-op TopicHandler intended for embedding.
type BaseTopicHandler struct{}

func (BaseTopicHandler) OnMessage(ctx context.Context, action string, value json.RawMessage) error {
	return nil
}

func (BaseTopicHandler) Resync(ctx context.Context) error {
	return nil
}

// CredentialRefresher renews the authentication/session prerequisite. It is
// awaited before every physical connection attempt.
type CredentialRefresher func(ctx context.Context) error

// Notifier receives user-facing connectivity notices.
type Notifier interface {
	// Notice shows a transient message.
	Notice(text string)
	// Persistent shows a message that stays until dismissed.
	Persistent(text string)
}

// StatusListener receives internal connectivity signals consumed by UI state.
type StatusListener interface {
	ConnectionLost()
	ConnectionRestored()
	InvitesCleared()
}

// NopNotifier discards all notices.
type NopNotifier struct{}

func (NopNotifier) Notice(string)     {}
func (NopNotifier) Persistent(string) {}

// NopStatusListener ignores all signals.
type NopStatusListener struct{}

func (NopStatusListener) ConnectionLost()     {}
func (NopStatusListener) ConnectionRestored() {}
func (NopStatusListener) InvitesCleared()     {}

// LoggingNotifier logs notices instead of displaying them, for headless use.
type LoggingNotifier struct {
	logger *zap.Logger
}

// NewLoggingNotifier creates a Notifier that writes notices to the logger.
func NewLoggingNotifier(logger *zap.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger}
}

func (n *LoggingNotifier) Notice(text string) {
	n.logger.Info("notice", zap.String("text", text))
}

func (n *LoggingNotifier) Persistent(text string) {
	n.logger.Warn("persistent notice", zap.String("text", text))
}
