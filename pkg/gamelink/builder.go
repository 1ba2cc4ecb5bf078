package gamelink

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/playforge/gamelink/pkg/gamelink/o11y"
)

// SessionBuilder provides a fluent interface for building sessions.
type SessionBuilder struct {
	url       string
	headers   http.Header
	logger    *zap.Logger
	clock     Clock
	dialer    Dialer
	notifier  Notifier
	status    StatusListener
	refresher CredentialRefresher
	handlers  map[Topic]TopicHandler
	provider  o11y.MetricsProvider

	dialTimeout      time.Duration
	ackTimeout       time.Duration
	inactivityWindow time.Duration
	retryInterval    time.Duration
	handshakeNotice  time.Duration
	idleCushion      time.Duration
	refreshGuard     time.Duration
}

// NewSession creates a new session builder with sensible defaults.
func NewSession() *SessionBuilder {
	return &SessionBuilder{
		logger:           zap.NewNop(),
		clock:            SystemClock(),
		notifier:         NopNotifier{},
		status:           NopStatusListener{},
		handlers:         make(map[Topic]TopicHandler),
		dialTimeout:      DefaultDialTimeout,
		ackTimeout:       DefaultAckTimeout,
		inactivityWindow: DefaultInactivityWindow,
		retryInterval:    DefaultRetryInterval,
		handshakeNotice:  DefaultHandshakeNotice,
		idleCushion:      DefaultIdleCushion,
		refreshGuard:     DefaultRefreshGuard,
	}
}

// WithURL sets the WebSocket URL to connect to.
func (b *SessionBuilder) WithURL(url string) *SessionBuilder {
	b.url = url
	return b
}

// WithHeader sets a single HTTP header for the WebSocket handshake.
func (b *SessionBuilder) WithHeader(key, value string) *SessionBuilder {
	if b.headers == nil {
		b.headers = make(http.Header)
	}
	b.headers.Set(key, value)
	return b
}

// WithLogger sets the logger for the session.
func (b *SessionBuilder) WithLogger(logger *zap.Logger) *SessionBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithClock sets the clock driving every timer. Tests inject a virtual clock
// here; production code uses the default SystemClock.
func (b *SessionBuilder) WithClock(clock Clock) *SessionBuilder {
	if clock != nil {
		b.clock = clock
	}
	return b
}

// WithDialer sets a custom transport dialer, replacing the default
// WebsocketDialer built from the URL.
func (b *SessionBuilder) WithDialer(dialer Dialer) *SessionBuilder {
	b.dialer = dialer
	return b
}

// WithNotifier sets the sink for user-facing connectivity notices.
func (b *SessionBuilder) WithNotifier(notifier Notifier) *SessionBuilder {
	if notifier != nil {
		b.notifier = notifier
	}
	return b
}

// WithStatusListener sets the sink for internal connectivity signals.
func (b *SessionBuilder) WithStatusListener(listener StatusListener) *SessionBuilder {
	if listener != nil {
		b.status = listener
	}
	return b
}

// WithCredentialRefresher sets the function awaited before every physical
// connection attempt to renew the authentication/session prerequisite.
func (b *SessionBuilder) WithCredentialRefresher(refresher CredentialRefresher) *SessionBuilder {
	b.refresher = refresher
	return b
}

// WithTopicHandler registers the handler for one topic's payloads and
// resynchronization.
func (b *SessionBuilder) WithTopicHandler(topic Topic, handler TopicHandler) *SessionBuilder {
	if handler != nil {
		b.handlers[topic] = handler
	}
	return b
}

// WithMetricsProvider enables metrics collection through the given provider.
func (b *SessionBuilder) WithMetricsProvider(provider o11y.MetricsProvider) *SessionBuilder {
	b.provider = provider
	return b
}

// WithDialTimeout sets the timeout for one physical handshake.
func (b *SessionBuilder) WithDialTimeout(d time.Duration) *SessionBuilder {
	if d > 0 {
		b.dialTimeout = d
	}
	return b
}

// WithAckTimeout sets how long a sent message may go unacknowledged before
// the connection is renewed.
func (b *SessionBuilder) WithAckTimeout(d time.Duration) *SessionBuilder {
	if d > 0 {
		b.ackTimeout = d
	}
	return b
}

// WithInactivityWindow sets how long the connection may go without any
// inbound frame before being renewed.
func (b *SessionBuilder) WithInactivityWindow(d time.Duration) *SessionBuilder {
	if d > 0 {
		b.inactivityWindow = d
	}
	return b
}

// WithRetryInterval sets the fixed backoff between failed open attempts.
func (b *SessionBuilder) WithRetryInterval(d time.Duration) *SessionBuilder {
	if d > 0 {
		b.retryInterval = d
	}
	return b
}

// WithHandshakeNotice sets how often a progress notice fires while a
// handshake is outstanding.
func (b *SessionBuilder) WithHandshakeNotice(d time.Duration) *SessionBuilder {
	if d > 0 {
		b.handshakeNotice = d
	}
	return b
}

// WithIdleCushion sets how long an unused connection with no subscriptions
// stays open before being closed proactively.
func (b *SessionBuilder) WithIdleCushion(d time.Duration) *SessionBuilder {
	if d > 0 {
		b.idleCushion = d
	}
	return b
}

// WithRefreshGuard sets the window within which a repeated credential closure
// is treated as a persistent failure instead of retried.
func (b *SessionBuilder) WithRefreshGuard(d time.Duration) *SessionBuilder {
	if d > 0 {
		b.refreshGuard = d
	}
	return b
}

// Build creates the session with the configured options.
func (b *SessionBuilder) Build() (*Session, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	dialer := b.dialer
	if dialer == nil {
		dialer = &WebsocketDialer{URL: b.url, Headers: b.headers, Logger: b.logger}
	}

	handlers := make(map[Topic]TopicHandler, len(b.handlers))
	for topic, handler := range b.handlers {
		handlers[topic] = handler
	}

	s := &Session{
		logger:           b.logger,
		clock:            b.clock,
		dialer:           dialer,
		notifier:         b.notifier,
		status:           b.status,
		refresher:        b.refresher,
		handlers:         handlers,
		metrics:          NewSessionMetrics(b.provider),
		dialTimeout:      b.dialTimeout,
		ackTimeout:       b.ackTimeout,
		inactivityWindow: b.inactivityWindow,
		retryInterval:    b.retryInterval,
		handshakeNotice:  b.handshakeNotice,
		idleCushion:      b.idleCushion,
		refreshGuard:     b.refreshGuard,
		registry:         NewSubscriptionRegistry(),
		replies:          newReplyTable(),
	}

	s.liveness = newLivenessTracker(b.clock, b.ackTimeout, b.inactivityWindow)
	s.liveness.onAckTimeout = func() {
		s.metrics.RecordAckTimeout(context.Background())
		s.logger.Warn("no acknowledgment heard in time, renewing connection")
		s.renew()
	}
	s.liveness.onInactivity = func() {
		s.logger.Warn("no inbound frames heard in time, renewing connection")
		s.renew()
	}

	return s, nil
}

// IsValid checks that all required configuration is present.
func (b *SessionBuilder) IsValid() error {
	if b.url == "" && b.dialer == nil {
		return fmt.Errorf("URL or dialer is required")
	}
	return nil
}
