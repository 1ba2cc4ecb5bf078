package gamelink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// connState is the lifecycle state of the single physical connection.
type connState int

const (
	stateClosed connState = iota
	stateOpening
	stateOpen
)

func (s connState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpening:
		return "opening"
	case stateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Default timings, overridable through the builder.
const (
	DefaultDialTimeout      = 30 * time.Second
	DefaultAckTimeout       = 5 * time.Second
	DefaultInactivityWindow = 10 * time.Second
	DefaultRetryInterval    = 5 * time.Second
	DefaultHandshakeNotice  = 5 * time.Second
	DefaultIdleCushion      = 10 * time.Second
	DefaultRefreshGuard     = 24 * time.Hour
)

// attempt is one in-flight connection establishment. Every concurrent
// Establish caller waits on done and observes ok, so at most one physical
// open attempt exists at any instant.
type attempt struct {
	done chan struct{}
	ok   bool
}

// Session owns the single logical connection to the server and everything
// scoped to it: state, pending acknowledgments, reply callbacks, and timers.
// Subscriptions live beside it in the registry and outlast any connection.
type Session struct {
	logger    *zap.Logger
	clock     Clock
	dialer    Dialer
	notifier  Notifier
	status    StatusListener
	refresher CredentialRefresher
	handlers  map[Topic]TopicHandler
	metrics   *SessionMetrics

	dialTimeout      time.Duration
	ackTimeout       time.Duration
	inactivityWindow time.Duration
	retryInterval    time.Duration
	handshakeNotice  time.Duration
	idleCushion      time.Duration
	refreshGuard     time.Duration

	registry *SubscriptionRegistry
	liveness *livenessTracker
	replies  *replyTable

	messageID int64 // accessed atomically

	mu            sync.Mutex
	state         connState
	conn          Conn
	gen           uint64 // connection generation, bumped on every open and close
	connID        string
	attempt       *attempt
	cooldownUntil time.Time
	lastRefresh   time.Time
	idleTimer     Timer
	idleSeq       uint64
}

// Connected reports whether the connection is currently open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateOpen && s.conn != nil
}

// Subscribe marks topic as wanted. Intent survives disconnections: after any
// reconnect the topic's handler is asked to resynchronize.
func (s *Session) Subscribe(topic Topic) {
	if !s.registry.Subscribe(topic) {
		return
	}
	s.stopIdleTimer()
	s.logger.Debug("subscribed", zap.String("topic", string(topic)))
}

// Unsubscribe clears the topic's intent and sends a best-effort unsub notice
// if a connection is open. Dropping the last subscription disarms the
// inactivity deadline and starts the idle auto-close countdown.
func (s *Session) Unsubscribe(ctx context.Context, topic Topic) {
	if !s.registry.Unsubscribe(topic) {
		return
	}
	s.logger.Debug("unsubscribed", zap.String("topic", string(topic)))

	s.mu.Lock()
	conn := s.conn
	open := s.state == stateOpen
	s.mu.Unlock()

	if open && conn != nil {
		data, err := json.Marshal(outFrame{
			ID:       s.nextMessageID(),
			Route:    string(topic),
			Contents: frameBody{Action: "unsub"},
		})
		if err == nil {
			if err := conn.Write(ctx, data); err != nil {
				s.logger.Debug("unsub notice not delivered",
					zap.String("topic", string(topic)),
					zap.Error(err))
			}
		}
	}

	if !s.registry.HasAnyActive() {
		s.liveness.stopInactivity()
		if open {
			s.armIdleTimer()
		}
	}
}

// IsSubscribed reports whether topic is currently subscribed.
func (s *Session) IsSubscribed(topic Topic) bool {
	return s.registry.IsActive(topic)
}

// Establish ensures an open connection, collapsing concurrent callers onto a
// single physical attempt. It returns false without any I/O while a
// rate-limit cooldown is active, and true immediately if the connection is
// already open.
func (s *Session) Establish(ctx context.Context) bool {
	s.mu.Lock()
	if s.clock.Now().Before(s.cooldownUntil) {
		s.mu.Unlock()
		s.logger.Debug("connection attempt refused during cooldown")
		return false
	}
	if s.state == stateOpen && s.conn != nil {
		s.mu.Unlock()
		return true
	}
	if a := s.attempt; a != nil {
		s.mu.Unlock()
		select {
		case <-a.done:
			return a.ok
		case <-ctx.Done():
			return false
		}
	}
	a := &attempt{done: make(chan struct{})}
	s.attempt = a
	s.state = stateOpening
	s.mu.Unlock()

	return s.runAttempt(ctx, a)
}

// runAttempt drives the open-retry loop for the winning Establish caller.
// Failures retry on a fixed interval only while something is subscribed; with
// nothing subscribed the attempt is abandoned silently.
func (s *Session) runAttempt(ctx context.Context, a *attempt) bool {
	ok := false
	failed := false
	for {
		gen, err := s.openOnce(ctx)
		if err == nil {
			// Promote to open only if the connection survived the handshake.
			// A closure racing the dial bumps the generation, and a session
			// that reports success on an already-dead connection would strand
			// its callers: the close event that should recover it has already
			// been consumed.
			s.mu.Lock()
			if s.gen == gen && s.conn != nil {
				s.state = stateOpen
				ok = true
			} else {
				err = errors.New("connection closed during establishment")
			}
			s.mu.Unlock()
			if ok {
				break
			}
		}
		s.logger.Warn("connection attempt failed", zap.Error(err))
		if ctx.Err() != nil {
			break
		}
		if !s.registry.HasAnyActive() {
			break
		}
		failed = true
		s.notifier.Notice(NoticeConnectionLost)
		if !s.sleep(ctx, s.retryInterval) {
			break
		}
	}

	s.mu.Lock()
	if !ok {
		s.state = stateClosed
	}
	a.ok = ok
	s.attempt = nil
	s.mu.Unlock()
	close(a.done)

	if ok {
		if failed {
			s.notifier.Notice(NoticeReconnected)
			s.status.ConnectionRestored()
		}
		if s.registry.HasAnyActive() {
			s.liveness.bumpInactivity()
		} else {
			s.armIdleTimer()
		}
	}
	return ok
}

// openOnce performs one physical connection attempt: credential prerequisite,
// dial, handler installation. A progress notice fires periodically while the
// handshake is outstanding so a slow server does not look like a hang. It
// returns the generation the attempt ran under so the caller can verify the
// connection is still alive before reporting success.
func (s *Session) openOnce(ctx context.Context) (uint64, error) {
	if s.refresher != nil {
		if err := s.refresher(ctx); err != nil {
			return 0, fmt.Errorf("credential refresh failed: %w", err)
		}
	}

	// Stale acknowledgment timers from the previous generation must not fire
	// against this one.
	s.liveness.reset()

	notice := newHandshakeNotifier(s.clock, s.handshakeNotice, func() {
		s.notifier.Notice(NoticeConnecting)
	})
	defer notice.stop()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.connID = uuid.NewString()
	connID := s.connID
	s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	defer cancel()
	conn, err := s.dialer.Dial(dialCtx, ConnEvents{
		OnFrame:  func(data []byte) { s.handleFrame(context.Background(), gen, data) },
		OnClosed: func(status CloseStatus) { s.handleClosed(gen, status, false) },
	})
	if err != nil {
		return 0, err
	}

	// The read loop is live from inside Dial, so the connection may already
	// have died: its closure bumped the generation, and installing the handle
	// now would leave a dead connection no close event can ever tear down.
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		if err := conn.Close(closeClientClosure); err != nil {
			s.logger.Debug("error discarding dead connection", zap.Error(err))
		}
		return 0, errors.New("connection closed during handshake")
	}
	s.conn = conn
	s.mu.Unlock()

	s.metrics.RecordConnection(context.Background())
	s.logger.Info("connection open", zap.String("connID", connID))
	return gen, nil
}

// Close gracefully closes an open connection with an application-level
// reason. Calling it while not open is an error worth logging but nothing
// more.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	if s.state != stateOpen || s.conn == nil {
		s.mu.Unlock()
		s.logger.Error("close requested but no open connection", zap.String("reason", reason))
		return
	}
	conn := s.conn
	gen := s.gen
	s.mu.Unlock()

	if err := conn.Close(reason); err != nil {
		s.logger.Debug("error closing connection", zap.Error(err))
	}
	s.handleClosed(gen, CloseStatus{Code: statusNormalClosure, Reason: reason}, true)
}

// Disconnect gracefully closes the connection if one is open. Safe to call
// at any time.
func (s *Session) Disconnect() {
	if !s.Connected() {
		return
	}
	s.Close(closeClientClosure)
}

// renew force-closes the current connection so the recovery path opens a
// fresh one. Used when acknowledgments or inbound frames stop arriving on a
// connection that looks open but is dead.
func (s *Session) renew() {
	s.mu.Lock()
	if s.state != stateOpen || s.conn == nil {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	gen := s.gen
	s.mu.Unlock()

	if err := conn.Close(closeRenew); err != nil {
		s.logger.Debug("error closing connection for renewal", zap.Error(err))
	}
	s.handleClosed(gen, CloseStatus{Code: statusNormalClosure, Reason: closeRenew}, true)
}

// handleClosed is the single funnel for connection teardown, whether the
// closure came from the transport or from the session itself (local). Stale
// generations are ignored, so a close event can never tear down a connection
// it did not belong to.
func (s *Session) handleClosed(gen uint64, status CloseStatus, local bool) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	wasOpen := s.state == stateOpen
	s.conn = nil
	s.state = stateClosed
	s.gen++ // invalidate anything still pointing at the dead connection
	connID := s.connID
	s.mu.Unlock()

	s.clearDispatchState()
	s.stopIdleTimer()

	s.logger.Info("connection closed",
		zap.String("connID", connID),
		zap.Int("code", status.Code),
		zap.String("reason", status.Reason),
		zap.Bool("wasOpen", wasOpen))
	s.metrics.RecordClosure(context.Background(), ParseCloseReason(status.Code, status.Reason))

	action := Classify(status.Code, status.Reason, wasOpen)
	if local && action.Kind == ActionFatal {
		// The session closed this connection itself, so a reason outside the
		// wire vocabulary is the caller's label, not a server verdict.
		action = RecoveryAction{Kind: ActionNone}
	}
	s.recover(action, status)
}

// recover applies one closure's recovery action.
func (s *Session) recover(action RecoveryAction, status CloseStatus) {
	ctx := context.Background()
	switch action.Kind {
	case ActionNone:
	case ActionReconnect:
		if action.LostSignal {
			s.status.ConnectionLost()
		}
		if !s.registry.HasAnyActive() {
			return
		}
		go s.ResubscribeAll(ctx)
	case ActionRefreshAndReconnect:
		if !s.allowCredentialRefresh() {
			s.notifier.Persistent(NoticePersistentAuth)
			return
		}
		if !s.registry.HasAnyActive() {
			return
		}
		go s.ResubscribeAll(ctx)
	case ActionCooldown:
		if action.Notice != "" {
			s.notifier.Notice(action.Notice)
		}
		if action.ClearInvites {
			s.status.InvitesCleared()
		}
		s.startCooldown(action.Cooldown)
	case ActionFatal:
		s.logger.Error("connection closed for unrecognized reason, not reconnecting",
			zap.Int("code", status.Code),
			zap.String("reason", status.Reason))
		s.notifier.Persistent(fmt.Sprintf("Connection closed: %d %s", status.Code, status.Reason))
	}
}

// allowCredentialRefresh rate-limits credential-driven reconnect cycles. A
// second credential closure within the guard window means refreshing is not
// sticking (broken cookie storage, most likely) and silent retries would loop
// forever. The refresh itself happens as the prerequisite step of the next
// connection attempt.
func (s *Session) allowCredentialRefresh() bool {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastRefresh.IsZero() && now.Sub(s.lastRefresh) < s.refreshGuard {
		s.logger.Error("credential closure repeated within guard window, not retrying")
		return false
	}
	s.lastRefresh = now
	return true
}

// startCooldown refuses new connection attempts for d, then resumes
// subscription-driven reconnection once it elapses.
func (s *Session) startCooldown(d time.Duration) {
	until := s.clock.Now().Add(d)
	s.mu.Lock()
	s.cooldownUntil = until
	s.mu.Unlock()

	s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		if !s.cooldownUntil.Equal(until) {
			s.mu.Unlock()
			return
		}
		s.cooldownUntil = time.Time{}
		s.mu.Unlock()
		if s.registry.HasAnyActive() {
			s.ResubscribeAll(context.Background())
		}
	})
}

// ResubscribeAll re-establishes the connection and replays every active
// topic's resynchronization procedure. This is the transparent recovery path
// after any disconnection, expected or not.
func (s *Session) ResubscribeAll(ctx context.Context) bool {
	if !s.registry.HasAnyActive() {
		return true
	}
	if !s.Establish(ctx) {
		return false
	}
	for _, topic := range s.registry.ActiveTopics() {
		handler, ok := s.handlers[topic]
		if !ok {
			continue
		}
		if err := handler.Resync(ctx); err != nil {
			s.logger.Error("topic resync failed",
				zap.String("topic", string(topic)),
				zap.Error(err))
		}
	}
	return true
}

// PageRestored is the hook for the page-lifecycle collaborator: a page pulled
// back from the history cache may hold a stale connection, so everything is
// resynchronized.
func (s *Session) PageRestored(ctx context.Context) {
	s.ResubscribeAll(ctx)
}

// sleep waits d on the session clock, returning false if ctx ended first.
func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	woke := make(chan struct{})
	t := s.clock.AfterFunc(d, func() { close(woke) })
	select {
	case <-woke:
		return true
	case <-ctx.Done():
		t.Stop()
		return false
	}
}

// armIdleTimer schedules a proactive close of the connection. Only armed
// while nothing is subscribed: an idle connection nobody needs is a resource
// leak, but one with subscribers is the whole point of the session.
func (s *Session) armIdleTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleSeq++
	seq := s.idleSeq
	s.idleTimer = s.clock.AfterFunc(s.idleCushion, func() { s.idleExpired(seq) })
}

func (s *Session) idleExpired(seq uint64) {
	s.mu.Lock()
	live := s.idleTimer != nil && seq == s.idleSeq
	if live {
		s.idleTimer = nil
	}
	open := s.state == stateOpen
	s.mu.Unlock()
	if !live || !open || s.registry.HasAnyActive() {
		return
	}
	s.logger.Debug("closing idle connection")
	s.Close(closeClientClosure)
}

func (s *Session) stopIdleTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.idleSeq++
}

// touchIdleTimer pushes the idle deadline back after connection use.
func (s *Session) touchIdleTimer() {
	if s.registry.HasAnyActive() {
		return
	}
	s.armIdleTimer()
}

// handshakeNotifier repeatedly surfaces a progress notice while a handshake
// is outstanding, rescheduling itself until stopped.
type handshakeNotifier struct {
	mu      sync.Mutex
	clock   Clock
	every   time.Duration
	fn      func()
	timer   Timer
	stopped bool
}

func newHandshakeNotifier(clock Clock, every time.Duration, fn func()) *handshakeNotifier {
	n := &handshakeNotifier{clock: clock, every: every, fn: fn}
	n.schedule()
	return n
}

func (n *handshakeNotifier) schedule() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.stopped {
		n.timer = n.clock.AfterFunc(n.every, n.fire)
	}
}

func (n *handshakeNotifier) fire() {
	n.mu.Lock()
	stopped := n.stopped
	n.mu.Unlock()
	if stopped {
		return
	}
	n.fn()
	n.schedule()
}

func (n *handshakeNotifier) stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = true
	if n.timer != nil {
		n.timer.Stop()
	}
}
