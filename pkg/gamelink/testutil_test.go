package gamelink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/playforge/gamelink/pkg/gamelink/o11y"
)

// fakeClock drives timers with virtual time.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// pendingTimers counts timers that are armed but not yet fired or stopped.
func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// advance moves virtual time forward, firing due timers in order. Callbacks
// run outside the clock lock and may schedule new timers, which fire too if
// they land within the advanced window.
func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	deadline := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(deadline) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		if next.at.After(c.now) {
			c.now = next.at
		}
		next.fired = true
		fn := next.fn
		c.mu.Unlock()
		fn()
		c.mu.Lock()
	}
	c.now = deadline
	c.mu.Unlock()
}

// fakeConn is an in-memory Conn that records writes and lets tests inject
// inbound frames and server-side closures.
type fakeConn struct {
	mu          sync.Mutex
	events      ConnEvents
	writes      [][]byte
	closed      bool
	closeReason string
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeReason = reason
	return nil
}

func (c *fakeConn) deliver(frame string) {
	c.events.OnFrame([]byte(frame))
}

func (c *fakeConn) serverClose(code int, reason string) {
	c.events.OnClosed(CloseStatus{Code: code, Reason: reason})
}

func (c *fakeConn) writtenFrames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := make([]string, len(c.writes))
	for i, w := range c.writes {
		frames[i] = string(w)
	}
	return frames
}

func (c *fakeConn) isClosed() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeReason
}

// fakeDialer hands out fakeConns, optionally failing the first N dials or
// blocking on a gate. It tracks the maximum number of concurrent dials.
type fakeDialer struct {
	mu          sync.Mutex
	dials       int
	failures    int // fail this many dials before succeeding
	dyingDials  int // deliver a closure from inside this many dials
	conns       []*fakeConn
	gate        chan struct{}
	inflight    int32
	maxInflight int32
}

func (d *fakeDialer) Dial(ctx context.Context, events ConnEvents) (Conn, error) {
	cur := atomic.AddInt32(&d.inflight, 1)
	for {
		max := atomic.LoadInt32(&d.maxInflight)
		if cur <= max || atomic.CompareAndSwapInt32(&d.maxInflight, max, cur) {
			break
		}
	}
	defer atomic.AddInt32(&d.inflight, -1)

	d.mu.Lock()
	gate := d.gate
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	d.dials++
	if d.failures > 0 {
		d.failures--
		d.mu.Unlock()
		return nil, errors.New("dial failed")
	}
	conn := &fakeConn{events: events}
	d.conns = append(d.conns, conn)
	dying := d.dyingDials > 0
	if dying {
		d.dyingDials--
	}
	d.mu.Unlock()

	if dying {
		// The read loop is live before Dial returns, so a connection can die
		// with its close event delivered mid-handshake.
		events.OnClosed(CloseStatus{Code: StatusAbnormalClosure})
	}
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// recordingNotifier captures notices for assertions.
type recordingNotifier struct {
	mu         sync.Mutex
	notices    []string
	persistent []string
}

func (n *recordingNotifier) Notice(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, text)
}

func (n *recordingNotifier) Persistent(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.persistent = append(n.persistent, text)
}

func (n *recordingNotifier) hasNotice(text string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, notice := range n.notices {
		if notice == text {
			return true
		}
	}
	return false
}

func (n *recordingNotifier) noticeCount(text string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, notice := range n.notices {
		if notice == text {
			count++
		}
	}
	return count
}

func (n *recordingNotifier) persistentCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.persistent)
}

func (n *recordingNotifier) hasPersistent(text string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, notice := range n.persistent {
		if notice == text {
			return true
		}
	}
	return false
}

// recordingStatus counts connectivity signals.
type recordingStatus struct {
	lost           atomic.Int32
	restored       atomic.Int32
	invitesCleared atomic.Int32
}

func (s *recordingStatus) ConnectionLost()     { s.lost.Add(1) }
func (s *recordingStatus) ConnectionRestored() { s.restored.Add(1) }
func (s *recordingStatus) InvitesCleared()     { s.invitesCleared.Add(1) }

// recordingHandler captures resyncs and routed payloads for one topic.
type recordingHandler struct {
	BaseTopicHandler
	mu       sync.Mutex
	resyncs  int
	actions  []string
	values   []string
}

func (h *recordingHandler) OnMessage(ctx context.Context, action string, value json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions = append(h.actions, action)
	h.values = append(h.values, string(value))
	return nil
}

func (h *recordingHandler) Resync(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resyncs++
	return nil
}

func (h *recordingHandler) resyncCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resyncs
}

func (h *recordingHandler) receivedActions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.actions))
	copy(out, h.actions)
	return out
}

// fakeMetrics implements o11y.MetricsProvider with in-memory capture.
type fakeMetrics struct {
	mu       sync.Mutex
	counters map[string]int64
	samples  map[string][]float64
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		counters: make(map[string]int64),
		samples:  make(map[string][]float64),
	}
}

func (m *fakeMetrics) Counter(name string) o11y.Counter     { return fakeCounter{m: m, name: name} }
func (m *fakeMetrics) Histogram(name string) o11y.Histogram { return fakeHistogram{m: m, name: name} }
func (m *fakeMetrics) Gauge(name string) o11y.Gauge         { return fakeGauge{} }

func (m *fakeMetrics) counterValue(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func (m *fakeMetrics) histogramSamples(name string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.samples[name]...)
}

type fakeCounter struct {
	m    *fakeMetrics
	name string
}

func (c fakeCounter) Add(ctx context.Context, value int64, labels ...o11y.Label) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	c.m.counters[c.name] += value
}

type fakeHistogram struct {
	m    *fakeMetrics
	name string
}

func (h fakeHistogram) Record(ctx context.Context, value float64, labels ...o11y.Label) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	h.m.samples[h.name] = append(h.m.samples[h.name], value)
}

type fakeGauge struct{}

func (fakeGauge) Set(ctx context.Context, value float64, labels ...o11y.Label) {}

// testRig bundles a session wired entirely to fakes.
type testRig struct {
	clock    *fakeClock
	dialer   *fakeDialer
	notifier *recordingNotifier
	status   *recordingStatus
	game     *recordingHandler
	invites  *recordingHandler
	metrics  *fakeMetrics
	session  *Session
}

func newTestRig(t *testing.T, opts ...func(*SessionBuilder)) *testRig {
	t.Helper()

	rig := &testRig{
		clock:    newFakeClock(),
		dialer:   &fakeDialer{},
		notifier: &recordingNotifier{},
		status:   &recordingStatus{},
		game:     &recordingHandler{},
		invites:  &recordingHandler{},
		metrics:  newFakeMetrics(),
	}

	builder := NewSession().
		WithDialer(rig.dialer).
		WithClock(rig.clock).
		WithNotifier(rig.notifier).
		WithStatusListener(rig.status).
		WithTopicHandler(TopicGame, rig.game).
		WithTopicHandler(TopicInvites, rig.invites).
		WithMetricsProvider(rig.metrics)
	for _, opt := range opts {
		opt(builder)
	}

	session, err := builder.Build()
	require.NoError(t, err)
	rig.session = session
	return rig
}
