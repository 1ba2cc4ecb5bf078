package gamelink

import (
	"sync"
	"time"
)

// pendingAck tracks one sent message awaiting its acknowledgment echo.
type pendingAck struct {
	sentAt time.Time
	timer  Timer
}

// livenessTracker owns the two timer families that detect a silently dead
// connection: per-message acknowledgment timers and the global inactivity
// deadline. Callbacks fire at most once per arming and never after reset, so
// timers belonging to a torn-down connection cannot act on its successor.
type livenessTracker struct {
	clock            Clock
	ackTimeout       time.Duration
	inactivityWindow time.Duration

	onAckTimeout func() // no acknowledgment within ackTimeout
	onInactivity func() // no inbound frame within inactivityWindow

	mu            sync.Mutex
	pending       map[int64]pendingAck
	inactivity    Timer
	inactivitySeq uint64
}

func newLivenessTracker(clock Clock, ackTimeout, inactivityWindow time.Duration) *livenessTracker {
	return &livenessTracker{
		clock:            clock,
		ackTimeout:       ackTimeout,
		inactivityWindow: inactivityWindow,
		pending:          make(map[int64]pendingAck),
	}
}

// trackAck arms an acknowledgment timer for a sent message.
func (t *livenessTracker) trackAck(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[id]; ok {
		return
	}
	t.pending[id] = pendingAck{
		sentAt: t.clock.Now(),
		timer:  t.clock.AfterFunc(t.ackTimeout, func() { t.ackExpired(id) }),
	}
}

func (t *livenessTracker) ackExpired(id int64) {
	t.mu.Lock()
	_, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if ok && t.onAckTimeout != nil {
		t.onAckTimeout()
	}
}

// resolveAck cancels the timer for id and returns the round-trip time.
func (t *livenessTracker) resolveAck(id int64) (time.Duration, bool) {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
		p.timer.Stop()
	}
	now := t.clock.Now()
	t.mu.Unlock()
	if !ok {
		return 0, false
	}
	return now.Sub(p.sentAt), true
}

// pendingCount reports how many sent messages still await acknowledgment.
func (t *livenessTracker) pendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// bumpInactivity (re)arms the inactivity deadline. Called on every inbound
// frame: any frame at all proves the transport path is alive.
func (t *livenessTracker) bumpInactivity() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inactivity != nil {
		t.inactivity.Stop()
	}
	t.inactivitySeq++
	seq := t.inactivitySeq
	t.inactivity = t.clock.AfterFunc(t.inactivityWindow, func() { t.inactivityExpired(seq) })
}

func (t *livenessTracker) inactivityExpired(seq uint64) {
	t.mu.Lock()
	live := t.inactivity != nil && seq == t.inactivitySeq
	if live {
		t.inactivity = nil
	}
	t.mu.Unlock()
	if live && t.onInactivity != nil {
		t.onInactivity()
	}
}

// stopInactivity cancels the deadline. There is no point watching liveness on
// a connection nobody is subscribed on.
func (t *livenessTracker) stopInactivity() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inactivity != nil {
		t.inactivity.Stop()
		t.inactivity = nil
	}
	t.inactivitySeq++
}

// reset invalidates every pending acknowledgment and the inactivity deadline.
// Must run on connection teardown so a stale timeout cannot close a healthy
// successor connection.
func (t *livenessTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, p := range t.pending {
		p.timer.Stop()
		delete(t.pending, id)
	}
	if t.inactivity != nil {
		t.inactivity.Stop()
		t.inactivity = nil
	}
	t.inactivitySeq++
}
