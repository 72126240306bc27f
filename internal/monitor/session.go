package monitor

import (
	"log/slog"
	"net/url"
	stdsync "sync"
	"sync/atomic"

	"github.com/tonimelisma/cloudmon/internal/changesource"
	"github.com/tonimelisma/cloudmon/internal/syncerr"
)

// session is one start-to-stop run. Its bookkeeping fields are owned by the
// pump goroutine.
type session struct {
	id  string
	dir *url.URL
	sub changesource.Subscription

	wakeCh chan struct{}

	// deliverMu is held by invoke from the closed check until the callback
	// returns. Stop sets closed and then waits on deliverMu, unless it is
	// running inside that callback (inCallback).
	deliverMu  stdsync.Mutex
	closed     atomic.Bool
	inCallback atomic.Bool

	gathered        bool
	pendingSnapshot bool
	pendingUpdate   bool
	latest          changesource.Snapshot
	delivered       changesource.Snapshot
}

func newSession(id string, dir *url.URL, sub changesource.Subscription) *session {
	return &session{
		id:     id,
		dir:    dir,
		sub:    sub,
		wakeCh: make(chan struct{}, 1),
	}
}

// wake asks the pump to flush deliveries held back while paused.
func (s *session) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// pump is the session's delivery goroutine. It exits when the subscription's
// event channel closes, which happens on Stop or when the provider ends it.
func (m *Monitor) pump(sess *session) {
	log := m.logger.With(slog.String("session_id", sess.id))

	for {
		select {
		case ev, ok := <-sess.sub.Events():
			if !ok {
				if m.current(sess) {
					log.Warn("change source ended the subscription")
				}

				return
			}

			m.handle(sess, ev, log)

		case <-sess.wakeCh:
			m.flush(sess)
		}
	}
}

// gate reports whether sess is the active session and whether delivery is
// suspended.
func (m *Monitor) gate(sess *session) (active, paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sess == sess, m.state == StatePaused
}

func (m *Monitor) handle(sess *session, ev changesource.Event, log *slog.Logger) {
	active, paused := m.gate(sess)
	if !active {
		return
	}

	switch ev.Kind {
	case changesource.EventGatheringFinished:
		sess.latest = changesource.NewSnapshot(ev.Items)

		switch {
		case sess.gathered:
			// A repeated gathering is reported as an update of the set.
			m.update(sess, paused)
		case paused:
			sess.pendingSnapshot = true
		default:
			m.deliverSnapshot(sess)
		}

	case changesource.EventUpdated:
		sess.latest = changesource.NewSnapshot(ev.Items)
		m.update(sess, paused)

	case changesource.EventError:
		se := syncerr.FromError(ev.Err)
		if se == nil {
			se = syncerr.New(syncerr.KindUnclassified)
		}

		logProviderError(log, se, paused)

		if paused {
			return
		}

		m.invoke(sess, func(d Delegate) { d.OnError(se) })

	default:
		log.Debug("ignoring unknown change event", slog.Int("kind", int(ev.Kind)))
	}
}

// flush delivers what was held back while paused: the initial snapshot if
// gathering finished meanwhile, otherwise one update carrying the latest set.
func (m *Monitor) flush(sess *session) {
	active, paused := m.gate(sess)
	if !active || paused {
		return
	}

	switch {
	case sess.pendingSnapshot:
		m.deliverSnapshot(sess)
	case sess.pendingUpdate:
		sess.pendingUpdate = false
		m.deliverUpdate(sess)
	}
}

func (m *Monitor) deliverSnapshot(sess *session) {
	sess.gathered = true
	sess.pendingSnapshot = false
	sess.pendingUpdate = false
	sess.delivered = sess.latest

	items := sess.latest.Items()
	m.invoke(sess, func(d Delegate) { d.OnInitialSnapshot(items) })
}

// update delivers an update now, or holds it for Resume.
func (m *Monitor) update(sess *session, paused bool) {
	if paused {
		sess.pendingUpdate = true
		return
	}

	m.deliverUpdate(sess)
}

// deliverUpdate reports the latest set with its delta against the previous
// delivery. The delta may be empty.
func (m *Monitor) deliverUpdate(sess *session) {
	delta := sess.latest.Diff(sess.delivered)
	sess.delivered = sess.latest

	items := sess.latest.Items()
	m.invoke(sess, func(d Delegate) { d.OnUpdate(items, delta) })
}

// invoke calls fn with the current delegate unless the session has ended or
// no delegate is attached.
func (m *Monitor) invoke(sess *session, fn func(Delegate)) {
	sess.deliverMu.Lock()
	defer sess.deliverMu.Unlock()

	if sess.closed.Load() {
		return
	}

	d := m.Delegate()
	if d == nil {
		return
	}

	sess.inCallback.Store(true)
	defer sess.inCallback.Store(false)

	fn(d)
}

// close marks the session ended. Once close returns no callback of the
// session can start: an invoke that passed the closed check either has its
// callback running already or is waited for.
func (s *session) close() {
	s.closed.Store(true)

	if s.inCallback.Load() {
		return
	}

	s.deliverMu.Lock()
	s.deliverMu.Unlock() //nolint:staticcheck // waits for invoke to return
}

func logProviderError(log *slog.Logger, se *syncerr.Error, paused bool) {
	attrs := []any{
		slog.String("kind", se.Kind.String()),
		slog.Int("code", int(se.Code)),
		slog.Bool("paused", paused),
	}

	if se.Err != nil {
		attrs = append(attrs, slog.String("error", se.Err.Error()))
	}

	if !se.Classified() {
		log.Error("unclassified provider error", attrs...)
		return
	}

	log.Warn("provider error", attrs...)
}
