// Package monitor implements the cloud directory monitor: a state machine
// that checks cloud availability, resolves the monitored container,
// subscribes to its change source, and forwards classified notifications to
// a Delegate.
//
// Lifecycle:
//
//	idle ──Start──▶ starting ──ok──▶ running ◀──Resume── paused
//	  ▲               │ fail            │ Pause ─────────▲ │
//	  └───────────────┘                 └──Stop──▶ stopped ◀─Stop┘
//
// Start from stopped re-enters starting. A stopped monitor reports
// IsStarted() == false and IsPaused() == true.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	stdsync "sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tonimelisma/cloudmon/internal/changesource"
	"github.com/tonimelisma/cloudmon/internal/container"
	"github.com/tonimelisma/cloudmon/internal/identity"
	"github.com/tonimelisma/cloudmon/internal/syncerr"
)

// ErrStopped is returned by Start when Stop is called before the start
// attempt completes.
var ErrStopped = errors.New("monitor: stopped while starting")

// Config is fixed at construction.
type Config struct {
	ContainerID string
	FileType    container.FileType
}

// Monitor watches one cloud container directory. All methods are safe for
// concurrent use. Delegate callbacks run on a per-session delivery goroutine
// and never overlap.
type Monitor struct {
	cfg      Config
	probe    identity.Probe
	resolver container.Resolver
	source   changesource.Source
	logger   *slog.Logger

	delegate atomic.Pointer[delegateBox]

	mu      stdsync.Mutex
	state   State
	attempt *startAttempt // non-nil while starting
	sess    *session      // non-nil while running or paused
}

// startAttempt lets concurrent Start calls share one in-flight attempt.
type startAttempt struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// New creates an idle monitor.
func New(
	cfg Config, probe identity.Probe, resolver container.Resolver,
	source changesource.Source, logger *slog.Logger,
) *Monitor {
	return &Monitor{
		cfg:      cfg,
		probe:    probe,
		resolver: resolver,
		source:   source,
		logger: logger.With(
			slog.String("container_id", cfg.ContainerID),
			slog.String("file_type", string(cfg.FileType)),
		),
	}
}

// ContainerID returns the monitored container identifier.
func (m *Monitor) ContainerID() string {
	return m.cfg.ContainerID
}

// FileType returns the monitored file kind.
func (m *Monitor) FileType() container.FileType {
	return m.cfg.FileType
}

// SetDelegate installs the notification receiver. The monitor holds no other
// reference to it: passing nil detaches the consumer, after which
// notifications are dropped.
func (m *Monitor) SetDelegate(d Delegate) {
	if d == nil {
		m.delegate.Store(nil)
		return
	}

	m.delegate.Store(&delegateBox{d: d})
}

// Delegate returns the installed delegate, or nil.
func (m *Monitor) Delegate() Delegate {
	box := m.delegate.Load()
	if box == nil {
		return nil
	}

	return box.d
}

// IsCloudAvailable reports whether a cloud identity is currently present.
func (m *Monitor) IsCloudAvailable() bool {
	return m.probe.Available()
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// IsStarted reports whether a session is active (running or paused).
func (m *Monitor) IsStarted() bool {
	return m.State().started()
}

// IsPaused reports whether event delivery is suspended. True when paused
// and also after Stop.
func (m *Monitor) IsPaused() bool {
	return m.State().paused()
}

// Directory returns the resolved container URL of the active session, or nil.
func (m *Monitor) Directory() *url.URL {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return nil
	}

	return m.sess.dir
}

// SessionID returns the identifier of the active session, or "" when no
// session is active. A new identifier is minted on every successful Start.
func (m *Monitor) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess == nil {
		return ""
	}

	return m.sess.id
}

// StartAsync runs Start on a new goroutine and calls completion exactly once
// with its result. completion may be nil.
func (m *Monitor) StartAsync(ctx context.Context, completion func(error)) {
	go func() {
		err := m.Start(ctx)
		if completion != nil {
			completion(err)
		}
	}()
}

// Start checks availability, resolves the container and subscribes to its
// change source. It blocks until the subscription is active or the attempt
// fails; ctx bounds resolution and subscription only, not the session.
// Starting a running or paused monitor succeeds without side effects, and
// concurrent calls while starting share the same attempt. Failures leave
// the monitor in its previous state and are returned as *syncerr.Error,
// except ErrStopped and ctx errors from joined attempts.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()

	switch m.state {
	case StateRunning, StatePaused:
		m.mu.Unlock()
		return nil

	case StateStarting:
		att := m.attempt
		m.mu.Unlock()

		select {
		case <-att.done:
			return att.err
		case <-ctx.Done():
			return fmt.Errorf("monitor: waiting for start: %w", ctx.Err())
		}
	}

	prev := m.state
	attCtx, cancel := context.WithCancel(ctx)
	att := &startAttempt{cancel: cancel, done: make(chan struct{})}
	m.attempt = att
	m.state = StateStarting
	m.mu.Unlock()

	defer cancel()

	sess, err := m.open(attCtx)

	m.mu.Lock()
	superseded := m.attempt != att

	switch {
	case superseded:
		err = ErrStopped
	case err != nil:
		m.state = prev
	default:
		m.sess = sess
		m.state = StateRunning
	}

	if !superseded {
		m.attempt = nil
	}

	att.err = err
	close(att.done)
	m.mu.Unlock()

	if superseded && sess != nil {
		m.closeSession(sess)
	}

	if err != nil {
		if !superseded {
			m.logger.Warn("monitor start failed", slog.String("error", err.Error()))
		}

		return err
	}

	m.logger.Info("monitor started",
		slog.String("session_id", sess.id),
		slog.String("dir", sess.dir.String()),
	)

	go m.pump(sess)

	return nil
}

// open runs the start sequence: availability, resolution, subscription.
func (m *Monitor) open(ctx context.Context) (*session, error) {
	if !m.probe.Available() {
		return nil, syncerr.New(syncerr.KindCloudNotAvailable)
	}

	dir, err := m.resolver.Resolve(ctx, m.cfg.ContainerID, m.cfg.FileType)
	if err != nil {
		return nil, syncerr.FromError(err)
	}

	if dir == nil {
		return nil, syncerr.New(syncerr.KindContainerNotFound)
	}

	sub, err := m.source.Subscribe(ctx, changesource.Query{
		ContainerID: m.cfg.ContainerID,
		Dir:         container.Path(dir),
		FileType:    m.cfg.FileType,
	})
	if err != nil {
		return nil, syncerr.FromError(fmt.Errorf("monitor: subscribing to %s: %w", dir, err))
	}

	return newSession(uuid.New().String(), dir, sub), nil
}

// Stop ends the session and releases the subscription. When Stop returns no
// new callback will start; a callback already running may still finish.
// Stop may be called from a Delegate callback.
// Stopping an idle or stopped monitor is a no-op; stopping while starting
// cancels the attempt.
func (m *Monitor) Stop() {
	m.mu.Lock()

	switch m.state {
	case StateStarting:
		m.attempt.cancel()
		m.attempt = nil
		m.state = StateStopped
		m.mu.Unlock()

		m.logger.Info("monitor stopped while starting")

		return

	case StateRunning, StatePaused:
		sess := m.sess
		m.sess = nil
		m.state = StateStopped
		m.mu.Unlock()

		sess.close()
		m.closeSession(sess)

		m.logger.Info("monitor stopped", slog.String("session_id", sess.id))

		return

	default:
		m.mu.Unlock()
	}
}

// Pause suspends delivery. Events arriving while paused are held back and
// coalesced; see Resume. No-op unless running.
func (m *Monitor) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRunning {
		return
	}

	m.state = StatePaused

	m.logger.Info("monitor paused", slog.String("session_id", m.sess.id))
}

// Resume re-enables delivery without re-resolving the container. If the
// initial gathering finished while paused, the initial snapshot is delivered
// now; otherwise, if updates arrived while paused, one coalesced update with
// the latest set is delivered. No-op unless paused.
func (m *Monitor) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StatePaused {
		return
	}

	m.state = StateRunning
	m.sess.wake()

	m.logger.Info("monitor resumed", slog.String("session_id", m.sess.id))
}

func (m *Monitor) closeSession(sess *session) {
	if err := sess.sub.Close(); err != nil {
		m.logger.Warn("closing subscription failed",
			slog.String("session_id", sess.id),
			slog.String("error", err.Error()),
		)
	}
}

// current reports whether sess is still the active session.
func (m *Monitor) current(sess *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sess == sess
}
