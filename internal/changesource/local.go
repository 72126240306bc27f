package changesource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	stdsync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"

	"github.com/tonimelisma/cloudmon/internal/syncerr"
)

// Constants for the local source.
const (
	defaultDebounce      = 250 * time.Millisecond
	defaultRescanEvery   = 5 * time.Minute
	watchErrInitBackoff  = 1 * time.Second
	watchErrMaxBackoff   = 30 * time.Second
	watchErrBackoffMult  = 2
	eventChannelCapacity = 16
)

// FsWatcher abstracts fsnotify.Watcher so tests can inject events and errors.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// fsnotifyWatcher adapts *fsnotify.Watcher, whose channels are fields, to FsWatcher.
type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return fsnotifyWatcher{w: w}, nil
}

// LocalOptions tunes a LocalSource. Zero values select defaults.
type LocalOptions struct {
	// Debounce is how long the directory must be quiet before a burst of
	// filesystem events is turned into one update.
	Debounce time.Duration
	// RescanEvery forces a full rescan periodically, catching events the
	// kernel dropped.
	RescanEvery time.Duration
}

// LocalSource watches a provider-synchronized directory on the local
// filesystem. The provider daemon materializes container contents (and
// placeholders for items not yet downloaded) in that directory.
type LocalSource struct {
	opts       LocalOptions
	logger     *slog.Logger
	newWatcher func() (FsWatcher, error)
	sleepFunc  func(ctx context.Context, d time.Duration) error
}

// NewLocalSource creates a LocalSource.
func NewLocalSource(opts LocalOptions, logger *slog.Logger) *LocalSource {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}

	if opts.RescanEvery <= 0 {
		opts.RescanEvery = defaultRescanEvery
	}

	return &LocalSource{
		opts:       opts,
		logger:     logger,
		newWatcher: newFsnotifyWatcher,
		sleepFunc:  timeSleep,
	}
}

// Subscribe starts watching q.Dir. Gathering runs asynchronously; the first
// event on the returned subscription is EventGatheringFinished (or
// EventError if the initial enumeration fails).
func (s *LocalSource) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	info, err := os.Stat(q.Dir)
	if err != nil {
		return nil, &syncerr.ProviderError{Op: "subscribe", Err: err}
	}

	if !info.IsDir() {
		return nil, &syncerr.ProviderError{Op: "subscribe", Err: fmt.Errorf("%s: %w", q.Dir, errNotDirectory)}
	}

	watcher, err := s.newWatcher()
	if err != nil {
		return nil, &syncerr.ProviderError{Op: "create watcher", Err: err}
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	sub := &localSubscription{
		source:  s,
		query:   q,
		watcher: watcher,
		events:  make(chan Event, eventChannelCapacity),
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  s.logger.With(slog.String("dir", q.Dir)),
	}

	if err := sub.addWatchRecursive(q.Dir); err != nil {
		cancel()
		watcher.Close()

		return nil, &syncerr.ProviderError{Op: "watch", Err: err}
	}

	go sub.run(subCtx)

	return sub, nil
}

type localSubscription struct {
	source  *LocalSource
	query   Query
	watcher FsWatcher
	events  chan Event
	cancel  context.CancelFunc
	done    chan struct{}
	logger  *slog.Logger

	closeOnce stdsync.Once
	closeErr  error

	// prev is the last snapshot delivered; gathered records whether the
	// initial enumeration has been reported. Both are touched only by run.
	prev     Snapshot
	gathered bool
}

func (s *localSubscription) Events() <-chan Event {
	return s.events
}

// Close stops the watch loop, waits for it to exit, and releases the watcher.
func (s *localSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done

		var result *multierror.Error
		if err := s.watcher.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("changesource: closing watcher: %w", err))
		}

		s.closeErr = result.ErrorOrNil()

		s.logger.Debug("local subscription closed")
	})

	return s.closeErr
}

func (s *localSubscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	s.gather(ctx)

	if err := s.watchLoop(ctx); err != nil {
		s.send(ctx, Event{Kind: EventError, Err: err})
	}
}

// gather performs the initial enumeration.
func (s *localSubscription) gather(ctx context.Context) {
	snap, err := scanDir(ctx, s.query.Dir, s.query.FileType, s.logger)
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("initial gathering failed", slog.String("error", err.Error()))
		s.send(ctx, Event{Kind: EventError, Err: &syncerr.ProviderError{Op: "gather", Err: err}})

		// The next successful rescan reports the gathering instead.
		s.prev = make(Snapshot)

		return
	}

	s.prev = snap
	s.gathered = true

	s.logger.Info("initial gathering finished", slog.Int("items", len(snap)))
	s.send(ctx, Event{Kind: EventGatheringFinished, Items: snap.Items()})
}

// watchLoop multiplexes fsnotify events, watcher errors, the debounce timer
// and the periodic rescan. Returns a non-nil error only when the watcher
// itself terminates unexpectedly.
func (s *localSubscription) watchLoop(ctx context.Context) error {
	debounce := time.NewTimer(s.source.opts.Debounce)
	debounce.Stop()
	defer debounce.Stop()

	rescan := time.NewTicker(s.source.opts.RescanEvery)
	defer rescan.Stop()

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case fsEvent, ok := <-s.watcher.Events():
			if !ok {
				return s.terminated(ctx)
			}

			if s.handleFsEvent(fsEvent) {
				debounce.Reset(s.source.opts.Debounce)
			}

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-s.watcher.Errors():
			if !ok {
				return s.terminated(ctx)
			}

			s.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			s.send(ctx, Event{Kind: EventError, Err: &syncerr.ProviderError{Op: "watch", Err: watchErr}})

			// A queue overflow means events were lost: rescan to recover.
			if errors.Is(watchErr, fsnotify.ErrEventOverflow) {
				debounce.Reset(s.source.opts.Debounce)
			}

			if sleepErr := s.source.sleepFunc(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff *= watchErrBackoffMult
			if errBackoff > watchErrMaxBackoff {
				errBackoff = watchErrMaxBackoff
			}

		case <-debounce.C:
			s.refresh(ctx)

		case <-rescan.C:
			s.logger.Debug("periodic rescan")
			s.refresh(ctx)
		}
	}
}

func (s *localSubscription) terminated(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	s.logger.Warn("filesystem watcher terminated")

	return &syncerr.ProviderError{Op: "watch", Err: errors.New("watcher closed unexpectedly")}
}

// handleFsEvent registers watches on new directories and reports whether the
// event can affect the observed set.
func (s *localSubscription) handleFsEvent(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := s.addWatchRecursive(ev.Name); err != nil {
				s.logger.Warn("failed to watch new directory",
					slog.String("path", ev.Name), slog.String("error", err.Error()))
			}

			return true
		}
	}

	name := filepath.Base(ev.Name)
	if logical, _, ok := logicalName(name); ok {
		return s.query.FileType.Matches(logical)
	}

	// Removed or renamed directories carry no extension; let the rescan decide.
	return ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

// refresh rescans the directory and emits an update if anything changed.
func (s *localSubscription) refresh(ctx context.Context) {
	snap, err := scanDir(ctx, s.query.Dir, s.query.FileType, s.logger)
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("rescan failed", slog.String("error", err.Error()))
		s.send(ctx, Event{Kind: EventError, Err: &syncerr.ProviderError{Op: "rescan", Err: err}})

		return
	}

	if !s.gathered {
		s.prev = snap
		s.gathered = true

		s.logger.Info("gathering finished after rescan", slog.Int("items", len(snap)))
		s.send(ctx, Event{Kind: EventGatheringFinished, Items: snap.Items()})

		return
	}

	delta := snap.Diff(s.prev)
	if delta.Empty() {
		return
	}

	s.prev = snap

	s.logger.Debug("directory updated",
		slog.Int("added", len(delta.Added)),
		slog.Int("modified", len(delta.Modified)),
		slog.Int("removed", len(delta.Removed)),
	)

	s.send(ctx, Event{Kind: EventUpdated, Items: snap.Items(), Delta: delta})
}

// send blocks until the event is accepted or the subscription is closed.
func (s *localSubscription) send(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// addWatchRecursive watches root and every non-hidden subdirectory.
func (s *localSubscription) addWatchRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}

			return skipEntry(d)
		}

		if !d.IsDir() {
			return nil
		}

		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		if addErr := s.watcher.Add(p); addErr != nil {
			if p == root {
				return addErr
			}

			s.logger.Warn("failed to add watch", slog.String("path", p), slog.String("error", addErr.Error()))
		}

		return nil
	})
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
