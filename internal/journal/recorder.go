package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/tonimelisma/cloudmon/internal/changesource"
	"github.com/tonimelisma/cloudmon/internal/syncerr"
)

const recordTimeout = 5 * time.Second

// Recorder writes monitor notifications to a Journal. It satisfies
// monitor.Delegate. Write failures are logged, never propagated.
type Recorder struct {
	j           *Journal
	containerID string
	session     func() string
	logger      *slog.Logger
}

// NewRecorder returns a Recorder for one container. session reports the
// monitor's current session identifier at the time of each notification.
func (j *Journal) NewRecorder(containerID string, session func() string) *Recorder {
	return &Recorder{
		j:           j,
		containerID: containerID,
		session:     session,
		logger:      j.logger.With(slog.String("container_id", containerID)),
	}
}

// OnInitialSnapshot records the snapshot.
func (r *Recorder) OnInitialSnapshot(items []changesource.Item) {
	r.write(KindSnapshot, func(ctx context.Context, sid string) error {
		return r.j.RecordSnapshot(ctx, sid, r.containerID, items)
	})
}

// OnUpdate records the update.
func (r *Recorder) OnUpdate(items []changesource.Item, delta changesource.Delta) {
	r.write(KindUpdate, func(ctx context.Context, sid string) error {
		return r.j.RecordUpdate(ctx, sid, r.containerID, items, delta)
	})
}

// OnError records the error.
func (r *Recorder) OnError(se *syncerr.Error) {
	r.write(KindError, func(ctx context.Context, sid string) error {
		return r.j.RecordError(ctx, sid, r.containerID, se)
	})
}

// State records a lifecycle transition.
func (r *Recorder) State(state string) {
	r.write(KindState, func(ctx context.Context, sid string) error {
		return r.j.RecordState(ctx, sid, r.containerID, state)
	})
}

func (r *Recorder) write(kind string, fn func(ctx context.Context, sid string) error) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := fn(ctx, r.session()); err != nil {
		r.logger.Warn("journal write failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}
