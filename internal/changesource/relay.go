package changesource

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/tonimelisma/cloudmon/internal/container"
	"github.com/tonimelisma/cloudmon/internal/syncerr"
)

// Relay is the server side of the push notification protocol: it accepts
// websocket subscriptions, resolves the requested container, subscribes to
// an underlying Source, and streams its events to the client. It lets a
// WebSocketSource observe a directory that lives on another machine.
type Relay struct {
	resolver container.Resolver
	source   Source
	logger   *slog.Logger
}

// NewRelay creates a Relay serving events from source.
func NewRelay(resolver container.Resolver, source Source, logger *slog.Logger) *Relay {
	return &Relay{resolver: resolver, source: source, logger: logger}
}

// ServeHTTP handles one websocket subscription for its whole lifetime.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	ctx := req.Context()

	var sub subscribeMessage
	if err := wsjson.Read(ctx, conn, &sub); err != nil {
		r.logger.Debug("client left before subscribing", slog.String("error", err.Error()))
		return
	}

	if sub.Type != msgSubscribe {
		conn.Close(websocket.StatusPolicyViolation, "expected subscribe")
		return
	}

	log := r.logger.With(
		slog.String("remote", req.RemoteAddr),
		slog.String("container_id", sub.ContainerID),
	)

	s, err := r.subscribe(ctx, sub)
	if err != nil {
		log.Warn("relay subscription failed", slog.String("error", err.Error()))
		r.reject(ctx, conn, err)

		return
	}
	defer s.Close()

	log.Info("relay subscription started")

	// CloseRead discards client frames and cancels ctx when the client goes.
	ctx = conn.CloseRead(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info("relay client disconnected")
			return

		case ev, ok := <-s.Events():
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "subscription ended")
				return
			}

			if err := wsjson.Write(ctx, conn, notificationFor(ev)); err != nil {
				log.Debug("relay write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (r *Relay) subscribe(ctx context.Context, sub subscribeMessage) (Subscription, error) {
	fileType, err := container.ParseFileType(sub.FileType)
	if err != nil {
		return nil, err
	}

	dir, err := r.resolver.Resolve(ctx, sub.ContainerID, fileType)
	if err != nil {
		return nil, err
	}

	return r.source.Subscribe(ctx, Query{
		ContainerID: sub.ContainerID,
		Dir:         container.Path(dir),
		FileType:    fileType,
	})
}

// reject reports a failed subscription as an error notification, then
// closes the connection.
func (r *Relay) reject(ctx context.Context, conn *websocket.Conn, err error) {
	if werr := wsjson.Write(ctx, conn, errorNotification(err)); werr != nil {
		r.logger.Debug("relay write failed", slog.String("error", werr.Error()))
	}

	conn.Close(websocket.StatusPolicyViolation, "subscription failed")
}

func notificationFor(ev Event) notification {
	switch ev.Kind {
	case EventGatheringFinished:
		return notification{Type: msgGathered, Items: ev.Items}
	case EventUpdated:
		return notification{Type: msgUpdated, Items: ev.Items}
	default:
		return errorNotification(ev.Err)
	}
}

// errorNotification carries the provider code of err when it has one.
func errorNotification(err error) notification {
	n := notification{Type: msgError}
	if err == nil {
		return n
	}

	n.Message = err.Error()

	var pe *syncerr.ProviderError
	if errors.As(err, &pe) {
		n.Code = int(pe.Code)
		return n
	}

	var se *syncerr.Error
	if errors.As(err, &se) {
		n.Code = int(se.Code)
	}

	return n
}
