package changesource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	stdsync "sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/hashicorp/go-multierror"

	"github.com/tonimelisma/cloudmon/internal/syncerr"
)

// Wire message types of the push notification protocol.
const (
	msgSubscribe = "subscribe"
	msgGathered  = "gathered"
	msgUpdated   = "updated"
	msgError     = "error"
)

// wsReadLimit bounds a single notification; a full listing of a large
// container fits comfortably.
const wsReadLimit = 8 << 20

// subscribeMessage is sent by the client once the connection is open.
type subscribeMessage struct {
	Type        string `json:"type"`
	ContainerID string `json:"container_id"`
	FileType    string `json:"file_type"`
}

// notification is one server-to-client message. Items is the full current
// listing for "gathered" and "updated"; Code and Message describe "error".
type notification struct {
	Type    string `json:"type"`
	Items   []Item `json:"items,omitempty"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// WebSocketSource subscribes to a provider's push notification endpoint.
// The server streams full listings; the source computes deltas locally.
type WebSocketSource struct {
	url        string
	header     http.Header
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebSocketSource creates a source for the given ws:// or wss:// URL.
// header is sent on the handshake (e.g. Authorization); it may be nil.
func NewWebSocketSource(url string, header http.Header, httpClient *http.Client, logger *slog.Logger) *WebSocketSource {
	return &WebSocketSource{
		url:        url,
		header:     header,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Subscribe dials the endpoint and sends the subscription request. Dial
// failures are reported as the server being unavailable.
func (s *WebSocketSource) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	conn, resp, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{
		HTTPClient: s.httpClient,
		HTTPHeader: s.header,
	})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err != nil {
		return nil, &syncerr.ProviderError{
			Op:   "dial " + s.url,
			Code: syncerr.CodeUbiquityServerNotAvailable,
			Err:  err,
		}
	}

	conn.SetReadLimit(wsReadLimit)

	req := subscribeMessage{Type: msgSubscribe, ContainerID: q.ContainerID, FileType: string(q.FileType)}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")

		return nil, &syncerr.ProviderError{
			Op:   "subscribe",
			Code: syncerr.CodeUbiquityServerNotAvailable,
			Err:  err,
		}
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	sub := &wsSubscription{
		conn:   conn,
		query:  q,
		events: make(chan Event, eventChannelCapacity),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: s.logger.With(slog.String("url", s.url), slog.String("container_id", q.ContainerID)),
		prev:   make(Snapshot),
	}

	go sub.run(subCtx)

	s.logger.Info("push subscription established", slog.String("url", s.url))

	return sub, nil
}

type wsSubscription struct {
	conn   *websocket.Conn
	query  Query
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger

	closeOnce stdsync.Once
	closeErr  error
	closing   atomic.Bool

	prev Snapshot // touched only by run
}

func (s *wsSubscription) Events() <-chan Event {
	return s.events
}

func (s *wsSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)

		var result *multierror.Error
		if err := s.conn.Close(websocket.StatusNormalClosure, "unsubscribe"); err != nil && !isClosedConn(err) {
			result = multierror.Append(result, fmt.Errorf("changesource: closing websocket: %w", err))
		}

		s.cancel()
		<-s.done

		s.closeErr = result.ErrorOrNil()

		s.logger.Debug("push subscription closed")
	})

	return s.closeErr
}

func (s *wsSubscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	for {
		var n notification
		if err := wsjson.Read(ctx, s.conn, &n); err != nil {
			if ctx.Err() != nil || s.closing.Load() {
				return
			}

			// The provider ended the subscription.
			s.logger.Warn("push subscription terminated", slog.String("error", err.Error()))

			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.send(ctx, Event{Kind: EventError, Err: &syncerr.ProviderError{
					Op:   "read notification",
					Code: syncerr.CodeUbiquityServerNotAvailable,
					Err:  err,
				}})
			}

			return
		}

		s.handle(ctx, &n)
	}
}

func (s *wsSubscription) handle(ctx context.Context, n *notification) {
	switch n.Type {
	case msgGathered:
		snap := snapshotOf(n.Items, s.query.FileType)
		s.prev = snap
		s.send(ctx, Event{Kind: EventGatheringFinished, Items: snap.Items()})

	case msgUpdated:
		// Every provider update is forwarded, even one that changes nothing
		// in the filtered set.
		snap := snapshotOf(n.Items, s.query.FileType)
		delta := snap.Diff(s.prev)
		s.prev = snap
		s.send(ctx, Event{Kind: EventUpdated, Items: snap.Items(), Delta: delta})

	case msgError:
		var cause error
		if n.Message != "" {
			cause = errors.New(n.Message)
		}

		s.send(ctx, Event{Kind: EventError, Err: &syncerr.ProviderError{
			Op:   "notification",
			Code: syncerr.Code(n.Code),
			Err:  cause,
		}})

	default:
		s.logger.Debug("ignoring unknown notification", slog.String("type", n.Type))
	}
}

func (s *wsSubscription) send(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// isClosedConn reports whether a close failed only because the connection
// was already torn down (by the peer or a canceled read).
func isClosedConn(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed)
}
