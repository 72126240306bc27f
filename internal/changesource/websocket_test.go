package changesource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cloudmon/internal/container"
	"github.com/tonimelisma/cloudmon/internal/syncerr"
)

// pushServer runs script against each accepted connection after reading the
// subscription request.
func pushServer(t *testing.T, script func(ctx context.Context, conn *websocket.Conn, req subscribeMessage)) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()

		var req subscribeMessage
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}

		script(r.Context(), conn, req)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketSource_StreamsEvents(t *testing.T) {
	t.Parallel()

	gotReq := make(chan subscribeMessage, 1)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	srv := pushServer(t, func(ctx context.Context, conn *websocket.Conn, req subscribeMessage) {
		gotReq <- req

		msgs := []notification{
			{Type: msgGathered, Items: []Item{
				{Path: "a.kml", Size: 1, ModTime: t0},
				{Path: "skip.gpx", Size: 1, ModTime: t0},
			}},
			// Identical listing: still forwarded, with an empty delta.
			{Type: msgUpdated, Items: []Item{{Path: "a.kml", Size: 1, ModTime: t0}}},
			{Type: msgUpdated, Items: []Item{
				{Path: "a.kml", Size: 1, ModTime: t0},
				{Path: "b.kml", Size: 2, ModTime: t0, Status: StatusNotDownloaded},
			}},
			{Type: msgError, Code: int(syncerr.CodeFileNotUploadedDueToQuota), Message: "over quota"},
		}

		for _, m := range msgs {
			if err := wsjson.Write(ctx, conn, m); err != nil {
				return
			}
		}

		// Hold the connection until the client unsubscribes.
		_, _, _ = conn.Read(ctx)
	})

	src := NewWebSocketSource(wsURL(srv), nil, srv.Client(), testLogger(t))

	sub, err := src.Subscribe(context.Background(), Query{ContainerID: "iCloud.test", FileType: container.FileTypeKML})
	require.NoError(t, err)

	req := <-gotReq
	assert.Equal(t, msgSubscribe, req.Type)
	assert.Equal(t, "iCloud.test", req.ContainerID)
	assert.Equal(t, "kml", req.FileType)

	ev := nextEvent(t, sub)
	assert.Equal(t, EventGatheringFinished, ev.Kind)
	assert.Equal(t, []string{"a.kml"}, paths(ev.Items))

	ev = nextEvent(t, sub)
	assert.Equal(t, EventUpdated, ev.Kind)
	assert.Equal(t, []string{"a.kml"}, paths(ev.Items))
	assert.True(t, ev.Delta.Empty())

	ev = nextEvent(t, sub)
	assert.Equal(t, EventUpdated, ev.Kind)
	assert.Equal(t, []string{"b.kml"}, paths(ev.Delta.Added))
	assert.Equal(t, StatusNotDownloaded, ev.Delta.Added[0].Status)

	ev = nextEvent(t, sub)
	assert.Equal(t, EventError, ev.Kind)

	se := syncerr.FromError(ev.Err)
	assert.Equal(t, syncerr.KindFileNotUploadedDueToQuota, se.Kind)
	assert.Contains(t, se.Error(), "over quota")

	require.NoError(t, sub.Close())

	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestWebSocketSource_UpdateBeforeGatheringStaysUpdate(t *testing.T) {
	t.Parallel()

	srv := pushServer(t, func(ctx context.Context, conn *websocket.Conn, _ subscribeMessage) {
		if err := wsjson.Write(ctx, conn, notification{Type: msgUpdated, Items: []Item{{Path: "a.kml", Size: 1}}}); err != nil {
			return
		}

		_, _, _ = conn.Read(ctx)
	})

	src := NewWebSocketSource(wsURL(srv), nil, srv.Client(), testLogger(t))

	sub, err := src.Subscribe(context.Background(), Query{ContainerID: "iCloud.test", FileType: container.FileTypeKML})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })

	ev := nextEvent(t, sub)
	assert.Equal(t, EventUpdated, ev.Kind)
	assert.Equal(t, []string{"a.kml"}, paths(ev.Delta.Added))
}

func TestWebSocketSource_ServerDropReportsUnavailable(t *testing.T) {
	t.Parallel()

	srv := pushServer(t, func(ctx context.Context, conn *websocket.Conn, _ subscribeMessage) {
		_ = wsjson.Write(ctx, conn, notification{Type: msgGathered})
		conn.Close(websocket.StatusInternalError, "maintenance")
	})

	sub, err := NewWebSocketSource(wsURL(srv), nil, srv.Client(), testLogger(t)).
		Subscribe(context.Background(), Query{ContainerID: "c", FileType: container.FileTypeAny})
	require.NoError(t, err)

	defer sub.Close()

	assert.Equal(t, EventGatheringFinished, nextEvent(t, sub).Kind)

	ev := nextEvent(t, sub)
	assert.Equal(t, EventError, ev.Kind)
	assert.ErrorIs(t, syncerr.FromError(ev.Err), syncerr.ErrUbiquityServerNotAvailable)

	_, ok := <-sub.Events()
	assert.False(t, ok, "subscription ends when the provider terminates it")
}

func TestWebSocketSource_DialFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewWebSocketSource(wsURL(srv), nil, srv.Client(), testLogger(t)).
		Subscribe(context.Background(), Query{ContainerID: "c", FileType: container.FileTypeAny})
	require.Error(t, err)
	assert.ErrorIs(t, syncerr.FromError(err), syncerr.ErrUbiquityServerNotAvailable)
}
