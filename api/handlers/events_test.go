package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contentflow/contentflow/types"
)

func eventsServer(t *testing.T, store ProjectStore, interval time.Duration) *httptest.Server {
	t.Helper()
	h := NewEventsHandler(store, interval, zap.NewNop())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /projects/{id}/events", h.HandleEvents)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleEvents_TerminalProjectClosesAfterOneEvent(t *testing.T) {
	store := newFakeStore()
	store.put(&types.Project{ID: "p1", Status: types.StatusCompleted, Costs: types.Costs{Total: 0.42}})
	srv := eventsServer(t, store, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):]+"/projects/p1/events", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var event ProgressEvent
	require.NoError(t, wsjson.Read(ctx, conn, &event))
	assert.Equal(t, "p1", event.ProjectID)
	assert.Equal(t, types.StatusCompleted, event.Status)
	assert.True(t, event.Terminal)
	assert.Equal(t, 0.42, event.TotalCost)

	// 终态事件之后服务端正常关闭
	err = wsjson.Read(ctx, conn, &event)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestHandleEvents_PushesStatusChanges(t *testing.T) {
	store := newFakeStore()
	store.put(&types.Project{ID: "p1", Status: types.StatusResearching})
	srv := eventsServer(t, store, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):]+"/projects/p1/events", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var first ProgressEvent
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, types.StatusResearching, first.Status)
	assert.False(t, first.Terminal)

	store.put(&types.Project{ID: "p1", Status: types.StatusCompleted, Costs: types.Costs{Total: 0.1}})

	var final ProgressEvent
	require.NoError(t, wsjson.Read(ctx, conn, &final))
	assert.Equal(t, types.StatusCompleted, final.Status)
	assert.True(t, final.Terminal)
}

func TestHandleEvents_UnknownProject(t *testing.T) {
	srv := eventsServer(t, newFakeStore(), time.Second)

	resp, err := http.Get(srv.URL + "/projects/missing/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
