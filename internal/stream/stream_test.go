package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/chairwatch/internal/clock"
	"github.com/ashureev/chairwatch/internal/domain"
	"github.com/ashureev/chairwatch/internal/eventlog"
	"github.com/ashureev/chairwatch/internal/monitor"
	"github.com/ashureev/chairwatch/internal/store"
)

func TestViewQueueDropsOldest(t *testing.T) {
	q := newViewQueue(2, nil)
	for i := 0; i < 5; i++ {
		q.Push(monitor.View{PositionChanges: i})
	}

	assert.Equal(t, int64(3), q.Dropped())
	assert.Equal(t, 3, (<-q.C()).PositionChanges)
	assert.Equal(t, 4, (<-q.C()).PositionChanges)
}

func TestStateSignalKeepsLatest(t *testing.T) {
	s := newStateSignal()
	s.Push(domain.StateAbsent)
	s.Push(domain.StateObjectPlaced)
	s.Push(domain.StateSitting)

	assert.Equal(t, domain.StateSitting, <-s.C())
	select {
	case st := <-s.C():
		t.Fatalf("unexpected pending state %q", st)
	default:
	}
}

func TestHub_Register(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}

	hub.Register("desk-1", "v1", conn)

	if got := hub.Get("desk-1", "v1"); got != conn {
		t.Errorf("Expected connection %v, got %v", conn, got)
	}
	if n := hub.Count("desk-1"); n != 1 {
		t.Errorf("Expected 1 viewer, got %d", n)
	}
}

func TestHub_UnregisterStale(t *testing.T) {
	hub := NewHub()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	hub.Register("desk-1", "v1", conn1)
	hub.Register("desk-1", "v2", conn2)
	hub.Unregister("desk-1", "v2", conn1)
	if hub.Get("desk-1", "v2") != conn2 {
		t.Error("stale unregister removed the live connection")
	}

	hub.Unregister("desk-1", "v1", conn1)
	hub.Unregister("desk-1", "v2", conn2)
	if n := hub.Count("desk-1"); n != 0 {
		t.Errorf("Expected no viewers, got %d", n)
	}
}

func TestHub_ConcurrentAccess(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			hub.Register("desk-1", "v"+strconv.Itoa(i), &websocket.Conn{})
		}
	}()
	for i := 0; i < 1000; i++ {
		hub.Get("desk-1", "v"+strconv.Itoa(i))
	}
	<-done
	assert.Equal(t, 1000, hub.Count("desk-1"))
}

type env struct {
	repo *store.MemoryStore
	mgr  *monitor.Manager
	hub  *Hub
	url  string
}

func newEnv(t *testing.T, origins []string, isDev bool) *env {
	t.Helper()
	repo := store.NewMemory()
	mgr := monitor.NewManager(monitor.Config{
		Repo:     repo,
		Events:   eventlog.NewWriter(repo, time.UTC, time.Second, nil),
		Clock:    clock.NewFake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)),
		Settings: monitor.DefaultSettings(),
	})
	hub := NewHub()

	r := chi.NewRouter()
	NewHandler(repo, mgr, hub, origins, isDev).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		mgr.Close()
	})
	return &env{repo: repo, mgr: mgr, hub: hub, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (e *env) dial(t *testing.T, ctx context.Context, chairID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, e.url+"/ws/chairs/"+chairID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(wsMessage) bool) wsMessage {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg wsMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if match(msg) {
			return msg
		}
	}
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, msg wsMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestStreamPushesViews(t *testing.T) {
	e := newEnv(t, nil, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := e.mgr.Open(ctx, "desk-1")
	require.NoError(t, err)
	conn := e.dial(t, ctx, "desk-1")

	first := readUntil(t, ctx, conn, func(m wsMessage) bool { return m.Type == "view" })
	require.NotNil(t, first.View)
	assert.Equal(t, "desk-1", first.View.ChairID)
	assert.Eventually(t, func() bool { return e.hub.Count("desk-1") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, e.repo.PutSensor(ctx, "desk-1", domain.Reading{
		Weight:  domain.Ptr(70.0),
		LeftArm: true, RightArm: true, LeftLeg: true, RightLeg: true,
	}))
	readUntil(t, ctx, conn, func(m wsMessage) bool {
		return m.Type == "view" && m.View.State == domain.StateSitting
	})

	send(t, ctx, conn, wsMessage{Type: "ping"})
	readUntil(t, ctx, conn, func(m wsMessage) bool { return m.Type == "pong" })

	send(t, ctx, conn, wsMessage{Type: "action", Action: "trigger"})
	readUntil(t, ctx, conn, func(m wsMessage) bool {
		return m.Type == "view" && m.View.Tasks.Phase == domain.PhaseSuggested
	})

	send(t, ctx, conn, wsMessage{Type: "action", Action: "teleport"})
	msg := readUntil(t, ctx, conn, func(m wsMessage) bool { return m.Type == "error" })
	assert.Equal(t, "teleport", msg.Action)
}

func TestStreamForwardsStateChanges(t *testing.T) {
	e := newEnv(t, nil, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := e.mgr.Open(ctx, "desk-1")
	require.NoError(t, err)
	before := e.repo.SubscriberCount("desk-1")
	conn := e.dial(t, ctx, "desk-1")
	readUntil(t, ctx, conn, func(m wsMessage) bool { return m.Type == "view" })
	assert.Eventually(t, func() bool { return e.repo.SubscriberCount("desk-1") == before+1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, e.repo.PutSensor(ctx, "desk-1", domain.Reading{
		Weight:  domain.Ptr(70.0),
		LeftArm: true, RightArm: true, LeftLeg: true, RightLeg: true,
	}))
	msg := readUntil(t, ctx, conn, func(m wsMessage) bool { return m.Type == "state" })
	assert.Equal(t, domain.StateSitting, msg.State)

	_ = conn.Close(websocket.StatusNormalClosure, "")
	assert.Eventually(t, func() bool { return e.repo.SubscriberCount("desk-1") == before }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamClosesWithMonitor(t *testing.T) {
	e := newEnv(t, nil, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := e.mgr.Open(ctx, "desk-1")
	require.NoError(t, err)
	conn := e.dial(t, ctx, "desk-1")
	readUntil(t, ctx, conn, func(m wsMessage) bool { return m.Type == "view" })

	require.True(t, e.mgr.CloseChair("desk-1"))
	for {
		_, _, err = conn.Read(ctx)
		if err != nil {
			break
		}
	}
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestStreamRejects(t *testing.T) {
	e := newEnv(t, []string{"https://dash.example"}, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, e.url+"/ws/chairs/ghost", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err = e.mgr.Open(ctx, "desk-1")
	require.NoError(t, err)
	_, resp, err = websocket.Dial(ctx, e.url+"/ws/chairs/desk-1", &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
