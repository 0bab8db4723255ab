package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadopc/blockr/internal/backoff"
	"github.com/sadopc/blockr/internal/model"
)

// pushServer accepts websocket clients, records their subscribe frames and
// hands each connection to the test.
type pushServer struct {
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
	mu       sync.Mutex
	frames   []subscribeFrame
	headers  []http.Header
}

func newPushServer(t *testing.T) (*pushServer, string) {
	t.Helper()
	ps := &pushServer{conns: make(chan *websocket.Conn, 4)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ps.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.mu.Lock()
		ps.headers = append(ps.headers, r.Header.Clone())
		ps.mu.Unlock()
		for i := 0; i < 2; i++ {
			var f subscribeFrame
			if err := conn.ReadJSON(&f); err != nil {
				conn.Close()
				return
			}
			ps.mu.Lock()
			ps.frames = append(ps.frames, f)
			ps.mu.Unlock()
		}
		ps.conns <- conn
	}))
	t.Cleanup(srv.Close)
	return ps, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (ps *pushServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ps.conns:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("client never connected")
		return nil
	}
}

type events struct {
	mu       sync.Mutex
	inserted []model.TimeBlock
	updated  []model.TimeBlock
	deleted  []model.TimeBlock
	stats    int
	status   []bool
	signal   chan struct{}
}

func newEvents() *events {
	return &events{signal: make(chan struct{}, 32)}
}

func (e *events) handlers() Handlers {
	note := func(f func()) {
		e.mu.Lock()
		f()
		e.mu.Unlock()
		e.signal <- struct{}{}
	}
	return Handlers{
		OnInsert:      func(b model.TimeBlock) { note(func() { e.inserted = append(e.inserted, b) }) },
		OnUpdate:      func(b model.TimeBlock) { note(func() { e.updated = append(e.updated, b) }) },
		OnDelete:      func(b model.TimeBlock) { note(func() { e.deleted = append(e.deleted, b) }) },
		OnStatsChange: func() { note(func() { e.stats++ }) },
		OnStatus:      func(up bool) { note(func() { e.status = append(e.status, up) }) },
	}
}

func (e *events) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-e.signal:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
}

func newTestSubscriber(url string) *Subscriber {
	return NewSubscriber(SubscriberOptions{
		URL:         url,
		APIKey:      "anon",
		AccessToken: "tok",
		Backoff:     backoff.Config{BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2},
		Logger:      zerolog.Nop(),
	})
}

func TestSubscribeDispatchesChanges(t *testing.T) {
	ps, url := newPushServer(t)
	ev := newEvents()

	sub, err := newTestSubscriber(url).Subscribe(context.Background(), "u1", ev.handlers())
	require.NoError(t, err)
	defer sub.Close()

	conn := ps.accept(t)
	defer conn.Close()
	ev.wait(t, 1)

	frames := []string{
		`{"topic":"time_blocks","event":"INSERT","new":{"id":"b1","title":"Plan"}}`,
		`{"topic":"time_blocks","event":"UPDATE","new":{"id":"b1","title":"Plan v2"}}`,
		`not json`,
		`{"topic":"time_blocks","event":"DELETE","old":{"id":"b1"}}`,
		`{"topic":"pomodoro_stats","event":"UPDATE","new":{"date":"2024-01-15"}}`,
		`{"topic":"time_blocks","event":"INSERT","new":{}}`,
	}
	for _, f := range frames {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(f)))
	}
	ev.wait(t, 4)

	ev.mu.Lock()
	defer ev.mu.Unlock()
	assert.Equal(t, []bool{true}, ev.status)
	require.Len(t, ev.inserted, 1)
	assert.Equal(t, "b1", ev.inserted[0].ID)
	require.Len(t, ev.updated, 1)
	assert.Equal(t, "Plan v2", ev.updated[0].Title)
	require.Len(t, ev.deleted, 1)
	assert.Equal(t, "b1", ev.deleted[0].ID)
	assert.Equal(t, 1, ev.stats)

	ps.mu.Lock()
	defer ps.mu.Unlock()
	require.Len(t, ps.frames, 2)
	assert.Equal(t, TopicBlocks, ps.frames[0].Topic)
	assert.Equal(t, TopicStats, ps.frames[1].Topic)
	assert.Equal(t, "user_id=eq.u1", ps.frames[0].Filter)
	assert.Equal(t, "Bearer tok", ps.headers[0].Get("Authorization"))
	assert.Equal(t, "anon", ps.headers[0].Get("apikey"))
}

func TestSubscribeReconnects(t *testing.T) {
	ps, url := newPushServer(t)
	ev := newEvents()

	sub, err := newTestSubscriber(url).Subscribe(context.Background(), "u1", ev.handlers())
	require.NoError(t, err)
	defer sub.Close()

	first := ps.accept(t)
	ev.wait(t, 1)
	first.Close()

	second := ps.accept(t)
	defer second.Close()
	ev.wait(t, 2)

	ev.mu.Lock()
	assert.Equal(t, []bool{true, false, true}, ev.status)
	ev.mu.Unlock()

	require.NoError(t, second.WriteJSON(map[string]any{
		"topic": "time_blocks", "event": "INSERT", "new": map[string]any{"id": "b2"},
	}))
	ev.wait(t, 1)

	ev.mu.Lock()
	defer ev.mu.Unlock()
	require.Len(t, ev.inserted, 1)
	assert.Equal(t, "b2", ev.inserted[0].ID)
}

func TestSubscriptionCloseStopsReader(t *testing.T) {
	ps, url := newPushServer(t)
	ev := newEvents()

	sub, err := newTestSubscriber(url).Subscribe(context.Background(), "u1", ev.handlers())
	require.NoError(t, err)

	conn := ps.accept(t)
	defer conn.Close()
	ev.wait(t, 1)

	done := make(chan struct{})
	go func() {
		sub.Close()
		sub.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestSubscribeWithoutURL(t *testing.T) {
	_, err := NewSubscriber(SubscriberOptions{}).Subscribe(context.Background(), "u1", Handlers{})
	assert.ErrorIs(t, err, ErrNoRealtime)
}
