package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/blackmichael/clipfeed/internal/domain"
)

type memCursors struct {
	mu      sync.Mutex
	cursors map[string]int64
}

func (m *memCursors) GetCursor(_ context.Context, channel string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[channel], nil
}

func (m *memCursors) UpdateCursor(_ context.Context, channel string, cursor int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[channel] = cursor
	return nil
}

func (m *memCursors) get(channel string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[channel]
}

type pushServer struct {
	*httptest.Server

	mu       sync.Mutex
	frames   []controlFrame
	cursorQS string
}

func (p *pushServer) controlFrames() []controlFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]controlFrame(nil), p.frames...)
}

// newPushServer accepts one connection, records control frames, and
// writes events once the global channel is joined.
func newPushServer(t *testing.T, events []string) *pushServer {
	t.Helper()
	ps := &pushServer{}
	upgrader := websocket.Upgrader{}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ps.mu.Lock()
		ps.cursorQS = r.URL.Query().Get("cursor")
		ps.mu.Unlock()

		sent := false
		for {
			var frame controlFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			ps.mu.Lock()
			ps.frames = append(ps.frames, frame)
			ps.mu.Unlock()

			if frame.Channel == GlobalChannel && !sent {
				sent = true
				for _, ev := range events {
					if err := conn.WriteMessage(websocket.TextMessage, []byte(ev)); err != nil {
						return
					}
				}
			}
		}
	}))
	return ps
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestSubscriber_DeliversEventsInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	srv := newPushServer(t, []string{
		`{"event":"comment:new","seq":1,"data":{"postId":"p1","comment":{"id":"c1"}}}`,
		`{"event":"comment:new","seq":2,"data":{"comment":{"id":"bad"}}}`,
		`{"event":"post:archived","seq":3,"data":{"postId":"p2"}}`,
	})
	defer srv.Close()

	ing := NewIngestor(testLogger())
	var mu sync.Mutex
	var got []string
	record := func(ev domain.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(ev.Kind)+":"+ev.PostID)
	}
	ing.Subscribe(domain.EventCommentCreated, record)
	ing.Subscribe(domain.EventPostArchived, record)

	cursors := &memCursors{cursors: map[string]int64{GlobalChannel: 41}}
	sub := NewSubscriber(wsURL(srv.URL), ing, cursors, testLogger())
	sub.saveInterval = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Start(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"comment-created:p1", "post-archived:p2"}, got)
	mu.Unlock()

	require.Eventually(t, func() bool { return cursors.get(GlobalChannel) == 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sub.Join(PostChannel("p1")))
	require.Eventually(t, func() bool { return len(srv.controlFrames()) == 2 }, 2*time.Second, 5*time.Millisecond)
	frames := srv.controlFrames()
	assert.Equal(t, controlFrame{Action: "subscribe", Channel: GlobalChannel}, frames[0])
	assert.Equal(t, controlFrame{Action: "subscribe", Channel: "post:p1"}, frames[1])

	srv.mu.Lock()
	assert.Equal(t, "41", srv.cursorQS)
	srv.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
	srv.Close()
}

func TestSubscriber_JoinLeaveWhileDisconnected(t *testing.T) {
	sub := NewSubscriber("ws://127.0.0.1:1", NewIngestor(testLogger()), nil, testLogger())

	require.NoError(t, sub.Join(PostChannel("p1")))
	require.NoError(t, sub.Join(PostChannel("p1")))
	assert.Equal(t, []string{GlobalChannel, "post:p1"}, sub.Channels())

	require.NoError(t, sub.Leave(PostChannel("p1")))
	require.NoError(t, sub.Leave(PostChannel("p9")))
	assert.Equal(t, []string{GlobalChannel}, sub.Channels())
}

func TestSubscriber_BuildURL(t *testing.T) {
	sub := NewSubscriber("wss://push.example.com/socket?v=2", NewIngestor(testLogger()), nil, testLogger())

	u, err := sub.buildURL(0)
	require.NoError(t, err)
	assert.Equal(t, "wss://push.example.com/socket?v=2", u)

	u, err = sub.buildURL(77)
	require.NoError(t, err)
	assert.Equal(t, "wss://push.example.com/socket?cursor=77&v=2", u)
}
