package control

import (
	"context"
	"fmt"
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

	"github.com/normanking/cortexmotion/internal/bus"
	"github.com/normanking/cortexmotion/internal/engine"
	"github.com/normanking/cortexmotion/internal/preset"
)

type fakeSubmitter struct {
	mu   sync.Mutex
	cmds []engine.Command
}

func (f *fakeSubmitter) Lookup(name string) (engine.Handle, bool) {
	if name != "ada" {
		return engine.Handle{}, false
	}
	return engine.Handle{Index: 0, Gen: 1}, true
}

func (f *fakeSubmitter) Submit(h engine.Handle, cmd engine.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return nil
}

func (f *fakeSubmitter) Commands() []engine.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]engine.Command, len(f.cmds))
	copy(out, f.cmds)
	return out
}

func newTestServer(t *testing.T, b *bus.EventBus) (*Server, *fakeSubmitter, *websocket.Conn) {
	t.Helper()
	sub := &fakeSubmitter{}
	s := NewServer(Options{
		Dispatcher: Dispatcher{Submitter: sub, DefaultAvatar: "ada", DefaultFade: 0.3},
		Bus:        b,
		Logger:     zerolog.Nop(),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return s, sub, conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg string) Reply {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	var reply Reply
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func TestPlayAccepted(t *testing.T) {
	_, sub, conn := newTestServer(t, nil)

	reply := roundTrip(t, conn, `{"id": "1", "type": "play", "preset": "wave"}`)
	assert.Equal(t, Reply{ID: "1", OK: true}, reply)

	reply = roundTrip(t, conn, `{"id": "2", "type": "play", "avatar": "ada", "preset": "nod", "fade": 0}`)
	assert.True(t, reply.OK, reply.Error)

	cmds := sub.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, engine.Play(preset.Wave, 0.3), cmds[0])
	assert.Equal(t, engine.Play(preset.Nod, 0), cmds[1])
}

func TestRejectedMessagesNeverSubmitted(t *testing.T) {
	_, sub, conn := newTestServer(t, nil)

	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"unknown preset", `{"type": "play", "preset": "moonwalk"}`, "invalid animation preset"},
		{"unknown avatar", `{"type": "play", "avatar": "bob", "preset": "idle"}`, "no such avatar"},
		{"bad pose", `{"type": "pose", "payload": {"timing": {"duration": 1}}}`, "invalid pose payload"},
		{"missing pose", `{"type": "pose"}`, "invalid pose payload"},
		{"negative fade", `{"type": "stop", "fade": -2}`, "invalid command"},
		{"speak", `{"type": "speak"}`, "invalid command"},
		{"unknown type", `{"type": "dance"}`, "invalid command"},
		{"malformed", `{"type": `, "malformed message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := roundTrip(t, conn, tt.msg)
			assert.False(t, reply.OK)
			assert.Contains(t, reply.Error, tt.want)
		})
	}
	assert.Empty(t, sub.Commands())
}

func TestPoseAccepted(t *testing.T) {
	_, sub, conn := newTestServer(t, nil)

	reply := roundTrip(t, conn, `{"type": "pose", "payload": {"head": {"y": 15}, "timing": {"autoRevert": true}}}`)
	require.True(t, reply.OK, reply.Error)

	cmds := sub.Commands()
	require.Len(t, cmds, 1)
	require.NotNil(t, cmds[0].Pose)
	assert.True(t, cmds[0].Pose.TweenTiming().AutoRevert)
}

func TestEventsForwarded(t *testing.T) {
	b := bus.NewEventBus()
	s, _, conn := newTestServer(t, b)
	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, 10*time.Millisecond)

	b.PublishSync(bus.Event{Type: bus.EventTypeClipFinished, Data: map[string]any{"preset": "wave"}})

	var notice Notice
	require.NoError(t, conn.ReadJSON(&notice))
	assert.Equal(t, "clip.finished", notice.Event)
	assert.Equal(t, "wave", notice.Data["preset"])
}

func TestNoticesKeepEngineOrder(t *testing.T) {
	b := bus.NewEventBus()
	s, _, conn := newTestServer(t, b)
	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, 10*time.Millisecond)

	for i := 0; i < 20; i++ {
		b.Publish(bus.Event{Type: bus.EventTypeClipStarted, Data: map[string]any{"seq": i}})
		b.Publish(bus.Event{Type: bus.EventTypeClipFinished, Data: map[string]any{"seq": i}})
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 20; i++ {
		for _, want := range []string{"clip.started", "clip.finished"} {
			var notice Notice
			require.NoError(t, conn.ReadJSON(&notice))
			assert.Equal(t, want, notice.Event)
			assert.Equal(t, float64(i), notice.Data["seq"])
		}
	}
}

func TestShutdownClosesClients(t *testing.T) {
	s, _, conn := newTestServer(t, nil)
	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Shutdown(context.Background()))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestFeedDispatchesEvents(t *testing.T) {
	sub := &fakeSubmitter{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "event: play\ndata: {\"preset\": \"nod\", \"fade\": 0.2}\n\n")
		fmt.Fprint(w, "event: play\ndata: {\"preset\": \"moonwalk\"}\n\n")
		fmt.Fprint(w, "data: {\"type\": \"stop\"}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer upstream.Close()

	f := NewFeed(upstream.URL, Dispatcher{Submitter: sub, DefaultAvatar: "ada"}, zerolog.Nop())
	f.Connect(context.Background())
	defer f.Disconnect()

	require.Eventually(t, func() bool { return len(sub.Commands()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, f.IsConnected())

	cmds := sub.Commands()
	assert.Equal(t, engine.Play(preset.Nod, 0.2), cmds[0])
	assert.Equal(t, engine.CommandStop, cmds[1].Type)
}
