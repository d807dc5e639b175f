package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexmotion/internal/bus"
)

const (
	writeWait = 5 * time.Second

	// noticeBuffer is how many notices may wait behind a slow controller.
	noticeBuffer = 256
)

// forwarded are the engine events pushed to every connected controller.
var forwarded = []bus.EventType{
	bus.EventTypeClipStarted,
	bus.EventTypeClipFinished,
	bus.EventTypeClipStopped,
	bus.EventTypeClipLoadFailed,
	bus.EventTypeTweenCompleted,
	bus.EventTypeTweenReverted,
	bus.EventTypeLipSyncStarted,
	bus.EventTypeLipSyncStopped,
	bus.EventTypeLipSyncFailed,
}

type Options struct {
	Dispatcher Dispatcher
	Bus        *bus.EventBus
	Logger     zerolog.Logger
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// Server is the WebSocket trigger endpoint. Each text frame is one Message and
// gets exactly one Reply.
type Server struct {
	dispatch Dispatcher
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	connMux sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	notices    *bus.Subscription
	httpServer *http.Server
}

func NewServer(opts Options) *Server {
	s := &Server{
		dispatch: opts.Dispatcher,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  opts.Logger.With().Str("component", "control").Logger(),
		clients: make(map[*client]struct{}),
	}
	if opts.Bus != nil {
		// one queue keeps notices in engine order
		s.notices = opts.Bus.SubscribeOrdered(forwarded, noticeBuffer, s.broadcast)
	}
	return s
}

// Handler serves the endpoint at /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ServeWS)
	return mux
}

// Start listens on addr in the background.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(50 * time.Millisecond):
	}
	s.logger.Info().Str("addr", addr).Msg("Control endpoint listening")
	return nil
}

// Shutdown closes every connection and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.connMux.Lock()
	s.closed = true
	for c := range s.clients {
		c.conn.Close()
	}
	s.clients = make(map[*client]struct{})
	s.connMux.Unlock()

	if s.notices != nil {
		s.notices.Close()
		if n := s.notices.Dropped(); n > 0 {
			s.logger.Warn().Uint64("dropped", n).Msg("Notices dropped behind slow controllers")
		}
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Clients reports how many controllers are connected.
func (s *Server) Clients() int {
	s.connMux.RLock()
	defer s.connMux.RUnlock()
	return len(s.clients)
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{conn: conn}
	s.connMux.Lock()
	if s.closed {
		s.connMux.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.connMux.Unlock()
	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("Controller connected")

	defer func() {
		s.connMux.Lock()
		delete(s.clients, c)
		s.connMux.Unlock()
		conn.Close()
		s.logger.Debug().Str("remote", r.RemoteAddr).Msg("Controller disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}

		reply := s.handle(data)
		if err := c.write(reply); err != nil {
			s.logger.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}
}

func (s *Server) handle(data []byte) Reply {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Reply{Error: "malformed message: " + err.Error()}
	}
	if err := s.dispatch.Dispatch(msg); err != nil {
		s.logger.Debug().Err(err).Str("type", msg.Type).Str("avatar", msg.Avatar).Msg("Message rejected")
		return Reply{ID: msg.ID, Error: err.Error()}
	}
	return Reply{ID: msg.ID, OK: true}
}

func (s *Server) broadcast(ev bus.Event) {
	s.connMux.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.connMux.RUnlock()

	notice := Notice{Event: string(ev.Type), Data: ev.Data}
	for _, c := range clients {
		if err := c.write(notice); err != nil {
			s.logger.Debug().Err(err).Str("event", notice.Event).Msg("Dropping notice")
		}
	}
}
