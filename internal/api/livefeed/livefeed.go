package livefeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BearBump/DispatchBox/internal/realtime"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	FrameToast  = "toast"
	FrameCue    = "cue"
	FrameChange = "change"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 2 * pingInterval
)

var ErrClosed = errors.New("live feed closed")

// Frame is one message on the console websocket.
type Frame struct {
	Type string    `json:"type"`
	ID   string    `json:"id"`
	At   time.Time `json:"at"`

	Toast  *ToastFrame      `json:"toast,omitempty"`
	Cue    realtime.Cue     `json:"cue,omitempty"`
	Change *realtime.Change `json:"change,omitempty"`
}

type ToastFrame struct {
	Table      string `json:"table"`
	Kind       string `json:"kind"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	Style      string `json:"style"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub fans toasts, cues and mirror changes out to every connected console.
// A client that cannot keep up is disconnected; it resyncs by fetching views.
type Hub struct {
	upgrader websocket.Upgrader
	onClient func(delta int)

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type Option func(*Hub)

// WithClientObserver is told +1/-1 as clients come and go.
func WithClientObserver(fn func(delta int)) Option {
	return func(h *Hub) { h.onClient = fn }
}

func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

func New(opts ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		slog.Warn("livefeed: upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeTimeout))
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()
	h.observe(1)

	slog.Info("livefeed: client connected", "remote", r.RemoteAddr)
	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) observe(d int) {
	if h.onClient != nil {
		h.onClient(d)
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	if ok {
		h.observe(-1)
	}
}

func (h *Hub) readLoop(c *client) {
	defer h.wg.Done()
	defer h.drop(c)

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Consoles only listen; anything they send is discarded.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	defer h.drop(c)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *Hub) broadcast(f Frame) error {
	f.ID = uuid.NewString()
	f.At = time.Now().UTC()
	b, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "marshal frame")
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrClosed
	}
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("livefeed: dropping slow client", "remote", c.conn.RemoteAddr().String())
		h.drop(c)
	}
	return nil
}

func (h *Hub) Toast(ctx context.Context, n realtime.Notice) error {
	return h.broadcast(Frame{Type: FrameToast, Toast: &ToastFrame{
		Table:      string(n.Table),
		Kind:       string(n.Kind),
		Title:      n.Title,
		Message:    n.Message,
		Style:      string(n.Style),
		DurationMs: n.Duration.Milliseconds(),
	}})
}

func (h *Hub) Play(ctx context.Context, cue realtime.Cue) error {
	return h.broadcast(Frame{Type: FrameCue, Cue: cue})
}

// PublishChange forwards a mirror mutation; errors are only logged.
func (h *Hub) PublishChange(ch realtime.Change) {
	if err := h.broadcast(Frame{Type: FrameChange, Change: &ch}); err != nil && !errors.Is(err, ErrClosed) {
		slog.Warn("livefeed: change broadcast failed", "table", ch.Table, "err", err)
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeTimeout))
		h.drop(c)
	}
	h.wg.Wait()
}
