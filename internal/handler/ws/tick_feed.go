package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"ForeCrypt/internal/domain/models"
	xlogger "ForeCrypt/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	maxClients   = 100
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 16
)

var ErrFeedClosed = errors.New("tick feed closed")

// Message is the envelope written to subscribers.
type Message struct {
	Type string            `json:"type"`
	Data models.TickReport `json:"data"`
	Time time.Time         `json:"time"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// TickFeed broadcasts every finished tick report to websocket subscribers on
// /ws/ticks. Slow subscribers whose buffer is full are dropped.
type TickFeed struct {
	l        *xlogger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func NewTickFeed(l *xlogger.Logger) *TickFeed {
	if l == nil {
		l = xlogger.Nop()
	}
	return &TickFeed{
		l: l.With(xlogger.String("component", "tick_feed")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

func (f *TickFeed) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/ticks", f.Handle)
}

// Clients is the number of connected subscribers.
func (f *TickFeed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// PublishReport sends r to every subscriber without blocking on any of them.
func (f *TickFeed) PublishReport(_ context.Context, r models.TickReport) error {
	data, err := json.Marshal(Message{Type: "tick", Data: r, Time: time.Now().UTC()})
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrFeedClosed
	}
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			f.dropLocked(c)
			f.l.Warn("subscriber too slow, dropped")
		}
	}
	return nil
}

func (f *TickFeed) Handle(c echo.Context) error {
	f.mu.Lock()
	full := len(f.clients) >= maxClients
	closed := f.closed
	f.mu.Unlock()
	if closed || full {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "tick feed unavailable")
	}

	conn, err := f.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		f.l.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}

	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	f.clients[cl] = struct{}{}
	n := len(f.clients)
	f.wg.Add(2)
	f.mu.Unlock()
	f.l.Debug("subscriber connected", xlogger.Int("clients", n))

	go f.writePump(cl)
	go f.readPump(cl)
	return nil
}

// readPump discards client frames and notices disconnects.
func (f *TickFeed) readPump(c *client) {
	defer f.wg.Done()
	defer f.drop(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *TickFeed) writePump(c *client) {
	defer f.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				f.drop(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.drop(c)
				return
			}
		}
	}
}

func (f *TickFeed) drop(c *client) {
	f.mu.Lock()
	f.dropLocked(c)
	f.mu.Unlock()
}

func (f *TickFeed) dropLocked(c *client) {
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}

// Close disconnects every subscriber and waits for their goroutines.
func (f *TickFeed) Close() {
	f.mu.Lock()
	f.closed = true
	for c := range f.clients {
		f.dropLocked(c)
	}
	f.mu.Unlock()
	f.wg.Wait()
}
