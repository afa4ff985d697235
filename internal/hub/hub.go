// Package hub fans encoded frames out to websocket viewers.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"trafficcounter/internal/frame"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/session"
)

// retryDelay spaces out reopening a stream that failed or ended.
const retryDelay = time.Second

var errNoViewers = errors.New("no viewers")

// writeTimeout bounds a single frame write so one stalled viewer cannot hold
// up the others.
const writeTimeout = 2 * time.Second

// Hub tracks the viewers of one stream and broadcasts binary frames to them.
type Hub struct {
	name       string
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	joined     chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
}

// New creates a hub for the named stream. Run must be started before use.
func New(name string, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Discard()
	}
	return &Hub{
		name:       name,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		joined:     make(chan struct{}, 1),
		logger:     log,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then closes
// every remaining viewer.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer connected to %s. Total: %d", h.name, count)
			select {
			case h.joined <- struct{}{}:
			default:
			}

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.send(message)
		}
	}
}

func (h *Hub) send(message []byte) {
	h.mutex.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		client.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := client.WriteMessage(websocket.BinaryMessage, message); err != nil {
			h.logger.Warning("Error sending frame to viewer of %s: %v", h.name, err)
			h.remove(client)
		}
	}
}

func (h *Hub) remove(client *websocket.Conn) {
	h.mutex.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	count := len(h.clients)
	h.mutex.Unlock()

	if ok {
		client.Close()
		h.logger.Info("Viewer disconnected from %s. Total: %d", h.name, count)
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		client.Close()
		delete(h.clients, client)
	}
}

// Register adds a viewer. It blocks until Run accepts it or ctx ends.
func (h *Hub) Register(ctx context.Context, client *websocket.Conn) error {
	select {
	case h.register <- client:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unregister removes and closes a viewer.
func (h *Hub) Unregister(ctx context.Context, client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-ctx.Done():
	}
}

// Broadcast sends message to every viewer.
func (h *Hub) Broadcast(ctx context.Context, message []byte) error {
	select {
	case h.broadcast <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Pump feeds the hub from open while there are viewers. It idles until the
// first viewer joins, streams one generator until the session ends or the
// last viewer leaves, and repeats until ctx is cancelled.
func (h *Hub) Pump(ctx context.Context, open func() (*session.Generator, error)) {
	for {
		if h.ClientCount() == 0 {
			select {
			case <-ctx.Done():
				return
			case <-h.joined:
				continue
			}
		}

		gen, err := open()
		if err != nil {
			h.logger.Error("Open stream %s for viewers: %v", h.name, err)
			if !sleep(ctx, retryDelay) {
				return
			}
			continue
		}

		err = gen.Run(ctx, func(f *frame.Frame) error {
			if h.ClientCount() == 0 {
				return errNoViewers
			}
			return h.Broadcast(ctx, f.Data)
		})
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, errNoViewers):
		case err != nil:
			h.logger.Warning("Viewer feed for %s stopped: %v", h.name, err)
		default:
			h.logger.Info("Stream %s ended, reopening for viewers", h.name)
			if !sleep(ctx, retryDelay) {
				return
			}
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
