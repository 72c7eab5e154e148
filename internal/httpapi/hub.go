package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// subscriber serialises writes; gorilla connections allow one writer.
type subscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscriber) send(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub tracks websocket subscribers and pushes window snapshots to them.
type Hub struct {
	mu       sync.RWMutex
	subs     []*subscriber
	logger   *slog.Logger
	snapshot func() map[string]any
}

// NewHub creates a hub that broadcasts whatever snapshot returns.
func NewHub(logger *slog.Logger, snapshot func() map[string]any) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, snapshot: snapshot}
}

// Subscribers reports the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// HandleWS upgrades the request, sends the current snapshot and keeps the
// connection registered until the client goes away.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	sub := &subscriber{conn: conn}

	h.mu.Lock()
	h.subs = append(h.subs, sub)
	h.mu.Unlock()
	h.logger.Debug("telemetry subscriber connected", slog.String("remote", r.RemoteAddr))

	defer h.remove(sub)

	if msg, err := h.encode(); err == nil {
		if err := sub.send(msg); err != nil {
			return
		}
	}

	// Inbound messages are ignored; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	for i, s := range h.subs {
		if s == sub {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			break
		}
	}
	h.mu.Unlock()
	sub.conn.Close()
}

func (h *Hub) encode() ([]byte, error) {
	payload := h.snapshot()
	payload["type"] = "window_stats"
	return json.Marshal(payload)
}

// Broadcast pushes one snapshot to every subscriber, dropping the ones that
// fail to receive it.
func (h *Hub) Broadcast() {
	h.mu.RLock()
	subs := make([]*subscriber, len(h.subs))
	copy(subs, h.subs)
	h.mu.RUnlock()
	if len(subs) == 0 {
		return
	}

	msg, err := h.encode()
	if err != nil {
		h.logger.Warn("encode window snapshot", slog.Any("error", err))
		return
	}
	for _, sub := range subs {
		if err := sub.send(msg); err != nil {
			h.logger.Debug("dropping telemetry subscriber", slog.Any("error", err))
			h.remove(sub)
		}
	}
}

// Run broadcasts every interval until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Broadcast()
		}
	}
}
