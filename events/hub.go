package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const defaultWriteTimeout = 5 * time.Second

type hubImpl struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}

	writeTimeout time.Duration
	logger       zerolog.Logger
}

type Config struct {
	// WriteTimeout bounds a single push to one subscriber. Zero picks the
	// default; a stalled subscriber is dropped, never waited on.
	WriteTimeout time.Duration

	Logger zerolog.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	return &hubImpl{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns:        make(map[*websocket.Conn]struct{}),
		writeTimeout: writeTimeout,
		logger:       cfg.Logger,
	}, nil
}

func (h *hubImpl) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		h.mu.Lock()
		h.conns[conn] = struct{}{}
		h.mu.Unlock()

		h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("event subscriber connected")

		// The feed is one-way. The read pump only exists to notice the peer
		// going away.
		go func() {
			for {
				if _, _, err := conn.NextReader(); err != nil {
					break
				}
			}
			h.drop(conn)
		}()
	})
}

func (h *hubImpl) Publish(eventType, text string) {
	payload, err := json.Marshal(Event{
		Type:      eventType,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("cannot marshal event")
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug().Err(err).Msg("dropping event subscriber")
			h.drop(conn)
		}
	}
}

func (h *hubImpl) Close() error {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(h.writeTimeout))
		_ = conn.Close()
	}
	return nil
}

func (h *hubImpl) drop(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.conns[conn]
	delete(h.conns, conn)
	h.mu.Unlock()

	if ok {
		_ = conn.Close()
	}
}
