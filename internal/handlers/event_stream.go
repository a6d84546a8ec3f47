package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"giveaway/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/google/logger"
	"github.com/gorilla/websocket"
)

const (
	streamQueueSize = 64
	writeTimeout    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Indexers connect from anywhere; the stream carries only public data.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamHello is the first frame on a stream, sent once the subscription is
// live. Clients can rely on receiving every event published after it.
type streamHello struct {
	Type  string             `json:"type"`
	Types []events.EventType `json:"types"`
}

// wsSubscriber forwards bus events to one websocket connection.
type wsSubscriber struct {
	mu     sync.RWMutex
	send   chan events.Event
	closed bool
}

func (s *wsSubscriber) Deliver(evt events.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.send <- evt:
		return nil
	default:
		return events.ErrSubscriberFull
	}
}

func (s *wsSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return events.AllTypes
	}
	known := make(map[events.EventType]bool, len(events.AllTypes))
	for _, t := range events.AllTypes {
		known[t] = true
	}
	var out []events.EventType
	for _, part := range strings.Split(raw, ",") {
		t := events.EventType(strings.TrimSpace(part))
		if known[t] {
			out = append(out, t)
		}
	}
	return out
}

// StreamEvents upgrades to a websocket and streams lifecycle events. The
// optional "types" query parameter is a comma separated filter.
func (h *HTTPHandler) StreamEvents(c *gin.Context) {
	types := parseEventTypes(c.Query("types"))
	if len(types) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no known event types requested"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("websocket upgrade from %s failed: %v", c.ClientIP(), err)
		return
	}

	sub := &wsSubscriber{send: make(chan events.Event, streamQueueSize)}
	ids := make(map[events.EventType]events.SubscriberID, len(types))
	for _, t := range types {
		ids[t] = h.bus.RegisterSubscriber(t, sub)
	}
	unsubscribe := func() {
		for t, id := range ids {
			h.bus.Unsubscribe(t, id)
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(streamHello{Type: "subscribed", Types: types}); err != nil {
		unsubscribe()
		_ = conn.Close()
		return
	}
	logger.Infof("event stream opened for %s (%d types)", c.ClientIP(), len(types))

	// The reader only watches for the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				unsubscribe()
				return
			}
		}
	}()

	for evt := range sub.send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(evt); err != nil {
			logger.Infof("event stream to %s closed: %v", c.ClientIP(), err)
			break
		}
	}
	unsubscribe()
	_ = conn.Close()
}
