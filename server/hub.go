package server

import (
	"encoding/json"
	"sync"
	"time"

	"TrackDeal/logger"
	"TrackDeal/model"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// DealEvent is the message pushed to /ws/deals subscribers for every
// committed state history entry.
type DealEvent struct {
	Type      string                  `json:"type"`
	Entry     model.StateHistoryEntry `json:"entry"`
	Timestamp int64                   `json:"timestamp"`
}

// eventClient 一个 websocket 订阅者
type eventClient struct {
	hub    *EventHub
	conn   *websocket.Conn
	send   chan []byte
	userID int64
}

// EventHub fans committed history entries out to websocket subscribers.
// Delivery is best effort: a subscriber whose buffer is full is dropped.
type EventHub struct {
	clients    map[*eventClient]bool
	register   chan *eventClient
	unregister chan *eventClient
	broadcast  chan []byte
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

// NewEventHub 创建事件中心，需要调用 Run 启动
func NewEventHub() *EventHub {
	return &EventHub{
		clients:    make(map[*eventClient]bool),
		register:   make(chan *eventClient),
		unregister: make(chan *eventClient),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub main loop.
func (h *EventHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			logger.Debug("deal event subscriber registered", logger.Int64("user", c.userID))

		case c := <-h.unregister:
			h.remove(c)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*eventClient
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range slow {
				logger.Warn("dropping slow deal event subscriber", logger.Int64("user", c.userID))
				h.remove(c)
			}

		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*eventClient]bool)
			h.mu.Unlock()
			return
		}
	}
}

// Stop 停止 Hub
func (h *EventHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

func (h *EventHub) remove(c *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *EventHub) add(c *eventClient) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Subscribers returns the number of connected subscribers.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish implements deal.Notifier. It never blocks the caller.
func (h *EventHub) Publish(entry model.StateHistoryEntry) {
	data, err := json.Marshal(DealEvent{
		Type:      string(entry.EntityType) + "." + entry.NewState,
		Entry:     entry,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		logger.Warn("failed to encode deal event", logger.ErrorField(err))
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		logger.Warn("deal event buffer full, event dropped",
			logger.String("entity", string(entry.EntityType)),
			logger.Int64("entity_id", entry.EntityID))
	}
}

// readPump only services control frames; subscribers do not send data.
func (c *eventClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("deal event websocket read error", logger.ErrorField(err), logger.Int64("user", c.userID))
			}
			return
		}
	}
}

func (c *eventClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
