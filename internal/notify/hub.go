package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"swiftride/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait     = 10 * time.Second
	sendQueueSize = 16
)

type Store interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListUndeliveredNotifications(ctx context.Context, limit int) ([]models.Notification, error)
	MarkNotificationDelivered(ctx context.Context, notificationID string) error
}

type payload struct {
	NotificationID string `json:"notificationId"`
	OrderID        string `json:"orderId"`
	Kind           string `json:"kind"`
	Body           string `json:"body"`
	CreatedAt      string `json:"createdAt"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub persists every order-status notification and pushes it to any
// connected websocket clients of the recipient. Delivery is best effort:
// slow clients are dropped and undelivered rows are retried by the worker.
type Hub struct {
	Store Store
	Log   *zap.Logger

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]map[*client]struct{}
}

func NewHub(store Store, log *zap.Logger) *Hub {
	return &Hub{
		Store: store,
		Log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]map[*client]struct{}),
	}
}

// ServeWS upgrades the connection and registers it for the recipient given
// in the recipient_id query parameter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	recipientID := r.URL.Query().Get("recipient_id")
	if recipientID == "" {
		http.Error(w, "recipient_id required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendQueueSize)}
	h.register(recipientID, c)

	go h.writeLoop(recipientID, c)
	go h.readLoop(recipientID, c)
}

func (h *Hub) register(recipientID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[recipientID] == nil {
		h.clients[recipientID] = make(map[*client]struct{})
	}
	h.clients[recipientID][c] = struct{}{}
}

func (h *Hub) unregister(recipientID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.clients[recipientID]; ok {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			close(c.send)
			if len(conns) == 0 {
				delete(h.clients, recipientID)
			}
		}
	}
}

func (h *Hub) writeLoop(recipientID string, c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.unregister(recipientID, c)
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (h *Hub) readLoop(recipientID string, c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.unregister(recipientID, c)
			return
		}
	}
}

// push queues msg for every connection of the recipient; a full send queue
// drops the connection rather than blocking the caller.
func (h *Hub) push(recipientID string, msg []byte) bool {
	h.mu.Lock()
	conns := make([]*client, 0, len(h.clients[recipientID]))
	for c := range h.clients[recipientID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	delivered := false
	for _, c := range conns {
		select {
		case c.send <- msg:
			delivered = true
		default:
			h.unregister(recipientID, c)
		}
	}
	return delivered
}

// OrderStatusChanged records and pushes a notification to the customer and,
// when assigned, the driver. Implements lifecycle.Notifier.
func (h *Hub) OrderStatusChanged(ctx context.Context, order *models.Order) {
	recipients := []string{order.CustomerID}
	if order.DriverID != nil {
		recipients = append(recipients, *order.DriverID)
	}

	body := fmt.Sprintf("order %s is now %s", order.OrderID, order.Status)
	if order.StatusDescription != "" {
		body += " (" + order.StatusDescription + ")"
	}

	for _, recipientID := range recipients {
		n := &models.Notification{
			NotificationID: uuid.NewString(),
			RecipientID:    recipientID,
			OrderID:        order.OrderID,
			Kind:           "order_status",
			Body:           body,
			CreatedAt:      time.Now().UTC(),
		}
		if err := h.deliver(ctx, n); err != nil {
			h.Log.Warn("notification delivery failed",
				zap.String("order_id", order.OrderID),
				zap.String("recipient_id", recipientID),
				zap.Error(err))
		}
	}
}

func (h *Hub) deliver(ctx context.Context, n *models.Notification) error {
	msg, err := json.Marshal(payload{
		NotificationID: n.NotificationID,
		OrderID:        n.OrderID,
		Kind:           n.Kind,
		Body:           n.Body,
		CreatedAt:      n.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	n.Delivered = h.push(n.RecipientID, msg)
	return h.Store.CreateNotification(ctx, n)
}

// Redeliver retries undelivered notifications against currently connected
// clients. Called from the worker sweep.
func (h *Hub) Redeliver(ctx context.Context, limit int) error {
	pending, err := h.Store.ListUndeliveredNotifications(ctx, limit)
	if err != nil {
		return err
	}
	for _, n := range pending {
		msg, err := json.Marshal(payload{
			NotificationID: n.NotificationID,
			OrderID:        n.OrderID,
			Kind:           n.Kind,
			Body:           n.Body,
			CreatedAt:      n.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		if h.push(n.RecipientID, msg) {
			if err := h.Store.MarkNotificationDelivered(ctx, n.NotificationID); err != nil {
				return err
			}
		}
	}
	return nil
}
