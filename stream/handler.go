package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-esim/core"
	gw "github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

type OrderReader interface {
	Get(ctx context.Context, orderID string) (core.Order, error)
}

// Handler upgrades GET /ws/orders/{orderId} once the order is known and
// sends the current status before any live update.
type Handler struct {
	hub      *Hub
	orders   OrderReader
	upgrader gw.Upgrader
}

func NewHandler(hub *Hub, orders OrderReader) *Handler {
	return &Handler{
		hub:    hub,
		orders: orders,
		upgrader: gw.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(r.PathValue("orderId"))
	if orderID == "" {
		http.Error(w, "order id is required", http.StatusBadRequest)
		return
	}
	order, err := h.orders.Get(r.Context(), orderID)
	if err != nil {
		if core.HasTextCode(err, core.ErrorOrderNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		http.Error(w, "order lookup failed", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{hub: h.hub, send: make(chan []byte, sendBuffer), orderID: orderID}
	if snapshot, err := json.Marshal(UpdateFromOrder(order)); err == nil {
		c.send <- snapshot
	}
	if !h.hub.join(c) {
		_ = conn.Close()
		return
	}

	go c.writePump(conn)
	go c.readPump(conn)
}

func (c *client) readPump(conn *gw.Conn) {
	defer func() {
		c.hub.leave(c)
		_ = conn.Close()
	}()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump(conn *gw.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(gw.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(gw.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(gw.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
