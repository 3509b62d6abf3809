package stream

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/goliatone/go-esim/core"
	glog "github.com/goliatone/go-logger/glog"
)

// Update is pushed to every client watching an order.
type Update struct {
	OrderID           string `json:"orderId"`
	Event             string `json:"event,omitempty"`
	FulfillmentStatus string `json:"fulfillmentStatus"`
	PaymentStatus     string `json:"paymentStatus"`
	ActivationReady   bool   `json:"activationReady"`
}

func UpdateFromOrder(order core.Order) Update {
	return Update{
		OrderID:           order.ID,
		FulfillmentStatus: string(order.FulfillmentStatus),
		PaymentStatus:     string(order.PaymentStatus),
		ActivationReady:   order.HasActivation(),
	}
}

// UpdateFromEvent reads the status snapshot carried by a lifecycle event.
func UpdateFromEvent(event core.LifecycleEvent) Update {
	text := func(key string) string {
		value, _ := event.Payload[key].(string)
		return value
	}
	return Update{
		OrderID:           event.OrderID,
		Event:             event.Name,
		FulfillmentStatus: text("fulfillment_status"),
		PaymentStatus:     text("payment_status"),
		ActivationReady: event.Name == core.EventOrderActivationReady ||
			text("fulfillment_status") == string(core.FulfillmentStatusCompleted),
	}
}

type client struct {
	hub     *Hub
	send    chan []byte
	orderID string
}

// Hub fans order updates out to websocket clients grouped by order id. All
// client bookkeeping happens on the Run goroutine.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan Update
	clients    map[string]map[*client]bool
	done       chan struct{}
	logger     glog.Logger
}

type HubOption func(*Hub)

func WithLogger(logger glog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHub(opts ...HubOption) *Hub {
	hub := &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Update, 256),
		clients:    make(map[string]map[*client]bool),
		done:       make(chan struct{}),
		logger:     glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(hub)
		}
	}
	return hub
}

// Run must be called once. Clients are disconnected when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.orderID]
			if !ok {
				set = make(map[*client]bool)
				h.clients[c.orderID] = set
			}
			set[c] = true
		case c := <-h.unregister:
			h.drop(c)
		case upd := <-h.broadcast:
			msg, err := json.Marshal(upd)
			if err != nil {
				continue
			}
			for c := range h.clients[upd.OrderID] {
				select {
				case c.send <- msg:
				default:
					// slow consumer
					h.drop(c)
				}
			}
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[string]map[*client]bool)
			return
		}
	}
}

// Broadcast queues an update without blocking. Updates are dropped when the
// queue is full; clients still converge on the next update or a reconnect.
func (h *Hub) Broadcast(upd Update) bool {
	if h == nil || strings.TrimSpace(upd.OrderID) == "" {
		return false
	}
	select {
	case h.broadcast <- upd:
		return true
	default:
		h.logger.Warn("order stream queue full, update dropped", "order_id", upd.OrderID)
		return false
	}
}

// Handle lets the hub act as a lifecycle projector.
func (h *Hub) Handle(_ context.Context, event core.LifecycleEvent) error {
	h.Broadcast(UpdateFromEvent(event))
	return nil
}

func (h *Hub) join(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) drop(c *client) {
	set, ok := h.clients[c.orderID]
	if !ok {
		return
	}
	if _, exists := set[c]; exists {
		delete(set, c)
		close(c.send)
	}
	if len(set) == 0 {
		delete(h.clients, c.orderID)
	}
}

var _ core.LifecycleEventHandler = (*Hub)(nil)
