package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-esim/core"
	gw "github.com/gorilla/websocket"
)

type stubOrders map[string]core.Order

func (s stubOrders) Get(_ context.Context, orderID string) (core.Order, error) {
	order, ok := s[orderID]
	if !ok {
		return core.Order{}, core.NewError(core.ErrorOrderNotFound, "order not found", nil)
	}
	return order, nil
}

func newStreamServer(t *testing.T, orders stubOrders) (*Hub, *httptest.Server, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("GET /ws/orders/{orderId}", NewHandler(hub, orders))
	server := httptest.NewServer(mux)
	return hub, server, func() {
		server.Close()
		cancel()
	}
}

func dialOrder(t *testing.T, server *httptest.Server, orderID string) *gw.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/orders/" + orderID
	conn, _, err := gw.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func readUpdate(t *testing.T, conn *gw.Conn) Update {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var upd Update
	if err := conn.ReadJSON(&upd); err != nil {
		t.Fatalf("read update: %v", err)
	}
	return upd
}

func TestHandler_SendsSnapshotThenLifecycleUpdates(t *testing.T) {
	hub, server, cleanup := newStreamServer(t, stubOrders{
		"ord_1": {
			ID:                "ord_1",
			PaymentStatus:     core.PaymentStatusConfirmed,
			FulfillmentStatus: core.FulfillmentStatusProcessing,
		},
	})
	defer cleanup()

	conn := dialOrder(t, server, "ord_1")
	defer conn.Close()

	snapshot := readUpdate(t, conn)
	if snapshot.OrderID != "ord_1" || snapshot.FulfillmentStatus != "processing" || snapshot.ActivationReady {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	event := core.NewOrderEvent(core.EventOrderActivationReady, core.Order{
		ID:                "ord_1",
		PaymentStatus:     core.PaymentStatusConfirmed,
		FulfillmentStatus: core.FulfillmentStatusCompleted,
	}, time.Now())
	if err := hub.Handle(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	update := readUpdate(t, conn)
	if update.Event != core.EventOrderActivationReady || !update.ActivationReady || update.FulfillmentStatus != "completed" {
		t.Fatalf("unexpected update %+v", update)
	}
}

func TestHandler_UpdatesAreScopedToOrder(t *testing.T) {
	hub, server, cleanup := newStreamServer(t, stubOrders{
		"ord_a": {ID: "ord_a", FulfillmentStatus: core.FulfillmentStatusProcessing},
		"ord_b": {ID: "ord_b", FulfillmentStatus: core.FulfillmentStatusProcessing},
	})
	defer cleanup()

	connA := dialOrder(t, server, "ord_a")
	defer connA.Close()
	connB := dialOrder(t, server, "ord_b")
	defer connB.Close()
	readUpdate(t, connA)
	readUpdate(t, connB)

	hub.Broadcast(Update{OrderID: "ord_b", Event: core.EventOrderFailed, FulfillmentStatus: "failed"})
	hub.Broadcast(Update{OrderID: "ord_a", Event: core.EventOrderCompleted, FulfillmentStatus: "completed"})

	if got := readUpdate(t, connA); got.Event != core.EventOrderCompleted {
		t.Fatalf("expected ord_a to see only its update, got %+v", got)
	}
	if got := readUpdate(t, connB); got.Event != core.EventOrderFailed {
		t.Fatalf("expected ord_b to see only its update, got %+v", got)
	}
}

func TestHandler_UnknownOrderIsNotUpgraded(t *testing.T) {
	_, server, cleanup := newStreamServer(t, stubOrders{})
	defer cleanup()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/orders/ord_missing"
	_, resp, err := gw.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial to fail for unknown order")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 response, got %+v", resp)
	}
}

func TestUpdateFromEvent_ReadsPayloadSnapshot(t *testing.T) {
	event := core.NewOrderEvent(core.EventOrderProcessing, core.Order{
		ID:                "ord_9",
		PaymentStatus:     core.PaymentStatusConfirmed,
		FulfillmentStatus: core.FulfillmentStatusProcessing,
	}, time.Now())
	upd := UpdateFromEvent(event)
	if upd.OrderID != "ord_9" || upd.PaymentStatus != "confirmed" || upd.ActivationReady {
		t.Fatalf("unexpected update %+v", upd)
	}
	if (&Hub{}).Broadcast(Update{}) {
		t.Fatalf("expected update without order id to be skipped")
	}
}
