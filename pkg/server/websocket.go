package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/eterna-labs/swapflow/pkg/core"
	"github.com/eterna-labs/swapflow/pkg/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by main server)
		return true
	},
}

const wsWriteTimeout = 5 * time.Second

// connectedAck is the first frame sent on every progress connection
type connectedAck struct {
	Type    string `json:"type"`
	OrderID string `json:"orderId"`
}

// wsSubscriber adapts one websocket connection to the broadcaster's
// Subscriber interface. Writes are serialized under the mutex; the
// done channel closes once a terminal event has been delivered.
type wsSubscriber struct {
	conn *websocket.Conn

	mu       sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
}

func newWSSubscriber(conn *websocket.Conn) *wsSubscriber {
	return &wsSubscriber{
		conn: conn,
		done: make(chan struct{}),
	}
}

// Send implements broadcast.Subscriber. Once a terminal event has been
// delivered the feed is finished and later sends are dropped, so a
// snapshot racing a live terminal event cannot produce a second
// terminal frame.
func (s *wsSubscriber) Send(event core.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	default:
	}

	s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := s.conn.WriteJSON(event); err != nil {
		s.finish()
		return err
	}

	if event.Status.Terminal() && !softFailure(event) {
		s.finish()
	}
	return nil
}

func (s *wsSubscriber) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// softFailure reports a per-attempt failure that keeps the feed open
func softFailure(event core.ProgressEvent) bool {
	return event.Status == core.StatusFailed && event.Failed != nil && !event.Failed.Final
}

// handleOrderWS upgrades the connection and streams the order's
// progress events until a terminal event or client disconnect. Orders
// already terminal at connect time get a snapshot event immediately.
func (s *Server) handleOrderWS(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := newWSSubscriber(conn)

	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(connectedAck{Type: "connected", OrderID: orderID}); err != nil {
		return
	}

	// Register before the terminal check so no event can fall in the gap
	s.broadcaster.Register(orderID, sub)
	defer s.broadcaster.Unregister(orderID, sub)

	if order, err := s.store.Get(r.Context(), orderID); err == nil && order.Status.Terminal() {
		sub.Send(snapshotEvent(order))
	} else if errors.Is(err, store.ErrOrderNotFound) {
		s.logger.Debug().Str("order_id", orderID).Msg("Progress feed for unknown order")
	}

	// Drain client frames so pings and close frames are processed; any
	// read error means the client is gone.
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-sub.done:
		sub.mu.Lock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "order reached terminal state"))
		sub.mu.Unlock()
	case <-readClosed:
	}
}

// snapshotEvent rebuilds the terminal event from the stored record for
// subscribers that connect after the order finished.
func snapshotEvent(order *core.Order) core.ProgressEvent {
	if order.Status == core.StatusCompleted {
		return core.NewCompletedEvent(order.OrderID, order.Stage, order.SettlementRef,
			order.Venue, order.Price, order.AmountOut, core.DefaultFeeRate)
	}
	return core.NewFailedEvent(order.OrderID, order.FailReason, order.FailAttempt, true)
}
