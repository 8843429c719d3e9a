// Package wsdash implements an alertsink.AlertSink that broadcasts every
// alert, as JSON, to a pool of connected websocket dashboard clients.
// Grounded directly on the teacher's hub.go Hub: same
// register/unregister/Broadcast shape and the same ping/pong heartbeat
// loop, generalized from one "ticker" message type to the Signal
// Tracker's alert payloads.
package wsdash

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sentineldesk/tracker/internal/alertsink"
	"github.com/sentineldesk/tracker/internal/obslog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Sink is an alertsink.AlertSink whose HandleWebSocket method serves
// dashboard connections (register it on a mux as a handler func); the
// tracker's calls into it broadcast to every currently-connected client.
type Sink struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	upgrader  websocket.Upgrader
	log       *obslog.Logger
}

func New() *Sink {
	return &Sink{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: obslog.New("alertsink.wsdash"),
	}
}

// HandleWebSocket upgrades the connection and keeps it alive until the
// client disconnects.
func (s *Sink) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Printf("upgrade error: %v", err)
		return
	}

	s.register(conn)
	conn.WriteJSON(map[string]any{
		"type":      "connection_init",
		"status":    "connected",
		"timestamp": time.Now().UnixMilli(),
	})

	defer func() {
		s.unregister(conn)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Sink) register(conn *websocket.Conn) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[conn] = true
	s.log.Printf("dashboard client connected, total=%d", len(s.clients))
}

func (s *Sink) unregister(conn *websocket.Conn) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if _, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		s.log.Printf("dashboard client disconnected, total=%d", len(s.clients))
	}
}

func (s *Sink) broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Printf("marshal error: %v", err)
		return
	}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for client := range s.clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			client.Close()
			delete(s.clients, client)
		}
	}
}

func (s *Sink) Approach(a alertsink.ApproachAlert) {
	s.broadcast(map[string]any{
		"type": "approach", "instrument": a.Signal.Instrument, "direction": a.Signal.Direction,
		"sequence": a.Limit.SequenceNumber, "price_level": a.Limit.PriceLevel.String(),
		"distance_to": a.DistanceTo.String(), "at": a.At.UnixMilli(),
	})
}

func (s *Sink) LimitHit(a alertsink.LimitHitAlert) {
	s.broadcast(map[string]any{
		"type": "limit_hit", "instrument": a.Signal.Instrument, "direction": a.Signal.Direction,
		"sequence": a.Limit.SequenceNumber, "hit_price": a.HitPrice.String(), "at": a.At.UnixMilli(),
	})
}

func (s *Sink) StopLoss(a alertsink.StopLossAlert) {
	s.broadcast(map[string]any{
		"type": "stop_loss", "instrument": a.Signal.Instrument, "direction": a.Signal.Direction,
		"price": a.Price.String(), "at": a.At.UnixMilli(),
	})
}

func (s *Sink) SpreadHourCancel(a alertsink.SpreadHourCancelAlert) {
	s.broadcast(map[string]any{
		"type": "spread_hour_cancel", "signal_id": a.Signal.ID, "instrument": a.Signal.Instrument, "at": a.At.UnixMilli(),
	})
}

func (s *Sink) NewsCancel(a alertsink.NewsCancelAlert) {
	s.broadcast(map[string]any{
		"type": "news_cancel", "signal_id": a.Signal.ID, "instrument": a.Signal.Instrument,
		"category": a.Event.Category, "at": a.At.UnixMilli(),
	})
}

func (s *Sink) NewsActivated(a alertsink.NewsActivatedAlert) {
	s.broadcast(map[string]any{
		"type": "news_activated", "category": a.Event.Category, "instrument": a.Instrument, "at": a.At.UnixMilli(),
	})
}

func (s *Sink) AutoTP(a alertsink.AutoTPAlert) {
	s.broadcast(map[string]any{
		"type": "auto_tp", "instrument": a.Signal.Instrument, "direction": a.Signal.Direction,
		"last_pnl": a.LastPnL.String(), "earlier_sum": a.EarlierSum.String(), "at": a.At.UnixMilli(),
	})
}

func (s *Sink) AdminNotification(a alertsink.AdminNotification) {
	s.broadcast(map[string]any{"type": "admin", "message": a.Message, "at": a.At.UnixMilli()})
}

var _ alertsink.AlertSink = (*Sink)(nil)
