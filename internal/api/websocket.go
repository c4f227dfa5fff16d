package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"panicker/internal/logging"
	"panicker/internal/signal"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireSignal is the over-the-wire shape pushed to streamSignals clients.
type wireSignal struct {
	Instrument string    `json:"instrument"`
	SignalType string    `json:"signalType"`
	Level      string    `json:"level"`
	Price      float64   `json:"price"`
	RiskScore  float64   `json:"riskScore"`
	DetectedAt time.Time `json:"detectedAt"`
	Summary    string    `json:"summary"`
}

func toWireSignal(sig *signal.PanicSignal) wireSignal {
	sigType := "NEUTRAL"
	switch sig.SignalType {
	case signal.TypePanic:
		sigType = "PANIC"
	case signal.TypeGreed:
		sigType = "GREED"
	}
	return wireSignal{
		Instrument: sig.Instrument,
		SignalType: sigType,
		Level:      string(sig.FinalLevel),
		Price:      sig.Price,
		RiskScore:  sig.Risk.Score,
		DetectedAt: sig.DetectedAt,
		Summary:    sig.Interpretation,
	}
}

// wsClient is one connected streamSignals subscriber, optionally filtered to
// a subset of instruments via the `instruments` query parameter.
type wsClient struct {
	hub         *wsHub
	conn        *websocket.Conn
	send        chan []byte
	instruments map[string]bool // empty means "all instruments"
}

func (c *wsClient) wants(instrument string) bool {
	if len(c.instruments) == 0 {
		return true
	}
	return c.instruments[instrument]
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(wsMaxMessage)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// wsHub broadcasts red-level signals to every connected streamSignals
// client, narrowing each broadcast to the client's requested instrument
// subset. Grounded on the teacher's internal/api/websocket.go WSHub
// (clients map, register/unregister/broadcast channels, writePump/readPump),
// generalized from BroadcastEvent(events.Event) to a signal-scoped push since
// this module carries no general event-bus package.
type wsHub struct {
	mu         sync.RWMutex
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan *signal.PanicSignal
	log        logging.Logger
}

func newWSHub(log logging.Logger) *wsHub {
	return &wsHub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan *signal.PanicSignal, 64),
		log:        log.WithComponent("websocket"),
	}
}

func (h *wsHub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case sig := <-h.broadcast:
			if sig.FinalLevel != signal.LevelRed {
				continue
			}
			payload, err := json.Marshal(toWireSignal(sig))
			if err != nil {
				h.log.WithError(err).Warn("failed to marshal signal for broadcast")
				continue
			}
			h.mu.Lock()
			for c := range h.clients {
				if !c.wants(sig.Instrument) {
					continue
				}
				select {
				case c.send <- payload:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// PushSignal enqueues sig for broadcast; non-blocking and best-effort,
// matching the teacher's BroadcastEvent. Intended as the scan orchestrator's
// OnSignal callback.
func (h *wsHub) PushSignal(sig *signal.PanicSignal) {
	select {
	case h.broadcast <- sig:
	default:
		h.log.Warn("broadcast channel full, dropping signal push")
	}
}

// ClientCount reports the number of connected streamSignals subscribers.
func (h *wsHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleStreamSignals upgrades the request to a websocket and registers the
// client to receive red-level signals, optionally narrowed by an
// `instruments` query parameter (comma-separated).
func (s *Server) handleStreamSignals(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	wanted := map[string]bool{}
	if raw := c.Query("instruments"); raw != "" {
		for _, instrument := range splitCSV(raw) {
			wanted[instrument] = true
		}
	}

	client := &wsClient{hub: s.hub, conn: conn, send: make(chan []byte, 32), instruments: wanted}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
