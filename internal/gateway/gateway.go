// Package gateway manages the persistent push connection to the simulation
// server. It carries no business logic: inbound frames and connectivity
// transitions are handed to registered handlers, and dropped connections are
// redialed on a capped exponential backoff schedule unless the caller
// disconnected on purpose.
package gateway

import (
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"mortalpath/client/internal/telemetry"
)

const (
	defaultBaseDelay = time.Second
	defaultMaxDelay  = 8 * time.Second
)

// Config tunes a Gateway. URL is required.
type Config struct {
	URL       string
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Reconnect bool
	Dialer    *websocket.Dialer
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
}

// Gateway is a reconnecting websocket channel. Handlers registered through
// OnMessage and OnConnectivityChange receive raw frames and connect/drop
// transitions; unsubscribe by calling the returned function.
type Gateway struct {
	url     string
	dialer  *websocket.Dialer
	logger  telemetry.Logger
	metrics telemetry.Metrics

	mu              sync.Mutex
	conn            *websocket.Conn
	generation      uint64
	manuallyClosed  bool
	reconnect       bool
	delays          *backoff.ExponentialBackOff
	reconnectTimer  *time.Timer
	messageHandlers map[int]func([]byte)
	statusHandlers  map[int]func(bool)
	nextHandlerID   int
}

// New constructs a gateway for the given server URL. It does not dial until
// Connect is called.
func New(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	base := cfg.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	max := cfg.MaxDelay
	if max <= 0 {
		max = defaultMaxDelay
	}

	delays := backoff.NewExponentialBackOff()
	delays.InitialInterval = base
	delays.MaxInterval = max

	return &Gateway{
		url:             cfg.URL,
		dialer:          dialer,
		logger:          logger,
		metrics:         metrics,
		reconnect:       cfg.Reconnect,
		delays:          delays,
		messageHandlers: make(map[int]func([]byte)),
		statusHandlers:  make(map[int]func(bool)),
	}
}

// OnMessage registers a handler for inbound frames and returns its
// unsubscribe function.
func (g *Gateway) OnMessage(handler func(data []byte)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextHandlerID
	g.nextHandlerID++
	g.messageHandlers[id] = handler
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.messageHandlers, id)
	}
}

// OnConnectivityChange registers a handler for connect/drop transitions and
// returns its unsubscribe function.
func (g *Gateway) OnConnectivityChange(handler func(connected bool)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextHandlerID
	g.nextHandlerID++
	g.statusHandlers[id] = handler
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.statusHandlers, id)
	}
}

// Connect dials the server. A failed dial schedules a retry; a successful
// dial resets the backoff schedule and starts the read loop. Calling
// Connect clears any prior manual disconnect.
func (g *Gateway) Connect() {
	g.mu.Lock()
	g.manuallyClosed = false
	g.clearReconnectTimerLocked()
	g.closeConnLocked()
	g.generation++
	generation := g.generation
	g.mu.Unlock()

	conn, _, err := g.dialer.Dial(g.url, nil)
	if err != nil {
		g.logger.Printf("gateway dial %s failed: %v", g.url, err)
		g.metrics.Add("gateway_dial_failures", 1)
		g.scheduleReconnect()
		return
	}

	g.mu.Lock()
	if g.generation != generation || g.manuallyClosed {
		// A newer Connect or a Disconnect raced the dial; drop this socket.
		g.mu.Unlock()
		conn.Close()
		return
	}
	g.conn = conn
	g.delays.Reset()
	handlers := g.statusHandlersLocked()
	g.mu.Unlock()

	for _, h := range handlers {
		h(true)
	}
	go g.readLoop(conn, generation)
}

// Disconnect closes the connection and permanently suppresses reconnection
// until Connect is called again. Safe to call repeatedly.
func (g *Gateway) Disconnect() {
	g.mu.Lock()
	g.manuallyClosed = true
	g.clearReconnectTimerLocked()
	g.closeConnLocked()
	g.mu.Unlock()
}

// Connected reports whether a live connection is currently held.
func (g *Gateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conn != nil
}

func (g *Gateway) readLoop(conn *websocket.Conn, generation uint64) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			g.mu.Lock()
			stale := g.generation != generation
			if !stale && g.conn == conn {
				g.conn = nil
			}
			manual := g.manuallyClosed
			handlers := g.statusHandlersLocked()
			g.mu.Unlock()

			if stale {
				return
			}
			for _, h := range handlers {
				h(false)
			}
			if !manual {
				g.scheduleReconnect()
			}
			return
		}

		g.mu.Lock()
		handlers := g.messageHandlersLocked()
		g.mu.Unlock()
		for _, h := range handlers {
			h(payload)
		}
	}
}

func (g *Gateway) scheduleReconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.reconnect || g.manuallyClosed {
		return
	}
	g.clearReconnectTimerLocked()
	delay := g.delays.NextBackOff()
	g.metrics.Add("gateway_reconnect_attempts", 1)
	g.reconnectTimer = time.AfterFunc(delay, g.Connect)
}

func (g *Gateway) clearReconnectTimerLocked() {
	if g.reconnectTimer != nil {
		g.reconnectTimer.Stop()
		g.reconnectTimer = nil
	}
}

func (g *Gateway) closeConnLocked() {
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
}

func (g *Gateway) messageHandlersLocked() []func([]byte) {
	handlers := make([]func([]byte), 0, len(g.messageHandlers))
	for _, h := range g.messageHandlers {
		handlers = append(handlers, h)
	}
	return handlers
}

func (g *Gateway) statusHandlersLocked() []func(bool) {
	handlers := make([]func(bool), 0, len(g.statusHandlers))
	for _, h := range g.statusHandlers {
		handlers = append(handlers, h)
	}
	return handlers
}
