// Package coordinator binds the push channel to the world synchronizer. It
// decodes inbound frames, dispatches them by their type discriminant, tracks
// the externally observable connected flag, and re-runs initialization when
// the server reports a world reinit.
package coordinator

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"mortalpath/client/internal/telemetry"
	"mortalpath/client/internal/world"
)

// Message type discriminants understood by the coordinator. Unknown kinds
// are ignored silently.
const (
	msgTick           = "tick"
	msgConfigRequired = "llm_config_required"
	msgReinitialized  = "game_reinitialized"
	msgToast          = "toast"
	msgLocaleChanged  = "locale_changed"
)

// Channel is the transport surface the coordinator consumes.
type Channel interface {
	Connect()
	Disconnect()
	OnMessage(handler func(data []byte)) func()
	OnConnectivityChange(handler func(connected bool)) func()
}

// WorldSync is the synchronizer surface driven by push messages.
type WorldSync interface {
	HandleDelta(payload world.DeltaPayload)
	Initialize(ctx context.Context)
}

// Notifier receives the auxiliary, user-facing message kinds. All methods
// are best-effort; implementations must not block.
type Notifier interface {
	ConfigRequired(message string)
	Toast(message string)
	LocaleChanged(locale string)
}

type envelope struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Locale  string `json:"locale"`
}

// Config carries the coordinator collaborators. Channel and Sync are
// required; Notifier and OnDeltaApplied are optional.
type Config struct {
	Channel        Channel
	Sync           WorldSync
	Notifier       Notifier
	Logger         telemetry.Logger
	Metrics        telemetry.Metrics
	OnDeltaApplied func()
}

// Coordinator owns the connect/reconnect lifecycle binding and the
// connected flag observers read.
type Coordinator struct {
	channel        Channel
	sync           WorldSync
	notifier       Notifier
	logger         telemetry.Logger
	metrics        telemetry.Metrics
	onDeltaApplied func()

	mu           sync.Mutex
	connected    bool
	lastError    string
	unsubMessage func()
	unsubStatus  func()
}

// New constructs a coordinator; call Init to attach and connect.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Coordinator{
		channel:        cfg.Channel,
		sync:           cfg.Sync,
		notifier:       cfg.Notifier,
		logger:         logger,
		metrics:        metrics,
		onDeltaApplied: cfg.OnDeltaApplied,
	}
}

// Init attaches the message and connectivity handlers and connects the
// channel. Calling it again after the first successful call is a no-op.
func (c *Coordinator) Init(ctx context.Context) {
	c.mu.Lock()
	if c.unsubStatus != nil {
		c.mu.Unlock()
		return
	}
	c.unsubStatus = c.channel.OnConnectivityChange(func(connected bool) {
		c.handleConnectivity(connected)
	})
	c.unsubMessage = c.channel.OnMessage(func(data []byte) {
		c.handleMessage(ctx, data)
	})
	c.mu.Unlock()

	c.channel.Connect()
}

// Disconnect detaches the handlers and closes the channel; reconnection
// stays suppressed until Init runs again. Safe to call repeatedly.
func (c *Coordinator) Disconnect() {
	c.mu.Lock()
	if c.unsubMessage != nil {
		c.unsubMessage()
		c.unsubMessage = nil
	}
	if c.unsubStatus != nil {
		c.unsubStatus()
		c.unsubStatus = nil
	}
	c.connected = false
	c.mu.Unlock()

	c.channel.Disconnect()
}

// Connected reports the externally observable connectivity flag.
func (c *Coordinator) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// LastError returns the most recent connectivity error note, cleared on
// reconnect.
func (c *Coordinator) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

func (c *Coordinator) handleConnectivity(connected bool) {
	c.mu.Lock()
	c.connected = connected
	if connected {
		c.lastError = ""
	} else {
		c.lastError = "connection lost"
	}
	c.mu.Unlock()
	if connected {
		c.metrics.Add("coordinator_connects", 1)
	} else {
		c.metrics.Add("coordinator_drops", 1)
	}
}

func (c *Coordinator) handleMessage(ctx context.Context, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Printf("coordinator: discarding malformed message: %v", err)
		c.metrics.Add("coordinator_malformed_messages", 1)
		return
	}

	switch env.Type {
	case msgTick:
		var payload world.DeltaPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			c.logger.Printf("coordinator: discarding malformed tick: %v", err)
			c.metrics.Add("coordinator_malformed_messages", 1)
			return
		}
		c.sync.HandleDelta(payload)
		if c.onDeltaApplied != nil {
			c.onDeltaApplied()
		}
	case msgConfigRequired:
		message := env.Error
		if message == "" {
			message = "model configuration required"
		}
		c.logger.Printf("coordinator: server requires configuration: %s", message)
		if c.notifier != nil {
			c.notifier.ConfigRequired(message)
		}
	case msgReinitialized:
		c.logger.Printf("coordinator: world reinitialized: %s", env.Message)
		if c.notifier != nil && env.Message != "" {
			c.notifier.Toast(env.Message)
		}
		go c.sync.Initialize(ctx)
	case msgToast:
		if c.notifier != nil {
			c.notifier.Toast(env.Message)
		}
	case msgLocaleChanged:
		if c.notifier != nil {
			c.notifier.LocaleChanged(env.Locale)
		}
	default:
		c.metrics.Add("coordinator_unknown_messages", 1)
	}
}
