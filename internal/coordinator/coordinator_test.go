package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"mortalpath/client/internal/telemetry"
	"mortalpath/client/internal/world"
)

type fakeChannel struct {
	mu             sync.Mutex
	connectCalls   int
	disconnects    int
	messageHandler func([]byte)
	statusHandler  func(bool)
	messageUnsubs  int
	statusUnsubs   int
}

func (c *fakeChannel) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectCalls++
}

func (c *fakeChannel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

func (c *fakeChannel) OnMessage(handler func([]byte)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageHandler = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.messageUnsubs++
		c.messageHandler = nil
	}
}

func (c *fakeChannel) OnConnectivityChange(handler func(bool)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusHandler = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.statusUnsubs++
		c.statusHandler = nil
	}
}

func (c *fakeChannel) push(data []byte) {
	c.mu.Lock()
	handler := c.messageHandler
	c.mu.Unlock()
	if handler != nil {
		handler(data)
	}
}

func (c *fakeChannel) setStatus(connected bool) {
	c.mu.Lock()
	handler := c.statusHandler
	c.mu.Unlock()
	if handler != nil {
		handler(connected)
	}
}

type fakeSync struct {
	mu          sync.Mutex
	deltas      []world.DeltaPayload
	initialized chan struct{}
}

func newFakeSync() *fakeSync {
	return &fakeSync{initialized: make(chan struct{}, 4)}
}

func (s *fakeSync) HandleDelta(payload world.DeltaPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltas = append(s.deltas, payload)
}

func (s *fakeSync) Initialize(ctx context.Context) {
	select {
	case s.initialized <- struct{}{}:
	default:
	}
}

func (s *fakeSync) deltaCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deltas)
}

type fakeNotifier struct {
	mu      sync.Mutex
	configs []string
	toasts  []string
	locales []string
}

func (n *fakeNotifier) ConfigRequired(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.configs = append(n.configs, message)
}

func (n *fakeNotifier) Toast(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, message)
}

func (n *fakeNotifier) LocaleChanged(locale string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.locales = append(n.locales, locale)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeChannel, *fakeSync, *fakeNotifier) {
	t.Helper()
	channel := &fakeChannel{}
	worldSync := newFakeSync()
	notifier := &fakeNotifier{}
	coord := New(Config{Channel: channel, Sync: worldSync, Notifier: notifier})
	return coord, channel, worldSync, notifier
}

func TestInitAttachesHandlersAndConnects(t *testing.T) {
	coord, channel, _, _ := newTestCoordinator(t)
	coord.Init(context.Background())

	if channel.connectCalls != 1 {
		t.Fatalf("expected one connect, got %d", channel.connectCalls)
	}
	if channel.messageHandler == nil || channel.statusHandler == nil {
		t.Fatalf("expected handlers attached")
	}

	coord.Init(context.Background())
	if channel.connectCalls != 1 {
		t.Fatalf("expected repeat Init to be a no-op, got %d connects", channel.connectCalls)
	}
}

func TestTickDispatchesDelta(t *testing.T) {
	coord, channel, worldSync, _ := newTestCoordinator(t)
	coord.Init(context.Background())

	channel.push([]byte(`{"type":"tick","year":3,"month":4,"avatars":[],"events":[]}`))

	if worldSync.deltaCount() != 1 {
		t.Fatalf("expected one delta, got %d", worldSync.deltaCount())
	}
	if worldSync.deltas[0].Year != 3 || worldSync.deltas[0].Month != 4 {
		t.Fatalf("expected delta time 3/4, got %d/%d", worldSync.deltas[0].Year, worldSync.deltas[0].Month)
	}
}

func TestTickInvokesDeltaCallback(t *testing.T) {
	channel := &fakeChannel{}
	worldSync := newFakeSync()
	applied := 0
	coord := New(Config{Channel: channel, Sync: worldSync, OnDeltaApplied: func() { applied++ }})
	coord.Init(context.Background())

	channel.push([]byte(`{"type":"tick","year":1,"month":1}`))
	if applied != 1 {
		t.Fatalf("expected callback once, got %d", applied)
	}
}

func TestConfigRequiredNotifies(t *testing.T) {
	coord, channel, _, notifier := newTestCoordinator(t)
	coord.Init(context.Background())

	channel.push([]byte(`{"type":"llm_config_required","error":"no api key"}`))
	if len(notifier.configs) != 1 || notifier.configs[0] != "no api key" {
		t.Fatalf("expected config notification, got %v", notifier.configs)
	}

	channel.push([]byte(`{"type":"llm_config_required"}`))
	if len(notifier.configs) != 2 || notifier.configs[1] == "" {
		t.Fatalf("expected fallback message, got %v", notifier.configs)
	}
}

func TestReinitializedTriggersInitializeAndToast(t *testing.T) {
	coord, channel, worldSync, notifier := newTestCoordinator(t)
	coord.Init(context.Background())

	channel.push([]byte(`{"type":"game_reinitialized","message":"世界已重建"}`))

	select {
	case <-worldSync.initialized:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reinitialization")
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.toasts) != 1 || notifier.toasts[0] != "世界已重建" {
		t.Fatalf("expected toast, got %v", notifier.toasts)
	}
}

func TestToastAndLocaleDispatch(t *testing.T) {
	coord, channel, _, notifier := newTestCoordinator(t)
	coord.Init(context.Background())

	channel.push([]byte(`{"type":"toast","message":"saved"}`))
	channel.push([]byte(`{"type":"locale_changed","locale":"en"}`))

	if len(notifier.toasts) != 1 || notifier.toasts[0] != "saved" {
		t.Fatalf("expected toast dispatched, got %v", notifier.toasts)
	}
	if len(notifier.locales) != 1 || notifier.locales[0] != "en" {
		t.Fatalf("expected locale dispatched, got %v", notifier.locales)
	}
}

func TestUnknownAndMalformedMessagesCounted(t *testing.T) {
	channel := &fakeChannel{}
	counters := telemetry.NewCounters()
	coord := New(Config{Channel: channel, Sync: newFakeSync(), Metrics: counters})
	coord.Init(context.Background())

	channel.push([]byte(`{"type":"mystery"}`))
	channel.push([]byte(`{not json`))

	if got := counters.Value("coordinator_unknown_messages"); got != 1 {
		t.Fatalf("expected 1 unknown message, got %d", got)
	}
	if got := counters.Value("coordinator_malformed_messages"); got != 1 {
		t.Fatalf("expected 1 malformed message, got %d", got)
	}
}

func TestConnectivityFlagAndLastError(t *testing.T) {
	coord, channel, _, _ := newTestCoordinator(t)
	coord.Init(context.Background())

	channel.setStatus(true)
	if !coord.Connected() || coord.LastError() != "" {
		t.Fatalf("expected connected with no error")
	}

	channel.setStatus(false)
	if coord.Connected() {
		t.Fatalf("expected disconnected flag")
	}
	if coord.LastError() == "" {
		t.Fatalf("expected last error set on drop")
	}

	channel.setStatus(true)
	if coord.LastError() != "" {
		t.Fatalf("expected last error cleared on reconnect")
	}
}

func TestDisconnectDetachesHandlers(t *testing.T) {
	coord, channel, worldSync, _ := newTestCoordinator(t)
	coord.Init(context.Background())

	coord.Disconnect()

	if channel.disconnects != 1 {
		t.Fatalf("expected channel disconnect, got %d", channel.disconnects)
	}
	if channel.messageUnsubs != 1 || channel.statusUnsubs != 1 {
		t.Fatalf("expected handlers detached, got %d/%d", channel.messageUnsubs, channel.statusUnsubs)
	}
	if coord.Connected() {
		t.Fatalf("expected disconnected after Disconnect")
	}

	channel.push([]byte(`{"type":"tick","year":1,"month":1}`))
	if worldSync.deltaCount() != 0 {
		t.Fatalf("expected no deltas after disconnect, got %d", worldSync.deltaCount())
	}

	coord.Disconnect()
	if channel.disconnects != 2 {
		t.Fatalf("expected repeated disconnect tolerated")
	}
}
