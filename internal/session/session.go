package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/sciler-device/internal/device"
	"github.com/nerrad567/sciler-device/internal/envelope"
	"github.com/nerrad567/sciler-device/internal/infrastructure/config"
	"github.com/nerrad567/sciler-device/internal/infrastructure/mqtt"
)

// LocalTopic is the topic name recorded for instructions injected with
// HandleInstruction rather than received from the broker.
const LocalTopic = "local"

// defaultQueueSize applies when Options leave a queue size unset.
const defaultQueueSize = 64

// connectedPoll is how often a status handoff blocked on a full queue
// rechecks whether the connection is still up.
const connectedPoll = 50 * time.Millisecond

// Transport is the broker connection used by a Session.
// *mqtt.Client implements it.
type Transport interface {
	Connect(ctx context.Context) error
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler func(topic string, payload []byte) error) error
	Disconnect()
	SetConnectionLostHandler(handler func(err error))
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Options configures a Session.
type Options struct {
	// Name is the device id stamped on every outbound envelope.
	Name string

	// Host is the broker address, reported by Snapshot.
	Host string

	// ControlTopic receives instructions. Empty means mqtt.DefaultControlTopic.
	ControlTopic string

	Reconnect config.MQTTReconnectConfig

	// StatusQueueSize bounds pending status snapshots. While disconnected
	// the queue keeps the newest snapshots and drops the oldest.
	StatusQueueSize int

	// InboundQueueSize bounds received messages awaiting dispatch.
	InboundQueueSize int
}

// OptionsFromConfig derives session options from the device configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Name:             cfg.ID,
		Host:             cfg.Host,
		ControlTopic:     cfg.MQTT.ControlTopic,
		Reconnect:        cfg.MQTT.Reconnect,
		StatusQueueSize:  cfg.MQTT.StatusQueueSize,
		InboundQueueSize: cfg.MQTT.InboundQueueSize,
	}
}

// Info is a point-in-time view of a session.
type Info struct {
	Name        string    `json:"name"`
	Host        string    `json:"host"`
	State       State     `json:"state"`
	SessionID   string    `json:"session_id,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
	Reconnects  uint64    `json:"reconnects"`
	Published   uint64    `json:"published"`
	Dropped     uint64    `json:"dropped"`
}

// inbound is a message waiting for the dispatcher.
type inbound struct {
	topic string
	raw   []byte

	// local messages carry bare instruction contents instead of an envelope.
	local bool
	reply chan error
}

// Session owns the broker connection of one device.
//
// Start runs the connection state machine. Only the goroutine running Start
// publishes; the adapter hands status changes over through a bounded queue,
// and inbound messages are dispatched to the adapter by a separate goroutine
// in arrival order.
//
// Thread Safety:
//   - StatusChanged, Deliver, HandleInstruction, Subscribe, State and
//     Snapshot are safe for concurrent use.
type Session struct {
	opts      Options
	transport Transport
	adapter   device.Adapter

	state   atomic.Int32
	started atomic.Bool
	running atomic.Bool

	statusQ  chan device.Status
	inboundQ chan inbound
	lost     chan error
	stop     chan struct{}

	topics   []string
	topicsMu sync.Mutex

	sessionID   string
	connectedAt time.Time
	connections uint64
	infoMu      sync.RWMutex

	published atomic.Uint64
	dropped   atomic.Uint64

	logger        Logger
	recorder      Recorder
	onStateChange func(from, to State)
	hookMu        sync.RWMutex

	newBackOff func() backoff.BackOff
}

// New creates a session for adapter over transport. Call SetLogger and
// SetRecorder before Start.
func New(opts Options, transport Transport, adapter device.Adapter) *Session {
	if opts.ControlTopic == "" {
		opts.ControlTopic = mqtt.DefaultControlTopic
	}
	if opts.StatusQueueSize < 1 {
		opts.StatusQueueSize = defaultQueueSize
	}
	if opts.InboundQueueSize < 1 {
		opts.InboundQueueSize = defaultQueueSize
	}

	s := &Session{
		opts:      opts,
		transport: transport,
		adapter:   adapter,
		statusQ:   make(chan device.Status, opts.StatusQueueSize),
		inboundQ:  make(chan inbound, opts.InboundQueueSize),
		lost:      make(chan error, 1),
		stop:      make(chan struct{}),
		topics:    []string{opts.ControlTopic},
		logger:    nopLogger{},
		recorder:  Recorders(nil),
	}
	s.newBackOff = func() backoff.BackOff { return newExponentialBackOff(opts.Reconnect) }
	return s
}

// newExponentialBackOff builds the reconnect policy.
func newExponentialBackOff(cfg config.MQTTReconnectConfig) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.MaxInterval = cfg.MaxDelay
	b.RandomizationFactor = cfg.Jitter
	b.Multiplier = cfg.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.Reset()
	return b
}

// SetLogger sets the session logger.
func (s *Session) SetLogger(logger Logger) {
	if logger == nil {
		logger = nopLogger{}
	}
	s.hookMu.Lock()
	s.logger = logger
	s.hookMu.Unlock()
}

// SetRecorder sets the observer of inbound and outbound envelopes.
func (s *Session) SetRecorder(r Recorder) {
	if r == nil {
		r = Recorders(nil)
	}
	s.hookMu.Lock()
	s.recorder = r
	s.hookMu.Unlock()
}

// SetOnStateChange sets a callback invoked on every state transition.
// It runs synchronously on the session goroutine.
func (s *Session) SetOnStateChange(fn func(from, to State)) {
	s.hookMu.Lock()
	s.onStateChange = fn
	s.hookMu.Unlock()
}

func (s *Session) log() Logger {
	s.hookMu.RLock()
	defer s.hookMu.RUnlock()
	return s.logger
}

func (s *Session) rec() Recorder {
	s.hookMu.RLock()
	defer s.hookMu.RUnlock()
	return s.recorder
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	s.log().Debug("session state changed", "from", from.String(), "to", to.String())

	s.hookMu.RLock()
	fn := s.onStateChange
	s.hookMu.RUnlock()
	if fn != nil {
		fn(from, to)
	}
}

// Snapshot returns a point-in-time view of the session.
func (s *Session) Snapshot() Info {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()

	var reconnects uint64
	if s.connections > 0 {
		reconnects = s.connections - 1
	}
	return Info{
		Name:        s.opts.Name,
		Host:        s.opts.Host,
		State:       s.State(),
		SessionID:   s.sessionID,
		ConnectedAt: s.connectedAt,
		Reconnects:  reconnects,
		Published:   s.published.Load(),
		Dropped:     s.dropped.Load(),
	}
}

// Start runs the session until ctx is cancelled.
//
// It connects, announces the connection, subscribes to the control topic and
// serves until the connection drops, then reconnects with exponential
// backoff. Start returns nil after an orderly shutdown. It only fails when a
// reconnect attempt limit is configured and exhausted, or when called twice.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.transport.SetConnectionLostHandler(s.connectionLost)
	s.running.Store(true)

	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		s.runDispatcher(dispatchCtx)
	}()
	defer func() {
		s.running.Store(false)
		close(s.stop)
		cancelDispatch()
		<-dispatchDone
		s.discardStatus()
	}()

	b := s.newBackOff()
	attempts := 0

	for {
		err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateDisconnected)
				return nil
			}

			attempts++
			s.setState(StateFailed)

			if limit := s.opts.Reconnect.MaxAttempts; limit > 0 && attempts >= limit {
				s.log().Error("giving up on broker", "host", s.opts.Host, "attempts", attempts, "error", err)
				return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
			}

			delay := b.NextBackOff()
			s.log().Warn("broker connection failed",
				"host", s.opts.Host,
				"attempt", attempts,
				"retry_in", delay.String(),
				"error", err,
			)
			if !sleep(ctx, delay) {
				s.setState(StateDisconnected)
				return nil
			}
			continue
		}

		attempts = 0
		b.Reset()

		if shutdown := s.serve(ctx); shutdown {
			return nil
		}
	}
}

// sleep waits for d or ctx cancellation. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// connect performs one connection attempt and the post-connect handshake.
func (s *Session) connect(ctx context.Context) error {
	s.setState(StateConnecting)

	// A loss reported by a previous connection is stale now.
	select {
	case <-s.lost:
	default:
	}

	if err := s.transport.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	s.infoMu.Lock()
	s.sessionID = uuid.NewString()
	s.connectedAt = time.Now()
	s.connections++
	sessionID := s.sessionID
	s.infoMu.Unlock()

	s.setState(StateConnected)
	s.log().Info("connected to broker", "host", s.opts.Host, "session_id", sessionID)

	s.publish(envelope.TypeConnection, mqtt.Topics{}.Connection(), envelope.ConnectionPayload{Connection: true})

	s.topicsMu.Lock()
	topics := append([]string(nil), s.topics...)
	s.topicsMu.Unlock()

	for _, topic := range topics {
		if err := s.transport.Subscribe(topic, s.Deliver); err != nil {
			s.publish(envelope.TypeConnection, mqtt.Topics{}.Connection(), envelope.ConnectionPayload{Connection: false})
			s.transport.Disconnect()
			return fmt.Errorf("%w: subscribing to %q: %w", ErrConnect, topic, err)
		}
		s.log().Info("subscribed", "topic", topic)
	}

	return nil
}

// serve runs the owner loop for one connection. It reports whether the
// session is shutting down (true) or the connection was lost (false).
func (s *Session) serve(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			s.flushStatus()
			s.publish(envelope.TypeConnection, mqtt.Topics{}.Connection(), envelope.ConnectionPayload{Connection: false})
			s.transport.Disconnect()
			s.setState(StateDisconnected)
			s.log().Info("disconnected from broker", "host", s.opts.Host)
			return true

		case err := <-s.lost:
			s.log().Warn("broker connection lost", "host", s.opts.Host, "error", err)
			s.announceLost()
			s.setState(StateDisconnected)
			return false

		case status := <-s.statusQ:
			s.PublishStatus(status)
		}
	}
}

// flushStatus publishes every status snapshot already queued.
func (s *Session) flushStatus() {
	for {
		select {
		case status := <-s.statusQ:
			s.PublishStatus(status)
		default:
			return
		}
	}
}

// discardStatus empties the status queue after the session has stopped.
func (s *Session) discardStatus() {
	for {
		select {
		case <-s.statusQ:
			s.dropped.Add(1)
		default:
			return
		}
	}
}

// announceLost tries to publish connection:false after the transport
// reported the link down. The link is usually gone already; the broker then
// delivers the will message instead, so a failure here is not a drop.
func (s *Session) announceLost() {
	topic := mqtt.Topics{}.Connection()
	data, err := envelope.Encode(envelope.TypeConnection, envelope.ConnectionPayload{Connection: false}, s.opts.Name)
	if err != nil {
		s.log().Error("encoding connection announcement", "error", err)
		return
	}
	if err := s.transport.Publish(topic, data); err != nil {
		s.log().Debug("connection announcement skipped, link down", "topic", topic, "error", err)
		return
	}
	s.published.Add(1)
	s.rec().RecordOutbound(topic, data)
}

// connectionLost is registered with the transport.
func (s *Session) connectionLost(err error) {
	select {
	case s.lost <- err:
	default:
	}
}

// Subscribe adds topic to the subscriptions made on every connection. When
// connected, the subscription is sent immediately.
func (s *Session) Subscribe(topic string) error {
	s.topicsMu.Lock()
	for _, t := range s.topics {
		if t == topic {
			s.topicsMu.Unlock()
			return nil
		}
	}
	s.topics = append(s.topics, topic)
	s.topicsMu.Unlock()

	if s.State() != StateConnected {
		s.log().Info("subscription deferred until connected", "topic", topic)
		return nil
	}
	if err := s.transport.Subscribe(topic, s.Deliver); err != nil {
		return err
	}
	s.log().Info("subscribed", "topic", topic)
	return nil
}

// PublishStatus publishes components as a status envelope. Payloads that
// cannot be serialised are logged and dropped.
func (s *Session) PublishStatus(components map[string]any) {
	s.publish(envelope.TypeStatus, mqtt.Topics{}.Status(), components)
}

// WillPayload returns the envelope a broker should publish on the connection
// topic if the device vanishes without a clean disconnect. The broker stores
// it at connect time, so its time_sent is the connect time; consumers should
// use the receive time for will messages.
func (s *Session) WillPayload() ([]byte, error) {
	return envelope.Encode(envelope.TypeConnection, envelope.ConnectionPayload{Connection: false}, s.opts.Name)
}

func (s *Session) publish(t envelope.Type, topic string, payload any) {
	data, err := envelope.Encode(t, payload, s.opts.Name)
	if err != nil {
		s.dropped.Add(1)
		s.log().Error("dropping message that cannot be serialised", "topic", topic, "type", string(t), "error", err)
		return
	}

	if err := s.transport.Publish(topic, data); err != nil {
		s.dropped.Add(1)
		s.log().Warn("publish failed", "topic", topic, "type", string(t), "error", err)
		return
	}

	s.published.Add(1)
	s.log().Debug("published", "topic", topic, "type", string(t))
	s.rec().RecordOutbound(topic, data)
}

// StatusChanged implements device.Notifier. The adapter status is captured
// now and queued for publishing.
//
// While connected it blocks until the queue has room, so every change is
// published. While disconnected it never blocks: a full queue drops its
// oldest snapshot. After the session has stopped the change is dropped.
func (s *Session) StatusChanged() {
	status := s.adapter.Status()

	var poll *time.Timer
	for {
		if s.State() != StateConnected {
			s.enqueueOffline(status)
			return
		}

		select {
		case s.statusQ <- status:
			return
		case <-s.stop:
			s.dropped.Add(1)
			s.log().Debug("status change after session stop dropped")
			return
		default:
		}

		if poll == nil {
			poll = time.NewTimer(connectedPoll)
			defer poll.Stop()
		} else {
			poll.Reset(connectedPoll)
		}

		select {
		case s.statusQ <- status:
			return
		case <-s.stop:
			s.dropped.Add(1)
			s.log().Debug("status change after session stop dropped")
			return
		case <-poll.C:
		}
	}
}

// enqueueOffline queues status without blocking, evicting the oldest queued
// snapshot when the queue is full.
func (s *Session) enqueueOffline(status device.Status) {
	for {
		select {
		case <-s.stop:
			s.dropped.Add(1)
			s.log().Debug("status change after session stop dropped")
			return
		default:
		}

		select {
		case s.statusQ <- status:
			return
		default:
		}

		select {
		case <-s.statusQ:
			s.dropped.Add(1)
			s.log().Debug("status queue full while disconnected, oldest snapshot dropped")
		default:
		}
	}
}

// Deliver queues a raw broker message for dispatch. It is the handler the
// session registers with the transport.
func (s *Session) Deliver(topic string, payload []byte) error {
	select {
	case s.inboundQ <- inbound{topic: topic, raw: payload}:
		return nil
	case <-s.stop:
		return ErrNotRunning
	}
}

// HandleInstruction performs instruction contents as if they had arrived
// from the broker, and returns the adapter's result. Dispatch order with
// broker messages is preserved.
func (s *Session) HandleInstruction(ctx context.Context, payload json.RawMessage) error {
	if !s.running.Load() {
		return ErrNotRunning
	}

	msg := inbound{topic: LocalTopic, raw: payload, local: true, reply: make(chan error, 1)}
	select {
	case s.inboundQ <- msg:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stop:
		return ErrNotRunning
	}

	select {
	case err := <-msg.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stop:
		return ErrNotRunning
	}
}

// runDispatcher hands inbound messages to the adapter one at a time.
func (s *Session) runDispatcher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.inboundQ:
			err := s.dispatch(msg)
			if msg.reply != nil {
				msg.reply <- err
			}
		}
	}
}

// dispatch decodes one message and forwards its contents to the adapter.
func (s *Session) dispatch(msg inbound) error {
	payload := json.RawMessage(msg.raw)

	if !msg.local {
		env, err := envelope.Decode(msg.raw)
		if err != nil {
			s.log().Warn("dropping malformed message", "topic", msg.topic, "error", err)
			s.rec().RecordInbound(msg.topic, msg.raw, err)
			return err
		}
		s.log().Debug("message received", "topic", msg.topic, "from", env.DeviceID, "type", string(env.Type))
		payload = env.Payload
	}

	err := device.Execute(s.adapter, payload)
	if err != nil {
		action := string(payload)
		if ie, ok := device.AsInstructionError(err); ok {
			action = ie.Action
		}
		s.log().Warn("instruction failed", "topic", msg.topic, "action", action, "error", err)
	}
	s.rec().RecordInbound(msg.topic, msg.raw, err)
	return err
}
