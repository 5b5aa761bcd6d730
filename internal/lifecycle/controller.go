package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/config"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/message"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/state"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/store"
)

// maxQueuedMessages bounds the inbound messages waiting for the event loop.
const maxQueuedMessages = 256

var errNoClient = errors.New("no client instance")

// Status is the externally visible client state.
type Status struct {
	IsReady bool    `json:"isReady"`
	Status  string  `json:"status"`
	QRCode  *string `json:"qrCode"`
}

// Options tunes a Controller. Zero values select defaults.
type Options struct {
	MaxAttempts int
	Classifier  Classifier
	Location    *time.Location

	// States, when set, receives every status transition.
	States  store.StateRepository
	Counter MessageCounter
	Logger  *slog.Logger
}

// OptionsFromConfig derives controller options from the service config.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Options{}, err
	}
	return Options{
		MaxAttempts: cfg.ReinitMaxAttempts,
		Classifier:  SubstringClassifier(cfg.TransientErrors),
		Location:    loc,
	}, nil
}

// Controller owns the client instance. All events, including its own
// reinitialization commands, are handled one at a time by Run.
type Controller struct {
	factory     ClientFactory
	hub         Hub
	scheduler   Scheduler
	states      store.StateRepository
	counter     MessageCounter
	classify    Classifier
	builder     *message.Builder
	maxAttempts int
	machine     *state.Machine
	log         *slog.Logger

	queue *eventQueue

	// retrySeq identifies the newest scheduled retry. Retries posted by an
	// older timer are dropped.
	retrySeq atomic.Uint64

	// Owned by the event loop.
	attempts   int
	generation uint64
	lastReason string

	mu        sync.RWMutex
	client    Client
	status    state.State
	isReady   bool
	qrCode    string
	accountID string
}

// NewController creates a controller. Call Run to start the client.
func NewController(factory ClientFactory, hub Hub, scheduler Scheduler, opts Options) *Controller {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = config.DefaultConfig().ReinitMaxAttempts
	}
	if opts.Classifier == nil {
		opts.Classifier = SubstringClassifier(config.DefaultTransientErrors)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Controller{
		factory:     factory,
		hub:         hub,
		scheduler:   scheduler,
		states:      opts.States,
		counter:     opts.Counter,
		classify:    opts.Classifier,
		builder:     message.NewBuilder(opts.Location),
		maxAttempts: opts.MaxAttempts,
		machine:     state.NewMachine(),
		log:         opts.Logger.With("component", "lifecycle"),
		queue:       newEventQueue(maxQueuedMessages),
		status:      state.StateInitializing,
	}

	c.machine.OnTransition(c.onTransition)

	return c
}

// Run initializes the client and processes events until ctx is cancelled,
// then destroys the client.
func (c *Controller) Run(ctx context.Context) {
	c.handle(ctx, envelope{event: initCommand{}})

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case <-c.queue.ready():
			for ctx.Err() == nil {
				env, ok := c.queue.pop()
				if !ok {
					break
				}
				c.handle(ctx, env)
			}
		}
	}
}

// Restart starts a fresh initialization with a full retry budget. It is the
// only way out of max_attempts_reached.
func (c *Controller) Restart() {
	c.log.Info("restart requested")
	c.retrySeq.Add(1)
	c.post(envelope{event: initCommand{resetAttempts: true}})
}

// Status returns the current client state.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Status{IsReady: c.isReady, Status: string(c.status)}
	if c.qrCode != "" {
		code := c.qrCode
		s.QRCode = &code
	}
	return s
}

// ReadyClient returns the current client if it is ready. The reference must
// not be kept beyond the operation it was fetched for.
func (c *Controller) ReadyClient() (Client, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isReady || c.client == nil {
		return nil, false
	}
	return c.client, true
}

// AccountID returns the phone number of the paired account, if known.
func (c *Controller) AccountID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accountID
}

// Builder returns the record builder used for inbound messages.
func (c *Controller) Builder() *message.Builder {
	return c.builder
}

func (c *Controller) post(env envelope) {
	if !c.queue.push(env) {
		c.log.Warn("event queue full, dropping message", "event", env.event.eventName())
	}
}

func (c *Controller) sinkFor(generation uint64) Sink {
	return func(evt Event) {
		c.post(envelope{generation: generation, event: evt})
	}
}

func (c *Controller) handle(ctx context.Context, env envelope) {
	if env.generation != 0 && env.generation != c.generation {
		c.log.Debug("dropping event from discarded client", "event", env.event.eventName(), "generation", env.generation)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("event handler panicked", "event", env.event.eventName(), "panic", r)
		}
	}()

	switch evt := env.event.(type) {
	case initCommand:
		if evt.retry != 0 && evt.retry != c.retrySeq.Load() {
			c.log.Debug("dropping superseded retry")
			return
		}
		if evt.resetAttempts {
			c.attempts = 0
		}
		c.initialize(ctx)

	case QRCode:
		c.onQRCode(ctx, evt)

	case Authenticated:
		c.log.Info("WhatsApp client authenticated")
		c.fire(ctx, state.TriggerAuthenticated, "")

	case Ready:
		c.onReady(ctx, evt)

	case AuthFailure:
		c.log.Error("authentication failure", "reason", evt.Reason)
		c.fire(ctx, state.TriggerAuthFailure, evt.Reason)
		c.scheduleReinit(ctx)

	case Disconnected:
		c.log.Warn("WhatsApp client disconnected", "reason", evt.Reason)
		c.fire(ctx, state.TriggerDisconnected, evt.Reason)

	case ClientError:
		c.log.Error("WhatsApp client error", "error", evt.Message)
		c.fire(ctx, state.TriggerClientError, evt.Message)
		if c.classify(evt.Message) {
			c.scheduleReinit(ctx)
		} else {
			c.log.Warn("client error is not transient, not reinitializing")
		}

	case MessageReceived:
		c.forwardMessage(ctx, evt.Message)

	case ButtonResponseReceived:
		c.forwardButtonResponse(ctx, evt.Message)
	}
}

func (c *Controller) initialize(ctx context.Context) {
	c.scheduler.CancelPending()
	c.retrySeq.Add(1)
	c.attempts++
	c.log.Info("initializing WhatsApp client", "attempt", c.attempts, "max_attempts", c.maxAttempts)

	c.fire(ctx, state.TriggerInitialize, "")

	c.destroyClient()
	c.generation++

	client, err := c.factory(c.sinkFor(c.generation))
	if err != nil {
		c.log.Error("failed to set up WhatsApp client", "error", err)
		c.fire(ctx, state.TriggerSetupFailure, err.Error())
		c.scheduleReinit(ctx)
		return
	}

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	if err := client.Initialize(ctx); err != nil {
		c.log.Error("failed to initialize WhatsApp client", "error", err)
		c.fire(ctx, state.TriggerInitFailure, err.Error())
		c.scheduleReinit(ctx)
	}
}

func (c *Controller) scheduleReinit(ctx context.Context) {
	if c.attempts >= c.maxAttempts {
		c.log.Error("maximum initialization attempts reached, restart the service manually", "max_attempts", c.maxAttempts)
		c.fire(ctx, state.TriggerAttemptsExhausted, "")
		return
	}

	delay := c.scheduler.Delay(c.attempts)
	c.log.Info("scheduling reinitialization", "delay", delay, "next_attempt", c.attempts+1, "max_attempts", c.maxAttempts)
	seq := c.retrySeq.Add(1)
	c.scheduler.Schedule(delay, func() {
		c.post(envelope{event: initCommand{retry: seq}})
	})
}

func (c *Controller) onQRCode(ctx context.Context, evt QRCode) {
	if !c.fire(ctx, state.TriggerQRReceived, "") || c.machine.MustState() != state.StateQRReady {
		return
	}

	c.mu.Lock()
	c.qrCode = evt.Code
	c.mu.Unlock()

	c.log.Info("QR code received")
	c.hub.SendQRCode(evt.Code)
}

func (c *Controller) onReady(ctx context.Context, evt Ready) {
	if evt.AccountID != "" {
		c.mu.Lock()
		c.accountID = evt.AccountID
		c.mu.Unlock()
	}

	if !c.fire(ctx, state.TriggerReady, "") || c.machine.MustState() != state.StateConnected {
		return
	}

	c.attempts = 0
	c.log.Info("WhatsApp client is ready", "account", evt.AccountID)
}

// fire runs a trigger, logging rejected transitions. reason is recorded in
// the transition history.
func (c *Controller) fire(ctx context.Context, trigger state.Trigger, reason string) bool {
	c.lastReason = reason
	if err := c.machine.Fire(ctx, trigger); err != nil {
		c.log.Warn("state transition rejected", "trigger", trigger, "error", err)
		return false
	}
	return true
}

func (c *Controller) onTransition(ctx context.Context, from, to state.State, trigger state.Trigger) {
	c.log.Info("state transition", "from", from, "to", to, "trigger", trigger)

	c.mu.Lock()
	c.status = to
	c.isReady = to == state.StateConnected
	if to != state.StateQRReady {
		c.qrCode = ""
	}
	accountID := c.accountID
	c.mu.Unlock()

	if c.states != nil {
		if err := c.states.SaveState(ctx, to); err != nil {
			c.log.Error("failed to save state", "error", err)
		}
		if err := c.states.LogTransition(ctx, from, to, string(trigger), c.lastReason); err != nil {
			c.log.Error("failed to log transition", "error", err)
		}
	}

	// Pairing codes are reported through UpdateQrCode instead.
	if to != state.StateQRReady {
		c.hub.SendStatus(accountID, string(to))
	}
}

func (c *Controller) forwardMessage(ctx context.Context, msg *message.Message) {
	if msg == nil {
		return
	}
	if c.counter != nil {
		c.counter.RecordMessageReceived()
	}

	chat, contact, quoted, err := c.resolveContext(ctx, msg)
	if err != nil {
		c.log.Error("error processing received message", "id", msg.ID, "error", err)
		return
	}

	c.hub.SendMessage(c.builder.Build(msg, chat, contact, quoted))
}

func (c *Controller) forwardButtonResponse(ctx context.Context, msg *message.Message) {
	if msg == nil || msg.FromMe || !msg.IsButtonResponse() {
		return
	}
	c.log.Info("button response received", "id", msg.ID, "selected", msg.SelectedButtonID)

	chat, contact, quoted, err := c.resolveContext(ctx, msg)
	if err != nil {
		c.log.Error("error processing button response", "id", msg.ID, "error", err)
		return
	}

	c.hub.SendButtonResponse(c.builder.BuildButtonResponse(msg, chat, contact, quoted))
}

// resolveContext looks up the chat, then the contact, then the quoted
// message of msg.
func (c *Controller) resolveContext(ctx context.Context, msg *message.Message) (*message.Chat, *message.Contact, *message.Message, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return nil, nil, nil, errNoClient
	}

	chat, err := client.GetChat(ctx, msg.ChatID)
	if err != nil {
		return nil, nil, nil, err
	}

	contact, err := client.GetContact(ctx, msg.Sender())
	if err != nil {
		return nil, nil, nil, err
	}

	var quoted *message.Message
	if msg.HasQuotedMsg && msg.QuotedMessageID != "" {
		quoted, err = client.GetMessageByID(ctx, msg.QuotedMessageID)
		if err != nil {
			c.log.Debug("quoted message not cached", "id", msg.QuotedMessageID, "error", err)
			quoted = &message.Message{ID: msg.QuotedMessageID}
		}
	}

	return chat, contact, quoted, nil
}

func (c *Controller) destroyClient() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client != nil {
		c.log.Info("destroying existing WhatsApp client")
		client.Destroy()
	}
}

func (c *Controller) shutdown() {
	c.scheduler.CancelPending()
	c.destroyClient()
	c.log.Info("lifecycle controller stopped")
}
