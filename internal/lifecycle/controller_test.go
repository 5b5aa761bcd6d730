package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"

	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/health"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/message"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/state"
	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/store"
)

// fakeClient implements Client for testing.
type fakeClient struct {
	mu        sync.Mutex
	sink      Sink
	onInit    []Event
	initErr   error
	destroyed bool
	chatErr   error
	chats     map[string]*message.Chat
	contacts  map[string]*message.Contact
	messages  map[string]*message.Message
}

func (f *fakeClient) Initialize(_ context.Context) error {
	for _, evt := range f.onInit {
		f.sink(evt)
	}
	return f.initErr
}

func (f *fakeClient) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
}

func (f *fakeClient) isDestroyed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

func (f *fakeClient) emit(evt Event) {
	f.sink(evt)
}

func (f *fakeClient) SendMessage(_ context.Context, _ string, _ *waE2E.Message) (*message.Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeClient) Upload(_ context.Context, _ []byte, _ whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	return whatsmeow.UploadResponse{}, nil
}

func (f *fakeClient) GetMessageByID(_ context.Context, id string) (*message.Message, error) {
	if msg, ok := f.messages[id]; ok {
		return msg, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeClient) GetChat(_ context.Context, chatID string) (*message.Chat, error) {
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	if chat, ok := f.chats[chatID]; ok {
		return chat, nil
	}
	return &message.Chat{ID: chatID}, nil
}

func (f *fakeClient) GetContact(_ context.Context, id string) (*message.Contact, error) {
	if contact, ok := f.contacts[id]; ok {
		return contact, nil
	}
	return &message.Contact{ID: id}, nil
}

func (f *fakeClient) GetChats(_ context.Context) ([]message.Chat, error) {
	return nil, nil
}

type fakeFactory struct {
	err     error
	setup   func(*fakeClient)
	calls   int
	clients []*fakeClient
}

func (f *fakeFactory) New(sink Sink) (Client, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeClient{sink: sink}
	if f.setup != nil {
		f.setup(c)
	}
	f.clients = append(f.clients, c)
	return c, nil
}

func (f *fakeFactory) last() *fakeClient {
	return f.clients[len(f.clients)-1]
}

type statusUpdate struct {
	accountID string
	status    string
}

type fakeHub struct {
	mu       sync.Mutex
	qrCodes  []string
	statuses []statusUpdate
	messages []message.Record
	buttons  []message.ButtonResponse
}

func (h *fakeHub) SendQRCode(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.qrCodes = append(h.qrCodes, code)
}

func (h *fakeHub) SendStatus(accountID, status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, statusUpdate{accountID: accountID, status: status})
}

func (h *fakeHub) SendMessage(rec message.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, rec)
}

func (h *fakeHub) SendButtonResponse(resp message.ButtonResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buttons = append(h.buttons, resp)
}

func (h *fakeHub) statusNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, len(h.statuses))
	for i, s := range h.statuses {
		names[i] = s.status
	}
	return names
}

// fakeScheduler records scheduled delays and fires callbacks on demand.
type fakeScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending func()
}

func (s *fakeScheduler) Schedule(delay time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, delay)
	s.pending = fn
	return s.CancelPending
}

func (s *fakeScheduler) CancelPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

func (s *fakeScheduler) Delay(attempt int) time.Duration {
	return health.ReinitDelay(5*time.Second, 60*time.Second, attempt)
}

func (s *fakeScheduler) hasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// fire runs the pending callback, if any.
func (s *fakeScheduler) fire() bool {
	s.mu.Lock()
	fn := s.pending
	s.pending = nil
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

type counter struct {
	n int
}

func (c *counter) RecordMessageReceived() { c.n++ }

type harness struct {
	ctrl    *Controller
	factory *fakeFactory
	hub     *fakeHub
	sched   *fakeScheduler
}

func newHarness(t *testing.T, factory *fakeFactory, opts Options) *harness {
	t.Helper()
	h := &harness{factory: factory, hub: &fakeHub{}, sched: &fakeScheduler{}}
	h.ctrl = NewController(factory.New, h.hub, h.sched, opts)
	return h
}

// start runs the first initialization and everything it queued.
func (h *harness) start() {
	h.ctrl.handle(context.Background(), envelope{event: initCommand{}})
	h.drain()
}

// drain handles every queued event on the calling goroutine.
func (h *harness) drain() {
	for {
		env, ok := h.ctrl.queue.pop()
		if !ok {
			return
		}
		h.ctrl.handle(context.Background(), env)
	}
}

func (h *harness) emit(evt Event) {
	h.factory.last().emit(evt)
	h.drain()
}

func (h *harness) state() state.State {
	return state.State(h.ctrl.Status().Status)
}

func readyHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, &fakeFactory{}, Options{})
	h.start()
	h.emit(Authenticated{})
	h.emit(Ready{AccountID: "628123456789"})
	require.Equal(t, state.StateConnected, h.state())
	return h
}

func TestController_QRPairingFlow(t *testing.T) {
	h := newHarness(t, &fakeFactory{setup: func(c *fakeClient) {
		c.onInit = []Event{QRCode{Code: "2@first"}}
	}}, Options{})

	h.start()

	status := h.ctrl.Status()
	assert.False(t, status.IsReady)
	assert.Equal(t, "qr_ready", status.Status)
	require.NotNil(t, status.QRCode)
	assert.Equal(t, "2@first", *status.QRCode)

	h.emit(QRCode{Code: "2@second"})
	assert.Equal(t, "2@second", *h.ctrl.Status().QRCode)
	assert.Equal(t, []string{"2@first", "2@second"}, h.hub.qrCodes)

	h.emit(Authenticated{})
	h.emit(Ready{AccountID: "628123456789"})

	status = h.ctrl.Status()
	assert.True(t, status.IsReady)
	assert.Equal(t, "connected", status.Status)
	assert.Nil(t, status.QRCode)
	assert.Equal(t, "628123456789", h.ctrl.AccountID())

	assert.Equal(t, []string{"initializing", "authenticated", "connected"}, h.hub.statusNames())
	assert.Equal(t, statusUpdate{accountID: "628123456789", status: "connected"}, h.hub.statuses[2])

	client, ok := h.ctrl.ReadyClient()
	require.True(t, ok)
	assert.Same(t, h.factory.last(), client)
}

func TestController_StatusIsIdempotent(t *testing.T) {
	h := newHarness(t, &fakeFactory{setup: func(c *fakeClient) {
		c.onInit = []Event{QRCode{Code: "2@code"}}
	}}, Options{})
	h.start()

	first := h.ctrl.Status()
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, h.ctrl.Status())
	}
}

func TestController_TransientErrorSchedulesReinit(t *testing.T) {
	h := readyHarness(t)

	h.emit(ClientError{Message: "Protocol error (Runtime.callFunctionOn): Target closed."})

	assert.Equal(t, state.StateError, h.state())
	assert.False(t, h.ctrl.Status().IsReady)
	assert.True(t, h.sched.hasPending())

	_, ok := h.ctrl.ReadyClient()
	assert.False(t, ok)
}

func TestController_NonTransientErrorDoesNotReinit(t *testing.T) {
	h := readyHarness(t)

	h.emit(ClientError{Message: "some other issue"})

	assert.Equal(t, state.StateError, h.state())
	assert.False(t, h.sched.hasPending())
	assert.Empty(t, h.sched.delays)
}

func TestController_CustomClassifier(t *testing.T) {
	h := newHarness(t, &fakeFactory{}, Options{
		Classifier: func(msg string) bool { return msg == "flaky" },
	})
	h.start()

	h.emit(ClientError{Message: "Target closed"})
	assert.False(t, h.sched.hasPending())

	h.emit(ClientError{Message: "flaky"})
	assert.True(t, h.sched.hasPending())
}

func TestController_DisconnectDoesNotReinit(t *testing.T) {
	h := readyHarness(t)

	h.emit(Disconnected{Reason: "NAVIGATION"})

	status := h.ctrl.Status()
	assert.Equal(t, "disconnected", status.Status)
	assert.False(t, status.IsReady)
	assert.False(t, h.sched.hasPending())
	assert.Equal(t, "disconnected", h.hub.statusNames()[len(h.hub.statuses)-1])
}

func TestController_AuthFailureReinits(t *testing.T) {
	h := newHarness(t, &fakeFactory{}, Options{})
	h.start()

	h.emit(AuthFailure{Reason: "logged out"})

	assert.Equal(t, state.StateAuthFailed, h.state())
	require.Len(t, h.sched.delays, 1)
	assert.Equal(t, 5*time.Second, h.sched.delays[0])

	require.True(t, h.sched.fire())
	h.drain()

	assert.Equal(t, 2, h.factory.calls)
	assert.True(t, h.factory.clients[0].isDestroyed())
	assert.Equal(t, state.StateInitializing, h.state())
}

func TestController_InitFailureReinits(t *testing.T) {
	h := newHarness(t, &fakeFactory{setup: func(c *fakeClient) {
		c.initErr = errors.New("connect failed")
	}}, Options{})
	h.start()

	assert.Equal(t, state.StateInitFailed, h.state())
	assert.True(t, h.sched.hasPending())
}

func TestController_FiveFailuresReachMaxAttempts(t *testing.T) {
	h := newHarness(t, &fakeFactory{err: errors.New("browser launch failed")}, Options{})
	h.start()
	assert.Equal(t, state.StateSetupFailed, h.state())

	for h.sched.fire() {
		h.drain()
	}

	assert.Equal(t, 5, h.factory.calls)
	assert.Equal(t, state.StateMaxAttemptsReached, h.state())
	assert.Equal(t, []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
	}, h.sched.delays)
	assert.False(t, h.sched.hasPending())

	names := h.hub.statusNames()
	assert.Equal(t, "max_attempts_reached", names[len(names)-1])
}

func TestController_RestartLeavesMaxAttempts(t *testing.T) {
	factory := &fakeFactory{err: errors.New("browser launch failed")}
	h := newHarness(t, factory, Options{MaxAttempts: 2})
	h.start()
	for h.sched.fire() {
		h.drain()
	}
	require.Equal(t, state.StateMaxAttemptsReached, h.state())

	// Events are ignored in the terminal state.
	h.ctrl.handle(context.Background(), envelope{event: AuthFailure{Reason: "x"}})
	assert.Equal(t, state.StateMaxAttemptsReached, h.state())

	factory.err = nil
	factory.setup = func(c *fakeClient) { c.onInit = []Event{QRCode{Code: "2@again"}} }
	h.ctrl.Restart()
	h.drain()

	assert.Equal(t, 3, factory.calls)
	assert.Equal(t, state.StateQRReady, h.state())
	assert.Equal(t, 1, h.ctrl.attempts)
}

func TestController_ReadyResetsAttempts(t *testing.T) {
	h := newHarness(t, &fakeFactory{}, Options{})
	h.start()
	h.emit(AuthFailure{Reason: "bad session"})
	require.True(t, h.sched.fire())
	h.drain()
	require.Equal(t, 2, h.ctrl.attempts)

	h.emit(Authenticated{})
	h.emit(Ready{AccountID: "628111"})

	assert.Equal(t, 0, h.ctrl.attempts)
	assert.True(t, h.ctrl.Status().IsReady)
}

func TestController_DropsEventsFromDiscardedClient(t *testing.T) {
	h := newHarness(t, &fakeFactory{}, Options{})
	h.start()
	stale := h.factory.last()

	h.ctrl.Restart()
	h.drain()
	require.Equal(t, 2, h.factory.calls)
	assert.True(t, stale.isDestroyed())

	stale.emit(QRCode{Code: "2@stale"})
	stale.emit(Authenticated{})
	h.drain()

	assert.Equal(t, state.StateInitializing, h.state())
	assert.Empty(t, h.hub.qrCodes)
}

func TestController_ForwardsInboundMessage(t *testing.T) {
	cnt := &counter{}
	h := newHarness(t, &fakeFactory{setup: func(c *fakeClient) {
		c.chats = map[string]*message.Chat{
			"120363@g.us": {ID: "120363@g.us", Name: "NOC Jakarta", IsGroup: true},
		}
		c.contacts = map[string]*message.Contact{
			"628555@s.whatsapp.net": {ID: "628555@s.whatsapp.net", PushName: "Budi"},
		}
		c.messages = map[string]*message.Message{
			"QUOTED1": {ID: "QUOTED1"},
		}
	}}, Options{Location: time.UTC, Counter: cnt})
	h.start()

	h.emit(MessageReceived{Message: &message.Message{
		ID:              "MSG1",
		ChatID:          "120363@g.us",
		From:            "120363@g.us",
		Author:          "628555@s.whatsapp.net",
		To:              "628123@s.whatsapp.net",
		Body:            "Server down",
		Timestamp:       1700000000,
		HasQuotedMsg:    true,
		QuotedMessageID: "QUOTED1",
	}})

	require.Len(t, h.hub.messages, 1)
	rec := h.hub.messages[0]
	assert.Equal(t, "MSG1", rec.ID)
	assert.Equal(t, "Budi", rec.FromName)
	assert.True(t, rec.IsGroup)
	require.NotNil(t, rec.GroupName)
	assert.Equal(t, "NOC Jakarta", *rec.GroupName)
	assert.Equal(t, "2023-11-14T22:13:20", rec.Timestamp)
	assert.True(t, rec.IsReply)
	require.NotNil(t, rec.RepliedToMessageID)
	assert.Equal(t, "QUOTED1", *rec.RepliedToMessageID)
	assert.Equal(t, 1, cnt.n)
}

func TestController_QuotedMessageFallsBackToContextID(t *testing.T) {
	h := newHarness(t, &fakeFactory{}, Options{})
	h.start()

	h.emit(MessageReceived{Message: &message.Message{
		ID:              "MSG2",
		ChatID:          "628555@s.whatsapp.net",
		From:            "628555@s.whatsapp.net",
		Timestamp:       1700000000000,
		HasQuotedMsg:    true,
		QuotedMessageID: "UNCACHED",
	}})

	require.Len(t, h.hub.messages, 1)
	require.NotNil(t, h.hub.messages[0].RepliedToMessageID)
	assert.Equal(t, "UNCACHED", *h.hub.messages[0].RepliedToMessageID)
	assert.False(t, h.hub.messages[0].IsGroup)
	assert.Nil(t, h.hub.messages[0].GroupName)
}

func TestController_MessageFailureDoesNotStopLoop(t *testing.T) {
	h := newHarness(t, &fakeFactory{}, Options{})
	h.start()

	h.factory.last().chatErr = errors.New("lookup failed")
	h.emit(MessageReceived{Message: &message.Message{ID: "A", ChatID: "x@s.whatsapp.net"}})
	assert.Empty(t, h.hub.messages)

	h.factory.last().chatErr = nil
	h.emit(MessageReceived{Message: &message.Message{ID: "B", ChatID: "x@s.whatsapp.net"}})
	require.Len(t, h.hub.messages, 1)
	assert.Equal(t, "B", h.hub.messages[0].ID)
}

func TestController_ButtonResponses(t *testing.T) {
	h := readyHarness(t)

	h.emit(ButtonResponseReceived{Message: &message.Message{
		ID: "own", ChatID: "628555@s.whatsapp.net", Type: message.TypeButtonsResponse, FromMe: true,
	}})
	h.emit(ButtonResponseReceived{Message: &message.Message{
		ID: "plain", ChatID: "628555@s.whatsapp.net", Type: message.TypeChat,
	}})
	assert.Empty(t, h.hub.buttons)

	h.emit(ButtonResponseReceived{Message: &message.Message{
		ID:               "answer",
		ChatID:           "628555@s.whatsapp.net",
		From:             "628555@s.whatsapp.net",
		Body:             "Ya",
		Type:             message.TypeButtonsResponse,
		SelectedButtonID: "btn-0",
		Timestamp:        1700000000,
	}})

	require.Len(t, h.hub.buttons, 1)
	resp := h.hub.buttons[0]
	assert.Equal(t, "answer", resp.ID)
	assert.Equal(t, "btn-0", resp.SelectedButton)
	assert.Equal(t, message.MessageTypeButtonResponse, resp.MessageType)
}

func TestController_PersistsTransitions(t *testing.T) {
	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := newHarness(t, &fakeFactory{}, Options{States: db.State})
	h.start()
	h.emit(ClientError{Message: "Execution context was destroyed"})

	ctx := context.Background()
	current, err := db.State.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.StateError, current)

	history, err := db.State.GetTransitionHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, state.StateError, history[0].ToState)
	assert.Equal(t, "client_error", history[0].Trigger)
	assert.Equal(t, "Execution context was destroyed", history[0].Error)
}

func TestController_RunDestroysClientOnShutdown(t *testing.T) {
	factory := &fakeFactory{}
	h := newHarness(t, factory, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.ctrl.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return h.ctrl.Status().Status == string(state.StateInitializing) && h.hub.statusNames() != nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	require.Len(t, factory.clients, 1)
	assert.True(t, factory.clients[0].isDestroyed())
}

func TestSubstringClassifier(t *testing.T) {
	classify := SubstringClassifier([]string{"navigation", "Execution context was destroyed", "Target closed", "Protocol error", ""})

	tests := []struct {
		msg  string
		want bool
	}{
		{"Navigation failed because browser has disconnected", false},
		{"net::ERR_ABORTED during navigation", true},
		{"Execution context was destroyed, most likely because of a navigation.", true},
		{"Target closed", true},
		{"Protocol error: stream error 515", true},
		{"some other issue", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.msg), tt.msg)
	}
}

func floodMessages(c *fakeClient, n int) {
	for i := 0; i < n; i++ {
		c.emit(MessageReceived{Message: &message.Message{
			ID:        fmt.Sprintf("MSG%d", i),
			ChatID:    "628555@s.whatsapp.net",
			From:      "628555@s.whatsapp.net",
			Body:      "alert",
			Timestamp: 1700000000,
		}})
	}
}

func TestController_DisconnectSurvivesMessageFlood(t *testing.T) {
	h := readyHarness(t)
	client := h.factory.last()

	floodMessages(client, maxQueuedMessages+10)
	client.emit(Disconnected{Reason: "connection lost"})
	assert.Equal(t, maxQueuedMessages+1, h.ctrl.queue.len())

	h.drain()

	assert.Len(t, h.hub.messages, maxQueuedMessages)
	status := h.ctrl.Status()
	assert.Equal(t, "disconnected", status.Status)
	assert.False(t, status.IsReady)
	_, ok := h.ctrl.ReadyClient()
	assert.False(t, ok)
}

func TestController_RetryQueuedWhileMessagesBacklogged(t *testing.T) {
	h := newHarness(t, &fakeFactory{}, Options{})
	h.start()
	h.emit(AuthFailure{Reason: "logged out"})
	require.Equal(t, state.StateAuthFailed, h.state())

	floodMessages(h.factory.last(), maxQueuedMessages)
	require.True(t, h.sched.fire())
	h.drain()

	assert.Equal(t, 2, h.factory.calls)
	assert.Equal(t, state.StateInitializing, h.state())
}

func TestController_RestartSupersedesFiredRetry(t *testing.T) {
	h := newHarness(t, &fakeFactory{}, Options{})
	h.start()
	h.emit(AuthFailure{Reason: "logged out"})

	// The timer has already posted its retry when the restart arrives.
	require.True(t, h.sched.fire())
	h.ctrl.Restart()
	h.drain()

	assert.Equal(t, 2, h.factory.calls)
	assert.Equal(t, 1, h.ctrl.attempts)
	assert.False(t, h.factory.clients[1].isDestroyed())
}

func TestEventQueue_KeepsStateEventsInOrder(t *testing.T) {
	q := newEventQueue(1)

	assert.True(t, q.push(envelope{event: MessageReceived{}}))
	assert.False(t, q.push(envelope{event: ButtonResponseReceived{}}))
	assert.True(t, q.push(envelope{event: Disconnected{}}))
	assert.True(t, q.push(envelope{event: initCommand{retry: 1}}))

	var names []string
	for {
		env, ok := q.pop()
		if !ok {
			break
		}
		names = append(names, env.event.eventName())
	}
	assert.Equal(t, []string{"message", "disconnected", "initialize"}, names)

	assert.True(t, q.push(envelope{event: MessageReceived{}}))
}
