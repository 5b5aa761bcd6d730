package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IskandarMaulana/NDMNS-WhatsApp-Service/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type invocation struct {
	target string
	args   []any
}

type fakeInvoker struct {
	connected atomic.Bool
	err       error

	mu    sync.Mutex
	calls []invocation
}

func (f *fakeInvoker) Connected() bool { return f.connected.Load() }

func (f *fakeInvoker) Invoke(_ context.Context, target string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, invocation{target: target, args: args})
	return f.err
}

func (f *fakeInvoker) snapshot() []invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invocation(nil), f.calls...)
}

func runForwarder(t *testing.T, inv Invoker) *Forwarder {
	t.Helper()
	f := NewForwarder(inv, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.Run(ctx)
	return f
}

func TestForwarder_PreservesOrder(t *testing.T) {
	inv := &fakeInvoker{}
	inv.connected.Store(true)
	f := runForwarder(t, inv)

	f.SendStatus("", "initializing")
	f.SendQRCode("2@abc")
	f.SendStatus("628123", "connected")

	require.Eventually(t, func() bool { return len(inv.snapshot()) == 3 }, time.Second, 5*time.Millisecond)

	calls := inv.snapshot()
	assert.Equal(t, MethodUpdateStatus, calls[0].target)
	assert.Equal(t, []any{nil, "initializing"}, calls[0].args)
	assert.Equal(t, MethodUpdateQRCode, calls[1].target)
	assert.Equal(t, []any{"2@abc"}, calls[1].args)
	assert.Equal(t, []any{"628123", "connected"}, calls[2].args)
}

func TestForwarder_DropsWhileDisconnected(t *testing.T) {
	inv := &fakeInvoker{}
	f := runForwarder(t, inv)

	f.SendQRCode("2@abc")
	f.SendMessage(message.Record{ID: "m1"})

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, inv.snapshot())
}

func TestForwarder_MessageAndButtonResponse(t *testing.T) {
	inv := &fakeInvoker{}
	inv.connected.Store(true)
	f := runForwarder(t, inv)

	rec := message.Record{ID: "m1", Body: "Halo"}
	f.SendMessage(rec)
	f.SendButtonResponse(message.ButtonResponse{
		Record:         message.Record{ID: "m2"},
		SelectedButton: "btn-0",
		MessageType:    message.MessageTypeButtonResponse,
	})

	require.Eventually(t, func() bool { return len(inv.snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	calls := inv.snapshot()
	assert.Equal(t, MethodReceiveMessage, calls[0].target)
	assert.Equal(t, rec, calls[0].args[0])
	assert.Equal(t, MethodReceiveButtonResponse, calls[1].target)
	resp, ok := calls[1].args[0].(message.ButtonResponse)
	require.True(t, ok)
	assert.Equal(t, "btn-0", resp.SelectedButton)
}

func TestForwarder_InvokeErrorDoesNotStopDelivery(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("boom")}
	inv.connected.Store(true)
	f := runForwarder(t, inv)

	f.SendQRCode("a")
	f.SendQRCode("b")

	assert.Eventually(t, func() bool { return len(inv.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
}
