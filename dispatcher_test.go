package loopwire

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptedClient is a minimal Client whose Handle/Finalize/Err are driven by
// test-supplied closures, letting each dispatcher test exercise exactly one
// behavior of the reactor without a full Task/FiberReader stack.
type scriptedClient struct {
	fd        int
	events    Events
	handle    func(Events) bool
	finalized int
	errCalls  []*Error
	key       Key
}

func newScriptedClient(fd int) *scriptedClient {
	return &scriptedClient{fd: fd, events: Readable, key: Key{FD: fd, Kind: KindSocket}}
}

func (c *scriptedClient) Descriptor() int { return c.fd }
func (c *scriptedClient) Events() Events  { return c.events }
func (c *scriptedClient) Key() Key        { return c.key }
func (c *scriptedClient) Handle(ev Events) bool {
	if c.handle != nil {
		return c.handle(ev)
	}
	return false
}
func (c *scriptedClient) Finalize()                     { c.finalized++ }
func (c *scriptedClient) Err(failure *Error, ev Events) { c.errCalls = append(c.errCalls, failure) }

func TestDispatcherFinalizesExactlyOnceOnNormalCompletion(t *testing.T) {
	a, b := socketpair(t)

	disp, err := NewDispatcher()
	require.NoError(t, err)
	defer disp.Close()

	client := newScriptedClient(a)
	client.handle = func(ev Events) bool { return false } // unregister on first readiness

	require.NoError(t, disp.Register(client))
	_, werr := syscall.Write(b, []byte("x"))
	require.NoError(t, werr)

	require.NoError(t, disp.EventLoop())
	require.Equal(t, 1, client.finalized)
}

func TestDispatcherRoutesPanicToErrThenFinalizesOnce(t *testing.T) {
	a, b := socketpair(t)

	disp, err := NewDispatcher()
	require.NoError(t, err)
	defer disp.Close()

	boom := NewError("handler", KindProtocol, "boom")
	client := newScriptedClient(a)
	client.handle = func(ev Events) bool { panic(boom) }

	require.NoError(t, disp.Register(client))
	_, werr := syscall.Write(b, []byte("x"))
	require.NoError(t, werr)

	require.NoError(t, disp.EventLoop())
	require.Len(t, client.errCalls, 1)
	require.Same(t, boom, client.errCalls[0])
	require.Equal(t, 1, client.finalized)
}

func TestDispatcherEventLoopReturnsWhenLiveSetEmpty(t *testing.T) {
	disp, err := NewDispatcher()
	require.NoError(t, err)
	defer disp.Close()

	require.NoError(t, disp.EventLoop())
}

func TestDispatcherEventLoopReturnsOnShutdown(t *testing.T) {
	a, _ := socketpair(t)

	disp, err := NewDispatcher(WithPollWaitCap(20_000)) // wake periodically to notice Shutdown with no events pending
	require.NoError(t, err)
	defer disp.Close()

	client := newScriptedClient(a)
	client.handle = func(ev Events) bool { return true } // never asks to unregister itself
	require.NoError(t, disp.Register(client))

	done := make(chan error, 1)
	go func() { done <- disp.EventLoop() }()

	disp.Shutdown()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("EventLoop did not return after Shutdown")
	}
}

func TestDispatcherUnregisterIsIdempotentForDoubleFinalizeSafety(t *testing.T) {
	a, _ := socketpair(t)

	disp, err := NewDispatcher()
	require.NoError(t, err)
	defer disp.Close()

	client := newScriptedClient(a)
	require.NoError(t, disp.Register(client))

	disp.Unregister(client)
	disp.Unregister(client)
	require.Equal(t, 1, client.finalized)
}
