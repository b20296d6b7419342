package wstp

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auranym/dicechat/api/ws"
	"github.com/auranym/dicechat/internal/relay"
	"github.com/auranym/dicechat/internal/transport"
	"github.com/auranym/dicechat/pkg/logger"
)

// startRelay runs an in-process relay server and returns its ws:// URL.
func startRelay(t *testing.T) string {
	t.Helper()
	hub := relay.NewHub(relay.NewMemoryRegistry(), logger.Nop())
	srv := httptest.NewServer(ws.SetupRelayRoutes(ws.WSConfig{
		Hub:    hub,
		Logger: logger.Nop(),
	}))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestListenClaimsIdentifier(t *testing.T) {
	url := startRelay(t)
	ctx := context.Background()

	a := New(url, logger.Nop())
	l, err := a.Listen(ctx, "room-x")
	require.NoError(t, err)
	defer l.Close()

	b := New(url, logger.Nop())
	_, err = b.Listen(ctx, "room-x")
	assert.ErrorIs(t, err, transport.ErrIDTaken)
}

func TestDialUnknownIdentifier(t *testing.T) {
	url := startRelay(t)
	tp := New(url, logger.Nop())

	_, err := tp.Dial(context.Background(), "nowhere")
	assert.ErrorIs(t, err, transport.ErrNotFound)
}

func TestDialUnreachableRelay(t *testing.T) {
	tp := New("ws://127.0.0.1:1/ws", logger.Nop())
	_, err := tp.Dial(context.Background(), "room-x")
	assert.ErrorIs(t, err, transport.ErrNetwork)
}

func TestSendRecvThroughRelay(t *testing.T) {
	url := startRelay(t)
	ctx := context.Background()

	host := New(url, logger.Nop())
	l, err := host.Listen(ctx, "room-x")
	require.NoError(t, err)
	defer l.Close()

	client := New(url, logger.Nop())
	dialed, err := client.Dial(ctx, "room-x")
	require.NoError(t, err)

	var accepted transport.Channel
	select {
	case accepted = <-l.Accept():
	case <-time.After(2 * time.Second):
		t.Fatal("no accepted channel")
	}

	require.NoError(t, dialed.Send([]byte(`{"type":1}`)))
	select {
	case payload := <-accepted.Recv():
		assert.Equal(t, `{"type":1}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("payload not delivered")
	}

	require.NoError(t, accepted.Send([]byte(`{"type":3,"content":"hi"}`)))
	select {
	case payload := <-dialed.Recv():
		assert.Equal(t, `{"type":3,"content":"hi"}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("reply not delivered")
	}
}

func TestCloseReachesPeer(t *testing.T) {
	url := startRelay(t)
	ctx := context.Background()

	host := New(url, logger.Nop())
	l, err := host.Listen(ctx, "room-x")
	require.NoError(t, err)
	defer l.Close()

	client := New(url, logger.Nop())
	dialed, err := client.Dial(ctx, "room-x")
	require.NoError(t, err)

	accepted := <-l.Accept()
	require.NoError(t, dialed.Close())

	select {
	case <-accepted.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("peer Done not closed")
	}
	assert.False(t, accepted.IsOpen())
}

// Closing the listener releases the identifier at the relay so it can
// be bound again, matching the room-code reuse behavior.
func TestListenerCloseReleasesIdentifier(t *testing.T) {
	url := startRelay(t)
	ctx := context.Background()

	a := New(url, logger.Nop())
	l, err := a.Listen(ctx, "room-x")
	require.NoError(t, err)
	require.NoError(t, l.Close())

	// The unbind races the next bind; retry briefly.
	b := New(url, logger.Nop())
	deadline := time.Now().Add(2 * time.Second)
	for {
		l2, err := b.Listen(ctx, "room-x")
		if err == nil {
			l2.Close()
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("identifier never released: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
