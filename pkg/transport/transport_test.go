package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/slave"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestHelloHandshakeDeliversEvent(t *testing.T) {
	tr := New()
	srv := httptest.NewServer(tr)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(packet{Type: packetHello, PID: 100}))

	select {
	case ev := <-tr.Hellos():
		assert.Equal(t, 100, ev.PID)
		assert.NotEmpty(t, ev.RPCHandle)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hello event")
	}
}

func TestSendPauseThenAckRoundTrips(t *testing.T) {
	tr := New()
	srv := httptest.NewServer(tr)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(packet{Type: packetHello, PID: 200}))
	var handle string
	select {
	case ev := <-tr.Hellos():
		handle = ev.RPCHandle
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hello")
	}

	require.NoError(t, tr.SendPause(context.Background(), handle, time.Now()))

	var received packet
	require.NoError(t, conn.ReadJSON(&received))
	assert.Equal(t, packetPause, received.Type)

	require.NoError(t, conn.WriteJSON(packet{Type: packetAck, Kind: string(AckPause), Status: 0}))

	select {
	case ack := <-tr.Acks():
		assert.Equal(t, handle, ack.RPCHandle)
		assert.Equal(t, AckPause, ack.Kind)
		assert.Equal(t, 0, ack.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ack")
	}
}

func TestBroadcastFaultReachesAllConnections(t *testing.T) {
	tr := New()
	srv := httptest.NewServer(tr)
	defer srv.Close()

	a := dial(t, srv)
	defer a.Close()
	b := dial(t, srv)
	defer b.Close()

	// give the server goroutine time to register both connections
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, tr.BroadcastFault(context.Background(), "widgets", "widget.c", "render"))

	for _, conn := range []*websocket.Conn{a, b} {
		var p packet
		require.NoError(t, conn.ReadJSON(&p))
		assert.Equal(t, packetFault, p.Type)
		assert.Equal(t, "widgets", p.Package)
	}
}
