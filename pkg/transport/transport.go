package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nimbusdp/slaved/pkg/log"
)

// packetType names the frame kinds exchanged over a slave connection.
type packetType string

const (
	packetHello  packetType = "hello"
	packetPause  packetType = "pause"
	packetResume packetType = "resume"
	packetAck    packetType = "ack"
	packetFault  packetType = "fault_package"
)

// packet is the wire envelope. Only the fields relevant to packetType are
// populated on either side.
type packet struct {
	Type      packetType `json:"type"`
	PID       int        `json:"pid,omitempty"`
	Timestamp float64    `json:"timestamp,omitempty"`
	Kind      string     `json:"kind,omitempty"` // "pause" | "resume", ack frames only
	Status    int        `json:"status,omitempty"`
	Package   string     `json:"package,omitempty"`
	File      string     `json:"file,omitempty"`
	Function  string     `json:"function,omitempty"`
}

// AckKind distinguishes a pause ack from a resume ack.
type AckKind string

const (
	AckPause  AckKind = "pause"
	AckResume AckKind = "resume"
)

// HelloEvent is emitted when a new connection's first frame is the
// activation handshake.
type HelloEvent struct {
	PID       int
	RPCHandle string
}

// AckEvent is emitted when a slave acknowledges a pause or resume
// request.
type AckEvent struct {
	RPCHandle string
	Kind      AckKind
	Status    int
}

// WSTransport accepts one WebSocket connection per slave process and
// implements the supervisor.Transport collaborator interface.
type WSTransport struct {
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*websocket.Conn // keyed by rpc handle

	hellos chan HelloEvent
	acks   chan AckEvent
}

// New creates a transport ready to be mounted as an http.Handler.
func New() *WSTransport {
	return &WSTransport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		conns:  make(map[string]*websocket.Conn),
		hellos: make(chan HelloEvent, 64),
		acks:   make(chan AckEvent, 64),
	}
}

// Hellos delivers one event per activation handshake received.
func (t *WSTransport) Hellos() <-chan HelloEvent { return t.hellos }

// Acks delivers one event per pause/resume acknowledgement received.
func (t *WSTransport) Acks() <-chan AckEvent { return t.acks }

// ServeHTTP upgrades the connection and assigns it a fresh RPC handle; the
// connection's first frame is expected to be the hello handshake carrying
// the slave's pid.
func (t *WSTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger := log.WithComponent("transport")
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	handle := newRPCHandle()

	t.mu.Lock()
	t.conns[handle] = conn
	t.mu.Unlock()

	go t.readLoop(handle, conn)
}

func (t *WSTransport) readLoop(handle string, conn *websocket.Conn) {
	logger := log.WithComponent("transport")
	defer func() {
		t.mu.Lock()
		delete(t.conns, handle)
		t.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		var p packet
		if err := conn.ReadJSON(&p); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Str("rpc_handle", handle).Msg("slave connection closed unexpectedly")
			}
			return
		}
		switch p.Type {
		case packetHello:
			t.hellos <- HelloEvent{PID: p.PID, RPCHandle: handle}
		case packetAck:
			kind := AckResume
			if p.Kind == string(AckPause) {
				kind = AckPause
			}
			t.acks <- AckEvent{RPCHandle: handle, Kind: kind, Status: p.Status}
		default:
			logger.Warn().Str("rpc_handle", handle).Str("type", string(p.Type)).Msg("unexpected frame from slave")
		}
	}
}

// SendPause implements supervisor.Transport: fire-and-forget, the ack
// arrives later on the Acks channel.
func (t *WSTransport) SendPause(ctx context.Context, rpcHandle string, at time.Time) error {
	return t.send(rpcHandle, packet{Type: packetPause, Timestamp: float64(at.UnixNano()) / 1e9})
}

// SendResume is the symmetric counterpart of SendPause.
func (t *WSTransport) SendResume(ctx context.Context, rpcHandle string, at time.Time) error {
	return t.send(rpcHandle, packet{Type: packetResume, Timestamp: float64(at.UnixNano()) / 1e9})
}

// BroadcastFault fans fault_package out to every connected slave, no-ack.
func (t *WSTransport) BroadcastFault(ctx context.Context, pkg, file, function string) error {
	p := packet{Type: packetFault, Package: pkg, File: file, Function: function}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for handle, conn := range t.conns {
		if err := conn.WriteJSON(p); err != nil {
			logger := log.WithComponent("transport")
			logger.Warn().Err(err).Str("rpc_handle", handle).Msg("fault broadcast write failed")
		}
	}
	return nil
}

func (t *WSTransport) send(rpcHandle string, p packet) error {
	t.mu.RLock()
	conn, ok := t.conns[rpcHandle]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("transport: no connection for rpc handle %q", rpcHandle)
	}
	return conn.WriteJSON(p)
}

// newRPCHandle assigns each accepted connection a globally unique handle;
// collisions would let one slave's ack be misrouted to another's record.
func newRPCHandle() string {
	return uuid.NewString()
}
