package nodes

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/agentgate/internal/bus"
	"github.com/nextlevelbuilder/agentgate/internal/errdefs"
	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

const (
	// DefaultActionTimeout bounds one companion action round-trip.
	DefaultActionTimeout = 30 * time.Second
	// HeartbeatInterval is how often companions must send heartbeats and
	// how often the monitor sweeps.
	HeartbeatInterval = 30 * time.Second
	// HeartbeatTimeout is the silence threshold after which a companion is
	// declared dead.
	HeartbeatTimeout = 90 * time.Second

	// registerDeadline bounds how long a fresh socket may sit silent before
	// sending its register frame.
	registerDeadline = 10 * time.Second

	// Inbound frame flood guard per socket: sustained rate and burst.
	frameRateLimit = 50
	frameRateBurst = 100
)

// ConnectionConfig tunes the connection manager; zero values take defaults.
type ConnectionConfig struct {
	ActionTimeout    time.Duration
	HeartbeatTimeout time.Duration
	MonitorInterval  time.Duration
}

// ConnectionManager owns the live companion sockets and the outstanding
// action requests. Pending actions are correlated solely by requestId; no
// ordering is guaranteed between concurrent actions to the same node.
type ConnectionManager struct {
	cfg      ConnectionConfig
	registry *Registry
	pairing  *PairingManager
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[string]*nodeConn
	pending map[string]*pendingAction

	now func() time.Time
}

type nodeConn struct {
	nodeID        string
	name          string
	ws            *websocket.Conn
	writeMu       sync.Mutex
	lastHeartbeat time.Time // guarded by manager mu
	limiter       *rate.Limiter
}

type actionOutcome struct {
	result json.RawMessage
	err    error
}

type pendingAction struct {
	nodeID string
	ch     chan actionOutcome // buffered; delivery never blocks the read loop
}

// NewConnectionManager creates a manager over the given registry and
// pairing state.
func NewConnectionManager(cfg ConnectionConfig, registry *Registry, pairing *PairingManager) *ConnectionManager {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultActionTimeout
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = HeartbeatTimeout
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = HeartbeatInterval
	}
	return &ConnectionManager{
		cfg:      cfg,
		registry: registry,
		pairing:  pairing,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		conns:    make(map[string]*nodeConn),
		pending:  make(map[string]*pendingAction),
		now:      time.Now,
	}
}

// Start runs the heartbeat monitor until ctx is cancelled.
func (m *ConnectionManager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweepHeartbeats()
			}
		}
	}()
}

// HandleWS upgrades the request and runs the connection until it dies. The
// first frame must be a valid, authenticated register; anything else gets a
// failure ack and the socket is closed.
func (m *ConnectionManager) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("node websocket upgrade failed", "error", err)
		return
	}

	conn, ok := m.register(ws)
	if !ok {
		ws.Close()
		return
	}
	m.readLoop(conn)
}

// register performs the registration handshake on a fresh socket.
func (m *ConnectionManager) register(ws *websocket.Conn) (*nodeConn, bool) {
	ws.SetReadDeadline(m.now().Add(registerDeadline))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, false
	}
	ws.SetReadDeadline(time.Time{})

	frame, err := protocol.DecodeFrame(data)
	if err != nil || frame.Type != protocol.FrameRegister {
		m.writeTo(ws, nil, protocol.NewFrame(protocol.FrameRegisterAck, "", protocol.RegisterAckPayload{
			Success: false,
			Error:   "expected a valid register frame",
		}, m.now().UnixMilli()))
		return nil, false
	}

	var reg protocol.RegisterPayload
	if err := json.Unmarshal(frame.Payload, &reg); err != nil {
		return nil, false
	}

	// Pairing codes are consumed on use; shared secrets survive reconnects.
	secret := ""
	switch {
	case m.pairing.Validate(reg.AuthToken):
		secret = uuid.NewString()
	case m.pairing.ValidateSharedSecret(reg.AuthToken):
		secret = reg.AuthToken
	default:
		slog.Warn("node registration rejected", "name", reg.Name)
		m.writeTo(ws, nil, protocol.NewFrame(protocol.FrameRegisterAck, "", protocol.RegisterAckPayload{
			Success: false,
			Error:   "invalid pairing code or shared secret",
		}, m.now().UnixMilli()))
		return nil, false
	}

	now := m.now()
	nodeID := fmt.Sprintf("companion-%d-%s", now.UnixMilli(), randBase36(9))

	conn := &nodeConn{
		nodeID:        nodeID,
		name:          reg.Name,
		ws:            ws,
		lastHeartbeat: now,
		limiter:       rate.NewLimiter(rate.Limit(frameRateLimit), frameRateBurst),
	}

	m.mu.Lock()
	m.conns[nodeID] = conn
	m.mu.Unlock()

	m.registry.Register(NodeInfo{
		ID:           nodeID,
		Name:         reg.Name,
		Type:         NodeCompanion,
		Status:       StatusOnline,
		Capabilities: reg.Capabilities,
		Platform:     reg.Platform,
		ConnectedAt:  now,
		LastSeen:     now,
	})
	m.pairing.Approve(nodeID, reg.Name, secret)

	m.write(conn, protocol.NewFrame(protocol.FrameRegisterAck, nodeID, protocol.RegisterAckPayload{
		Success:      true,
		Message:      "registered",
		SharedSecret: secret,
	}, now.UnixMilli()))

	slog.Info("companion node registered", "node", nodeID, "name", reg.Name, "capabilities", len(reg.Capabilities))
	return conn, true
}

func (m *ConnectionManager) readLoop(conn *nodeConn) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			m.removeNode(conn.nodeID, "socket closed")
			return
		}
		if !conn.limiter.Allow() {
			slog.Warn("node frame rate exceeded, dropping", "node", conn.nodeID)
			continue
		}

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			// Invalid frames are reported to the peer; the socket stays open.
			m.write(conn, protocol.NewFrame(protocol.FrameError, conn.nodeID, protocol.ErrorPayload{
				Code:    protocol.InvalidMessageCode,
				Message: err.Error(),
			}, m.now().UnixMilli()))
			continue
		}

		switch frame.Type {
		case protocol.FrameHeartbeat:
			m.mu.Lock()
			conn.lastHeartbeat = m.now()
			m.mu.Unlock()
			m.registry.UpdateStatus(conn.nodeID, StatusOnline)
			m.write(conn, protocol.NewFrame(protocol.FrameHeartbeatAck, conn.nodeID, nil, m.now().UnixMilli()))

		case protocol.FrameActionResponse:
			var resp protocol.ActionResponsePayload
			if err := json.Unmarshal(frame.Payload, &resp); err != nil {
				continue
			}
			m.resolveAction(resp)

		case protocol.FrameCapabilityUpdate:
			var upd protocol.CapabilityUpdatePayload
			if err := json.Unmarshal(frame.Payload, &upd); err != nil {
				continue
			}
			m.registry.UpdateCapabilities(conn.nodeID, upd.Capabilities)

		case protocol.FrameDisconnect:
			var d protocol.DisconnectPayload
			json.Unmarshal(frame.Payload, &d)
			slog.Info("companion disconnecting", "node", conn.nodeID, "reason", d.Reason)
			m.removeNode(conn.nodeID, "peer disconnect")
			return

		case protocol.FrameError:
			var ep protocol.ErrorPayload
			json.Unmarshal(frame.Payload, &ep)
			slog.Warn("companion reported error", "node", conn.nodeID, "code", ep.Code, "message", ep.Message)

		default:
			slog.Debug("ignoring unknown frame type", "node", conn.nodeID, "type", frame.Type)
		}
	}
}

// SendAction asks a companion to perform an action and awaits the
// correlated response. timeout <= 0 uses the default 30s.
func (m *ConnectionManager) SendAction(ctx context.Context, nodeID, action string, params map[string]any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = m.cfg.ActionTimeout
	}

	m.mu.Lock()
	conn, ok := m.conns[nodeID]
	if !ok {
		m.mu.Unlock()
		return nil, errdefs.Wrap(errdefs.CodeNodeNotFound, errors.New("node not connected"))
	}

	requestID := fmt.Sprintf("action-%d-%s", m.now().UnixMilli(), randBase36(6))
	pending := &pendingAction{nodeID: nodeID, ch: make(chan actionOutcome, 1)}
	m.pending[requestID] = pending
	m.mu.Unlock()

	frame := protocol.NewFrame(protocol.FrameActionRequest, nodeID, protocol.ActionRequestPayload{
		RequestID: requestID,
		Action:    action,
		Params:    params,
		TimeoutMS: timeout.Milliseconds(),
	}, m.now().UnixMilli())
	if err := m.write(conn, frame); err != nil {
		m.dropPending(requestID)
		return nil, errdefs.Wrap(errdefs.CodeNodeDisconnected, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-pending.ch:
		return out.result, out.err
	case <-timer.C:
		m.dropPending(requestID)
		return nil, errdefs.Wrap(errdefs.CodeNodeActionTimeout, errors.New("Action timeout"))
	case <-ctx.Done():
		m.dropPending(requestID)
		return nil, ctx.Err()
	}
}

// Disconnect closes a companion connection by operator action.
func (m *ConnectionManager) Disconnect(nodeID, reason string) {
	m.mu.Lock()
	conn, ok := m.conns[nodeID]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.write(conn, protocol.NewFrame(protocol.FrameDisconnect, nodeID, protocol.DisconnectPayload{Reason: reason}, m.now().UnixMilli()))
	m.removeNode(nodeID, reason)
}

// Connected reports whether the node currently has a live socket.
func (m *ConnectionManager) Connected(nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conns[nodeID]
	return ok
}

func (m *ConnectionManager) resolveAction(resp protocol.ActionResponsePayload) {
	m.mu.Lock()
	pending, ok := m.pending[resp.RequestID]
	if ok {
		delete(m.pending, resp.RequestID)
	}
	m.mu.Unlock()
	if !ok {
		// Late or unsolicited response; the request already timed out.
		return
	}

	if resp.Success {
		pending.ch <- actionOutcome{result: resp.Result}
	} else {
		pending.ch <- actionOutcome{err: errors.New(resp.Error)}
	}
}

func (m *ConnectionManager) dropPending(requestID string) {
	m.mu.Lock()
	delete(m.pending, requestID)
	m.mu.Unlock()
}

// removeNode tears down a connection by any path: peer disconnect, socket
// error, heartbeat timeout, or operator action. Pending actions for the
// node are rejected and the registry status flips to offline.
func (m *ConnectionManager) removeNode(nodeID, reason string) {
	m.mu.Lock()
	conn, ok := m.conns[nodeID]
	if ok {
		delete(m.conns, nodeID)
	}
	var rejected []*pendingAction
	for id, p := range m.pending {
		if p.nodeID == nodeID {
			rejected = append(rejected, p)
			delete(m.pending, id)
		}
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	for _, p := range rejected {
		p.ch <- actionOutcome{err: errdefs.Wrap(errdefs.CodeNodeDisconnected, errors.New("node disconnected"))}
	}

	conn.ws.Close()
	m.registry.UpdateStatus(nodeID, StatusOffline)
	if info, ok := m.registry.Get(nodeID); ok {
		m.registry.Events().Emit(bus.Event{Name: EventNodeDisconnected, Payload: info})
	}
	slog.Info("companion node removed", "node", nodeID, "reason", reason)
}

// sweepHeartbeats removes every connection silent past the timeout.
func (m *ConnectionManager) sweepHeartbeats() {
	cutoff := m.now().Add(-m.cfg.HeartbeatTimeout)

	m.mu.Lock()
	var dead []string
	for id, conn := range m.conns {
		if conn.lastHeartbeat.Before(cutoff) {
			dead = append(dead, id)
		}
	}
	m.mu.Unlock()

	for _, id := range dead {
		m.removeNode(id, "heartbeat timeout")
	}
}

// write sends a frame on an established connection.
func (m *ConnectionManager) write(conn *nodeConn, frame protocol.NodeFrame) error {
	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()
	return conn.ws.WriteJSON(frame)
}

// writeTo sends a frame on a socket that never finished registering.
func (m *ConnectionManager) writeTo(ws *websocket.Conn, _ *nodeConn, frame protocol.NodeFrame) {
	ws.WriteJSON(frame)
}

// randBase36 returns n random base36 characters.
func randBase36(n int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			panic("crypto/rand: " + err.Error())
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out)
}
