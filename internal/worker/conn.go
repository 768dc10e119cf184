// Package worker maintains the persistent WebSocket link to the agent
// worker. A single connection multiplexes every session's turns; requests
// and responses are line-delimited JSON correlated by request id.
package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentgate/internal/bus"
	"github.com/nextlevelbuilder/agentgate/internal/errdefs"
	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

const (
	// DefaultRequestTimeout bounds one turn round-trip to the worker.
	DefaultRequestTimeout = 60 * time.Second
	// DefaultMaxReconnects bounds consecutive failed reconnect attempts
	// before the connection gives up.
	DefaultMaxReconnects = 10

	reconnectBaseDelay = 100 * time.Millisecond
	reconnectMaxDelay  = 30 * time.Second

	pingAttempts = 3
	pingInterval = 250 * time.Millisecond

	streamBuffer = 64
)

// EventMaxReconnects fires once the reconnect budget is exhausted.
const EventMaxReconnects = "max_reconnects"

// Config holds the worker endpoint settings.
type Config struct {
	// URL is the worker WebSocket endpoint, e.g. ws://127.0.0.1:8765/ws.
	URL string
	// Token, when set, is sent as the X-Gateway-Token header on dial.
	Token string
	// RequestTimeout overrides the per-request deadline. Zero means the
	// 60-second default.
	RequestTimeout time.Duration
	// MaxReconnects overrides the reconnect budget. Zero means 10.
	MaxReconnects int
}

// Metrics is a point-in-time snapshot of connection health.
type Metrics struct {
	Connected      bool      `json:"connected"`
	ConnectedSince time.Time `json:"connectedSince,omitempty"`
	TotalRequests  int64     `json:"totalRequests"`
	TotalLatencyMS int64     `json:"totalLatencyMs"`
	Reconnects     int64     `json:"reconnects"`
	Pending        int       `json:"pending"`
}

// StreamChunk is one incremental output fragment for an in-flight turn,
// delivered on the side channel without terminating the request.
type StreamChunk struct {
	RequestID string
	Data      json.RawMessage
}

type pendingResult struct {
	frame protocol.WorkerFrame
	err   error
}

// connectAttempt is one in-flight dial; err is set before done closes, so
// every waiter observes the attempt's outcome.
type connectAttempt struct {
	done chan struct{}
	err  error
}

// AgentConnection is the gateway's single multiplexed link to the worker.
// Connecting is lazy and one-flight: concurrent callers share a dial.
type AgentConnection struct {
	cfg    Config
	events *bus.Bus

	mu         sync.Mutex
	ws         *websocket.Conn
	cancelRead context.CancelFunc
	connecting *connectAttempt
	pending    map[string]chan pendingResult
	closed     bool

	connectedSince time.Time
	totalRequests  int64
	totalLatencyMS int64
	reconnects     int64

	stream chan StreamChunk

	now func() time.Time
}

// New creates an unconnected AgentConnection; the first request dials.
func New(cfg Config, events *bus.Bus) *AgentConnection {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = DefaultMaxReconnects
	}
	if events == nil {
		events = bus.New()
	}
	return &AgentConnection{
		cfg:     cfg,
		events:  events,
		pending: make(map[string]chan pendingResult),
		stream:  make(chan StreamChunk, streamBuffer),
		now:     time.Now,
	}
}

// Stream is the side channel for incremental turn output. Chunks are dropped
// if the consumer falls behind.
func (c *AgentConnection) Stream() <-chan StreamChunk { return c.stream }

// Turn sends one user turn and blocks for the worker's terminal response.
func (c *AgentConnection) Turn(ctx context.Context, sessionID, text string, metadata map[string]string) (*protocol.TurnData, error) {
	frame, err := c.request(ctx, protocol.WorkerRequest{
		Type:      protocol.WorkerTurn,
		SessionID: sessionID,
		Text:      text,
		Metadata:  metadata,
	})
	if err != nil {
		return nil, err
	}
	return decodeTurn(frame)
}

// Resume continues an interrupted turn with the user's decisions keyed by
// interrupt id.
func (c *AgentConnection) Resume(ctx context.Context, sessionID string, decisions map[string]string) (*protocol.TurnData, error) {
	frame, err := c.request(ctx, protocol.WorkerRequest{
		Type:      protocol.WorkerResume,
		SessionID: sessionID,
		Decisions: decisions,
	})
	if err != nil {
		return nil, err
	}
	return decodeTurn(frame)
}

// Ping checks worker liveness. Unlike turns, pings are idempotent and are
// retried up to three times before reporting failure.
func (c *AgentConnection) Ping(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < pingAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(pingInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		frame, err := c.request(ctx, protocol.WorkerRequest{Type: protocol.WorkerPing})
		if err != nil {
			lastErr = err
			continue
		}
		if frame.Type == protocol.WorkerPong {
			return nil
		}
		lastErr = fmt.Errorf("unexpected reply type %q", frame.Type)
	}
	return errdefs.Wrap(errdefs.CodeWorkerUnavailable, lastErr)
}

// Metrics returns a snapshot of connection counters.
func (c *AgentConnection) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Metrics{
		Connected:      c.ws != nil,
		ConnectedSince: c.connectedSince,
		TotalRequests:  c.totalRequests,
		TotalLatencyMS: c.totalLatencyMS,
		Reconnects:     c.reconnects,
		Pending:        len(c.pending),
	}
}

// Close tears down the connection, rejects every pending request, and
// disables reconnection.
func (c *AgentConnection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.ws = nil
	if c.cancelRead != nil {
		c.cancelRead()
	}
	rejected := c.takePendingLocked()
	c.mu.Unlock()

	rejectAll(rejected)
	if ws != nil {
		ws.Close(websocket.StatusNormalClosure, "gateway shutdown")
	}
	return nil
}

func (c *AgentConnection) request(ctx context.Context, req protocol.WorkerRequest) (protocol.WorkerFrame, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return protocol.WorkerFrame{}, err
	}

	req.ID = uuid.NewString()
	line, err := json.Marshal(req)
	if err != nil {
		return protocol.WorkerFrame{}, errdefs.Wrap(errdefs.CodeInternal, err)
	}
	line = append(line, '\n')

	ch := make(chan pendingResult, 1)
	started := c.now()

	c.mu.Lock()
	ws := c.ws
	if ws == nil {
		c.mu.Unlock()
		return protocol.WorkerFrame{}, errdefs.Wrap(errdefs.CodeWorkerUnavailable, errors.New("Connection lost"))
	}
	c.pending[req.ID] = ch
	c.totalRequests++
	c.mu.Unlock()

	if err := ws.Write(ctx, websocket.MessageText, line); err != nil {
		c.dropPending(req.ID)
		return protocol.WorkerFrame{}, errdefs.Wrap(errdefs.CodeWorkerUnavailable, err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		c.mu.Lock()
		c.totalLatencyMS += c.now().Sub(started).Milliseconds()
		c.mu.Unlock()
		if res.err != nil {
			return protocol.WorkerFrame{}, res.err
		}
		return res.frame, nil
	case <-timer.C:
		c.dropPending(req.ID)
		return protocol.WorkerFrame{}, errdefs.New(errdefs.CodeWorkerTimeout, req.Type)
	case <-ctx.Done():
		c.dropPending(req.ID)
		return protocol.WorkerFrame{}, ctx.Err()
	}
}

// ensureConnected dials if needed. Only one dial is ever in flight; callers
// that arrive while it runs wait for it and share its outcome, success or
// failure.
func (c *AgentConnection) ensureConnected(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return errdefs.Wrap(errdefs.CodeWorkerUnavailable, errors.New("connection closed"))
		}
		if c.ws != nil {
			c.mu.Unlock()
			return nil
		}
		if c.connecting != nil {
			attempt := c.connecting
			c.mu.Unlock()
			select {
			case <-attempt.done:
				if attempt.err != nil {
					return errdefs.Wrap(errdefs.CodeWorkerUnavailable, attempt.err)
				}
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		attempt := &connectAttempt{done: make(chan struct{})}
		c.connecting = attempt
		c.mu.Unlock()

		err := c.dial(ctx)

		c.mu.Lock()
		c.connecting = nil
		c.mu.Unlock()
		attempt.err = err
		close(attempt.done)

		if err != nil {
			return errdefs.Wrap(errdefs.CodeWorkerUnavailable, err)
		}
		return nil
	}
}

func (c *AgentConnection) dial(ctx context.Context) error {
	headers := http.Header{}
	if c.cfg.Token != "" {
		headers.Set("X-Gateway-Token", c.cfg.Token)
	}
	ws, _, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return fmt.Errorf("worker dial %s: %w", c.cfg.URL, err)
	}
	ws.SetReadLimit(1 << 20)

	readCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.ws = ws
	c.cancelRead = cancel
	c.connectedSince = c.now()
	c.mu.Unlock()

	go c.readLoop(readCtx, ws)
	slog.Info("worker connection established", "url", c.cfg.URL)
	return nil
}

func (c *AgentConnection) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			c.handleDisconnect(ws, err)
			return
		}
		// One WebSocket message may batch several newline-delimited frames.
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var frame protocol.WorkerFrame
			if err := json.Unmarshal(line, &frame); err != nil {
				slog.Warn("discarding malformed worker frame", "error", err)
				continue
			}
			c.dispatch(frame)
		}
	}
}

func (c *AgentConnection) dispatch(frame protocol.WorkerFrame) {
	if frame.Type == protocol.WorkerStream {
		select {
		case c.stream <- StreamChunk{RequestID: frame.ID, Data: frame.Data}:
		default:
			slog.Warn("stream channel full, dropping chunk", "request", frame.ID)
		}
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[frame.ID]
	if ok {
		delete(c.pending, frame.ID)
	}
	c.mu.Unlock()
	if !ok {
		slog.Debug("worker frame with no pending request", "type", frame.Type, "id", frame.ID)
		return
	}
	ch <- pendingResult{frame: frame}
}

// handleDisconnect rejects everything in flight and kicks off reconnection
// unless the connection was closed deliberately.
func (c *AgentConnection) handleDisconnect(ws *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.ws != ws {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.cancelRead = nil
	closed := c.closed
	rejected := c.takePendingLocked()
	c.mu.Unlock()

	rejectAll(rejected)
	ws.Close(websocket.StatusAbnormalClosure, "")

	if closed {
		return
	}
	slog.Warn("worker connection lost", "error", cause)
	go c.reconnect()
}

func (c *AgentConnection) reconnect() {
	for attempt := 0; attempt < c.cfg.MaxReconnects; attempt++ {
		time.Sleep(backoffDelay(attempt))

		c.mu.Lock()
		if c.closed || c.ws != nil {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.ensureConnected(ctx)
		cancel()
		if err == nil {
			c.mu.Lock()
			c.reconnects++
			c.mu.Unlock()
			return
		}
		slog.Warn("worker reconnect failed", "attempt", attempt+1, "error", err)
	}
	slog.Error("worker reconnect budget exhausted", "attempts", c.cfg.MaxReconnects)
	c.events.Emit(bus.Event{Name: EventMaxReconnects, Payload: c.cfg.URL})
}

func (c *AgentConnection) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// takePendingLocked empties the pending map; caller holds mu.
func (c *AgentConnection) takePendingLocked() []chan pendingResult {
	out := make([]chan pendingResult, 0, len(c.pending))
	for id, ch := range c.pending {
		out = append(out, ch)
		delete(c.pending, id)
	}
	return out
}

func rejectAll(chans []chan pendingResult) {
	for _, ch := range chans {
		ch <- pendingResult{err: errdefs.Wrap(errdefs.CodeWorkerUnavailable, errors.New("Connection lost"))}
	}
}

// decodeTurn converts a terminal worker frame into turn data, surfacing
// worker-declared errors with their agent code intact.
func decodeTurn(frame protocol.WorkerFrame) (*protocol.TurnData, error) {
	switch frame.Type {
	case protocol.WorkerResponse:
		var data protocol.TurnData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			return nil, errdefs.Wrap(errdefs.CodeInternal, err)
		}
		return &data, nil
	case protocol.WorkerError:
		if frame.ErrorType != "" {
			return nil, errdefs.Wrap(frame.ErrorType, errors.New(frame.Error))
		}
		return nil, errdefs.Wrap(errdefs.CodeAgentInternal, errors.New(frame.Error))
	default:
		return nil, errdefs.New(errdefs.CodeInternal, fmt.Sprintf("unexpected worker frame type %q", frame.Type))
	}
}

// backoffDelay is min(30s, 100ms * 2^attempt) plus up to 20% jitter, capped.
func backoffDelay(attempt int) time.Duration {
	if attempt > 10 {
		attempt = 10
	}
	base := reconnectBaseDelay << uint(attempt)
	if base > reconnectMaxDelay {
		base = reconnectMaxDelay
	}
	d := base + time.Duration(rand.Float64()*0.2*float64(base))
	if d > reconnectMaxDelay {
		d = reconnectMaxDelay
	}
	return d
}
