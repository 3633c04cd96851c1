// Package browser implements the WebSocket relay that bridges tool calls to
// the browser extension. The extension connects to a loopback endpoint and
// forwards Chrome DevTools Protocol commands to the active tab.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"nanobot/internal/metrics"
)

const (
	// DefaultPort is the fixed loopback port the extension dials.
	DefaultPort = 18792

	relayPath             = "/extension"
	defaultCommandTimeout = 30 * time.Second
)

var (
	ErrNotConnected = errors.New("browser extension not connected")
	ErrDisconnected = errors.New("browser extension disconnected")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The extension connects from a chrome-extension:// origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Config configures a Relay.
type Config struct {
	// Port is the loopback port to listen on. 0 binds an ephemeral port.
	Port int

	// CommandTimeout bounds how long a command waits for its response.
	CommandTimeout time.Duration

	// FailPendingOnDisconnect fails in-flight commands as soon as the peer
	// drops. Default is to leave them to expire by timeout, tolerating a
	// fast reconnect.
	FailPendingOnDisconnect bool

	Logger *slog.Logger
}

// Relay accepts a single browser-extension peer on a designated path and
// correlates forwarded commands with their responses. It is constructed
// explicitly by the host and passed to consumers; there is no shared
// package-level instance.
type Relay struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	listener net.Listener
	server   *http.Server
	peer     *peerConn

	commandID atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan commandResult
}

// peerConn wraps a websocket connection with a write lock; gorilla permits
// only one concurrent writer.
type peerConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *peerConn) writeJSON(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteJSON(v)
}

type commandResult struct {
	result json.RawMessage
	err    error
}

// commandEnvelope is the outbound wire format: the caller's CDP request
// wrapped for forwarding.
type commandEnvelope struct {
	ID     int64        `json:"id"`
	Method string       `json:"method"`
	Params innerCommand `json:"params"`
}

type innerCommand struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// extensionFrame is any inbound message: a command response carries ID plus
// result or error; a heartbeat carries method "ping" and no ID.
type extensionFrame struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

func NewRelay(cfg Config) *Relay {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Relay{
		cfg:     cfg,
		logger:  cfg.Logger,
		pending: make(map[int64]chan commandResult),
	}
}

// Start binds the loopback listener and begins accepting the extension.
// Idempotent. A failed bind (port taken) logs the error and leaves the relay
// disabled instead of aborting the host; commands then fail with
// ErrNotConnected. The relay shuts down when ctx is cancelled.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}

	addr := fmt.Sprintf("127.0.0.1:%d", r.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		r.mu.Unlock()
		r.logger.Error("relay bind failed, browser control disabled", "addr", addr, "err", err)
		return
	}

	r.listener = ln
	r.server = &http.Server{
		Handler:           http.HandlerFunc(r.handleHTTP),
		ReadHeaderTimeout: 10 * time.Second,
	}
	r.running = true
	server := r.server
	r.mu.Unlock()

	r.logger.Info("browser relay listening", "addr", "ws://"+ln.Addr().String()+relayPath)

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			r.logger.Error("relay server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
}

// Stop closes the peer connection and the listener. Idempotent.
func (r *Relay) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	server := r.server
	peer := r.peer
	r.peer = nil
	r.mu.Unlock()

	if peer != nil {
		peer.conn.Close()
	}
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}
	r.logger.Info("browser relay stopped")
}

// Addr returns the bound listen address, or "" when the relay is not running.
func (r *Relay) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil || !r.running {
		return ""
	}
	return r.listener.Addr().String()
}

// Connected reports whether an extension peer is currently attached.
func (r *Relay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peer != nil
}

func (r *Relay) handleHTTP(w http.ResponseWriter, req *http.Request) {
	// Health probes (plain HTTP, no upgrade headers) get a minimal success
	// response; the extension does this before dialing.
	if !websocket.IsWebSocketUpgrade(req) {
		w.WriteHeader(http.StatusOK)
		return
	}

	if req.URL.Path != relayPath {
		r.logger.Warn("rejected relay connection", "path", req.URL.Path)
		http.NotFound(w, req)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("relay upgrade failed", "err", err)
		return
	}
	r.servePeer(conn)
}

// servePeer runs the read loop for one extension connection. A newer
// connection replaces the previous peer wholesale.
func (r *Relay) servePeer(conn *websocket.Conn) {
	peer := &peerConn{conn: conn}

	r.mu.Lock()
	old := r.peer
	r.peer = peer
	r.mu.Unlock()
	if old != nil {
		old.conn.Close()
	}

	r.logger.Info("browser extension connected", "remote", conn.RemoteAddr().String())

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		r.handleFrame(peer, data)
	}

	conn.Close()

	r.mu.Lock()
	wasActive := r.peer == peer
	if wasActive {
		r.peer = nil
	}
	r.mu.Unlock()

	if wasActive {
		r.logger.Info("browser extension disconnected")
		if r.cfg.FailPendingOnDisconnect {
			r.failAllPending(ErrDisconnected)
		}
		// Otherwise in-flight commands are left to expire by timeout,
		// tolerating a fast reconnect.
	}
}

func (r *Relay) handleFrame(peer *peerConn, data []byte) {
	var frame extensionFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		r.logger.Warn("malformed frame from extension", "err", err)
		return
	}

	switch {
	case frame.ID != nil && (frame.Result != nil || frame.Error != nil):
		r.resolve(*frame.ID, frame)
	case frame.Method == "ping":
		// Heartbeat; never touches the pending table.
		if err := peer.writeJSON(map[string]string{"method": "pong"}); err != nil {
			r.logger.Warn("pong write failed", "err", err)
		}
	}
}

// resolve completes the pending command for id. The entry is removed under
// the lock, so a command is resolved at most once even if the response races
// the timeout path.
func (r *Relay) resolve(id int64, frame extensionFrame) {
	r.pendingMu.Lock()
	ch, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.pendingMu.Unlock()

	if !ok {
		r.logger.Debug("response for unknown or expired command", "id", id)
		return
	}

	if frame.Error != nil {
		ch <- commandResult{err: fmt.Errorf("extension error: %s", errorText(frame.Error))}
		return
	}
	ch <- commandResult{result: frame.Result}
}

func (r *Relay) failAllPending(cause error) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	for id, ch := range r.pending {
		delete(r.pending, id)
		ch <- commandResult{err: cause}
	}
}

func (r *Relay) pendingCount() int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return len(r.pending)
}

// SendCommand forwards one CDP command to the extension and waits for the
// correlated response. Fails immediately with ErrNotConnected when no peer
// is attached.
func (r *Relay) SendCommand(ctx context.Context, method string, params any) (json.RawMessage, error) {
	r.mu.Lock()
	peer := r.peer
	r.mu.Unlock()
	if peer == nil {
		return nil, ErrNotConnected
	}

	id := r.commandID.Add(1)
	ch := make(chan commandResult, 1)
	r.pendingMu.Lock()
	r.pending[id] = ch
	r.pendingMu.Unlock()

	if params == nil {
		params = map[string]any{}
	}
	env := commandEnvelope{
		ID:     id,
		Method: "forwardCDPCommand",
		Params: innerCommand{Method: method, Params: params},
	}
	if err := peer.writeJSON(env); err != nil {
		r.pendingMu.Lock()
		delete(r.pending, id)
		r.pendingMu.Unlock()
		return nil, fmt.Errorf("send command: %w", err)
	}
	metrics.RelayCommands.Inc()

	timer := time.NewTimer(r.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.result, nil
	case <-timer.C:
		r.pendingMu.Lock()
		delete(r.pending, id)
		r.pendingMu.Unlock()
		metrics.RelayTimeouts.Inc()
		return nil, fmt.Errorf("browser command timed out after %s", r.cfg.CommandTimeout)
	case <-ctx.Done():
		r.pendingMu.Lock()
		delete(r.pending, id)
		r.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

// errorText renders the extension's error field, which may be a bare string
// or a structured object.
func errorText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
