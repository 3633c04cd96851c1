package browser

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startRelay binds an ephemeral loopback port and registers cleanup.
func startRelay(t *testing.T, cfg Config) *Relay {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	r := NewRelay(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r.Start(ctx)
	if r.Addr() == "" {
		t.Fatal("relay did not bind")
	}
	t.Cleanup(r.Stop)
	return r
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// dialExtension connects a fake extension peer and waits until the relay has
// registered it.
func dialExtension(t *testing.T, r *Relay) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+r.Addr()+"/extension", nil)
	if err != nil {
		t.Fatalf("dial extension: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	waitFor(t, "peer registration", r.Connected)
	return conn
}

// testEnvelope mirrors the forwarding envelope on the extension side.
type testEnvelope struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params struct {
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
	} `json:"params"`
}

func TestCommandRoundTrip(t *testing.T) {
	r := startRelay(t, Config{})
	conn := dialExtension(t, r)

	done := make(chan struct{})
	go func() {
		defer close(done)
		var env testEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Errorf("extension read: %v", err)
			return
		}
		if env.Method != "forwardCDPCommand" {
			t.Errorf("envelope method: got %q", env.Method)
		}
		if env.Params.Method != "Page.navigate" {
			t.Errorf("inner method: got %q", env.Params.Method)
		}
		if env.Params.Params["url"] != "https://example.com" {
			t.Errorf("inner params: got %v", env.Params.Params)
		}
		conn.WriteJSON(map[string]any{
			"id":     env.ID,
			"result": map[string]any{"frameId": "F1"},
		})
	}()

	raw, err := r.SendCommand(context.Background(), "Page.navigate", map[string]any{"url": "https://example.com"})
	if err != nil {
		t.Fatalf("send command: %v", err)
	}
	<-done

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result["frameId"] != "F1" {
		t.Errorf("result: got %v", result)
	}
	if n := r.pendingCount(); n != 0 {
		t.Errorf("pending table not cleaned up: %d entries", n)
	}
}

func TestCommandIDsMonotonic(t *testing.T) {
	r := startRelay(t, Config{})
	conn := dialExtension(t, r)

	ids := make(chan int64, 2)
	go func() {
		for i := 0; i < 2; i++ {
			var env testEnvelope
			if err := conn.ReadJSON(&env); err != nil {
				t.Errorf("extension read: %v", err)
				return
			}
			if env.Params.Params == nil {
				t.Error("inner params should marshal as an empty object, not null")
			}
			ids <- env.ID
			conn.WriteJSON(map[string]any{"id": env.ID, "result": map[string]any{}})
		}
	}()

	for i := 0; i < 2; i++ {
		if _, err := r.SendCommand(context.Background(), "Page.enable", nil); err != nil {
			t.Fatalf("send command %d: %v", i, err)
		}
	}

	first, second := <-ids, <-ids
	if second != first+1 {
		t.Errorf("ids not monotonically increasing: %d then %d", first, second)
	}
}

func TestCommandErrorResponse(t *testing.T) {
	r := startRelay(t, Config{})
	conn := dialExtension(t, r)

	go func() {
		var env testEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"id": env.ID, "error": "tab crashed"})
	}()

	_, err := r.SendCommand(context.Background(), "Page.navigate", map[string]any{"url": "https://x"})
	if err == nil {
		t.Fatal("expected error result")
	}
	if !strings.Contains(err.Error(), "tab crashed") {
		t.Errorf("error should carry extension text, got: %v", err)
	}
	if n := r.pendingCount(); n != 0 {
		t.Errorf("pending table not cleaned up: %d entries", n)
	}
}

func TestCommandTimeout(t *testing.T) {
	r := startRelay(t, Config{CommandTimeout: 80 * time.Millisecond})
	conn := dialExtension(t, r)

	// Extension swallows the command and never replies.
	go func() {
		var env testEnvelope
		conn.ReadJSON(&env)
	}()

	_, err := r.SendCommand(context.Background(), "Page.navigate", map[string]any{"url": "https://x"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("got %v, want timeout", err)
	}
	if n := r.pendingCount(); n != 0 {
		t.Errorf("timed-out entry still pending: %d entries", n)
	}
}

func TestNoPeerFailsImmediately(t *testing.T) {
	r := startRelay(t, Config{})

	start := time.Now()
	_, err := r.SendCommand(context.Background(), "Page.navigate", nil)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
	if time.Since(start) > time.Second {
		t.Error("no-peer failure must not wait for the command timeout")
	}
}

func TestBindFailureDisablesRelay(t *testing.T) {
	// Occupy a port so the relay cannot bind it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	r := NewRelay(Config{Port: port, Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	if r.Addr() != "" {
		t.Error("relay should be disabled after bind failure")
	}
	if _, err := r.SendCommand(context.Background(), "Page.navigate", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("got %v, want ErrNotConnected", err)
	}
}

func TestHTTPProbeAnswered(t *testing.T) {
	r := startRelay(t, Config{})

	for _, probe := range []string{"/", "/extension"} {
		resp, err := http.Get("http://" + r.Addr() + probe)
		if err != nil {
			t.Fatalf("probe %s: %v", probe, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("probe %s: got status %d, want 200", probe, resp.StatusCode)
		}
		if len(body) != 0 {
			t.Errorf("probe %s: expected empty body, got %q", probe, body)
		}
	}

	resp, err := http.Head("http://" + r.Addr() + "/")
	if err != nil {
		t.Fatalf("HEAD probe: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("HEAD probe: got status %d, want 200", resp.StatusCode)
	}
}

func TestRejectsWrongPath(t *testing.T) {
	r := startRelay(t, Config{})

	if _, _, err := websocket.DefaultDialer.Dial("ws://"+r.Addr()+"/other", nil); err == nil {
		t.Fatal("expected handshake rejection on undesignated path")
	}

	// The designated path still works afterwards.
	conn := dialExtension(t, r)
	conn.Close()
}

func TestPingAnsweredWithoutTouchingPending(t *testing.T) {
	r := startRelay(t, Config{})
	conn := dialExtension(t, r)

	if err := conn.WriteJSON(map[string]string{"method": "ping"}); err != nil {
		t.Fatalf("send ping: %v", err)
	}

	var reply map[string]string
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if reply["method"] != "pong" {
		t.Errorf("got %v, want pong", reply)
	}
	if n := r.pendingCount(); n != 0 {
		t.Errorf("heartbeat touched the pending table: %d entries", n)
	}
}

func TestPingDoesNotDisturbPendingCommand(t *testing.T) {
	r := startRelay(t, Config{CommandTimeout: 2 * time.Second})
	conn := dialExtension(t, r)

	go func() {
		var env testEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Errorf("extension read: %v", err)
			return
		}
		// Heartbeat in the middle of an in-flight command.
		conn.WriteJSON(map[string]string{"method": "ping"})
		var pong map[string]string
		if err := conn.ReadJSON(&pong); err != nil || pong["method"] != "pong" {
			t.Errorf("pong not received: %v %v", pong, err)
			return
		}
		conn.WriteJSON(map[string]any{"id": env.ID, "result": map[string]any{"ok": true}})
	}()

	raw, err := r.SendCommand(context.Background(), "Runtime.evaluate", map[string]any{"expression": "1"})
	if err != nil {
		t.Fatalf("command failed around heartbeat: %v", err)
	}
	if !strings.Contains(string(raw), "ok") {
		t.Errorf("unexpected result: %s", raw)
	}
}

func TestDisconnectLeavesPendingToExpire(t *testing.T) {
	r := startRelay(t, Config{CommandTimeout: 150 * time.Millisecond})
	conn := dialExtension(t, r)

	go func() {
		var env testEnvelope
		conn.ReadJSON(&env)
		conn.Close()
	}()

	_, err := r.SendCommand(context.Background(), "Page.navigate", map[string]any{"url": "https://x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("default disconnect behavior should let the command expire by timeout, got: %v", err)
	}
	if n := r.pendingCount(); n != 0 {
		t.Errorf("pending table not cleaned up: %d entries", n)
	}
}

func TestFailPendingOnDisconnect(t *testing.T) {
	r := startRelay(t, Config{CommandTimeout: 10 * time.Second, FailPendingOnDisconnect: true})
	conn := dialExtension(t, r)

	go func() {
		var env testEnvelope
		conn.ReadJSON(&env)
		conn.Close()
	}()

	start := time.Now()
	_, err := r.SendCommand(context.Background(), "Page.navigate", map[string]any{"url": "https://x"})
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("got %v, want ErrDisconnected", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("configured fail-fast disconnect should not wait for the timeout")
	}
	if n := r.pendingCount(); n != 0 {
		t.Errorf("pending table not cleaned up: %d entries", n)
	}
}

func TestNewPeerReplacesOld(t *testing.T) {
	r := startRelay(t, Config{})

	first, _, err := websocket.DefaultDialer.Dial("ws://"+r.Addr()+"/extension", nil)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()
	waitFor(t, "first peer", r.Connected)

	second := dialExtension(t, r)

	// The old connection is closed by the relay.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Error("expected old peer connection to be closed")
	}

	// Commands now reach the new peer.
	go func() {
		var env testEnvelope
		if err := second.ReadJSON(&env); err != nil {
			t.Errorf("second peer read: %v", err)
			return
		}
		second.WriteJSON(map[string]any{"id": env.ID, "result": map[string]any{}})
	}()
	if _, err := r.SendCommand(context.Background(), "Page.enable", nil); err != nil {
		t.Fatalf("command via replacement peer: %v", err)
	}
}

func TestStartIdempotent(t *testing.T) {
	r := startRelay(t, Config{})
	addr := r.Addr()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	if r.Addr() != addr {
		t.Errorf("second Start changed the listener: %s vs %s", r.Addr(), addr)
	}
}
