package provider

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"nanobot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newOpenAIServer returns an httptest server that captures the last request
// body and replies with the given handler.
func newOpenAIServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OpenAI) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewOpenAI(OpenAIConfig{
		APIKey:  "test-key",
		APIBase: srv.URL,
		Model:   "test-model",
		Logger:  testLogger(),
	})
	return srv, p
}

func TestOpenAIChatText(t *testing.T) {
	_, p := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": "hello there"},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		})
	})

	resp, err := p.Chat(context.Background(), []domain.Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello there" {
		t.Fatalf("expected 'hello there', got %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Fatalf("expected finish reason stop, got %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("expected 15 total tokens, got %d", resp.Usage.TotalTokens)
	}
	if resp.HasToolCalls() {
		t.Fatal("expected no tool calls")
	}
}

func TestOpenAIChatToolCalls(t *testing.T) {
	_, p := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role":    "assistant",
					"content": "",
					"tool_calls": []map[string]any{{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "read_file",
							"arguments": `{"path":"notes.txt"}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
		})
	})

	resp, err := p.Chat(context.Background(), []domain.Message{{Role: "user", Content: "read it"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "call_1" || tc.Name != "read_file" {
		t.Fatalf("unexpected tool call: %+v", tc)
	}
	if tc.Arguments["path"] != "notes.txt" {
		t.Fatalf("expected path argument, got %v", tc.Arguments)
	}
}

func TestOpenAIMalformedToolArgsBecomeEmptyMap(t *testing.T) {
	_, p := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []map[string]any{{
						"id":       "call_1",
						"type":     "function",
						"function": map[string]any{"name": "noop", "arguments": "{not json"},
					}},
				},
				"finish_reason": "tool_calls",
			}},
		})
	})

	resp, err := p.Chat(context.Background(), []domain.Message{{Role: "user", Content: "go"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Arguments == nil || len(resp.ToolCalls[0].Arguments) != 0 {
		t.Fatalf("expected empty arguments map, got %v", resp.ToolCalls[0].Arguments)
	}
}

func TestOpenAIRequestWireFormat(t *testing.T) {
	var captured []byte
	var auth string
	_, p := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		auth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}, "finish_reason": "stop"}},
		})
	})

	messages := []domain.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "list files"},
		{Role: "assistant", ToolCalls: []domain.ToolCall{{ID: "c1", Name: "list_dir", Arguments: map[string]any{"path": "."}}}},
		{Role: "tool", Content: "a.txt", ToolCallID: "c1"},
	}
	tools := []domain.ToolDefinition{{
		Name:        "list_dir",
		Description: "List a directory",
		Parameters:  map[string]any{"type": "object"},
	}}

	if _, err := p.Chat(context.Background(), messages, tools); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if auth != "Bearer test-key" {
		t.Fatalf("expected bearer auth header, got %q", auth)
	}

	var req oaiRequest
	if err := json.Unmarshal(captured, &req); err != nil {
		t.Fatalf("request body not valid JSON: %v", err)
	}
	if req.Model != "test-model" {
		t.Fatalf("expected model test-model, got %q", req.Model)
	}
	if req.Stream {
		t.Fatal("expected stream=false")
	}
	if len(req.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(req.Messages))
	}
	if req.Messages[2].ToolCalls[0].Function.Name != "list_dir" {
		t.Fatalf("assistant tool call not forwarded: %+v", req.Messages[2])
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(req.Messages[2].ToolCalls[0].Function.Arguments), &args); err != nil {
		t.Fatalf("tool call arguments not a JSON string: %v", err)
	}
	if args["path"] != "." {
		t.Fatalf("unexpected arguments: %v", args)
	}
	if req.Messages[3].ToolCallID != "c1" {
		t.Fatalf("tool result message missing tool_call_id: %+v", req.Messages[3])
	}
	if len(req.Tools) != 1 || req.Tools[0].Type != "function" || req.Tools[0].Function.Name != "list_dir" {
		t.Fatalf("unexpected tools payload: %+v", req.Tools)
	}
}

func TestOpenAIEmptyChoices(t *testing.T) {
	_, p := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	resp, err := p.Chat(context.Background(), []domain.Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "" || resp.FinishReason != "stop" {
		t.Fatalf("expected empty stop response, got %+v", resp)
	}
}

func TestOpenAIClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	_, p := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
	})

	_, err := p.Chat(context.Background(), []domain.Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 attempt for client error, got %d", got)
	}
}

func TestOpenAIRetriesServerError(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping retry backoff test in short mode")
	}
	var calls atomic.Int32
	_, p := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "recovered"}, "finish_reason": "stop"}},
		})
	})

	resp, err := p.Chat(context.Background(), []domain.Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "recovered" {
		t.Fatalf("expected 'recovered', got %q", resp.Content)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestOpenAIHealthy(t *testing.T) {
	_, p := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("expected /models probe, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := p.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
}

func TestOpenAIHealthyRejectsBadKey(t *testing.T) {
	_, p := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if err := p.Healthy(context.Background()); err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestOpenAIDefaults(t *testing.T) {
	p := NewOpenAI(OpenAIConfig{APIKey: "k"})
	if p.apiBase != "https://api.openai.com/v1" {
		t.Fatalf("unexpected default base: %q", p.apiBase)
	}
	if p.DefaultModel() == "" {
		t.Fatal("expected a default model")
	}
	if p.Name() != "openai" {
		t.Fatalf("unexpected name: %q", p.Name())
	}
}
