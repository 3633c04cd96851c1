package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"nanobot/internal/domain"
)

func newAnthropicServer(t *testing.T, handler http.HandlerFunc) *Anthropic {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAnthropic(AnthropicConfig{
		APIKey:  "test-key",
		APIBase: srv.URL,
		Model:   "test-model",
		Logger:  testLogger(),
	})
}

func TestAnthropicChatTextAndToolUse(t *testing.T) {
	p := newAnthropicServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "checking that now"},
				{"type": "tool_use", "id": "toolu_1", "name": "web_search", "input": map[string]any{"query": "weather"}},
			},
			"stop_reason": "tool_use",
			"usage":       map[string]any{"input_tokens": 20, "output_tokens": 8},
		})
	})

	resp, err := p.Chat(context.Background(), []domain.Message{{Role: "user", Content: "weather?"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "checking that now" {
		t.Fatalf("expected text content, got %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "toolu_1" || tc.Name != "web_search" || tc.Arguments["query"] != "weather" {
		t.Fatalf("unexpected tool call: %+v", tc)
	}
	if resp.FinishReason != "tool_use" {
		t.Fatalf("expected stop_reason tool_use, got %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 28 {
		t.Fatalf("expected 28 total tokens, got %d", resp.Usage.TotalTokens)
	}
}

func TestAnthropicRequestWireFormat(t *testing.T) {
	var captured []byte
	var apiKey, version string
	p := newAnthropicServer(t, func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		apiKey = r.Header.Get("x-api-key")
		version = r.Header.Get("anthropic-version")
		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]any{{"type": "text", "text": "ok"}},
			"stop_reason": "end_turn",
		})
	})

	messages := []domain.Message{
		{Role: "system", Content: "you are terse"},
		{Role: "user", Content: "hello"},
	}
	tools := []domain.ToolDefinition{{
		Name:        "shell",
		Description: "Run a command",
		Parameters:  map[string]any{"type": "object"},
	}}

	if _, err := p.Chat(context.Background(), messages, tools); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if apiKey != "test-key" {
		t.Fatalf("expected x-api-key header, got %q", apiKey)
	}
	if version != anthropicVersion {
		t.Fatalf("expected anthropic-version %q, got %q", anthropicVersion, version)
	}

	var req map[string]any
	if err := json.Unmarshal(captured, &req); err != nil {
		t.Fatalf("request body not valid JSON: %v", err)
	}
	if req["system"] != "you are terse" {
		t.Fatalf("system prompt not extracted: %v", req["system"])
	}
	if req["max_tokens"] != float64(defaultMaxTokens) {
		t.Fatalf("expected default max_tokens %d, got %v", defaultMaxTokens, req["max_tokens"])
	}
	msgs := req["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("system message should not appear in messages, got %d entries", len(msgs))
	}
	reqTools := req["tools"].([]any)
	tool0 := reqTools[0].(map[string]any)
	if tool0["name"] != "shell" || tool0["input_schema"] == nil {
		t.Fatalf("unexpected tools payload: %v", tool0)
	}
}

func TestAnthropicAPIError(t *testing.T) {
	p := newAnthropicServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid model"}}`, http.StatusNotFound)
	})

	_, err := p.Chat(context.Background(), []domain.Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestToAnthropicMessagesToolFlow(t *testing.T) {
	in := []domain.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "do two things"},
		{Role: "assistant", Content: "on it", ToolCalls: []domain.ToolCall{
			{ID: "t1", Name: "read_file", Arguments: map[string]any{"path": "a"}},
			{ID: "t2", Name: "read_file", Arguments: map[string]any{"path": "b"}},
		}},
		{Role: "tool", Content: "contents of a", ToolCallID: "t1"},
		{Role: "tool", Content: "contents of b", ToolCallID: "t2"},
		{Role: "assistant", Content: "done"},
	}

	system, msgs := toAnthropicMessages(in)
	if system != "sys" {
		t.Fatalf("expected system prompt extracted, got %q", system)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages (user, assistant, merged results, assistant), got %d", len(msgs))
	}

	asst := msgs[1]
	blocks, ok := asst.Content.([]anthropicBlock)
	if !ok {
		t.Fatalf("assistant content should be blocks, got %T", asst.Content)
	}
	if len(blocks) != 3 || blocks[0].Type != "text" || blocks[1].Type != "tool_use" || blocks[2].Type != "tool_use" {
		t.Fatalf("unexpected assistant blocks: %+v", blocks)
	}
	if blocks[1].ID != "t1" || blocks[1].Input["path"] != "a" {
		t.Fatalf("tool_use block not mapped: %+v", blocks[1])
	}

	// Both tool results must land in one user message.
	results := msgs[2]
	if results.Role != "user" {
		t.Fatalf("tool results should carry role user, got %q", results.Role)
	}
	resBlocks, ok := results.Content.([]anthropicBlock)
	if !ok || len(resBlocks) != 2 {
		t.Fatalf("expected 2 merged tool_result blocks, got %+v", results.Content)
	}
	if resBlocks[0].ToolUseID != "t1" || resBlocks[1].ToolUseID != "t2" {
		t.Fatalf("tool_use_id not preserved: %+v", resBlocks)
	}
	if resBlocks[0].Type != "tool_result" {
		t.Fatalf("expected tool_result type, got %q", resBlocks[0].Type)
	}

	if msgs[3].Content != "done" {
		t.Fatalf("plain assistant message should pass through, got %+v", msgs[3])
	}
}

func TestToAnthropicMessagesPlainConversation(t *testing.T) {
	in := []domain.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "bye"},
	}
	system, msgs := toAnthropicMessages(in)
	if system != "" {
		t.Fatalf("expected no system prompt, got %q", system)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if _, ok := m.Content.(string); !ok {
			t.Fatalf("message %d should keep string content, got %T", i, m.Content)
		}
	}
}

func TestAnthropicDefaults(t *testing.T) {
	p := NewAnthropic(AnthropicConfig{APIKey: "k"})
	if p.apiBase != "https://api.anthropic.com" {
		t.Fatalf("unexpected default base: %q", p.apiBase)
	}
	if p.maxTokens != defaultMaxTokens {
		t.Fatalf("expected default max tokens %d, got %d", defaultMaxTokens, p.maxTokens)
	}
	if p.Name() != "anthropic" {
		t.Fatalf("unexpected name: %q", p.Name())
	}
	if err := p.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy with key set, got: %v", err)
	}
	if err := NewAnthropic(AnthropicConfig{}).Healthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy without API key")
	}
}
