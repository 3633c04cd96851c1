package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"nanobot/internal/domain"
)

const (
	anthropicVersion      = "2023-06-01"
	anthropicDefaultModel = "claude-sonnet-4-20250514"
	defaultMaxTokens      = 4096
)

// Anthropic implements domain.Provider for the Anthropic Messages API.
type Anthropic struct {
	apiKey    string
	apiBase   string
	model     string
	maxTokens int
	client    *http.Client
	logger    *slog.Logger
}

type AnthropicConfig struct {
	APIKey    string
	APIBase   string
	Model     string
	MaxTokens int
	Logger    *slog.Logger
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.anthropic.com"
	}
	if cfg.Model == "" {
		cfg.Model = anthropicDefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Anthropic{
		apiKey:    cfg.APIKey,
		apiBase:   cfg.APIBase,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client:    newHTTPClient(defaultHTTPTimeout),
		logger:    cfg.Logger,
	}
}

func (a *Anthropic) Name() string         { return "anthropic" }
func (a *Anthropic) DefaultModel() string { return a.model }

func (a *Anthropic) Healthy(ctx context.Context) error {
	if a.apiKey == "" {
		return fmt.Errorf("no API key configured")
	}
	return nil
}

type anthropicRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []anthropicMsg  `json:"messages"`
	Tools     []anthropicTool `json:"tools,omitempty"`
}

// anthropicMsg content is either a plain string or a block list.
type anthropicMsg struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// anthropicBlock is one content block: "text", "tool_use" or "tool_result".
type anthropicBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      anthropicUsage   `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (a *Anthropic) Chat(ctx context.Context, messages []domain.Message, tools []domain.ToolDefinition) (*domain.ChatResponse, error) {
	system, msgs := toAnthropicMessages(messages)

	body := anthropicRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    system,
		Messages:  msgs,
	}
	for _, t := range tools {
		body.Tools = append(body.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	buildReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/v1/messages", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)
		return req, nil
	}

	resp, err := doWithRetry(ctx, a.client, buildReq, a.logger)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("anthropic %d: %s", resp.StatusCode, string(respBody))
	}

	var ar anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	out := &domain.ChatResponse{
		FinishReason: ar.StopReason,
		Usage: domain.Usage{
			PromptTokens:     ar.Usage.InputTokens,
			CompletionTokens: ar.Usage.OutputTokens,
			TotalTokens:      ar.Usage.InputTokens + ar.Usage.OutputTokens,
		},
	}
	var textParts []string
	for _, block := range ar.Content {
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			args := block.Input
			if args == nil {
				args = make(map[string]any)
			}
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	out.Content = strings.Join(textParts, "")
	return out, nil
}

// toAnthropicMessages splits the system prompt out of the transcript and
// converts the rest to the Messages API shape: assistant tool calls become
// tool_use blocks and tool results become tool_result blocks. Consecutive
// tool results are merged into a single user message so the strict
// user/assistant alternation the API expects is preserved.
func toAnthropicMessages(messages []domain.Message) (string, []anthropicMsg) {
	var system string
	var msgs []anthropicMsg

	appendToolResult := func(block anthropicBlock) {
		if n := len(msgs); n > 0 && msgs[n-1].Role == "user" {
			if blocks, ok := msgs[n-1].Content.([]anthropicBlock); ok {
				msgs[n-1].Content = append(blocks, block)
				return
			}
		}
		msgs = append(msgs, anthropicMsg{Role: "user", Content: []anthropicBlock{block}})
	}

	for _, m := range messages {
		switch {
		case m.Role == "system":
			system = m.Content

		case m.Role == "tool":
			appendToolResult(anthropicBlock{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
			})

		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			var blocks []anthropicBlock
			if m.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = make(map[string]any)
				}
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			msgs = append(msgs, anthropicMsg{Role: "assistant", Content: blocks})

		default:
			msgs = append(msgs, anthropicMsg{Role: m.Role, Content: m.Content})
		}
	}
	return system, msgs
}

var _ domain.Provider = (*Anthropic)(nil)
