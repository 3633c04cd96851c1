package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"nanobot/internal/domain"
)

const (
	webhookTextTimeout = 10 * time.Second
	webhookFileTimeout = 60 * time.Second // file transfers on the far side are slow
)

// Webhook implements domain.Channel as a plain JSON bridge: inbound messages
// arrive as signed POSTs, replies go out as POSTs to a callback URL. This is
// the integration point for bridge daemons that relay chat networks without
// a native adapter.
type Webhook struct {
	host     string
	port     int
	path     string
	secret   string
	replyURL string

	server *http.Server
	client *http.Client
	logger *slog.Logger
}

type WebhookConfig struct {
	Host     string
	Port     int
	Path     string
	Secret   string // HMAC-SHA256 key; empty disables signature checks
	ReplyURL string // where outbound replies are POSTed; empty drops them
	Logger   *slog.Logger
}

// webhookPayload is the inbound POST body.
type webhookPayload struct {
	Sender  string `json:"sender"`
	ChatID  string `json:"chat_id,omitempty"` // defaults to sender
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// webhookReply is the outbound POST body. Media goes out as one reply per
// file with type "file" and the local path as content.
type webhookReply struct {
	SessionName string `json:"session_name"`
	Content     string `json:"content"`
	Type        string `json:"type"`
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8098
	}
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		host:     cfg.Host,
		port:     cfg.Port,
		path:     cfg.Path,
		secret:   cfg.Secret,
		replyURL: cfg.ReplyURL,
		client:   &http.Client{Timeout: webhookFileTimeout},
		logger:   cfg.Logger,
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Start runs the inbound HTTP listener until ctx is cancelled.
func (w *Webhook) Start(ctx context.Context, bus domain.MessageBus) error {
	mux := http.NewServeMux()
	mux.HandleFunc(w.path, func(rw http.ResponseWriter, r *http.Request) {
		w.handleInbound(bus, rw, r)
	})

	w.server = &http.Server{
		Addr:              net.JoinHostPort(w.host, strconv.Itoa(w.port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook listening", "addr", w.server.Addr, "path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

// Stop is a no-op; Start shuts the server down when its context is cancelled.
func (w *Webhook) Stop() error { return nil }

func (w *Webhook) handleInbound(bus domain.MessageBus, rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if payload.Message == "" || payload.Sender == "" {
		http.Error(rw, "message and sender are required", http.StatusBadRequest)
		return
	}
	if payload.ChatID == "" {
		payload.ChatID = payload.Sender
	}

	w.logger.Info("webhook message received",
		"sender", payload.Sender,
		"chat_id", payload.ChatID,
		"content_len", len(payload.Message),
	)

	meta := map[string]string{}
	if payload.Type != "" {
		meta["type"] = payload.Type
	}
	if err := bus.PublishInbound(domain.InboundMessage{
		Channel:   "webhook",
		SenderID:  payload.Sender,
		ChatID:    payload.ChatID,
		Content:   payload.Message,
		Metadata:  meta,
		Timestamp: time.Now(),
	}); err != nil {
		http.Error(rw, "queue full", http.StatusServiceUnavailable)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rw).Encode(map[string]string{"status": "accepted"})
}

// Send POSTs the reply to the callback URL: text first, then one request per
// media file.
func (w *Webhook) Send(ctx context.Context, msg domain.OutboundMessage) error {
	if w.replyURL == "" {
		w.logger.Debug("webhook outbound dropped: no reply URL", "chat_id", msg.ChatID)
		return nil
	}

	if msg.Content != "" {
		if err := w.postReply(ctx, webhookReply{
			SessionName: msg.ChatID,
			Content:     msg.Content,
			Type:        "text",
		}, webhookTextTimeout); err != nil {
			return fmt.Errorf("webhook reply: %w", err)
		}
	}

	for _, path := range msg.Media {
		if err := w.postReply(ctx, webhookReply{
			SessionName: msg.ChatID,
			Content:     path,
			Type:        "file",
		}, webhookFileTimeout); err != nil {
			w.logger.Error("webhook media reply failed", "path", path, "err", err)
		}
	}
	return nil
}

func (w *Webhook) postReply(ctx context.Context, reply webhookReply, timeout time.Duration) error {
	body, err := json.Marshal(reply)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.replyURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("reply endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// verifyHMAC checks an HMAC-SHA256 signature in "sha256=<hex>" form.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

var _ domain.Channel = (*Webhook)(nil)
