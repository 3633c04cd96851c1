package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"nanobot/internal/domain"
)

// CLI implements domain.Channel as an interactive terminal REPL.
type CLI struct {
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL until EOF, /quit or context cancellation.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	_, _ = fmt.Fprintln(c.out, "nanobot CLI. Type a message and press Enter; /quit to exit.")
	_, _ = fmt.Fprint(c.out, "you> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			_, _ = fmt.Fprint(c.out, "you> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("cli quit requested")
			return nil
		}

		c.startThinking()
		if err := bus.PublishInbound(domain.InboundMessage{
			Channel:   "cli",
			SenderID:  "user",
			ChatID:    "direct",
			Content:   line,
			Timestamp: time.Now(),
		}); err != nil {
			c.stopThinking()
			_, _ = fmt.Fprintf(c.out, "\r\033[Kerror: %v\nyou> ", err)
		}
	}
}

func (c *CLI) Stop() error { return nil }

// Send prints the reply and restores the prompt.
func (c *CLI) Send(ctx context.Context, msg domain.OutboundMessage) error {
	c.stopThinking()
	_, _ = fmt.Fprint(c.out, "\r\033[K") // clear spinner line
	if msg.Content != "" {
		_, _ = fmt.Fprintln(c.out, msg.Content)
	}
	for _, path := range msg.Media {
		_, _ = fmt.Fprintf(c.out, "[media] %s\n", path)
	}
	_, _ = fmt.Fprint(c.out, "you> ")
	return nil
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func(stop chan struct{}) {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s thinking...", frames[i%len(frames)])
				i++
			}
		}
	}(c.thinkStop)
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}

var _ domain.Channel = (*CLI)(nil)
