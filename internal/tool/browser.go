package tool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
)

// readLimit caps the text returned by the read action.
const readLimit = 2000

// commandSender issues Chrome DevTools Protocol commands through the
// extension relay. Satisfied by *browser.Relay.
type commandSender interface {
	SendCommand(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// BrowserTool drives the user's own browser through the relay extension.
// Every failure is rendered as a conversational result string so that a
// broken page or a missing extension never aborts the agent's turn.
type BrowserTool struct {
	relay     commandSender
	workspace string
}

func NewBrowserTool(relay commandSender, workspace string) *BrowserTool {
	return &BrowserTool{relay: relay, workspace: workspace}
}

func (t *BrowserTool) Name() string { return "browser_use" }

func (t *BrowserTool) Description() string {
	return "Control the browser. Requires the browser relay extension. Actions: navigate, click, type, read, screenshot, evaluate."
}

func (t *BrowserTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"action": {
			Type:        "string",
			Description: "Action to perform",
			Enum:        []string{"navigate", "click", "type", "read", "screenshot", "evaluate"},
		},
		"url":      {Type: "string", Description: "URL for navigate"},
		"selector": {Type: "string", Description: "CSS selector for click/type/read"},
		"text":     {Type: "string", Description: "Text to type"},
		"script":   {Type: "string", Description: "JavaScript for evaluate"},
	}, []string{"action"})
}

func (t *BrowserTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	action := ArgsString(args, "action")

	result, err := t.run(ctx, action, args)
	if err != nil {
		return fmt.Sprintf("Error executing %s: %v", action, err), nil
	}
	return result, nil
}

func (t *BrowserTool) run(ctx context.Context, action string, args map[string]any) (string, error) {
	switch action {
	case "navigate":
		return t.navigate(ctx, ArgsString(args, "url"))
	case "click":
		return t.click(ctx, ArgsString(args, "selector"))
	case "type":
		return t.typeText(ctx, ArgsString(args, "selector"), ArgsString(args, "text"))
	case "read":
		return t.read(ctx, ArgsString(args, "selector"))
	case "screenshot":
		return t.screenshot(ctx)
	case "evaluate":
		return t.evaluate(ctx, ArgsString(args, "script"))
	default:
		return fmt.Sprintf("Unknown action: %s", action), nil
	}
}

func (t *BrowserTool) navigate(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "Error: url is required for navigate", nil
	}
	if !strings.HasPrefix(url, "http") {
		url = "https://" + url
	}
	if _, err := t.relay.SendCommand(ctx, page.CommandNavigate, &page.NavigateParams{URL: url}); err != nil {
		return "", err
	}
	return fmt.Sprintf("Navigated to %s", url), nil
}

func (t *BrowserTool) click(ctx context.Context, selector string) (string, error) {
	if selector == "" {
		return "Error: selector is required for click", nil
	}
	js := fmt.Sprintf("document.querySelector(%s).click()", jsString(selector))
	res, err := t.eval(ctx, js, false)
	if err != nil {
		return "", err
	}
	if res.ExceptionDetails != nil {
		return fmt.Sprintf("Error clicking %s: %v", selector, res.ExceptionDetails), nil
	}
	return fmt.Sprintf("Clicked %s", selector), nil
}

func (t *BrowserTool) typeText(ctx context.Context, selector, text string) (string, error) {
	if selector == "" || text == "" {
		return "Error: selector and text are required for type", nil
	}
	js := fmt.Sprintf(`var el = document.querySelector(%s);
if (el) {
	el.value = %s;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
} else {
	throw new Error('Element not found');
}`, jsString(selector), jsString(text))
	res, err := t.eval(ctx, js, false)
	if err != nil {
		return "", err
	}
	if res.ExceptionDetails != nil {
		return fmt.Sprintf("Error typing in %s: %v", selector, res.ExceptionDetails), nil
	}
	return fmt.Sprintf("Typed '%s' into %s", text, selector), nil
}

func (t *BrowserTool) read(ctx context.Context, selector string) (string, error) {
	js := "document.body.innerText"
	if selector != "" && selector != "body" {
		js = fmt.Sprintf("document.querySelector(%s).innerText", jsString(selector))
	}
	res, err := t.eval(ctx, js, true)
	if err != nil {
		return "", err
	}
	if res.ExceptionDetails != nil {
		return fmt.Sprintf("Error reading %s: %v", selector, res.ExceptionDetails), nil
	}
	text := remoteValueString(res.Result)
	if r := []rune(text); len(r) > readLimit {
		text = string(r[:readLimit])
	}
	return text, nil
}

func (t *BrowserTool) screenshot(ctx context.Context) (string, error) {
	raw, err := t.relay.SendCommand(ctx, page.CommandCaptureScreenshot, &page.CaptureScreenshotParams{
		Format: page.CaptureScreenshotFormatPng,
	})
	if err != nil {
		return "", err
	}
	var res page.CaptureScreenshotReturns
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("decode screenshot response: %w", err)
	}
	if len(res.Data) == 0 {
		return "Failed to capture screenshot", nil
	}

	data, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return "", fmt.Errorf("decode screenshot data: %w", err)
	}

	name := fmt.Sprintf("screenshot_%d.png", time.Now().Unix())
	path := filepath.Join(t.workspace, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return fmt.Sprintf("Screenshot saved to %s", abs), nil
}

func (t *BrowserTool) evaluate(ctx context.Context, script string) (string, error) {
	if script == "" {
		return "Error: script is required for evaluate", nil
	}
	res, err := t.eval(ctx, script, true)
	if err != nil {
		return "", err
	}
	if res.ExceptionDetails != nil {
		return fmt.Sprintf("Error evaluating script: %v", res.ExceptionDetails), nil
	}
	return remoteValueString(res.Result), nil
}

func (t *BrowserTool) eval(ctx context.Context, expression string, byValue bool) (*runtime.EvaluateReturns, error) {
	raw, err := t.relay.SendCommand(ctx, runtime.CommandEvaluate, &runtime.EvaluateParams{
		Expression:    expression,
		ReturnByValue: byValue,
	})
	if err != nil {
		return nil, err
	}
	var res runtime.EvaluateReturns
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode evaluate response: %w", err)
	}
	return &res, nil
}

// remoteValueString renders an evaluation result as text: plain strings are
// unquoted, everything else keeps its JSON form.
func remoteValueString(obj *runtime.RemoteObject) string {
	if obj == nil || len(obj.Value) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(obj.Value), &s); err == nil {
		return s
	}
	raw := strings.TrimSpace(string(obj.Value))
	if raw == "null" {
		return ""
	}
	return raw
}

// jsString encodes s as a JavaScript string literal. JSON string syntax is
// valid JavaScript, so this doubles as injection-safe quoting for selectors
// and typed text.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
