// ABOUTME: Terminal client for chatting with larder-gateway over the HTTP API.
// ABOUTME: Streams NDJSON turn events and manages conversations and pending actions.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// clientConfig is the optional TOML config at ~/.config/larder/chat.toml.
// Flags and environment variables override it.
type clientConfig struct {
	Server   string `toml:"server"`
	Token    string `toml:"token"`
	Timezone string `toml:"timezone"`
}

// configDir returns the larder config directory, honoring XDG_CONFIG_HOME.
func configDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(dir, "larder")
}

// loadClientConfig reads chat.toml if present. A missing or broken file is
// not an error; the client falls back to flags and defaults.
func loadClientConfig() clientConfig {
	dir := configDir()
	if dir == "" {
		return clientConfig{}
	}
	var cfg clientConfig
	if _, err := toml.DecodeFile(filepath.Join(dir, "chat.toml"), &cfg); err != nil {
		return clientConfig{}
	}
	return cfg
}

// resolveToken returns the JWT from LARDER_TOKEN, then chat.toml, then the
// token file that bootstrap writes.
func resolveToken(cfg clientConfig) string {
	if token := os.Getenv("LARDER_TOKEN"); token != "" {
		return token
	}
	if cfg.Token != "" {
		return cfg.Token
	}

	dir := configDir()
	if dir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// resolveTimezone returns the IANA zone name to advertise to the gateway.
// Go cannot portably discover it, so it comes from chat.toml or TZ.
func resolveTimezone(cfg clientConfig) string {
	if cfg.Timezone != "" {
		return cfg.Timezone
	}
	return os.Getenv("TZ")
}

// streamRequest is the JSON body sent to POST /api/conversations/{id}/stream.
type streamRequest struct {
	Content       string         `json:"content"`
	ClientContext *clientContext `json:"client_context,omitempty"`
}

// clientContext carries the local clock so date questions resolve in the
// user's day, not the server's.
type clientContext struct {
	CurrentDatetime string `json:"current_datetime"`
	UserTimezone    string `json:"user_timezone,omitempty"`
}

// wireEvent is one NDJSON line from the push stream.
type wireEvent struct {
	Event          string          `json:"event"`
	ConversationID string          `json:"conversation_id"`
	MessageID      string          `json:"message_id"`
	Data           json.RawMessage `json:"data"`
}

// block mirrors the message block shapes the gateway returns.
type block struct {
	Type        string         `json:"type"`
	Text        string         `json:"text,omitempty"`
	Card        map[string]any `json:"card,omitempty"`
	ActionID    string         `json:"action_id,omitempty"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	AcceptLabel string         `json:"accept_label,omitempty"`
	CancelLabel string         `json:"cancel_label,omitempty"`
}

type conversationInfo struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	LastActivityAt string `json:"last_activity_at"`
}

type conversationsResponse struct {
	Conversations []conversationInfo `json:"conversations"`
	Total         int                `json:"total"`
	HasMore       bool               `json:"has_more"`
}

type messageInfo struct {
	ID        string  `json:"id"`
	Role      string  `json:"role"`
	Blocks    []block `json:"blocks"`
	CreatedAt string  `json:"created_at"`
}

type messagesResponse struct {
	Messages []messageInfo `json:"messages"`
	HasMore  bool          `json:"has_more"`
}

type actionInfo struct {
	ID           string `json:"id"`
	ToolName     string `json:"tool_name"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Status       string `json:"status"`
	CancelReason string `json:"cancel_reason"`
	ErrorText    string `json:"error_text"`
}

type actionsResponse struct {
	Actions []actionInfo `json:"actions"`
}

type actionResultResponse struct {
	Action actionInfo `json:"action"`
}

// client holds the session state for the interactive loop.
type client struct {
	server   string
	token    string
	timezone string
	convID   string

	// midLine is true while streamed deltas have left the cursor mid-line,
	// so line-oriented output knows to break first.
	midLine bool
}

func main() {
	fileCfg := loadClientConfig()

	server := flag.String("server", "", "Gateway server URL (overrides chat.toml)")
	conversation := flag.String("conversation", "", "Conversation ID to resume")
	flag.Parse()

	serverURL := *server
	if serverURL == "" {
		serverURL = fileCfg.Server
	}
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	c := &client{
		server:   strings.TrimRight(serverURL, "/"),
		token:    resolveToken(fileCfg),
		timezone: resolveTimezone(fileCfg),
		convID:   *conversation,
	}
	if c.convID == "" {
		c.convID = uuid.New().String()
	}

	fmt.Printf("larder-chat connected to %s\n", c.server)
	if c.token != "" {
		fmt.Println("Auth: JWT token configured")
	} else {
		fmt.Println("Auth: none (set LARDER_TOKEN or run larder-gateway bootstrap)")
	}
	fmt.Printf("Conversation: %s\n", c.convID)
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := c.run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func (c *client) run(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")

		// Read input with context awareness
		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		if err := c.dispatch(ctx, input); err != nil {
			fmt.Printf("\033[31m[error] %v\033[0m\n", err)
		}
		fmt.Println()
	}
}

// dispatch routes a line of input to a slash command or a streamed turn.
func (c *client) dispatch(ctx context.Context, input string) error {
	switch {
	case input == "/help":
		printHelp()
		return nil

	case input == "/new":
		c.convID = uuid.New().String()
		fmt.Printf("Started conversation %s\n", c.convID)
		return nil

	case input == "/conversations":
		return c.listConversations(ctx)

	case strings.HasPrefix(input, "/open"):
		id := strings.TrimSpace(strings.TrimPrefix(input, "/open"))
		if id == "" {
			return fmt.Errorf("usage: /open <conversation-id>")
		}
		c.convID = id
		fmt.Printf("Switched to conversation %s\n", c.convID)
		return nil

	case input == "/history":
		return c.fetchHistory(ctx)

	case input == "/actions":
		return c.listActions(ctx)

	case strings.HasPrefix(input, "/accept"):
		id := strings.TrimSpace(strings.TrimPrefix(input, "/accept"))
		if id == "" {
			return fmt.Errorf("usage: /accept <action-id>")
		}
		return c.acceptAction(ctx, id)

	case strings.HasPrefix(input, "/cancel"):
		rest := strings.TrimSpace(strings.TrimPrefix(input, "/cancel"))
		if rest == "" {
			return fmt.Errorf("usage: /cancel <action-id> [reason]")
		}
		parts := strings.SplitN(rest, " ", 2)
		reason := ""
		if len(parts) == 2 {
			reason = strings.TrimSpace(parts[1])
		}
		return c.cancelAction(ctx, parts[0], reason)

	case strings.HasPrefix(input, "/"):
		return fmt.Errorf("unknown command %q (try /help)", strings.Fields(input)[0])

	default:
		return c.sendTurn(ctx, input)
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /conversations      List your conversations")
	fmt.Println("  /open <id>          Switch to a conversation")
	fmt.Println("  /new                Start a fresh conversation")
	fmt.Println("  /history            Show recent messages in this conversation")
	fmt.Println("  /actions            List pending actions in this conversation")
	fmt.Println("  /accept <id>        Accept a proposed action")
	fmt.Println("  /cancel <id> [why]  Cancel a proposed action")
	fmt.Println("  /help               Show this help")
	fmt.Println("  /quit               Exit")
}

// newRequest builds an authenticated request against the gateway.
func (c *client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.server+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// decodeError turns a non-200 response into an error, preferring the
// gateway's JSON error message over the bare status code.
func decodeError(resp *http.Response) error {
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var errResp map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			if msg, ok := errResp["error"]; ok {
				return fmt.Errorf("%s", msg)
			}
		}
	}
	return fmt.Errorf("server returned status %d", resp.StatusCode)
}

func (c *client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

func (c *client) listConversations(ctx context.Context) error {
	var list conversationsResponse
	if err := c.getJSON(ctx, "/api/conversations?limit=20", &list); err != nil {
		return err
	}

	if len(list.Conversations) == 0 {
		fmt.Println("No conversations yet")
		return nil
	}

	fmt.Printf("Conversations (%d total):\n", list.Total)
	for _, conv := range list.Conversations {
		marker := "  "
		if conv.ID == c.convID {
			marker = "\033[32m* \033[0m"
		}
		fmt.Printf("%s%s  %s\n", marker, conv.ID, conv.Title)
	}
	if list.HasMore {
		fmt.Println("\033[2m... more conversations available\033[0m")
	}
	return nil
}

func (c *client) fetchHistory(ctx context.Context) error {
	var history messagesResponse
	path := fmt.Sprintf("/api/conversations/%s/messages?limit=20", c.convID)
	if err := c.getJSON(ctx, path, &history); err != nil {
		return err
	}

	if len(history.Messages) == 0 {
		fmt.Println("No messages in this conversation")
		return nil
	}

	fmt.Println(strings.Repeat("-", 60))
	for _, msg := range history.Messages {
		prefix := "  "
		switch msg.Role {
		case "user":
			prefix = "\033[34m→\033[0m " // Blue arrow for user messages
		case "assistant":
			prefix = "\033[32m←\033[0m " // Green arrow for assistant messages
		}

		for _, b := range msg.Blocks {
			switch b.Type {
			case "text":
				text := stripMarkdown(b.Text)
				if len(text) > 200 {
					text = text[:197] + "..."
				}
				fmt.Printf("%s%s\n", prefix, text)
			case "card":
				fmt.Printf("%s\033[33m[card]\033[0m %v\n", prefix, b.Card["title"])
			case "action_card":
				fmt.Printf("%s\033[33m[action]\033[0m %s (%s)\n", prefix, b.Title, b.ActionID)
			}
		}
	}
	if history.HasMore {
		fmt.Println("\033[2m... older messages available\033[0m")
	}
	fmt.Println(strings.Repeat("-", 60))
	return nil
}

func (c *client) listActions(ctx context.Context) error {
	var list actionsResponse
	path := fmt.Sprintf("/api/conversations/%s/actions", c.convID)
	if err := c.getJSON(ctx, path, &list); err != nil {
		return err
	}

	if len(list.Actions) == 0 {
		fmt.Println("No actions in this conversation")
		return nil
	}

	fmt.Println("Actions:")
	for _, a := range list.Actions {
		fmt.Printf("  %s  %s  %s\n", a.ID, colorStatus(a.Status), a.Title)
		if a.Status == "failed" && a.ErrorText != "" {
			fmt.Printf("      \033[31m%s\033[0m\n", a.ErrorText)
		}
		if a.Status == "canceled" && a.CancelReason != "" {
			fmt.Printf("      \033[2m%s\033[0m\n", a.CancelReason)
		}
	}
	return nil
}

func colorStatus(status string) string {
	switch status {
	case "proposed":
		return "\033[33m" + status + "\033[0m"
	case "succeeded":
		return "\033[32m" + status + "\033[0m"
	case "failed":
		return "\033[31m" + status + "\033[0m"
	default:
		return "\033[2m" + status + "\033[0m"
	}
}

func (c *client) acceptAction(ctx context.Context, actionID string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/actions/"+actionID+"/accept", nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("accepting action: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	var result actionResultResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	switch result.Action.Status {
	case "succeeded":
		fmt.Printf("\033[32m[accepted]\033[0m %s\n", result.Action.Title)
	case "failed":
		fmt.Printf("\033[31m[accepted, but failed]\033[0m %s\n", result.Action.ErrorText)
	default:
		fmt.Printf("[accepted] status: %s\n", result.Action.Status)
	}
	return nil
}

func (c *client) cancelAction(ctx context.Context, actionID, reason string) error {
	var body any
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/actions/"+actionID+"/cancel", body)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("canceling action: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	var result actionResultResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("\033[2m[canceled]\033[0m %s\n", result.Action.Title)
	return nil
}

// sendTurn posts the message and renders the NDJSON stream until done.
func (c *client) sendTurn(ctx context.Context, content string) error {
	reqBody := streamRequest{
		Content: content,
		ClientContext: &clientContext{
			CurrentDatetime: time.Now().Format(time.RFC3339),
			UserTimezone:    c.timezone,
		},
	}

	path := fmt.Sprintf("/api/conversations/%s/stream", c.convID)
	req, err := c.newRequest(ctx, http.MethodPost, path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	return c.streamEvents(ctx, resp.Body)
}

// streamEvents renders NDJSON lines as they arrive. Lines above the
// gateway's 16KB event ceiling never occur, so the buffer matches it.
func (c *client) streamEvents(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 17*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var ev wireEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("parsing event: %w", err)
		}
		c.renderEvent(ev)
	}

	return scanner.Err()
}

// breakLine ends a partially streamed text line before block output.
func (c *client) breakLine() {
	if c.midLine {
		fmt.Println()
		c.midLine = false
	}
}

func (c *client) renderEvent(ev wireEvent) {
	switch ev.Event {
	case "status":
		var data struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(ev.Data, &data); err == nil && data.State != "" {
			fmt.Printf("\033[2m[%s]\033[0m\n", data.State)
		}

	case "message.delta":
		var data struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal(ev.Data, &data); err == nil {
			fmt.Print(stripMarkdown(data.Delta))
			c.midLine = true
		}

	case "tool.started":
		var data struct {
			Tool string `json:"tool_name"`
		}
		c.breakLine()
		if err := json.Unmarshal(ev.Data, &data); err == nil {
			fmt.Printf("\033[33m[tool] %s\033[0m\n", data.Tool)
		}

	case "tool.result":
		var data struct {
			Status string         `json:"status"`
			Result map[string]any `json:"result"`
		}
		c.breakLine()
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return
		}
		if data.Status == "error" {
			detail := truncate(fmt.Sprintf("%v", data.Result["error"]), 100)
			fmt.Printf("\033[31m[tool error] %s\033[0m\n", detail)
		} else {
			fmt.Printf("\033[32m[tool done]\033[0m\n")
		}

	case "blocks.append":
		var data struct {
			Blocks []block `json:"blocks"`
		}
		c.breakLine()
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return
		}
		for _, b := range data.Blocks {
			switch b.Type {
			case "card":
				fmt.Printf("\033[33m[card]\033[0m %v", b.Card["title"])
				if subtitle, ok := b.Card["subtitle"].(string); ok && subtitle != "" {
					fmt.Printf(" \033[2m%s\033[0m", subtitle)
				}
				fmt.Println()
			case "action_card":
				fmt.Printf("\033[33m[action staged]\033[0m %s\n", b.Title)
				if b.Description != "" {
					fmt.Printf("  \033[2m%s\033[0m\n", truncate(b.Description, 120))
				}
				fmt.Printf("  %s: /accept %s\n", b.AcceptLabel, b.ActionID)
				fmt.Printf("  %s: /cancel %s\n", b.CancelLabel, b.ActionID)
			}
		}

	case "message.complete":
		c.breakLine()

	case "error":
		var data struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		c.breakLine()
		if err := json.Unmarshal(ev.Data, &data); err == nil {
			fmt.Printf("\033[31m[error] %s\033[0m\n", data.Message)
		}

	case "done":
		c.breakLine()

	default:
		// Ignore unknown events silently
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// stripMarkdown removes common markdown formatting from text.
func stripMarkdown(s string) string {
	// Remove bold/italic markers (order matters: ** before *)
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	// Don't remove single * as it's often used for lists
	return s
}
