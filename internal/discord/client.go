package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wrenly/switchboard/internal/httpkit"
)

// defaultAPIBase is the Discord REST API root.
const defaultAPIBase = "https://discord.com/api/v10"

// Client is the synchronous Discord REST client. Outbound sends go
// through it directly; it is independent of the gateway connection.
type Client struct {
	httpc   *http.Client
	token   string
	apiBase string
	logger  *slog.Logger
}

// NewClient creates a REST client authenticated as a bot.
func NewClient(token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpc: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(2, 500*time.Millisecond),
			httpkit.WithLogger(logger),
		),
		token:   token,
		apiBase: defaultAPIBase,
		logger:  logger,
	}
}

// do issues an authenticated request and decodes the JSON response into
// out (when non-nil). Non-2xx statuses are returned as errors.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("discord %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := httpkit.ReadErrorBody(resp.Body, 2048)
		return fmt.Errorf("discord %s %s: %s: %s", method, path, resp.Status, detail)
	}

	if out == nil {
		httpkit.DrainAndClose(resp.Body, 1<<20)
		return nil
	}

	defer httpkit.DrainAndClose(resp.Body, 1<<20)
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Me returns the bot's own user, used to verify the token and to filter
// self-authored gateway events.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/users/@me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SendMessage posts a text message to a channel.
func (c *Client) SendMessage(ctx context.Context, channelID, content string) error {
	body := map[string]string{"content": content}
	return c.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", body, nil)
}

// SendTyping triggers the typing indicator in a channel. Best-effort.
func (c *Client) SendTyping(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, "/channels/"+channelID+"/typing", nil, nil)
}

// GatewayURL resolves the live gateway WebSocket endpoint. Called at
// the top of every reconnect attempt; never cached.
func (c *Client) GatewayURL(ctx context.Context) (string, error) {
	var info gatewayInfo
	if err := c.do(ctx, http.MethodGet, "/gateway/bot", nil, &info); err != nil {
		return "", err
	}
	if info.URL == "" {
		return "", fmt.Errorf("discord gateway: empty url in /gateway/bot response")
	}
	return info.URL + "/?v=10&encoding=json", nil
}
