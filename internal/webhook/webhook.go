// Package webhook implements the plain request/response channel:
// inbound messages arrive as signed HTTP POSTs, outbound messages are
// forwarded as JSON POSTs to a configured URL.
package webhook

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/wrenly/switchboard/internal/channel"
	"github.com/wrenly/switchboard/internal/httpkit"
)

// ErrBadSignature means an inbound payload failed signature
// verification. Rejected outright: no retry, no partial processing.
var ErrBadSignature = errors.New("webhook: invalid signature")

// signatureHeader carries the hex digest on inbound requests.
const signatureHeader = "X-Webhook-Signature"

// Config holds the webhook channel settings.
type Config struct {
	// Secret, when set, requires inbound payloads to carry a valid
	// sha256(secret+payload) hex signature.
	Secret string
	// OutboundURL, when set, receives outbound messages as JSON POSTs.
	OutboundURL string
	Logger      *slog.Logger
}

// Channel is the webhook connector.
type Channel struct {
	cfg    Config
	httpc  *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	connected bool
	stream    *channel.Stream
}

// New creates a webhook channel from config.
func New(cfg Config) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		cfg:    cfg,
		httpc:  httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
		logger: logger,
	}
}

// Name implements channel.Channel.
func (c *Channel) Name() string { return "webhook" }

// Kind implements channel.Channel.
func (c *Channel) Kind() channel.Kind { return channel.KindSimple }

// Connect implements channel.Channel. Webhooks have no session to
// establish.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.logger.Info("webhook channel connected")
	return nil
}

// Disconnect implements channel.Channel. Idempotent.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
	return nil
}

// Connected implements channel.Channel.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send forwards an outbound message to the configured URL. A channel
// without an outbound URL accepts and drops sends.
func (c *Channel) Send(ctx context.Context, msg channel.Outbound) error {
	if c.cfg.OutboundURL == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"thread_id": msg.ThreadID,
		"content":   msg.Content,
		"reply_to":  msg.ReplyTo,
	})
	if err != nil {
		return fmt.Errorf("webhook send: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OutboundURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook send: %s", resp.Status)
	}
	return nil
}

// Listen returns the inbound stream fed by Inject/Handler.
func (c *Channel) Listen(ctx context.Context) (*channel.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return nil, fmt.Errorf("webhook: already listening")
	}
	c.stream = channel.NewStream()
	return c.stream, nil
}

// ParseInbound verifies and maps a raw webhook payload to a canonical
// message. Signature verification runs when both a secret is configured
// and a signature was supplied; a mismatch is rejected outright.
func (c *Channel) ParseInbound(payload []byte, signature string) (channel.Message, error) {
	if c.cfg.Secret != "" && signature != "" {
		sum := sha256.Sum256(append([]byte(c.cfg.Secret), payload...))
		expected := hex.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
			return channel.Message{}, ErrBadSignature
		}
	}

	var body struct {
		ThreadID   string `json:"thread_id"`
		SenderID   string `json:"sender_id"`
		SenderName string `json:"sender_name"`
		Content    string `json:"content"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return channel.Message{}, fmt.Errorf("webhook: invalid JSON: %w", err)
	}

	msg := channel.Message{
		Channel:    "webhook",
		ThreadID:   body.ThreadID,
		SenderID:   body.SenderID,
		SenderName: body.SenderName,
		Content:    body.Content,
		Kind:       channel.ThreadDirect,
		Timestamp:  time.Now().UTC(),
	}
	if msg.ThreadID == "" {
		msg.ThreadID = "webhook"
	}
	if msg.SenderID == "" {
		msg.SenderID = "external"
	}
	return msg, nil
}

// Inject publishes an inbound message to the stream. Returns an error
// when the consumer has closed the stream or Listen has not run.
func (c *Channel) Inject(msg channel.Message) error {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()

	if stream == nil {
		return fmt.Errorf("webhook: not listening")
	}
	if !stream.Publish(msg) {
		return fmt.Errorf("webhook: receiver closed")
	}
	return nil
}

// Handler returns an http.HandlerFunc that accepts signed inbound
// webhook POSTs and injects them into the stream.
func (c *Channel) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}

		msg, err := c.ParseInbound(payload, r.Header.Get(signatureHeader))
		if err != nil {
			if errors.Is(err, ErrBadSignature) {
				c.logger.Warn("webhook rejected: bad signature", "remote", r.RemoteAddr)
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		if err := c.Inject(msg); err != nil {
			http.Error(w, "channel unavailable", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

var _ channel.Channel = (*Channel)(nil)
