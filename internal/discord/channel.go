package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wrenly/switchboard/internal/channel"
)

// Config holds the Discord connector settings.
type Config struct {
	BotToken string
	// Intents is the gateway capability bitmask; zero means DefaultIntents.
	Intents uint64
	Logger  *slog.Logger
}

// Channel is the Discord connector: REST for outbound sends, gateway
// push connection for inbound events.
type Channel struct {
	client  *Client
	token   string
	intents uint64
	logger  *slog.Logger

	mu        sync.Mutex
	connected bool
	self      *User
	stream    *channel.Stream
	gateway   *Gateway
}

// New creates a Discord channel from config.
func New(cfg Config) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	intents := cfg.Intents
	if intents == 0 {
		intents = DefaultIntents
	}
	return &Channel{
		client:  NewClient(cfg.BotToken, logger),
		token:   cfg.BotToken,
		intents: intents,
		logger:  logger,
	}
}

// Name implements channel.Channel.
func (c *Channel) Name() string { return "discord" }

// Kind implements channel.Channel.
func (c *Channel) Kind() channel.Kind { return channel.KindGateway }

// Connect verifies the bot token against the REST API and records the
// bot's own identity for self-event filtering.
func (c *Channel) Connect(ctx context.Context) error {
	me, err := c.client.Me(ctx)
	if err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	c.mu.Lock()
	c.self = me
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("discord bot verified",
		"username", me.Username,
		"user_id", me.ID,
	)
	return nil
}

// Disconnect tears down session state. Idempotent. Closing the stream
// stops the gateway supervisor without further reconnect attempts.
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

// Send delivers a message to a Discord channel via the REST API.
func (c *Channel) Send(ctx context.Context, msg channel.Outbound) error {
	return c.client.SendMessage(ctx, msg.ThreadID, msg.Content)
}

// SendTyping triggers the typing indicator for a thread. Best-effort.
func (c *Channel) SendTyping(ctx context.Context, threadID string) error {
	return c.client.SendTyping(ctx, threadID)
}

// Listen starts the gateway supervisor and returns the canonical
// message stream. The stream is not restartable: closing it ends the
// connector's receive side.
func (c *Channel) Listen(ctx context.Context) (*channel.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return nil, fmt.Errorf("discord: already listening")
	}

	selfID := ""
	if c.self != nil {
		selfID = c.self.ID
	}

	c.stream = channel.NewStream()
	c.gateway = NewGateway(c.client, c.token, c.intents, selfID, c.logger)
	go c.gateway.Run(ctx, c.stream)

	return c.stream, nil
}

var _ channel.Channel = (*Channel)(nil)
