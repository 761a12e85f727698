package zalo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wrenly/switchboard/internal/channel"
)

// Config holds the Zalo connector settings.
type Config struct {
	// IMEI is the device fingerprint; empty means a generated one.
	IMEI string
	// Cookie is an existing session cookie; empty means the QR
	// handshake must run before Connect.
	Cookie string
	// UserAgent overrides the browser fingerprint.
	UserAgent string
	Logger    *slog.Logger
}

// Channel is the Zalo personal-account connector. Authentication runs
// through the QR handshake (or a saved cookie); sends go through the
// synchronous Web API.
type Channel struct {
	auth   *Auth
	cookie string
	logger *slog.Logger

	mu        sync.Mutex
	session   *Session
	msg       *Client
	connected bool
	stream    *channel.Stream
}

// New creates a Zalo channel from config.
func New(cfg Config) *Channel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	creds := DefaultCredentials()
	if cfg.IMEI != "" {
		creds.IMEI = cfg.IMEI
	}
	if cfg.UserAgent != "" {
		creds.UserAgent = cfg.UserAgent
	}
	creds.Cookie = cfg.Cookie

	return &Channel{
		auth:   NewAuth(creds, logger),
		cookie: cfg.Cookie,
		logger: logger,
	}
}

// Name implements channel.Channel.
func (c *Channel) Name() string { return "zalo" }

// Kind implements channel.Channel.
func (c *Channel) Kind() channel.Kind { return channel.KindHandshake }

// LoginQR runs the QR handshake to completion. onStatus receives each
// phase transition so a caller can display the code and report scan
// progress.
func (c *Channel) LoginQR(ctx context.Context, onStatus func(Status)) error {
	sess, err := c.auth.Login(ctx, onStatus)
	if err != nil {
		return err
	}
	c.setSession(sess)
	return nil
}

// LoginCookie authenticates with a saved session cookie.
func (c *Channel) LoginCookie(ctx context.Context, cookie string) error {
	sess, err := c.auth.LoginCookie(ctx, cookie)
	if err != nil {
		return err
	}
	c.setSession(sess)
	return nil
}

func (c *Channel) setSession(sess *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = sess
	c.msg = NewClient(sess, c.logger)
}

// Session returns the current session credential, or nil before login.
func (c *Channel) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Connect marks the channel connected. A session must exist: run
// LoginQR or LoginCookie first, or configure a cookie.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	haveSession := c.session != nil
	c.mu.Unlock()

	if !haveSession {
		if c.cookie == "" {
			return fmt.Errorf("zalo connect: no session (run login-qr or configure a cookie)")
		}
		if err := c.LoginCookie(ctx, c.cookie); err != nil {
			return fmt.Errorf("zalo connect: %w", err)
		}
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Disconnect invalidates the in-memory session. Idempotent.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = nil
	c.msg = nil
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

// Send delivers a text message through the synchronous Web API.
func (c *Channel) Send(ctx context.Context, msg channel.Outbound) error {
	c.mu.Lock()
	client := c.msg
	c.mu.Unlock()

	if client == nil {
		return fmt.Errorf("zalo send: not logged in")
	}
	_, err := client.SendText(ctx, msg.ThreadID, msg.Kind, msg.Content)
	return err
}

// Listen returns the inbound stream. The real-time listener socket is
// not part of this connector yet; the stream stays open (and empty)
// until the consumer closes it.
func (c *Channel) Listen(ctx context.Context) (*channel.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return nil, fmt.Errorf("zalo: already listening")
	}
	c.stream = channel.NewStream()
	return c.stream, nil
}

var _ channel.Channel = (*Channel)(nil)
