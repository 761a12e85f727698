// Package channel defines the boundary between the platform connectors
// and the agent: the canonical message shape every platform normalizes
// into, the Channel interface the agent consumes, and the inbound
// message stream.
package channel

import (
	"context"
	"time"
)

// ThreadKind distinguishes one-on-one conversations from group threads.
type ThreadKind string

const (
	// ThreadDirect is a one-on-one conversation.
	ThreadDirect ThreadKind = "direct"
	// ThreadGroup is a multi-party conversation (guild channel, group chat).
	ThreadGroup ThreadKind = "group"
)

// Kind describes how a channel maintains its platform connection.
type Kind string

const (
	// KindGateway channels hold a persistent server-push connection with
	// heartbeats and automatic reconnection (Discord).
	KindGateway Kind = "gateway"
	// KindHandshake channels authenticate through a multi-step handshake
	// resolved by long polling, then send over a synchronous API (Zalo).
	KindHandshake Kind = "handshake"
	// KindSimple channels are plain request/response (webhooks).
	KindSimple Kind = "simple"
)

// Message is the canonical inbound message. It is immutable once
// constructed and is the only artifact that crosses from a connector to
// the agent.
type Message struct {
	// Channel names the source connector ("discord", "zalo", "webhook").
	Channel string
	// ThreadID identifies the conversation thread on the platform.
	ThreadID string
	// SenderID is the platform-specific author identifier.
	SenderID string
	// SenderName is the author's display name, when the platform provides one.
	SenderName string
	// Content is the message body.
	Content string
	// Kind reports whether the thread is direct or group.
	Kind ThreadKind
	// Timestamp is when the message was received.
	Timestamp time.Time
	// ReplyTo is the ID of the message being replied to, if any.
	ReplyTo string
}

// Outbound is a message the agent wants delivered to a thread.
type Outbound struct {
	ThreadID string
	Content  string
	Kind     ThreadKind
	ReplyTo  string
}

// Channel is the contract every platform connector implements. Callers
// depend only on this interface; connectors differ in how they keep the
// platform link alive (see Kind).
type Channel interface {
	// Name returns the connector name ("discord", "zalo", "webhook").
	Name() string

	// Kind reports the connectivity model of this channel.
	Kind() Kind

	// Connect verifies identity/credentials and marks the channel connected.
	Connect(ctx context.Context) error

	// Disconnect tears down session state. Idempotent.
	Disconnect() error

	// Connected reports whether Connect has succeeded.
	Connected() bool

	// Send delivers an outbound message synchronously through the
	// platform's API. Independent of any push connection.
	Send(ctx context.Context, msg Outbound) error

	// Listen returns the live stream of canonical inbound messages. The
	// stream is not restartable: closing it shuts the connector's
	// receive side down for good.
	Listen(ctx context.Context) (*Stream, error)
}
