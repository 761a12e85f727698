package discord

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wrenly/switchboard/internal/backoff"
	"github.com/wrenly/switchboard/internal/channel"
	"github.com/wrenly/switchboard/internal/config"
)

// State is the lifecycle of the single live gateway connection. It is
// mutated only by the link goroutine that owns the socket and reset on
// every reconnect attempt.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHello
	StateIdentifying
	StateLive
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting-hello"
	case StateIdentifying:
		return "identifying"
	case StateLive:
		return "live"
	default:
		return "unknown"
	}
}

// clientName is reported in the Identify properties.
const clientName = "switchboard"

// Gateway keeps one push connection to the Discord gateway alive
// indefinitely, republishing chat events as canonical messages. It owns
// the reconnect loop: resolve endpoint, run the link to completion,
// wait per the backoff policy, retry. It stops only when the downstream
// stream is closed by its consumer or the context is cancelled.
type Gateway struct {
	client  *Client
	token   string
	intents uint64
	selfID  string
	logger  *slog.Logger
	dialer  *websocket.Dialer
	policy  *backoff.Policy

	state atomic.Int32
}

// NewGateway builds a gateway supervisor. selfID, when non-empty, is
// the bot's own user ID; events it authored are dropped to prevent
// self-triggered loops.
func NewGateway(client *Client, token string, intents uint64, selfID string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if intents == 0 {
		intents = DefaultIntents
	}
	return &Gateway{
		client:  client,
		token:   token,
		intents: intents,
		selfID:  selfID,
		logger:  logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  16 * 1024,
		},
		policy: backoff.Default(),
	}
}

// State reports the current connection state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

func (g *Gateway) setState(s State) {
	g.state.Store(int32(s))
}

// Run drives the reconnect loop until stream is closed by its consumer
// or ctx is cancelled. Endpoint and transport failures are never fatal:
// they grow the backoff delay and the loop retries.
func (g *Gateway) Run(ctx context.Context, stream *channel.Stream) {
	defer g.setState(StateDisconnected)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stream.Closed():
			g.logger.Info("gateway stopping, consumer closed stream")
			return
		default:
		}

		g.logger.Info("gateway connecting")

		wsURL, err := g.client.GatewayURL(ctx)
		if err != nil {
			delay := g.policy.Next()
			g.logger.Error("gateway endpoint resolution failed",
				"error", err,
				"retry_in", delay.String(),
			)
			if !backoff.Wait(ctx, stream.Closed(), delay) {
				return
			}
			continue
		}

		res := g.runLink(ctx, wsURL, stream)
		if res.reachedLive {
			g.policy.Reset()
		}
		if res.consumerGone || ctx.Err() != nil {
			return
		}

		delay := g.policy.Next()
		g.logger.Info("gateway disconnected, reconnecting",
			"retry_in", delay.String(),
		)
		if !backoff.Wait(ctx, stream.Closed(), delay) {
			return
		}
	}
}

// linkResult reports why a link instance terminated.
type linkResult struct {
	// reachedLive means the connection got a Hello and sent Identify,
	// which resets the backoff schedule.
	reachedLive bool
	// consumerGone means the downstream stream was closed; the
	// supervisor must stop without another reconnect attempt.
	consumerGone bool
}

// runLink owns one physical connection from dial to close: it performs
// the opening handshake, schedules heartbeats at the server-dictated
// cadence, and dispatches opcoded frames. A single loop waits on
// whichever comes first, an inbound frame or the heartbeat deadline,
// so sequence-cursor updates and heartbeat sends are never reordered.
func (g *Gateway) runLink(ctx context.Context, wsURL string, stream *channel.Stream) linkResult {
	var res linkResult

	g.setState(StateConnecting)
	conn, _, err := g.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		g.logger.Error("gateway dial failed", "error", err)
		return res
	}
	defer conn.Close()
	g.setState(StateAwaitingHello)

	// The reader goroutine feeds frames into the select loop. Malformed
	// frames are dropped here; transport errors end the link.
	frames := make(chan payload)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case readErr <- err:
				case <-done:
				}
				return
			}
			var p payload
			if err := json.Unmarshal(data, &p); err != nil {
				g.logger.Debug("gateway dropping malformed frame", "error", err)
				continue
			}
			g.logger.Log(ctx, config.LevelTrace, "gateway frame", "raw", string(data))
			select {
			case frames <- p:
			case <-done:
				return
			}
		}
	}()

	var (
		seq        *int64
		identified bool
		interval   time.Duration
		hbTimer    *time.Timer
		hbC        <-chan time.Time // nil until Hello delivers the interval
	)
	defer func() {
		if hbTimer != nil {
			hbTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return res

		case <-stream.Closed():
			res.consumerGone = true
			return res

		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Warn("gateway closed by server")
			} else {
				g.logger.Error("gateway read error", "error", err)
			}
			return res

		case <-hbC:
			hb := heartbeatFrame{Op: opHeartbeat, D: seq}
			if err := conn.WriteJSON(hb); err != nil {
				g.logger.Error("heartbeat send failed", "error", err)
				return res
			}
			g.logger.Debug("heartbeat sent", "seq", seqValue(seq))
			hbTimer.Reset(interval)

		case p := <-frames:
			if p.S != nil {
				v := *p.S
				seq = &v
			}

			switch p.Op {
			case opHello:
				var hello helloData
				if err := json.Unmarshal(p.D, &hello); err != nil || hello.HeartbeatInterval <= 0 {
					g.logger.Warn("gateway hello missing heartbeat_interval, ignoring frame")
					continue
				}
				interval = time.Duration(hello.HeartbeatInterval) * time.Millisecond
				if hbTimer == nil {
					hbTimer = time.NewTimer(interval)
					hbC = hbTimer.C
				} else {
					hbTimer.Reset(interval)
				}
				g.logger.Debug("gateway hello", "heartbeat_interval", interval.String())

				if !identified {
					g.setState(StateIdentifying)
					identify := identifyFrame{
						Op: opIdentify,
						D: identifyData{
							Token:   g.token,
							Intents: g.intents,
							Properties: identifyProperties{
								OS:      runtime.GOOS,
								Browser: clientName,
								Device:  clientName,
							},
						},
					}
					if err := conn.WriteJSON(identify); err != nil {
						g.logger.Error("identify send failed", "error", err)
						return res
					}
					identified = true
				}
				g.setState(StateLive)
				res.reachedLive = true

			case opHeartbeatACK:
				g.logger.Debug("heartbeat acknowledged")

			case opDispatch:
				if gone := g.handleDispatch(p, stream); gone {
					res.consumerGone = true
					return res
				}

			case opReconnect:
				g.logger.Warn("gateway requested reconnect")
				return res

			case opInvalidSession:
				// The server invalidated the session. Clear the flag so
				// the next Hello triggers a fresh Identify; nothing else
				// changes on this connection.
				g.logger.Warn("gateway session invalidated")
				identified = false

			default:
				g.logger.Debug("gateway ignoring opcode", "op", p.Op)
			}
		}
	}
}

// handleDispatch routes a dispatch frame by event name. Returns true
// when the downstream consumer has gone away.
func (g *Gateway) handleDispatch(p payload, stream *channel.Stream) bool {
	switch p.T {
	case "READY":
		var ready readyData
		if err := json.Unmarshal(p.D, &ready); err != nil {
			g.logger.Warn("gateway malformed READY", "error", err)
			return false
		}
		g.logger.Info("gateway session started",
			"user", ready.User.Username,
			"user_id", ready.User.ID,
		)

	case "MESSAGE_CREATE":
		var mc messageCreate
		if err := json.Unmarshal(p.D, &mc); err != nil {
			g.logger.Warn("gateway malformed MESSAGE_CREATE", "error", err)
			return false
		}
		// Drop self-authored and bot-authored events to prevent
		// self-triggered loops.
		if mc.Author.Bot || (g.selfID != "" && mc.Author.ID == g.selfID) {
			return false
		}

		msg := channel.Message{
			Channel:    "discord",
			ThreadID:   mc.ChannelID,
			SenderID:   mc.Author.ID,
			SenderName: mc.Author.Username,
			Content:    mc.Content,
			Kind:       channel.ThreadDirect,
			Timestamp:  time.Now().UTC(),
		}
		if mc.GuildID != "" {
			msg.Kind = channel.ThreadGroup
		}
		if mc.ReferencedMessage != nil {
			msg.ReplyTo = mc.ReferencedMessage.ID
		}

		if !stream.Publish(msg) {
			g.logger.Info("gateway stream closed, stopping")
			return true
		}

	default:
		g.logger.Debug("gateway ignoring event", "event", p.T)
	}
	return false
}

// seqValue renders a nullable sequence for logging.
func seqValue(seq *int64) any {
	if seq == nil {
		return nil
	}
	return *seq
}
