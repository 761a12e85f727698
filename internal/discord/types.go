package discord

import "encoding/json"

// Gateway opcodes. Only the ones the client acts on are named; anything
// else is ignored on receipt.
const (
	opDispatch       = 0  // server event, named by the t field
	opHeartbeat      = 1  // client liveness frame
	opIdentify       = 2  // client authentication
	opReconnect      = 7  // server asks us to drop and redial
	opInvalidSession = 9  // server invalidated our session
	opHello          = 10 // first server frame, carries heartbeat_interval
	opHeartbeatACK   = 11 // server acknowledged a heartbeat
)

// DefaultIntents is the gateway event-category bitmask requested when
// the config leaves intents unset:
// GUILDS | GUILD_MESSAGES | DIRECT_MESSAGES | MESSAGE_CONTENT.
const DefaultIntents uint64 = (1 << 0) | (1 << 9) | (1 << 12) | (1 << 15)

// payload is the opcode-framed gateway envelope {op, d, s?, t?}.
type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// helloData is the d field of the Hello frame.
type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// heartbeatFrame is sent on every heartbeat deadline. D echoes the last
// seen dispatch sequence number, or null when none has been seen yet.
type heartbeatFrame struct {
	Op int    `json:"op"`
	D  *int64 `json:"d"`
}

// identifyFrame authenticates the connection. Sent exactly once per
// connection, in response to the first Hello.
type identifyFrame struct {
	Op int          `json:"op"`
	D  identifyData `json:"d"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    uint64             `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// User is a Discord user object, as returned by /users/@me and embedded
// in message events.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

// readyData is the d field of the READY dispatch.
type readyData struct {
	User User `json:"user"`
}

// messageCreate is the d field of a MESSAGE_CREATE dispatch. Only the
// fields the bridge maps are declared.
type messageCreate struct {
	ID                string  `json:"id"`
	ChannelID         string  `json:"channel_id"`
	GuildID           string  `json:"guild_id"`
	Content           string  `json:"content"`
	Author            User    `json:"author"`
	ReferencedMessage *msgRef `json:"referenced_message"`
}

type msgRef struct {
	ID string `json:"id"`
}

// gatewayInfo is the REST /gateway/bot response.
type gatewayInfo struct {
	URL string `json:"url"`
}
