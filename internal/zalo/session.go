package zalo

import "encoding/json"

// API version parameters appended to every service-map endpoint call.
const (
	zpwVer  = 645
	zpwType = 30
)

// ServiceMap holds the per-account API endpoints returned by login.
// They replace the hardcoded defaults below.
type ServiceMap struct {
	Chat         []string `json:"chat"`
	Group        []string `json:"group"`
	File         []string `json:"file"`
	Friend       []string `json:"friend"`
	Profile      []string `json:"profile"`
	Sticker      []string `json:"sticker"`
	Reaction     []string `json:"reaction"`
	Conversation []string `json:"conversation"`
}

// parseServiceMap decodes the zpw_service_map_v3 object from login
// data. Unknown keys are ignored; missing keys leave the defaults in
// effect.
func parseServiceMap(raw json.RawMessage) ServiceMap {
	var m ServiceMap
	if len(raw) == 0 {
		return m
	}
	_ = json.Unmarshal(raw, &m)
	return m
}

// ChatURL returns the best chat endpoint, falling back to the default.
func (m ServiceMap) ChatURL() string {
	if len(m.Chat) > 0 {
		return m.Chat[0]
	}
	return "https://tt-chat-wpa.chat.zalo.me/api"
}

// GroupURL returns the best group endpoint, falling back to the default.
func (m ServiceMap) GroupURL() string {
	if len(m.Group) > 0 {
		return m.Group[0]
	}
	return "https://tt-group-wpa.chat.zalo.me/api"
}

// ReactionURL returns the best reaction endpoint, falling back to the
// chat default.
func (m ServiceMap) ReactionURL() string {
	if len(m.Reaction) > 0 {
		return m.Reaction[0]
	}
	return "https://tt-chat-wpa.chat.zalo.me/api"
}

// Session is the credential a successful login yields. It is owned
// exclusively by this channel and never shared across channels.
type Session struct {
	// UID is the account's user ID.
	UID string
	// Cookie is the session cookie replayed on every API call.
	Cookie string
	// SecretKey is the zpw_enk request-signing key, when provided.
	SecretKey string
	// EncodeKey is the zpw_key payload key, when provided.
	EncodeKey string
	// Services are the dynamic API endpoints for this account.
	Services ServiceMap
}
