package zalo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wrenly/switchboard/internal/channel"
	"github.com/wrenly/switchboard/internal/httpkit"
)

// Client sends messages through the synchronous Zalo Web API using a
// logged-in session. It is independent of the login handshake: sends
// replay the session cookie against the account's service-map
// endpoints.
type Client struct {
	httpc   *http.Client
	session *Session
	logger  *slog.Logger
}

// NewClient creates a messaging client for a session.
func NewClient(session *Session, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpc: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithoutUserAgent(),
		),
		session: session,
		logger:  logger,
	}
}

// withAPIParams appends the API version query parameters every
// service-map endpoint expects.
func withAPIParams(base string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%szpw_ver=%d&zpw_type=%d", base, sep, zpwVer, zpwType)
}

// newClientID generates a client-side message identifier.
func newClientID() string {
	return "cli_" + uuid.NewString()
}

// apiResponse is the envelope the messaging endpoints return.
type apiResponse struct {
	ErrorCode    int             `json:"error_code"`
	ErrorMessage string          `json:"error_message"`
	Data         json.RawMessage `json:"data"`
}

// postForm issues a cookie-authenticated form POST to a service-map
// endpoint and decodes the response envelope.
func (c *Client) postForm(ctx context.Context, endpoint string, params url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", c.session.Cookie)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	var out apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}
	return &out, nil
}

// SendText sends a text message to a user or group thread and returns
// the server-assigned message ID.
func (c *Client) SendText(ctx context.Context, threadID string, kind channel.ThreadKind, content string) (string, error) {
	var base string
	if kind == channel.ThreadGroup {
		base = c.session.Services.GroupURL() + "/group/sendmsg"
	} else {
		base = c.session.Services.ChatURL() + "/message/sms"
	}
	endpoint := withAPIParams(base)

	params := url.Values{
		"toid":     {threadID},
		"message":  {content},
		"clientId": {newClientID()},
	}

	resp, err := c.postForm(ctx, endpoint, params)
	if err != nil {
		return "", fmt.Errorf("zalo send: %w", err)
	}
	if resp.ErrorCode != codeSuccess {
		return "", fmt.Errorf("zalo send failed: %d - %s", resp.ErrorCode, resp.ErrorMessage)
	}

	var data struct {
		MsgID string `json:"msgId"`
	}
	_ = json.Unmarshal(resp.Data, &data)
	if data.MsgID == "" {
		data.MsgID = "unknown"
	}

	c.logger.Debug("zalo message sent", "msg_id", data.MsgID, "thread_id", threadID)
	return data.MsgID, nil
}

// SendReaction reacts to a message. Best-effort: upstream ignores
// duplicates.
func (c *Client) SendReaction(ctx context.Context, msgID, threadID, reaction string) error {
	endpoint := withAPIParams(c.session.Services.ReactionURL() + "/message/reaction")

	params := url.Values{
		"msgId": {msgID},
		"toid":  {threadID},
		"rType": {reaction},
	}
	if _, err := c.postForm(ctx, endpoint, params); err != nil {
		return fmt.Errorf("zalo reaction: %w", err)
	}
	return nil
}

// UndoMessage recalls a previously sent message.
func (c *Client) UndoMessage(ctx context.Context, msgID, threadID string) error {
	endpoint := withAPIParams(c.session.Services.ChatURL() + "/message/undo")

	params := url.Values{
		"msgId": {msgID},
		"toid":  {threadID},
	}
	if _, err := c.postForm(ctx, endpoint, params); err != nil {
		return fmt.Errorf("zalo undo: %w", err)
	}
	return nil
}
