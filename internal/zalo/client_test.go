package zalo

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/wrenly/switchboard/internal/channel"
)

// newTestSession points every service-map endpoint at a fake API server.
func newTestSession(t *testing.T, handler http.Handler) *Session {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &Session{
		UID:    "9001",
		Cookie: "zpw_sek=abc; zpw_uid=9001",
		Services: ServiceMap{
			Chat:     []string{srv.URL + "/chat-api"},
			Group:    []string{srv.URL + "/group-api"},
			Reaction: []string{srv.URL + "/reaction-api"},
		},
	}
}

func TestSendTextUser(t *testing.T) {
	var gotPath, gotCookie string
	var gotQuery url.Values
	var gotForm url.Values

	sess := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		gotCookie = r.Header.Get("Cookie")
		r.ParseForm()
		gotForm = r.PostForm
		io.WriteString(w, `{"error_code":0,"data":{"msgId":"srv-42"}}`)
	}))

	client := NewClient(sess, discardLogger())

	msgID, err := client.SendText(context.Background(), "user-7", channel.ThreadDirect, "hello")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if msgID != "srv-42" {
		t.Errorf("msgID = %q, want srv-42", msgID)
	}

	if gotPath != "/chat-api/message/sms" {
		t.Errorf("path = %q, want /chat-api/message/sms", gotPath)
	}
	if gotQuery.Get("zpw_ver") != "645" || gotQuery.Get("zpw_type") != "30" {
		t.Errorf("query = %v, want zpw_ver=645&zpw_type=30", gotQuery)
	}
	if gotCookie != sess.Cookie {
		t.Errorf("Cookie = %q, want session cookie replayed", gotCookie)
	}
	if gotForm.Get("toid") != "user-7" || gotForm.Get("message") != "hello" {
		t.Errorf("form = %v", gotForm)
	}
	if gotForm.Get("clientId") == "" {
		t.Error("form missing clientId")
	}
}

func TestSendTextGroup(t *testing.T) {
	var gotPath string
	sess := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		io.WriteString(w, `{"error_code":0,"data":{"msgId":"g-1"}}`)
	}))

	client := NewClient(sess, discardLogger())

	if _, err := client.SendText(context.Background(), "group-3", channel.ThreadGroup, "yo"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if gotPath != "/group-api/group/sendmsg" {
		t.Errorf("path = %q, want /group-api/group/sendmsg", gotPath)
	}
}

func TestSendTextServerError(t *testing.T) {
	sess := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error_code":-32,"error_message":"not friends"}`)
	}))

	client := NewClient(sess, discardLogger())

	if _, err := client.SendText(context.Background(), "user-7", channel.ThreadDirect, "hi"); err == nil {
		t.Fatal("expected error for non-zero error_code")
	}
}

func TestSendTextMissingMsgID(t *testing.T) {
	sess := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error_code":0,"data":{}}`)
	}))

	client := NewClient(sess, discardLogger())

	msgID, err := client.SendText(context.Background(), "user-7", channel.ThreadDirect, "hi")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if msgID != "unknown" {
		t.Errorf("msgID = %q, want unknown placeholder", msgID)
	}
}

func TestSendReaction(t *testing.T) {
	var gotPath string
	var gotForm url.Values
	sess := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		r.ParseForm()
		gotForm = r.PostForm
		io.WriteString(w, `{"error_code":0}`)
	}))

	client := NewClient(sess, discardLogger())

	if err := client.SendReaction(context.Background(), "m-1", "user-7", "heart"); err != nil {
		t.Fatalf("SendReaction: %v", err)
	}
	if gotPath != "/reaction-api/message/reaction" {
		t.Errorf("path = %q", gotPath)
	}
	if gotForm.Get("msgId") != "m-1" || gotForm.Get("rType") != "heart" {
		t.Errorf("form = %v", gotForm)
	}
}

func TestUndoMessage(t *testing.T) {
	var gotPath string
	sess := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		io.WriteString(w, `{"error_code":0}`)
	}))

	client := NewClient(sess, discardLogger())

	if err := client.UndoMessage(context.Background(), "m-1", "user-7"); err != nil {
		t.Fatalf("UndoMessage: %v", err)
	}
	if gotPath != "/chat-api/message/undo" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestServiceMapFallbacks(t *testing.T) {
	var m ServiceMap
	if got := m.ChatURL(); got != "https://tt-chat-wpa.chat.zalo.me/api" {
		t.Errorf("ChatURL fallback = %q", got)
	}
	if got := m.GroupURL(); got != "https://tt-group-wpa.chat.zalo.me/api" {
		t.Errorf("GroupURL fallback = %q", got)
	}
	if got := m.ReactionURL(); got != "https://tt-chat-wpa.chat.zalo.me/api" {
		t.Errorf("ReactionURL fallback = %q", got)
	}
}

func TestParseServiceMap(t *testing.T) {
	m := parseServiceMap([]byte(`{"chat":["https://c1.example","https://c2.example"],"unknown_key":1}`))
	if got := m.ChatURL(); got != "https://c1.example" {
		t.Errorf("ChatURL = %q, want first entry", got)
	}

	empty := parseServiceMap(nil)
	if got := empty.ChatURL(); got != "https://tt-chat-wpa.chat.zalo.me/api" {
		t.Errorf("empty map ChatURL = %q, want fallback", got)
	}
}
