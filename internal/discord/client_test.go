package discord

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient points a REST client at a fake API server.
func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &Client{
		httpc:   srv.Client(),
		token:   "test-token",
		apiBase: srv.URL,
		logger:  discardLogger(),
	}, srv
}

func TestClientMe(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/@me" {
			t.Errorf("path = %q, want /users/@me", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bot test-token" {
			t.Errorf("Authorization = %q, want Bot test-token", got)
		}
		json.NewEncoder(w).Encode(User{ID: "42", Username: "helper", Bot: true})
	}))

	me, err := client.Me(context.Background())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if me.ID != "42" || me.Username != "helper" || !me.Bot {
		t.Errorf("Me = %+v", me)
	}
}

func TestClientMeBadToken(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "401: Unauthorized"}`, http.StatusUnauthorized)
	}))

	if _, err := client.Me(context.Background()); err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestClientSendMessage(t *testing.T) {
	var gotPath, gotContentType string
	var gotBody map[string]string

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"id":"m1"}`)
	}))

	if err := client.SendMessage(context.Background(), "chan-9", "hello there"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if gotPath != "/channels/chan-9/messages" {
		t.Errorf("path = %q", gotPath)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotBody["content"] != "hello there" {
		t.Errorf("body content = %q", gotBody["content"])
	}
}

func TestClientSendTyping(t *testing.T) {
	var gotPath, gotMethod string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := client.SendTyping(context.Background(), "chan-9"); err != nil {
		t.Fatalf("SendTyping: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/channels/chan-9/typing" {
		t.Errorf("got %s %s", gotMethod, gotPath)
	}
}

func TestClientGatewayURL(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gateway/bot" {
			t.Errorf("path = %q, want /gateway/bot", r.URL.Path)
		}
		io.WriteString(w, `{"url":"wss://gateway.example"}`)
	}))

	got, err := client.GatewayURL(context.Background())
	if err != nil {
		t.Fatalf("GatewayURL: %v", err)
	}
	want := "wss://gateway.example/?v=10&encoding=json"
	if got != want {
		t.Errorf("GatewayURL = %q, want %q", got, want)
	}
}

func TestClientGatewayURLEmpty(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	}))

	if _, err := client.GatewayURL(context.Background()); err == nil {
		t.Fatal("expected error for empty gateway url")
	}
}
