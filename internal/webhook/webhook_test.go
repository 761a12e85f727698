package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wrenly/switchboard/internal/channel"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sign(secret string, payload []byte) string {
	sum := sha256.Sum256(append([]byte(secret), payload...))
	return hex.EncodeToString(sum[:])
}

func TestParseInbound(t *testing.T) {
	payload := []byte(`{"thread_id":"t1","sender_id":"s1","sender_name":"Alice","content":"hi"}`)

	t.Run("no secret configured", func(t *testing.T) {
		c := New(Config{Logger: discardLogger()})
		msg, err := c.ParseInbound(payload, "")
		if err != nil {
			t.Fatalf("ParseInbound: %v", err)
		}
		if msg.Channel != "webhook" || msg.ThreadID != "t1" || msg.Content != "hi" {
			t.Errorf("msg = %+v", msg)
		}
		if msg.Kind != channel.ThreadDirect {
			t.Errorf("Kind = %q, want direct", msg.Kind)
		}
	})

	t.Run("valid signature", func(t *testing.T) {
		c := New(Config{Secret: "hush", Logger: discardLogger()})
		msg, err := c.ParseInbound(payload, sign("hush", payload))
		if err != nil {
			t.Fatalf("ParseInbound: %v", err)
		}
		if msg.SenderName != "Alice" {
			t.Errorf("sender name = %q", msg.SenderName)
		}
	})

	t.Run("invalid signature", func(t *testing.T) {
		c := New(Config{Secret: "hush", Logger: discardLogger()})
		_, err := c.ParseInbound(payload, sign("wrong-secret", payload))
		if !errors.Is(err, ErrBadSignature) {
			t.Fatalf("err = %v, want ErrBadSignature", err)
		}
	})

	t.Run("secret set but no signature supplied", func(t *testing.T) {
		// Verification runs only when both sides are present.
		c := New(Config{Secret: "hush", Logger: discardLogger()})
		if _, err := c.ParseInbound(payload, ""); err != nil {
			t.Fatalf("ParseInbound: %v", err)
		}
	})

	t.Run("defaults for missing fields", func(t *testing.T) {
		c := New(Config{Logger: discardLogger()})
		msg, err := c.ParseInbound([]byte(`{"content":"ping"}`), "")
		if err != nil {
			t.Fatalf("ParseInbound: %v", err)
		}
		if msg.ThreadID != "webhook" {
			t.Errorf("ThreadID = %q, want webhook", msg.ThreadID)
		}
		if msg.SenderID != "external" {
			t.Errorf("SenderID = %q, want external", msg.SenderID)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		c := New(Config{Logger: discardLogger()})
		if _, err := c.ParseInbound([]byte("not json"), ""); err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})
}

func TestHandler(t *testing.T) {
	payload := []byte(`{"thread_id":"t1","sender_id":"s1","content":"hi"}`)

	newListening := func(t *testing.T, secret string) (*Channel, *channel.Stream) {
		t.Helper()
		c := New(Config{Secret: secret, Logger: discardLogger()})
		if err := c.Connect(context.Background()); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		stream, err := c.Listen(context.Background())
		if err != nil {
			t.Fatalf("Listen: %v", err)
		}
		t.Cleanup(func() { stream.Close() })
		return c, stream
	}

	t.Run("accepted", func(t *testing.T) {
		c, stream := newListening(t, "hush")

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(payload)))
		req.Header.Set(signatureHeader, sign("hush", payload))
		rec := httptest.NewRecorder()
		c.Handler()(rec, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", rec.Code)
		}

		select {
		case msg := <-stream.Messages():
			if msg.Content != "hi" || msg.ThreadID != "t1" {
				t.Errorf("msg = %+v", msg)
			}
		case <-time.After(time.Second):
			t.Fatal("message never reached the stream")
		}
	})

	t.Run("bad signature rejected", func(t *testing.T) {
		c, _ := newListening(t, "hush")

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(payload)))
		req.Header.Set(signatureHeader, "deadbeef")
		rec := httptest.NewRecorder()
		c.Handler()(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		c, _ := newListening(t, "")

		req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
		rec := httptest.NewRecorder()
		c.Handler()(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d, want 405", rec.Code)
		}
	})

	t.Run("not listening", func(t *testing.T) {
		c := New(Config{Logger: discardLogger()})

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(payload)))
		rec := httptest.NewRecorder()
		c.Handler()(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
	})

	t.Run("invalid payload", func(t *testing.T) {
		c, _ := newListening(t, "")

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("not json"))
		rec := httptest.NewRecorder()
		c.Handler()(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})
}

func TestSend(t *testing.T) {
	t.Run("posts outbound json", func(t *testing.T) {
		var gotBody map[string]string
		var gotContentType string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotContentType = r.Header.Get("Content-Type")
			json.NewDecoder(r.Body).Decode(&gotBody)
		}))
		defer srv.Close()

		c := New(Config{OutboundURL: srv.URL, Logger: discardLogger()})
		err := c.Send(context.Background(), channel.Outbound{
			ThreadID: "t1",
			Content:  "reply text",
			ReplyTo:  "m0",
		})
		if err != nil {
			t.Fatalf("Send: %v", err)
		}

		if gotContentType != "application/json" {
			t.Errorf("Content-Type = %q", gotContentType)
		}
		if gotBody["thread_id"] != "t1" || gotBody["content"] != "reply text" || gotBody["reply_to"] != "m0" {
			t.Errorf("body = %v", gotBody)
		}
	})

	t.Run("no outbound url drops silently", func(t *testing.T) {
		c := New(Config{Logger: discardLogger()})
		if err := c.Send(context.Background(), channel.Outbound{Content: "x"}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	})

	t.Run("upstream error surfaces", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusBadGateway)
		}))
		defer srv.Close()

		c := New(Config{OutboundURL: srv.URL, Logger: discardLogger()})
		if err := c.Send(context.Background(), channel.Outbound{Content: "x"}); err == nil {
			t.Fatal("expected error for 502 response")
		}
	})
}

func TestChannelLifecycle(t *testing.T) {
	c := New(Config{Logger: discardLogger()})

	if c.Name() != "webhook" {
		t.Errorf("Name = %q", c.Name())
	}
	if c.Kind() != channel.KindSimple {
		t.Errorf("Kind = %q", c.Kind())
	}
	if c.Connected() {
		t.Error("Connected before Connect")
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.Connected() {
		t.Error("not Connected after Connect")
	}

	stream, err := c.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if _, err := c.Listen(context.Background()); err == nil {
		t.Fatal("second Listen should fail")
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if c.Connected() {
		t.Error("Connected after Disconnect")
	}

	select {
	case <-stream.Closed():
	case <-time.After(time.Second):
		t.Fatal("Disconnect did not close the stream")
	}
}
