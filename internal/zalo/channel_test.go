package zalo

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wrenly/switchboard/internal/channel"
)

func TestChannelConnectRequiresSession(t *testing.T) {
	c := New(Config{Logger: discardLogger()})

	if c.Name() != "zalo" {
		t.Errorf("Name = %q", c.Name())
	}
	if c.Kind() != channel.KindHandshake {
		t.Errorf("Kind = %q", c.Kind())
	}

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect without session or cookie should fail")
	}
	if c.Connected() {
		t.Error("Connected after failed Connect")
	}
}

func TestChannelConnectWithCookie(t *testing.T) {
	chatSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/login/getServerInfo" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"error_code":0,"data":{"uid":"9001"}}`)
	}))
	defer chatSrv.Close()

	c := New(Config{Cookie: "zpw_sek=abc", Logger: discardLogger()})
	c.auth.chatBase = chatSrv.URL

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.Connected() {
		t.Error("not Connected after cookie login")
	}
	if sess := c.Session(); sess == nil || sess.UID != "9001" {
		t.Errorf("Session = %+v", sess)
	}
}

func TestChannelSendWithoutLogin(t *testing.T) {
	c := New(Config{Logger: discardLogger()})
	err := c.Send(context.Background(), channel.Outbound{ThreadID: "u1", Content: "hi"})
	if err == nil {
		t.Fatal("Send before login should fail")
	}
}

func TestChannelListenOnce(t *testing.T) {
	c := New(Config{Logger: discardLogger()})

	stream, err := c.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer stream.Close()

	if _, err := c.Listen(context.Background()); err == nil {
		t.Fatal("second Listen should fail")
	}
}

func TestChannelDisconnect(t *testing.T) {
	chatSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error_code":0,"data":{"uid":"9001"}}`)
	}))
	defer chatSrv.Close()

	c := New(Config{Cookie: "zpw_sek=abc", Logger: discardLogger()})
	c.auth.chatBase = chatSrv.URL

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	stream, err := c.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen: %v", err)
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
	if c.Session() != nil {
		t.Error("Session survived Disconnect")
	}

	select {
	case <-stream.Closed():
	case <-time.After(time.Second):
		t.Fatal("Disconnect did not close the stream")
	}
}

func TestChannelConfigOverrides(t *testing.T) {
	c := New(Config{IMEI: "999888777666", UserAgent: "ua-test", Logger: discardLogger()})
	if c.auth.creds.IMEI != "999888777666" {
		t.Errorf("imei = %q", c.auth.creds.IMEI)
	}
	if c.auth.creds.UserAgent != "ua-test" {
		t.Errorf("user agent = %q", c.auth.creds.UserAgent)
	}
}
