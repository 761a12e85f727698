// Package zalo implements the Zalo personal-account connector: the QR
// login handshake, cookie login, and the messaging client built on the
// per-account service map. The protocol follows Zalo Web as observed by
// zca-js (https://github.com/RFS-ADRENO/zca-js).
package zalo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/wrenly/switchboard/internal/httpkit"
)

// Handshake outcomes callers branch on. Expired and declined are
// terminal: the flow is never retried automatically, the caller must
// start over with a fresh code.
var (
	// ErrVersionNotFound means the login page no longer carries the
	// expected script version marker. This is protocol drift, not a
	// transient failure: the upstream API has likely changed.
	ErrVersionNotFound = errors.New("zalo: login version marker not found (upstream protocol may have changed)")

	// ErrQRExpired means the code timed out before the user scanned it.
	ErrQRExpired = errors.New("zalo: qr code expired")

	// ErrQRDeclined means the user declined the login on their device,
	// or the server returned an unrecognized terminal code.
	ErrQRDeclined = errors.New("zalo: qr login declined")
)

// Numeric result codes in handshake polling responses. These are
// platform-defined and must match the upstream service exactly.
const (
	codeSuccess = 0   // advance one step
	codeWaiting = 8   // still waiting for the human, poll again
	codeExpired = -13 // waiting-scan: code expired; waiting-confirm: user declined
)

// scriptPrefix/scriptSuffix bracket the version number in the login
// page's script tag (https://stc-zlogin.zdn.vn/main-X.Y.Z.js).
const (
	scriptPrefix = "https://stc-zlogin.zdn.vn/main-"
	scriptSuffix = ".js"
)

// defaultUserAgent is the browser fingerprint the upstream service
// expects. Replacing it with a non-browser UA gets silently rejected.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0"

// Pre-encoded continue parameters, reproduced byte-for-byte in form
// bodies. Percent-encoding these with url.Values would double-encode.
const (
	continuePC   = "https%3A%2F%2Fzalo.me%2Fpc"
	continueChat = "https%3A%2F%2Fchat.zalo.me%2F"
)

// Credentials identify this client to Zalo.
type Credentials struct {
	// IMEI is a device-fingerprint identifier.
	IMEI string
	// Cookie is an existing Zalo Web session cookie, if any.
	Cookie string
	// UserAgent is the browser fingerprint; empty means the default.
	UserAgent string
}

// DefaultCredentials returns credentials with a freshly generated
// device ID and the standard browser fingerprint.
func DefaultCredentials() Credentials {
	return Credentials{
		IMEI:      GenerateIMEI(),
		UserAgent: defaultUserAgent,
	}
}

// GenerateIMEI returns a random IMEI-like 12-digit device identifier.
func GenerateIMEI() string {
	return fmt.Sprintf("%012d", rand.Int63n(999_999_999_999))
}

// Phase is the handshake state. Strictly forward-moving; Expired and
// Declined are absorbing.
type Phase int

const (
	PhasePending Phase = iota
	PhaseScanned
	PhaseConfirmed
	PhaseExpired
	PhaseDeclined
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseScanned:
		return "scanned"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseExpired:
		return "expired"
	case PhaseDeclined:
		return "declined"
	default:
		return "unknown"
	}
}

// Status is a handshake progress notification delivered to the Login
// callback.
type Status struct {
	Phase Phase
	// Code and Image are set in PhasePending (Image is a base64 PNG
	// data URL from the server).
	Code  string
	Image string
	// DisplayName and Avatar are set in PhaseScanned.
	DisplayName string
	Avatar      string
}

// QRCode is the generate-code result.
type QRCode struct {
	Code  string
	Image string
}

// ScanResult is the waiting-scan success payload.
type ScanResult struct {
	DisplayName string
	Avatar      string
}

// Auth executes the authentication bootstrap. One Auth owns one cookie
// jar; a fresh Auth means a fresh handshake.
type Auth struct {
	creds  Credentials
	httpc  *http.Client
	logger *slog.Logger

	// idBase and chatBase are overridable for tests.
	idBase   string
	chatBase string

	// loginVersion caches the script version discovered from the
	// bootstrap page.
	loginVersion string

	// pollDelay is the pause between handshake polls.
	pollDelay time.Duration
}

// NewAuth creates a handshake engine.
func NewAuth(creds Credentials, logger *slog.Logger) *Auth {
	if logger == nil {
		logger = slog.Default()
	}
	if creds.UserAgent == "" {
		creds.UserAgent = defaultUserAgent
	}
	return &Auth{
		creds: creds,
		httpc: httpkit.NewClient(
			httpkit.WithTimeout(60*time.Second),
			httpkit.WithoutUserAgent(), // every request sets the fingerprint UA itself
			httpkit.WithCookieJar(),
		),
		logger:    logger,
		idBase:    "https://id.zalo.me",
		chatBase:  "https://tt-chat-wpa.chat.zalo.me",
		pollDelay: time.Second,
	}
}

// qrResponse is the envelope every handshake endpoint returns.
type qrResponse struct {
	ErrorCode    int             `json:"error_code"`
	ErrorMessage string          `json:"error_message"`
	Data         json.RawMessage `json:"data"`
}

// applyFingerprint sets the exact header set the upstream service
// expects on form POSTs. Omitting any of them causes silent rejection
// by the anti-automation checks.
func (a *Auth) applyFingerprint(req *http.Request) {
	h := req.Header
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "vi-VN,vi;q=0.9,fr-FR;q=0.8,fr;q=0.7,en-US;q=0.6,en;q=0.5")
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	h.Set("Priority", "u=1, i")
	h.Set("Sec-Ch-Ua", `"Chromium";v="130", "Google Chrome";v="130", "Not?A_Brand";v="99"`)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", `"Windows"`)
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("Referer", "https://id.zalo.me/account?continue=https%3A%2F%2Fzalo.me%2Fpc")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	h.Set("User-Agent", a.creds.UserAgent)
}

// postForm issues a fingerprinted form POST and decodes the response
// envelope.
func (a *Auth) postForm(ctx context.Context, path, form string) (*qrResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.idBase+path, strings.NewReader(form))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	a.applyFingerprint(req)

	resp, err := a.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", path, err)
	}

	var out qrResponse
	if err := json.Unmarshal(body, &out); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200]
		}
		return nil, fmt.Errorf("%s: non-JSON response: %q", path, preview)
	}
	return &out, nil
}

// loadLoginPage fetches the bootstrap page and extracts the protocol
// script version. A missing marker fails the whole handshake: protocol
// drift is fatal, not retried.
func (a *Auth) loadLoginPage(ctx context.Context) (string, error) {
	a.logger.Info("zalo qr: loading login page")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.idBase+"/account?continue="+continueChat, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	h := req.Header
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "vi-VN,vi;q=0.9,en-US;q=0.6,en;q=0.5")
	h.Set("User-Agent", a.creds.UserAgent)
	h.Set("Referer", "https://chat.zalo.me/")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "same-site")
	h.Set("Upgrade-Insecure-Requests", "1")

	resp, err := a.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("load login page: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4<<20)

	version, err := extractLoginVersion(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}

	a.logger.Info("zalo qr: discovered login version", "version", version)
	a.loginVersion = version
	return version, nil
}

// extractLoginVersion scans the page's script tags for the
// stc-zlogin.zdn.vn main bundle and returns its version component.
func extractLoginVersion(r io.Reader) (string, error) {
	tok := html.NewTokenizer(r)
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return "", ErrVersionNotFound
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := tok.TagName()
			if string(name) != "script" || !hasAttr {
				continue
			}
			for {
				key, val, more := tok.TagAttr()
				if string(key) == "src" {
					src := string(val)
					if strings.HasPrefix(src, scriptPrefix) && strings.HasSuffix(src, scriptSuffix) {
						v := strings.TrimSuffix(strings.TrimPrefix(src, scriptPrefix), scriptSuffix)
						if v != "" {
							return v, nil
						}
					}
				}
				if !more {
					break
				}
			}
		}
	}
}

// loginInfo primes the session: the response sets cookies the later
// steps depend on. No state change beyond the jar.
func (a *Auth) loginInfo(ctx context.Context, version string) error {
	form := fmt.Sprintf("continue=%s&v=%s", continuePC, version)
	if _, err := a.postForm(ctx, "/account/logininfo", form); err != nil {
		return fmt.Errorf("logininfo: %w", err)
	}
	return nil
}

// verifyClient performs the device-trust step. No state change.
func (a *Auth) verifyClient(ctx context.Context, version string) error {
	form := fmt.Sprintf("type=device&continue=%s&v=%s", continuePC, version)
	if _, err := a.postForm(ctx, "/account/verify-client", form); err != nil {
		return fmt.Errorf("verify-client: %w", err)
	}
	return nil
}

// generateQR requests a fresh login code and its rendered image.
func (a *Auth) generateQR(ctx context.Context, version string) (*QRCode, error) {
	form := fmt.Sprintf("continue=%s&v=%s", continuePC, version)
	resp, err := a.postForm(ctx, "/account/authen/qr/generate", form)
	if err != nil {
		return nil, fmt.Errorf("qr generate: %w", err)
	}
	if resp.ErrorCode != codeSuccess {
		return nil, fmt.Errorf("qr generate error %d: %s", resp.ErrorCode, resp.ErrorMessage)
	}

	var data struct {
		Code  string `json:"code"`
		Image string `json:"image"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil || data.Code == "" {
		return nil, fmt.Errorf("qr generate: malformed data payload")
	}
	return &QRCode{Code: data.Code, Image: data.Image}, nil
}

// GenerateQR runs the bootstrap sequence up to code generation:
// load page → prime session → verify device → generate code.
func (a *Auth) GenerateQR(ctx context.Context) (*QRCode, error) {
	a.logger.Info("zalo qr: starting login handshake")

	version, err := a.loadLoginPage(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.loginInfo(ctx, version); err != nil {
		return nil, err
	}
	if err := a.verifyClient(ctx, version); err != nil {
		return nil, err
	}
	qr, err := a.generateQR(ctx, version)
	if err != nil {
		return nil, err
	}

	a.logger.Info("zalo qr: code generated", "code", qr.Code)
	return qr, nil
}

// WaitForScan polls until the user scans the code on their device.
// The "still waiting" code retries without bound; cancel via ctx. A
// code expiry is terminal and surfaced as ErrQRExpired.
func (a *Auth) WaitForScan(ctx context.Context, code string) (*ScanResult, error) {
	version := a.versionOrDefault()

	for {
		form := fmt.Sprintf("code=%s&continue=%s&v=%s", code, continueChat, version)
		resp, err := a.postForm(ctx, "/account/authen/qr/waiting-scan", form)
		if err != nil {
			return nil, fmt.Errorf("waiting-scan: %w", err)
		}

		switch resp.ErrorCode {
		case codeWaiting:
			if err := a.pollPause(ctx); err != nil {
				return nil, err
			}
			continue
		case codeSuccess:
			var data struct {
				DisplayName string `json:"display_name"`
				Avatar      string `json:"avatar"`
			}
			_ = json.Unmarshal(resp.Data, &data)
			return &ScanResult{DisplayName: data.DisplayName, Avatar: data.Avatar}, nil
		case codeExpired:
			return nil, ErrQRExpired
		default:
			return nil, fmt.Errorf("waiting-scan error %d: %s: %w",
				resp.ErrorCode, resp.ErrorMessage, ErrQRDeclined)
		}
	}
}

// WaitForConfirm polls until the user confirms the login on their
// device. A decline (or any unrecognized terminal code) is surfaced as
// ErrQRDeclined.
func (a *Auth) WaitForConfirm(ctx context.Context, code string) error {
	version := a.versionOrDefault()

	for {
		form := fmt.Sprintf("code=%s&gToken=&gAction=CONFIRM_QR&continue=%s&v=%s",
			code, continueChat, version)
		resp, err := a.postForm(ctx, "/account/authen/qr/waiting-confirm", form)
		if err != nil {
			return fmt.Errorf("waiting-confirm: %w", err)
		}

		switch resp.ErrorCode {
		case codeWaiting:
			if err := a.pollPause(ctx); err != nil {
				return err
			}
			continue
		case codeSuccess:
			return nil
		case codeExpired:
			return ErrQRDeclined
		default:
			return fmt.Errorf("waiting-confirm error %d: %s: %w",
				resp.ErrorCode, resp.ErrorMessage, ErrQRDeclined)
		}
	}
}

// Login runs the whole handshake to completion and exchanges the
// resulting session cookies for a usable credential. onStatus, when
// non-nil, receives each phase transition (Pending with the code and
// image, Scanned with the user's display name, then Confirmed).
func (a *Auth) Login(ctx context.Context, onStatus func(Status)) (*Session, error) {
	notify := func(s Status) {
		if onStatus != nil {
			onStatus(s)
		}
	}

	qr, err := a.GenerateQR(ctx)
	if err != nil {
		return nil, err
	}
	notify(Status{Phase: PhasePending, Code: qr.Code, Image: qr.Image})

	scan, err := a.WaitForScan(ctx, qr.Code)
	if err != nil {
		switch {
		case errors.Is(err, ErrQRExpired):
			notify(Status{Phase: PhaseExpired})
		case errors.Is(err, ErrQRDeclined):
			notify(Status{Phase: PhaseDeclined})
		}
		return nil, err
	}
	a.logger.Info("zalo qr: scanned", "display_name", scan.DisplayName)
	notify(Status{Phase: PhaseScanned, DisplayName: scan.DisplayName, Avatar: scan.Avatar})

	if err := a.WaitForConfirm(ctx, qr.Code); err != nil {
		if errors.Is(err, ErrQRDeclined) {
			notify(Status{Phase: PhaseDeclined})
		}
		return nil, err
	}
	notify(Status{Phase: PhaseConfirmed})
	a.logger.Info("zalo qr: confirmed")

	cookie := a.sessionCookie()
	if cookie == "" {
		return nil, fmt.Errorf("zalo qr: no session cookies after confirm")
	}
	return a.LoginCookie(ctx, cookie)
}

// LoginCookie exchanges a Zalo Web session cookie for a full session:
// uid, signing keys, and the per-account service map.
func (a *Auth) LoginCookie(ctx context.Context, cookie string) (*Session, error) {
	a.logger.Info("zalo auth: logging in with cookie")

	if !strings.Contains(cookie, "zpw_sek") {
		return nil, fmt.Errorf("zalo auth: invalid cookie: must contain zpw_sek")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.chatBase+"/api/login/getServerInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Cookie", cookie)
	req.Header.Set("User-Agent", a.creds.UserAgent)

	resp, err := a.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("zalo login: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	var out struct {
		ErrorCode    int             `json:"error_code"`
		ErrorMessage string          `json:"error_message"`
		Data         json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("zalo login: invalid response: %w", err)
	}
	if out.ErrorCode != codeSuccess {
		return nil, fmt.Errorf("zalo login failed with error code %d: %s",
			out.ErrorCode, out.ErrorMessage)
	}

	var data struct {
		UID           string          `json:"uid"`
		ZpwEnk        string          `json:"zpw_enk"`
		ZpwKey        string          `json:"zpw_key"`
		ServiceMapV3  json.RawMessage `json:"zpw_service_map_v3"`
		ServiceMapOld json.RawMessage `json:"zpw_service_map"`
	}
	if err := json.Unmarshal(out.Data, &data); err != nil {
		return nil, fmt.Errorf("zalo login: malformed data payload: %w", err)
	}

	services := data.ServiceMapV3
	if len(services) == 0 {
		services = data.ServiceMapOld
	}

	sess := &Session{
		UID:       data.UID,
		Cookie:    cookie,
		SecretKey: data.ZpwEnk,
		EncodeKey: data.ZpwKey,
		Services:  parseServiceMap(services),
	}
	a.logger.Info("zalo auth: logged in", "uid", sess.UID)
	return sess, nil
}

// sessionCookie serializes the jar cookies for the chat domain into a
// Cookie header value.
func (a *Auth) sessionCookie() string {
	if a.httpc.Jar == nil {
		return ""
	}
	u, err := url.Parse(a.chatBase + "/")
	if err != nil {
		return ""
	}
	cookies := a.httpc.Jar.Cookies(u)
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// versionOrDefault returns the discovered login version, or the last
// known-good one when the polling steps run without a prior bootstrap.
func (a *Auth) versionOrDefault() string {
	if a.loginVersion != "" {
		return a.loginVersion
	}
	return "2.44.10"
}

// pollPause waits the inter-poll delay, honoring cancellation.
func (a *Auth) pollPause(ctx context.Context) error {
	if a.pollDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(a.pollDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
