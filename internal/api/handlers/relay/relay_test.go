package relay

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/typedown-app/typedown/internal/config"
	"github.com/typedown-app/typedown/internal/scope"
	"github.com/typedown-app/typedown/internal/sealbox"
	"github.com/typedown-app/typedown/internal/session"
	"github.com/typedown-app/typedown/internal/wsrelay"
)

const testSecret = "relay-test-secret"

type testRelay struct {
	engine *gin.Engine
	box    *sealbox.Box
}

func newTestRelay(t *testing.T, tokenURL string) *testRelay {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Port:          8788,
		SessionSecret: testSecret,
		OAuth: config.OAuthConfig{
			ClientID:     "client-id.apps.example",
			ClientSecret: "client-secret",
			RedirectURL:  "https://typedown.example/auth/callback",
			AuthURL:      "https://provider.example/o/oauth2/v2/auth",
			TokenURL:     tokenURL,
		},
	}
	if cfg.OAuth.TokenURL == "" {
		cfg.OAuth.TokenURL = "https://provider.example/token"
	}

	handler, err := New(cfg, wsrelay.NewManager())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	engine := gin.New()
	engine.GET("/auth/start", handler.Start)
	engine.GET("/auth/callback", handler.Callback)
	engine.GET("/auth/token", handler.Token)
	engine.GET("/auth/logout", handler.Logout)

	box, err := sealbox.New([]byte(testSecret))
	if err != nil {
		t.Fatalf("sealbox.New() failed: %v", err)
	}
	return &testRelay{engine: engine, box: box}
}

func findCookie(t *testing.T, resp *http.Response, name, path string) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == name && c.Path == path {
			return c
		}
	}
	return nil
}

func TestStartRedirectsToProvider(t *testing.T) {
	relay := newTestRelay(t, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/start?td_scope=drive&td_return=/open%3Ffile%3Dabc", nil)
	relay.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}

	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("Location unparsable: %v", err)
	}
	query := location.Query()
	if got := query.Get("scope"); got != scope.Drive {
		t.Errorf("scope = %q, want drive-wide scope", got)
	}
	if query.Get("response_type") != "code" {
		t.Errorf("response_type = %q, want code", query.Get("response_type"))
	}
	if query.Get("access_type") != "offline" {
		t.Errorf("access_type = %q, want offline", query.Get("access_type"))
	}
	if query.Get("prompt") != "consent" {
		t.Errorf("prompt = %q, want consent", query.Get("prompt"))
	}
	if query.Get("code_challenge_method") != "S256" {
		t.Errorf("code_challenge_method = %q, want S256", query.Get("code_challenge_method"))
	}
	if query.Get("code_challenge") == "" || query.Get("state") == "" {
		t.Error("code_challenge or state missing from authorize URL")
	}

	resp := rec.Result()
	tempCookie := findCookie(t, resp, session.TempCookieName, "/")
	if tempCookie == nil {
		t.Fatal("temp session cookie not set")
	}
	if !tempCookie.HttpOnly || tempCookie.MaxAge != 600 {
		t.Errorf("temp cookie attributes wrong: %+v", tempCookie)
	}

	payload, err := session.DecodeTemp(relay.box, tempCookie.Value)
	if err != nil {
		t.Fatalf("temp cookie undecodable: %v", err)
	}
	if payload.State != query.Get("state") {
		t.Error("cookie state does not match authorize URL state")
	}
	if payload.ReturnPath != "/open?file=abc" {
		t.Errorf("return path = %q, want /open?file=abc", payload.ReturnPath)
	}

	// Stale refresh cookie on the legacy path is cleared alongside.
	legacy := findCookie(t, resp, session.RefreshCookieName, "/api")
	if legacy == nil || legacy.MaxAge >= 0 {
		t.Error("legacy refresh cookie was not cleared")
	}
}

func TestStartScopeAndReturnDefaults(t *testing.T) {
	relay := newTestRelay(t, "")

	tests := []struct {
		name       string
		query      string
		wantScope  string
		wantReturn string
	}{
		{"default scope", "", scope.DriveFile, ""},
		{"unknown code falls back", "?td_scope=everything", scope.DriveFile, ""},
		{"absolute url dropped", "?td_return=https://evil.example/", scope.DriveFile, ""},
		{"protocol-relative dropped", "?td_return=//evil.example/", scope.DriveFile, ""},
		{"plain path kept", "?td_return=/doc", scope.DriveFile, "/doc"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			relay.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/start"+tt.query, nil))

			location, _ := url.Parse(rec.Header().Get("Location"))
			if got := location.Query().Get("scope"); got != tt.wantScope {
				t.Errorf("scope = %q, want %q", got, tt.wantScope)
			}
			cookie := findCookie(t, rec.Result(), session.TempCookieName, "/")
			if cookie == nil {
				t.Fatal("temp cookie missing")
			}
			payload, err := session.DecodeTemp(relay.box, cookie.Value)
			if err != nil {
				t.Fatalf("temp cookie undecodable: %v", err)
			}
			if payload.ReturnPath != tt.wantReturn {
				t.Errorf("return path = %q, want %q", payload.ReturnPath, tt.wantReturn)
			}
		})
	}
}

func TestCallbackValidation(t *testing.T) {
	relay := newTestRelay(t, "")

	goodCookie := func(state string) *http.Cookie {
		value, err := session.EncodeTemp(relay.box, &session.TempPayload{Verifier: "verifier", State: state})
		if err != nil {
			t.Fatalf("EncodeTemp() failed: %v", err)
		}
		return &http.Cookie{Name: session.TempCookieName, Value: value}
	}

	tests := []struct {
		name   string
		target string
		cookie *http.Cookie
	}{
		{"missing code", "/auth/callback?state=abc", goodCookie("abc")},
		{"missing state", "/auth/callback?code=authcode", goodCookie("abc")},
		{"missing cookie", "/auth/callback?code=authcode&state=abc", nil},
		{"garbage cookie", "/auth/callback?code=authcode&state=abc", &http.Cookie{Name: session.TempCookieName, Value: "junk"}},
		{"state mismatch", "/auth/callback?code=authcode&state=other", goodCookie("abc")},
		{"provider error", "/auth/callback?error=access_denied&state=abc", goodCookie("abc")},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			relay.engine.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if findCookie(t, rec.Result(), session.RefreshCookieName, session.RefreshCookiePath) != nil {
				t.Error("refresh cookie was set despite validation failure")
			}
		})
	}
}

// TestStartCallbackEndToEnd drives the full flow: the start handler's cookie
// and state, fed back into the callback with a valid code, must yield a
// refresh-session cookie and clear the temp cookie.
func TestStartCallbackEndToEnd(t *testing.T) {
	var sawVerifier string
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("token endpoint form unparsable: %v", err)
		}
		if r.Form.Get("code") != "authcode-1" {
			t.Errorf("token endpoint code = %q, want authcode-1", r.Form.Get("code"))
		}
		sawVerifier = r.Form.Get("code_verifier")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","expires_in":3599,"scope":"` + scope.Drive + `","token_type":"Bearer"}`))
	}))
	defer provider.Close()

	relay := newTestRelay(t, provider.URL)

	startRec := httptest.NewRecorder()
	relay.engine.ServeHTTP(startRec, httptest.NewRequest(http.MethodGet, "/auth/start?td_scope=drive", nil))
	location, _ := url.Parse(startRec.Header().Get("Location"))
	state := location.Query().Get("state")
	tempCookie := findCookie(t, startRec.Result(), session.TempCookieName, "/")
	if tempCookie == nil || state == "" {
		t.Fatal("start handler did not produce cookie and state")
	}

	callbackRec := httptest.NewRecorder()
	callbackReq := httptest.NewRequest(http.MethodGet, "/auth/callback?code=authcode-1&state="+state, nil)
	callbackReq.AddCookie(&http.Cookie{Name: session.TempCookieName, Value: tempCookie.Value})
	relay.engine.ServeHTTP(callbackRec, callbackReq)

	if callbackRec.Code != http.StatusOK {
		t.Fatalf("callback status = %d, want 200; body: %s", callbackRec.Code, callbackRec.Body.String())
	}
	if sawVerifier == "" {
		t.Error("code exchange did not carry the PKCE verifier")
	}
	if !strings.Contains(callbackRec.Body.String(), wsrelay.CompleteMessageType) {
		t.Error("completion page does not post the completion message type")
	}

	resp := callbackRec.Result()
	refreshCookie := findCookie(t, resp, session.RefreshCookieName, session.RefreshCookiePath)
	if refreshCookie == nil {
		t.Fatal("refresh cookie not set")
	}
	token, err := session.OpenRefreshToken(relay.box, refreshCookie.Value)
	if err != nil {
		t.Fatalf("refresh cookie unopenable: %v", err)
	}
	if token != "rt-1" {
		t.Errorf("sealed refresh token = %q, want rt-1", token)
	}

	cleared := findCookie(t, resp, session.TempCookieName, "/")
	if cleared == nil || cleared.MaxAge >= 0 {
		t.Error("temp cookie was not cleared")
	}
}

func TestCallbackRejectsMissingRefreshToken(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","expires_in":3599,"token_type":"Bearer"}`))
	}))
	defer provider.Close()

	relay := newTestRelay(t, provider.URL)
	value, err := session.EncodeTemp(relay.box, &session.TempPayload{Verifier: "verifier", State: "abc"})
	if err != nil {
		t.Fatalf("EncodeTemp() failed: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?code=authcode&state=abc", nil)
	req.AddCookie(&http.Cookie{Name: session.TempCookieName, Value: value})
	relay.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 when provider omits the refresh token", rec.Code)
	}
}

func TestTokenRequiresSession(t *testing.T) {
	relay := newTestRelay(t, "")

	t.Run("no cookie", func(t *testing.T) {
		rec := httptest.NewRecorder()
		relay.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/token", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("undecryptable cookie", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/auth/token", nil)
		req.AddCookie(&http.Cookie{Name: session.RefreshCookieName, Value: "tampered"})
		relay.engine.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
		cleared := findCookie(t, rec.Result(), session.RefreshCookieName, session.RefreshCookiePath)
		if cleared == nil || cleared.MaxAge >= 0 {
			t.Error("broken refresh cookie was not cleared")
		}
	})
}

func TestTokenMint(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "rt-1" {
			t.Errorf("unexpected refresh exchange form: %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-fresh","expires_in":3599,"scope":"` + scope.DriveFile + `"}`))
	}))
	defer provider.Close()

	relay := newTestRelay(t, provider.URL)
	sealed, err := session.SealRefreshToken(relay.box, "rt-1")
	if err != nil {
		t.Fatalf("SealRefreshToken() failed: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/token", nil)
	req.AddCookie(&http.Cookie{Name: session.RefreshCookieName, Value: sealed})
	relay.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	body := gjson.Parse(rec.Body.String())
	if body.Get("access_token").String() != "at-fresh" {
		t.Errorf("access_token = %q, want at-fresh", body.Get("access_token").String())
	}
	if body.Get("expires_in").Int() != 3599 || body.Get("scope").String() != scope.DriveFile {
		t.Errorf("unexpected mint body: %s", rec.Body.String())
	}
}

func TestTokenProviderErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"invalid_grant", `{"error":"invalid_grant"}`, http.StatusUnauthorized},
		{"policy restriction", `{"error":"access_denied","error_description":"blocked by admin"}`, http.StatusMethodNotAllowed},
		{"client misconfiguration", `{"error":"invalid_client"}`, http.StatusInternalServerError},
		{"unknown error", `{"error":"server_error"}`, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer provider.Close()

			relay := newTestRelay(t, provider.URL)
			sealed, err := session.SealRefreshToken(relay.box, "rt-1")
			if err != nil {
				t.Fatalf("SealRefreshToken() failed: %v", err)
			}

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/auth/token", nil)
			req.AddCookie(&http.Cookie{Name: session.RefreshCookieName, Value: sealed})
			relay.engine.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestTokenCrossOriginRefused(t *testing.T) {
	relay := newTestRelay(t, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/token", nil)
	req.Host = "typedown.example"
	req.Header.Set("Origin", "https://evil.example")
	relay.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for cross-origin mint", rec.Code)
	}
}

func TestLogoutClearsCookies(t *testing.T) {
	relay := newTestRelay(t, "")

	rec := httptest.NewRecorder()
	relay.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/logout", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	resp := rec.Result()
	refresh := findCookie(t, resp, session.RefreshCookieName, session.RefreshCookiePath)
	temp := findCookie(t, resp, session.TempCookieName, "/")
	if refresh == nil || refresh.MaxAge >= 0 {
		t.Error("refresh cookie not cleared")
	}
	if temp == nil || temp.MaxAge >= 0 {
		t.Error("temp cookie not cleared")
	}
}
