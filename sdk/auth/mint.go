package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/tidwall/gjson"
)

// MintedToken is the relay's answer to a successful token mint.
type MintedToken struct {
	AccessToken string
	ExpiresIn   int64
	Scope       string
}

// MintClient calls the relay's token endpoint. It owns a cookie jar so the
// refresh-session cookie set during consent keeps flowing on mint requests,
// the way a browser would send it.
type MintClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewMintClient builds a mint client for the relay at baseURL. When client
// is nil a cookie-jar-equipped default is created.
func NewMintClient(baseURL string, client *http.Client) *MintClient {
	if client == nil {
		jar, _ := cookiejar.New(nil)
		client = &http.Client{Jar: jar, Timeout: 30 * time.Second}
	}
	return &MintClient{baseURL: baseURL, httpClient: client}
}

// HTTPClient exposes the underlying client so the interactive flow can share
// the same cookie jar.
func (m *MintClient) HTTPClient() *http.Client { return m.httpClient }

// Mint exchanges the refresh session for a short-lived access token.
// 401 maps to ErrNoSession, 405 to ErrPolicyRestricted; other failures are
// plain errors.
func (m *MintClient) Mint(ctx context.Context) (*MintedToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/auth/token", nil)
	if err != nil {
		return nil, fmt.Errorf("auth: build mint request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: mint request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("auth: read mint response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrNoSession
	case http.StatusMethodNotAllowed:
		message := gjson.GetBytes(body, "error").String()
		if message == "" {
			return nil, ErrPolicyRestricted
		}
		return nil, fmt.Errorf("%w: %s", ErrPolicyRestricted, message)
	default:
		return nil, fmt.Errorf("auth: mint failed with status %d", resp.StatusCode)
	}

	result := gjson.ParseBytes(body)
	token := &MintedToken{
		AccessToken: result.Get("access_token").String(),
		ExpiresIn:   result.Get("expires_in").Int(),
		Scope:       result.Get("scope").String(),
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("auth: mint response missing access token")
	}
	return token, nil
}
