package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/typedown-app/typedown/internal/logging"
	"github.com/typedown-app/typedown/internal/session"
)

// Token mints a short-lived access token from the refresh-session cookie.
// The access token is returned to the caller and nowhere else: it is never
// logged and never persisted server-side.
func (h *Handler) Token(c *gin.Context) {
	entry := log.WithField("request_id", logging.GetGinRequestID(c))

	if !sameOriginOK(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "cross-origin request refused"})
		return
	}

	cookieValue, err := c.Cookie(session.RefreshCookieName)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no session"})
		return
	}
	refreshToken, err := session.OpenRefreshToken(h.box, cookieValue)
	if err != nil {
		// Tampered or incompatible cookie: fail closed and make the client
		// re-authenticate. Clearing here saves a pointless retry.
		entry.Debugf("refresh cookie rejected: %v", err)
		session.ClearRefreshCookie(c.Writer, isSecure(c))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no session"})
		return
	}

	minted, mintErr := h.exchangeRefreshToken(c.Request.Context(), refreshToken)
	if mintErr != nil {
		entry.Warnf("token mint refused: %s", mintErr.message)
		c.JSON(mintErr.status, gin.H{"error": mintErr.message})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": minted.accessToken,
		"expires_in":   minted.expiresIn,
		"scope":        minted.scope,
	})
}

// Logout ends the session by clearing both cookies. The refresh cookie holds
// the only copy of the refresh token, so no provider-side revocation is
// needed for the session to be gone.
func (h *Handler) Logout(c *gin.Context) {
	secure := isSecure(c)
	session.ClearRefreshCookie(c.Writer, secure)
	session.ClearLegacyRefreshCookie(c.Writer, secure)
	session.ClearTempCookie(c.Writer, secure)
	c.Status(http.StatusNoContent)
}

type mintResult struct {
	accessToken string
	expiresIn   int64
	scope       string
}

// mintError pairs a client-facing message with the HTTP status it travels
// under. Messages stay short and generic; provider details go to the log.
type mintError struct {
	status  int
	message string
}

// exchangeRefreshToken swaps the refresh token for a fresh access token at
// the provider's token endpoint and maps provider error codes onto HTTP
// statuses: invalid_grant means the grant is gone (401, re-auth), policy
// restrictions surface as 405 so the client shows them instead of retrying,
// and anything else is a relay-side 500.
func (h *Handler) exchangeRefreshToken(ctx context.Context, refreshToken string) (*mintResult, *mintError) {
	form := url.Values{
		"client_id":     {h.cfg.OAuth.ClientID},
		"client_secret": {h.cfg.OAuth.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.OAuth.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &mintError{http.StatusInternalServerError, "token request failed"}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, &mintError{http.StatusInternalServerError, "identity provider unreachable"}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &mintError{http.StatusInternalServerError, "token response unreadable"}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, mapProviderError(resp.StatusCode, body)
	}

	result := gjson.ParseBytes(body)
	accessToken := result.Get("access_token").String()
	if accessToken == "" {
		return nil, &mintError{http.StatusInternalServerError, "identity provider returned no access token"}
	}
	return &mintResult{
		accessToken: accessToken,
		expiresIn:   result.Get("expires_in").Int(),
		scope:       result.Get("scope").String(),
	}, nil
}

func mapProviderError(httpStatus int, body []byte) *mintError {
	result := gjson.ParseBytes(body)
	code := result.Get("error").String()

	switch code {
	case "invalid_grant":
		// Revoked or expired refresh token.
		return &mintError{http.StatusUnauthorized, "session expired"}
	case "access_denied", "org_internal", "policy_enforced", "admin_policy_enforced":
		// Admin policy denials are surfaced verbatim enough for the user to
		// act on, and must not be retried.
		message := result.Get("error_description").String()
		if message == "" {
			message = "access restricted by organization policy"
		}
		return &mintError{http.StatusMethodNotAllowed, message}
	case "invalid_client", "unauthorized_client":
		return &mintError{http.StatusInternalServerError, "relay client misconfigured"}
	}
	return &mintError{http.StatusInternalServerError, fmt.Sprintf("token refresh failed (provider status %d)", httpStatus)}
}
