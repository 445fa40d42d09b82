package relay

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/typedown-app/typedown/internal/logging"
	"github.com/typedown-app/typedown/internal/pkce"
	"github.com/typedown-app/typedown/internal/scope"
	"github.com/typedown-app/typedown/internal/session"
)

// Start begins the authorization flow: it generates the PKCE pair and CSRF
// state, parks them in the temporary session cookie, and redirects the
// browser to the identity provider's consent screen. prompt=consent plus
// access_type=offline guarantees the provider issues a refresh token on the
// first grant.
func (h *Handler) Start(c *gin.Context) {
	requestedScope := scope.FromCode(c.Query(ScopeParam))
	returnPath := sanitizeReturnPath(c.Query(ReturnParam))
	flowID := strings.TrimSpace(c.Query(FlowParam))

	codes, err := pkce.GenerateCodes()
	if err != nil {
		serverError(c, "failed to prepare authorization flow")
		return
	}
	state, err := pkce.GenerateState()
	if err != nil {
		serverError(c, "failed to prepare authorization flow")
		return
	}

	cookieValue, err := session.EncodeTemp(h.box, &session.TempPayload{
		Verifier:   codes.Verifier,
		State:      state,
		ReturnPath: returnPath,
		FlowID:     flowID,
	})
	if err != nil {
		log.WithField("request_id", logging.GetGinRequestID(c)).Errorf("failed to encode temp session: %v", err)
		serverError(c, "failed to prepare authorization flow")
		return
	}

	secure := isSecure(c)
	session.SetTempCookie(c.Writer, cookieValue, secure)
	// Older deploys set the refresh cookie on a different path; clear it so
	// the browser never holds two ambiguous copies.
	session.ClearLegacyRefreshCookie(c.Writer, secure)

	authURL := h.oauthConfig(requestedScope).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("code_challenge", codes.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	c.Redirect(http.StatusFound, authURL)
}

// sanitizeReturnPath accepts only same-site absolute paths. Anything else,
// including protocol-relative "//host" forms, is dropped.
func sanitizeReturnPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "/") {
		return ""
	}
	if strings.HasPrefix(raw, "//") || strings.Contains(raw, "\\") {
		return ""
	}
	return raw
}

func serverError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": message})
}
