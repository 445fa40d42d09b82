// Package relay implements the stateless auth relay handlers: starting the
// authorization-code + PKCE flow, completing it in the callback, minting
// short-lived access tokens from the encrypted refresh cookie, and logout.
// The relay holds no session state of its own; the cookies it writes are the
// only durable artifacts, and only this package can open them.
package relay

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"github.com/typedown-app/typedown/internal/config"
	"github.com/typedown-app/typedown/internal/sealbox"
	"github.com/typedown-app/typedown/internal/util"
	"github.com/typedown-app/typedown/internal/wsrelay"
)

// Query parameters of the start handler.
const (
	ScopeParam  = "td_scope"
	ReturnParam = "td_return"
	FlowParam   = "td_flow"
)

// Handler serves the /auth routes.
type Handler struct {
	cfg        *config.Config
	box        *sealbox.Box
	httpClient *http.Client
	ws         *wsrelay.Manager
}

// New builds the relay handler. The session secret is a hard requirement:
// every route here either writes or reads an encrypted cookie.
func New(cfg *config.Config, ws *wsrelay.Manager) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	box, err := sealbox.New([]byte(cfg.SessionSecret))
	if err != nil {
		return nil, err
	}
	return &Handler{
		cfg:        cfg,
		box:        box,
		httpClient: util.SetProxy(cfg.ProxyURL, &http.Client{Timeout: 30 * time.Second}),
		ws:         ws,
	}, nil
}

// oauthConfig assembles the provider client for the given scope.
func (h *Handler) oauthConfig(scope string) *oauth2.Config {
	conf := &oauth2.Config{
		ClientID:     h.cfg.OAuth.ClientID,
		ClientSecret: h.cfg.OAuth.ClientSecret,
		RedirectURL:  h.cfg.OAuth.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  h.cfg.OAuth.AuthURL,
			TokenURL: h.cfg.OAuth.TokenURL,
		},
	}
	if scope != "" {
		conf.Scopes = []string{scope}
	}
	return conf
}

// isSecure reports whether the inbound request arrived over HTTPS, directly
// or behind a TLS-terminating proxy. Cookie Secure flags follow this.
func isSecure(c *gin.Context) bool {
	if c.Request.TLS != nil {
		return true
	}
	return strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https")
}

// sameOriginOK is a best-effort CSRF check on the mint route: when the
// browser sent an Origin or Referer, its host must match ours. Absent
// headers pass; same-site navigations legitimately omit them.
func sameOriginOK(c *gin.Context) bool {
	check := func(raw string) bool {
		parsed, err := url.Parse(raw)
		if err != nil {
			return false
		}
		return strings.EqualFold(parsed.Host, c.Request.Host)
	}
	if origin := c.GetHeader("Origin"); origin != "" {
		return check(origin)
	}
	if referer := c.GetHeader("Referer"); referer != "" {
		return check(referer)
	}
	return true
}
