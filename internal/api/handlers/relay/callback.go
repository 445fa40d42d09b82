package relay

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/typedown-app/typedown/internal/logging"
	"github.com/typedown-app/typedown/internal/session"
	"github.com/typedown-app/typedown/internal/wsrelay"
)

// Callback completes the authorization flow. It validates the CSRF state
// against the temporary session cookie, exchanges the code plus PKCE
// verifier for tokens, seals the refresh token into the long-lived cookie,
// and hands the browser a page that signals the opener and closes itself.
//
// Every validation failure is a 400: the flow either expired, was tampered
// with, or was started elsewhere, and the only remedy is to restart it.
func (h *Handler) Callback(c *gin.Context) {
	entry := log.WithField("request_id", logging.GetGinRequestID(c))

	if errCode := c.Query("error"); errCode != "" {
		badRequest(c, "authorization was not granted: "+errCode)
		return
	}

	code := strings.TrimSpace(c.Query("code"))
	state := strings.TrimSpace(c.Query("state"))
	if code == "" || state == "" {
		badRequest(c, "missing code or state")
		return
	}

	cookieValue, err := c.Cookie(session.TempCookieName)
	if err != nil {
		badRequest(c, "authorization flow expired, please retry")
		return
	}
	payload, err := session.DecodeTemp(h.box, cookieValue)
	if err != nil {
		entry.Debugf("temp session cookie rejected: %v", err)
		badRequest(c, "authorization flow expired, please retry")
		return
	}
	if payload.Verifier == "" || payload.State == "" {
		badRequest(c, "authorization flow is incomplete, please retry")
		return
	}
	if payload.State != state {
		entry.Warn("callback state does not match temp session state")
		badRequest(c, "state mismatch, please retry")
		return
	}

	token, err := h.oauthConfig("").Exchange(c.Request.Context(), code,
		oauth2.SetAuthURLParam("code_verifier", payload.Verifier))
	if err != nil {
		entry.Errorf("code exchange failed: %v", err)
		badRequest(c, "code exchange with the identity provider failed")
		return
	}
	if token.RefreshToken == "" {
		// The provider decided consent was already satisfied and skipped the
		// refresh token. The client must restart with forced consent.
		badRequest(c, "identity provider returned no refresh token, please retry")
		return
	}

	sealed, err := session.SealRefreshToken(h.box, token.RefreshToken)
	if err != nil {
		entry.Errorf("failed to seal refresh token: %v", err)
		serverError(c, "failed to establish session")
		return
	}

	secure := isSecure(c)
	session.SetRefreshCookie(c.Writer, sealed, secure)
	session.ClearTempCookie(c.Writer, secure)

	h.ws.Notify(payload.FlowID)

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if errExec := completionPage.Execute(c.Writer, completionData{
		ReturnPath:  payload.ReturnPath,
		MessageType: wsrelay.CompleteMessageType,
	}); errExec != nil {
		entry.Errorf("failed to render completion page: %v", errExec)
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}

type completionData struct {
	ReturnPath  string
	MessageType string
}

// completionPage signals the opener window and closes the popup. When the
// flow was started by full navigation instead of a popup (popup blocked),
// there is no opener and the page navigates itself to the return path.
var completionPage = template.Must(template.New("completion").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Signed in</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #f5f6f8;
        }
        .card {
            text-align: center;
            background: white;
            padding: 2rem 3rem;
            border-radius: 8px;
            box-shadow: 0 4px 12px rgba(0,0,0,0.08);
        }
    </style>
</head>
<body>
    <div class="card">
        <h1>Signed in</h1>
        <p>You can close this window and return to your document.</p>
    </div>
    <script>
        (function () {
            var returnPath = {{.ReturnPath}};
            if (window.opener && !window.opener.closed) {
                window.opener.postMessage({ type: {{.MessageType}} }, window.location.origin);
                if (returnPath) {
                    window.opener.location.assign(returnPath);
                }
                window.close();
            } else if (returnPath) {
                window.location.assign(returnPath);
            }
        })();
    </script>
</body>
</html>
`))
