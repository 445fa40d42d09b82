// Package session defines the two cookies the auth relay lives on: the
// short-lived temporary session carrying PKCE material between the start and
// callback handlers, and the long-lived refresh session wrapping the
// encrypted refresh token. The relay keeps no other state anywhere; the
// refresh cookie is the session.
package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/typedown-app/typedown/internal/sealbox"
)

// Cookie contracts. The refresh cookie is scoped to the auth namespace so it
// only travels on relay requests, never on page loads.
const (
	TempCookieName    = "td_tmp_session"
	RefreshCookieName = "td_session"

	TempCookiePath    = "/"
	RefreshCookiePath = "/auth"

	// legacyRefreshCookiePath is where older deploys set the refresh cookie.
	// The start handler clears it to avoid two ambiguous copies.
	legacyRefreshCookiePath = "/api"

	TempCookieTTL    = 10 * time.Minute
	RefreshCookieTTL = 30 * 24 * time.Hour
)

// Associated-data tags binding each envelope to its cookie. An envelope
// sealed for one purpose will not open under the other.
const (
	tempAAD    = "typedown-tmp-v1"
	refreshAAD = "typedown-refresh-v1"
)

// TempPayload is the state handed from the start handler to the callback
// handler through the temporary cookie. It is created once, consumed once.
type TempPayload struct {
	// Verifier is the PKCE code verifier for the pending authorization.
	Verifier string `json:"verifier"`
	// State is the CSRF state that must match the callback's state query.
	State string `json:"state"`
	// ReturnPath, when present, is a same-site path the callback page should
	// navigate the opener to instead of closing the popup.
	ReturnPath string `json:"return_path,omitempty"`
	// FlowID identifies the client waiting on this flow, for the completion
	// relay. Optional; browser popups rely on the opener message instead.
	FlowID string `json:"flow_id,omitempty"`
}

// EncodeTemp seals a temporary payload for transport in the temp cookie.
func EncodeTemp(box *sealbox.Box, payload *TempPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("session: marshal temp payload: %w", err)
	}
	return box.Encrypt(data, []byte(tempAAD))
}

// DecodeTemp opens and parses a temp cookie value. Tampered or foreign
// envelopes surface sealbox.ErrDecrypt.
func DecodeTemp(box *sealbox.Box, value string) (*TempPayload, error) {
	data, err := box.Decrypt(value, []byte(tempAAD))
	if err != nil {
		return nil, err
	}
	var payload TempPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("session: unmarshal temp payload: %w", err)
	}
	return &payload, nil
}

// SealRefreshToken wraps a refresh token in the refresh-session envelope.
func SealRefreshToken(box *sealbox.Box, refreshToken string) (string, error) {
	data, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return "", fmt.Errorf("session: marshal refresh payload: %w", err)
	}
	return box.Encrypt(data, []byte(refreshAAD))
}

// OpenRefreshToken extracts the refresh token from a refresh-session cookie
// value. An empty token inside a valid envelope is treated as a decode
// failure so callers have a single "no session" path.
func OpenRefreshToken(box *sealbox.Box, value string) (string, error) {
	data, err := box.Decrypt(value, []byte(refreshAAD))
	if err != nil {
		return "", err
	}
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("session: unmarshal refresh payload: %w", err)
	}
	if payload.RefreshToken == "" {
		return "", sealbox.ErrDecrypt
	}
	return payload.RefreshToken, nil
}

// SetTempCookie writes the temporary session cookie. Secure is set only when
// the inbound request arrived over HTTPS, so local development keeps working.
func SetTempCookie(w http.ResponseWriter, value string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     TempCookieName,
		Value:    value,
		Path:     TempCookiePath,
		MaxAge:   int(TempCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearTempCookie expires the temporary session cookie.
func ClearTempCookie(w http.ResponseWriter, secure bool) {
	clearCookie(w, TempCookieName, TempCookiePath, secure)
}

// SetRefreshCookie writes the refresh-session cookie on the auth namespace.
func SetRefreshCookie(w http.ResponseWriter, value string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    value,
		Path:     RefreshCookiePath,
		MaxAge:   int(RefreshCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearRefreshCookie expires the refresh-session cookie.
func ClearRefreshCookie(w http.ResponseWriter, secure bool) {
	clearCookie(w, RefreshCookieName, RefreshCookiePath, secure)
}

// ClearLegacyRefreshCookie expires a refresh cookie set on the legacy path by
// older deploys. Harmless when no such cookie exists.
func ClearLegacyRefreshCookie(w http.ResponseWriter, secure bool) {
	clearCookie(w, RefreshCookieName, legacyRefreshCookiePath, secure)
}

func clearCookie(w http.ResponseWriter, name, path string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
