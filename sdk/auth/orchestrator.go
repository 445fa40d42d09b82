package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/typedown-app/typedown/internal/api/handlers/relay"
	"github.com/typedown-app/typedown/internal/scope"
)

// Orchestrator is the single entry point for access tokens. The contract of
// GetAccessToken: try the cache, then a silent mint, then one interactive
// consent round, and fail with ErrScopeNotGranted if the grant still does
// not cover the desired scope. Concurrent callers share in-flight mints.
type Orchestrator struct {
	baseURL  string
	cache    *TokenCache
	mint     *MintClient
	popup    PopupController
	resolver *ScopeResolver

	group singleflight.Group
}

// NewOrchestrator composes the client auth stack against the relay at
// baseURL. A nil popup gets a BrowserPopup sharing the mint client's cookie
// jar; a nil store keeps the cache in memory.
func NewOrchestrator(baseURL string, resolver *ScopeResolver, store Store, popup PopupController) *Orchestrator {
	o := &Orchestrator{
		baseURL:  baseURL,
		cache:    NewTokenCache(store),
		mint:     NewMintClient(baseURL, nil),
		resolver: resolver,
	}
	if resolver == nil {
		o.resolver = NewScopeResolver("")
	}
	if popup == nil {
		popup = &BrowserPopup{
			BaseURL: baseURL,
			Probe: func(ctx context.Context) bool {
				_, err := o.mint.Mint(ctx)
				return err == nil
			},
		}
	}
	o.popup = popup
	return o
}

// GetAccessToken returns a bearer token satisfying the page's desired scope.
func (o *Orchestrator) GetAccessToken(ctx context.Context) (string, error) {
	desired := o.resolver.Desired()

	if token, ok := o.cache.Get(desired); ok {
		return token, nil
	}

	minted, err := o.sharedMint(ctx, desired)
	if err == nil && ScopeSatisfies(minted.Scope, desired) {
		o.cache.Put(minted.AccessToken, minted.ExpiresIn, minted.Scope)
		return minted.AccessToken, nil
	}
	if err != nil && !errors.Is(err, ErrNoSession) {
		return "", err
	}
	if err == nil {
		log.Debugf("granted scope insufficient, escalating to interactive consent")
	}

	return o.interactive(ctx, desired)
}

// ReauthenticateWithConsent drops the cache and forces an interactive
// consent round regardless of session state. Used by the explicit
// "Authenticate" action and by forced re-auth after a permission denial.
func (o *Orchestrator) ReauthenticateWithConsent(ctx context.Context) (string, error) {
	o.cache.Clear()
	return o.interactive(ctx, o.resolver.Desired())
}

// interactive runs one consent round and then retries the mint exactly once.
func (o *Orchestrator) interactive(ctx context.Context, desired string) (string, error) {
	flowID := uuid.NewString()
	if err := o.popup.Complete(ctx, flowID, o.startURL(desired, flowID)); err != nil {
		return "", err
	}

	// A mint that took off before consent completed reflects the old grant;
	// detach from it so the retry below cannot adopt its stale result.
	o.group.Forget(desired)

	minted, err := o.sharedMint(ctx, desired)
	if err != nil {
		return "", err
	}
	if !ScopeSatisfies(minted.Scope, desired) {
		return "", ErrScopeNotGranted
	}
	o.cache.Put(minted.AccessToken, minted.ExpiresIn, minted.Scope)
	return minted.AccessToken, nil
}

// sharedMint collapses concurrent mint calls for the same desired scope into
// a single request against the relay.
func (o *Orchestrator) sharedMint(ctx context.Context, desired string) (*MintedToken, error) {
	v, err, _ := o.group.Do(desired, func() (interface{}, error) {
		return o.mint.Mint(ctx)
	})
	if err != nil {
		return nil, err
	}
	minted, ok := v.(*MintedToken)
	if !ok {
		return nil, fmt.Errorf("auth: unexpected mint result type")
	}
	return minted, nil
}

// startURL builds the authorization-start URL with the scope override, the
// flow id for the completion relay, and a return path for the
// popup-blocked, full-navigation fallback.
func (o *Orchestrator) startURL(desired, flowID string) string {
	query := url.Values{
		relay.ScopeParam: {scope.Code(desired)},
		relay.FlowParam:  {flowID},
	}
	return o.baseURL + "/auth/start?" + query.Encode()
}
