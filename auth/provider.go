// ABOUTME: Contract between the session manager and an OAuth provider
// ABOUTME: Token requests complete through a callback, mirroring browser token clients

package auth

import (
	"context"
	"time"
)

// Prompt values for TokenRequest.
const (
	PromptNone    = "none"
	PromptConsent = "consent"
	PromptSelect  = "select_account"
)

// Error codes a provider reports in TokenResponse.Error.
const (
	ErrorAccessDenied        = "access_denied"
	ErrorPopupBlocked        = "popup_blocked"
	ErrorPopupClosed         = "popup_closed"
	ErrorInteractionRequired = "interaction_required"
	ErrorServer              = "server_error"

	// Set by the manager, never by a provider.
	errorTimeout  = "timeout"
	errorCanceled = "canceled"
)

// TokenRequest asks the provider for a fresh access token.
type TokenRequest struct {
	Scopes    []string
	Prompt    string
	LoginHint string
}

// TokenResponse is what the provider hands back. Either AccessToken or
// Error is set.
type TokenResponse struct {
	AccessToken      string
	ExpiresIn        int64 // seconds; 0 when unknown
	Scope            string
	Error            string
	ErrorDescription string
}

// Expiry converts ExpiresIn to an instant relative to now, or nil.
func (r TokenResponse) Expiry(now time.Time) *time.Time {
	if r.ExpiresIn <= 0 {
		return nil
	}
	t := now.Add(time.Duration(r.ExpiresIn) * time.Second)
	return &t
}

// Provider is an OAuth implementation. RequestToken starts a flow and
// returns; onResponse is called once when the flow ends. ctx is cancelled
// when the manager stops waiting, and the provider should release any
// resources it holds for the flow.
type Provider interface {
	Resources() []string
	Discover(ctx context.Context, resource, apiKey string) error
	InitClient(ctx context.Context, apiKey, clientID string) error
	RequestToken(ctx context.Context, req TokenRequest, onResponse func(TokenResponse)) error
	Revoke(ctx context.Context, token string) error
}
