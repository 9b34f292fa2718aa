// ABOUTME: Google OAuth provider using the installed-app loopback flow with PKCE
// ABOUTME: Loads discovery documents at bootstrap and revokes tokens on sign-out

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"

	"github.com/harperreed/coachcal/logging"
)

const (
	DefaultDiscoveryURL  = "https://www.googleapis.com/discovery/v1/apis/calendar/v3/rest"
	DefaultOpenIDConfURL = "https://accounts.google.com/.well-known/openid-configuration"
	DefaultRevokeURL     = "https://oauth2.googleapis.com/revoke"
	DefaultRedirectURL   = "http://127.0.0.1:8085/oauth/callback"
)

// GoogleConfig configures a GoogleProvider. Zero fields take defaults.
type GoogleConfig struct {
	ClientSecret  string
	RedirectURL   string
	DiscoveryURL  string
	OpenIDConfURL string

	HTTPClient *http.Client
	// Out receives the sign-in URL. Defaults to stdout.
	Out io.Writer
	// OpenBrowser launches the system browser for the sign-in URL.
	OpenBrowser bool
	Logger      *log.Logger
}

// GoogleProvider implements Provider for Google accounts.
type GoogleProvider struct {
	cfg    GoogleConfig
	http   *http.Client
	logger *log.Logger

	mu        sync.Mutex
	oauth     *oauth2.Config
	revokeURL string
	refresh   *oauth2.Token
	launch    func(string) error
}

// NewGoogleProvider returns a provider; InitClient must run before RequestToken.
func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = DefaultRedirectURL
	}
	if cfg.DiscoveryURL == "" {
		cfg.DiscoveryURL = DefaultDiscoveryURL
	}
	if cfg.OpenIDConfURL == "" {
		cfg.OpenIDConfURL = DefaultOpenIDConfURL
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &GoogleProvider{
		cfg:       cfg,
		http:      hc,
		logger:    logging.OrDefault(cfg.Logger),
		revokeURL: DefaultRevokeURL,
		launch:    openBrowser,
	}
}

// Resources lists the documents loaded during bootstrap.
func (g *GoogleProvider) Resources() []string {
	return []string{g.cfg.DiscoveryURL}
}

// Discover fetches a discovery document, proving the API is reachable and
// the key is accepted.
func (g *GoogleProvider) Discover(ctx context.Context, resource, key string) error {
	u, err := url.Parse(resource)
	if err != nil {
		return fmt.Errorf("invalid resource url: %w", err)
	}
	if key != "" {
		q := u.Query()
		q.Set("key", key)
		u.RawQuery = q.Encode()
	}

	_, err = g.getJSON(ctx, u.String(), nil)
	return err
}

type openIDConfig struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	RevocationEndpoint    string `json:"revocation_endpoint"`
}

// InitClient resolves the OAuth endpoints and builds the token client.
// The API key is only used for discovery.
func (g *GoogleProvider) InitClient(ctx context.Context, _, clientID string) error {
	redirect, err := url.Parse(g.cfg.RedirectURL)
	if err != nil || redirect.Host == "" {
		return fmt.Errorf("invalid redirect url %q", g.cfg.RedirectURL)
	}

	var conf openIDConfig
	if _, err := g.getJSON(ctx, g.cfg.OpenIDConfURL, &conf); err != nil {
		return fmt.Errorf("failed to load oauth configuration: %w", err)
	}

	endpoint := google.Endpoint
	if conf.AuthorizationEndpoint != "" {
		endpoint.AuthURL = conf.AuthorizationEndpoint
	}
	if conf.TokenEndpoint != "" {
		endpoint.TokenURL = conf.TokenEndpoint
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.oauth = &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: g.cfg.ClientSecret,
		RedirectURL:  g.cfg.RedirectURL,
		Endpoint:     endpoint,
	}
	if conf.RevocationEndpoint != "" {
		g.revokeURL = conf.RevocationEndpoint
	}
	return nil
}

// RequestToken starts the loopback flow, or refreshes silently when
// req.Prompt is PromptNone.
func (g *GoogleProvider) RequestToken(ctx context.Context, req TokenRequest, onResponse func(TokenResponse)) error {
	g.mu.Lock()
	base := g.oauth
	refresh := g.refresh
	g.mu.Unlock()

	if base == nil {
		return fmt.Errorf("oauth client not initialized")
	}
	conf := *base
	conf.Scopes = req.Scopes

	if req.Prompt == PromptNone {
		go g.refreshToken(ctx, &conf, refresh, onResponse)
		return nil
	}
	return g.loopback(ctx, &conf, req, onResponse)
}

func (g *GoogleProvider) refreshToken(ctx context.Context, conf *oauth2.Config, refresh *oauth2.Token, onResponse func(TokenResponse)) {
	if refresh == nil || refresh.RefreshToken == "" {
		onResponse(TokenResponse{Error: ErrorInteractionRequired})
		return
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.http)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh.RefreshToken}).Token()
	if err != nil {
		onResponse(tokenError(err))
		return
	}
	g.keep(tok)
	onResponse(toResponse(tok))
}

func (g *GoogleProvider) loopback(ctx context.Context, conf *oauth2.Config, req TokenRequest, onResponse func(TokenResponse)) error {
	redirect, err := url.Parse(conf.RedirectURL)
	if err != nil {
		return fmt.Errorf("invalid redirect url: %w", err)
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}

	state := ulid.Make().String()
	verifier := oauth2.GenerateVerifier()

	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier)}
	if req.Prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", req.Prompt))
	}
	if req.LoginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", req.LoginHint))
	}
	authURL := conf.AuthCodeURL(state, opts...)

	path := redirect.Path
	if path == "" {
		path = "/"
	}
	var once sync.Once
	finish := func(resp TokenResponse) { once.Do(func() { onResponse(resp) }) }

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		if e := q.Get("error"); e != "" {
			_, _ = fmt.Fprintln(w, "Sign-in was not completed. You can close this window.")
			finish(TokenResponse{Error: e, ErrorDescription: q.Get("error_description")})
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "no authorization code received", http.StatusBadRequest)
			return
		}

		xctx := context.WithValue(ctx, oauth2.HTTPClient, g.http)
		tok, err := conf.Exchange(xctx, code, oauth2.VerifierOption(verifier))
		if err != nil {
			http.Error(w, "failed to exchange code", http.StatusBadGateway)
			finish(tokenError(err))
			return
		}
		_, _ = fmt.Fprintln(w, "Authorization successful! You can close this window.")
		g.keep(tok)
		finish(toResponse(tok))
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			finish(TokenResponse{Error: ErrorServer, ErrorDescription: err.Error()})
		}
	}()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(sctx)
	}()

	_, _ = fmt.Fprintf(g.cfg.Out, "\nIf the browser doesn't open, visit this URL:\n%s\n\n", authURL)
	if g.cfg.OpenBrowser {
		if err := g.launch(authURL); err != nil {
			g.logger.Debug("could not open browser", "err", err)
		}
	}
	return nil
}

// Revoke invalidates token at Google.
func (g *GoogleProvider) Revoke(ctx context.Context, token string) error {
	g.mu.Lock()
	revokeURL := g.revokeURL
	g.refresh = nil
	g.mu.Unlock()

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	return googleapi.CheckResponse(resp)
}

func (g *GoogleProvider) keep(tok *oauth2.Token) {
	if tok.RefreshToken == "" {
		return
	}
	g.mu.Lock()
	g.refresh = tok
	g.mu.Unlock()
}

func (g *GoogleProvider) getJSON(ctx context.Context, u string, into any) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := googleapi.CheckResponse(resp); err != nil {
		return resp, err
	}
	if into == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return resp, fmt.Errorf("failed to decode %s: %w", u, err)
	}
	return resp, nil
}

func toResponse(tok *oauth2.Token) TokenResponse {
	resp := TokenResponse{AccessToken: tok.AccessToken, ExpiresIn: tok.ExpiresIn}
	if resp.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	if s, ok := tok.Extra("scope").(string); ok {
		resp.Scope = s
	}
	return resp
}

func tokenError(err error) TokenResponse {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.ErrorCode != "" {
		return TokenResponse{Error: rerr.ErrorCode, ErrorDescription: rerr.ErrorDescription}
	}
	return TokenResponse{Error: ErrorServer, ErrorDescription: err.Error()}
}
