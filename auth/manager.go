// ABOUTME: OAuth session lifecycle: bootstrap, sign-in, expiry checks, renewal and sign-out
// ABOUTME: Sole owner of the in-memory credential and the only writer of the credential store

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"

	"github.com/harperreed/coachcal/apperr"
	"github.com/harperreed/coachcal/credstore"
	"github.com/harperreed/coachcal/logging"
	"github.com/harperreed/coachcal/models"
	"github.com/harperreed/coachcal/retry"
)

// GoogleClientIDSuffix is the suffix every Google OAuth client id carries.
const GoogleClientIDSuffix = ".apps.googleusercontent.com"

// Default timeouts.
const (
	DefaultResourceTimeout = 15 * time.Second
	DefaultClientTimeout   = 30 * time.Second
	DefaultSignInTimeout   = 2 * time.Minute
	DefaultRevokeTimeout   = 5 * time.Second
)

// State is the manager's lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateSignedOut
	StateSignedIn
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateSignedOut:
		return "signed_out"
	case StateSignedIn:
		return "signed_in"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Ready reports whether initialization completed.
func (s State) Ready() bool {
	return s == StateSignedOut || s == StateSignedIn
}

// Timeouts bounds each blocking phase.
type Timeouts struct {
	Resource time.Duration
	Client   time.Duration
	SignIn   time.Duration
	Revoke   time.Duration
}

// SignInOptions are passed through to the provider.
type SignInOptions struct {
	Prompt    string
	LoginHint string
}

// Manager owns the OAuth session. Construct one per application and pass
// it to whatever needs credentials.
type Manager struct {
	provider     Provider
	store        *credstore.Store
	retry        *retry.Executor
	logger       *log.Logger
	now          func() time.Time
	buffer       time.Duration
	timeouts     Timeouts
	scopes       []string
	clientSuffix string

	mu         sync.Mutex
	state      State
	cred       *models.Credential
	pending    *pendingSignIn
	hadSession bool
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l *log.Logger) Option { return func(m *Manager) { m.logger = l } }

func WithRetry(e *retry.Executor) Option { return func(m *Manager) { m.retry = e } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func WithScopes(scopes ...string) Option { return func(m *Manager) { m.scopes = scopes } }

// WithClientIDSuffix changes the required client id suffix. An empty
// suffix disables the check.
func WithClientIDSuffix(s string) Option { return func(m *Manager) { m.clientSuffix = s } }

// WithTimeouts overrides the non-zero fields of t.
func WithTimeouts(t Timeouts) Option {
	return func(m *Manager) {
		if t.Resource > 0 {
			m.timeouts.Resource = t.Resource
		}
		if t.Client > 0 {
			m.timeouts.Client = t.Client
		}
		if t.SignIn > 0 {
			m.timeouts.SignIn = t.SignIn
		}
		if t.Revoke > 0 {
			m.timeouts.Revoke = t.Revoke
		}
	}
}

// NewManager returns an uninitialized manager.
func NewManager(provider Provider, store *credstore.Store, opts ...Option) *Manager {
	m := &Manager{
		provider: provider,
		store:    store,
		now:      time.Now,
		buffer:   models.TokenExpiryBuffer,
		timeouts: Timeouts{
			Resource: DefaultResourceTimeout,
			Client:   DefaultClientTimeout,
			SignIn:   DefaultSignInTimeout,
			Revoke:   DefaultRevokeTimeout,
		},
		scopes:       []string{calendar.CalendarEventsScope},
		clientSuffix: GoogleClientIDSuffix,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrDefault(m.logger)
	if m.retry == nil {
		m.retry = retry.New(m.logger)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Initialize validates the client configuration, bootstraps the provider
// and restores any saved credential. It returns false without an error
// when bootstrap times out; calendar features are then unavailable.
func (m *Manager) Initialize(ctx context.Context, apiKey, clientID string) (bool, error) {
	const op = "auth.initialize"

	m.mu.Lock()
	switch m.state {
	case StateSignedIn, StateSignedOut:
		m.mu.Unlock()
		return true, nil
	case StateInitializing:
		m.mu.Unlock()
		return false, apperr.New(apperr.KindConfiguration, op, "initialization already in progress")
	}

	if err := m.validateClient(apiKey, clientID); err != nil {
		m.state = StateFailed
		m.mu.Unlock()
		return false, err
	}
	m.state = StateInitializing
	m.mu.Unlock()

	ok, err := m.bootstrap(ctx, apiKey, clientID)
	if !ok {
		m.setState(StateFailed)
		return false, err
	}

	cred, err := m.store.Restore()
	if err != nil {
		m.logger.Warn("could not restore saved credential", "err", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cred != nil {
		m.cred = cred
		m.state = StateSignedIn
		m.hadSession = true
		m.logger.Debug("restored saved credential", "expiry", cred.Expiry)
	} else {
		m.state = StateSignedOut
	}
	return true, nil
}

func (m *Manager) validateClient(apiKey, clientID string) error {
	const op = "auth.initialize"
	apiKey = strings.TrimSpace(apiKey)
	clientID = strings.TrimSpace(clientID)

	if apiKey == "" {
		return apperr.Configuration(op, "API key is required")
	}
	if clientID == "" {
		return apperr.Configuration(op, "OAuth client id is required")
	}
	if m.clientSuffix != "" && (!strings.HasSuffix(clientID, m.clientSuffix) || len(clientID) == len(m.clientSuffix)) {
		return apperr.Configuration(op, "OAuth client id %q must end with %s", clientID, m.clientSuffix)
	}
	return nil
}

// bootstrap loads every provider resource, then initializes the token
// client. A timeout yields (false, nil).
func (m *Manager) bootstrap(ctx context.Context, apiKey, clientID string) (bool, error) {
	for _, res := range m.provider.Resources() {
		rctx, cancel := context.WithTimeout(ctx, m.timeouts.Resource)
		err := m.retry.Execute(rctx, "auth.discover", func(ctx context.Context) error {
			return m.provider.Discover(ctx, res, apiKey)
		})
		timedOut := errors.Is(rctx.Err(), context.DeadlineExceeded)
		cancel()

		if timedOut {
			m.logger.Warn("calendar bootstrap timed out", "resource", res, "timeout", m.timeouts.Resource)
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to load %s: %w", res, err)
		}
	}

	cctx, cancel := context.WithTimeout(ctx, m.timeouts.Client)
	defer cancel()
	err := m.retry.Execute(cctx, "auth.init_client", func(ctx context.Context) error {
		return m.provider.InitClient(ctx, apiKey, clientID)
	})
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		m.logger.Warn("oauth client initialization timed out", "timeout", m.timeouts.Client)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to initialize oauth client: %w", err)
	}
	return true, nil
}

// IsAuthenticated is true only when initialized, signed in and the token's
// expiry (if known) is outside the buffer window. An expired token moves
// the manager to signed-out.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticatedLocked()
}

func (m *Manager) authenticatedLocked() bool {
	if m.state != StateSignedIn {
		return false
	}
	if m.cred.Usable(m.now(), m.buffer) {
		return true
	}
	m.logger.Info("access token inside expiry buffer, signing out locally", "expiry", m.cred.Expiry)
	m.cred = nil
	m.state = StateSignedOut
	return false
}

// SignIn obtains a fresh token unless a usable one is already held. Only
// one provider flow runs at a time; concurrent callers wait on the same
// request.
func (m *Manager) SignIn(ctx context.Context, opts SignInOptions) error {
	const op = "auth.signin"

	m.mu.Lock()
	if !m.state.Ready() {
		state := m.state
		m.mu.Unlock()
		return apperr.New(apperr.KindConfiguration, op, fmt.Sprintf("calendar sign-in unavailable (%s)", state))
	}
	if m.authenticatedLocked() {
		m.mu.Unlock()
		return nil
	}

	p := m.pending
	start := p == nil
	if start {
		p = m.newPending()
		m.pending = p
	}
	m.mu.Unlock()

	if start {
		req := TokenRequest{Scopes: m.scopes, Prompt: opts.Prompt, LoginHint: opts.LoginHint}
		m.logger.Debug("requesting token", "prompt", req.Prompt)
		if err := m.provider.RequestToken(p.ctx, req, p.settle); err != nil {
			p.settle(TokenResponse{Error: ErrorServer, ErrorDescription: err.Error()})
		}
	}

	timer := time.NewTimer(m.timeouts.SignIn)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		p.settle(TokenResponse{Error: errorTimeout})
	case <-ctx.Done():
		p.settle(TokenResponse{Error: errorCanceled, ErrorDescription: ctx.Err().Error()})
	}
	<-p.done
	return p.err
}

// Renew silently requests a new token for a session that expired. It
// never prompts; if the provider needs interaction the caller must SignIn.
func (m *Manager) Renew(ctx context.Context) error {
	m.mu.Lock()
	if m.authenticatedLocked() {
		m.mu.Unlock()
		return nil
	}
	had := m.hadSession
	m.mu.Unlock()

	if !had {
		return apperr.New(apperr.KindAuth, "auth.renew", "no previous session to renew; sign in first")
	}
	return m.SignIn(ctx, SignInOptions{Prompt: PromptNone})
}

// SignOut revokes the token (best effort) and clears all credential state.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	var token string
	if m.cred != nil {
		token = m.cred.AccessToken
	}
	m.cred = nil
	m.hadSession = false
	if m.state == StateSignedIn {
		m.state = StateSignedOut
	}
	p := m.pending
	m.mu.Unlock()

	if p != nil {
		p.settle(TokenResponse{Error: errorCanceled, ErrorDescription: "signed out"})
	}

	if token != "" {
		rctx, cancel := context.WithTimeout(ctx, m.timeouts.Revoke)
		if err := m.provider.Revoke(rctx, token); err != nil {
			m.logger.Warn("token revocation failed", "err", err)
		}
		cancel()
	}

	if err := m.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

// Invalidate drops a credential the calendar API rejected. The stored
// token is cleared so the next process does not restore it. A later Renew
// may still attempt a silent sign-in.
func (m *Manager) Invalidate(cause error) {
	m.mu.Lock()
	had := m.cred != nil
	m.cred = nil
	if m.state == StateSignedIn {
		m.state = StateSignedOut
	}
	m.mu.Unlock()

	if had {
		m.logger.Warn("calendar rejected the access token, signing out", "err", cause)
	}
	if err := m.store.Clear(); err != nil {
		m.logger.Error("failed to clear rejected credential", "err", err)
	}
}

// Credential returns a copy of the held credential, or nil.
func (m *Manager) Credential() *models.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.authenticatedLocked() {
		return nil
	}
	c := *m.cred
	return &c
}

// Token returns the current token for API clients.
func (m *Manager) Token() (*oauth2.Token, error) {
	cred := m.Credential()
	if cred == nil {
		return nil, apperr.New(apperr.KindAuth, "auth.token", "not signed in to calendar")
	}
	tok := &oauth2.Token{AccessToken: cred.AccessToken, TokenType: "Bearer"}
	if cred.Expiry != nil {
		tok.Expiry = *cred.Expiry
	}
	return tok, nil
}

// TokenSource adapts the manager for oauth2.NewClient.
func (m *Manager) TokenSource() oauth2.TokenSource {
	return managerTokenSource{m}
}

type managerTokenSource struct{ m *Manager }

func (s managerTokenSource) Token() (*oauth2.Token, error) { return s.m.Token() }

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// pendingSignIn is the single in-flight token request. settle resolves it
// exactly once; later calls are no-ops.
type pendingSignIn struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
	err    error
	settle func(TokenResponse)
}

func (m *Manager) newPending() *pendingSignIn {
	ctx, cancel := context.WithCancel(context.Background())
	p := &pendingSignIn{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	p.settle = func(resp TokenResponse) {
		p.once.Do(func() {
			m.mu.Lock()
			if m.pending == p {
				m.pending = nil
			}
			p.err = m.applyLocked(resp)
			m.mu.Unlock()
			p.cancel()
			close(p.done)
		})
	}
	return p
}

// applyLocked installs a successful token or clears state on failure.
func (m *Manager) applyLocked(resp TokenResponse) error {
	if resp.Error != "" || resp.AccessToken == "" {
		err := signInError(resp, m.timeouts.SignIn)
		m.cred = nil
		if m.state == StateSignedIn {
			m.state = StateSignedOut
		}
		if resp.Error != errorCanceled {
			if cerr := m.store.Clear(); cerr != nil {
				m.logger.Warn("failed to clear credentials after sign-in failure", "err", cerr)
			}
		}
		m.logger.Warn("sign-in failed", "code", resp.Error, "err", err)
		return err
	}

	now := m.now()
	cred := &models.Credential{AccessToken: resp.AccessToken, Expiry: resp.Expiry(now)}
	if err := m.store.Save(cred.AccessToken, cred.Expiry); err != nil {
		m.logger.Warn("signed in but could not persist credential", "err", err)
	}
	m.cred = cred
	m.hadSession = true
	if m.state.Ready() {
		m.state = StateSignedIn
	}
	m.logger.Info("signed in to calendar", "expiry", cred.Expiry)
	return nil
}

func signInError(resp TokenResponse, timeout time.Duration) error {
	const op = "auth.signin"

	var msg string
	switch resp.Error {
	case ErrorAccessDenied:
		msg = "sign-in was denied: calendar access was not granted"
	case ErrorPopupBlocked:
		msg = "sign-in window was blocked; allow pop-ups or open the sign-in link manually"
	case ErrorPopupClosed:
		msg = "sign-in window was closed before sign-in completed"
	case ErrorInteractionRequired:
		msg = "session expired and needs interactive sign-in"
	case errorTimeout:
		msg = fmt.Sprintf("sign-in timed out after %s waiting for a response", timeout)
	case errorCanceled:
		msg = "sign-in was cancelled"
	case "":
		msg = "provider returned no access token"
	default:
		msg = fmt.Sprintf("sign-in failed (%s)", resp.Error)
	}
	if resp.ErrorDescription != "" {
		msg += ": " + resp.ErrorDescription
	}
	return apperr.New(apperr.KindAuth, op, msg)
}
