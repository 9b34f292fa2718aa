// ABOUTME: Persists the OAuth access token and expiry in the durable key-value medium
// ABOUTME: Restore validates what it reads and clears anything stale or malformed

package credstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harperreed/coachcal/charm"
	"github.com/harperreed/coachcal/models"
)

// Keys in the durable medium. Nothing outside this package reads or writes them.
const (
	KeyToken         = "coachcal/auth/token"
	KeyAuthenticated = "coachcal/auth/authenticated"
	KeyExpiry        = "coachcal/auth/expiry"
)

// MinTokenLength rejects values too short to be a real bearer token.
const MinTokenLength = 16

// Medium is the byte-level key-value store. Get must return an error
// matching charm.ErrKeyNotFound for missing keys.
type Medium interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
}

// Store persists a single credential.
type Store struct {
	medium Medium
	buffer time.Duration
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithBuffer overrides models.TokenExpiryBuffer.
func WithBuffer(d time.Duration) Option {
	return func(s *Store) { s.buffer = d }
}

// New returns a store over medium.
func New(medium Medium, opts ...Option) *Store {
	s := &Store{
		medium: medium,
		buffer: models.TokenExpiryBuffer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save writes token, the authenticated flag and the expiry. A nil expiry
// removes any previously stored expiry.
func (s *Store) Save(token string, expiry *time.Time) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("refusing to save empty token")
	}

	if err := s.medium.Set([]byte(KeyToken), []byte(token)); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	if expiry != nil {
		v := expiry.UTC().Format(time.RFC3339Nano)
		if err := s.medium.Set([]byte(KeyExpiry), []byte(v)); err != nil {
			return fmt.Errorf("failed to save expiry: %w", err)
		}
	} else if err := s.medium.Delete([]byte(KeyExpiry)); err != nil {
		return fmt.Errorf("failed to clear expiry: %w", err)
	}
	if err := s.medium.Set([]byte(KeyAuthenticated), []byte("true")); err != nil {
		return fmt.Errorf("failed to save authenticated flag: %w", err)
	}
	return nil
}

// Restore returns the stored credential, or nil when nothing usable is
// stored. An implausible token, a missing authenticated flag, an
// unparseable expiry or one already inside the buffer clears the store.
func (s *Store) Restore() (*models.Credential, error) {
	token, found, err := s.get(KeyToken)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, s.Clear()
	}

	cred := &models.Credential{AccessToken: string(token)}
	if !plausible(cred.AccessToken) {
		return nil, s.Clear()
	}

	flag, found, err := s.get(KeyAuthenticated)
	if err != nil {
		return nil, err
	}
	if !found || string(flag) != "true" {
		return nil, s.Clear()
	}

	raw, found, err := s.get(KeyExpiry)
	if err != nil {
		return nil, err
	}
	if found {
		exp, perr := time.Parse(time.RFC3339Nano, string(raw))
		if perr != nil {
			return nil, s.Clear()
		}
		cred.Expiry = &exp
	}

	if !cred.Usable(s.now(), s.buffer) {
		return nil, s.Clear()
	}
	return cred, nil
}

// Clear removes all three keys. Missing keys are not an error.
func (s *Store) Clear() error {
	var errs []error
	for _, k := range []string{KeyToken, KeyAuthenticated, KeyExpiry} {
		if err := s.medium.Delete([]byte(k)); err != nil && !errors.Is(err, charm.ErrKeyNotFound) {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) get(key string) ([]byte, bool, error) {
	v, err := s.medium.Get([]byte(key))
	if errors.Is(err, charm.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v, true, nil
}

func plausible(token string) bool {
	return len(token) >= MinTokenLength && strings.TrimSpace(token) == token && !strings.ContainsAny(token, " \n\t")
}
