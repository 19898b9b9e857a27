// Package auth keeps the broker credential usable: it decides when a token
// is stale, refreshes it, and falls back to scraping the desktop app's
// local storage when refreshing is impossible.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/killswitch/broker"
	"github.com/rustyeddy/killswitch/internal/clock"
	"github.com/rustyeddy/killswitch/internal/token"
)

// SafetyBuffer is subtracted from every expiry.
const SafetyBuffer = 5 * time.Minute

const DefaultRefreshURL = "https://userapi.webull.com/api/passport/refreshToken"

type State int

const (
	StateUnknown State = iota
	StateLoaded
	StateUsable
	StateNeedsRefresh
	StateNeedsManualIntervention
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateUsable:
		return "usable"
	case StateNeedsRefresh:
		return "needs-refresh"
	case StateNeedsManualIntervention:
		return "needs-manual-intervention"
	}
	return "unknown"
}

type Options struct {
	// AccountID is the secAccountId of the monitored account; empty falls
	// back to the credential's user id.
	AccountID    string
	RefreshURL   string
	StoragePaths []string
	Timeout      time.Duration
	// TestMode treats every credential as valid and replaces failed
	// refreshes with a placeholder token that is never persisted.
	TestMode bool
	HTTP     *http.Client
}

type Manager struct {
	store *token.Store
	clock clock.Clock
	log   *zap.Logger

	http         *http.Client
	accountID    string
	refreshURL   string
	storagePaths []string
	testMode     bool

	mu     sync.Mutex
	state  State
	cred   token.Credential
	loaded bool
}

func New(store *token.Store, clk clock.Clock, log *zap.Logger, o Options) *Manager {
	if o.RefreshURL == "" {
		o.RefreshURL = DefaultRefreshURL
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.HTTP == nil {
		o.HTTP = &http.Client{Timeout: o.Timeout}
	}
	return &Manager{
		store:        store,
		clock:        clk,
		log:          log.Named("auth"),
		http:         o.HTTP,
		accountID:    o.AccountID,
		refreshURL:   o.RefreshURL,
		storagePaths: o.StoragePaths,
		testMode:     o.TestMode,
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state != s {
		m.log.Debug("auth state", zap.Stringer("from", m.state), zap.Stringer("to", s))
	}
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) current() (token.Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred.Clone(), m.loaded
}

func (m *Manager) remember(c token.Credential) {
	m.mu.Lock()
	m.cred, m.loaded = c.Clone(), true
	m.mu.Unlock()
}

// IsValid reports whether more than SafetyBuffer remains before expiry.
// Exactly SafetyBuffer left is not valid.
func (m *Manager) IsValid(c token.Credential) bool {
	if m.testMode {
		return true
	}
	if !c.HasAccessToken() || c.Expiry.IsZero() {
		return false
	}
	return m.clock.Now().Add(SafetyBuffer).Before(c.Expiry.Time)
}

// Load reads the credential from the token store.
func (m *Manager) Load() (token.Credential, error) {
	c, err := m.store.Load()
	if err != nil {
		if errors.Is(err, token.ErrNotFound) && m.testMode {
			m.log.Warn("TEST MODE no token file, using placeholder credential", zap.String("path", m.store.Path()))
			c = m.placeholder(token.Credential{})
			m.remember(c)
			m.setState(StateLoaded)
			return c, nil
		}
		return token.Credential{}, err
	}
	m.remember(c)
	m.setState(StateLoaded)
	return c, nil
}

// Credential returns a usable credential, refreshing it first when it is
// within SafetyBuffer of expiry.
func (m *Manager) Credential(ctx context.Context) (token.Credential, error) {
	c, ok := m.current()
	if !ok {
		var err error
		if c, err = m.Load(); err != nil {
			return token.Credential{}, fmt.Errorf("load credential: %w", err)
		}
	}
	if m.IsValid(c) {
		m.setState(StateUsable)
		return c, nil
	}

	m.setState(StateNeedsRefresh)
	m.log.Info("access token expired or near expiry, refreshing",
		zap.Time("expiry", c.Expiry.Time))
	fresh, err := m.Refresh(ctx, c)
	if err != nil {
		m.log.Warn(MarkerExpired+" access token expired and refresh failed", zap.Error(err))
		return token.Credential{}, err
	}
	return fresh, nil
}

// AccountAuth packages the current credential for an account request.
func (m *Manager) AccountAuth(ctx context.Context) (broker.Auth, error) {
	c, err := m.Credential(ctx)
	if err != nil {
		return broker.Auth{}, err
	}
	id := m.accountID
	if id == "" {
		id = c.UserID
	}
	return broker.Auth{AccountID: id, Headers: m.Headers(c)}, nil
}

// Reauthenticate is the recovery path after repeated failures: a forced
// refresh, then local storage extraction. The outcome is always logged
// with a marker.
func (m *Manager) Reauthenticate(ctx context.Context) (token.Credential, error) {
	c, ok := m.current()
	if !ok {
		loaded, err := m.Load()
		if err == nil {
			c = loaded
		}
	}
	m.setState(StateNeedsRefresh)

	fresh, refreshErr := m.Refresh(ctx, c)
	if refreshErr == nil {
		return fresh, nil
	}
	m.log.Warn("refresh failed, trying local storage", zap.Error(refreshErr))

	extracted, extractErr := m.ExtractFromLocalStorage()
	if extractErr == nil {
		return extracted, nil
	}

	m.setState(StateNeedsManualIntervention)
	m.log.Error(MarkerManual+" re-authentication failed, capture a new token",
		zap.NamedError("refresh", refreshErr), zap.NamedError("extract", extractErr))
	return token.Credential{}, fmt.Errorf("reauthenticate: %w", errors.Join(refreshErr, extractErr))
}

func (m *Manager) accept(c token.Credential, source string) token.Credential {
	m.remember(c)
	m.setState(StateUsable)
	m.log.Info(MarkerRestored+" authentication token refreshed successfully",
		zap.String("source", source), zap.Time("expiry", c.Expiry.Time))
	return c
}

func (m *Manager) persist(c token.Credential) {
	if err := m.store.Save(c); err != nil {
		m.log.Error("could not save credential", zap.String("path", m.store.Path()), zap.Error(err))
	}
}

func (m *Manager) placeholder(base token.Credential) token.Credential {
	now := m.clock.Now()
	c := base.Clone()
	c.AccessToken = fmt.Sprintf("test_refreshed_token_%d", now.Unix())
	c.Expiry = token.At(now.Add(token.Lifetime))
	c.LastUpdated = token.At(now)
	return c
}
