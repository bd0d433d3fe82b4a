// Package session owns the client's authentication state: the token and
// profile held in memory, their durable copy, and startup revalidation.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/spec-kit/canvas-sync/internal/api/dto"
	"github.com/spec-kit/canvas-sync/internal/client/api"
)

// State is the lifecycle position of the session.
type State int

const (
	StateUninitialized State = iota
	StateAnonymous
	StateValidating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateValidating:
		return "validating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "uninitialized"
	}
}

// Status is an immutable snapshot of the session.
type Status struct {
	Profile dto.Profile
	Token   string
	State   State
	// Confirmed is set once the server has accepted the token in this process.
	Confirmed bool
}

// IsAuthenticated reports whether a token is held. A session still being
// validated counts as authenticated.
func (s Status) IsAuthenticated() bool {
	return s.Token != ""
}

// Outcome classifies a validation attempt.
type Outcome int

const (
	// OutcomeConfirmed means the server accepted the token.
	OutcomeConfirmed Outcome = iota + 1
	// OutcomeRejected means the server explicitly refused the token.
	OutcomeRejected
	// OutcomeUnreachable means no verdict could be obtained.
	OutcomeUnreachable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// ValidationResult reports the verdict on a stored token. Applied is false
// when the session had moved on to another token before the verdict arrived.
type ValidationResult struct {
	Outcome Outcome
	Profile *dto.Profile
	Err     error
	Applied bool
}

// ErrNotAuthenticated is returned by operations that need a token.
var ErrNotAuthenticated = errors.New("session: not authenticated")

// Authenticator is the server side of the session.
type Authenticator interface {
	Signup(ctx context.Context, email, password, name string) (*dto.AuthResponse, error)
	Login(ctx context.Context, email, password string) (*dto.AuthResponse, error)
	Me(ctx context.Context, token string) (*dto.Profile, error)
	Logout(ctx context.Context, token string) error
}

// Manager is the single owner of the session. Readers get consistent
// snapshots without locking; mutations are serialized and always write the
// store before memory.
type Manager struct {
	mu      sync.Mutex
	current atomic.Pointer[Status]
	store   Store
	remote  Authenticator
	logger  *zap.Logger
}

// NewManager creates a manager in state Uninitialized. Call Restore at startup.
func NewManager(store Store, remote Authenticator, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{store: store, remote: remote, logger: logger}
	m.current.Store(&Status{State: StateUninitialized})
	return m
}

// Current returns the current snapshot.
func (m *Manager) Current() Status {
	return *m.current.Load()
}

// AuthHeader returns the headers to attach to API calls: a bearer
// Authorization header when a token is held, otherwise an empty set.
func (m *Manager) AuthHeader() http.Header {
	header := http.Header{}
	if status := m.current.Load(); status != nil && status.Token != "" {
		header.Set("Authorization", "Bearer "+status.Token)
	}
	return header
}

// Restore loads the persisted session. With nothing stored the session is
// anonymous and the returned channel is nil. Otherwise the stored session is
// adopted immediately in state Validating and the token is checked against
// the server in the background; the buffered channel receives the verdict
// and may be ignored.
func (m *Manager) Restore(ctx context.Context) (<-chan ValidationResult, error) {
	m.mu.Lock()
	p, err := m.store.Load(ctx)
	switch {
	case errors.Is(err, ErrCorrupt):
		m.logger.Warn("discarding unreadable stored session", zap.Error(err))
		if clearErr := m.store.Clear(ctx); clearErr != nil {
			m.logger.Error("failed to clear stored session", zap.Error(clearErr))
		}
		m.current.Store(&Status{State: StateAnonymous})
		m.mu.Unlock()
		return nil, nil
	case err != nil:
		m.current.Store(&Status{State: StateAnonymous})
		m.mu.Unlock()
		return nil, fmt.Errorf("restore session: %w", err)
	case p == nil || p.Token == "":
		m.current.Store(&Status{State: StateAnonymous})
		m.mu.Unlock()
		return nil, nil
	}
	m.current.Store(&Status{Profile: p.Profile, Token: p.Token, State: StateValidating})
	m.mu.Unlock()

	results := make(chan ValidationResult, 1)
	go func(token string) {
		defer close(results)
		results <- m.validate(ctx, token)
	}(p.Token)
	return results, nil
}

// Validate synchronously revalidates the current token.
func (m *Manager) Validate(ctx context.Context) (ValidationResult, error) {
	token := m.current.Load().Token
	if token == "" {
		return ValidationResult{}, ErrNotAuthenticated
	}
	return m.validate(ctx, token), nil
}

// Signup creates an account and adopts the returned session. On failure the
// current session is untouched and the server's error is returned.
func (m *Manager) Signup(ctx context.Context, email, password, name string) (Status, error) {
	res, err := m.remote.Signup(ctx, email, password, name)
	if err != nil {
		return m.Current(), err
	}
	return m.adopt(ctx, res)
}

// Login authenticates and adopts the returned session. On failure the current
// session is untouched and the server's error is returned.
func (m *Manager) Login(ctx context.Context, email, password string) (Status, error) {
	res, err := m.remote.Login(ctx, email, password)
	if err != nil {
		return m.Current(), err
	}
	return m.adopt(ctx, res)
}

// Logout clears the stored and in-memory session, then revokes the old token
// on the server. It is a no-op when already anonymous. Revocation failures
// are logged and not returned.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	previous := m.current.Load()
	if err := m.store.Clear(ctx); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("clear session: %w", err)
	}
	m.current.Store(&Status{State: StateAnonymous})
	m.mu.Unlock()

	if previous.Token == "" {
		return nil
	}
	if err := m.remote.Logout(ctx, previous.Token); err != nil {
		m.logger.Warn("server-side logout failed", zap.Error(err))
	}
	return nil
}

func (m *Manager) adopt(ctx context.Context, res *dto.AuthResponse) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Save(ctx, Persisted{Profile: res.Profile, Token: res.Token}); err != nil {
		return *m.current.Load(), fmt.Errorf("persist session: %w", err)
	}
	next := &Status{Profile: res.Profile, Token: res.Token, State: StateAuthenticated, Confirmed: true}
	m.current.Store(next)
	return *next, nil
}

func (m *Manager) validate(ctx context.Context, token string) ValidationResult {
	profile, err := m.remote.Me(ctx, token)
	result := ValidationResult{Profile: profile, Err: err}
	switch {
	case err == nil:
		result.Outcome = OutcomeConfirmed
	case api.IsUnauthorized(err):
		result.Outcome = OutcomeRejected
	default:
		result.Outcome = OutcomeUnreachable
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.current.Load()
	if current.Token != token {
		m.logger.Debug("dropping validation result for a replaced token", zap.Stringer("outcome", result.Outcome))
		return result
	}
	result.Applied = true

	switch result.Outcome {
	case OutcomeConfirmed:
		next := &Status{Profile: *profile, Token: token, State: StateAuthenticated, Confirmed: true}
		if err := m.store.Save(ctx, Persisted{Profile: next.Profile, Token: token}); err != nil {
			m.logger.Warn("failed to persist refreshed profile", zap.Error(err))
			next.Profile = current.Profile
		}
		m.current.Store(next)
	case OutcomeRejected:
		if err := m.store.Clear(ctx); err != nil {
			m.logger.Error("failed to clear rejected session", zap.Error(err))
		}
		m.current.Store(&Status{State: StateAnonymous})
		m.logger.Info("stored session rejected by server")
	case OutcomeUnreachable:
		m.current.Store(&Status{Profile: current.Profile, Token: token, State: StateAuthenticated})
		m.logger.Warn("session validation unavailable; continuing unconfirmed", zap.Error(err))
	}
	return result
}
