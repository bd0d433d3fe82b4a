package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/canvas-sync/internal/auth"
	"github.com/spec-kit/canvas-sync/internal/config"
	"github.com/spec-kit/canvas-sync/internal/domain"
	"github.com/spec-kit/canvas-sync/internal/events"
	"github.com/spec-kit/canvas-sync/internal/repository"
	"github.com/spec-kit/canvas-sync/pkg/errorutil"
)

// AuthService coordinates signup, login and logout flows.
type AuthService struct {
	users      repository.UserRepository
	canvases   repository.CanvasRepository
	revoked    auth.RevocationList
	dispatcher events.Dispatcher
	logger     *zap.Logger
	tokenMgr   *auth.TokenManager
	passwords  auth.Hasher
}

// AuthDependencies encapsulates collaborators of the auth service.
type AuthDependencies struct {
	UserRepo    repository.UserRepository
	CanvasRepo  repository.CanvasRepository
	Revocations auth.RevocationList
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
}

// AuthResult is returned by successful signup and login.
type AuthResult struct {
	User            *domain.User
	Token           string
	ExpiresAt       time.Time
	DefaultCanvasID string
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      deps.UserRepo,
		canvases:   deps.CanvasRepo,
		revoked:    deps.Revocations,
		dispatcher: deps.Dispatcher,
		logger:     logger,
		tokenMgr:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
		passwords:  auth.NewHasher(cfg.Auth.BcryptCost),
	}
}

// Signup creates an account, seeds its default canvas and issues a token.
func (s *AuthService) Signup(ctx context.Context, name, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, errorutil.NewValidationError(missingCredentialField(email), "email and password required")
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, errorutil.NewValidationError("email", repository.ErrDuplicateEmail.Error())
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := s.passwords.Hash(password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return nil, errorutil.NewValidationError("password", err.Error())
	}
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, errorutil.NewValidationError("email", err.Error())
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	// The account exists from here on. A failed seed only delays the default
	// canvas: GetDefault creates it on first use.
	canvas := &domain.Canvas{
		OwnerID: user.ID,
		Name:    domain.FirstCanvasName,
		Nodes:   domain.SeedNodes(),
		Edges:   []json.RawMessage{},
	}
	if _, err := s.canvases.CreateDefault(ctx, canvas); err != nil {
		s.logger.Warn("could not seed default canvas at signup",
			zap.String("user_id", user.ID), zap.Error(err))
		canvas.ID = ""
	}

	token, exp, err := s.tokenMgr.GenerateToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	publish(ctx, s.dispatcher, s.logger, events.Event{Type: events.EventUserSignedUp, OwnerID: user.ID, CanvasID: canvas.ID})
	return &AuthResult{User: user, Token: token, ExpiresAt: exp, DefaultCanvasID: canvas.ID}, nil
}

// Login authenticates an account holder.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, errorutil.NewValidationError(missingCredentialField(email), "email and password required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errorutil.NewUnauthorized("invalid credentials")
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	ok, err := s.passwords.Matches(user.PasswordHash, password)
	if err != nil {
		return nil, fmt.Errorf("check password for user %s: %w", user.ID, err)
	}
	if !ok {
		return nil, errorutil.NewUnauthorized("invalid credentials")
	}

	token, exp, err := s.tokenMgr.GenerateToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &AuthResult{User: user, Token: token, ExpiresAt: exp}, nil
}

// Logout revokes the presented token until it would have expired.
func (s *AuthService) Logout(ctx context.Context, claims *auth.Claims) error {
	if s.revoked == nil || claims == nil {
		return nil
	}
	if err := s.revoked.Revoke(ctx, claims.TokenID(), claims.Expiry()); err != nil {
		s.logger.Warn("token revocation failed", zap.String("user_id", claims.UserID()), zap.Error(err))
		return errorutil.NewUnavailable("token revocation unavailable")
	}
	return nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func missingCredentialField(email string) string {
	if email == "" {
		return "email"
	}
	return "password"
}
