package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/canvas-sync/internal/domain"
	"github.com/spec-kit/canvas-sync/pkg/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	User   *domain.User
	Claims *Claims
}

// UserLookup loads the user named by a token subject.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens  *TokenManager
	users   UserLookup
	revoked RevocationList
	logger  *zap.Logger
}

// NewAuthMiddleware constructs middleware. revoked may be nil.
func NewAuthMiddleware(tokens *TokenManager, users UserLookup, revoked RevocationList, logger *zap.Logger) *AuthMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{tokens: tokens, users: users, revoked: revoked, logger: logger}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	token, err := BearerToken(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return err
	}

	claims, err := m.tokens.ParseToken(token)
	if err != nil {
		return errorutil.NewUnauthorized("invalid token")
	}

	ctx := c.UserContext()
	if m.revoked != nil {
		revoked, err := m.revoked.IsRevoked(ctx, claims.TokenID())
		switch {
		case err != nil:
			// Redis outages must not log every user out.
			m.logger.Warn("revocation check failed", zap.Error(err))
		case revoked:
			return errorutil.NewUnauthorized("token revoked")
		}
	}

	user, err := m.users.GetByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errorutil.NewUnauthorized("user not found")
		}
		return errorutil.MapError(err)
	}

	c.Locals(principalKey, &Principal{User: user, Claims: claims})
	return c.Next()
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", errorutil.NewUnauthorized("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errorutil.NewUnauthorized("invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}

// RequireUser fails with 401 when no principal was attached.
func RequireUser(c *fiber.Ctx) (*Principal, error) {
	principal, ok := PrincipalFromContext(c)
	if !ok || principal.User == nil {
		return nil, errorutil.NewUnauthorized("authentication required")
	}
	return principal, nil
}
