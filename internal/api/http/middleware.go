package http

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spec-kit/canvas-sync/internal/observability"
	"github.com/spec-kit/canvas-sync/pkg/errorutil"
)

const requestIDHeader = "X-Request-ID"

// RegisterMiddlewares attaches global middlewares such as error handling and logging.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration, allowedOrigins []string) {
	app.Use(requestIDMiddleware())
	if len(allowedOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins:  strings.Join(allowedOrigins, ","),
			AllowHeaders:  "Origin, Content-Type, Accept, Authorization",
			AllowMethods:  "GET,POST,PUT,DELETE,OPTIONS",
			ExposeHeaders: requestIDHeader,
		}))
	}
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(observability.RequestLogger(logger, metrics))
	app.Use(errorHandlingMiddleware(logger, metrics))
}

func requestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals(observability.RequestIDKey, id)
		c.Set(requestIDHeader, id)
		return c.Next()
	}
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = errorutil.NewInternalError(nil)
			}
			if err != nil {
				err = writeError(c, err, logger, metrics)
			}
		}()
		return c.Next()
	}
}

// ErrorHandler is the fiber-level fallback for errors raised outside the
// middleware chain, such as unmatched routes and body limit violations.
func ErrorHandler(logger *zap.Logger, metrics *observability.Metrics) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		return writeError(c, err, logger, metrics)
	}
}

func writeError(c *fiber.Ctx, err error, logger *zap.Logger, metrics *observability.Metrics) error {
	domainErr := fromFiberError(err)
	route := c.Path()
	if r := c.Route(); r != nil && r.Path != "" {
		route = r.Path
	}
	metrics.RecordError(route, c.Method(), domainErr.Code)
	if domainErr.HTTPStatus >= fiber.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.Any("request_id", c.Locals(observability.RequestIDKey)),
			zap.Error(domainErr))
	}
	body := fiber.Map{
		"code":    domainErr.Code,
		"message": domainErr.Message,
	}
	if len(domainErr.Details) > 0 {
		body["details"] = domainErr.Details
	}
	return c.Status(domainErr.HTTPStatus).JSON(fiber.Map{"error": body})
}

func fromFiberError(err error) *errorutil.DomainError {
	var domainErr *errorutil.DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	var fiberErr *fiber.Error
	if !errors.As(err, &fiberErr) {
		return errorutil.ToDomainError(err)
	}
	switch fiberErr.Code {
	case fiber.StatusNotFound:
		return errorutil.NewNotFound("route", nil).(*errorutil.DomainError)
	case fiber.StatusUnauthorized:
		return errorutil.NewUnauthorized(fiberErr.Message).(*errorutil.DomainError)
	case fiber.StatusTooManyRequests:
		return errorutil.NewTooManyRequests(fiberErr.Message).(*errorutil.DomainError)
	}
	if fiberErr.Code >= fiber.StatusBadRequest && fiberErr.Code < fiber.StatusInternalServerError {
		return errorutil.NewDomainError(errorutil.CodeValidation, fiberErr.Message, fiberErr.Code, nil)
	}
	return errorutil.NewInternalError(fiberErr).(*errorutil.DomainError)
}

// limiterIdleTTL is how long a client's bucket survives without requests.
// It must exceed the time to refill a full burst, after which a dropped
// bucket is indistinguishable from a fresh one.
const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters hands out one token bucket per client key and drops buckets
// that have sat idle for longer than idleTTL.
type clientLimiters struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	now       func() time.Time
	lastSweep time.Time
	limiters  map[string]*limiterEntry
}

func newClientLimiters(perMinute int) *clientLimiters {
	return &clientLimiters{
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    perMinute,
		idleTTL:  limiterIdleTTL,
		now:      time.Now,
		limiters: make(map[string]*limiterEntry),
	}
}

func (l *clientLimiters) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.sweepLocked(now)
	}
	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *clientLimiters) sweepLocked(now time.Time) {
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) >= l.idleTTL {
			delete(l.limiters, key)
		}
	}
	l.lastSweep = now
}

func (l *clientLimiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// RateLimitMiddleware rejects clients exceeding perMinute requests with 429.
// A non-positive limit disables it.
func RateLimitMiddleware(perMinute int) fiber.Handler {
	if perMinute <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	limiters := newClientLimiters(perMinute)
	return rateLimit(limiters)
}

func rateLimit(limiters *clientLimiters) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !limiters.allow(c.IP()) {
			return errorutil.NewTooManyRequests("too many requests, try again later")
		}
		return c.Next()
	}
}
