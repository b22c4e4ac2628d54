package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/passhub/gatekeeper/pkg/admission"
	"github.com/passhub/gatekeeper/pkg/common"
	"github.com/passhub/gatekeeper/pkg/config"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
)

// identityClaims is what the identity source puts in its tokens: the
// principal id in the standard subject claim plus a role claim.
type identityClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// identityMiddleware adapts the external identity source: it extracts
// {principalId, role} from a bearer token when present and valid, and
// leaves the request anonymous otherwise. It never rejects a request;
// authentication outcomes belong to the protected routes, not the limiter.
type identityMiddleware struct {
	logger *logrus.Logger
	cfg    *config.ServerConfig
}

func NewIdentityMiddleware(logger *logrus.Logger, cfg *config.ServerConfig) Middleware {
	return &identityMiddleware{logger: logger, cfg: cfg}
}

func (m *identityMiddleware) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if principal := m.resolve(ctx); principal != nil {
			ctx.Locals(common.PrincipalContextKey, principal)
		}
		return ctx.Next()
	}
}

func (m *identityMiddleware) resolve(ctx *fiber.Ctx) *admission.Principal {
	authHeader := ctx.Get(authorizationHeader)
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return nil
	}
	tokenString := strings.TrimPrefix(authHeader, bearerPrefix)
	if tokenString == "" {
		return nil
	}

	claims := &identityClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return []byte(m.cfg.SecretKey), nil
	})
	if err != nil || !token.Valid {
		m.logger.WithError(err).Debug("invalid bearer token, treating caller as anonymous")
		return nil
	}
	if claims.Subject == "" {
		return nil
	}
	return &admission.Principal{
		ID:   claims.Subject,
		Role: claims.Role,
	}
}

// PrincipalFromContext fetches the principal stored by the identity
// middleware, or nil for anonymous callers.
func PrincipalFromContext(ctx *fiber.Ctx) *admission.Principal {
	principal, ok := ctx.Locals(common.PrincipalContextKey).(*admission.Principal)
	if !ok {
		return nil
	}
	return principal
}
