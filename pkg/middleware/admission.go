package middleware

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/passhub/gatekeeper/pkg/admission"
	"github.com/passhub/gatekeeper/pkg/common"
)

const (
	headerLimit      = "X-RateLimit-Limit"
	headerRemaining  = "X-RateLimit-Remaining"
	headerReset      = "X-RateLimit-Reset"
	headerRetryAfter = "Retry-After"
)

// admissionMiddleware runs the admission pipeline ahead of every protected
// route and translates the decision into the HTTP response contract:
// X-RateLimit-* headers on every request, 429 with retry information on
// throttling, 403 on blacklist denial.
type admissionMiddleware struct {
	logger  *logrus.Logger
	service *admission.Service
}

func NewAdmissionMiddleware(logger *logrus.Logger, service *admission.Service) Middleware {
	return &admissionMiddleware{logger: logger, service: service}
}

func (m *admissionMiddleware) Middleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		traceID := uuid.New().String()
		ctx.Locals(common.TraceIdKey, traceID)

		req := admission.Request{
			Method:    ctx.Method(),
			Path:      ctx.Path(),
			IP:        clientIP(ctx),
			Principal: PrincipalFromContext(ctx),
			TraceID:   traceID,
		}

		adm := m.service.Admit(ctx.UserContext(), req)

		// Progressive penalty: a bounded sleep punishing repeat
		// offenders even on requests that are otherwise allowed.
		if adm.Delay > 0 && !m.sleep(ctx, adm.Delay) {
			return ctx.Status(fiber.StatusRequestTimeout).JSON(fiber.Map{
				"error": "request cancelled",
			})
		}

		setDecisionHeaders(ctx, adm)

		if !adm.Allowed {
			if adm.Blacklisted {
				return ctx.Status(fiber.StatusForbidden).JSON(fiber.Map{
					"error":      "forbidden",
					"message":    "access temporarily revoked",
					"retryAfter": retryAfterSeconds(adm.RetryAfter),
				})
			}
			return ctx.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":      "rate_limit_exceeded",
				"message":    "too many requests for rule " + adm.RuleName,
				"retryAfter": retryAfterSeconds(adm.RetryAfter),
			})
		}

		if adm.Deferred == nil {
			return ctx.Next()
		}

		err := ctx.Next()
		failed := err != nil || ctx.Response().StatusCode() >= fiber.StatusBadRequest
		adm.Deferred(failed)
		return err
	}
}

// sleep blocks for the penalty delay, giving up when the caller goes away.
func (m *admissionMiddleware) sleep(ctx *fiber.Ctx, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Context().Done():
		return false
	}
}

func setDecisionHeaders(ctx *fiber.Ctx, adm admission.Admission) {
	ctx.Set(headerLimit, strconv.FormatInt(adm.Limit, 10))
	ctx.Set(headerRemaining, strconv.FormatInt(adm.Remaining, 10))
	if !adm.Reset.IsZero() {
		ctx.Set(headerReset, adm.Reset.UTC().Format(time.RFC3339))
	}
	if !adm.Allowed {
		ctx.Set(headerRetryAfter, strconv.FormatInt(retryAfterSeconds(adm.RetryAfter), 10))
	}
}

func retryAfterSeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if secs < 1 && d > 0 {
		return 1
	}
	return secs
}

// clientIP prefers the proxy-forwarded headers, falling back to the
// connection address.
func clientIP(ctx *fiber.Ctx) string {
	ipHeaders := []string{
		"X-Real-IP",
		"X-Forwarded-For",
		"X-Original-Forwarded-For",
		"True-Client-IP",
		"CF-Connecting-IP",
	}

	for _, header := range ipHeaders {
		if value := ctx.Get(header); value != "" {
			ips := strings.Split(value, ",")
			if len(ips) > 0 {
				ip := strings.TrimSpace(ips[0])
				if parsedIP := net.ParseIP(ip); parsedIP != nil {
					return ip
				}
			}
		}
	}
	return strings.TrimSpace(ctx.IP())
}
