package auth

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

const (
	// AdminAPIKeyHeader carries the shared secret for the administrative routes.
	AdminAPIKeyHeader = "X-Admin-API-Key"
	// ActorHeader optionally names the operator behind an administrative call.
	ActorHeader = "X-Actor-ID"

	actorLocalsKey = "admin_actor"
)

// RouteRegistrar captures the router methods used by the controllers.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Put(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Patch(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// AdminAPIKeyGuard rejects requests without the shared key. An empty key
// disables the guard.
func AdminAPIKeyGuard(key string, logger Logger) router.MiddlewareFunc {
	logger = normalizeLogger(logger)
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if key == "" {
				return next(ctx)
			}

			provided := ctx.Header(AdminAPIKeyHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				logger.Warn("rejected administrative request: missing or invalid %s", AdminAPIKeyHeader)
				return ctx.JSON(http.StatusUnauthorized, map[string]any{
					"success": false,
					"message": "unauthorized",
					"error":   "UNAUTHORIZED",
				})
			}

			ctx.Locals(actorLocalsKey, ActorRef{ID: actorID(ctx), Type: "admin_api"})
			return next(ctx)
		}
	}
}

// actorFrom resolves who is performing an administrative call.
func actorFrom(ctx router.Context) ActorRef {
	if actor, ok := ctx.Locals(actorLocalsKey).(ActorRef); ok {
		return actor
	}
	return ActorRef{ID: actorID(ctx), Type: "admin"}
}

func actorID(ctx router.Context) string {
	if id := strings.TrimSpace(ctx.Header(ActorHeader)); id != "" {
		return id
	}
	return "anonymous"
}

// errorResponse writes err as a JSON envelope using the status carried by
// rich errors. Anything unexpected is logged in full and hidden behind a 500.
func errorResponse(ctx router.Context, logger Logger, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithTextCode(TextCodeInternal).
			WithCode(errors.CodeInternal)
	}

	status := richErr.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		normalizeLogger(logger).Error("request failed: %v details=%s", err, print.MaybePrettyJSON(richErr.Metadata))
		return ctx.JSON(status, map[string]any{
			"success": false,
			"message": "An unexpected server error occurred",
			"error":   TextCodeInternal,
		})
	}

	normalizeLogger(logger).Debug("request rejected: %s %s", richErr.TextCode, richErr.Message)

	body := map[string]any{
		"success": false,
		"message": richErr.Message,
		"error":   richErr.TextCode,
	}
	if details := publicDetails(richErr); len(details) > 0 {
		body["details"] = details
	}
	return ctx.JSON(status, body)
}

// publicDetails exposes validation metadata only, other categories may
// carry internals.
func publicDetails(err *errors.Error) map[string]any {
	switch err.TextCode {
	case TextCodeValidation, TextCodeInvalidPermission:
		return err.Metadata
	default:
		return nil
	}
}

func appendQueryParam(rawURL, key, value string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err == nil {
		query := parsed.Query()
		query.Set(key, value)
		parsed.RawQuery = query.Encode()
		return parsed.String()
	}

	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}
