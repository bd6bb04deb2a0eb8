package auth

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// AccountFinder resolves accounts by their token identity.
type AccountFinder interface {
	GetByEmail(ctx context.Context, email string) (*Account, error)
}

// Config holds the options the library reads at wiring time
type Config interface {
	GetAdminEmail() string
	GetTokenScheme() string
	GetSigningKey() string
	GetIssuer() string
	GetClockSkew() time.Duration
	GetSingleUseTokens() bool
	GetBaseURL() string
	GetVerifyPath() string
	GetAdminRedirect() string
	GetUserRedirect() string
	GetLoginRedirect() string
	GetOperationTimeout() time.Duration
}

// ActorRef identifies who/what triggered a change.
type ActorRef struct {
	ID   string
	Type string
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
