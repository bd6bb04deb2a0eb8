package auth

import (
	"context"
	"strconv"
	"time"
)

// VerifyOutcome is the tagged result of a verification.
type VerifyOutcome string

const (
	OutcomeValid           VerifyOutcome = "valid"
	OutcomeExpired         VerifyOutcome = "expired"
	OutcomeMalformed       VerifyOutcome = "malformed"
	OutcomeNotYetValid     VerifyOutcome = "not_yet_valid"
	OutcomeUnknownIdentity VerifyOutcome = "unknown_identity"
	OutcomeForbidden       VerifyOutcome = "forbidden"
	OutcomeReplayed        VerifyOutcome = "replayed"
	OutcomeFailed          VerifyOutcome = "failed"
)

// Route tells the caller where an authenticated identity lands.
type Route string

const (
	RouteAdmin   Route = "admin"
	RouteRegular Route = "regular"
)

// Verification is the result of checking a magic token.
type Verification struct {
	Outcome   VerifyOutcome
	Identity  string
	AccountID int64
	IssuedAt  time.Time
	ExpiresAt time.Time
	Route     Route
}

// Valid reports whether the token granted a session.
func (v Verification) Valid() bool {
	return v.Outcome == OutcomeValid
}

// TokenVerifier decodes magic tokens and decides whether they open a session.
type TokenVerifier struct {
	codec      TokenCodec
	accounts   AccountFinder
	adminEmail string
	clockSkew  time.Duration
	replay     ReplayGuard
	logger     Logger
	activity   ActivitySink
	metrics    *Metrics
	now        func() time.Time
}

// VerifierOption customizes a TokenVerifier.
type VerifierOption func(*TokenVerifier)

// WithAdminIdentity sets the identity routed to the admin area.
func WithAdminIdentity(email string) VerifierOption {
	return func(v *TokenVerifier) {
		v.adminEmail = NormalizeEmail(email)
	}
}

// WithVerifierClock overrides the clock, mostly for tests.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *TokenVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// DefaultClockSkew is how far in the future a token may be issued before it
// is rejected, so replicas with slightly drifting clocks agree.
const DefaultClockSkew = time.Second

// WithClockSkew tolerates tokens issued up to skew in the future. Zero makes
// any future issuance fail.
func WithClockSkew(skew time.Duration) VerifierOption {
	return func(v *TokenVerifier) {
		if skew >= 0 {
			v.clockSkew = skew
		}
	}
}

// WithReplayGuard makes tokens single use.
func WithReplayGuard(guard ReplayGuard) VerifierOption {
	return func(v *TokenVerifier) {
		v.replay = guard
	}
}

func WithVerifierLogger(logger Logger) VerifierOption {
	return func(v *TokenVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithVerifierActivitySink(sink ActivitySink) VerifierOption {
	return func(v *TokenVerifier) {
		v.activity = normalizeActivitySink(sink)
	}
}

func WithVerifierMetrics(m *Metrics) VerifierOption {
	return func(v *TokenVerifier) {
		v.metrics = m
	}
}

// NewTokenVerifier creates a verifier that resolves identities through accounts.
func NewTokenVerifier(codec TokenCodec, accounts AccountFinder, opts ...VerifierOption) *TokenVerifier {
	v := &TokenVerifier{
		codec:     codec,
		accounts:  accounts,
		clockSkew: DefaultClockSkew,
		logger:    defLogger{},
		activity:  noopActivitySink{},
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Verify runs decode, expiry, lookup, blocked check and optional replay check
// in that order. The first failing step decides the outcome.
func (v *TokenVerifier) Verify(ctx context.Context, token string) (Verification, error) {
	result, err := v.verify(ctx, token)
	v.metrics.observeVerification(result.Outcome)

	event := ActivityEvent{
		EventType: ActivityEventMagicLinkVerified,
		AccountID: result.AccountID,
		Identity:  result.Identity,
		Metadata: map[string]any{
			"outcome": string(result.Outcome),
		},
	}
	if err != nil {
		event.EventType = ActivityEventMagicLinkRejected
		event.Metadata["error"] = TextCode(err)
		v.logger.Debug("magic token rejected: outcome=%s identity=%s", result.Outcome, result.Identity)
	} else {
		event.Metadata["route"] = string(result.Route)
	}
	if result.AccountID != 0 {
		event.Actor = ActorRef{ID: formatID(result.AccountID), Type: "account"}
	}
	recordActivity(ctx, v.activity, v.logger, v.now, event)

	return result, err
}

func (v *TokenVerifier) verify(ctx context.Context, token string) (Verification, error) {
	if err := ctx.Err(); err != nil {
		return Verification{Outcome: OutcomeFailed}, cancelled(err, "verify token")
	}

	claims, err := v.codec.Decode(token)
	if err != nil {
		if !IsMalformed(err) {
			err = malformed(err.Error())
		}
		return Verification{Outcome: OutcomeMalformed}, err
	}

	result := Verification{
		Identity:  claims.Identity,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.IssuedAt.Add(TokenValidity),
	}

	now := v.now()
	if claims.IssuedAt.After(now.Add(v.clockSkew)) {
		result.Outcome = OutcomeNotYetValid
		return result, ErrTokenNotYetValid.Clone().WithMetadata(map[string]any{
			"issued_at": claims.IssuedAt.UTC().Format(time.RFC3339Nano),
			"skew":      v.clockSkew.String(),
		})
	}

	age := now.Sub(claims.IssuedAt)
	if age > TokenValidity {
		result.Outcome = OutcomeExpired
		return result, ErrTokenExpired.Clone().WithMetadata(map[string]any{
			"issued_at":  claims.IssuedAt.UTC().Format(time.RFC3339),
			"expired_at": result.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}

	account, err := v.accounts.GetByEmail(ctx, NormalizeEmail(claims.Identity))
	if err != nil {
		if IsNotFound(err) || isNoRows(err) {
			result.Outcome = OutcomeUnknownIdentity
			return result, ErrUnknownIdentity.Clone().WithMetadata(map[string]any{
				"identity": claims.Identity,
			})
		}
		result.Outcome = OutcomeFailed
		return result, normalizeError(err, "look up token identity")
	}
	if account == nil {
		result.Outcome = OutcomeUnknownIdentity
		return result, ErrUnknownIdentity.Clone().WithMetadata(map[string]any{
			"identity": claims.Identity,
		})
	}

	result.AccountID = account.ID

	if !account.CanAuthenticate() {
		result.Outcome = OutcomeForbidden
		return result, ErrAccountBlocked.Clone().WithMetadata(map[string]any{
			"account_id": account.ID,
		})
	}

	if v.replay != nil {
		remaining := TokenValidity - age
		fresh, err := v.replay.MarkUsed(ctx, token, remaining)
		if err != nil {
			result.Outcome = OutcomeFailed
			return result, normalizeError(err, "mark token used")
		}
		if !fresh {
			result.Outcome = OutcomeReplayed
			return result, ErrTokenAlreadyUsed.Clone().WithMetadata(map[string]any{
				"account_id": account.ID,
			})
		}
	}

	result.Outcome = OutcomeValid
	result.Route = v.routeFor(claims.Identity)
	return result, nil
}

func (v *TokenVerifier) routeFor(identity string) Route {
	if v.adminEmail != "" && NormalizeEmail(identity) == v.adminEmail {
		return RouteAdmin
	}
	return RouteRegular
}

// OutcomeFor classifies an error returned by Verify.
func OutcomeFor(err error) VerifyOutcome {
	switch TextCode(err) {
	case "":
		if err == nil {
			return OutcomeValid
		}
		return OutcomeFailed
	case TextCodeTokenExpired:
		return OutcomeExpired
	case TextCodeTokenMalformed:
		return OutcomeMalformed
	case TextCodeTokenNotYetValid:
		return OutcomeNotYetValid
	case TextCodeUnknownIdentity:
		return OutcomeUnknownIdentity
	case TextCodeAccountBlocked:
		return OutcomeForbidden
	case TextCodeTokenAlreadyUsed:
		return OutcomeReplayed
	default:
		return OutcomeFailed
	}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
