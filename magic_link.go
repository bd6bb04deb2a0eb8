package auth

import (
	"context"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const defaultVerifyPath = "/auth/verify"

// IssuedLink is a freshly minted magic link.
type IssuedLink struct {
	AccountID int64
	Identity  string
	Token     string
	URL       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// MagicLinkService issues links for known, non blocked accounts.
type MagicLinkService struct {
	codec      TokenCodec
	accounts   AccountFinder
	mailer     Mailer
	baseURL    string
	verifyPath string
	timeout    time.Duration
	now        func() time.Time
	logger     Logger
	activity   ActivitySink
	metrics    *Metrics
}

// MagicLinkOption customizes a MagicLinkService.
type MagicLinkOption func(*MagicLinkService)

// WithMailer delivers issued links. Without one links are only returned.
func WithMailer(m Mailer) MagicLinkOption {
	return func(s *MagicLinkService) {
		s.mailer = m
	}
}

// WithLinkBase sets the public base URL and the verify path appended to it.
func WithLinkBase(baseURL, verifyPath string) MagicLinkOption {
	return func(s *MagicLinkService) {
		s.baseURL = strings.TrimRight(baseURL, "/")
		if verifyPath != "" {
			s.verifyPath = "/" + strings.TrimLeft(verifyPath, "/")
		}
	}
}

func WithMagicLinkClock(now func() time.Time) MagicLinkOption {
	return func(s *MagicLinkService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithMagicLinkLogger(logger Logger) MagicLinkOption {
	return func(s *MagicLinkService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMagicLinkActivitySink(sink ActivitySink) MagicLinkOption {
	return func(s *MagicLinkService) {
		s.activity = normalizeActivitySink(sink)
	}
}

func WithMagicLinkMetrics(m *Metrics) MagicLinkOption {
	return func(s *MagicLinkService) {
		s.metrics = m
	}
}

func WithMagicLinkTimeout(d time.Duration) MagicLinkOption {
	return func(s *MagicLinkService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewMagicLinkService(codec TokenCodec, accounts AccountFinder, opts ...MagicLinkOption) *MagicLinkService {
	s := &MagicLinkService{
		codec:      codec,
		accounts:   accounts,
		verifyPath: defaultVerifyPath,
		timeout:    defaultOperationTimeout,
		now:        time.Now,
		logger:     defLogger{},
		activity:   noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Issue mints a token for identity at the given instant without any lookup.
func (s *MagicLinkService) Issue(identity string, at time.Time) (string, error) {
	return s.codec.Issue(NormalizeEmail(identity), at)
}

// Link builds the verify URL carrying token.
func (s *MagicLinkService) Link(token string) string {
	return s.baseURL + s.verifyPath + "?token=" + url.QueryEscape(token)
}

// Request issues and delivers a link for email. Unknown and blocked accounts
// get ErrUnknownIdentity and ErrAccountBlocked so callers can decide how much
// to reveal.
func (s *MagicLinkService) Request(ctx context.Context, email string) (*IssuedLink, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	email = NormalizeEmail(email)
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return nil, ErrValidation.Clone().WithMetadata(map[string]any{
			"email": err.Error(),
		})
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrUnknownIdentity.Clone().WithMetadata(map[string]any{
				"identity": email,
			})
		}
		return nil, normalizeError(err, "request magic link")
	}

	if !account.CanAuthenticate() {
		return nil, ErrAccountBlocked.Clone().WithMetadata(map[string]any{
			"account_id": account.ID,
		})
	}

	issuedAt := s.now()
	token, err := s.codec.Issue(account.Email, issuedAt)
	if err != nil {
		return nil, normalizeError(err, "issue magic token")
	}

	link := &IssuedLink{
		AccountID: account.ID,
		Identity:  account.Email,
		Token:     token,
		URL:       s.Link(token),
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(TokenValidity),
	}

	if s.mailer != nil {
		if err := s.mailer.SendMagicLink(ctx, MagicLinkMessage{
			To:        account.Email,
			Link:      link.URL,
			ExpiresIn: TokenValidity.String(),
		}); err != nil {
			s.logger.Error("magic link delivery failed for account %d: %v", account.ID, err)
			return nil, normalizeError(err, "deliver magic link")
		}
	}

	s.metrics.observeIssued()
	recordActivity(ctx, s.activity, s.logger, s.now, ActivityEvent{
		EventType: ActivityEventMagicLinkIssued,
		Actor:     ActorRef{ID: formatID(account.ID), Type: "account"},
		AccountID: account.ID,
		Identity:  account.Email,
		Metadata: map[string]any{
			"expires_at": link.ExpiresAt.UTC().Format(time.RFC3339),
		},
	})

	return link, nil
}
