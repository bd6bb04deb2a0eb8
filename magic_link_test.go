package auth_test

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-admin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestMagicLinkService(t *testing.T, finder auth.AccountFinder, opts ...auth.MagicLinkOption) (*auth.MagicLinkService, auth.TokenCodec) {
	t.Helper()
	codec, err := auth.NewSignedCodec([]byte(testSigningKey), "adminauth")
	require.NoError(t, err)

	opts = append([]auth.MagicLinkOption{
		auth.WithMagicLinkClock(fixedClock(verifierNow)),
		auth.WithMagicLinkLogger(nopLogger{}),
		auth.WithLinkBase("https://admin.example.com/", "auth/verify"),
	}, opts...)
	return auth.NewMagicLinkService(codec, finder, opts...), codec
}

func TestMagicLinkRequestIssuesAndDelivers(t *testing.T) {
	finder := &MockAccountFinder{}
	finder.On("GetByEmail", mock.Anything, "ana@example.com").
		Return(&auth.Account{ID: 2, Email: "ana@example.com"}, nil)

	mailer := &MockMailer{}
	mailer.On("SendMagicLink", mock.Anything, mock.MatchedBy(func(msg auth.MagicLinkMessage) bool {
		return msg.To == "ana@example.com" && msg.ExpiresIn == "24h0m0s"
	})).Return(nil).Once()

	sink := &recordingSink{}
	svc, codec := newTestMagicLinkService(t, finder, auth.WithMailer(mailer), auth.WithMagicLinkActivitySink(sink))

	link, err := svc.Request(context.Background(), "  Ana@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, int64(2), link.AccountID)
	assert.Equal(t, verifierNow.Add(auth.TokenValidity), link.ExpiresAt)

	parsed, err := url.Parse(link.URL)
	require.NoError(t, err)
	assert.Equal(t, "admin.example.com", parsed.Host)
	assert.Equal(t, "/auth/verify", parsed.Path)
	assert.Equal(t, link.Token, parsed.Query().Get("token"))

	claims, err := codec.Decode(link.Token)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", claims.Identity)

	mailer.AssertExpectations(t)
	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, auth.ActivityEventMagicLinkIssued, events[0].EventType)
}

func TestMagicLinkIssuedTokenVerifies(t *testing.T) {
	finder := &MockAccountFinder{}
	finder.On("GetByEmail", mock.Anything, "ana@example.com").
		Return(&auth.Account{ID: 2, Email: "ana@example.com"}, nil)

	svc, codec := newTestMagicLinkService(t, finder)
	link, err := svc.Request(context.Background(), "ana@example.com")
	require.NoError(t, err)

	verifier := auth.NewTokenVerifier(codec, finder,
		auth.WithVerifierClock(fixedClock(verifierNow.Add(23*time.Hour))),
		auth.WithVerifierLogger(nopLogger{}),
	)
	result, err := verifier.Verify(context.Background(), link.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.AccountID)
}

func TestMagicLinkRequestUnknownAndBlocked(t *testing.T) {
	finder := &MockAccountFinder{}
	finder.On("GetByEmail", mock.Anything, "ghost@example.com").Return(nil, auth.ErrAccountNotFound)
	finder.On("GetByEmail", mock.Anything, "blocked@example.com").
		Return(&auth.Account{ID: 9, Email: "blocked@example.com", Active: true, Blocked: true}, nil)

	mailer := &MockMailer{}
	svc, _ := newTestMagicLinkService(t, finder, auth.WithMailer(mailer))

	_, err := svc.Request(context.Background(), "ghost@example.com")
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeUnknownIdentity, auth.TextCode(err))

	_, err = svc.Request(context.Background(), "blocked@example.com")
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeAccountBlocked, auth.TextCode(err))

	mailer.AssertNotCalled(t, "SendMagicLink", mock.Anything, mock.Anything)
}

func TestMagicLinkRequestValidatesEmailBeforeLookup(t *testing.T) {
	finder := &MockAccountFinder{}
	svc, _ := newTestMagicLinkService(t, finder)

	_, err := svc.Request(context.Background(), "not an email")
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeValidation, auth.TextCode(err))
	finder.AssertNotCalled(t, "GetByEmail", mock.Anything, mock.Anything)
}

func TestMagicLinkDeliveryFailure(t *testing.T) {
	finder := &MockAccountFinder{}
	finder.On("GetByEmail", mock.Anything, "ana@example.com").
		Return(&auth.Account{ID: 2, Email: "ana@example.com"}, nil)

	mailer := &MockMailer{}
	mailer.On("SendMagicLink", mock.Anything, mock.Anything).Return(errors.New("relay down"))

	svc, _ := newTestMagicLinkService(t, finder, auth.WithMailer(mailer))
	_, err := svc.Request(context.Background(), "ana@example.com")
	require.Error(t, err)
	assert.Equal(t, auth.TextCodeInternal, auth.TextCode(err))
}

func TestLogMailerNeverFails(t *testing.T) {
	err := auth.LogMailer{Logger: nopLogger{}}.SendMagicLink(context.Background(), auth.MagicLinkMessage{
		To:   "ana@example.com",
		Link: "https://admin.example.com/auth/verify?token=x",
	})
	require.NoError(t, err)
}

func TestNewSMTPMailerDefaults(t *testing.T) {
	m := auth.NewSMTPMailer("smtp.example.com", 587, "no-reply@example.com", "user", "pass")
	assert.Equal(t, "auto", m.TLSMode)
	assert.NotEmpty(t, m.Subject)
}
