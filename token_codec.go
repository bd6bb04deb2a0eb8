package auth

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenValidity is how long a magic token stays usable after issuance.
const TokenValidity = 24 * time.Hour

const (
	TokenSchemeSigned = "signed"
	TokenSchemeBase64 = "base64"
)

// TokenClaims is the decoded content of a magic token.
type TokenClaims struct {
	Identity string
	IssuedAt time.Time
	TokenID  string
}

// TokenCodec turns an identity and issuance instant into an opaque string and back.
// Decode never checks age, that is the verifier's job.
type TokenCodec interface {
	Issue(identity string, issuedAt time.Time) (string, error)
	Decode(token string) (TokenClaims, error)
}

// Base64Codec implements the legacy wire format base64(<email>":"<epochMillis>).
// It is reversible and unsigned, anyone can mint tokens with it.
type Base64Codec struct{}

// NewBase64Codec returns the unsigned codec.
func NewBase64Codec() Base64Codec {
	return Base64Codec{}
}

// Issue encodes identity and issuedAt.
func (Base64Codec) Issue(identity string, issuedAt time.Time) (string, error) {
	if strings.TrimSpace(identity) == "" {
		return "", goerrors.New("token identity is required", goerrors.CategoryBadInput)
	}
	raw := fmt.Sprintf("%s:%d", identity, issuedAt.UnixMilli())
	return base64.StdEncoding.EncodeToString([]byte(raw)), nil
}

// Decode splits on the last colon into identity and epoch millis.
func (Base64Codec) Decode(token string) (TokenClaims, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return TokenClaims{}, malformed("token is not valid base64")
	}

	decoded := string(raw)
	idx := strings.LastIndex(decoded, ":")
	if idx <= 0 || idx == len(decoded)-1 {
		return TokenClaims{}, malformed("token must contain identity and timestamp")
	}

	identity := decoded[:idx]
	millis, err := strconv.ParseInt(decoded[idx+1:], 10, 64)
	if err != nil {
		return TokenClaims{}, malformed("token timestamp is not an integer")
	}

	return TokenClaims{
		Identity: identity,
		IssuedAt: time.UnixMilli(millis),
	}, nil
}

type magicClaims struct {
	jwt.RegisteredClaims
	// IssuedAtMillis keeps the issuance instant at millisecond precision,
	// iat is truncated to whole seconds.
	IssuedAtMillis int64 `json:"iat_ms,omitempty"`
}

// SignedCodec issues HS256 JWTs so tokens cannot be forged without the key.
type SignedCodec struct {
	signingKey []byte
	issuer     string
}

// NewSignedCodec creates a codec bound to signingKey.
func NewSignedCodec(signingKey []byte, issuer string) (*SignedCodec, error) {
	if len(signingKey) == 0 {
		return nil, goerrors.New("signing key is required", goerrors.CategoryBadInput)
	}
	return &SignedCodec{
		signingKey: signingKey,
		issuer:     issuer,
	}, nil
}

// Issue signs the identity with iat, exp and a random jti.
func (c *SignedCodec) Issue(identity string, issuedAt time.Time) (string, error) {
	if strings.TrimSpace(identity) == "" {
		return "", goerrors.New("token identity is required", goerrors.CategoryBadInput)
	}

	claims := &magicClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(TokenValidity)),
			ID:        uuid.NewString(),
		},
		IssuedAtMillis: issuedAt.UnixMilli(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign magic token")
	}
	return signed, nil
}

// Decode checks signature, algorithm and issuer. Time based claims are left
// to the verifier so both codecs share a single expiry rule.
func (c *SignedCodec) Decode(token string) (TokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(
		strings.TrimSpace(token),
		&magicClaims{},
		func(t *jwt.Token) (any, error) {
			return c.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return TokenClaims{}, malformed("token signature could not be verified")
	}

	claims, ok := parsed.Claims.(*magicClaims)
	if !ok || !parsed.Valid {
		return TokenClaims{}, malformed("token claims could not be decoded")
	}

	if c.issuer != "" && claims.Issuer != c.issuer {
		return TokenClaims{}, malformed("token issuer mismatch")
	}

	if strings.TrimSpace(claims.Subject) == "" || claims.IssuedAt == nil {
		return TokenClaims{}, malformed("token is missing subject or issuance time")
	}

	issuedAt := claims.IssuedAt.Time
	if claims.IssuedAtMillis != 0 {
		precise := time.UnixMilli(claims.IssuedAtMillis)
		if precise.Unix() != issuedAt.Unix() {
			return TokenClaims{}, malformed("token issuance claims disagree")
		}
		issuedAt = precise
	}

	return TokenClaims{
		Identity: claims.Subject,
		IssuedAt: issuedAt,
		TokenID:  claims.ID,
	}, nil
}

// NewTokenCodec builds the codec selected by scheme.
func NewTokenCodec(scheme string, signingKey []byte, issuer string) (TokenCodec, error) {
	switch strings.ToLower(strings.TrimSpace(scheme)) {
	case "", TokenSchemeSigned:
		return NewSignedCodec(signingKey, issuer)
	case TokenSchemeBase64:
		return NewBase64Codec(), nil
	default:
		return nil, goerrors.New("unknown token scheme", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"scheme": scheme})
	}
}

func malformed(reason string) error {
	return ErrMalformedToken.Clone().WithMetadata(map[string]any{
		"reason": reason,
	})
}
