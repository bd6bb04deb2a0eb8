package auth_test

import (
	"encoding/base64"
	"testing"
	"time"

	auth "github.com/goliatone/go-auth-admin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func TestBase64CodecRoundTrip(t *testing.T) {
	codec := auth.NewBase64Codec()
	issuedAt := time.UnixMilli(1718000000123)

	token, err := codec.Issue("ana@example.com", issuedAt)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com:1718000000123", string(raw))

	claims, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", claims.Identity)
	assert.True(t, issuedAt.Equal(claims.IssuedAt))
}

func TestBase64CodecSplitsOnLastColon(t *testing.T) {
	token := base64.StdEncoding.EncodeToString([]byte("odd:name@example.com:42"))

	claims, err := auth.NewBase64Codec().Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "odd:name@example.com", claims.Identity)
	assert.Equal(t, int64(42), claims.IssuedAt.UnixMilli())
}

func TestBase64CodecRejectsMalformedInput(t *testing.T) {
	codec := auth.NewBase64Codec()

	cases := map[string]string{
		"empty":             "",
		"not base64":        "%%%not-base64%%%",
		"no separator":      base64.StdEncoding.EncodeToString([]byte("ana@example.com")),
		"empty identity":    base64.StdEncoding.EncodeToString([]byte(":1718000000000")),
		"empty timestamp":   base64.StdEncoding.EncodeToString([]byte("ana@example.com:")),
		"non numeric stamp": base64.StdEncoding.EncodeToString([]byte("ana@example.com:yesterday")),
		"binary garbage":    base64.StdEncoding.EncodeToString([]byte{0xff, 0x00, 0xfe}),
	}

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := codec.Decode(token)
			require.Error(t, err)
			assert.True(t, auth.IsMalformed(err), "expected malformed, got %v", err)
		})
	}
}

func TestBase64CodecRequiresIdentity(t *testing.T) {
	_, err := auth.NewBase64Codec().Issue("  ", time.Now())
	require.Error(t, err)
}

func TestSignedCodecRoundTrip(t *testing.T) {
	codec, err := auth.NewSignedCodec([]byte(testSigningKey), "adminauth")
	require.NoError(t, err)

	issuedAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	token, err := codec.Issue("ana@example.com", issuedAt)
	require.NoError(t, err)

	claims, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", claims.Identity)
	assert.True(t, issuedAt.Equal(claims.IssuedAt))
	assert.NotEmpty(t, claims.TokenID)
}

func TestSignedCodecIssuesDistinctTokens(t *testing.T) {
	codec, err := auth.NewSignedCodec([]byte(testSigningKey), "adminauth")
	require.NoError(t, err)

	at := time.Now()
	first, err := codec.Issue("ana@example.com", at)
	require.NoError(t, err)
	second, err := codec.Issue("ana@example.com", at)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestSignedCodecRejectsForeignKeyAndIssuer(t *testing.T) {
	codec, err := auth.NewSignedCodec([]byte(testSigningKey), "adminauth")
	require.NoError(t, err)

	other, err := auth.NewSignedCodec([]byte("ffffffffffffffffffffffffffffffff"), "adminauth")
	require.NoError(t, err)
	forged, err := other.Issue("ana@example.com", time.Now())
	require.NoError(t, err)

	_, err = codec.Decode(forged)
	require.Error(t, err)
	assert.True(t, auth.IsMalformed(err))

	foreign, err := auth.NewSignedCodec([]byte(testSigningKey), "someone-else")
	require.NoError(t, err)
	token, err := foreign.Issue("ana@example.com", time.Now())
	require.NoError(t, err)

	_, err = codec.Decode(token)
	require.Error(t, err)
	assert.True(t, auth.IsMalformed(err))
}

func TestSignedCodecDoesNotCheckAge(t *testing.T) {
	codec, err := auth.NewSignedCodec([]byte(testSigningKey), "")
	require.NoError(t, err)

	old := time.Now().Add(-30 * 24 * time.Hour)
	token, err := codec.Issue("ana@example.com", old)
	require.NoError(t, err)

	claims, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, old.UnixMilli(), claims.IssuedAt.UnixMilli())
}

func TestSignedCodecKeepsMillisecondIssuance(t *testing.T) {
	codec, err := auth.NewSignedCodec([]byte(testSigningKey), "adminauth")
	require.NoError(t, err)

	issuedAt := time.Date(2026, 3, 1, 8, 0, 0, 900*int(time.Millisecond), time.UTC)
	token, err := codec.Issue("ana@example.com", issuedAt)
	require.NoError(t, err)

	claims, err := codec.Decode(token)
	require.NoError(t, err)
	assert.True(t, issuedAt.Equal(claims.IssuedAt), "got %s", claims.IssuedAt)
}

func TestSignedCodecRejectsLegacyTokens(t *testing.T) {
	codec, err := auth.NewSignedCodec([]byte(testSigningKey), "adminauth")
	require.NoError(t, err)

	legacy, err := auth.NewBase64Codec().Issue("ana@example.com", time.Now())
	require.NoError(t, err)

	_, err = codec.Decode(legacy)
	require.Error(t, err)
	assert.True(t, auth.IsMalformed(err))
}

func TestNewSignedCodecRequiresKey(t *testing.T) {
	_, err := auth.NewSignedCodec(nil, "adminauth")
	require.Error(t, err)
}

func TestNewTokenCodecSelectsScheme(t *testing.T) {
	codec, err := auth.NewTokenCodec("", []byte(testSigningKey), "adminauth")
	require.NoError(t, err)
	assert.IsType(t, &auth.SignedCodec{}, codec)

	codec, err = auth.NewTokenCodec("BASE64", nil, "")
	require.NoError(t, err)
	assert.IsType(t, auth.Base64Codec{}, codec)

	_, err = auth.NewTokenCodec("rot13", nil, "")
	require.Error(t, err)
}
