package security_test

import (
	"testing"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime_go/internal/security"
)

func TestSealOpen(t *testing.T) {
	e, err := security.NewEncryptor("correct horse battery staple")
	require.NoError(t, err)

	sealed, err := e.Seal("hi bob")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "hi bob")

	plain, err := e.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hi bob", plain)

	again, err := e.Seal("hi bob")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again)
}

func TestOpenRejectsTamperedAndForeign(t *testing.T) {
	e, err := security.NewEncryptor("one")
	require.NoError(t, err)
	other, err := security.NewEncryptor("two")
	require.NoError(t, err)

	sealed, err := other.Seal("secret")
	require.NoError(t, err)
	_, err = e.Open(sealed)
	assert.ErrorIs(t, err, security.ErrUnreadable)

	own, err := e.Seal("secret")
	require.NoError(t, err)
	b := []byte(own)
	if i := len(b) / 2; b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	_, err = e.Open(string(b))
	assert.ErrorIs(t, err, security.ErrUnreadable)
	_, err = e.Open("garbage")
	assert.ErrorIs(t, err, security.ErrUnreadable)
}

func TestOpenLegacyFernet(t *testing.T) {
	var k fernet.Key
	require.NoError(t, k.Generate())
	legacy, err := fernet.EncryptAndSign([]byte("old row"), &k)
	require.NoError(t, err)

	e, err := security.NewEncryptor("new secret", k.Encode())
	require.NoError(t, err)
	plain, err := e.Open(string(legacy))
	require.NoError(t, err)
	assert.Equal(t, "old row", plain)
}

func TestNewEncryptorRequiresSecret(t *testing.T) {
	_, err := security.NewEncryptor("")
	assert.Error(t, err)
}

func TestTokens(t *testing.T) {
	tokens := security.NewTokenService("s3cret", time.Hour)
	raw, err := tokens.Issue("alice")
	require.NoError(t, err)

	sub, err := tokens.Subject(raw)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)

	_, err = security.NewTokenService("other", time.Hour).Subject(raw)
	assert.ErrorIs(t, err, security.ErrInvalidToken)

	expired, err := security.NewTokenService("s3cret", -time.Minute).Issue("alice")
	require.NoError(t, err)
	_, err = tokens.Subject(expired)
	assert.ErrorIs(t, err, security.ErrInvalidToken)
}

func TestBearerFromHeader(t *testing.T) {
	tok, ok := security.BearerFromHeader("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	tok, ok = security.BearerFromHeader("bearer  xyz ")
	assert.True(t, ok)
	assert.Equal(t, "xyz", tok)

	_, ok = security.BearerFromHeader("Basic abc")
	assert.False(t, ok)
	_, ok = security.BearerFromHeader("Bearer ")
	assert.False(t, ok)
}
