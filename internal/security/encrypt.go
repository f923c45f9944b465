package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/hkdf"
)

const sealedPrefix = "v1:"

var contentKeyInfo = []byte("realtime message content")

var ErrUnreadable = errors.New("message content cannot be decrypted")

// Encryptor seals message content before it is persisted. New rows use
// AES-256-GCM under a key derived from the configured secret with HKDF;
// Fernet tokens written by earlier deployments remain readable.
type Encryptor struct {
	aead   cipher.AEAD
	legacy []*fernet.Key
}

func NewEncryptor(secret string, legacyKeys ...string) (*Encryptor, error) {
	if secret == "" {
		return nil, errors.New("encryption secret must not be empty")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, contentKeyInfo), key); err != nil {
		return nil, fmt.Errorf("derive content key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("content cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("content cipher: %w", err)
	}

	e := &Encryptor{aead: aead}
	for _, raw := range append([]string{secret}, legacyKeys...) {
		if k, err := fernet.DecodeKey(strings.TrimSpace(raw)); err == nil {
			e.legacy = append(e.legacy, k)
		}
	}
	return e, nil
}

// Seal encrypts plain into a printable token.
func (e *Encryptor) Seal(plain string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal, falling back to the legacy Fernet keys.
func (e *Encryptor) Open(token string) (string, error) {
	if rest, ok := strings.CutPrefix(token, sealedPrefix); ok {
		raw, err := base64.RawURLEncoding.DecodeString(rest)
		if err != nil || len(raw) < e.aead.NonceSize() {
			return "", ErrUnreadable
		}
		n := e.aead.NonceSize()
		plain, err := e.aead.Open(nil, raw[:n], raw[n:], nil)
		if err != nil {
			return "", ErrUnreadable
		}
		return string(plain), nil
	}
	if len(e.legacy) > 0 {
		if plain := fernet.VerifyAndDecrypt([]byte(token), 0*time.Second, e.legacy); plain != nil {
			return string(plain), nil
		}
	}
	return "", ErrUnreadable
}
