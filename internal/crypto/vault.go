// Package crypto keeps the broker secret encrypted at rest. Secrets are
// sealed with AES-256-GCM under a key derived from a password with
// PBKDF2-HMAC-SHA256.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLen        = 16
	aesKeyLen      = 32
	currentVersion = 1
)

// iterations is the PBKDF2 work factor (OWASP minimum for HMAC-SHA256).
var iterations = 480_000

// ErrNoSecret is returned by LoadSecret when no source is configured.
var ErrNoSecret = errors.New("crypto: no secret configured")

// sealedSecret is the on-disk JSON format.
type sealedSecret struct {
	Version    int    `json:"version"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// SecretSource says where a secret comes from. Raw wins over
// EncryptedPath.
type SecretSource struct {
	Raw           string
	EncryptedPath string
	Password      string
}

// EncryptSecret seals secret with password and returns the JSON blob.
func EncryptSecret(secret, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("crypto: secret must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt, iterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	return json.MarshalIndent(sealedSecret{
		Version:    currentVersion,
		Iterations: iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, []byte(secret), nil)),
	}, "", "  ")
}

// DecryptSecret opens a blob produced by EncryptSecret.
func DecryptSecret(blob []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var s sealedSecret
	if err := json.Unmarshal(blob, &s); err != nil {
		return "", fmt.Errorf("crypto: parsing sealed secret: %w", err)
	}
	if s.Version != currentVersion {
		return "", fmt.Errorf("crypto: unsupported version %d", s.Version)
	}
	if s.Iterations <= 0 {
		s.Iterations = iterations
	}

	salt, err := base64.StdEncoding.DecodeString(s.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(s.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(s.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt, s.Iterations)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: bad nonce length %d", len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return string(plaintext), nil
}

// LoadSecret resolves the secret from src. It returns ErrNoSecret when
// neither source is set.
func LoadSecret(src SecretSource) (string, error) {
	if raw := strings.TrimSpace(src.Raw); raw != "" {
		return raw, nil
	}
	if src.EncryptedPath == "" {
		return "", ErrNoSecret
	}
	blob, err := os.ReadFile(src.EncryptedPath)
	if err != nil {
		return "", fmt.Errorf("crypto: reading %s: %w", src.EncryptedPath, err)
	}
	return DecryptSecret(blob, src.Password)
}

func newGCM(password string, salt []byte, iter int) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, iter, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
