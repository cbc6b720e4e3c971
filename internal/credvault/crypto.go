// Package credvault implements domain.CredentialVault: values are stored
// encrypted at rest (AES-256-GCM) and decrypted only for the duration of
// the GetByID/GetByName call the scheduler makes on an executor's behalf.
//
// Grounded on the teacher's go/pkg/crypto.EncryptionService (AES-256-GCM,
// base64(nonce||ciphertext||tag)) and go/pkg/credentials.Service
// (decrypt-on-read, never cache plaintext).
package credvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/tolgayilmaz86/NerveMind-sub000/internal/domain/xerrors"
)

const aes256KeySize = 32

// cipherSvc performs AES-256-GCM encrypt/decrypt of credential values.
type cipherSvc struct {
	key []byte
}

func newCipherSvc(key []byte) (*cipherSvc, error) {
	if len(key) != aes256KeySize {
		return nil, fmt.Errorf("credvault: encryption key must be %d bytes, got %d", aes256KeySize, len(key))
	}
	return &cipherSvc{key: key}, nil
}

// GenerateKey returns a fresh random AES-256 key, for operators
// provisioning a new vault.
func GenerateKey() ([]byte, error) {
	key := make([]byte, aes256KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("credvault: generating key: %w", err)
	}
	return key, nil
}

func (c *cipherSvc) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *cipherSvc) decrypt(nodeID, ciphertextB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", xerrors.NewExecError(nodeID, "decoding credential ciphertext", err)
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", xerrors.NewExecError(nodeID, "credential ciphertext too short", nil)
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", xerrors.NewExecError(nodeID, "decrypting credential", err)
	}
	return string(plain), nil
}
