// Package encryptor protects backup artifacts at rest with AES-256-GCM. The
// key is derived once from the configured secret via PBKDF2 with a fixed,
// shared salt: per-backup salts would break decryption of every artifact
// already in the archive, so key diversification comes from the per-backup
// random nonce alone.
package encryptor

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/fintrack/vaultguard/internal/domain"
)

const (
	keyLen     = 32
	iterations = 100_000
	nonceLen   = 12
	tagLen     = 16
)

type AESGCM struct {
	key []byte
}

func New(secret, salt string) *AESGCM {
	return &AESGCM{
		key: pbkdf2.Key([]byte(secret), []byte(salt), iterations, keyLen, sha256.New),
	}
}

func (e *AESGCM) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under a fresh random nonce. The returned ciphertext
// is nonce || sealed data; the GCM tag occupies the final 16 bytes.
func (e *AESGCM) Encrypt(plaintext []byte) (nonce, ciphertext []byte, err error) {
	gcm, err := e.aead()
	if err != nil {
		return nil, nil, domain.NewFailure(domain.ErrCrypto, "encrypt", err)
	}

	nonce = make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, domain.NewFailure(domain.ErrCrypto, "encrypt", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, nonceLen+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return nonce, out, nil
}

// Decrypt authenticates and opens nonce-prefixed ciphertext. A tag mismatch
// fails hard; no plaintext is ever returned unauthenticated.
func (e *AESGCM) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceLen+tagLen {
		return nil, domain.Failuref(domain.ErrCrypto, "decrypt", "ciphertext too short: %d bytes", len(ciphertext))
	}

	gcm, err := e.aead()
	if err != nil {
		return nil, domain.NewFailure(domain.ErrCrypto, "decrypt", err)
	}

	plaintext, err := gcm.Open(nil, ciphertext[:nonceLen], ciphertext[nonceLen:], nil)
	if err != nil {
		return nil, domain.Failuref(domain.ErrCrypto, "decrypt", "authentication failed: %v", err)
	}
	return plaintext, nil
}

// EncryptFile seals sourcePath into destPath and reports the nonce and tag so
// the backup record can carry them.
func (e *AESGCM) EncryptFile(sourcePath, destPath string) (nonce, tag []byte, err error) {
	plaintext, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, nil, domain.NewFailure(domain.ErrIO, "encrypt", fmt.Errorf("read %s: %w", sourcePath, err))
	}

	nonce, ciphertext, err := e.Encrypt(plaintext)
	if err != nil {
		return nil, nil, err
	}

	if err := os.WriteFile(destPath, ciphertext, 0600); err != nil {
		return nil, nil, domain.NewFailure(domain.ErrIO, "encrypt", fmt.Errorf("write %s: %w", destPath, err))
	}

	return nonce, ciphertext[len(ciphertext)-tagLen:], nil
}

func (e *AESGCM) DecryptFile(sourcePath, destPath string) error {
	ciphertext, err := os.ReadFile(sourcePath)
	if err != nil {
		return domain.NewFailure(domain.ErrIO, "decrypt", fmt.Errorf("read %s: %w", sourcePath, err))
	}

	plaintext, err := e.Decrypt(ciphertext)
	if err != nil {
		return err
	}

	if err := os.WriteFile(destPath, plaintext, 0600); err != nil {
		return domain.NewFailure(domain.ErrIO, "decrypt", fmt.Errorf("write %s: %w", destPath, err))
	}
	return nil
}
