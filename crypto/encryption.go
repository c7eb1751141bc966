// Package crypto implements password-based AES-256-GCM encryption and
// streaming file hashing for the transfer protocol.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	aes256KeySize   = 32
	gcmNonceSize    = 12
	gcmTagSize      = 16
	saltSize        = 8
	pbkdf2Iter      = 10000
	pbkdf2KeyIVSize = aes256KeySize + gcmNonceSize
	minBlobSize     = saltSize + gcmNonceSize + gcmTagSize
	hashReadBufSize = 8 * 1024
)

// ErrBlobTooShort indicates a ciphertext blob is shorter than the fixed
// salt+iv+tag overhead and cannot possibly be valid.
var ErrBlobTooShort = errors.New("crypto: ciphertext blob too short")

// deriveKeyIV derives a 32-byte AES key and 12-byte GCM IV from password
// and salt via PBKDF2-HMAC-SHA256. Decrypt uses only the key half since
// the IV travels with the blob; Encrypt uses both for a fresh blob.
func deriveKeyIV(password string, salt []byte) (key, iv []byte) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iter, pbkdf2KeyIVSize, sha256.New)
	return derived[:aes256KeySize], derived[aes256KeySize:]
}

func deriveKey(password string, salt []byte) []byte {
	key, _ := deriveKeyIV(password, salt)
	return key
}

// Encrypt encrypts plaintext with AES-256-GCM under a key derived from
// password. The salt is freshly random per call. Output layout:
// salt(8) || iv(12) || ciphertext(n) || tag(16).
func Encrypt(plaintext []byte, password string) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}

	key, iv := deriveKeyIV(password, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: create GCM: %w", err)
	}

	sealed := aead.Seal(nil, iv, plaintext, nil)

	blob := make([]byte, 0, saltSize+gcmNonceSize+len(sealed))
	blob = append(blob, salt...)
	blob = append(blob, iv...)
	blob = append(blob, sealed...)
	return blob, nil
}

// Decrypt parses a blob produced by Encrypt and authenticates/decrypts it
// under a key re-derived from password. Fails cleanly on tag mismatch or
// a blob shorter than the fixed overhead.
func Decrypt(blob []byte, password string) ([]byte, error) {
	if len(blob) < minBlobSize {
		return nil, ErrBlobTooShort
	}

	salt := blob[:saltSize]
	iv := blob[saltSize : saltSize+gcmNonceSize]
	ciphertext := blob[saltSize+gcmNonceSize:]

	key := deriveKey(password, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: create GCM: %w", err)
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt ciphertext: %w", err)
	}
	return plaintext, nil
}

// SHA256File streams path through SHA-256 in 8 KiB reads and returns the
// lower-case hex digest.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("crypto: open file for hashing: %w", err)
	}
	defer f.Close()

	return SHA256Stream(f)
}

// SHA256Stream streams r through SHA-256 and returns the lower-case hex
// digest.
func SHA256Stream(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, hashReadBufSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("crypto: hash stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SHA256Bytes returns the lower-case hex SHA-256 digest of data.
func SHA256Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
