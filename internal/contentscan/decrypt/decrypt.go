// Package decrypt implements decryption of Matrix encrypted attachments
// (AES-256-CTR keyed by a JWK, integrity checked with SHA-256 over the
// ciphertext).
package decrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/y0ug/contentscan/internal/models"
)

var (
	ErrInvalidKey   = errors.New("invalid encryption key")
	ErrInvalidIV    = errors.New("invalid initialization vector")
	ErrInvalidHash  = errors.New("invalid sha256 hash")
	ErrHashMismatch = errors.New("ciphertext does not match the expected sha256 hash")
)

// Decryptor decrypts files on disk.
type Decryptor struct{}

// New returns a Decryptor.
func New() *Decryptor {
	return &Decryptor{}
}

// DecryptFile verifies the SHA-256 of inPath against expectedHash and writes
// the plaintext to outPath. Nothing is left at outPath on failure.
func (d *Decryptor) DecryptFile(inPath, outPath string, key models.EncryptionKey, iv, expectedHash string) error {
	block, err := newCipher(key)
	if err != nil {
		return err
	}
	ivBytes, err := decodeBase64(iv)
	if err != nil || len(ivBytes) != aes.BlockSize {
		return ErrInvalidIV
	}
	want, err := decodeBase64(expectedHash)
	if err != nil || len(want) != sha256.Size {
		return ErrInvalidHash
	}

	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("failed to open ciphertext: %w", err)
	}
	defer in.Close()

	h := sha256.New()
	if _, err := io.Copy(h, in); err != nil {
		return fmt.Errorf("failed to hash ciphertext: %w", err)
	}
	if subtle.ConstantTimeCompare(h.Sum(nil), want) != 1 {
		return ErrHashMismatch
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind ciphertext: %w", err)
	}

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create plaintext file: %w", err)
	}

	stream := cipher.StreamReader{S: cipher.NewCTR(block, ivBytes), R: in}
	_, copyErr := io.Copy(out, stream)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(outPath)
		return fmt.Errorf("failed to write plaintext: %w", errors.Join(copyErr, closeErr))
	}
	return nil
}

func newCipher(key models.EncryptionKey) (cipher.Block, error) {
	if key.Alg != "A256CTR" {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidKey, key.Alg)
	}
	if key.Kty != "oct" {
		return nil, fmt.Errorf("%w: unsupported key type %q", ErrInvalidKey, key.Kty)
	}
	if !slices.Contains(key.KeyOps, "decrypt") {
		return nil, fmt.Errorf("%w: key_ops does not allow decrypt", ErrInvalidKey)
	}
	raw, err := decodeBase64(key.K)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("%w: key must be 32 bytes of base64", ErrInvalidKey)
	}
	return aes.NewCipher(raw)
}

// decodeBase64 accepts padded or unpadded, standard or URL-safe base64.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if strings.ContainsAny(s, "-_") {
		return base64.RawURLEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
