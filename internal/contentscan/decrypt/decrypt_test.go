package decrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/y0ug/contentscan/internal/models"
)

type fixture struct {
	dir    string
	in     string
	key    models.EncryptionKey
	iv     string
	sha256 string
}

func newFixture(t *testing.T, plaintext []byte) fixture {
	t.Helper()
	rawKey := []byte("0123456789abcdef0123456789abcdef")
	rawIV := []byte("fedcba9876543210")

	block, err := aes.NewCipher(rawKey)
	require.NoError(t, err)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, rawIV).XORKeyStream(ciphertext, plaintext)
	sum := sha256.Sum256(ciphertext)

	dir := t.TempDir()
	in := filepath.Join(dir, "cipher")
	require.NoError(t, os.WriteFile(in, ciphertext, 0600))

	return fixture{
		dir: dir,
		in:  in,
		key: models.EncryptionKey{
			Alg:    "A256CTR",
			Ext:    true,
			K:      base64.RawURLEncoding.EncodeToString(rawKey),
			KeyOps: []string{"encrypt", "decrypt"},
			Kty:    "oct",
		},
		iv:     base64.RawStdEncoding.EncodeToString(rawIV),
		sha256: base64.RawStdEncoding.EncodeToString(sum[:]),
	}
}

func TestDecryptFile(t *testing.T) {
	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	fx := newFixture(t, plaintext)
	out := filepath.Join(fx.dir, "plain")

	require.NoError(t, New().DecryptFile(fx.in, out, fx.key, fx.iv, fx.sha256))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecryptFileAcceptsPaddedBase64(t *testing.T) {
	fx := newFixture(t, []byte("padded"))
	out := filepath.Join(fx.dir, "plain")

	require.NoError(t, New().DecryptFile(fx.in, out, fx.key, fx.iv+"==", fx.sha256+"="))
}

func TestDecryptFileHashMismatch(t *testing.T) {
	fx := newFixture(t, []byte("payload"))
	out := filepath.Join(fx.dir, "plain")
	other := sha256.Sum256([]byte("something else"))

	err := New().DecryptFile(fx.in, out, fx.key, fx.iv, base64.RawStdEncoding.EncodeToString(other[:]))
	assert.ErrorIs(t, err, ErrHashMismatch)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDecryptFileRejectsBadKeyMaterial(t *testing.T) {
	fx := newFixture(t, []byte("payload"))
	out := filepath.Join(fx.dir, "plain")
	d := New()

	key := fx.key
	key.Alg = "A128CBC"
	assert.ErrorIs(t, d.DecryptFile(fx.in, out, key, fx.iv, fx.sha256), ErrInvalidKey)

	key = fx.key
	key.KeyOps = []string{"encrypt"}
	assert.ErrorIs(t, d.DecryptFile(fx.in, out, key, fx.iv, fx.sha256), ErrInvalidKey)

	key = fx.key
	key.K = base64.RawURLEncoding.EncodeToString([]byte("short"))
	assert.ErrorIs(t, d.DecryptFile(fx.in, out, key, fx.iv, fx.sha256), ErrInvalidKey)

	assert.ErrorIs(t, d.DecryptFile(fx.in, out, fx.key, "not base64!", fx.sha256), ErrInvalidIV)
	assert.ErrorIs(t, d.DecryptFile(fx.in, out, fx.key, fx.iv, "AAAA"), ErrInvalidHash)
}
