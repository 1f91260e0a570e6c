package contentscan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/y0ug/contentscan/internal/models"
)

// FingerprintOf hashes the RFC 8785 canonical JSON form of desc. The result
// is 64 hex characters and depends only on the descriptor's fields.
func FingerprintOf(desc models.AttachmentDescriptor) (models.Fingerprint, error) {
	raw, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("failed to encode descriptor: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize descriptor: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return models.Fingerprint(hex.EncodeToString(sum[:])), nil
}
