package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrMissingURL      = errors.New("url is required")
	ErrInvalidURL      = errors.New("url must be of the form mxc://<server>/<media id>")
	ErrIncompleteKey   = errors.New("key requires both iv and hashes.sha256")
	ErrDanglingKeyData = errors.New("iv or hashes supplied without key")
)

var (
	mxcServerRe  = regexp.MustCompile(`^[A-Za-z0-9.\-:\[\]]+$`)
	mxcMediaIDRe = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)
)

// EncryptionKey is the JSON Web Key attached to an encrypted file.
type EncryptionKey struct {
	Alg    string   `json:"alg"`
	Ext    bool     `json:"ext"`
	K      string   `json:"k"`
	KeyOps []string `json:"key_ops"`
	Kty    string   `json:"kty"`
}

// Hashes holds the expected digests of the fetched content.
type Hashes struct {
	SHA256 string `json:"sha256"`
}

// AttachmentDescriptor references a piece of remote media, optionally with the
// key material needed to decrypt it.
type AttachmentDescriptor struct {
	URL      string         `json:"url"`
	Key      *EncryptionKey `json:"key,omitempty"`
	IV       string         `json:"iv,omitempty"`
	Hashes   *Hashes        `json:"hashes,omitempty"`
	Mimetype string         `json:"mimetype,omitempty"`
	Version  string         `json:"v,omitempty"`
}

// Encrypted reports whether the descriptor carries key material.
func (d *AttachmentDescriptor) Encrypted() bool {
	return d.Key != nil
}

// Validate checks the url shape and the key/iv/hashes co-occurrence rule.
func (d *AttachmentDescriptor) Validate() error {
	if d.URL == "" {
		return ErrMissingURL
	}
	if _, _, err := ParseMXC(d.URL); err != nil {
		return err
	}

	hasHash := d.Hashes != nil && d.Hashes.SHA256 != ""
	if d.Key != nil {
		if d.IV == "" || !hasHash {
			return ErrIncompleteKey
		}
		return nil
	}
	if d.IV != "" || hasHash {
		return ErrDanglingKeyData
	}
	return nil
}

// ParseMXC splits an mxc:// locator into its server name and media id.
func ParseMXC(url string) (server, mediaID string, err error) {
	rest, ok := strings.CutPrefix(url, "mxc://")
	if !ok {
		return "", "", ErrInvalidURL
	}
	server, mediaID, ok = strings.Cut(rest, "/")
	if !ok || !mxcServerRe.MatchString(server) || !mxcMediaIDRe.MatchString(mediaID) {
		return "", "", ErrInvalidURL
	}
	return server, mediaID, nil
}

// Fingerprint identifies a descriptor. It is both the cache key and the
// secret handed back to callers, so its String form is always redacted.
type Fingerprint string

// String implements fmt.Stringer with the redacted form.
func (f Fingerprint) String() string {
	return f.Redact()
}

// Redact keeps the first and last four characters.
func (f Fingerprint) Redact() string {
	s := string(f)
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return fmt.Sprintf("%s…%s", s[:4], s[len(s)-4:])
}

// ScanVerdict is the immutable outcome of scanning one fingerprint.
type ScanVerdict struct {
	Clean       bool        `json:"clean"`
	Info        string      `json:"info"`
	ExitCode    int         `json:"exit_code"` // -1 when the scan command did not run
	Fingerprint Fingerprint `json:"fingerprint"`
	MimeType    string      `json:"mimetype,omitempty"`
	ScannedAt   time.Time   `json:"scanned_at"`
}

// ScanRequest is the body of POST /scan_encrypted.
type ScanRequest struct {
	File AttachmentDescriptor `json:"file"`
}

// ScanResponse is returned by the submit endpoints.
type ScanResponse struct {
	Clean  bool   `json:"clean"`
	Info   string `json:"info"`
	Secret string `json:"secret"`
}

// ReportRequest is the body of POST /scan_report.
type ReportRequest struct {
	Secret string `json:"secret"`
}

// Report is the outcome of redeeming a secret.
type Report struct {
	Clean   bool   `json:"clean"`
	Scanned bool   `json:"scanned"`
	Info    string `json:"info"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Reason string `json:"reason"`
	Info   string `json:"info"`
}
