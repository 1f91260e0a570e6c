package contentscan

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindInvalidDescriptor
	KindUpstreamFetch
	KindUpstreamTimeout
	KindDecrypt
	KindScanInvocation
	KindCache
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindInvalidDescriptor:
		return "invalid_descriptor"
	case KindUpstreamFetch:
		return "upstream_fetch"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindDecrypt:
		return "decrypt"
	case KindScanInvocation:
		return "scan_invocation"
	case KindCache:
		return "cache"
	default:
		return "unknown"
	}
}

// Error is returned by every failing pipeline operation. It never carries a
// fingerprint.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
