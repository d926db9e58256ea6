package dfe

import (
	"errors"
	"fmt"
)

// Kind identifies the stage at which a call failed
type Kind string

const (
	KindInvalidRequest          Kind = "invalid_request"
	KindCertificate             Kind = "certificate"
	KindExpiredCertificate      Kind = "expired_certificate"
	KindSignatureTargetNotFound Kind = "signature_target_not_found"
	KindSigning                 Kind = "signing"
	KindTransport               Kind = "transport"
	KindDecode                  Kind = "decode"
)

// Error is the error type returned by Client
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("dfe: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or "" when err is not an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
