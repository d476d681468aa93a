// Package lxerr defines the stable error taxonomy shared across the LXMF
// packages, mirroring the code-tagged error style used throughout the
// reference node's consensus package.
package lxerr

import (
	"errors"
	"fmt"
)

type Code string

const (
	StructuralDecode      Code = "ERR_STRUCTURAL_DECODE"
	UnknownSourceIdentity Code = "ERR_UNKNOWN_SOURCE_IDENTITY"
	SignatureInvalid      Code = "ERR_SIGNATURE_INVALID"
	StampInsufficient     Code = "ERR_STAMP_INSUFFICIENT"
	LinkFailed            Code = "ERR_LINK_FAILED"
	LinkClosed            Code = "ERR_LINK_CLOSED"
	ResourceTransferFailed Code = "ERR_RESOURCE_TRANSFER_FAILED"
	TransferTimeout       Code = "ERR_TRANSFER_TIMEOUT"
	InvalidArgument       Code = "ERR_INVALID_ARGUMENT"
)

// Error is the single error type for the lxmf core. Callers should compare
// kinds with errors.As against *Error, never by matching strings.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, msg string) error {
	return &Error{Code: code, Msg: msg}
}

func Wrap(code Code, msg string, err error) error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
