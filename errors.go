package ews

import (
	"errors"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	// KindUnknown is reported for errors that carry no Kind.
	KindUnknown Kind = iota
	// KindConfig is a missing or invalid construction parameter.
	KindConfig
	// KindUnauthorized is a 401 response at any stage.
	KindUnauthorized
	// KindProtocol is a malformed or missing authentication challenge.
	KindProtocol
	// KindMalformedWSDL is a service document without its root declaration.
	KindMalformedWSDL
	// KindUnknownOperation is an operation absent from the registry.
	KindUnknownOperation
	// KindFileSystem is a stat, read or write failure on the cache directory.
	KindFileSystem
	// KindNetwork is a transport-level failure (DNS, TLS, timeout, reset).
	KindNetwork
	// KindRemote is an error status other than 401, or a SOAP fault.
	KindRemote
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindUnauthorized:
		return "unauthorized"
	case KindProtocol:
		return "protocol"
	case KindMalformedWSDL:
		return "malformed wsdl"
	case KindUnknownOperation:
		return "unknown operation"
	case KindFileSystem:
		return "file system"
	case KindNetwork:
		return "network"
	case KindRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every package of this module.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op names the operation that failed (e.g. "fetch", "ntlm: parse challenge").
	Op string

	// Err is the underlying error, if any.
	Err error
}

// Sentinels for use with errors.Is. They match any *Error of the same Kind.
var (
	ErrConfig           = &Error{Kind: KindConfig}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized}
	ErrProtocol         = &Error{Kind: KindProtocol}
	ErrMalformedWSDL    = &Error{Kind: KindMalformedWSDL}
	ErrUnknownOperation = &Error{Kind: KindUnknownOperation}
	ErrFileSystem       = &Error{Kind: KindFileSystem}
	ErrNetwork          = &Error{Kind: KindNetwork}
	ErrRemote           = &Error{Kind: KindRemote}
)

// E builds an *Error.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error whose cause is a plain message.
func Errorf(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	} else {
		parts = append(parts, e.Kind.String()+" error")
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
