package adapter

import (
	"errors"
	"fmt"

	"github.com/skillre/mindmap-qoder/internal/codec"
)

// Kind classifies a store failure.
type Kind string

const (
	KindBadRequest   Kind = "BadRequest"
	KindUnauthorized Kind = "Unauthorized"
	KindNotFound     Kind = "NotFound"
	KindConflict     Kind = "Conflict"
	KindDecode       Kind = "DecodeError"
	KindUpstream     Kind = "UpstreamError"
	KindRateLimited  Kind = "RateLimited"
)

var (
	// ErrBadRequest is returned when a required identifying field is missing.
	ErrBadRequest = errors.New("bad request")

	// ErrUnauthorized is returned when the host rejects the credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict is returned when a version token no longer matches the
	// remote content.
	ErrConflict = errors.New("version conflict")

	// ErrUpstream is returned when the host fails unexpectedly.
	ErrUpstream = errors.New("upstream error")

	// ErrRateLimited is returned when the host throttles the credential.
	ErrRateLimited = errors.New("rate limited")
)

var sentinels = map[Kind]error{
	KindBadRequest:   ErrBadRequest,
	KindUnauthorized: ErrUnauthorized,
	KindNotFound:     ErrNotFound,
	KindConflict:     ErrConflict,
	KindDecode:       codec.ErrMalformed,
	KindUpstream:     ErrUpstream,
	KindRateLimited:  ErrRateLimited,
}

// Error carries the kind of a failure and the host's message.
type Error struct {
	Kind    Kind
	Op      string
	Path    string
	Message string
	Err     error
}

// Errorf builds an *Error with a formatted message.
func Errorf(kind Kind, op, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Op != "" && e.Path != "":
		return fmt.Sprintf("%s %s: %s: %s", e.Op, e.Path, e.Kind, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf classifies err. Errors that carry no kind are KindUpstream.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return KindUpstream
}

// MessageOf returns the human-readable part of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		if e.Err != nil {
			return e.Err.Error()
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
