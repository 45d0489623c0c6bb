package agent

import (
	"errors"
	"fmt"
)

// Kind classifies a failed agent call.
type Kind int

const (
	KindUnreachable Kind = iota + 1
	KindTimeout
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "Unreachable"
	case KindTimeout:
		return "Timeout"
	case KindRemote:
		return "RemoteError"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sentinels for errors.Is.
var (
	ErrUnreachable = errors.New("agent unreachable")
	ErrTimeout     = errors.New("agent timed out")
	ErrRemote      = errors.New("agent returned an error")
)

// Error is a failed agent call. Body holds the raw reply for RemoteError.
type Error struct {
	Kind   Kind
	Server string
	Body   string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("agent %s: %s", e.Server, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnreachable:
		return e.Kind == KindUnreachable
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrRemote:
		return e.Kind == KindRemote
	}
	return false
}

// Warning renders a remote failure as the short warning attached to an
// otherwise successful result.
func Warning(err error) string {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind.String()
	}
	return err.Error()
}
