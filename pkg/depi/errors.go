package depi

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can pick a recovery path.
type Kind string

const (
	// KindAuth: bad credentials or an expired token. Recover by logging in again.
	KindAuth Kind = "auth"
	// KindUnreachable: the graph service could not be reached. Retry with backoff.
	KindUnreachable Kind = "unreachable"
	// KindScope: the operation is invalid for the current branch or mode.
	KindScope Kind = "scope"
	// KindVersionConflict: a save raced a group version change. Clear the blackboard and re-stage.
	KindVersionConflict Kind = "conflict"
	// KindNotFound: a resource, link or group is absent.
	KindNotFound Kind = "not_found"
	// KindIntegrity: a structural invariant of the data is violated.
	KindIntegrity Kind = "integrity"
	// KindBusy: a mutating call was issued while another one was still in flight.
	KindBusy Kind = "busy"
	// KindInvalid: the request itself is malformed.
	KindInvalid Kind = "invalid"
	// KindRemote: the service reported a failure without a more specific kind.
	KindRemote Kind = "remote"
)

// Error is the error type returned by every depi operation that can fail remotely.
type Error struct {
	Kind Kind
	// Op is the operation that failed, e.g. "saveBlackboard".
	Op  string
	Msg string
	Err error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds an *Error with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or "" when err is not a depi error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsAuth(err error) bool            { return KindOf(err) == KindAuth }
func IsUnreachable(err error) bool     { return KindOf(err) == KindUnreachable }
func IsScope(err error) bool           { return KindOf(err) == KindScope }
func IsVersionConflict(err error) bool { return KindOf(err) == KindVersionConflict }
func IsNotFound(err error) bool        { return KindOf(err) == KindNotFound }
func IsIntegrity(err error) bool       { return KindOf(err) == KindIntegrity }
func IsBusy(err error) bool            { return KindOf(err) == KindBusy }

// ErrStreamClosed is reported when a watcher stream was closed by this client.
// Watcher error callbacks never see it.
var ErrStreamClosed = errors.New("stream closed by client")
