// Package flare holds the error taxonomy shared by the coordinator client,
// the quorum waiter, the location task and the CLI.
package flare

import (
	"context"
	"errors"
)

var (
	// ErrTransient is a network or server hiccup. Retry on the next natural
	// poll cycle, never immediately.
	ErrTransient = errors.New("transient coordinator failure")

	// ErrObsoleteClient means the coordinator rejected this client version.
	// Fatal for the process.
	ErrObsoleteClient = errors.New("client version rejected by coordinator")

	// ErrInvalidSession means the flare expired or was never created. Fatal for
	// that flare only.
	ErrInvalidSession = errors.New("flare expired or not found")

	// ErrDuplicateName means a create collided with an existing flare name.
	ErrDuplicateName = errors.New("flare name already in use")

	// ErrLocationUnavailable means no location could be obtained. Recoverable.
	ErrLocationUnavailable = errors.New("location unavailable")

	// ErrCancelled marks a pending operation that was abandoned. Not a failure.
	ErrCancelled = errors.New("operation cancelled")
)

// Kind is the taxonomy bucket of an error.
type Kind int

const (
	KindNone Kind = iota
	KindTransient
	KindObsoleteClient
	KindInvalidSession
	KindDuplicateName
	KindLocationUnavailable
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransient:
		return "transient"
	case KindObsoleteClient:
		return "obsolete_client"
	case KindInvalidSession:
		return "invalid_session"
	case KindDuplicateName:
		return "duplicate_name"
	case KindLocationUnavailable:
		return "location_unavailable"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classify maps any error onto the taxonomy. Errors that match no sentinel
// are treated as transient.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrObsoleteClient):
		return KindObsoleteClient
	case errors.Is(err, ErrInvalidSession):
		return KindInvalidSession
	case errors.Is(err, ErrDuplicateName):
		return KindDuplicateName
	case errors.Is(err, ErrLocationUnavailable):
		return KindLocationUnavailable
	default:
		return KindTransient
	}
}

// Retryable reports whether the natural poll cycle should try again.
func Retryable(err error) bool {
	k := Classify(err)
	return k == KindTransient || k == KindLocationUnavailable
}
