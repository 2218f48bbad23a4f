package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTransient marks network, timeout and rate limit failures.
	ErrTransient = errors.New("transient exchange error")
	// ErrAmbiguousState means the exchange answered but the answer cannot
	// be trusted to describe the account, e.g. a partial positions list.
	ErrAmbiguousState = errors.New("ambiguous exchange state")
	ErrRejected       = errors.New("order rejected")
	// ErrInsufficientFunds is a rejection: errors.Is(err, ErrRejected)
	// holds for it.
	ErrInsufficientFunds = fmt.Errorf("%w: insufficient funds", ErrRejected)
	ErrInvalidRequest    = errors.New("invalid request")
	ErrOrderNotFound     = errors.New("order not found")
	ErrStreamClosed      = errors.New("position stream closed")
)

type Kind int

const (
	KindNone Kind = iota
	KindTransient
	KindAmbiguous
	KindRejected
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransient:
		return "transient"
	case KindAmbiguous:
		return "ambiguous"
	case KindRejected:
		return "rejected"
	case KindFatal:
		return "fatal"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Classify maps an error from the exchange boundary onto the kind the
// orchestrator acts on. Unrecognized errors are transient: the tick is
// skipped and retried, never read as an empty account.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var ne net.Error
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return KindFatal
	case errors.Is(err, ErrRejected):
		return KindRejected
	case errors.Is(err, ErrAmbiguousState):
		return KindAmbiguous
	case errors.Is(err, ErrTransient),
		errors.Is(err, ErrStreamClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &ne):
		return KindTransient
	}
	return KindTransient
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}
