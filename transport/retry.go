package transport

import (
	"errors"

	"github.com/scylladb/scylla-go-driver/frame"
	. "github.com/scylladb/scylla-go-driver/frame/response"
)

// RetryDecision is what a RetryDecider tells the caller to do after a failed
// request.
type RetryDecision int

const (
	RetrySameNode RetryDecision = iota
	RetryNextNode
	DontRetry
)

// RetryInfo is everything a RetryDecider needs to classify a failure.
type RetryInfo struct {
	Error       error
	Idempotent  bool
	Consistency frame.Consistency
}

// RetryDecider is a stateful, single-request retry counter: Decide is called
// once per failed attempt, Reset between requests that reuse the decider.
type RetryDecider interface {
	Decide(RetryInfo) RetryDecision
	Reset()
}

// RetryPolicy builds a fresh RetryDecider for each request.
type RetryPolicy interface {
	NewRetryDecider() RetryDecider
}

// DefaultRetryPolicy retries a read timeout that reports data present once on
// the same node; other read timeouts, unavailable, overloaded, server and
// truncate errors, connection errors and timeouts move to the next node;
// write timeouts are only retried when the statement is idempotent.
type DefaultRetryPolicy struct{}

func (DefaultRetryPolicy) NewRetryDecider() RetryDecider {
	return &defaultRetryDecider{}
}

type defaultRetryDecider struct {
	sameNodeRetried bool
}

func (d *defaultRetryDecider) Reset() { d.sameNodeRetried = false }

func (d *defaultRetryDecider) Decide(ri RetryInfo) RetryDecision {
	switch e := ri.Error.(type) {
	case *ReadTimeout:
		if !d.sameNodeRetried && e.DataPresent {
			d.sameNodeRetried = true
			return RetrySameNode
		}
		return RetryNextNode
	case *Unavailable:
		return RetryNextNode
	case *WriteTimeout:
		if ri.Idempotent {
			return RetryNextNode
		}
		return DontRetry
	case *ConnectionError:
		return RetryNextNode
	case *TimeoutError:
		return RetryNextNode
	case *Error:
		switch e.ErrCode {
		case ErrOverloaded, ErrServerError, ErrTruncateError:
			return RetryNextNode
		default:
			return DontRetry
		}
	default:
		// Waiters on a broken connection get ErrConnectionBroken wrapped.
		var connErr *ConnectionError
		if errors.As(ri.Error, &connErr) {
			return RetryNextNode
		}
		return DontRetry
	}
}
