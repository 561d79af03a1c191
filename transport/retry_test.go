package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	. "github.com/scylladb/scylla-go-driver/frame/response"
)

func TestDefaultRetryPolicyReadTimeout(t *testing.T) {
	d := DefaultRetryPolicy{}.NewRetryDecider()

	dataPresent := &ReadTimeout{DataPresent: true}
	assert.Equal(t, RetrySameNode, d.Decide(RetryInfo{Error: dataPresent}))
	// A second read timeout in the same request no longer gets a same-node retry.
	assert.Equal(t, RetryNextNode, d.Decide(RetryInfo{Error: dataPresent}))

	d.Reset()
	noDataPresent := &ReadTimeout{DataPresent: false}
	assert.Equal(t, RetryNextNode, d.Decide(RetryInfo{Error: noDataPresent}))
}

func TestDefaultRetryPolicyUnavailable(t *testing.T) {
	d := DefaultRetryPolicy{}.NewRetryDecider()
	assert.Equal(t, RetryNextNode, d.Decide(RetryInfo{Error: &Unavailable{}}))
}

func TestDefaultRetryPolicyWriteTimeout(t *testing.T) {
	d := DefaultRetryPolicy{}.NewRetryDecider()

	assert.Equal(t, RetryNextNode, d.Decide(RetryInfo{Error: &WriteTimeout{}, Idempotent: true}))
	assert.Equal(t, DontRetry, d.Decide(RetryInfo{Error: &WriteTimeout{}, Idempotent: false}))
}

func TestDefaultRetryPolicyConnectionAndTimeoutErrors(t *testing.T) {
	d := DefaultRetryPolicy{}.NewRetryDecider()

	assert.Equal(t, RetryNextNode, d.Decide(RetryInfo{Error: &ConnectionError{}}))
	assert.Equal(t, RetryNextNode, d.Decide(RetryInfo{Error: &TimeoutError{}}))
}

func TestDefaultRetryPolicyGenericErrorCodes(t *testing.T) {
	d := DefaultRetryPolicy{}.NewRetryDecider()

	retried := []ErrorCode{ErrOverloaded, ErrServerError, ErrTruncateError}
	for _, code := range retried {
		assert.Equal(t, RetryNextNode, d.Decide(RetryInfo{Error: &Error{ErrCode: code}}))
	}

	assert.Equal(t, DontRetry, d.Decide(RetryInfo{Error: &Error{ErrCode: ErrSyntaxError}}))
}

func TestDefaultRetryPolicyUnknownErrorDoesNotRetry(t *testing.T) {
	d := DefaultRetryPolicy{}.NewRetryDecider()
	assert.Equal(t, DontRetry, d.Decide(RetryInfo{Error: assertErr{}}))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
