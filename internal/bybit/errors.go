package bybit

import (
	"errors"
	"fmt"
)

// ExchangeError is a request the venue accepted transport-wise but rejected,
// carrying its machine code and message verbatim.
type ExchangeError struct {
	Code    int
	Message string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}

// Venue error codes this client distinguishes.
const (
	CodeServerTimeout   = 10016
	CodeTooManyVisits   = 10006
	CodeTimestampWindow = 10002
	CodeOrderNotFound   = 110001
	CodeQtyInvalid      = 110007
	CodePriceInvalid    = 110094
)

// IsRetryable reports whether the error is transient: rate limits, venue
// timeouts, and recvWindow expiry. Validation rejections (bad price, bad
// quantity precision) are not retryable without correcting the request.
func IsRetryable(err error) bool {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		switch ee.Code {
		case CodeTooManyVisits, CodeServerTimeout, CodeTimestampWindow:
			return true
		}
		return false
	}
	// Network-level failures and timeouts have ambiguous outcomes. They are
	// reported as retryable for classification, but callers retrying a create
	// must reuse the original client order id.
	return err != nil
}

// IsOrderNotFound reports whether a cancel failed because the order is
// already gone (filled, cancelled, or expired venue-side).
func IsOrderNotFound(err error) bool {
	var ee *ExchangeError
	return errors.As(err, &ee) && ee.Code == CodeOrderNotFound
}
