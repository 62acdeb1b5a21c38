package errutil

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Normalize turns any error into a BaseError so transports never leak raw
// storage or driver text to callers.
func Normalize(err error) BaseError {
	if err == nil {
		return BaseError{}
	}

	var base BaseError
	if errors.As(err, &base) {
		return base
	}

	if errors.Is(err, context.Canceled) {
		return BaseError{Code: StatusClientClosedRequest, Message: "request canceled", Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return BaseError{Code: StatusGatewayTimeout, Message: "deadline exceeded", Err: err}
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BaseError{Code: StatusNotFound, Message: "resource not found", Err: err}
	}

	var coder interface{ Status() CoreStatus }
	if errors.As(err, &coder) {
		return BaseError{Code: coder.Status(), Message: coder.Status().String(), Err: err}
	}

	return BaseError{Code: StatusInternal, Message: "internal error", Err: err}
}
