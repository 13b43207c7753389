package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTier is returned when a tier outside {monthly, yearly} is requested.
	ErrInvalidTier = errors.New("invalid subscription tier")

	// ErrInvalidReference is returned when a payment reference is empty.
	ErrInvalidReference = errors.New("payment reference is required")

	// ErrGateway matches every *GatewayError.
	ErrGateway = errors.New("payment gateway error")

	// ErrPaymentNotSuccessful is returned when the gateway confirms the payment did not go through.
	ErrPaymentNotSuccessful = errors.New("payment was not successful")

	// ErrNoActiveSubscription is returned when cancelling a user on the free tier.
	ErrNoActiveSubscription = errors.New("no active subscription to cancel")

	// ErrDuplicateReference is returned when a provider reference is already in the ledger.
	ErrDuplicateReference = errors.New("provider reference already processed")

	// ErrUserNotFound is returned when the acting user does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// GatewayError describes a transport or provider-side failure talking to the
// payment gateway. The caller may retry.
type GatewayError struct {
	Op          string
	StatusCode  int
	Message     string
	OriginalErr error
}

func (e *GatewayError) Error() string {
	switch {
	case e.OriginalErr != nil:
		return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Message, e.OriginalErr)
	case e.StatusCode != 0:
		return fmt.Sprintf("gateway %s (%d): %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("gateway %s: %s", e.Op, e.Message)
	}
}

// Unwrap returns the underlying error
func (e *GatewayError) Unwrap() error {
	return e.OriginalErr
}

// Is lets errors.Is(err, ErrGateway) match any GatewayError.
func (e *GatewayError) Is(target error) bool {
	return target == ErrGateway
}

// NewGatewayError creates a new GatewayError
func NewGatewayError(op string, statusCode int, message string, err error) *GatewayError {
	return &GatewayError{
		Op:          op,
		StatusCode:  statusCode,
		Message:     message,
		OriginalErr: err,
	}
}
