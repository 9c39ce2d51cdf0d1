package domain

import "errors"

var (
	ErrNotOwner                  = errors.New("caller is not the owner")
	ErrAlreadyListed             = errors.New("item already listed")
	ErrNotListed                 = errors.New("item not listed")
	ErrInvalidPrice              = errors.New("price must be greater than zero")
	ErrInsufficientAuthorization = errors.New("marketplace not approved for item")
	ErrIncorrectPayment          = errors.New("payment does not match price")
	ErrTransferFailed            = errors.New("item transfer failed")
	ErrFundsTransferFailed       = errors.New("funds transfer failed")
	ErrInvalidInput              = errors.New("invalid input")
	// ErrLockTimeout is returned when the per-item lock could not be acquired
	// before the context expired.
	ErrLockTimeout = errors.New("item lock timeout")
)
