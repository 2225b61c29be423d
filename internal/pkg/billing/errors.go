package billing

import "errors"

var (
	// ErrSignatureInvalid is returned when a webhook signature does not match the body.
	ErrSignatureInvalid = errors.New("billing: invalid webhook signature")
	// ErrMalformedPayload is returned for bodies that are not JSON or lack required fields.
	ErrMalformedPayload = errors.New("billing: malformed webhook payload")
	// ErrLedgerWriteFailed wraps any storage error raised while applying credits.
	ErrLedgerWriteFailed = errors.New("billing: ledger write failed")
	// ErrCustomerNotBound is returned when customer binding is required and none exists.
	ErrCustomerNotBound = errors.New("billing: customer is not bound to a user")
	// ErrInsufficientCredits is returned when a spend would drive a balance below zero.
	ErrInsufficientCredits = errors.New("billing: insufficient credits")
	// ErrInvalidAmount is returned for non-positive credit amounts.
	ErrInvalidAmount = errors.New("billing: credit amount must be positive")
)
