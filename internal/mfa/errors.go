// Package mfa issues and validates one-time second-factor codes and drives the
// authentication attempt through its second-factor states.
package mfa

import "errors"

var (
	// ErrInvalidState means the attempt is not awaiting a second factor, or no code was issued for it.
	ErrInvalidState = errors.New("mfa: attempt is not pending a second factor")
	// ErrIllegalState means a provider reported success but the method carries no issuance timestamps.
	ErrIllegalState = errors.New("mfa: issuance contract violated")
	// ErrInvalidConfig is returned for a bad digit width or code lifetime.
	ErrInvalidConfig = errors.New("mfa: invalid configuration")
	// ErrDeliveryFailed wraps a sender failure after the code was persisted.
	ErrDeliveryFailed = errors.New("mfa: code delivery failed")
	// ErrNoMethod means the subject has no method of the provider's type.
	ErrNoMethod = errors.New("mfa: subject has no such method")
)
