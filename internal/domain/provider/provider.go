// Package provider holds the identifiers and error types shared by every
// payment provider integration.
package provider

import (
	"fmt"
)

// Name identifies a payment provider.
type Name string

const (
	Stripe Name = "stripe"
	PayPal Name = "paypal"
)

// ParseName maps a free-form provider string to a Name. Anything other than
// "paypal" is treated as Stripe, matching how the storefront labels orders.
func ParseName(s string) Name {
	if Name(s) == PayPal {
		return PayPal
	}
	return Stripe
}

// ConfigError reports a provider secret or endpoint that is not configured.
// It is a server misconfiguration, never a client error.
type ConfigError struct {
	Variable string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("Missing %s", e.Variable)
}

// Error carries a failure reported by a payment provider. Message is the
// provider's own human-readable message when one was available.
type Error struct {
	Provider Name
	Message  string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// DefaultMessage is used when a provider fails without a readable message.
const DefaultMessage = "payment failed"
