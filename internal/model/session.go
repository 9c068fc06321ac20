package model

import "time"

// SessionKindCartCheckout marks sessions created from a cart checkout.
const SessionKindCartCheckout = "cart_checkout"

// Session modes, statuses and payment statuses as reported by the processor.
const (
	SessionModePayment      = "payment"
	SessionModeSubscription = "subscription"

	SessionStatusComplete = "complete"

	PaymentStatusPaid              = "paid"
	PaymentStatusNoPaymentRequired = "no_payment_required"
)

// SessionMetadata is the caller-supplied metadata embedded at checkout creation.
// Values are raw strings; adapters parse and validate them.
type SessionMetadata struct {
	UserID string
	CartID string
	Kind   string
}

// CheckoutSession is the processor's record of one checkout attempt. Read-only.
type CheckoutSession struct {
	ID            string
	Mode          string
	Status        string
	PaymentStatus string
	CustomerRef   string
	AmountTotal   int64
	Currency      string
	Created       time.Time
	Metadata      SessionMetadata
}

// IsPaidCompletion reports whether the session completed with funds captured
// (or nothing to capture, as for free packages).
func (s CheckoutSession) IsPaidCompletion() bool {
	if s.Status != SessionStatusComplete {
		return false
	}
	return s.PaymentStatus == PaymentStatusPaid || s.PaymentStatus == PaymentStatusNoPaymentRequired
}

// IsCartCheckout reports whether the session is a one-time cart purchase.
func (s CheckoutSession) IsCartCheckout() bool {
	return s.Mode == SessionModePayment && s.Metadata.Kind == SessionKindCartCheckout
}
