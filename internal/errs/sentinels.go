// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"context"
	"errors"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates malformed or missing input at a boundary.
	ErrValidation = errors.New("validation")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated caller acting on someone else's data.
	ErrForbidden = errors.New("forbidden")

	// ErrStoreUnavailable indicates the entitlement/cart store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrProcessorUnavailable indicates the payment processor call failed or timed out.
	ErrProcessorUnavailable = errors.New("payment processor unavailable")

	// ErrInvalidSignature indicates a webhook payload failed signature verification.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrCartMissing indicates the cart referenced by a checkout session does not exist.
	ErrCartMissing = errors.New("cart missing")

	// ErrCartOwnerMismatch indicates the cart belongs to a different user than the session.
	ErrCartOwnerMismatch = errors.New("cart owner mismatch")

	// ErrProductMissing indicates a cart line item references a deleted product.
	ErrProductMissing = errors.New("product missing")
)

// IsTransient reports whether err is worth retrying on a later trigger
// (store or processor outage, timeout). Missing references and validation
// failures are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrProcessorUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}
