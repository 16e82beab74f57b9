package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrAccountNotFound       = errors.New("account not found")
	ErrContentNotFound       = errors.New("content not found")
	ErrPurchaseNotFound      = errors.New("purchase not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrDuplicatePurchase     = errors.New("content already purchased")
	ErrInvalidPackage        = errors.New("invalid token package")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrPaymentDeclined       = errors.New("payment declined")
	ErrChargeIndeterminate   = errors.New("payment outcome indeterminate")
	ErrOrphanedCharge        = errors.New("charge succeeded but local credit failed")
	ErrTransientConflict     = errors.New("transient storage conflict")
	ErrDuplicateRequest      = errors.New("request already processed")
	ErrImmutableRecord       = errors.New("record is append-only")
	ErrOrphanNotFound        = errors.New("orphaned charge not found")
	ErrOrphanStateChanged    = errors.New("orphaned charge is no longer in the expected state")
	ErrPaymentMethodNotFound = errors.New("payment method not found")
)

// OrphanedChargeError carries what a reconciliation job needs to credit the
// account or refund the charge.
type OrphanedChargeError struct {
	OrphanID         uuid.UUID
	AccountID        uuid.UUID
	Package          string
	Tokens           Amount
	Price            Amount
	GatewayReference string
	Cause            error
}

func (e *OrphanedChargeError) Error() string {
	return fmt.Sprintf("orphaned charge %s for account %s (package %s, price %s, gateway ref %s): %v",
		e.OrphanID, e.AccountID, e.Package, e.Price, e.GatewayReference, e.Cause)
}

func (e *OrphanedChargeError) Unwrap() error { return ErrOrphanedCharge }

// ReasonCode is the stable, machine-readable cause attached to an Outcome.
type ReasonCode string

const (
	ReasonNone                  ReasonCode = ""
	ReasonInsufficientFunds     ReasonCode = "insufficient_funds"
	ReasonAlreadyOwned          ReasonCode = "already_owned"
	ReasonPaymentDeclined       ReasonCode = "payment_declined"
	ReasonChargeIndeterminate   ReasonCode = "charge_indeterminate"
	ReasonInvalidPackage        ReasonCode = "invalid_package"
	ReasonInvalidAmount         ReasonCode = "invalid_amount"
	ReasonOrphanedCharge        ReasonCode = "orphaned_charge"
	ReasonAccountNotFound       ReasonCode = "account_not_found"
	ReasonContentNotFound       ReasonCode = "content_not_found"
	ReasonDuplicateRequest      ReasonCode = "duplicate_request"
	ReasonPaymentMethodNotFound ReasonCode = "payment_method_not_found"
	ReasonInternal              ReasonCode = "internal_error"
)

// ReasonFor maps an error onto its reason code.
func ReasonFor(err error) ReasonCode {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrInsufficientFunds):
		return ReasonInsufficientFunds
	case errors.Is(err, ErrDuplicatePurchase):
		return ReasonAlreadyOwned
	case errors.Is(err, ErrPaymentDeclined):
		return ReasonPaymentDeclined
	case errors.Is(err, ErrChargeIndeterminate):
		return ReasonChargeIndeterminate
	case errors.Is(err, ErrInvalidPackage):
		return ReasonInvalidPackage
	case errors.Is(err, ErrInvalidAmount):
		return ReasonInvalidAmount
	case errors.Is(err, ErrOrphanedCharge):
		return ReasonOrphanedCharge
	case errors.Is(err, ErrAccountNotFound):
		return ReasonAccountNotFound
	case errors.Is(err, ErrContentNotFound):
		return ReasonContentNotFound
	case errors.Is(err, ErrDuplicateRequest):
		return ReasonDuplicateRequest
	case errors.Is(err, ErrPaymentMethodNotFound):
		return ReasonPaymentMethodNotFound
	default:
		return ReasonInternal
	}
}

// IsClientError reports errors caused by the request rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPackage) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrContentNotFound) ||
		errors.Is(err, ErrDuplicateRequest) ||
		errors.Is(err, ErrPurchaseNotFound) ||
		errors.Is(err, ErrPaymentMethodNotFound) ||
		errors.Is(err, ErrOrphanNotFound)
}

// IsRetryable reports storage conflicts that may succeed when run again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientConflict)
}
