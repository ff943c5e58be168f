package bookings

import (
	"errors"

	"github.com/ariefcatur/go-rental-bookings/internal/apperr"
)

var (
	ErrNotFound      = apperr.New(apperr.KindNotFound, "Booking not found")
	ErrForbidden     = apperr.New(apperr.KindForbidden, "Unauthorized access to booking")
	ErrRenterOnly    = apperr.New(apperr.KindForbidden, "Only the renter can cancel the booking")
	ErrOwnerUnpaid   = apperr.New(apperr.KindInvalidState, "Owner can only cancel a paid booking")
	ErrNotPending    = apperr.New(apperr.KindInvalidState, "Booking is not in pending status")
	ErrNotConfirmed  = apperr.New(apperr.KindInvalidState, "Booking is not in confirmed status")
	ErrCompleted     = apperr.New(apperr.KindInvalidState, "Cannot cancel completed booking")
	ErrCancelled     = apperr.New(apperr.KindInvalidState, "Booking is already cancelled")
	ErrTooLate       = apperr.New(apperr.KindInvalidState, "Cannot cancel booking less than 24 hours before start date")
	ErrNoSignature   = apperr.New(apperr.KindValidation, "Transaction signature is required")
	ErrNoCompletion  = apperr.New(apperr.KindValidation, "Completion transaction signature is required")
	ErrInvalidPrice  = apperr.New(apperr.KindValidation, "total_price must be positive")
	ErrStateChanged  = apperr.New(apperr.KindInvalidState, "Booking status changed, reload and retry")
	ErrUnavailable   = apperr.New(apperr.KindConflict, "Product is not available for the selected dates")
	ErrInvalidDates  = apperr.New(apperr.KindValidation, "Invalid date range")
	ErrMissingFields = apperr.New(apperr.KindValidation, "Missing required fields")

	ErrSignatureUsed   = apperr.New(apperr.KindValidation, "Transaction signature already recorded")
	ErrProductNotFound = apperr.New(apperr.KindNotFound, "Product not found")
	ErrProductUnlisted = apperr.New(apperr.KindValidation, "Product is not listed")
	ErrOwnBooking      = apperr.New(apperr.KindValidation, "Cannot book your own product")
	ErrRenterWallet    = apperr.New(apperr.KindValidation, "Renter Solana address not configured")
	ErrOwnerWallet     = apperr.New(apperr.KindValidation, "Product owner Solana address not configured")
	ErrInvalidRole     = apperr.New(apperr.KindValidation, "role must be renter or owner")
	ErrInvalidStatus   = apperr.New(apperr.KindValidation, "unknown booking status")

	// errNotApplied is returned by Store transitions whose conditional update matched no row.
	errNotApplied = errors.New("conditional update matched no rows")
)
