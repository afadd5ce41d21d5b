// Package apperr is the error taxonomy shared by services and handlers.
// Services return these (optionally wrapped with %w); handlers map them to
// HTTP status codes with Status.
package apperr

import (
	"errors"
	"net/http"
)

// Error carries the HTTP status it should be reported with.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is lets errors.Is match two *Error values with the same status and message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Status == t.Status && e.Message == t.Message
}

func New(status int, msg string) *Error { return &Error{Status: status, Message: msg} }

func BadRequest(msg string) *Error   { return New(http.StatusBadRequest, msg) }
func Unauthorized(msg string) *Error { return New(http.StatusUnauthorized, msg) }
func Forbidden(msg string) *Error    { return New(http.StatusForbidden, msg) }
func NotFound(msg string) *Error     { return New(http.StatusNotFound, msg) }
func Conflict(msg string) *Error     { return New(http.StatusConflict, msg) }
func Internal(msg string) *Error     { return New(http.StatusInternalServerError, msg) }

// Generic
var (
	ErrInvalidRequest = BadRequest("invalid request")
	ErrUnauthorized   = Unauthorized("unauthorized")
	ErrNotFound       = NotFound("not found")
)

// Ledger
var (
	ErrAmountTooSmall      = BadRequest("amount is below the minimum of 100")
	ErrInsufficientBalance = BadRequest("insufficient balance")
	ErrDuplicateReference  = Conflict("duplicate transaction reference")
	ErrSelfTransfer        = BadRequest("cannot transfer to yourself")
	ErrWalletNotFound      = NotFound("wallet not found")
	ErrUserNotFound        = NotFound("user not found")
	ErrTransactionNotFound = NotFound("transaction not found")
	ErrBankAccountNotFound = NotFound("bank account not found")
	ErrBankAccountNotOwned = Forbidden("bank account does not belong to user")
)

// Withdrawal workflow
var (
	ErrNotPending             = Conflict("transaction is not pending")
	ErrNotWithdrawal          = BadRequest("transaction is not a withdrawal")
	ErrRejectionNoteRequired  = BadRequest("rejection note is required")
	ErrEscrowInsufficientHold = Conflict("escrow pending balance is lower than the withdrawal amount")
)

// Payments
var (
	ErrPaymentFailed    = BadRequest("payment verification failed")
	ErrPaymentPending   = BadRequest("payment has not been completed yet")
	ErrPaymentRefunded  = Conflict("payment arrived after the order lapsed, the amount was refunded to your wallet")
	ErrReservationLost  = Conflict("reserved item is no longer available")
	ErrInvalidSignature = Unauthorized("invalid webhook signature")
	ErrGateway          = Internal("payment gateway error")
	ErrTimeout          = Internal("operation timed out")
)

// Catalog
var (
	ErrPropertyUnavailable = Conflict("property is not available")
	ErrListingUnavailable  = Conflict("listing is not available")
	ErrQuantityUnavailable = BadRequest("requested quantity is not available")
	ErrPlanInactive        = BadRequest("investment plan is not active")
	ErrAmountOutOfRange    = BadRequest("amount is outside the plan limits")
	ErrInvalidState        = Conflict("invalid state for this operation")
)

// Status returns the HTTP status for err, 500 when err is not an *Error.
func Status(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return http.StatusInternalServerError
}

// Message returns the client-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
