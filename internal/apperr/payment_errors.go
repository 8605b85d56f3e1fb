package apperr

// Prebuilt payment-flow errors. The messages are shown to end users
// verbatim, so they name the action to take rather than the mechanism
// that failed.
var (
	ErrInsufficientFunds = New(CodeInsufficientFunds, "insufficient balance, please add funds to your wallet")
	ErrUserRejected      = New(CodeUserRejected, "transaction was rejected in your wallet")
	ErrMessageNotFound   = New(CodeNotFound, "message not found")
	ErrProfileNotFound   = New(CodeNotFound, "profile not found")
	ErrMalformedID       = New(CodeMalformedIdentifier, "malformed message identifier")
	ErrNotPending        = New(CodeInvalidArgument, "payment is no longer pending")
	ErrSenderMismatch    = New(CodeInvalidArgument, "sender does not match this payment")
)
