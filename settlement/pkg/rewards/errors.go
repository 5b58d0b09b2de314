package rewards

import "errors"

// ErrorKind groups errors by who is expected to act on them.
type ErrorKind string

const (
	KindConfiguration  ErrorKind = "configuration"
	KindInput          ErrorKind = "input"
	KindReconciliation ErrorKind = "reconciliation"
	KindState          ErrorKind = "state"
	KindFatal          ErrorKind = "fatal"
)

// Error is a named settlement failure. Sentinels below are compared with
// errors.Is; wrapping them with additional context keeps the code intact.
type Error struct {
	Code string
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(code string, kind ErrorKind, msg string) *Error {
	return &Error{Code: code, Kind: kind, Msg: msg}
}

var (
	ErrInvalidShareTotal = newError("InvalidShareTotal", KindConfiguration, "share percentages must total 10000 (100%)")
	ErrUnauthorized      = newError("Unauthorized", KindConfiguration, "only admin can perform this action")
	ErrConfigLocked      = newError("ConfigLocked", KindConfiguration, "configuration is permanently locked")

	ErrInvalidAmount     = newError("InvalidAmount", KindInput, "distribution amount must be greater than 0")
	ErrNoRecipients      = newError("NoRecipients", KindInput, "must have at least one recipient")
	ErrTooManyRecipients = newError("TooManyRecipients", KindInput, "maximum 50 recipients per distribution")
	ErrExceedsTotal      = newError("ExceedsTotal", KindInput, "distributed amounts exceed total")
	ErrInvalidAccount    = newError("InvalidAccount", KindInput, "token account address, mint and owner are required")
	ErrInvalidRole       = newError("InvalidRole", KindInput, "recipient role is not one of creator, voter, nft_holder, platform")

	ErrShareMismatch          = newError("ShareMismatch", KindReconciliation, "per-role totals do not match configured share ratios")
	ErrRecipientCountMismatch = newError("RecipientCountMismatch", KindReconciliation, "destination account count does not match non-zero recipients")
	ErrRecipientMismatch      = newError("RecipientMismatch", KindReconciliation, "recipient account does not match expected token account")
	ErrInvalidMint            = newError("InvalidMint", KindReconciliation, "token account mint does not match reward mint")
	ErrInvalidTokenOwner      = newError("InvalidTokenOwner", KindReconciliation, "token account owner does not match recipient wallet")
	ErrInvalidTreasury        = newError("InvalidTreasury", KindReconciliation, "invalid treasury token account")

	ErrNotInitialized     = newError("NotInitialized", KindState, "configuration has not been initialized")
	ErrAlreadyInitialized = newError("AlreadyInitialized", KindState, "configuration already initialized")
	ErrRecordExists       = newError("RecordExists", KindState, "distribution record already exists")
	ErrRecordNotFound     = newError("RecordNotFound", KindState, "distribution record not found")
	ErrAccountNotFound    = newError("AccountNotFound", KindState, "token account not found")
	ErrConflict           = newError("Conflict", KindState, "configuration was modified concurrently")

	ErrArithmeticOverflow = newError("ArithmeticOverflow", KindFatal, "arithmetic overflow")
	ErrInsufficientFunds  = newError("InsufficientFunds", KindFatal, "insufficient funds in source account")
	ErrTransferFailed     = newError("TransferFailed", KindFatal, "token transfer failed")
)

// AsError returns the named settlement error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
