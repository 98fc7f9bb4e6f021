package ledger

import (
	"errors"

	"certledger.org/internal/auth"
	"certledger.org/internal/nft"
)

var (
	ErrUnauthorized        = auth.ErrUnauthorized
	ErrTransferDisabled    = errors.New("certifications cannot be transferred")
	ErrInvalidateDisabled  = errors.New("certifications cannot be invalidated")
	ErrZeroDeposit         = errors.New("non-zero deposit required")
	ErrInsufficientDeposit = errors.New("insufficient deposit")
	ErrUnexpectedDeposit   = errors.New("method does not accept a deposit")
	ErrExtraFieldReserved  = errors.New("token metadata extra is reserved; pass certification data separately")
	ErrTokenExists         = nft.ErrTokenExists
	ErrTokenNotFound       = nft.ErrNotFound
	ErrCorruptMetadata     = errors.New("corrupt certification metadata")
	ErrInsufficientBalance = errors.New("insufficient contract balance")
	ErrInsufficientFunds   = errors.New("caller cannot cover the attached deposit")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrAlreadyInitialized  = errors.New("ledger already initialized")
	ErrNotInitialized      = errors.New("ledger not initialized")
	ErrPayoutNotFound      = errors.New("payout not found")
)

// Kind classifies errors for transport mapping and metrics.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindPrecondition  Kind = "precondition"
	KindNotFound      Kind = "not_found"
	KindInternal      Kind = "internal"
	KindEconomic      Kind = "economic"
	KindUnknown       Kind = "unknown"
)

// KindOf returns the category of err. A nil error has no kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return KindAuthorization
	case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrPayoutNotFound):
		return KindNotFound
	case errors.Is(err, ErrCorruptMetadata):
		return KindInternal
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrInsufficientFunds):
		return KindEconomic
	case errors.Is(err, ErrTransferDisabled),
		errors.Is(err, ErrInvalidateDisabled),
		errors.Is(err, ErrZeroDeposit),
		errors.Is(err, ErrInsufficientDeposit),
		errors.Is(err, ErrUnexpectedDeposit),
		errors.Is(err, ErrExtraFieldReserved),
		errors.Is(err, ErrTokenExists),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrAlreadyInitialized),
		errors.Is(err, ErrNotInitialized),
		errors.Is(err, nft.ErrNotApproved),
		errors.Is(err, nft.ErrSelfTransfer),
		errors.Is(err, nft.ErrApprovalMismatch),
		errors.Is(err, nft.ErrInvalidTokenID),
		errors.Is(err, auth.ErrInvalidAccount),
		errors.Is(err, auth.ErrInvalidRole):
		return KindPrecondition
	default:
		return KindUnknown
	}
}
