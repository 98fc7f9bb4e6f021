// Package nft is the generic non-fungible token store: ownership, metadata,
// per-owner enumeration and approvals, kept consistent in one key/value namespace.
package nft

import "errors"

var (
	ErrTokenExists      = errors.New("token already exists")
	ErrNotFound         = errors.New("token not found")
	ErrNotApproved      = errors.New("sender not approved")
	ErrSelfTransfer     = errors.New("receiver is already the owner")
	ErrApprovalMismatch = errors.New("approval id does not match")
	ErrInvalidTokenID   = errors.New("invalid token id")
)

// MaxTokenIDLen bounds caller-supplied token identifiers.
const MaxTokenIDLen = 128

// TokenMetadata is the generic per-token metadata record.
type TokenMetadata struct {
	Title         string `json:"title,omitempty"`
	Description   string `json:"description,omitempty"`
	Media         string `json:"media,omitempty"`
	MediaHash     string `json:"media_hash,omitempty"`
	Copies        uint64 `json:"copies,omitempty"`
	IssuedAt      string `json:"issued_at,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty"`
	StartsAt      string `json:"starts_at,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
	Extra         string `json:"extra,omitempty"`
	Reference     string `json:"reference,omitempty"`
	ReferenceHash string `json:"reference_hash,omitempty"`
}

// Token is the external view of a stored token.
type Token struct {
	TokenID            string            `json:"token_id"`
	OwnerID            string            `json:"owner_id"`
	Metadata           *TokenMetadata    `json:"metadata,omitempty"`
	ApprovedAccountIDs map[string]uint64 `json:"approved_account_ids"`
}

// Transfer describes the outcome of an internal transfer.
type Transfer struct {
	TokenID       string
	PreviousOwner string
	NewOwner      string
	// AuthorizedID is set when an approved account, not the owner, moved the token.
	AuthorizedID string
	// ClearedApprovals are the approvals dropped by the transfer.
	ClearedApprovals map[string]uint64
}

type approvals struct {
	Next     uint64            `json:"next_approval_id"`
	Accounts map[string]uint64 `json:"accounts"`
}

// ValidateTokenID rejects empty, oversized or non-printable identifiers.
func ValidateTokenID(id string) error {
	if id == "" || len(id) > MaxTokenIDLen {
		return ErrInvalidTokenID
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return ErrInvalidTokenID
		}
	}
	return nil
}
