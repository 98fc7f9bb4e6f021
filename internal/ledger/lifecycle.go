package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"certledger.org/internal/auth"
	"certledger.org/internal/cert"
	"certledger.org/internal/events"
	"certledger.org/internal/nft"
)

// MintRequest carries the inputs of Mint.
type MintRequest struct {
	TokenID string
	// Receiver defaults to the contract owner.
	Receiver string
	Metadata nft.TokenMetadata
	Cert     cert.Extra
	Memo     string
}

// Mint issues a certification. The caller must hold the issuer role and
// attach a deposit that covers the storage the token occupies; the excess is
// refunded once the call commits. The stored bundle is always valid.
func (l *Ledger) Mint(ctx context.Context, call Call, req MintRequest) (nft.Token, error) {
	var out nft.Token
	check := func(c *callCtx) error {
		if err := c.requireIssuer(); err != nil {
			return err
		}
		if call.Deposit == 0 {
			return ErrZeroDeposit
		}
		return nil
	}
	err := l.exec(ctx, "mint", call, check, func(c *callCtx) error {
		if strings.TrimSpace(req.Metadata.Extra) != "" {
			return ErrExtraFieldReserved
		}
		if err := nft.ValidateTokenID(req.TokenID); err != nil {
			return err
		}
		exists, err := c.tokens.Exists(req.TokenID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrTokenExists, req.TokenID)
		}
		receiver := req.Receiver
		if receiver == "" {
			receiver = c.state.Owner
		}
		if err := auth.ValidateAccountID(receiver); err != nil {
			return fmt.Errorf("receiver: %w", err)
		}

		extra := req.Cert
		extra.Valid = true
		if err := extra.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		encoded, err := extra.Encode()
		if err != nil {
			return err
		}
		md := req.Metadata
		md.Extra = encoded
		if md.IssuedAt == "" {
			md.IssuedAt = strconv.FormatInt(c.now.UnixNano(), 10)
		}

		tok, err := c.tokens.Mint(req.TokenID, receiver, md)
		if err != nil {
			return err
		}
		cost := l.storageCost(c.txn.UsageDelta())
		if call.Deposit < cost {
			return fmt.Errorf("%w: must attach %d to cover storage, got %d", ErrInsufficientDeposit, cost, call.Deposit)
		}
		c.refund(call.Caller, call.Deposit-cost)

		c.emit(events.NFTMint(receiver, []string{req.TokenID}, req.Memo))
		c.emit(events.Issue(extra.Recipient(receiver), req.TokenID, req.Memo))
		out = tok
		return nil
	})
	return out, err
}

// Invalidate marks a certification invalid. When a trash account is
// configured the token is moved there. Invalidating an already invalid
// certification changes nothing and emits nothing.
func (l *Ledger) Invalidate(ctx context.Context, call Call, tokenID, memo string) error {
	return l.exec(ctx, "invalidate", call, invalidateGate, func(c *callCtx) error {
		md, err := c.tokens.Metadata(tokenID)
		if err != nil {
			return err
		}
		extra, err := l.parseExtra(tokenID, md.Extra)
		if err != nil {
			return err
		}
		if !extra.Valid {
			return nil
		}
		extra.Valid = false
		if md.Extra, err = extra.Encode(); err != nil {
			return err
		}
		if err := c.tokens.SetMetadata(tokenID, md); err != nil {
			return err
		}
		owner, err := c.tokens.OwnerOf(tokenID)
		if err != nil {
			return err
		}
		c.emit(events.Invalidate(extra.Recipient(owner), tokenID, memo))

		trash := c.state.TrashAccount
		if trash == "" || trash == owner {
			return nil
		}
		if _, err := l.moveToken(c, owner, trash, tokenID, nil); err != nil {
			return err
		}
		c.emit(events.NFTTransfer(call.Caller, owner, trash, []string{tokenID}, memo))
		return nil
	})
}

// Delete removes a certification from every index. Freed storage returns to
// the withdrawable balance rather than to the caller.
func (l *Ledger) Delete(ctx context.Context, call Call, tokenID, memo string) error {
	return l.exec(ctx, "delete", call, invalidateGate, func(c *callCtx) error {
		owner, err := c.tokens.Remove(tokenID)
		if err != nil {
			return err
		}
		c.emit(events.NFTBurn(owner, call.Caller, []string{tokenID}, memo))
		return nil
	})
}

func invalidateGate(c *callCtx) error {
	if err := c.state.AssertCanInvalidate(); err != nil {
		return err
	}
	return ownerGate(c)
}
