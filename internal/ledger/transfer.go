package ledger

import (
	"context"
	"fmt"

	"certledger.org/internal/auth"
	"certledger.org/internal/events"
	"certledger.org/internal/nft"
)

// TransferRequest carries the inputs of Transfer.
type TransferRequest struct {
	Receiver string
	TokenID  string
	// ApprovalID, when set, must match the sender's approval.
	ApprovalID *uint64
	Memo       string
}

// Transfer moves a certification to another account. Only instances created
// with transfers enabled accept it.
func (l *Ledger) Transfer(ctx context.Context, call Call, req TransferRequest) (nft.Transfer, error) {
	var out nft.Transfer
	check := func(c *callCtx) error {
		if err := c.state.AssertCanTransfer(); err != nil {
			return err
		}
		return requireOneUnit(call.Deposit)
	}
	err := l.exec(ctx, "transfer", call, check, func(c *callCtx) error {
		if err := auth.ValidateAccountID(req.Receiver); err != nil {
			return fmt.Errorf("receiver: %w", err)
		}
		tr, err := l.moveToken(c, call.Caller, req.Receiver, req.TokenID, req.ApprovalID)
		if err != nil {
			return err
		}
		c.emit(events.NFTTransfer(tr.AuthorizedID, tr.PreviousOwner, tr.NewOwner, []string{req.TokenID}, req.Memo))
		out = tr
		return nil
	})
	return out, err
}

// Approve lets account transfer tokenID on the owner's behalf. The deposit
// pays for the approval entry; the rest is refunded.
func (l *Ledger) Approve(ctx context.Context, call Call, tokenID, account string) (uint64, error) {
	var id uint64
	check := func(c *callCtx) error {
		if err := c.state.AssertCanTransfer(); err != nil {
			return err
		}
		if call.Deposit == 0 {
			return ErrZeroDeposit
		}
		if err := auth.ValidateAccountID(account); err != nil {
			return err
		}
		return c.requireTokenOwner(tokenID)
	}
	err := l.exec(ctx, "approve", call, check, func(c *callCtx) error {
		var err error
		if id, err = c.tokens.Approve(tokenID, account); err != nil {
			return err
		}
		cost := l.storageCost(c.txn.UsageDelta())
		if call.Deposit < cost {
			return fmt.Errorf("%w: must attach %d to cover storage, got %d", ErrInsufficientDeposit, cost, call.Deposit)
		}
		c.refund(call.Caller, call.Deposit-cost)
		return nil
	})
	return id, err
}

// Revoke drops account's approval over tokenID and refunds the freed storage.
func (l *Ledger) Revoke(ctx context.Context, call Call, tokenID, account string) error {
	return l.exec(ctx, "revoke", call, tokenOwnerGate(tokenID), func(c *callCtx) error {
		if _, err := c.tokens.Revoke(tokenID, account); err != nil {
			return err
		}
		c.refund(call.Caller, l.storageCost(-c.txn.UsageDelta()))
		return nil
	})
}

// RevokeAll drops every approval over tokenID.
func (l *Ledger) RevokeAll(ctx context.Context, call Call, tokenID string) error {
	return l.exec(ctx, "revoke_all", call, tokenOwnerGate(tokenID), func(c *callCtx) error {
		if _, err := c.tokens.RevokeAll(tokenID); err != nil {
			return err
		}
		c.refund(call.Caller, l.storageCost(-c.txn.UsageDelta()))
		return nil
	})
}

func tokenOwnerGate(tokenID string) gate {
	return func(c *callCtx) error {
		if err := requireOneUnit(c.call.Deposit); err != nil {
			return err
		}
		return c.requireTokenOwner(tokenID)
	}
}

func (c *callCtx) requireTokenOwner(tokenID string) error {
	owner, err := c.tokens.OwnerOf(tokenID)
	if err != nil {
		return err
	}
	if owner != c.call.Caller {
		return fmt.Errorf("%w: token owner only", ErrUnauthorized)
	}
	return nil
}

// moveToken transfers tokenID and refunds the previous owner for the
// approval entries the transfer cleared, priced by how much the stored
// approvals record shrank.
func (l *Ledger) moveToken(c *callCtx, sender, receiver, tokenID string, approvalID *uint64) (nft.Transfer, error) {
	before, err := c.tokens.ApprovalsSize(tokenID)
	if err != nil {
		return nft.Transfer{}, err
	}
	tr, err := c.tokens.InternalTransfer(sender, receiver, tokenID, approvalID)
	if err != nil {
		return nft.Transfer{}, err
	}
	after, err := c.tokens.ApprovalsSize(tokenID)
	if err != nil {
		return nft.Transfer{}, err
	}
	c.refund(tr.PreviousOwner, l.storageCost(before-after))
	return tr, nil
}
