package ledger

import (
	"context"
	"fmt"

	"certledger.org/internal/auth"
	"certledger.org/internal/cert"
)

// AddIssuer grants the issuer role. Granting twice is not an error; the
// result reports whether the grant is new.
func (l *Ledger) AddIssuer(ctx context.Context, call Call, account string) (bool, error) {
	return l.GrantRole(ctx, call, auth.RoleIssuer, account)
}

// RemoveIssuer revokes the issuer role. Revoking a non-member is not an error.
func (l *Ledger) RemoveIssuer(ctx context.Context, call Call, account string) (bool, error) {
	return l.RevokeRole(ctx, call, auth.RoleIssuer, account)
}

// GrantRole is the owner-only role grant behind AddIssuer.
func (l *Ledger) GrantRole(ctx context.Context, call Call, role auth.Role, account string) (bool, error) {
	var changed bool
	err := l.exec(ctx, "grant_role", call, roleGate, func(c *callCtx) error {
		var err error
		changed, err = c.roles.Add(account, role)
		return err
	})
	if err == nil && changed {
		l.log.Info().Str("role", string(role)).Str("account", account).Str("by", call.Caller).Msg("role granted")
	}
	return changed, err
}

// RevokeRole is the owner-only role revocation behind RemoveIssuer.
func (l *Ledger) RevokeRole(ctx context.Context, call Call, role auth.Role, account string) (bool, error) {
	var changed bool
	err := l.exec(ctx, "revoke_role", call, roleGate, func(c *callCtx) error {
		var err error
		changed, err = c.roles.Remove(account, role)
		return err
	})
	if err == nil && changed {
		l.log.Info().Str("role", string(role)).Str("account", account).Str("by", call.Caller).Msg("role revoked")
	}
	return changed, err
}

// SetMetadata replaces the collection metadata.
func (l *Ledger) SetMetadata(ctx context.Context, call Call, md cert.ContractMetadata) error {
	return l.exec(ctx, "set_metadata", call, ownerGate, func(c *callCtx) error {
		if err := md.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		c.state.Metadata = md
		c.markDirty()
		return nil
	})
}

// TransferOwnership hands the contract to another account.
func (l *Ledger) TransferOwnership(ctx context.Context, call Call, newOwner string) error {
	err := l.exec(ctx, "transfer_ownership", call, ownerGate, func(c *callCtx) error {
		if err := auth.ValidateAccountID(newOwner); err != nil {
			return err
		}
		c.state.Owner = newOwner
		c.markDirty()
		return nil
	})
	if err == nil {
		l.log.Warn().Str("from", call.Caller).Str("to", newOwner).Msg("contract ownership transferred")
	}
	return err
}

// roleGate admits the owner with no deposit attached.
func roleGate(c *callCtx) error {
	if err := c.requireOwner(); err != nil {
		return err
	}
	return requireNoDeposit(c.call.Deposit)
}
