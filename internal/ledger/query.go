package ledger

import (
	"context"
	"encoding/json"
	"errors"

	"certledger.org/internal/auth"
	"certledger.org/internal/cert"
	"certledger.org/internal/events"
	"certledger.org/internal/nft"
	"certledger.org/internal/storage"
)

// Certificate is a token together with its decoded certification bundle.
type Certificate struct {
	nft.Token
	Certification cert.Extra `json:"certification"`
}

func (l *Ledger) tokens() *nft.Store {
	return nft.NewStore(storage.NewPrefixDB(l.db, []byte(prefixTokens)))
}

func (l *Ledger) roles() *auth.Registry {
	return auth.NewRegistry(storage.NewPrefixDB(l.db, []byte(prefixRoles)))
}

// CertIsValid reports the validity flag of a stored certification.
func (l *Ledger) CertIsValid(ctx context.Context, tokenID string) (bool, error) {
	md, err := l.tokens().Metadata(tokenID)
	if err != nil {
		return false, err
	}
	extra, err := l.parseExtra(tokenID, md.Extra)
	if err != nil {
		return false, err
	}
	return extra.Valid, nil
}

// Certificate returns the typed view of a certification.
func (l *Ledger) Certificate(ctx context.Context, tokenID string) (Certificate, error) {
	tok, err := l.tokens().Token(tokenID)
	if err != nil {
		return Certificate{}, err
	}
	extra, err := l.parseExtra(tokenID, tok.Metadata.Extra)
	if err != nil {
		return Certificate{}, err
	}
	return Certificate{Token: tok, Certification: extra}, nil
}

// Token returns the generic token view.
func (l *Ledger) Token(ctx context.Context, tokenID string) (nft.Token, error) {
	return l.tokens().Token(tokenID)
}

// Tokens pages through all tokens in id order.
func (l *Ledger) Tokens(ctx context.Context, from, limit int) ([]nft.Token, error) {
	return l.tokens().Tokens(from, limit)
}

// TokensForOwner pages through the tokens held by owner.
func (l *Ledger) TokensForOwner(ctx context.Context, owner string, from, limit int) ([]nft.Token, error) {
	return l.tokens().TokensForOwner(owner, from, limit)
}

// TokenIDsForOwner lists the ids held by owner.
func (l *Ledger) TokenIDsForOwner(ctx context.Context, owner string) ([]string, error) {
	return l.tokens().TokenIDsForOwner(owner)
}

func (l *Ledger) TotalSupply(ctx context.Context) (int, error) {
	return l.tokens().TotalSupply()
}

func (l *Ledger) SupplyForOwner(ctx context.Context, owner string) (int, error) {
	return l.tokens().SupplyForOwner(owner)
}

// IsApproved reports whether account may transfer tokenID.
func (l *Ledger) IsApproved(ctx context.Context, tokenID, account string, approvalID *uint64) (bool, error) {
	return l.tokens().IsApproved(tokenID, account, approvalID)
}

// Issuers lists the accounts holding the issuer role.
func (l *Ledger) Issuers(ctx context.Context) ([]string, error) {
	return l.roles().Holders(auth.RoleIssuer)
}

func (l *Ledger) IsIssuer(ctx context.Context, account string) (bool, error) {
	return l.roles().Has(account, auth.RoleIssuer)
}

// State returns the contract aggregate.
func (l *Ledger) State(ctx context.Context) (State, error) {
	st, err := loadState(l.db)
	if err != nil {
		return State{}, err
	}
	return *st, nil
}

func (l *Ledger) Metadata(ctx context.Context) (cert.ContractMetadata, error) {
	st, err := l.State(ctx)
	return st.Metadata, err
}

func (l *Ledger) Owner(ctx context.Context) (string, error) {
	st, err := l.State(ctx)
	return st.Owner, err
}

func (l *Ledger) CanTransfer(ctx context.Context) (bool, error) {
	st, err := l.State(ctx)
	return st.CanTransfer, err
}

func (l *Ledger) CanInvalidate(ctx context.Context) (bool, error) {
	st, err := l.State(ctx)
	return st.CanInvalidate, err
}

func (l *Ledger) TrashAccount(ctx context.Context) (string, error) {
	st, err := l.State(ctx)
	return st.TrashAccount, err
}

var errStop = errors.New("stop")

// Events returns journaled events with sequence above after, and the last
// sequence returned (after itself when nothing is newer).
func (l *Ledger) Events(ctx context.Context, after uint64, limit int) ([]events.Record, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []events.Record
	last := after
	start := string(eventKey(after))
	err := l.db.ForEach([]byte(prefixEvents), func(k, v []byte) error {
		if string(k) <= start {
			return nil
		}
		var rec events.Record
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		last = rec.Seq
		if len(out) >= limit {
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, after, err
	}
	return out, last, nil
}
