package nft

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"certledger.org/internal/storage"
)

// Index prefixes inside the store namespace.
const (
	prefixOwner     = "o/"
	prefixMetadata  = "m/"
	prefixPerOwner  = "e/"
	prefixApprovals = "a/"
)

// Store keeps four indexes in step: owner by id, metadata by id, token set
// per owner and approvals by id. Callers provide atomicity by handing in a
// staging transaction; Store itself never commits.
type Store struct {
	rw storage.ReadWriter
}

// NewStore returns a store over rw.
func NewStore(rw storage.ReadWriter) *Store {
	return &Store{rw: rw}
}

func key(prefix, id string) []byte { return []byte(prefix + id) }

// Mint inserts a new token owned by owner.
func (s *Store) Mint(id, owner string, md TokenMetadata) (Token, error) {
	if err := ValidateTokenID(id); err != nil {
		return Token{}, err
	}
	exists, err := s.rw.Has(key(prefixOwner, id))
	if err != nil {
		return Token{}, err
	}
	if exists {
		return Token{}, fmt.Errorf("%w: %s", ErrTokenExists, id)
	}
	if err := s.rw.Put(key(prefixOwner, id), []byte(owner)); err != nil {
		return Token{}, err
	}
	if err := s.putJSON(key(prefixMetadata, id), md); err != nil {
		return Token{}, err
	}
	if err := s.addToOwner(owner, id); err != nil {
		return Token{}, err
	}
	if err := s.putJSON(key(prefixApprovals, id), approvals{Accounts: map[string]uint64{}}); err != nil {
		return Token{}, err
	}
	return Token{TokenID: id, OwnerID: owner, Metadata: &md, ApprovedAccountIDs: map[string]uint64{}}, nil
}

// Exists reports whether id is stored.
func (s *Store) Exists(id string) (bool, error) {
	return s.rw.Has(key(prefixOwner, id))
}

// OwnerOf returns the owner of id.
func (s *Store) OwnerOf(id string) (string, error) {
	v, err := s.rw.Get(key(prefixOwner, id))
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// Metadata returns the stored metadata of id.
func (s *Store) Metadata(id string) (TokenMetadata, error) {
	var md TokenMetadata
	if err := s.getJSON(key(prefixMetadata, id), &md); err != nil {
		return TokenMetadata{}, err
	}
	return md, nil
}

// SetMetadata rewrites the metadata of an existing token in place.
func (s *Store) SetMetadata(id string, md TokenMetadata) error {
	if _, err := s.OwnerOf(id); err != nil {
		return err
	}
	return s.putJSON(key(prefixMetadata, id), md)
}

// Token assembles the full view of id.
func (s *Store) Token(id string) (Token, error) {
	owner, err := s.OwnerOf(id)
	if err != nil {
		return Token{}, err
	}
	md, err := s.Metadata(id)
	if err != nil {
		return Token{}, err
	}
	ap, err := s.approvals(id)
	if err != nil {
		return Token{}, err
	}
	return Token{TokenID: id, OwnerID: owner, Metadata: &md, ApprovedAccountIDs: ap.Accounts}, nil
}

// InternalTransfer moves id from its owner to receiver. sender must be the
// owner or an approved account; when approvalID is non-nil it must match the
// sender's approval. All approvals are cleared.
func (s *Store) InternalTransfer(sender, receiver, id string, approvalID *uint64) (Transfer, error) {
	owner, err := s.OwnerOf(id)
	if err != nil {
		return Transfer{}, err
	}
	ap, err := s.approvals(id)
	if err != nil {
		return Transfer{}, err
	}
	out := Transfer{TokenID: id, PreviousOwner: owner, NewOwner: receiver}
	if sender != owner {
		got, ok := ap.Accounts[sender]
		if !ok {
			return Transfer{}, fmt.Errorf("%w: %s", ErrNotApproved, sender)
		}
		if approvalID != nil && *approvalID != got {
			return Transfer{}, fmt.Errorf("%w: have %d, got %d", ErrApprovalMismatch, got, *approvalID)
		}
		out.AuthorizedID = sender
	}
	if receiver == owner {
		return Transfer{}, ErrSelfTransfer
	}

	if err := s.removeFromOwner(owner, id); err != nil {
		return Transfer{}, err
	}
	if err := s.addToOwner(receiver, id); err != nil {
		return Transfer{}, err
	}
	if err := s.rw.Put(key(prefixOwner, id), []byte(receiver)); err != nil {
		return Transfer{}, err
	}
	out.ClearedApprovals = ap.Accounts
	ap.Accounts = map[string]uint64{}
	if err := s.putJSON(key(prefixApprovals, id), ap); err != nil {
		return Transfer{}, err
	}
	return out, nil
}

// Approve grants account transfer rights over id and returns the approval id.
// Re-approving an account issues a fresh id.
func (s *Store) Approve(id, account string) (uint64, error) {
	if _, err := s.OwnerOf(id); err != nil {
		return 0, err
	}
	ap, err := s.approvals(id)
	if err != nil {
		return 0, err
	}
	approvalID := ap.Next
	ap.Next++
	ap.Accounts[account] = approvalID
	if err := s.putJSON(key(prefixApprovals, id), ap); err != nil {
		return 0, err
	}
	return approvalID, nil
}

// Revoke removes account's approval. It reports whether one existed.
func (s *Store) Revoke(id, account string) (bool, error) {
	ap, err := s.approvals(id)
	if err != nil {
		return false, err
	}
	if _, ok := ap.Accounts[account]; !ok {
		return false, nil
	}
	delete(ap.Accounts, account)
	return true, s.putJSON(key(prefixApprovals, id), ap)
}

// RevokeAll removes every approval of id and returns the dropped accounts.
func (s *Store) RevokeAll(id string) ([]string, error) {
	ap, err := s.approvals(id)
	if err != nil {
		return nil, err
	}
	dropped := make([]string, 0, len(ap.Accounts))
	for acc := range ap.Accounts {
		dropped = append(dropped, acc)
	}
	sort.Strings(dropped)
	if len(dropped) == 0 {
		return dropped, nil
	}
	ap.Accounts = map[string]uint64{}
	return dropped, s.putJSON(key(prefixApprovals, id), ap)
}

// ApprovalsSize is the encoded length of id's approvals record. Two sizes of
// the same record differ by exactly the metered bytes between them.
func (s *Store) ApprovalsSize(id string) (int64, error) {
	b, err := s.rw.Get(key(prefixApprovals, id))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}

// IsApproved reports whether account may transfer id, optionally checking the approval id.
func (s *Store) IsApproved(id, account string, approvalID *uint64) (bool, error) {
	ap, err := s.approvals(id)
	if err != nil {
		return false, err
	}
	got, ok := ap.Accounts[account]
	if !ok {
		return false, nil
	}
	return approvalID == nil || *approvalID == got, nil
}

// Remove deletes id from all indexes: approvals, the owner's token set
// (dropping the set when it empties), metadata and finally ownership.
// It returns the last owner.
func (s *Store) Remove(id string) (string, error) {
	owner, err := s.OwnerOf(id)
	if err != nil {
		return "", err
	}
	if err := s.rw.Delete(key(prefixApprovals, id)); err != nil {
		return "", err
	}
	if err := s.removeFromOwner(owner, id); err != nil {
		return "", err
	}
	if err := s.rw.Delete(key(prefixMetadata, id)); err != nil {
		return "", err
	}
	if err := s.rw.Delete(key(prefixOwner, id)); err != nil {
		return "", err
	}
	return owner, nil
}

// TotalSupply counts stored tokens.
func (s *Store) TotalSupply() (int, error) {
	n := 0
	err := s.rw.ForEach([]byte(prefixOwner), func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// Tokens pages through all tokens in id order.
func (s *Store) Tokens(from, limit int) ([]Token, error) {
	var ids []string
	err := s.rw.ForEach([]byte(prefixOwner), func(k, _ []byte) error {
		ids = append(ids, string(k[len(prefixOwner):]))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.page(ids, from, limit)
}

// SupplyForOwner counts tokens held by owner.
func (s *Store) SupplyForOwner(owner string) (int, error) {
	ids, err := s.ownerSet(owner)
	return len(ids), err
}

// TokenIDsForOwner lists the ids held by owner in ascending order.
func (s *Store) TokenIDsForOwner(owner string) ([]string, error) {
	return s.ownerSet(owner)
}

// TokensForOwner pages through the tokens held by owner.
func (s *Store) TokensForOwner(owner string, from, limit int) ([]Token, error) {
	ids, err := s.ownerSet(owner)
	if err != nil {
		return nil, err
	}
	return s.page(ids, from, limit)
}

// HasOwnerSet reports whether owner has an enumeration entry at all.
func (s *Store) HasOwnerSet(owner string) (bool, error) {
	return s.rw.Has(key(prefixPerOwner, owner))
}

func (s *Store) page(ids []string, from, limit int) ([]Token, error) {
	if from < 0 {
		from = 0
	}
	if from >= len(ids) {
		return []Token{}, nil
	}
	ids = ids[from:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	out := make([]Token, 0, len(ids))
	for _, id := range ids {
		tok, err := s.Token(id)
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, nil
}

func (s *Store) ownerSet(owner string) ([]string, error) {
	var ids []string
	err := s.getJSON(key(prefixPerOwner, owner), &ids)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return ids, err
}

func (s *Store) addToOwner(owner, id string) error {
	ids, err := s.ownerSet(owner)
	if err != nil {
		return err
	}
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return nil
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return s.putJSON(key(prefixPerOwner, owner), ids)
}

func (s *Store) removeFromOwner(owner, id string) error {
	ids, err := s.ownerSet(owner)
	if err != nil {
		return err
	}
	i := sort.SearchStrings(ids, id)
	if i >= len(ids) || ids[i] != id {
		return fmt.Errorf("token %s missing from owner %s set", id, owner)
	}
	ids = append(ids[:i], ids[i+1:]...)
	if len(ids) == 0 {
		return s.rw.Delete(key(prefixPerOwner, owner))
	}
	return s.putJSON(key(prefixPerOwner, owner), ids)
}

func (s *Store) approvals(id string) (approvals, error) {
	var ap approvals
	if err := s.getJSON(key(prefixApprovals, id), &ap); err != nil {
		return approvals{}, err
	}
	if ap.Accounts == nil {
		ap.Accounts = map[string]uint64{}
	}
	return ap, nil
}

func (s *Store) putJSON(k []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.rw.Put(k, b)
}

// getJSON maps a missing key to ErrNotFound.
func (s *Store) getJSON(k []byte, v any) error {
	b, err := s.rw.Get(k)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", k, err)
	}
	return nil
}
