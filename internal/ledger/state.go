package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	"certledger.org/internal/cert"
	"certledger.org/internal/storage"
)

// Key layout. Everything under nsContract is metered contract state;
// nsRuntime holds the event journal and payout book-keeping.
const (
	nsContract = "c/"
	nsRuntime  = "x/"

	keyState      = "c/s"
	prefixTokens  = "c/t/"
	prefixRoles   = "c/r/"
	keyEventSeq   = "x/seq"
	prefixEvents  = "x/e/"
	prefixPayouts = "x/p/"
	keyReserved   = "x/reserved"
)

// State is the contract-level aggregate: ownership, lifecycle flags, the
// optional trash account and collection metadata.
type State struct {
	Owner         string                `json:"owner_id"`
	CanTransfer   bool                  `json:"can_transfer"`
	CanInvalidate bool                  `json:"can_invalidate"`
	TrashAccount  string                `json:"trash_account,omitempty"`
	Metadata      cert.ContractMetadata `json:"metadata"`
}

// AssertCanTransfer fails when the instance was created without transfers.
func (s *State) AssertCanTransfer() error {
	if !s.CanTransfer {
		return ErrTransferDisabled
	}
	return nil
}

// AssertCanInvalidate fails when the instance was created without invalidation.
func (s *State) AssertCanInvalidate() error {
	if !s.CanInvalidate {
		return ErrInvalidateDisabled
	}
	return nil
}

func loadState(r storage.Reader) (*State, error) {
	b, err := r.Get([]byte(keyState))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("%w: contract state: %v", ErrCorruptMetadata, err)
	}
	return &st, nil
}

func saveState(w storage.Writer, st *State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return w.Put([]byte(keyState), b)
}
