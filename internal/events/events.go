// Package events defines the structured, versioned events the ledger emits.
package events

import (
	"encoding/json"
	"time"
)

// LogPrefix marks an event line in plain-text logs.
const LogPrefix = "EVENT_JSON:"

const (
	CertStandard = "x-certledger"
	CertVersion  = "1.0.0"

	NFTStandard = "nep171"
	NFTVersion  = "1.0.0"
)

// Event names.
const (
	KindIssue       = "cert_issue"
	KindInvalidate  = "cert_invalidate"
	KindNFTMint     = "nft_mint"
	KindNFTTransfer = "nft_transfer"
	KindNFTBurn     = "nft_burn"
)

// Event is the standard-tagged envelope.
type Event struct {
	Standard string `json:"standard"`
	Version  string `json:"version"`
	Event    string `json:"event"`
	Data     any    `json:"data"`
}

// String renders the event as a log line.
func (e Event) String() string {
	b, err := json.Marshal(e)
	if err != nil {
		return LogPrefix + `{"error":"unencodable event"}`
	}
	return LogPrefix + string(b)
}

// Record is a journaled event.
type Record struct {
	Seq    uint64          `json:"seq"`
	CallID string          `json:"call_id"`
	At     time.Time       `json:"at"`
	Event  json.RawMessage `json:"event"`
	// Kind duplicates Event.event for filtering without decoding.
	Kind string `json:"kind"`
}

// Decode unmarshals the envelope. Data is left as a generic map.
func (r Record) Decode() (Event, error) {
	var e Event
	err := json.Unmarshal(r.Event, &e)
	return e, err
}

// Sink receives committed records.
type Sink interface {
	Publish(Record)
}

// CertData is the payload of cert_issue and cert_invalidate.
type CertData struct {
	RecipientID string `json:"recipient_id"`
	TokenID     string `json:"token_id"`
	Memo        string `json:"memo,omitempty"`
}

// Issue builds a cert_issue event.
func Issue(recipient, tokenID, memo string) Event {
	return Event{Standard: CertStandard, Version: CertVersion, Event: KindIssue,
		Data: CertData{RecipientID: recipient, TokenID: tokenID, Memo: memo}}
}

// Invalidate builds a cert_invalidate event.
func Invalidate(recipient, tokenID, memo string) Event {
	return Event{Standard: CertStandard, Version: CertVersion, Event: KindInvalidate,
		Data: CertData{RecipientID: recipient, TokenID: tokenID, Memo: memo}}
}

type mintData struct {
	OwnerID  string   `json:"owner_id"`
	TokenIDs []string `json:"token_ids"`
	Memo     string   `json:"memo,omitempty"`
}

type transferData struct {
	AuthorizedID string   `json:"authorized_id,omitempty"`
	OldOwnerID   string   `json:"old_owner_id"`
	NewOwnerID   string   `json:"new_owner_id"`
	TokenIDs     []string `json:"token_ids"`
	Memo         string   `json:"memo,omitempty"`
}

type burnData struct {
	OwnerID      string   `json:"owner_id"`
	TokenIDs     []string `json:"token_ids"`
	AuthorizedID string   `json:"authorized_id,omitempty"`
	Memo         string   `json:"memo,omitempty"`
}

// NFTMint builds an nft_mint event.
func NFTMint(owner string, tokenIDs []string, memo string) Event {
	return Event{Standard: NFTStandard, Version: NFTVersion, Event: KindNFTMint,
		Data: []mintData{{OwnerID: owner, TokenIDs: tokenIDs, Memo: memo}}}
}

// NFTTransfer builds an nft_transfer event.
func NFTTransfer(authorized, oldOwner, newOwner string, tokenIDs []string, memo string) Event {
	return Event{Standard: NFTStandard, Version: NFTVersion, Event: KindNFTTransfer,
		Data: []transferData{{AuthorizedID: authorized, OldOwnerID: oldOwner, NewOwnerID: newOwner, TokenIDs: tokenIDs, Memo: memo}}}
}

// NFTBurn builds an nft_burn event.
func NFTBurn(owner, authorized string, tokenIDs []string, memo string) Event {
	return Event{Standard: NFTStandard, Version: NFTVersion, Event: KindNFTBurn,
		Data: []burnData{{OwnerID: owner, TokenIDs: tokenIDs, AuthorizedID: authorized, Memo: memo}}}
}
