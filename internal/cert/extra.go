// Package cert holds the certification metadata types and their wire codec.
//
// The typed Extra bundle is what the ledger works with; it is only turned
// into a JSON string when written into a token's generic "extra" field.
package cert

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"certledger.org/internal/auth"
)

// ErrCorrupt is returned when stored extra metadata cannot be decoded.
var ErrCorrupt = errors.New("cert: corrupt extra metadata")

// Nanos is a UTC timestamp in nanoseconds since the Unix epoch. It is
// encoded as a decimal string so JSON consumers never lose precision.
type Nanos uint64

// NanosFromTime converts t to Nanos. Times before the epoch clamp to zero.
func NanosFromTime(t time.Time) Nanos {
	n := t.UnixNano()
	if n < 0 {
		return 0
	}
	return Nanos(n)
}

// Time returns the timestamp as time.Time in UTC.
func (n Nanos) Time() time.Time {
	return time.Unix(0, int64(n)).UTC()
}

func (n Nanos) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(n), 10))), nil
}

func (n *Nanos) UnmarshalJSON(b []byte) error {
	s := string(b)
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid nanosecond timestamp %q: %w", string(b), err)
	}
	*n = Nanos(v)
	return nil
}

// Extra is the certification-specific metadata attached to every token.
type Extra struct {
	AuthorityName         *string `json:"authority_name"`
	AuthorityID           *string `json:"authority_id"`
	Program               *string `json:"program"`
	ProgramName           *string `json:"program_name"`
	ProgramLink           *string `json:"program_link"`
	ProgramStartDate      *Nanos  `json:"program_start_date"`
	ProgramEndDate        *Nanos  `json:"program_end_date"`
	OriginalRecipientID   *string `json:"original_recipient_id"`
	OriginalRecipientName *string `json:"original_recipient_name"`
	// Valid is forced to true at mint and flipped to false exactly once by invalidation.
	Valid bool    `json:"valid"`
	Memo  *string `json:"memo"`
}

// Validate checks account-id fields and the program date range.
func (e Extra) Validate() error {
	if e.AuthorityID != nil {
		if err := auth.ValidateAccountID(*e.AuthorityID); err != nil {
			return fmt.Errorf("authority_id: %w", err)
		}
	}
	if e.OriginalRecipientID != nil {
		if err := auth.ValidateAccountID(*e.OriginalRecipientID); err != nil {
			return fmt.Errorf("original_recipient_id: %w", err)
		}
	}
	if e.ProgramStartDate != nil && e.ProgramEndDate != nil && *e.ProgramEndDate < *e.ProgramStartDate {
		return errors.New("program_end_date precedes program_start_date")
	}
	return nil
}

// Recipient returns the original recipient when set, otherwise fallback.
func (e Extra) Recipient(fallback string) string {
	if e.OriginalRecipientID != nil && *e.OriginalRecipientID != "" {
		return *e.OriginalRecipientID
	}
	return fallback
}

// Encode serializes the bundle for the token's extra field.
func (e Extra) Encode() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// wireExtra mirrors Extra but makes the mandatory valid field detectable.
type wireExtra struct {
	Extra
	Valid *bool `json:"valid"`
}

// ParseExtra decodes a stored extra field. Missing "valid", malformed JSON or
// invalid account ids all yield ErrCorrupt.
func ParseExtra(s string) (Extra, error) {
	if strings.TrimSpace(s) == "" {
		return Extra{}, fmt.Errorf("%w: empty", ErrCorrupt)
	}
	var w wireExtra
	if err := json.Unmarshal([]byte(s), &w); err != nil {
		return Extra{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if w.Valid == nil {
		return Extra{}, fmt.Errorf("%w: missing valid", ErrCorrupt)
	}
	out := w.Extra
	out.Valid = *w.Valid
	if err := out.Validate(); err != nil {
		return Extra{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}

// String returns p as a pointer, or nil for the empty string.
func String(p string) *string {
	if p == "" {
		return nil
	}
	return &p
}
