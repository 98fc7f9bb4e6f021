// Package expiry derives certificate expiration dates from the holder's
// on-chain activity recorded in an explorer database.
//
// A certificate expires after the first run of Window consecutive days of
// inactivity following its issue date. Without such a run it expires Window
// after the holder's most recent activity.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"certledger.org/internal/nft"
)

// Window is the inactivity period after which a certificate lapses.
const Window = 180 * 24 * time.Hour

var ErrNoIssueDate = errors.New("token has no usable issued_at")

// Activity supplies the moments an account signed transactions.
type Activity interface {
	ActivityBetween(ctx context.Context, account string, from, to time.Time) ([]time.Time, error)
}

// Service computes expirations against an Activity source.
type Service struct {
	src Activity
	now func() time.Time
}

func New(src Activity) *Service {
	return &Service{src: src, now: time.Now}
}

// Expiration returns when a certificate held by account and issued at
// issuedAt expires. Activity is considered up to the start of the current
// UTC day; certificates issued today skip the lookup.
func (s *Service) Expiration(ctx context.Context, account string, issuedAt time.Time) (time.Time, error) {
	issuedAt = issuedAt.UTC()
	startOfDay := s.now().UTC().Truncate(24 * time.Hour)
	if issuedAt.After(startOfDay) {
		return issuedAt.Add(Window), nil
	}
	acts, err := s.src.ActivityBetween(ctx, account, issuedAt, startOfDay)
	if err != nil {
		return time.Time{}, fmt.Errorf("activity for %s: %w", account, err)
	}
	return Compute(issuedAt, acts), nil
}

// ForToken computes the expiration of tok for its current owner.
func (s *Service) ForToken(ctx context.Context, tok nft.Token) (time.Time, error) {
	if tok.Metadata == nil {
		return time.Time{}, ErrNoIssueDate
	}
	issued, err := ParseIssuedAt(tok.Metadata.IssuedAt)
	if err != nil {
		return time.Time{}, err
	}
	return s.Expiration(ctx, tok.OwnerID, issued)
}

// Compute applies the expiration rule to a set of activity moments.
func Compute(issuedAt time.Time, activity []time.Time) time.Time {
	if len(activity) == 0 {
		return issuedAt.Add(Window)
	}
	acts := append([]time.Time(nil), activity...)
	sort.Slice(acts, func(i, j int) bool { return acts[i].Before(acts[j]) })

	if acts[0].Sub(issuedAt) >= Window {
		return issuedAt.Add(Window)
	}
	for i := 1; i < len(acts); i++ {
		if acts[i].Sub(acts[i-1]) > Window {
			return acts[i-1].Add(Window)
		}
	}
	return acts[len(acts)-1].Add(Window)
}

// ParseIssuedAt reads a decimal unix timestamp in seconds, milliseconds or
// nanoseconds, picking the unit by magnitude.
func ParseIssuedAt(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, ErrNoIssueDate
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNoIssueDate, s)
	}
	switch {
	case n < 1e11:
		return time.Unix(n, 0).UTC(), nil
	case n < 1e14:
		return time.UnixMilli(n).UTC(), nil
	default:
		return time.Unix(0, n).UTC(), nil
	}
}
