package expiry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"certledger.org/internal/nft"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestCompute(t *testing.T) {
	issued := day(0)
	cases := []struct {
		name string
		acts []time.Time
		want time.Time
	}{
		{"no activity", nil, day(180)},
		{"first activity after window", []time.Time{day(200), day(210)}, day(180)},
		{"gap longer than window", []time.Time{day(10), day(20), day(250), day(260)}, day(200)},
		{"regular activity", []time.Time{day(10), day(100), day(200), day(300)}, day(480)},
		{"unsorted input", []time.Time{day(300), day(10), day(200), day(100)}, day(480)},
		{"gap of exactly the window", []time.Time{day(10), day(190)}, day(370)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Compute(issued, tc.acts); !got.Equal(tc.want) {
				t.Fatalf("Compute = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestParseIssuedAt(t *testing.T) {
	want := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, s := range []string{"1682942400", "1682942400000", "1682942400000000000"} {
		got, err := ParseIssuedAt(s)
		if err != nil {
			t.Fatalf("ParseIssuedAt(%q): %v", s, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseIssuedAt(%q) = %s", s, got)
		}
	}
	if _, err := ParseIssuedAt(""); !errors.Is(err, ErrNoIssueDate) {
		t.Fatalf("expected ErrNoIssueDate, got %v", err)
	}
	if _, err := ParseIssuedAt("soon"); !errors.Is(err, ErrNoIssueDate) {
		t.Fatalf("expected ErrNoIssueDate, got %v", err)
	}
}

type fakeActivity struct {
	calls int
	acts  []time.Time
}

func (f *fakeActivity) ActivityBetween(ctx context.Context, account string, from, to time.Time) ([]time.Time, error) {
	f.calls++
	return f.acts, nil
}

func TestExpirationIssuedTodaySkipsLookup(t *testing.T) {
	src := &fakeActivity{}
	s := New(src)
	s.now = func() time.Time { return day(10).Add(15 * time.Hour) }

	got, err := s.Expiration(context.Background(), "alice.near", day(10).Add(time.Hour))
	if err != nil {
		t.Fatalf("Expiration: %v", err)
	}
	if !got.Equal(day(190).Add(time.Hour)) {
		t.Fatalf("got %s", got)
	}
	if src.calls != 0 {
		t.Fatalf("activity source queried %d times", src.calls)
	}
}

func TestForToken(t *testing.T) {
	src := &fakeActivity{acts: []time.Time{day(30)}}
	s := New(src)
	s.now = func() time.Time { return day(100) }

	tok := nft.Token{TokenID: "c1", OwnerID: "alice.near", Metadata: &nft.TokenMetadata{IssuedAt: "1704067200"}}
	got, err := s.ForToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("ForToken: %v", err)
	}
	if !got.Equal(day(210)) {
		t.Fatalf("got %s", got)
	}

	if _, err := s.ForToken(context.Background(), nft.Token{TokenID: "c2"}); !errors.Is(err, ErrNoIssueDate) {
		t.Fatalf("expected ErrNoIssueDate, got %v", err)
	}
}

func TestExplorerActivityBetween(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	from, to := day(0), day(100)
	mock.ExpectQuery("from receipts r").
		WithArgs("alice.near", from.UnixNano(), to.UnixNano()).
		WillReturnRows(sqlmock.NewRows([]string{"included_in_block_timestamp"}).
			AddRow(day(5).UnixNano()).
			AddRow(day(40).UnixNano()))

	acts, err := NewExplorer(db).ActivityBetween(context.Background(), "alice.near", from, to)
	if err != nil {
		t.Fatalf("ActivityBetween: %v", err)
	}
	if len(acts) != 2 || !acts[1].Equal(day(40)) {
		t.Fatalf("unexpected activity: %v", acts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
