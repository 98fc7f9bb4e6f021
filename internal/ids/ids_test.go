package ids

import (
	"testing"
	"time"
)

func TestNewIsMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("ids not increasing: %s <= %s", next, prev)
		}
		prev = next
	}
}

func TestTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, ok := Time(New())
	if !ok {
		t.Fatal("expected id to parse")
	}
	if ts.Before(before) {
		t.Fatalf("timestamp too old: %v", ts)
	}
	if _, ok := Time("not-an-id"); ok {
		t.Fatal("expected parse failure")
	}
}

func TestNewTokenID(t *testing.T) {
	id := NewTokenID()
	if len(id) != 32 {
		t.Fatalf("unexpected length %d for %q", len(id), id)
	}
	for _, r := range id {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			t.Fatalf("unexpected rune %q in %q", r, id)
		}
	}
	if NewTokenID() == id {
		t.Fatal("expected distinct ids")
	}
}
