package storage

import (
	"bytes"
	"errors"
	"testing"
)

// testDB runs the shared test suite against a DB implementation.
func testDB(t *testing.T, db DB) {
	t.Helper()

	t.Run("PutAndGet", func(t *testing.T) {
		if err := db.Put([]byte("key1"), []byte("value1")); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
		val, err := db.Get([]byte("key1"))
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if !bytes.Equal(val, []byte("value1")) {
			t.Errorf("Get() = %q, want %q", val, "value1")
		}
	})

	t.Run("GetNonexistent", func(t *testing.T) {
		_, err := db.Get([]byte("nonexistent"))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() for missing key = %v, want ErrNotFound", err)
		}
	})

	t.Run("Has", func(t *testing.T) {
		db.Put([]byte("exists"), []byte("yes"))
		ok, err := db.Has([]byte("exists"))
		if err != nil || !ok {
			t.Fatalf("Has() = %v, %v for existing key", ok, err)
		}
		ok, err = db.Has([]byte("missing"))
		if err != nil || ok {
			t.Fatalf("Has() = %v, %v for missing key", ok, err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		db.Put([]byte("del"), []byte("value"))
		if err := db.Delete([]byte("del")); err != nil {
			t.Fatalf("Delete() error: %v", err)
		}
		if ok, _ := db.Has([]byte("del")); ok {
			t.Error("key should be gone after Delete()")
		}
	})

	t.Run("ForEachSorted", func(t *testing.T) {
		db.Put([]byte("it/c"), []byte("3"))
		db.Put([]byte("it/a"), []byte("1"))
		db.Put([]byte("it/b"), []byte("2"))
		db.Put([]byte("other"), []byte("x"))

		var keys []string
		err := db.ForEach([]byte("it/"), func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
		if err != nil {
			t.Fatalf("ForEach() error: %v", err)
		}
		want := []string{"it/a", "it/b", "it/c"}
		if len(keys) != len(want) {
			t.Fatalf("ForEach() keys = %v, want %v", keys, want)
		}
		for i := range want {
			if keys[i] != want[i] {
				t.Fatalf("ForEach() keys = %v, want %v", keys, want)
			}
		}
	})

	t.Run("ForEachStopsOnError", func(t *testing.T) {
		stop := errors.New("stop")
		calls := 0
		err := db.ForEach([]byte("it/"), func(k, v []byte) error {
			calls++
			return stop
		})
		if !errors.Is(err, stop) || calls != 1 {
			t.Fatalf("ForEach() = %v after %d calls", err, calls)
		}
	})

	t.Run("BatchCommit", func(t *testing.T) {
		db.Put([]byte("b/old"), []byte("x"))
		b := db.NewBatch()
		b.Put([]byte("b/new"), []byte("y"))
		b.Delete([]byte("b/old"))
		if ok, _ := db.Has([]byte("b/new")); ok {
			t.Fatal("batch write visible before Commit()")
		}
		if err := b.Commit(); err != nil {
			t.Fatalf("Commit() error: %v", err)
		}
		if ok, _ := db.Has([]byte("b/new")); !ok {
			t.Error("batch put missing after Commit()")
		}
		if ok, _ := db.Has([]byte("b/old")); ok {
			t.Error("batch delete not applied")
		}
	})
}

func TestMemoryDB(t *testing.T) {
	db := NewMemory()
	defer db.Close()
	testDB(t, db)
}

func TestBadgerDB(t *testing.T) {
	db, err := NewBadger(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	defer db.Close()
	testDB(t, db)
}

func TestBadgerInMemory(t *testing.T) {
	db, err := NewBadgerInMemory()
	if err != nil {
		t.Fatalf("NewBadgerInMemory: %v", err)
	}
	defer db.Close()
	testDB(t, db)
}

func TestMemoryDBReturnsCopies(t *testing.T) {
	db := NewMemory()
	v := []byte("abc")
	db.Put([]byte("k"), v)
	v[0] = 'z'
	got, _ := db.Get([]byte("k"))
	if string(got) != "abc" {
		t.Fatalf("stored value aliased caller slice: %q", got)
	}
}
