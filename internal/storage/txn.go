package storage

import (
	"bytes"
	"errors"
	"sort"
	"strings"
)

// RecordOverhead is the fixed per-entry cost, in bytes, charged on top of key
// and value length when metering storage.
const RecordOverhead = 40

// ErrTxnDone is returned when a committed or discarded Txn is used again.
var ErrTxnDone = errors.New("storage: transaction already finished")

// Txn stages writes over a DB. Reads see staged writes first. Nothing reaches
// the DB until Commit, which applies every staged write in one Batch.
//
// Writes to keys under the metered prefix adjust UsageDelta by EntrySize.
type Txn struct {
	base    DB
	metered []byte
	writes  map[string]op
	order   []string
	delta   int64
	done    bool
}

// NewTxn starts a staging transaction over base.
func NewTxn(base DB, metered []byte) *Txn {
	return &Txn{
		base:    base,
		metered: clone(metered),
		writes:  make(map[string]op),
	}
}

// EntrySize is the metered size of one stored record.
func EntrySize(key, value []byte) int64 {
	return int64(len(key)+len(value)) + RecordOverhead
}

// Usage sums EntrySize over every record under prefix.
func Usage(r Reader, prefix []byte) (int64, error) {
	var total int64
	err := r.ForEach(prefix, func(k, v []byte) error {
		total += EntrySize(k, v)
		return nil
	})
	return total, err
}

// Get returns the staged value for key, falling back to the base DB.
func (t *Txn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, ErrTxnDone
	}
	if o, ok := t.writes[string(key)]; ok {
		if o.del {
			return nil, ErrNotFound
		}
		return clone(o.value), nil
	}
	return t.base.Get(key)
}

// Has reports whether key exists in the staged view.
func (t *Txn) Has(key []byte) (bool, error) {
	if t.done {
		return false, ErrTxnDone
	}
	if o, ok := t.writes[string(key)]; ok {
		return !o.del, nil
	}
	return t.base.Has(key)
}

// Put stages a write.
func (t *Txn) Put(key, value []byte) error {
	if t.done {
		return ErrTxnDone
	}
	if err := t.meter(key); err != nil {
		return err
	}
	if t.isMetered(key) {
		t.delta += EntrySize(key, value)
	}
	t.stage(op{key: clone(key), value: clone(value)})
	return nil
}

// Delete stages a removal.
func (t *Txn) Delete(key []byte) error {
	if t.done {
		return ErrTxnDone
	}
	if err := t.meter(key); err != nil {
		return err
	}
	t.stage(op{key: clone(key), del: true})
	return nil
}

// meter releases the size of the currently visible record under key.
func (t *Txn) meter(key []byte) error {
	if !t.isMetered(key) {
		return nil
	}
	old, err := t.Get(key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	t.delta -= EntrySize(key, old)
	return nil
}

func (t *Txn) isMetered(key []byte) bool {
	return len(t.metered) > 0 && bytes.HasPrefix(key, t.metered)
}

func (t *Txn) stage(o op) {
	k := string(o.key)
	if _, seen := t.writes[k]; !seen {
		t.order = append(t.order, k)
	}
	t.writes[k] = o
}

// ForEach iterates the staged view of keys with prefix in ascending order.
func (t *Txn) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	if t.done {
		return ErrTxnDone
	}
	merged := make(map[string][]byte)
	err := t.base.ForEach(prefix, func(k, v []byte) error {
		merged[string(k)] = clone(v)
		return nil
	})
	if err != nil {
		return err
	}
	p := string(prefix)
	for k, o := range t.writes {
		if !strings.HasPrefix(k, p) {
			continue
		}
		if o.del {
			delete(merged, k)
		} else {
			merged[k] = clone(o.value)
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), merged[k]); err != nil {
			return err
		}
	}
	return nil
}

// UsageDelta is the change in metered bytes the staged writes would cause.
func (t *Txn) UsageDelta() int64 { return t.delta }

// Commit applies all staged writes atomically.
func (t *Txn) Commit() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	if len(t.order) == 0 {
		return nil
	}
	b := t.base.NewBatch()
	for _, k := range t.order {
		o := t.writes[k]
		var err error
		if o.del {
			err = b.Delete(o.key)
		} else {
			err = b.Put(o.key, o.value)
		}
		if err != nil {
			return err
		}
	}
	return b.Commit()
}

// Discard drops all staged writes.
func (t *Txn) Discard() {
	t.done = true
	t.writes = nil
	t.order = nil
}
