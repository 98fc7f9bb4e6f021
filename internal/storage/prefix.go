package storage

// PrefixDB wraps a ReadWriter and prepends a fixed prefix to all keys.
// It isolates one logical keyspace (contract state, runtime journal) inside
// a shared store or transaction.
type PrefixDB struct {
	inner  ReadWriter
	prefix []byte
}

// NewPrefixDB creates a new PrefixDB wrapping inner with the given prefix.
func NewPrefixDB(inner ReadWriter, prefix []byte) *PrefixDB {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &PrefixDB{inner: inner, prefix: p}
}

// Prefix returns the namespace prefix.
func (p *PrefixDB) Prefix() []byte { return clone(p.prefix) }

func (p *PrefixDB) prefixed(key []byte) []byte {
	out := make([]byte, len(p.prefix)+len(key))
	copy(out, p.prefix)
	copy(out[len(p.prefix):], key)
	return out
}

// Get retrieves a value by key.
func (p *PrefixDB) Get(key []byte) ([]byte, error) {
	return p.inner.Get(p.prefixed(key))
}

// Put stores a key-value pair.
func (p *PrefixDB) Put(key, value []byte) error {
	return p.inner.Put(p.prefixed(key), value)
}

// Delete removes a key.
func (p *PrefixDB) Delete(key []byte) error {
	return p.inner.Delete(p.prefixed(key))
}

// Has checks if a key exists.
func (p *PrefixDB) Has(key []byte) (bool, error) {
	return p.inner.Has(p.prefixed(key))
}

// ForEach iterates over keys with the given prefix inside the namespace.
// The callback receives keys with the namespace prefix stripped.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return p.inner.ForEach(p.prefixed(prefix), func(key, value []byte) error {
		return fn(key[len(p.prefix):], value)
	})
}

// NewBatch creates a batch that prepends the prefix to all keys. The inner
// store must be a DB; a PrefixDB over a Txn has no batches of its own.
func (p *PrefixDB) NewBatch() Batch {
	db, ok := p.inner.(interface{ NewBatch() Batch })
	if !ok {
		return &directBatch{rw: p}
	}
	return &prefixBatch{inner: db.NewBatch(), prefix: p.prefix}
}

type prefixBatch struct {
	inner  Batch
	prefix []byte
}

func (pb *prefixBatch) key(key []byte) []byte {
	out := make([]byte, len(pb.prefix)+len(key))
	copy(out, pb.prefix)
	copy(out[len(pb.prefix):], key)
	return out
}

func (pb *prefixBatch) Put(key, value []byte) error { return pb.inner.Put(pb.key(key), value) }
func (pb *prefixBatch) Delete(key []byte) error     { return pb.inner.Delete(pb.key(key)) }
func (pb *prefixBatch) Commit() error               { return pb.inner.Commit() }

// directBatch buffers writes and replays them on Commit. Used when the
// wrapped store is itself a staging transaction.
type directBatch struct {
	rw  Writer
	ops []op
}

func (d *directBatch) Put(key, value []byte) error {
	d.ops = append(d.ops, op{key: clone(key), value: clone(value)})
	return nil
}

func (d *directBatch) Delete(key []byte) error {
	d.ops = append(d.ops, op{key: clone(key), del: true})
	return nil
}

func (d *directBatch) Commit() error {
	for _, o := range d.ops {
		var err error
		if o.del {
			err = d.rw.Delete(o.key)
		} else {
			err = d.rw.Put(o.key, o.value)
		}
		if err != nil {
			return err
		}
	}
	d.ops = nil
	return nil
}
