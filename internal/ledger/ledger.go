// Package ledger is the certification lifecycle engine. It owns the contract
// state, gates every mutation behind role, ownership and deposit checks, and
// applies each call atomically over a staging transaction.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"certledger.org/internal/auth"
	"certledger.org/internal/bank"
	"certledger.org/internal/cert"
	"certledger.org/internal/events"
	"certledger.org/internal/ids"
	"certledger.org/internal/nft"
	"certledger.org/internal/obs"
	"certledger.org/internal/storage"
)

// OneUnit is the minimal attached deposit that proves deliberate intent on
// sensitive calls.
const OneUnit int64 = 1

// Defaults applied by Open.
const (
	DefaultCurrency        = "CRD"
	DefaultStorageByteCost = 100
)

// Config describes the ledger instance.
type Config struct {
	// ContractAccount is the bank account holding deposits and storage stake.
	ContractAccount string
	Currency        string
	// StorageByteCost is the price of one metered byte, in minor units.
	StorageByteCost int64
}

func (c Config) withDefaults() Config {
	if c.Currency == "" {
		c.Currency = DefaultCurrency
	}
	if c.StorageByteCost <= 0 {
		c.StorageByteCost = DefaultStorageByteCost
	}
	return c
}

// Call carries the authenticated caller and the deposit attached to a
// mutating operation.
type Call struct {
	Caller  string
	Deposit int64
}

// PayoutQueue receives payouts once the withdrawal that created them commits.
type PayoutQueue interface {
	Enqueue(Payout)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(lg *Ledger) { lg.log = l }
}

// WithSinks registers receivers for committed events.
func WithSinks(sinks ...events.Sink) Option {
	return func(lg *Ledger) { lg.sinks = append(lg.sinks, sinks...) }
}

// WithPayoutQueue sets where committed withdrawals are dispatched.
func WithPayoutQueue(q PayoutQueue) Option {
	return func(lg *Ledger) { lg.queue = q }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.clock = now }
}

// Ledger serializes mutating calls. Reads go to the committed store.
type Ledger struct {
	mu    sync.Mutex
	db    storage.DB
	bank  bank.Service
	cfg   Config
	usage atomic.Int64
	log   zerolog.Logger
	sinks []events.Sink
	queue PayoutQueue
	clock func() time.Time
}

// Open attaches a ledger to db. The contract bank account is created if
// missing and storage usage is recomputed from the metered namespace.
func Open(ctx context.Context, db storage.DB, bk bank.Service, cfg Config, opts ...Option) (*Ledger, error) {
	cfg = cfg.withDefaults()
	if err := auth.ValidateAccountID(cfg.ContractAccount); err != nil {
		return nil, fmt.Errorf("contract account: %w", err)
	}
	l := &Ledger{
		db:    db,
		bank:  bk,
		cfg:   cfg,
		log:   obs.Component("ledger"),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := bank.EnsureAccount(ctx, bk, cfg.ContractAccount, cfg.Currency); err != nil {
		return nil, fmt.Errorf("contract bank account: %w", err)
	}
	usage, err := storage.Usage(db, []byte(nsContract))
	if err != nil {
		return nil, fmt.Errorf("measure storage: %w", err)
	}
	l.usage.Store(usage)
	obs.SetStorageBytes(usage)
	return l, nil
}

// Config returns the effective configuration.
func (l *Ledger) Config() Config { return l.cfg }

// StorageUsage is the committed metered size in bytes.
func (l *Ledger) StorageUsage() int64 { return l.usage.Load() }

// InitOptions are the creation-time parameters of an instance.
type InitOptions struct {
	Owner         string
	Metadata      cert.ContractMetadata
	CanTransfer   bool
	CanInvalidate bool
	TrashAccount  string
	Issuers       []string
}

// Init creates the contract state. It can run once per store.
func (l *Ledger) Init(ctx context.Context, opts InitOptions) error {
	if err := auth.ValidateAccountID(opts.Owner); err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	if opts.TrashAccount != "" {
		if err := auth.ValidateAccountID(opts.TrashAccount); err != nil {
			return fmt.Errorf("trash account: %w", err)
		}
	}
	if err := opts.Metadata.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := loadState(l.db); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, ErrNotInitialized) {
		return err
	}

	txn := storage.NewTxn(l.db, []byte(nsContract))
	st := &State{
		Owner:         opts.Owner,
		CanTransfer:   opts.CanTransfer,
		CanInvalidate: opts.CanInvalidate,
		TrashAccount:  opts.TrashAccount,
		Metadata:      opts.Metadata,
	}
	if err := saveState(txn, st); err != nil {
		txn.Discard()
		return err
	}
	roles := auth.NewRegistry(storage.NewPrefixDB(txn, []byte(prefixRoles)))
	for _, acc := range opts.Issuers {
		if _, err := roles.Add(acc, auth.RoleIssuer); err != nil {
			txn.Discard()
			return fmt.Errorf("issuer %q: %w", acc, err)
		}
	}
	if err := l.checkStake(ctx, txn, 0); err != nil {
		txn.Discard()
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	l.applyUsage(txn.UsageDelta())
	l.log.Info().Str("owner", st.Owner).Bool("can_transfer", st.CanTransfer).
		Bool("can_invalidate", st.CanInvalidate).Str("trash_account", st.TrashAccount).
		Int("issuers", len(opts.Issuers)).Msg("ledger initialized")
	return nil
}

// callCtx is the view an operation gets while it runs.
type callCtx struct {
	ctx     context.Context
	id      string
	call    Call
	now     time.Time
	txn     *storage.Txn
	state   *State
	dirty   bool
	tokens  *nft.Store
	roles   *auth.Registry
	events  []events.Event
	refunds []refund
	payouts []Payout
}

type refund struct {
	to     string
	amount int64
}

func (c *callCtx) emit(ev events.Event) { c.events = append(c.events, ev) }

func (c *callCtx) refund(to string, amount int64) {
	if amount > 0 {
		c.refunds = append(c.refunds, refund{to: to, amount: amount})
	}
}

func (c *callCtx) pendingRefunds() int64 {
	var n int64
	for _, r := range c.refunds {
		n += r.amount
	}
	return n
}

// markDirty schedules the contract state for rewrite.
func (c *callCtx) markDirty() { c.dirty = true }

// gate checks a call against committed state before its deposit moves. It
// sees read-only tokens and roles and must not write.
type gate func(c *callCtx) error

// exec runs fn as one call: check the gate, collect the deposit, stage fn's
// writes, check the storage stake, journal events and commit. Any failure
// after the gate discards the staged writes and returns the deposit.
func (l *Ledger) exec(ctx context.Context, op string, call Call, check gate, fn func(c *callCtx) error) (err error) {
	defer func() { l.observe(op, err) }()
	if call.Deposit < 0 {
		return fmt.Errorf("%w: negative deposit", ErrInvalidArgument)
	}
	if call.Caller == "" {
		return fmt.Errorf("%w: anonymous caller", ErrUnauthorized)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := loadState(l.db)
	if err != nil {
		return err
	}
	c := &callCtx{
		ctx:   ctx,
		id:    ids.New(),
		call:  call,
		now:   l.clock().UTC(),
		state: st,
	}
	if check != nil {
		c.tokens = nft.NewStore(storage.NewPrefixDB(l.db, []byte(prefixTokens)))
		c.roles = auth.NewRegistry(storage.NewPrefixDB(l.db, []byte(prefixRoles)))
		if err := check(c); err != nil {
			return err
		}
	}
	if call.Deposit > 0 {
		if _, err := l.bank.Transfer(ctx, call.Caller, l.cfg.ContractAccount, l.money(call.Deposit), "call/"+c.id+"/deposit"); err != nil {
			if errors.Is(err, bank.ErrInsufficientFunds) || errors.Is(err, bank.ErrNotFound) {
				return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
			}
			return fmt.Errorf("collect deposit: %w", err)
		}
	}
	c.txn = storage.NewTxn(l.db, []byte(nsContract))
	c.tokens = nft.NewStore(storage.NewPrefixDB(c.txn, []byte(prefixTokens)))
	c.roles = auth.NewRegistry(storage.NewPrefixDB(c.txn, []byte(prefixRoles)))

	recs, err := l.stage(c, fn)
	if err != nil {
		c.txn.Discard()
		l.revert(c)
		return err
	}
	if err := c.txn.Commit(); err != nil {
		l.revert(c)
		return fmt.Errorf("commit: %w", err)
	}
	l.applyUsage(c.txn.UsageDelta())
	l.payRefunds(c)
	for _, rec := range recs {
		l.log.Info().Str("call_id", c.id).Uint64("seq", rec.Seq).Msg(events.LogPrefix + string(rec.Event))
		for _, s := range l.sinks {
			s.Publish(rec)
		}
	}
	if l.queue != nil {
		for _, p := range c.payouts {
			l.queue.Enqueue(p)
		}
	}
	return nil
}

func (l *Ledger) stage(c *callCtx, fn func(c *callCtx) error) ([]events.Record, error) {
	if err := fn(c); err != nil {
		return nil, err
	}
	if c.dirty {
		if err := saveState(c.txn, c.state); err != nil {
			return nil, err
		}
	}
	if c.txn.UsageDelta() > 0 || len(c.payouts) > 0 {
		if err := l.checkStake(c.ctx, c.txn, c.pendingRefunds()); err != nil {
			return nil, err
		}
	}
	return l.journal(c)
}

// checkStake fails when the contract balance, net of reservations and
// refunds still owed, cannot pay for the storage the staged writes leave.
func (l *Ledger) checkStake(ctx context.Context, txn *storage.Txn, owed int64) error {
	need := l.storageCost(l.usage.Load() + txn.UsageDelta())
	bal, err := l.contractBalance(ctx)
	if err != nil {
		return err
	}
	reserved, err := readReserved(txn)
	if err != nil {
		return err
	}
	if avail := bal - reserved - owed; avail < need {
		return fmt.Errorf("%w: %d available for %d of storage stake", ErrInsufficientBalance, avail, need)
	}
	return nil
}

func (l *Ledger) journal(c *callCtx) ([]events.Record, error) {
	if len(c.events) == 0 {
		return nil, nil
	}
	seq, err := readCounter(c.txn, keyEventSeq)
	if err != nil {
		return nil, err
	}
	recs := make([]events.Record, 0, len(c.events))
	for _, ev := range c.events {
		raw, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		seq++
		rec := events.Record{Seq: seq, CallID: c.id, At: c.now, Event: raw, Kind: ev.Event}
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}
		if err := c.txn.Put(eventKey(seq), b); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := c.txn.Put([]byte(keyEventSeq), []byte(strconv.FormatUint(seq, 10))); err != nil {
		return nil, err
	}
	return recs, nil
}

// revert returns the attached deposit of a failed call.
func (l *Ledger) revert(c *callCtx) {
	if c.call.Deposit <= 0 {
		return
	}
	_, err := l.bank.Transfer(c.ctx, l.cfg.ContractAccount, c.call.Caller, l.money(c.call.Deposit), "call/"+c.id+"/revert")
	if err != nil {
		obs.InternalFault()
		l.log.Error().Err(err).Bool("internal_fault", true).Str("call_id", c.id).
			Str("caller", c.call.Caller).Int64("amount", c.call.Deposit).Msg("deposit return failed")
	}
}

func (l *Ledger) payRefunds(c *callCtx) {
	for i, r := range c.refunds {
		key := "call/" + c.id + "/refund/" + strconv.Itoa(i)
		if _, err := l.bank.Transfer(c.ctx, l.cfg.ContractAccount, r.to, l.money(r.amount), key); err != nil {
			obs.InternalFault()
			l.log.Error().Err(err).Bool("internal_fault", true).Str("call_id", c.id).
				Str("to", r.to).Int64("amount", r.amount).Msg("refund failed")
		}
	}
}

func (l *Ledger) applyUsage(delta int64) {
	obs.SetStorageBytes(l.usage.Add(delta))
}

func (l *Ledger) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	obs.ObserveCall(op, outcome)
}

func (l *Ledger) money(amount int64) bank.Money {
	return bank.Money{Currency: l.cfg.Currency, Amount: amount}
}

func (l *Ledger) storageCost(bytes int64) int64 {
	if bytes <= 0 {
		return 0
	}
	return bytes * l.cfg.StorageByteCost
}

func (l *Ledger) contractBalance(ctx context.Context) (int64, error) {
	m, err := l.bank.GetBalance(ctx, l.cfg.ContractAccount, l.cfg.Currency)
	if err != nil {
		return 0, fmt.Errorf("contract balance: %w", err)
	}
	return m.Amount, nil
}

// parseExtra decodes a stored certification bundle. Corruption is an
// internal fault: it is logged and counted before being returned.
func (l *Ledger) parseExtra(tokenID, raw string) (cert.Extra, error) {
	extra, err := cert.ParseExtra(raw)
	if err != nil {
		obs.InternalFault()
		l.log.Error().Err(err).Bool("internal_fault", true).Str("token_id", tokenID).Msg("corrupt certification metadata")
		return cert.Extra{}, fmt.Errorf("%w: token %s: %v", ErrCorruptMetadata, tokenID, err)
	}
	return extra, nil
}

func (c *callCtx) requireOwner() error {
	return auth.RequireOwner(c.state.Owner, c.call.Caller)
}

func (c *callCtx) requireIssuer() error {
	return c.roles.Require(c.call.Caller, auth.RoleIssuer)
}

// ownerGate is the gate of owner-only calls that take exactly one unit.
func ownerGate(c *callCtx) error {
	if err := c.requireOwner(); err != nil {
		return err
	}
	return requireOneUnit(c.call.Deposit)
}

func requireOneUnit(deposit int64) error {
	if deposit != OneUnit {
		return fmt.Errorf("%w: requires attached deposit of exactly %d", ErrInsufficientDeposit, OneUnit)
	}
	return nil
}

func requireNoDeposit(deposit int64) error {
	if deposit != 0 {
		return ErrUnexpectedDeposit
	}
	return nil
}

func readCounter(r storage.Reader, key string) (uint64, error) {
	b, err := r.Get([]byte(key))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(b), 10, 64)
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvents, seq))
}
