// Package payout runs the second phase of withdrawals: paying committed
// payouts through the bank and settling them on the ledger.
package payout

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"certledger.org/internal/bank"
	"certledger.org/internal/ledger"
	"certledger.org/internal/obs"
)

// Ledger is the part of the ledger the payout workers drive.
type Ledger interface {
	Config() ledger.Config
	PayOut(ctx context.Context, id string, pay ledger.PayFunc) (ledger.Payout, error)
	PendingPayouts(ctx context.Context) ([]ledger.Payout, error)
}

const (
	defaultWorkers   = 2
	defaultQueueSize = 256
)

// Dispatcher pays queued payouts on a fixed pool of workers.
type Dispatcher struct {
	ledger  Ledger
	bank    bank.Service
	jobs    chan ledger.Payout
	workers int
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the worker count.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize sets the buffered queue capacity.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.jobs = make(chan ledger.Payout, n)
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// NewDispatcher builds a dispatcher. Call Start to begin paying.
func NewDispatcher(l Ledger, bk bank.Service, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		ledger:  l,
		bank:    bk,
		jobs:    make(chan ledger.Payout, defaultQueueSize),
		workers: defaultWorkers,
		log:     obs.Component("payout"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue hands p to the workers without blocking. A full queue leaves p
// pending for the reconciler.
func (d *Dispatcher) Enqueue(p ledger.Payout) {
	select {
	case d.jobs <- p:
	default:
		d.log.Warn().Str("payout_id", p.ID).Msg("payout queue full; deferring to reconciler")
	}
}

// Start launches the workers. They exit when ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case p := <-d.jobs:
					_ = d.Pay(ctx, p)
				}
			}
		}()
	}
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Pay transfers p from the contract account and settles it in one ledger
// step. The bank idempotency key makes repeated attempts pay at most once.
func (d *Dispatcher) Pay(ctx context.Context, p ledger.Payout) error {
	cfg := d.ledger.Config()
	got, err := d.ledger.PayOut(ctx, p.ID, func(ctx context.Context, p ledger.Payout) (string, error) {
		tx, err := d.bank.Transfer(ctx, cfg.ContractAccount, p.Recipient,
			bank.Money{Currency: p.Currency, Amount: p.Amount}, p.IdempotencyKey())
		return tx.ID, err
	})
	if err != nil {
		d.log.Error().Err(err).Str("payout_id", p.ID).Int64("amount", p.Amount).
			Int("attempts", got.Attempts).Msg("payout failed")
		return err
	}
	d.log.Info().Str("payout_id", p.ID).Str("tx_id", got.TxID).Int64("amount", got.Amount).Msg("payout settled")
	return nil
}

// Reconciler periodically re-dispatches payouts left pending.
type Reconciler struct {
	ledger     Ledger
	dispatcher *Dispatcher
	interval   time.Duration
	grace      time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// NewReconciler re-dispatches payouts untouched for longer than grace,
// checking every interval.
func NewReconciler(l Ledger, d *Dispatcher, interval, grace time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		ledger:     l,
		dispatcher: d,
		interval:   interval,
		grace:      grace,
		now:        time.Now,
		log:        obs.Component("payout-reconciler"),
	}
}

// Run loops until ctx is done.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.RunOnce(ctx); err != nil {
				r.log.Error().Err(err).Msg("reconcile payouts")
			} else if n > 0 {
				r.log.Info().Int("redispatched", n).Msg("reconciled payouts")
			}
		}
	}
}

// RunOnce pays every stale pending payout synchronously and reports how
// many it attempted.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.ledger.PendingPayouts(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := r.now().Add(-r.grace)
	n := 0
	for _, p := range pending {
		if p.UpdatedAt.After(cutoff) {
			continue
		}
		n++
		_ = r.dispatcher.Pay(ctx, p)
	}
	return n, nil
}

var _ ledger.PayoutQueue = (*Dispatcher)(nil)
