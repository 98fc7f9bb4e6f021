package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"certledger.org/internal/auth"
	"certledger.org/internal/bank"
	"certledger.org/internal/ids"
	"certledger.org/internal/obs"
	"certledger.org/internal/storage"
)

// PayoutStatus tracks the second phase of a withdrawal.
type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	PayoutSettled PayoutStatus = "settled"
)

// Payout is a withdrawal committed by the ledger and awaiting, or done with,
// the bank transfer that pays it.
type Payout struct {
	ID        string       `json:"id"`
	Recipient string       `json:"recipient"`
	Amount    int64        `json:"amount"`
	Currency  string       `json:"currency"`
	Status    PayoutStatus `json:"status"`
	Attempts  int          `json:"attempts"`
	LastError string       `json:"last_error,omitempty"`
	TxID      string       `json:"tx_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// IdempotencyKey is the bank key that pays p at most once.
func (p Payout) IdempotencyKey() string { return "payout/" + p.ID }

// MaxWithdrawal is the contract balance not reserved by pending payouts and
// not needed to pay for committed storage. It waits for the call in flight,
// so an attached deposit is never counted before the storage it pays for.
func (l *Ledger) MaxWithdrawal(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxWithdrawal(ctx, l.db, l.usage.Load())
}

func (l *Ledger) maxWithdrawal(ctx context.Context, r storage.Reader, usage int64) (int64, error) {
	bal, err := l.contractBalance(ctx)
	if err != nil {
		return 0, err
	}
	reserved, err := readReserved(r)
	if err != nil {
		return 0, err
	}
	avail := bal - reserved - l.storageCost(usage)
	if avail < 0 {
		return 0, nil
	}
	return avail, nil
}

// Withdraw schedules a payout of amount to the owner. The reservation is
// committed with the call; the bank transfer runs afterwards on the payout queue.
func (l *Ledger) Withdraw(ctx context.Context, call Call, amount int64) (Payout, error) {
	return l.withdraw(ctx, "withdraw", call, func(avail int64) (int64, error) {
		if amount <= 0 {
			return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
		}
		if amount > avail {
			return 0, fmt.Errorf("%w: requested %d, withdrawable %d", ErrInsufficientBalance, amount, avail)
		}
		return amount, nil
	})
}

// WithdrawMax withdraws everything MaxWithdrawal reports once the call's own
// deposit has landed.
func (l *Ledger) WithdrawMax(ctx context.Context, call Call) (Payout, error) {
	return l.withdraw(ctx, "withdraw_max", call, func(avail int64) (int64, error) {
		if avail == 0 {
			return 0, fmt.Errorf("%w: nothing to withdraw", ErrInsufficientBalance)
		}
		return avail, nil
	})
}

func (l *Ledger) withdraw(ctx context.Context, op string, call Call, pick func(avail int64) (int64, error)) (Payout, error) {
	var out Payout
	err := l.exec(ctx, op, call, ownerGate, func(c *callCtx) error {
		avail, err := l.maxWithdrawal(c.ctx, c.txn, l.usage.Load()+c.txn.UsageDelta())
		if err != nil {
			return err
		}
		amount, err := pick(avail)
		if err != nil {
			return err
		}
		p := Payout{
			ID:        ids.New(),
			Recipient: call.Caller,
			Amount:    amount,
			Currency:  l.cfg.Currency,
			Status:    PayoutPending,
			CreatedAt: c.now,
			UpdatedAt: c.now,
		}
		if err := putPayout(c.txn, p); err != nil {
			return err
		}
		if err := addReserved(c.txn, amount); err != nil {
			return err
		}
		c.payouts = append(c.payouts, p)
		out = p
		return nil
	})
	if err == nil {
		obs.ObservePayout(string(PayoutPending))
		l.log.Info().Str("payout_id", out.ID).Int64("amount", out.Amount).Str("recipient", out.Recipient).Msg("payout scheduled")
	}
	return out, err
}

// PayFunc moves the funds of p and returns the bank transaction id.
type PayFunc func(ctx context.Context, p Payout) (txID string, err error)

// PayOut runs pay for a pending payout and records the outcome. On success
// the payout is settled and its reservation released in the same step as
// the bank transfer, both under the writer lock, so no reader sees the amount
// both paid and reserved. A failed payment is recorded and the payout stays
// pending. Paying a settled payout does nothing.
func (l *Ledger) PayOut(ctx context.Context, id string, pay PayFunc) (Payout, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := getPayout(l.db, id)
	if err != nil {
		return Payout{}, err
	}
	if p.Status != PayoutPending {
		return p, nil
	}
	txID, payErr := pay(ctx, p)

	p.Attempts++
	p.UpdatedAt = l.clock().UTC()
	txn := storage.NewTxn(l.db, []byte(nsContract))
	if payErr != nil {
		p.LastError = payErr.Error()
	} else {
		p.Status = PayoutSettled
		p.TxID = txID
		p.LastError = ""
		if err := addReserved(txn, -p.Amount); err != nil {
			txn.Discard()
			return p, err
		}
	}
	if err := putPayout(txn, p); err != nil {
		txn.Discard()
		return p, err
	}
	if err := txn.Commit(); err != nil {
		if payErr == nil {
			// The bank leg is idempotent on the payout key; a retry settles.
			obs.InternalFault()
			l.log.Error().Err(err).Bool("internal_fault", true).Str("payout_id", id).Str("tx_id", txID).Msg("settle paid payout")
		}
		return p, fmt.Errorf("commit: %w", err)
	}
	l.applyUsage(txn.UsageDelta())
	if payErr != nil {
		obs.ObservePayout("failed")
		return p, payErr
	}
	obs.ObservePayout(string(PayoutSettled))
	return p, nil
}

// Payout returns one payout by id.
func (l *Ledger) Payout(ctx context.Context, id string) (Payout, error) {
	return getPayout(l.db, id)
}

// PendingPayouts lists unsettled payouts, oldest first.
func (l *Ledger) PendingPayouts(ctx context.Context) ([]Payout, error) {
	var out []Payout
	err := l.db.ForEach([]byte(prefixPayouts), func(_, v []byte) error {
		var p Payout
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		if p.Status == PayoutPending {
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// Reserved is the total held back for pending payouts.
func (l *Ledger) Reserved(ctx context.Context) (int64, error) {
	return readReserved(l.db)
}

// Transactions pages through the bank transfers that touch the contract
// account, after the bank sequence after. Only the owner may read them. The
// returned cursor is the last bank sequence scanned, so it advances past
// unrelated transfers too.
func (l *Ledger) Transactions(ctx context.Context, caller string, after uint64, limit int) ([]bank.Transaction, uint64, error) {
	st, err := loadState(l.db)
	if err != nil {
		return nil, after, err
	}
	if err := auth.RequireOwner(st.Owner, caller); err != nil {
		return nil, after, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []bank.Transaction
	cursor := after
	for len(out) < limit {
		page, _, err := l.bank.ListTransactions(ctx, limit, cursor)
		if err != nil {
			return nil, after, err
		}
		for _, tx := range page {
			cursor = tx.Sequence
			if tx.FromAccountID == l.cfg.ContractAccount || tx.ToAccountID == l.cfg.ContractAccount {
				out = append(out, tx)
				if len(out) == limit {
					break
				}
			}
		}
		if len(page) < limit {
			break
		}
	}
	return out, cursor, nil
}

func payoutKey(id string) []byte { return []byte(prefixPayouts + id) }

func getPayout(r storage.Reader, id string) (Payout, error) {
	b, err := r.Get(payoutKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return Payout{}, fmt.Errorf("%w: %s", ErrPayoutNotFound, id)
	}
	if err != nil {
		return Payout{}, err
	}
	var p Payout
	if err := json.Unmarshal(b, &p); err != nil {
		return Payout{}, fmt.Errorf("decode payout %s: %w", id, err)
	}
	return p, nil
}

func putPayout(w storage.Writer, p Payout) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return w.Put(payoutKey(p.ID), b)
}

func readReserved(r storage.Reader) (int64, error) {
	b, err := r.Get([]byte(keyReserved))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(b), 10, 64)
}

func addReserved(rw storage.ReadWriter, delta int64) error {
	cur, err := readReserved(rw)
	if err != nil {
		return err
	}
	cur += delta
	if cur < 0 {
		cur = 0
	}
	return rw.Put([]byte(keyReserved), []byte(strconv.FormatInt(cur, 10)))
}
