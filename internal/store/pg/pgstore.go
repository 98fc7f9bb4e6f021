package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"certledger.org/internal/bank"
	"certledger.org/internal/ids"
)

const pgErrUniqueViolation = "23505"

// Store is the Postgres-backed bank.
type Store struct {
	db *sql.DB
}

var _ bank.Service = (*Store)(nil)

// Open connects with the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle. Tests pass sqlmock connections here.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) OpenAccount(ctx context.Context, id string, initial bank.Money) (bank.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return bank.Account{}, bank.ErrInvalidAccount
	}
	if initial.Currency == "" {
		return bank.Account{}, bank.ErrInvalidCurrency
	}
	if initial.Amount < 0 {
		return bank.Account{}, bank.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return bank.Account{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var created time.Time
	if err := tx.QueryRowContext(ctx, `insert into accounts(id, created_at) values($1, now()) returning created_at`, id).Scan(&created); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
			return bank.Account{}, bank.ErrAlreadyExists
		}
		return bank.Account{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into balances(account_id, currency, amount)
		values ($1,$2,$3)
	`, id, initial.Currency, initial.Amount); err != nil {
		return bank.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return bank.Account{}, err
	}

	return bank.Account{
		ID:        id,
		CreatedAt: created.UTC(),
		Balances:  map[string]int64{initial.Currency: initial.Amount},
	}, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (bank.Account, error) {
	var created time.Time
	err := s.db.QueryRowContext(ctx, `select created_at from accounts where id=$1`, id).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return bank.Account{}, bank.ErrNotFound
	}
	if err != nil {
		return bank.Account{}, err
	}

	rows, err := s.db.QueryContext(ctx, `select currency, amount from balances where account_id=$1`, id)
	if err != nil {
		return bank.Account{}, err
	}
	defer rows.Close()

	bals := map[string]int64{}
	for rows.Next() {
		var c string
		var a int64
		if err := rows.Scan(&c, &a); err != nil {
			return bank.Account{}, err
		}
		bals[c] = a
	}
	return bank.Account{ID: id, CreatedAt: created, Balances: bals}, rows.Err()
}

func (s *Store) GetBalance(ctx context.Context, id, currency string) (bank.Money, error) {
	var amt int64
	err := s.db.QueryRowContext(ctx, `
		select coalesce(b.amount,0)
		from accounts a
		left join balances b on b.account_id=a.id and b.currency=$2
		where a.id=$1
	`, id, currency).Scan(&amt)
	if errors.Is(err, sql.ErrNoRows) {
		return bank.Money{}, bank.ErrNotFound
	}
	if err != nil {
		return bank.Money{}, err
	}
	return bank.Money{Currency: currency, Amount: amt}, nil
}

func (s *Store) Transfer(ctx context.Context, fromID, toID string, amt bank.Money, idemKey string) (bank.Transaction, error) {
	if !amt.IsPositive() {
		return bank.Transaction{}, bank.ErrInvalidAmount
	}
	if amt.Currency == "" {
		return bank.Transaction{}, bank.ErrInvalidCurrency
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return bank.Transaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Idempotency: return existing tx if idemKey already recorded
	if idemKey != "" {
		var t bank.Transaction
		var idem sql.NullString
		err := tx.QueryRowContext(ctx, `
			select id, created_at, from_account_id, to_account_id, currency, amount, sequence, idempotency_key
			from transactions where idempotency_key=$1
		`, idemKey).Scan(&t.ID, &t.CreatedAt, &t.FromAccountID, &t.ToAccountID, &t.Currency, &t.Amount, &t.Sequence, &idem)
		if err == nil {
			if idem.Valid {
				t.IdempotencyKey = idem.String
			}
			return t, nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return bank.Transaction{}, err
		}
	}

	// Lock accounts in stable order to avoid deadlocks
	for _, acc := range sorted(fromID, toID) {
		var dummy int
		if err := tx.QueryRowContext(ctx, `select 1 from accounts where id=$1 for update`, acc).Scan(&dummy); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return bank.Transaction{}, bank.ErrNotFound
			}
			return bank.Transaction{}, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		insert into balances(account_id, currency, amount)
		values ($1,$2,0) on conflict do nothing
	`, toID, amt.Currency); err != nil {
		return bank.Transaction{}, err
	}

	var fromBal int64
	err = tx.QueryRowContext(ctx, `
		select amount from balances where account_id=$1 and currency=$2 for update
	`, fromID, amt.Currency).Scan(&fromBal)
	if errors.Is(err, sql.ErrNoRows) {
		return bank.Transaction{}, bank.ErrInsufficientFunds
	}
	if err != nil {
		return bank.Transaction{}, err
	}
	if fromBal < amt.Amount {
		return bank.Transaction{}, bank.ErrInsufficientFunds
	}

	if _, err := tx.ExecContext(ctx, `
		update balances set amount = amount - $3
		where account_id=$1 and currency=$2
	`, fromID, amt.Currency, amt.Amount); err != nil {
		return bank.Transaction{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		update balances set amount = amount + $3
		where account_id=$1 and currency=$2
	`, toID, amt.Currency, amt.Amount); err != nil {
		return bank.Transaction{}, err
	}

	tid := ids.New()
	var seq uint64
	if err := tx.QueryRowContext(ctx, `
		insert into transactions(id, from_account_id, to_account_id, currency, amount, idempotency_key)
		values ($1,$2,$3,$4,$5,nullif($6,'')) returning sequence
	`, tid, fromID, toID, amt.Currency, amt.Amount, idemKey).Scan(&seq); err != nil {
		return bank.Transaction{}, err
	}

	if err := tx.Commit(); err != nil {
		return bank.Transaction{}, err
	}

	return bank.Transaction{
		ID:             tid,
		CreatedAt:      time.Now().UTC(),
		FromAccountID:  fromID,
		ToAccountID:    toID,
		Currency:       amt.Currency,
		Amount:         amt.Amount,
		IdempotencyKey: idemKey,
		Sequence:       seq,
	}, nil
}

func (s *Store) ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]bank.Transaction, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, created_at, from_account_id, to_account_id, currency, amount, sequence, coalesce(idempotency_key,'')
		from transactions
		where sequence > $1
		order by sequence asc
		limit $2
	`, afterSeq, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []bank.Transaction
	var last uint64
	for rows.Next() {
		var tx bank.Transaction
		if err := rows.Scan(&tx.ID, &tx.CreatedAt, &tx.FromAccountID, &tx.ToAccountID, &tx.Currency, &tx.Amount, &tx.Sequence, &tx.IdempotencyKey); err != nil {
			return nil, 0, err
		}
		res = append(res, tx)
		last = tx.Sequence
	}
	return res, last, rows.Err()
}

func sorted(a, b string) []string {
	if a <= b {
		return []string{a, b}
	}
	return []string{b, a}
}
