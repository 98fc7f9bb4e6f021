package expiry

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Explorer reads signer activity from a NEAR indexer-for-explorer database.
type Explorer struct {
	db *sql.DB
}

// OpenExplorer connects to the explorer database with the pgx driver.
func OpenExplorer(dsn string) (*Explorer, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Explorer{db: db}, nil
}

// NewExplorer wraps an existing handle.
func NewExplorer(db *sql.DB) *Explorer { return &Explorer{db: db} }

func (e *Explorer) Close() error { return e.db.Close() }

func (e *Explorer) Ping(ctx context.Context) error { return e.db.PingContext(ctx) }

const activitySQL = `
select r.included_in_block_timestamp::bigint
  from receipts r
  left join action_receipts ar on r.receipt_id = ar.receipt_id
 where ar.signer_account_id = $1
   and r.included_in_block_timestamp >= $2
   and r.included_in_block_timestamp <= $3
 order by r.included_in_block_timestamp asc`

// ActivityBetween lists the block timestamps of receipts signed by account
// in [from, to].
func (e *Explorer) ActivityBetween(ctx context.Context, account string, from, to time.Time) ([]time.Time, error) {
	rows, err := e.db.QueryContext(ctx, activitySQL, account, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var ns int64
		if err := rows.Scan(&ns); err != nil {
			return nil, err
		}
		out = append(out, time.Unix(0, ns).UTC())
	}
	return out, rows.Err()
}

var _ Activity = (*Explorer)(nil)
