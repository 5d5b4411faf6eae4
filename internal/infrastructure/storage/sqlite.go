package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/sarna320/scalp/internal/domain"
)

// SQLiteLedger is the durable ledger: one row per subnet position, append-only
// transactions keyed by extrinsic hash.
type SQLiteLedger struct {
	db *sql.DB
}

func NewSQLiteLedger(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, &domain.LedgerError{Op: "open", Err: err}
	}

	ledger := &SQLiteLedger{db: db}
	if err := ledger.initSchema(); err != nil {
		db.Close()
		return nil, &domain.LedgerError{Op: "init schema", Err: err}
	}
	return ledger, nil
}

func (s *SQLiteLedger) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			netuid INTEGER PRIMARY KEY,
			total_alpha_rao INTEGER NOT NULL DEFAULT 0,
			total_tao_spent_rao INTEGER NOT NULL DEFAULT 0,
			total_fee_paid_rao INTEGER NOT NULL DEFAULT 0,
			realized_profit_rao INTEGER NOT NULL DEFAULT 0,
			num_transactions INTEGER NOT NULL DEFAULT 0,
			last_updated DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			netuid INTEGER NOT NULL,
			kind TEXT NOT NULL,
			tao_amount_rao INTEGER NOT NULL,
			alpha_amount_rao INTEGER NOT NULL,
			fee_paid_rao INTEGER NOT NULL,
			price TEXT NOT NULL,
			extrinsic_hash TEXT NOT NULL UNIQUE,
			block_hash TEXT NOT NULL,
			block_number INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_netuid_block ON transactions(netuid, block_number);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

// Commit inserts the transaction and folds it into the position inside a
// single SQL transaction. A duplicate extrinsic hash leaves the store
// untouched and reports CommitDuplicate.
func (s *SQLiteLedger) Commit(ctx context.Context, t *domain.Transaction) (domain.CommitOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &domain.LedgerError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (netuid, kind, tao_amount_rao, alpha_amount_rao, fee_paid_rao, price, extrinsic_hash, block_hash, block_number, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(extrinsic_hash) DO NOTHING`,
		t.NetUID, t.Kind, t.TaoAmountRao, t.AlphaAmountRao, t.FeePaidRao,
		t.Price.String(), t.ExtrinsicHash, t.BlockHash, t.BlockNumber, t.CreatedAt)
	if err != nil {
		return 0, &domain.LedgerError{Op: "insert transaction", Err: err}
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, &domain.LedgerError{Op: "insert transaction", Err: err}
	}
	if inserted == 0 {
		return domain.CommitDuplicate, nil
	}

	pos := domain.Position{NetUID: t.NetUID}
	row := tx.QueryRowContext(ctx,
		`SELECT total_alpha_rao, total_tao_spent_rao, total_fee_paid_rao, realized_profit_rao, num_transactions
		 FROM positions WHERE netuid = ?`, t.NetUID)
	err = row.Scan(&pos.TotalAlphaRao, &pos.TotalTaoSpentRao, &pos.TotalFeePaidRao,
		&pos.RealizedProfitRao, &pos.NumTransactions)
	if err != nil && err != sql.ErrNoRows {
		return 0, &domain.LedgerError{Op: "read position", Err: err}
	}

	applyTransaction(&pos, t)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO positions (netuid, total_alpha_rao, total_tao_spent_rao, total_fee_paid_rao, realized_profit_rao, num_transactions, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(netuid) DO UPDATE SET
		 total_alpha_rao=excluded.total_alpha_rao,
		 total_tao_spent_rao=excluded.total_tao_spent_rao,
		 total_fee_paid_rao=excluded.total_fee_paid_rao,
		 realized_profit_rao=excluded.realized_profit_rao,
		 num_transactions=excluded.num_transactions,
		 last_updated=excluded.last_updated`,
		pos.NetUID, pos.TotalAlphaRao, pos.TotalTaoSpentRao, pos.TotalFeePaidRao,
		pos.RealizedProfitRao, pos.NumTransactions, t.CreatedAt)
	if err != nil {
		return 0, &domain.LedgerError{Op: "upsert position", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return 0, &domain.LedgerError{Op: "commit", Err: err}
	}
	return domain.CommitApplied, nil
}

// applyTransaction folds one settled transaction into the aggregate. Unstakes
// release cost basis at the average entry price and book the remainder as
// realized profit.
func applyTransaction(p *domain.Position, t *domain.Transaction) {
	switch t.Kind {
	case domain.TxUnstake:
		sold := t.AlphaAmountRao
		if sold > p.TotalAlphaRao {
			sold = p.TotalAlphaRao
		}
		var costBasis int64
		if p.TotalAlphaRao > 0 {
			costBasis = mulDiv(p.TotalTaoSpentRao, sold, p.TotalAlphaRao)
		}
		p.RealizedProfitRao += t.TaoAmountRao - costBasis
		p.TotalAlphaRao -= sold
		p.TotalTaoSpentRao -= costBasis
		p.TotalFeePaidRao += t.FeePaidRao
	default:
		p.TotalAlphaRao += t.AlphaAmountRao
		p.TotalTaoSpentRao += t.TaoAmountRao
		p.TotalFeePaidRao += t.FeePaidRao
	}
	p.NumTransactions++
	p.LastUpdated = t.CreatedAt
}

func mulDiv(a, b, den int64) int64 {
	if den == 0 {
		return 0
	}
	num := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	return num.Quo(num, big.NewInt(den)).Int64()
}

// GetPosition returns the subnet's aggregate, zero-valued when no transaction
// has ever settled for it.
func (s *SQLiteLedger) GetPosition(ctx context.Context, netuid int) (*domain.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT netuid, total_alpha_rao, total_tao_spent_rao, total_fee_paid_rao, realized_profit_rao, num_transactions, last_updated
		 FROM positions WHERE netuid = ?`, netuid)

	var p domain.Position
	err := row.Scan(&p.NetUID, &p.TotalAlphaRao, &p.TotalTaoSpentRao, &p.TotalFeePaidRao,
		&p.RealizedProfitRao, &p.NumTransactions, &p.LastUpdated)
	if err == sql.ErrNoRows {
		return &domain.Position{NetUID: netuid}, nil
	}
	if err != nil {
		return nil, &domain.LedgerError{Op: "get position", Err: err}
	}
	return &p, nil
}

// ListPositions returns every position, for inspection tooling.
func (s *SQLiteLedger) ListPositions(ctx context.Context) ([]*domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT netuid, total_alpha_rao, total_tao_spent_rao, total_fee_paid_rao, realized_profit_rao, num_transactions, last_updated
		 FROM positions ORDER BY netuid`)
	if err != nil {
		return nil, &domain.LedgerError{Op: "list positions", Err: err}
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.NetUID, &p.TotalAlphaRao, &p.TotalTaoSpentRao, &p.TotalFeePaidRao,
			&p.RealizedProfitRao, &p.NumTransactions, &p.LastUpdated); err != nil {
			return nil, &domain.LedgerError{Op: "list positions", Err: err}
		}
		positions = append(positions, &p)
	}
	return positions, rows.Err()
}

func (s *SQLiteLedger) ListTransactions(ctx context.Context, netuid int) ([]*domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT netuid, kind, tao_amount_rao, alpha_amount_rao, fee_paid_rao, price, extrinsic_hash, block_hash, block_number, created_at
		 FROM transactions WHERE netuid = ? ORDER BY block_number ASC, id ASC`, netuid)
	if err != nil {
		return nil, &domain.LedgerError{Op: "list transactions", Err: err}
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var price string
		if err := rows.Scan(&t.NetUID, &t.Kind, &t.TaoAmountRao, &t.AlphaAmountRao, &t.FeePaidRao,
			&price, &t.ExtrinsicHash, &t.BlockHash, &t.BlockNumber, &t.CreatedAt); err != nil {
			return nil, &domain.LedgerError{Op: "list transactions", Err: err}
		}
		var perr error
		t.Price, perr = decimal.NewFromString(price)
		if perr != nil {
			return nil, &domain.LedgerError{Op: "list transactions", Err: fmt.Errorf("bad price %q: %w", price, perr)}
		}
		txs = append(txs, &t)
	}
	return txs, rows.Err()
}

func (s *SQLiteLedger) HasTransactionAt(ctx context.Context, netuid int, blockNumber int64, kind domain.TxKind) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM transactions WHERE netuid = ? AND block_number = ? AND kind = ?)`,
		netuid, blockNumber, kind)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, &domain.LedgerError{Op: "has transaction", Err: err}
	}
	return exists, nil
}
