/*
Package sqlite provides a SQLite-backed implementation of referral.TxStore.

KEY TABLES:
  affiliates:          network nodes, parent_id written once on insert
  commissions:         ledger rows, unique on (affiliate_id, transaction_id,
                       level, kind)
  withdrawals:         cash-out requests
  activation_payments: confirmed activation fees

INDEXES:
  - idx_commissions_key:           idempotency lookups and the unique guard
  - idx_commissions_affiliate_fifo: spendable rows oldest first (debit hot path)
  - idx_withdrawals_user_status:   in-flight withdrawal sums
  - idx_affiliates_parent:         downline traversal

TIMES:
  Stored as TEXT in a fixed-width UTC layout with nanoseconds, so string
  order equals time order and ORDER BY created_at is chronological. Ties are
  broken by rowid (insertion order).

CONCURRENCY:
  The pool is limited to one connection and WithTx holds the write mutex for
  the whole callback. Every query made inside a transaction goes through the
  *sql.Tx, so ":memory:" databases behave like file databases.

USAGE:
  store, err := sqlite.New("./data/commissions.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine, err := referral.New(store, opts)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - referral/store.go: Interface definitions
  - referral/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/commission-engine/referral"
)

// timeLayout is fixed width, unlike RFC3339Nano which trims zeros.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements referral.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	queries
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db, queries: queries{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS affiliates (
		id TEXT PRIMARY KEY,
		parent_id TEXT,
		code TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'PENDING',
		total_earnings INTEGER NOT NULL DEFAULT 0,
		total_paid INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		activated_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_affiliates_parent
		ON affiliates(parent_id);

	-- Ledger rows. Amount is reduced in place only by withdrawal completion.
	CREATE TABLE IF NOT EXISTS commissions (
		id TEXT PRIMARY KEY,
		affiliate_id TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		level INTEGER NOT NULL CHECK (level BETWEEN 1 AND 10),
		kind TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount >= 0),
		status TEXT NOT NULL,
		rejection_reason TEXT,
		created_at TEXT NOT NULL,
		approved_at TEXT,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one row per (beneficiary, purchase, level, kind)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_commissions_key
		ON commissions(affiliate_id, transaction_id, level, kind);

	CREATE INDEX IF NOT EXISTS idx_commissions_affiliate_fifo
		ON commissions(affiliate_id, status, created_at);

	CREATE TABLE IF NOT EXISTS withdrawals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount > 0),
		status TEXT NOT NULL,
		bank_name TEXT NOT NULL,
		account_number TEXT NOT NULL,
		account_holder TEXT NOT NULL,
		rejection_reason TEXT,
		requested_at TEXT NOT NULL,
		approved_at TEXT,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawals_user_status
		ON withdrawals(user_id, status);

	CREATE TABLE IF NOT EXISTS activation_payments (
		id TEXT PRIMARY KEY,
		affiliate_id TEXT NOT NULL,
		invoice_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		paid_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activation_payments_affiliate
		ON activation_payments(affiliate_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCKED ENTRY POINTS
// =============================================================================

func (s *Store) CreateAffiliate(ctx context.Context, a referral.Affiliate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.CreateAffiliate(ctx, a)
}

func (s *Store) GetAffiliate(ctx context.Context, id referral.AffiliateID) (*referral.Affiliate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.GetAffiliate(ctx, id)
}

func (s *Store) SetAffiliateStatus(ctx context.Context, id referral.AffiliateID, status referral.AffiliateStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.SetAffiliateStatus(ctx, id, status, at)
}

func (s *Store) AddAffiliateTotals(ctx context.Context, id referral.AffiliateID, earnings, paid referral.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.AddAffiliateTotals(ctx, id, earnings, paid)
}

func (s *Store) ListChildren(ctx context.Context, parentID referral.AffiliateID) ([]referral.Affiliate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.ListChildren(ctx, parentID)
}

func (s *Store) ListAffiliates(ctx context.Context) ([]referral.Affiliate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.ListAffiliates(ctx)
}

func (s *Store) InsertCommission(ctx context.Context, c referral.Commission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.InsertCommission(ctx, c)
}

func (s *Store) FindCommission(ctx context.Context, key referral.CommissionKey) (*referral.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.FindCommission(ctx, key)
}

func (s *Store) GetCommission(ctx context.Context, id referral.CommissionID) (*referral.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.GetCommission(ctx, id)
}

func (s *Store) UpdateCommission(ctx context.Context, c referral.Commission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.UpdateCommission(ctx, c)
}

func (s *Store) ListCommissions(ctx context.Context, f referral.CommissionFilter) ([]referral.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.ListCommissions(ctx, f)
}

func (s *Store) InsertWithdrawal(ctx context.Context, w referral.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.InsertWithdrawal(ctx, w)
}

func (s *Store) GetWithdrawal(ctx context.Context, id referral.WithdrawalID) (*referral.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.GetWithdrawal(ctx, id)
}

func (s *Store) UpdateWithdrawal(ctx context.Context, w referral.Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.UpdateWithdrawal(ctx, w)
}

func (s *Store) ListWithdrawals(ctx context.Context, f referral.WithdrawalFilter) ([]referral.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.ListWithdrawals(ctx, f)
}

func (s *Store) RecordActivationPayment(ctx context.Context, p referral.ActivationPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries.RecordActivationPayment(ctx, p)
}

func (s *Store) IsActivationPaid(ctx context.Context, id referral.AffiliateID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries.IsActivationPaid(ctx, id)
}

// =============================================================================
// TRANSACTIONAL STORE (referral.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store referral.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"commissions", "withdrawals", "activation_payments", "affiliates"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs every statement against q. It holds no lock; Store's methods
// and WithTx do the locking.
type queries struct {
	q querier
}

const affiliateColumns = `id, parent_id, code, status, total_earnings, total_paid, created_at, activated_at`

func (s *queries) CreateAffiliate(ctx context.Context, a referral.Affiliate) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO affiliates (`+affiliateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		nullString(string(a.ParentID())),
		a.Code,
		a.Status,
		a.TotalEarnings,
		a.TotalPaid,
		formatTime(a.CreatedAt),
		nullTime(a.ActivatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return referral.ErrDuplicateAffiliate
		}
		return fmt.Errorf("failed to insert affiliate: %w", err)
	}
	return nil
}

func (s *queries) GetAffiliate(ctx context.Context, id referral.AffiliateID) (*referral.Affiliate, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+affiliateColumns+" FROM affiliates WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query affiliate: %w", err)
	}
	list, err := scanAffiliates(rows)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s *queries) SetAffiliateStatus(ctx context.Context, id referral.AffiliateID, status referral.AffiliateStatus, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE affiliates SET
			status = ?,
			activated_at = CASE WHEN ? = 'ACTIVE' AND activated_at IS NULL THEN ? ELSE activated_at END
		WHERE id = ?`,
		status, status, formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update affiliate status: %w", err)
	}
	return requireRow(res, "affiliate", string(id))
}

func (s *queries) AddAffiliateTotals(ctx context.Context, id referral.AffiliateID, earnings, paid referral.Amount) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE affiliates SET
			total_earnings = total_earnings + ?,
			total_paid = total_paid + ?
		WHERE id = ?`,
		earnings, paid, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update affiliate totals: %w", err)
	}
	return requireRow(res, "affiliate", string(id))
}

func (s *queries) ListChildren(ctx context.Context, parentID referral.AffiliateID) ([]referral.Affiliate, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+affiliateColumns+" FROM affiliates WHERE parent_id = ? ORDER BY created_at, rowid", parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	return scanAffiliates(rows)
}

func (s *queries) ListAffiliates(ctx context.Context) ([]referral.Affiliate, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+affiliateColumns+" FROM affiliates ORDER BY created_at, rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to query affiliates: %w", err)
	}
	return scanAffiliates(rows)
}

func scanAffiliates(rows *sql.Rows) ([]referral.Affiliate, error) {
	defer rows.Close()

	var result []referral.Affiliate
	for rows.Next() {
		var (
			id, code, status string
			parentID         sql.NullString
			earnings, paid   int64
			createdAt        string
			activatedAt      sql.NullString
		)
		if err := rows.Scan(&id, &parentID, &code, &status, &earnings, &paid, &createdAt, &activatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan affiliate: %w", err)
		}

		a := referral.NewAffiliate(referral.AffiliateID(id), referral.AffiliateID(parentID.String), code)
		a.Status = referral.AffiliateStatus(status)
		a.TotalEarnings = referral.Amount(earnings)
		a.TotalPaid = referral.Amount(paid)
		var err error
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("affiliate %s created_at: %w", id, err)
		}
		if a.ActivatedAt, err = parseNullTime(activatedAt); err != nil {
			return nil, fmt.Errorf("affiliate %s activated_at: %w", id, err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

const commissionColumns = `id, affiliate_id, transaction_id, buyer_id, level, kind, amount, status,
	rejection_reason, created_at, approved_at, updated_at`

func (s *queries) InsertCommission(ctx context.Context, c referral.Commission) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO commissions (`+commissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.AffiliateID,
		c.TransactionID,
		c.BuyerID,
		c.Level,
		c.Kind,
		c.Amount,
		c.Status,
		nullString(c.RejectionReason),
		formatTime(c.CreatedAt),
		nullTime(c.ApprovedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return referral.ErrDuplicateCommission
		}
		return fmt.Errorf("failed to insert commission: %w", err)
	}
	return nil
}

func (s *queries) FindCommission(ctx context.Context, key referral.CommissionKey) (*referral.Commission, error) {
	return s.oneCommission(ctx,
		"SELECT "+commissionColumns+" FROM commissions WHERE affiliate_id = ? AND transaction_id = ? AND level = ? AND kind = ?",
		key.AffiliateID, key.TransactionID, key.Level, key.Kind)
}

func (s *queries) GetCommission(ctx context.Context, id referral.CommissionID) (*referral.Commission, error) {
	return s.oneCommission(ctx, "SELECT "+commissionColumns+" FROM commissions WHERE id = ?", id)
}

func (s *queries) oneCommission(ctx context.Context, query string, args ...any) (*referral.Commission, error) {
	list, err := s.queryCommissions(ctx, query, args...)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s *queries) UpdateCommission(ctx context.Context, c referral.Commission) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE commissions SET
			amount = ?,
			status = ?,
			rejection_reason = ?,
			approved_at = ?,
			updated_at = ?
		WHERE id = ?`,
		c.Amount,
		c.Status,
		nullString(c.RejectionReason),
		nullTime(c.ApprovedAt),
		formatTime(c.UpdatedAt),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update commission: %w", err)
	}
	return requireRow(res, "commission", string(c.ID))
}

func (s *queries) ListCommissions(ctx context.Context, f referral.CommissionFilter) ([]referral.Commission, error) {
	var (
		where []string
		args  []any
	)
	if f.AffiliateID != "" {
		where = append(where, "affiliate_id = ?")
		args = append(args, f.AffiliateID)
	}
	if f.TransactionID != "" {
		where = append(where, "transaction_id = ?")
		args = append(args, f.TransactionID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}

	query := "SELECT " + commissionColumns + " FROM commissions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, rowid ASC"
	return s.queryCommissions(ctx, query, args...)
}

func (s *queries) queryCommissions(ctx context.Context, query string, args ...any) ([]referral.Commission, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commissions: %w", err)
	}
	defer rows.Close()

	var result []referral.Commission
	for rows.Next() {
		var (
			c                    referral.Commission
			amount               int64
			reason               sql.NullString
			createdAt, updatedAt string
			approvedAt           sql.NullString
		)
		err := rows.Scan(
			&c.ID, &c.AffiliateID, &c.TransactionID, &c.BuyerID, &c.Level, &c.Kind, &amount, &c.Status,
			&reason, &createdAt, &approvedAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commission: %w", err)
		}
		c.Amount = referral.Amount(amount)
		c.RejectionReason = reason.String
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("commission %s created_at: %w", c.ID, err)
		}
		if c.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
			return nil, fmt.Errorf("commission %s approved_at: %w", c.ID, err)
		}
		if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("commission %s updated_at: %w", c.ID, err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

const withdrawalColumns = `id, user_id, amount, status, bank_name, account_number, account_holder,
	rejection_reason, requested_at, approved_at, completed_at`

func (s *queries) InsertWithdrawal(ctx context.Context, w referral.Withdrawal) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO withdrawals (`+withdrawalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID,
		w.UserID,
		w.Amount,
		w.Status,
		w.Destination.BankName,
		w.Destination.AccountNumber,
		w.Destination.AccountHolder,
		nullString(w.RejectionReason),
		formatTime(w.RequestedAt),
		nullTime(w.ApprovedAt),
		nullTime(w.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert withdrawal: %w", err)
	}
	return nil
}

func (s *queries) GetWithdrawal(ctx context.Context, id referral.WithdrawalID) (*referral.Withdrawal, error) {
	list, err := s.queryWithdrawals(ctx, "SELECT "+withdrawalColumns+" FROM withdrawals WHERE id = ?", id)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s *queries) UpdateWithdrawal(ctx context.Context, w referral.Withdrawal) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE withdrawals SET
			status = ?,
			rejection_reason = ?,
			approved_at = ?,
			completed_at = ?
		WHERE id = ?`,
		w.Status,
		nullString(w.RejectionReason),
		nullTime(w.ApprovedAt),
		nullTime(w.CompletedAt),
		w.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal: %w", err)
	}
	return requireRow(res, "withdrawal", string(w.ID))
}

func (s *queries) ListWithdrawals(ctx context.Context, f referral.WithdrawalFilter) ([]referral.Withdrawal, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if f.ApprovedBefore != nil {
		where = append(where, "approved_at IS NOT NULL AND approved_at < ?")
		args = append(args, formatTime(*f.ApprovedBefore))
	}

	query := "SELECT " + withdrawalColumns + " FROM withdrawals"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY requested_at DESC, rowid DESC"
	return s.queryWithdrawals(ctx, query, args...)
}

func (s *queries) queryWithdrawals(ctx context.Context, query string, args ...any) ([]referral.Withdrawal, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawals: %w", err)
	}
	defer rows.Close()

	var result []referral.Withdrawal
	for rows.Next() {
		var (
			w                       referral.Withdrawal
			amount                  int64
			reason                  sql.NullString
			requestedAt             string
			approvedAt, completedAt sql.NullString
		)
		err := rows.Scan(
			&w.ID, &w.UserID, &amount, &w.Status,
			&w.Destination.BankName, &w.Destination.AccountNumber, &w.Destination.AccountHolder,
			&reason, &requestedAt, &approvedAt, &completedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal: %w", err)
		}
		w.Amount = referral.Amount(amount)
		w.RejectionReason = reason.String
		if w.RequestedAt, err = parseTime(requestedAt); err != nil {
			return nil, fmt.Errorf("withdrawal %s requested_at: %w", w.ID, err)
		}
		if w.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
			return nil, fmt.Errorf("withdrawal %s approved_at: %w", w.ID, err)
		}
		if w.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, fmt.Errorf("withdrawal %s completed_at: %w", w.ID, err)
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (s *queries) RecordActivationPayment(ctx context.Context, p referral.ActivationPayment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO activation_payments (id, affiliate_id, invoice_id, amount, paid_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.AffiliateID, p.InvoiceID, p.Amount, formatTime(p.PaidAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activation payment: %w", err)
	}
	return nil
}

func (s *queries) IsActivationPaid(ctx context.Context, id referral.AffiliateID) (bool, error) {
	var count int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM activation_payments WHERE affiliate_id = ?", id,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query activation payments: %w", err)
	}
	return count > 0, nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime fails on malformed stored timestamps rather than returning the
// zero time.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &referral.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

var _ referral.TxStore = (*Store)(nil)
