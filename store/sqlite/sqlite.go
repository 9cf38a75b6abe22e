/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore (contracts, payments, advances, consumptions)
  using SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on the consumptions table
  - Advances are updated (balance, status) but never deleted
  - Contracts are soft-deleted through their deleted flag

KEY TABLES:
  contracts:    Leases with monthly rent and charges
  payments:     Money-in events
  advances:     Up-front payments covering a window of months
  consumptions: One row per (advance, month) paid out of an advance

INDEXES:
  Uniqueness is enforced here, never by read-then-write checks:
  - idx_unique_advance_month:  one consumption per (advance_id, month)
  - idx_unique_advance_payment: one advance per funding payment
  - idx_unique_contract_number: one contract per number
  Violations are mapped to generic sentinel errors.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/advances.db")
  if err != nil {
      log.Fatal().Err(err).Msg("open store")
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
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

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/rent-advance/generic"
)

// Store implements generic.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
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

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		number TEXT,
		monthly_rent TEXT NOT NULL,
		monthly_charges TEXT NOT NULL DEFAULT '0',
		start_date TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		terminated INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_contract_number
		ON contracts(number) WHERE number IS NOT NULL;

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		amount TEXT NOT NULL,
		paid_on TEXT NOT NULL,
		month TEXT NOT NULL,
		payment_type TEXT NOT NULL,
		status TEXT NOT NULL,
		reference TEXT,
		created_at TEXT NOT NULL
	);

	-- Resolver hot path: validated rent payments of a contract by month
	CREATE INDEX IF NOT EXISTS idx_payments_contract_type_month
		ON payments(contract_id, payment_type, status, month);

	CREATE TABLE IF NOT EXISTS advances (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		payment_id TEXT REFERENCES payments(id),
		amount TEXT NOT NULL,
		monthly_rent TEXT NOT NULL,
		advance_date TEXT NOT NULL,
		status TEXT NOT NULL,
		remaining_balance TEXT NOT NULL,
		first_month TEXT NOT NULL,
		months_covered INTEGER NOT NULL,
		remainder TEXT NOT NULL,
		exhausted_at TEXT,
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one advance per funding payment
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_advance_payment
		ON advances(payment_id) WHERE payment_id IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_advances_contract_status
		ON advances(contract_id, status, advance_date);

	CREATE TABLE IF NOT EXISTS consumptions (
		id TEXT PRIMARY KEY,
		advance_id TEXT NOT NULL REFERENCES advances(id),
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		month TEXT NOT NULL,
		amount TEXT NOT NULL,
		remaining_after TEXT NOT NULL,
		payment_id TEXT,
		source TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: a month is consumed at most once per advance
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_advance_month
		ON consumptions(advance_id, month);

	CREATE INDEX IF NOT EXISTS idx_consumptions_contract_month
		ON consumptions(contract_id, month);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CONTRACTS
// =============================================================================

func (s *Store) SaveContract(ctx context.Context, c generic.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveContract(ctx, s.db, c)
}

func saveContract(ctx context.Context, q querier, c generic.Contract) error {
	query := `
		INSERT INTO contracts
		(id, number, monthly_rent, monthly_charges, start_date, active, terminated, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			monthly_rent = excluded.monthly_rent,
			monthly_charges = excluded.monthly_charges,
			start_date = excluded.start_date,
			active = excluded.active,
			terminated = excluded.terminated,
			deleted = excluded.deleted,
			updated_at = excluded.updated_at
	`
	_, err := q.ExecContext(ctx, query,
		c.ID,
		nullString(c.Number),
		c.MonthlyRent.String(),
		c.MonthlyCharges.String(),
		formatDate(c.StartDate),
		c.Active,
		c.Terminated,
		c.Deleted,
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrDuplicateContractNumber
		}
		return fmt.Errorf("failed to save contract: %w", err)
	}
	return nil
}

const contractColumns = `id, number, monthly_rent, monthly_charges, start_date, active, terminated, deleted, created_at, updated_at`

func (s *Store) GetContract(ctx context.Context, id generic.ContractID) (*generic.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getContract(ctx, s.db, id)
}

func getContract(ctx context.Context, q querier, id generic.ContractID) (*generic.Contract, error) {
	row := q.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id)
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrContractNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListContracts(ctx context.Context) ([]generic.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listContracts(ctx, s.db)
}

func listContracts(ctx context.Context, q querier) ([]generic.Contract, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE deleted = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts: %w", err)
	}
	defer rows.Close()

	var contracts []generic.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

func scanContract(row scanner) (generic.Contract, error) {
	var (
		c         generic.Contract
		number    sql.NullString
		rent      string
		charges   string
		startDate sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(&c.ID, &number, &rent, &charges, &startDate,
		&c.Active, &c.Terminated, &c.Deleted, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan contract: %w", err)
	}
	c.Number = number.String
	dec := columnDecoder{table: "contracts"}
	c.MonthlyRent = dec.decimal("monthly_rent", rent)
	c.MonthlyCharges = dec.decimal("monthly_charges", charges)
	c.StartDate = dec.date("start_date", startDate.String)
	c.CreatedAt = dec.time("created_at", createdAt)
	c.UpdatedAt = dec.time("updated_at", updatedAt)
	if dec.err != nil {
		return c, fmt.Errorf("failed to scan contract %s: %w", c.ID, dec.err)
	}
	return c, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) SavePayment(ctx context.Context, p generic.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePayment(ctx, s.db, p)
}

func savePayment(ctx context.Context, q querier, p generic.Payment) error {
	query := `
		INSERT INTO payments
		(id, contract_id, amount, paid_on, month, payment_type, status, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			paid_on = excluded.paid_on,
			month = excluded.month,
			payment_type = excluded.payment_type,
			status = excluded.status,
			reference = excluded.reference
	`
	_, err := q.ExecContext(ctx, query,
		p.ID,
		p.ContractID,
		p.Amount.String(),
		formatDate(p.Date),
		p.PaidMonth().DateString(),
		p.Type,
		p.Status,
		nullString(p.Reference),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

const paymentColumns = `id, contract_id, amount, paid_on, month, payment_type, status, reference, created_at`

func (s *Store) GetPayment(ctx context.Context, id generic.PaymentID) (*generic.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPayment(ctx, s.db, id)
}

func getPayment(ctx context.Context, q querier, id generic.PaymentID) (*generic.Payment, error) {
	row := q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPayments(ctx context.Context, contractID generic.ContractID, filter generic.PaymentFilter) ([]generic.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPayments(ctx, s.db, contractID, filter)
}

func listPayments(ctx context.Context, q querier, contractID generic.ContractID, filter generic.PaymentFilter) ([]generic.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE contract_id = ?`
	args := []any{contractID}
	if filter.Type != "" {
		query += ` AND payment_type = ?`
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if !filter.From.IsZero() {
		query += ` AND month >= ?`
		args = append(args, filter.From.DateString())
	}
	query += ` ORDER BY month ASC, paid_on ASC, id ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []generic.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPayment(row scanner) (generic.Payment, error) {
	var (
		p         generic.Payment
		amount    string
		paidOn    string
		month     string
		reference sql.NullString
		createdAt string
	)
	err := row.Scan(&p.ID, &p.ContractID, &amount, &paidOn, &month,
		&p.Type, &p.Status, &reference, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}
	dec := columnDecoder{table: "payments"}
	p.Amount = dec.decimal("amount", amount)
	p.Date = dec.date("paid_on", paidOn)
	p.Month = dec.month("month", month)
	p.Reference = reference.String
	p.CreatedAt = dec.time("created_at", createdAt)
	if dec.err != nil {
		return p, fmt.Errorf("failed to scan payment %s: %w", p.ID, dec.err)
	}
	return p, nil
}

// =============================================================================
// ADVANCES
// =============================================================================

func (s *Store) CreateAdvance(ctx context.Context, a generic.Advance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createAdvance(ctx, s.db, a)
}

func createAdvance(ctx context.Context, q querier, a generic.Advance) error {
	query := `
		INSERT INTO advances
		(id, contract_id, payment_id, amount, monthly_rent, advance_date, status, remaining_balance,
		 first_month, months_covered, remainder, exhausted_at, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		a.ID,
		a.ContractID,
		nullString(string(a.PaymentID)),
		a.Amount.String(),
		a.MonthlyRent.String(),
		formatDate(a.AdvanceDate),
		a.Status,
		a.RemainingBalance.String(),
		a.FirstMonth.DateString(),
		a.MonthsCovered,
		a.Remainder.String(),
		nullTime(a.ExhaustedAt),
		nullString(a.Notes),
		formatTime(a.CreatedAt),
		formatTime(a.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "payment_id") {
			return generic.ErrDuplicateAdvanceForPayment
		}
		return fmt.Errorf("failed to create advance: %w", err)
	}
	return nil
}

func (s *Store) UpdateAdvance(ctx context.Context, a generic.Advance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateAdvance(ctx, s.db, a)
}

// updateAdvance touches only the mutable columns.
func updateAdvance(ctx context.Context, q querier, a generic.Advance) error {
	res, err := q.ExecContext(ctx, `
		UPDATE advances
		SET status = ?, remaining_balance = ?, exhausted_at = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`,
		a.Status,
		a.RemainingBalance.String(),
		nullTime(a.ExhaustedAt),
		nullString(a.Notes),
		formatTime(a.UpdatedAt),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update advance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrAdvanceNotFound
	}
	return nil
}

const advanceColumns = `id, contract_id, payment_id, amount, monthly_rent, advance_date, status, remaining_balance,
	first_month, months_covered, remainder, exhausted_at, notes, created_at, updated_at`

func (s *Store) GetAdvance(ctx context.Context, id generic.AdvanceID) (*generic.Advance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAdvance(ctx, s.db, `id = ?`, id)
}

func (s *Store) GetAdvanceByPayment(ctx context.Context, paymentID generic.PaymentID) (*generic.Advance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAdvance(ctx, s.db, `payment_id = ?`, paymentID)
}

func getAdvance(ctx context.Context, q querier, where string, arg any) (*generic.Advance, error) {
	row := q.QueryRowContext(ctx, `SELECT `+advanceColumns+` FROM advances WHERE `+where, arg)
	a, err := scanAdvance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrAdvanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListAdvances(ctx context.Context, contractID generic.ContractID, statuses ...generic.AdvanceStatus) ([]generic.Advance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAdvances(ctx, s.db, contractID, statuses)
}

func listAdvances(ctx context.Context, q querier, contractID generic.ContractID, statuses []generic.AdvanceStatus) ([]generic.Advance, error) {
	query := `SELECT ` + advanceColumns + ` FROM advances WHERE contract_id = ?`
	args := []any{contractID}
	if clause, statusArgs := inClause("status", statuses); clause != "" {
		query += ` AND ` + clause
		args = append(args, statusArgs...)
	}
	query += ` ORDER BY advance_date ASC, id ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query advances: %w", err)
	}
	defer rows.Close()

	var advances []generic.Advance
	for rows.Next() {
		a, err := scanAdvance(rows)
		if err != nil {
			return nil, err
		}
		advances = append(advances, a)
	}
	return advances, rows.Err()
}

func (s *Store) ListContractsWithAdvances(ctx context.Context, statuses ...generic.AdvanceStatus) ([]generic.ContractID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listContractsWithAdvances(ctx, s.db, statuses)
}

func listContractsWithAdvances(ctx context.Context, q querier, statuses []generic.AdvanceStatus) ([]generic.ContractID, error) {
	query := `SELECT DISTINCT contract_id FROM advances`
	var args []any
	if clause, statusArgs := inClause("status", statuses); clause != "" {
		query += ` WHERE ` + clause
		args = statusArgs
	}
	query += ` ORDER BY contract_id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contracts with advances: %w", err)
	}
	defer rows.Close()

	var ids []generic.ContractID
	for rows.Next() {
		var id generic.ContractID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan contract id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanAdvance(row scanner) (generic.Advance, error) {
	var (
		a           generic.Advance
		paymentID   sql.NullString
		amount      string
		rent        string
		advanceDate string
		remaining   string
		firstMonth  string
		remainder   string
		exhaustedAt sql.NullString
		notes       sql.NullString
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(&a.ID, &a.ContractID, &paymentID, &amount, &rent, &advanceDate,
		&a.Status, &remaining, &firstMonth, &a.MonthsCovered, &remainder,
		&exhaustedAt, &notes, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan advance: %w", err)
	}
	a.PaymentID = generic.PaymentID(paymentID.String)
	dec := columnDecoder{table: "advances"}
	a.Amount = dec.decimal("amount", amount)
	a.MonthlyRent = dec.decimal("monthly_rent", rent)
	a.AdvanceDate = dec.date("advance_date", advanceDate)
	a.RemainingBalance = dec.decimal("remaining_balance", remaining)
	a.FirstMonth = dec.month("first_month", firstMonth)
	a.Remainder = dec.decimal("remainder", remainder)
	if exhaustedAt.Valid {
		t := dec.time("exhausted_at", exhaustedAt.String)
		a.ExhaustedAt = &t
	}
	a.Notes = notes.String
	a.CreatedAt = dec.time("created_at", createdAt)
	a.UpdatedAt = dec.time("updated_at", updatedAt)
	if dec.err != nil {
		return a, fmt.Errorf("failed to scan advance %s: %w", a.ID, dec.err)
	}
	return a, nil
}

// =============================================================================
// CONSUMPTIONS
// =============================================================================

func (s *Store) InsertConsumption(ctx context.Context, c generic.Consumption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertConsumption(ctx, s.db, c)
}

func insertConsumption(ctx context.Context, q querier, c generic.Consumption) error {
	query := `
		INSERT INTO consumptions
		(id, advance_id, contract_id, month, amount, remaining_after, payment_id, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		c.ID,
		c.AdvanceID,
		c.ContractID,
		c.Month.DateString(),
		c.Amount.String(),
		c.RemainingAfter.String(),
		nullString(string(c.PaymentID)),
		c.Source,
		formatTime(c.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.ErrAlreadyConsumed
		}
		return fmt.Errorf("failed to insert consumption: %w", err)
	}
	return nil
}

func (s *Store) ListConsumptions(ctx context.Context, advanceID generic.AdvanceID) ([]generic.Consumption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listConsumptions(ctx, s.db, advanceID)
}

func listConsumptions(ctx context.Context, q querier, advanceID generic.AdvanceID) ([]generic.Consumption, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, advance_id, contract_id, month, amount, remaining_after, payment_id, source, created_at
		FROM consumptions
		WHERE advance_id = ?
		ORDER BY month ASC
	`, advanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query consumptions: %w", err)
	}
	defer rows.Close()

	var consumptions []generic.Consumption
	for rows.Next() {
		var (
			c         generic.Consumption
			month     string
			amount    string
			remaining string
			paymentID sql.NullString
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.AdvanceID, &c.ContractID, &month, &amount,
			&remaining, &paymentID, &c.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan consumption: %w", err)
		}
		dec := columnDecoder{table: "consumptions"}
		c.Month = dec.month("month", month)
		c.Amount = dec.decimal("amount", amount)
		c.RemainingAfter = dec.decimal("remaining_after", remaining)
		c.PaymentID = generic.PaymentID(paymentID.String)
		c.CreatedAt = dec.time("created_at", createdAt)
		if dec.err != nil {
			return nil, fmt.Errorf("failed to scan consumption %s: %w", c.ID, dec.err)
		}
		consumptions = append(consumptions, c)
	}
	return consumptions, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
// Reads inside fn go through the same transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveContract(ctx context.Context, c generic.Contract) error {
	return saveContract(ctx, ts.tx, c)
}

func (ts *txStore) GetContract(ctx context.Context, id generic.ContractID) (*generic.Contract, error) {
	return getContract(ctx, ts.tx, id)
}

func (ts *txStore) ListContracts(ctx context.Context) ([]generic.Contract, error) {
	return listContracts(ctx, ts.tx)
}

func (ts *txStore) SavePayment(ctx context.Context, p generic.Payment) error {
	return savePayment(ctx, ts.tx, p)
}

func (ts *txStore) GetPayment(ctx context.Context, id generic.PaymentID) (*generic.Payment, error) {
	return getPayment(ctx, ts.tx, id)
}

func (ts *txStore) ListPayments(ctx context.Context, contractID generic.ContractID, filter generic.PaymentFilter) ([]generic.Payment, error) {
	return listPayments(ctx, ts.tx, contractID, filter)
}

func (ts *txStore) CreateAdvance(ctx context.Context, a generic.Advance) error {
	return createAdvance(ctx, ts.tx, a)
}

func (ts *txStore) UpdateAdvance(ctx context.Context, a generic.Advance) error {
	return updateAdvance(ctx, ts.tx, a)
}

func (ts *txStore) GetAdvance(ctx context.Context, id generic.AdvanceID) (*generic.Advance, error) {
	return getAdvance(ctx, ts.tx, `id = ?`, id)
}

func (ts *txStore) GetAdvanceByPayment(ctx context.Context, paymentID generic.PaymentID) (*generic.Advance, error) {
	return getAdvance(ctx, ts.tx, `payment_id = ?`, paymentID)
}

func (ts *txStore) ListAdvances(ctx context.Context, contractID generic.ContractID, statuses ...generic.AdvanceStatus) ([]generic.Advance, error) {
	return listAdvances(ctx, ts.tx, contractID, statuses)
}

func (ts *txStore) ListContractsWithAdvances(ctx context.Context, statuses ...generic.AdvanceStatus) ([]generic.ContractID, error) {
	return listContractsWithAdvances(ctx, ts.tx, statuses)
}

func (ts *txStore) InsertConsumption(ctx context.Context, c generic.Consumption) error {
	return insertConsumption(ctx, ts.tx, c)
}

func (ts *txStore) ListConsumptions(ctx context.Context, advanceID generic.AdvanceID) ([]generic.Consumption, error) {
	return listConsumptions(ctx, ts.tx, advanceID)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"consumptions", "advances", "payments", "contracts"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func inClause(column string, statuses []generic.AdvanceStatus) (string, []any) {
	if len(statuses) == 0 {
		return "", nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	return column + " IN (" + strings.Join(placeholders, ", ") + ")", args
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

// columnDecoder parses the text columns of one row and keeps the first
// failure, so a corrupt value surfaces as an error instead of a zero.
type columnDecoder struct {
	table string
	err   error
}

func (d *columnDecoder) fail(column, value string, err error) {
	if d.err == nil {
		d.err = fmt.Errorf("corrupt %s.%s value %q: %w", d.table, column, value, err)
	}
}

// decimal reads a value written by this store; the column is always a
// decimal.String() rendering.
func (d *columnDecoder) decimal(column, s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		d.fail(column, s, err)
		return decimal.Zero
	}
	return v
}

func (d *columnDecoder) month(column, s string) generic.Month {
	m, err := generic.ParseMonth(s)
	if err != nil {
		d.fail(column, s, err)
	}
	return m
}

// date allows an empty column for optional dates.
func (d *columnDecoder) date(column, s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		d.fail(column, s, err)
	}
	return t
}

func (d *columnDecoder) time(column, s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		d.fail(column, s, err)
	}
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
