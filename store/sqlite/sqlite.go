/*
Package sqlite provides the SQLite-backed implementation of the record store.

PURPOSE:
  Implements ingest.RecordStore using SQLite. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  organizations, departments, positions, sites:  reference data prefetched
                                                 into per-import lookup maps
  employees, beneficiaries:                      staff import targets
  employments:                                   salary source for funding
  grant_items, allocations:                      funding import targets

UNIQUENESS:
  Composite uniqueness is enforced twice: in the pipeline via the duplicate
  tracker (friendly row errors) and at the schema level via unique indexes
  (the last line of defense; a violation rolls the whole chunk back).

TRANSACTIONS:
  WithTx wraps a chunk's batched writes in one BEGIN/COMMIT. Any error on
  any row rolls back the entire chunk; this is the store half of the
  pipeline's per-chunk atomicity guarantee.

WAL MODE:
  SQLite is opened with WAL for better concurrency between the read-only
  prefetch queries and chunk commits.

USAGE:
  store, err := sqlite.New("./data/ingest.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production use a proper migration
  tool with versioned migrations.

SEE ALSO:
  - ingest/store.go: Interface definitions
  - ingest/chunk.go: The only caller of WithTx
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/ingest-engine/ingest"
)

// Store implements ingest.RecordStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Reference data (prefetched once per import)
	CREATE TABLE IF NOT EXISTS organizations (
		code TEXT PRIMARY KEY
	);
	CREATE TABLE IF NOT EXISTS departments (
		name TEXT PRIMARY KEY
	);
	CREATE TABLE IF NOT EXISTS positions (
		name TEXT PRIMARY KEY
	);
	CREATE TABLE IF NOT EXISTS sites (
		name TEXT PRIMARY KEY
	);

	-- Imported staff records
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		org TEXT NOT NULL,
		staff_id TEXT NOT NULL,
		first_name TEXT NOT NULL,
		last_name TEXT,
		gender TEXT,
		date_of_birth TEXT,
		marital_status TEXT,
		spouse_name TEXT,
		id_type TEXT,
		id_number TEXT,
		id_issue_date TEXT,
		id_expiry_date TEXT,
		phone TEXT,
		military_service INTEGER,          -- NULL when source text was unrecognized
		department TEXT,
		position TEXT,
		site TEXT,
		hire_date TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- The composite key the duplicate tracker works with
	CREATE UNIQUE INDEX IF NOT EXISTS idx_employees_org_staff
		ON employees(org, staff_id);

	CREATE TABLE IF NOT EXISTS beneficiaries (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL REFERENCES employees(id),
		name TEXT NOT NULL,
		relationship TEXT,
		share_percent TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_beneficiaries_employee
		ON beneficiaries(employee_id);

	-- Employment records (salary source for funding allocations)
	CREATE TABLE IF NOT EXISTS employments (
		id TEXT PRIMARY KEY,
		org TEXT NOT NULL,
		staff_id TEXT NOT NULL,
		position TEXT,
		department TEXT,
		site TEXT,
		start_date TEXT,
		end_date TEXT,
		probation_end TEXT,
		salary TEXT NOT NULL,
		probation_salary TEXT,
		active INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_employments_org_staff
		ON employments(org, staff_id) ;

	-- Grant budget lines
	CREATE TABLE IF NOT EXISTS grant_items (
		id TEXT PRIMARY KEY,               -- "CODE/LINE"
		grant_code TEXT NOT NULL,
		line_item TEXT NOT NULL,
		valid_from TEXT,
		valid_to TEXT,
		active INTEGER NOT NULL DEFAULT 1
	);

	-- Funding allocations (upserted by the funding profile)
	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		org TEXT NOT NULL,
		staff_id TEXT NOT NULL,
		employment_id TEXT NOT NULL REFERENCES employments(id),
		grant_item_id TEXT NOT NULL REFERENCES grant_items(id),
		fte TEXT NOT NULL,
		allocated_amount TEXT NOT NULL,
		start_date TEXT,
		end_date TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_allocations_key
		ON allocations(org, staff_id, grant_item_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Default organizations so a fresh database accepts the common orgs.
	_, err := s.db.Exec(`INSERT OR IGNORE INTO organizations (code) VALUES
		('SMRU'), ('BHF'), ('MORU'), ('CCU')`)
	return err
}

// =============================================================================
// PREFETCH QUERIES (read-only, once per import)
// =============================================================================

func (s *Store) Organizations(ctx context.Context) ([]string, error) {
	return s.stringColumn(ctx, `SELECT code FROM organizations ORDER BY code`)
}

func (s *Store) Departments(ctx context.Context) ([]string, error) {
	return s.stringColumn(ctx, `SELECT name FROM departments ORDER BY name`)
}

func (s *Store) Positions(ctx context.Context) ([]string, error) {
	return s.stringColumn(ctx, `SELECT name FROM positions ORDER BY name`)
}

func (s *Store) Sites(ctx context.Context) ([]string, error) {
	return s.stringColumn(ctx, `SELECT name FROM sites ORDER BY name`)
}

func (s *Store) EmployeeKeys(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT org, staff_id, id FROM employees`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[string]string)
	for rows.Next() {
		var org, staffID, id string
		if err := rows.Scan(&org, &staffID, &id); err != nil {
			return nil, err
		}
		keys[ingest.CompositeKey(org, staffID)] = id
	}
	return keys, rows.Err()
}

func (s *Store) ActiveEmployments(ctx context.Context) (map[string]ingest.Employment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org, staff_id, position, department, site,
		       COALESCE(start_date, ''), COALESCE(end_date, ''), COALESCE(probation_end, ''),
		       salary, COALESCE(probation_salary, '')
		FROM employments WHERE active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]ingest.Employment)
	for rows.Next() {
		var e ingest.Employment
		var position, department, site sql.NullString
		var salary, probationSalary string
		if err := rows.Scan(&e.ID, &e.Org, &e.StaffID, &position, &department, &site,
			&e.StartDate, &e.EndDate, &e.ProbationEnd, &salary, &probationSalary); err != nil {
			return nil, err
		}
		e.Position, e.Department, e.Site = position.String, department.String, site.String
		e.Active = true
		if e.Salary, err = parseDecimal(salary); err != nil {
			return nil, fmt.Errorf("employment %s: bad salary: %w", e.ID, err)
		}
		if probationSalary != "" {
			if e.ProbationSalary, err = parseDecimal(probationSalary); err != nil {
				return nil, fmt.Errorf("employment %s: bad probation salary: %w", e.ID, err)
			}
		}
		out[ingest.CompositeKey(e.Org, e.StaffID)] = e
	}
	return out, rows.Err()
}

func (s *Store) GrantItems(ctx context.Context) (map[string]ingest.GrantItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, grant_code, line_item, COALESCE(valid_from, ''), COALESCE(valid_to, ''), active
		FROM grant_items`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]ingest.GrantItem)
	for rows.Next() {
		var g ingest.GrantItem
		var active int
		if err := rows.Scan(&g.ID, &g.GrantCode, &g.LineItem, &g.ValidFrom, &g.ValidTo, &active); err != nil {
			return nil, err
		}
		g.Active = active == 1
		out[g.ID] = g
	}
	return out, rows.Err()
}

func (s *Store) AllocationKeys(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT org, staff_id, grant_item_id, id FROM allocations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[string]string)
	for rows.Next() {
		var org, staffID, grantItemID, id string
		if err := rows.Scan(&org, &staffID, &grantItemID, &id); err != nil {
			return nil, err
		}
		keys[ingest.CompositeKey(org, staffID, grantItemID)] = id
	}
	return keys, rows.Err()
}

// =============================================================================
// TRANSACTIONAL WRITES
// =============================================================================

// WithTx executes fn within a database transaction. The deferred rollback is
// a no-op after a successful commit, and the guard guarantees release on
// every exit path.
func (s *Store) WithTx(ctx context.Context, fn func(ingest.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txWriter{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txWriter implements ingest.Writer against one open transaction.
type txWriter struct {
	tx *sql.Tx
}

func (w *txWriter) InsertEmployee(ctx context.Context, e ingest.Employee) error {
	var military any // NULL when the source text was unrecognized
	if e.MilitaryService != nil {
		if *e.MilitaryService {
			military = 1
		} else {
			military = 0
		}
	}
	_, err := w.tx.ExecContext(ctx, `
		INSERT INTO employees (id, org, staff_id, first_name, last_name, gender,
			date_of_birth, marital_status, spouse_name, id_type, id_number,
			id_issue_date, id_expiry_date, phone, military_service,
			department, position, site, hire_date, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Org, e.StaffID, e.FirstName, e.LastName, e.Gender,
		e.DateOfBirth, e.MaritalStatus, e.SpouseName, e.IDType, e.IDNumber,
		e.IDIssueDate, e.IDExpiryDate, e.Phone, military,
		e.Department, e.Position, e.Site, e.HireDate, e.CreatedBy,
		e.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert employee %s/%s: %w", e.Org, e.StaffID, err)
	}
	return nil
}

func (w *txWriter) InsertBeneficiaries(ctx context.Context, employeeID string, bs []ingest.Beneficiary) error {
	for _, b := range bs {
		_, err := w.tx.ExecContext(ctx, `
			INSERT INTO beneficiaries (id, employee_id, name, relationship, share_percent)
			VALUES (?, ?, ?, ?, ?)`,
			b.ID, employeeID, b.Name, b.Relationship, b.SharePercent.String())
		if err != nil {
			return fmt.Errorf("insert beneficiary for employee %s: %w", employeeID, err)
		}
	}
	return nil
}

func (w *txWriter) InsertAllocation(ctx context.Context, a ingest.Allocation) error {
	_, err := w.tx.ExecContext(ctx, `
		INSERT INTO allocations (id, org, staff_id, employment_id, grant_item_id,
			fte, allocated_amount, start_date, end_date, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Org, a.StaffID, a.EmploymentID, a.GrantItemID,
		a.FTE.String(), a.AllocatedAmount.String(), a.StartDate, a.EndDate,
		a.CreatedBy, a.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert allocation %s/%s/%s: %w", a.Org, a.StaffID, a.GrantItemID, err)
	}
	return nil
}

func (w *txWriter) UpdateAllocation(ctx context.Context, a ingest.Allocation) error {
	res, err := w.tx.ExecContext(ctx, `
		UPDATE allocations
		SET employment_id = ?, fte = ?, allocated_amount = ?, start_date = ?, end_date = ?
		WHERE org = ? AND staff_id = ? AND grant_item_id = ?`,
		a.EmploymentID, a.FTE.String(), a.AllocatedAmount.String(), a.StartDate, a.EndDate,
		a.Org, a.StaffID, a.GrantItemID)
	if err != nil {
		return fmt.Errorf("update allocation %s/%s/%s: %w", a.Org, a.StaffID, a.GrantItemID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update allocation %s/%s/%s: no existing row", a.Org, a.StaffID, a.GrantItemID)
	}
	return nil
}

// =============================================================================
// REFERENCE DATA MAINTENANCE (seeding, admin, tests)
// =============================================================================

func (s *Store) SaveOrganization(ctx context.Context, code string) error {
	return s.upsertName(ctx, `INSERT OR IGNORE INTO organizations (code) VALUES (?)`, code)
}

func (s *Store) SaveDepartment(ctx context.Context, name string) error {
	return s.upsertName(ctx, `INSERT OR IGNORE INTO departments (name) VALUES (?)`, name)
}

func (s *Store) SavePosition(ctx context.Context, name string) error {
	return s.upsertName(ctx, `INSERT OR IGNORE INTO positions (name) VALUES (?)`, name)
}

func (s *Store) SaveSite(ctx context.Context, name string) error {
	return s.upsertName(ctx, `INSERT OR IGNORE INTO sites (name) VALUES (?)`, name)
}

func (s *Store) SaveGrantItem(ctx context.Context, g ingest.GrantItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	if g.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO grant_items (id, grant_code, line_item, valid_from, valid_to, active)
		VALUES (?, ?, ?, ?, ?, ?)`,
		g.ID, g.GrantCode, g.LineItem, g.ValidFrom, g.ValidTo, active)
	return err
}

func (s *Store) SaveEmployment(ctx context.Context, e ingest.Employment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	if e.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO employments (id, org, staff_id, position, department, site,
			start_date, end_date, probation_end, salary, probation_salary, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Org, e.StaffID, e.Position, e.Department, e.Site,
		e.StartDate, e.EndDate, e.ProbationEnd, e.Salary.String(), e.ProbationSalary.String(), active)
	return err
}

// =============================================================================
// COUNTS (verification and tests)
// =============================================================================

func (s *Store) CountEmployees(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM employees`)
}

func (s *Store) CountBeneficiaries(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM beneficiaries`)
}

func (s *Store) CountAllocations(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM allocations`)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) stringColumn(ctx context.Context, query string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) upsertName(ctx context.Context, query, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, query, value)
	return err
}

func (s *Store) count(ctx context.Context, query string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, query).Scan(&n)
	return n, err
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
