// Package storage provides SQLite-backed persistence for tracked accounts,
// detection rules, trade events, and emitted alerts.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jwo-labs/vaultwatch/internal/models"
	"github.com/jwo-labs/vaultwatch/internal/rules"
)

const rulesKey = "detection_rules"

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/vaultwatch/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "vaultwatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			address              TEXT PRIMARY KEY,
			name                 TEXT NOT NULL,
			kind                 TEXT NOT NULL,
			active               INTEGER NOT NULL DEFAULT 1,
			last_checked         INTEGER NOT NULL DEFAULT 0,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			created_at           INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trade_events (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			account      TEXT NOT NULL,
			account_name TEXT NOT NULL,
			instrument   TEXT NOT NULL,
			category     TEXT,
			action       TEXT NOT NULL,
			size_delta   TEXT NOT NULL,
			notional     TEXT NOT NULL,
			event_ts     INTEGER NOT NULL,
			snapshot_ts  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id           TEXT PRIMARY KEY,
			scope        TEXT NOT NULL,
			scope_key    TEXT NOT NULL,
			participants INTEGER NOT NULL,
			total_value  TEXT NOT NULL,
			payload      TEXT NOT NULL,
			group_json   TEXT NOT NULL,
			detected_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_events_ts ON trade_events(event_ts)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_events_account ON trade_events(account)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_detected_at ON alerts(detected_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ───────────────────────── rule store ─────────────────────────

// SaveRules persists a committed rule set. Implements rules.Store.
func (s *Storage) SaveRules(r rules.Rules) error {
	blob, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, rulesKey, string(blob),
	); err != nil {
		return fmt.Errorf("failed to save rules: %w", err)
	}
	return nil
}

// LoadRules returns the persisted rule set, or nil when none exists yet.
func (s *Storage) LoadRules() (*rules.Rules, error) {
	var blob string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, rulesKey).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	var r rules.Rules
	if err := json.Unmarshal([]byte(blob), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}
	return &r, nil
}

// ───────────────────────── accounts ─────────────────────────

// UpsertAccount adds or updates a tracked account.
func (s *Storage) UpsertAccount(a *models.TrackedAccount) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid account: %w", err)
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO accounts (address, name, kind, active, last_checked, consecutive_failures, created_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(address) DO UPDATE SET
			name=excluded.name, kind=excluded.kind, active=excluded.active`,
		a.Address, a.Name, string(a.Kind), boolToInt(a.Active),
		a.LastChecked.UnixNano(), a.ConsecutiveFailures, createdAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// ListAccounts returns every tracked account, active or not.
func (s *Storage) ListAccounts() ([]*models.TrackedAccount, error) {
	rows, err := s.db.Query(`
		SELECT address, name, kind, active, last_checked, consecutive_failures, created_at
		FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.TrackedAccount
	for rows.Next() {
		var a models.TrackedAccount
		var kind string
		var active int
		var lastCheckedNano, createdAtNano int64
		if err := rows.Scan(&a.Address, &a.Name, &kind, &active, &lastCheckedNano, &a.ConsecutiveFailures, &createdAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.Kind = models.AccountKind(kind)
		a.Active = active != 0
		if lastCheckedNano > 0 {
			a.LastChecked = time.Unix(0, lastCheckedNano)
		}
		a.CreatedAt = time.Unix(0, createdAtNano)
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

// SetAccountActive toggles an account's active flag.
func (s *Storage) SetAccountActive(address string, active bool) error {
	res, err := s.db.Exec(`UPDATE accounts SET active=? WHERE address=?`, boolToInt(active), address)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account not found: %s", address)
	}
	return nil
}

// DeleteAccount removes a tracked account. Its trade history is kept until
// pruned by age.
func (s *Storage) DeleteAccount(address string) error {
	res, err := s.db.Exec(`DELETE FROM accounts WHERE address=?`, address)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account not found: %s", address)
	}
	return nil
}

// UpdateAccountHealth records the outcome of a poll cycle for an account.
func (s *Storage) UpdateAccountHealth(address string, lastChecked time.Time, consecutiveFailures int) error {
	_, err := s.db.Exec(`UPDATE accounts SET last_checked=?, consecutive_failures=? WHERE address=?`,
		lastChecked.UnixNano(), consecutiveFailures, address)
	if err != nil {
		return fmt.Errorf("failed to update account health: %w", err)
	}
	return nil
}

// ───────────────────────── history ─────────────────────────

// InsertTradeEvent appends one accepted trade event to the history.
func (s *Storage) InsertTradeEvent(ev *models.TradeEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO trade_events
			(account, account_name, instrument, category, action, size_delta, notional, event_ts, snapshot_ts)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		ev.Account, ev.AccountName, ev.Instrument, ev.Category, string(ev.Action),
		ev.SizeDelta.String(), ev.Notional.String(),
		ev.Timestamp.UnixNano(), ev.SnapshotAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade event: %w", err)
	}
	return nil
}

// AlertRecord is one persisted emitted group.
type AlertRecord struct {
	ID           string
	Scope        models.Scope
	Key          string
	Participants int
	TotalValue   string
	Payload      string
	DetectedAt   time.Time
}

// InsertAlert records an emitted correlation group with its formatted payload.
func (s *Storage) InsertAlert(g *models.CorrelationGroup, payload string) error {
	blob, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal group: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO alerts (id, scope, scope_key, participants, total_value, payload, group_json, detected_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		g.ID, string(g.Scope), g.Key, len(g.Participants), g.TotalValue.String(),
		payload, string(blob), g.DetectedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// RecentAlerts returns alerts detected at or after since, newest first.
func (s *Storage) RecentAlerts(since time.Time) ([]AlertRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, scope, scope_key, participants, total_value, payload, detected_at
		FROM alerts WHERE detected_at >= ? ORDER BY detected_at DESC`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		var rec AlertRecord
		var scope string
		var detectedNano int64
		if err := rows.Scan(&rec.ID, &scope, &rec.Key, &rec.Participants, &rec.TotalValue, &rec.Payload, &detectedNano); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		rec.Scope = models.Scope(scope)
		rec.DetectedAt = time.Unix(0, detectedNano)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneHistory deletes trade events and alerts older than the cutoff.
func (s *Storage) PruneHistory(olderThan time.Time) error {
	cutoff := olderThan.UnixNano()
	if _, err := s.db.Exec(`DELETE FROM trade_events WHERE event_ts < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to prune trade events: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM alerts WHERE detected_at < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to prune alerts: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
