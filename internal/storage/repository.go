package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"ledgerd/internal/core"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrAlreadyMaterialized is returned by MaterializeRule when the guarded
// advance matches zero rows: another pass has already posted the occurrence
// this pass read. The caller treats it as a benign skip.
var ErrAlreadyMaterialized = errors.New("rule already materialized for this due instant")

// SQLiteRepository is the persistence collaborator: rule store, ledger sink
// and notification inbox over a single local database. Instants are stored
// as unix milliseconds in UTC.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// runMigrations brings the schema up to date from the embedded migration
// files. It opens its own connection; the migrator closes it.
func runMigrations(dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open schema connection: %w", err)
	}
	defer db.Close()

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("wrap sqlite connection: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// CreateRule inserts a rule. NextDue is seeded with StartAt when the caller
// left it zero, so the first occurrence materializes at the start instant.
func (r *SQLiteRepository) CreateRule(ctx context.Context, rule core.Rule) (int64, error) {
	if rule.NextDue.IsZero() {
		rule.NextDue = rule.StartAt
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO recurring_rules
			(name, amount_cents, category_id, account_id, is_income, frequency,
			 start_at, end_at, is_active, last_executed, next_due, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, NULL, ?, ?, ?)`,
		rule.Name, rule.Amount.Cents, rule.CategoryID, rule.AccountID,
		boolToInt(rule.IsIncome), string(rule.Frequency),
		toMillis(rule.StartAt), toMillisPtr(rule.EndAt), toMillis(rule.NextDue),
		rule.Note, toMillis(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("insert rule: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("rule insert id: %w", err)
	}

	slog.InfoContext(ctx, "Recurring rule created",
		"id", id,
		"name", rule.Name,
		"frequency", rule.Frequency,
		"next_due", rule.NextDue.Format(time.RFC3339))

	return id, nil
}

func (r *SQLiteRepository) GetRule(ctx context.Context, id int64) (*core.Rule, error) {
	row := r.db.QueryRowContext(ctx, ruleSelect+` WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rule %d: %w", id, err)
	}
	return rule, nil
}

func (r *SQLiteRepository) ListRules(ctx context.Context) ([]core.Rule, error) {
	return r.queryRules(ctx, ruleSelect+` ORDER BY name ASC`)
}

func (r *SQLiteRepository) ListActiveRules(ctx context.Context) ([]core.Rule, error) {
	return r.queryRules(ctx, ruleSelect+` WHERE is_active = 1 ORDER BY next_due ASC`)
}

// DueRules returns active rules whose next_due is at or before now, in
// ascending next_due order with id as tie-breaker for deterministic passes.
func (r *SQLiteRepository) DueRules(ctx context.Context, now time.Time) ([]core.Rule, error) {
	return r.queryRules(ctx,
		ruleSelect+` WHERE is_active = 1 AND next_due <= ? ORDER BY next_due ASC, id ASC`,
		toMillis(now))
}

// UpdateRule rewrites the user-editable fields and resets the schedule:
// next_due is re-seeded from the (possibly changed) start instant.
func (r *SQLiteRepository) UpdateRule(ctx context.Context, rule core.Rule) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_rules
		SET name = ?, amount_cents = ?, category_id = ?, account_id = ?,
		    is_income = ?, frequency = ?, start_at = ?, end_at = ?,
		    next_due = ?, note = ?
		WHERE id = ?`,
		rule.Name, rule.Amount.Cents, rule.CategoryID, rule.AccountID,
		boolToInt(rule.IsIncome), string(rule.Frequency),
		toMillis(rule.StartAt), toMillisPtr(rule.EndAt), toMillis(rule.NextDue),
		rule.Note, rule.ID)
	if err != nil {
		return fmt.Errorf("update rule %d: %w", rule.ID, err)
	}
	return requireRow(res, rule.ID)
}

// SetRuleActive toggles the activity flag without touching the schedule.
func (r *SQLiteRepository) SetRuleActive(ctx context.Context, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE recurring_rules SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("set rule %d active=%v: %w", id, active, err)
	}
	return requireRow(res, id)
}

// DeactivateRule retires an expired rule. The rule row is kept for audit.
func (r *SQLiteRepository) DeactivateRule(ctx context.Context, id int64) error {
	if err := r.SetRuleActive(ctx, id, false); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Recurring rule deactivated", "id", id)
	return nil
}

func (r *SQLiteRepository) DeleteRule(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recurring_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule %d: %w", id, err)
	}
	return requireRow(res, id)
}

// MaterializeRule posts one ledger transaction from the rule and advances
// its schedule in a single database transaction. The advance is guarded on
// the next_due value the resolver read; if another pass got there first the
// guard matches zero rows, everything rolls back and ErrAlreadyMaterialized
// is returned. No partial state is ever visible.
func (r *SQLiteRepository) MaterializeRule(ctx context.Context, rule core.Rule, now, nextDue time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin materialize: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE recurring_rules
		SET last_executed = ?, next_due = ?
		WHERE id = ? AND next_due = ? AND is_active = 1`,
		toMillis(now), toMillis(nextDue), rule.ID, toMillis(rule.NextDue))
	if err != nil {
		return 0, fmt.Errorf("advance rule %d: %w", rule.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("advance rule %d: %w", rule.ID, err)
	}
	if affected == 0 {
		return 0, ErrAlreadyMaterialized
	}

	note := rule.Note
	if note == "" {
		note = rule.Name
	}
	note += " (auto)"

	ins, err := tx.ExecContext(ctx, `
		INSERT INTO transactions
			(amount_cents, is_income, category_id, account_id, timestamp, note, rule_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rule.Amount.Cents, boolToInt(rule.IsIncome), rule.CategoryID, rule.AccountID,
		toMillis(now), note, rule.ID)
	if err != nil {
		return 0, fmt.Errorf("insert transaction for rule %d: %w", rule.ID, err)
	}
	txID, err := ins.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("transaction insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit materialize rule %d: %w", rule.ID, err)
	}

	slog.InfoContext(ctx, "Transaction materialized from rule",
		"transaction_id", txID,
		"rule_id", rule.ID,
		"amount_cents", rule.Amount.Cents,
		"next_due", nextDue.Format(time.RFC3339))

	return txID, nil
}

// CreateTransaction posts a standalone ledger entry (not rule-driven).
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, t core.Transaction) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions
			(amount_cents, is_income, category_id, account_id, timestamp, note, rule_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Amount.Cents, boolToInt(t.IsIncome), t.CategoryID, t.AccountID,
		toMillis(t.Timestamp), t.Note, t.RuleID)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("transaction insert id: %w", err)
	}
	return id, nil
}

// ListTransactions returns the newest ledger entries first, capped at limit.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, limit int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, amount_cents, is_income, category_id, account_id, timestamp, note, rule_id
		FROM transactions ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var (
			t        core.Transaction
			isIncome int64
			tsMillis int64
			ruleID   sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &t.Amount.Cents, &isIncome, &t.CategoryID,
			&t.AccountID, &tsMillis, &t.Note, &ruleID); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.IsIncome = isIncome != 0
		t.Timestamp = fromMillis(tsMillis)
		if ruleID.Valid {
			t.RuleID = &ruleID.Int64
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AddNotification writes an inbox entry. Implements notify.InboxWriter.
func (r *SQLiteRepository) AddNotification(ctx context.Context, title, body string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (title, body, created_at) VALUES (?, ?, ?)`,
		title, body, toMillis(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("notification insert id: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) ListNotifications(ctx context.Context, limit int) ([]core.Notification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, body, created_at, delivered_at
		FROM notifications ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []core.Notification
	for rows.Next() {
		var (
			n         core.Notification
			created   int64
			delivered sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &created, &delivered); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.CreatedAt = fromMillis(created)
		if delivered.Valid {
			d := fromMillis(delivered.Int64)
			n.DeliveredAt = &d
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationDelivered stamps the delivery time once; repeated marks
// keep the first timestamp.
func (r *SQLiteRepository) MarkNotificationDelivered(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET delivered_at = ? WHERE id = ? AND delivered_at IS NULL`,
		toMillis(at), id)
	if err != nil {
		return fmt.Errorf("mark notification %d delivered: %w", id, err)
	}
	return nil
}

const ruleSelect = `
	SELECT id, name, amount_cents, category_id, account_id, is_income,
	       frequency, start_at, end_at, is_active, last_executed, next_due, note
	FROM recurring_rules`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*core.Rule, error) {
	var (
		rule         core.Rule
		isIncome     int64
		isActive     int64
		startMillis  int64
		endMillis    sql.NullInt64
		lastExecuted sql.NullInt64
		nextDue      int64
		frequency    string
	)
	err := row.Scan(&rule.ID, &rule.Name, &rule.Amount.Cents, &rule.CategoryID,
		&rule.AccountID, &isIncome, &frequency, &startMillis, &endMillis,
		&isActive, &lastExecuted, &nextDue, &rule.Note)
	if err != nil {
		return nil, err
	}
	rule.IsIncome = isIncome != 0
	rule.IsActive = isActive != 0
	rule.Frequency = core.Frequency(frequency)
	rule.StartAt = fromMillis(startMillis)
	rule.NextDue = fromMillis(nextDue)
	if endMillis.Valid {
		end := fromMillis(endMillis.Int64)
		rule.EndAt = &end
	}
	if lastExecuted.Valid {
		last := fromMillis(lastExecuted.Int64)
		rule.LastExecuted = &last
	}
	return &rule, nil
}

func (r *SQLiteRepository) queryRules(ctx context.Context, query string, args ...any) ([]core.Rule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []core.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, *rule)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for rule %d: %w", id, err)
	}
	if affected == 0 {
		return core.ErrRuleNotFound
	}
	return nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func toMillisPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := toMillis(*t)
	return &v
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
