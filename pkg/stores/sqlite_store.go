package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/bizyhq/bizy/pkg/events"
	"github.com/bizyhq/bizy/pkg/orchestrator"
	"github.com/bizyhq/bizy/pkg/rule"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists rules, executions, action results, and the event
// log in SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ orchestrator.Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// SaveRule inserts or replaces a rule. The full rule is stored as JSON with
// queryable columns alongside.
func (s *SQLiteStore) SaveRule(ctx context.Context, r *rule.Rule) error {
	if r.ID == "" {
		return fmt.Errorf("rule ID is required")
	}

	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode rule: %w", err)
	}

	query := `
		INSERT INTO rules (id, name, type, priority, enabled, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			priority = excluded.priority,
			enabled = excluded.enabled,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		r.ID,
		r.Name,
		string(r.EffectiveType()),
		int(r.EffectivePriority()),
		boolToInt(r.IsEnabled()),
		string(payload),
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}

	return nil
}

// GetRule retrieves a rule by ID.
func (s *SQLiteStore) GetRule(ctx context.Context, id string) (*rule.Rule, error) {
	query := `SELECT payload FROM rules WHERE id = ?`

	var payload string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	var r rule.Rule
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("failed to decode rule %s: %w", id, err)
	}
	return &r, nil
}

// ListRules returns all stored rules ordered by priority (highest first).
func (s *SQLiteStore) ListRules(ctx context.Context) ([]rule.Rule, error) {
	query := `SELECT payload FROM rules ORDER BY priority DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rules := []rule.Rule{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		var r rule.Rule
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("failed to decode rule: %w", err)
		}
		rules = append(rules, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rules, nil
}

// DeleteRule removes a rule by ID.
func (s *SQLiteStore) DeleteRule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("rule not found: %s", id)
	}
	return nil
}

// CreateExecution records the start of an execution.
func (s *SQLiteStore) CreateExecution(ctx context.Context, result *orchestrator.Result) error {
	query := `
		INSERT INTO executions (id, rule_id, correlation_id, status, conditions_met, fallback_rule_id, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		result.ExecutionID,
		result.RuleID,
		result.CorrelationID,
		string(result.Status),
		boolToInt(result.ConditionsMet),
		result.FallbackRuleID,
		result.Error,
		result.StartedAt,
		nullableTime(result.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

// UpdateExecution records the final state of an execution together with
// its per-action results.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, result *orchestrator.Result) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		UPDATE executions
		SET status = ?, conditions_met = ?, fallback_rule_id = ?, error = ?, completed_at = ?
		WHERE id = ?
	`
	res, err := tx.ExecContext(ctx, query,
		string(result.Status),
		boolToInt(result.ConditionsMet),
		result.FallbackRuleID,
		result.Error,
		nullableTime(result.CompletedAt),
		result.ExecutionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("execution not found: %s", result.ExecutionID)
	}

	// Replace action results for idempotent updates.
	if _, err := tx.ExecContext(ctx, `DELETE FROM action_results WHERE execution_id = ?`, result.ExecutionID); err != nil {
		return fmt.Errorf("failed to clear action results: %w", err)
	}
	for _, ar := range result.ActionResults {
		output := ""
		if ar.Output != nil {
			encoded, err := json.Marshal(ar.Output)
			if err != nil {
				return fmt.Errorf("failed to encode action output: %w", err)
			}
			output = string(encoded)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO action_results (execution_id, framework, action, adapter, status, output, error, attempts, started_at, completed_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			result.ExecutionID,
			ar.Framework,
			ar.Action,
			ar.Adapter,
			string(ar.Status),
			output,
			ar.Error,
			ar.Attempts,
			ar.StartedAt,
			nullableTime(ar.CompletedAt),
			ar.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert action result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit execution update: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution with its action results.
func (s *SQLiteStore) GetExecution(ctx context.Context, executionID string) (*orchestrator.Result, error) {
	query := `
		SELECT id, rule_id, correlation_id, status, conditions_met, fallback_rule_id, error, started_at, completed_at
		FROM executions
		WHERE id = ?
	`

	result, err := scanExecution(s.db.QueryRowContext(ctx, query, executionID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution not found: %s", executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	actions, err := s.actionResults(ctx, executionID)
	if err != nil {
		return nil, err
	}
	result.ActionResults = actions
	return result, nil
}

// ListExecutions returns executions newest first. Empty ruleID lists all;
// limit <= 0 uses 100.
func (s *SQLiteStore) ListExecutions(ctx context.Context, ruleID string, limit int) ([]orchestrator.Result, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, rule_id, correlation_id, status, conditions_met, fallback_rule_id, error, started_at, completed_at
		FROM executions
	`
	args := []interface{}{}
	if ruleID != "" {
		query += ` WHERE rule_id = ?`
		args = append(args, ruleID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	results := []orchestrator.Result{}
	for rows.Next() {
		result, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		results = append(results, *result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return results, nil
}

// actionResults loads the per-action rows of one execution.
func (s *SQLiteStore) actionResults(ctx context.Context, executionID string) ([]orchestrator.ActionResult, error) {
	query := `
		SELECT framework, action, adapter, status, output, error, attempts, started_at, completed_at, duration_ms
		FROM action_results
		WHERE execution_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list action results: %w", err)
	}
	defer rows.Close()

	var results []orchestrator.ActionResult
	for rows.Next() {
		var ar orchestrator.ActionResult
		var status, output string
		var completedAt sql.NullTime
		var durationMs int64
		if err := rows.Scan(&ar.Framework, &ar.Action, &ar.Adapter, &status, &output, &ar.Error, &ar.Attempts, &ar.StartedAt, &completedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan action result: %w", err)
		}
		ar.Status = orchestrator.Status(status)
		if output != "" {
			if err := json.Unmarshal([]byte(output), &ar.Output); err != nil {
				return nil, fmt.Errorf("failed to decode action output: %w", err)
			}
		}
		if completedAt.Valid {
			ar.CompletedAt = completedAt.Time
		}
		ar.Duration = time.Duration(durationMs) * time.Millisecond
		results = append(results, ar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action results: %w", err)
	}
	return results, nil
}

// AppendEvent appends an event to the durable event log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *events.Event) error {
	data := ""
	if event.Data != nil {
		encoded, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
		data = string(encoded)
	}
	metadata := ""
	if event.Metadata != nil {
		encoded, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode event metadata: %w", err)
		}
		metadata = string(encoded)
	}

	query := `
		INSERT INTO events (id, type, source, correlation_id, data, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		event.Source,
		event.CorrelationID,
		data,
		metadata,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents retrieves stored events matching the filter, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter events.Filter) ([]events.Event, error) {
	query := `SELECT id, type, source, correlation_id, data, metadata, timestamp FROM events`
	var clauses []string
	var args []interface{}

	if len(filter.Types) > 0 {
		placeholders := ""
		for i, t := range filter.Types {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += "?"
			args = append(args, string(t))
		}
		clauses = append(clauses, fmt.Sprintf("type IN (%s)", placeholders))
	}
	if filter.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.CorrelationID != "" {
		clauses = append(clauses, "correlation_id = ?")
		args = append(args, filter.CorrelationID)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, filter.Until)
	}

	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY timestamp ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	out := []events.Event{}
	for rows.Next() {
		var e events.Event
		var eventType, data, metadata string
		if err := rows.Scan(&e.ID, &eventType, &e.Source, &e.CorrelationID, &data, &metadata, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = events.Type(eventType)
		if data != "" {
			if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode event metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return out, nil
}

// PruneEvents deletes events older than the cutoff.
func (s *SQLiteStore) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*orchestrator.Result, error) {
	var result orchestrator.Result
	var status string
	var conditionsMet int
	var completedAt sql.NullTime
	if err := row.Scan(
		&result.ExecutionID,
		&result.RuleID,
		&result.CorrelationID,
		&status,
		&conditionsMet,
		&result.FallbackRuleID,
		&result.Error,
		&result.StartedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	result.Status = orchestrator.Status(status)
	result.ConditionsMet = conditionsMet != 0
	if completedAt.Valid {
		result.CompletedAt = completedAt.Time
	}
	return &result, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
