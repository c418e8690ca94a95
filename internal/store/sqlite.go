// Package store provides durable persistence for plans and checkpoints: a
// SQLite-backed implementation for production use and an in-memory one for
// tests. Both satisfy plan.Store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// SQLite driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/planforge/planforge/internal/plan"
	"github.com/planforge/planforge/internal/schedule"
	"github.com/planforge/planforge/internal/types"
)

// Config holds SQLite store configuration.
type Config struct {
	Path         string        `yaml:"path"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
}

// DefaultConfig returns sensible defaults for the given database path.
func DefaultConfig(path string) Config {
	return Config{
		Path:         path,
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStore persists plans and checkpoints in a SQLite database with WAL
// mode enabled.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// Open creates a SQLite store at path with default configuration.
func Open(path string) (*SQLiteStore, error) {
	return OpenWithConfig(DefaultConfig(path))
}

// OpenWithConfig creates a SQLite store with custom configuration, enabling
// WAL mode and foreign keys, and applying the schema.
func OpenWithConfig(cfg Config) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d",
		cfg.Path,
		int(cfg.BusyTimeout.Milliseconds()),
	)

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, types.WrapError(types.STORE_OPEN_FAILED, "failed to open database", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, types.WrapError(types.STORE_OPEN_FAILED, "failed to ping database", err)
	}

	s := &SQLiteStore{conn: conn, path: cfg.Path}
	if err := s.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS plans (
			id               TEXT PRIMARY KEY,
			status           TEXT NOT NULL,
			goal_name        TEXT NOT NULL DEFAULT '',
			goal_type        TEXT NOT NULL DEFAULT '',
			goal_description TEXT NOT NULL DEFAULT '',
			constraints      TEXT NOT NULL,
			steps            TEXT NOT NULL,
			schedule         TEXT,
			error            TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMP NOT NULL,
			updated_at       TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS checkpoints (
			seq                INTEGER PRIMARY KEY AUTOINCREMENT,
			plan_id            TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
			status             TEXT NOT NULL,
			current_step_id    TEXT NOT NULL DEFAULT '',
			completed_step_ids TEXT NOT NULL,
			created_at         TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoints_plan ON checkpoints(plan_id);
	`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return types.WrapError(types.STORE_OPEN_FAILED, "failed to apply schema", err)
	}
	return nil
}

// SavePlan inserts or replaces the plan row. Nested structures (constraints,
// steps, schedule) are stored as JSON; the schedule's entry map serializes
// as an array, so nothing SQLite-hostile ends up in the row.
func (s *SQLiteStore) SavePlan(ctx context.Context, p *plan.Plan) error {
	constraintsJSON, err := json.Marshal(p.Constraints)
	if err != nil {
		return types.WrapError(types.STORE_SAVE_FAILED, "failed to marshal constraints", err)
	}
	stepsJSON, err := json.Marshal(p.Steps)
	if err != nil {
		return types.WrapError(types.STORE_SAVE_FAILED, "failed to marshal steps", err)
	}
	var scheduleJSON []byte
	if p.Schedule != nil {
		scheduleJSON, err = json.Marshal(p.Schedule)
		if err != nil {
			return types.WrapError(types.STORE_SAVE_FAILED, "failed to marshal schedule", err)
		}
	}

	const query = `
		INSERT INTO plans (id, status, goal_name, goal_type, goal_description,
			constraints, steps, schedule, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			constraints = excluded.constraints,
			steps = excluded.steps,
			schedule = excluded.schedule,
			error = excluded.error,
			updated_at = excluded.updated_at
	`
	_, err = s.conn.ExecContext(ctx, query,
		p.ID.String(),
		p.Status.String(),
		p.GoalName,
		string(p.GoalType),
		p.GoalDescription,
		string(constraintsJSON),
		string(stepsJSON),
		nullableString(scheduleJSON),
		p.Error,
		p.CreatedAt.UTC(),
		p.UpdatedAt.UTC(),
	)
	if err != nil {
		return types.WrapError(types.STORE_SAVE_FAILED, "failed to save plan", err)
	}
	return nil
}

// LoadPlan returns the plan with the given id, including its checkpoint
// history.
func (s *SQLiteStore) LoadPlan(ctx context.Context, id types.ID) (*plan.Plan, error) {
	const query = `
		SELECT id, status, goal_name, goal_type, goal_description,
			constraints, steps, schedule, error, created_at, updated_at
		FROM plans WHERE id = ?
	`
	p, err := scanPlan(s.conn.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		return nil, err
	}

	cps, err := s.LoadCheckpoints(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Checkpoints = cps
	return p, nil
}

// LoadPlans returns every persisted plan in creation order. Checkpoint
// histories are not attached; use LoadPlan for a single full plan.
func (s *SQLiteStore) LoadPlans(ctx context.Context) ([]*plan.Plan, error) {
	const query = `
		SELECT id, status, goal_name, goal_type, goal_description,
			constraints, steps, schedule, error, created_at, updated_at
		FROM plans ORDER BY created_at, id
	`
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, types.WrapError(types.STORE_LOAD_FAILED, "failed to query plans", err)
	}
	defer rows.Close()

	var plans []*plan.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.STORE_LOAD_FAILED, "failed to iterate plans", err)
	}
	return plans, nil
}

// AppendCheckpoint appends a checkpoint row. Rows are append-only; nothing
// ever updates them.
func (s *SQLiteStore) AppendCheckpoint(ctx context.Context, planID types.ID, cp *plan.Checkpoint) error {
	completedJSON, err := json.Marshal(cp.CompletedStepIDs)
	if err != nil {
		return types.WrapError(types.STORE_SAVE_FAILED, "failed to marshal completed steps", err)
	}

	const query = `
		INSERT INTO checkpoints (plan_id, status, current_step_id, completed_step_ids, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.conn.ExecContext(ctx, query,
		planID.String(),
		cp.Status.String(),
		cp.CurrentStepID,
		string(completedJSON),
		cp.Timestamp.UTC(),
	)
	if err != nil {
		return types.WrapError(types.STORE_SAVE_FAILED, "failed to append checkpoint", err)
	}
	return nil
}

// LoadCheckpoints returns the plan's checkpoints in append order.
func (s *SQLiteStore) LoadCheckpoints(ctx context.Context, planID types.ID) ([]*plan.Checkpoint, error) {
	const query = `
		SELECT status, current_step_id, completed_step_ids, created_at
		FROM checkpoints WHERE plan_id = ? ORDER BY seq
	`
	rows, err := s.conn.QueryContext(ctx, query, planID.String())
	if err != nil {
		return nil, types.WrapError(types.STORE_LOAD_FAILED, "failed to query checkpoints", err)
	}
	defer rows.Close()

	var cps []*plan.Checkpoint
	for rows.Next() {
		cp := &plan.Checkpoint{PlanID: planID}
		var status, completedJSON string
		if err := rows.Scan(&status, &cp.CurrentStepID, &completedJSON, &cp.Timestamp); err != nil {
			return nil, types.WrapError(types.STORE_LOAD_FAILED, "failed to scan checkpoint", err)
		}
		cp.Status = plan.PlanStatus(status)
		if err := json.Unmarshal([]byte(completedJSON), &cp.CompletedStepIDs); err != nil {
			return nil, types.WrapError(types.STORE_LOAD_FAILED, "corrupt completed-step set", err)
		}
		cps = append(cps, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.STORE_LOAD_FAILED, "failed to iterate checkpoints", err)
	}
	return cps, nil
}

// LoadLatestCheckpoint returns the most recent checkpoint for the plan.
func (s *SQLiteStore) LoadLatestCheckpoint(ctx context.Context, planID types.ID) (*plan.Checkpoint, error) {
	const query = `
		SELECT status, current_step_id, completed_step_ids, created_at
		FROM checkpoints WHERE plan_id = ? ORDER BY seq DESC LIMIT 1
	`
	cp := &plan.Checkpoint{PlanID: planID}
	var status, completedJSON string
	err := s.conn.QueryRowContext(ctx, query, planID.String()).
		Scan(&status, &cp.CurrentStepID, &completedJSON, &cp.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.CHECKPOINT_NOT_FOUND, fmt.Sprintf("plan %s has no checkpoints", planID))
	}
	if err != nil {
		return nil, types.WrapError(types.STORE_LOAD_FAILED, "failed to load latest checkpoint", err)
	}
	cp.Status = plan.PlanStatus(status)
	if err := json.Unmarshal([]byte(completedJSON), &cp.CompletedStepIDs); err != nil {
		return nil, types.WrapError(types.STORE_LOAD_FAILED, "corrupt completed-step set", err)
	}
	return cp, nil
}

// DeletePlan purges a plan; its checkpoints cascade.
func (s *SQLiteStore) DeletePlan(ctx context.Context, id types.ID) error {
	result, err := s.conn.ExecContext(ctx, `DELETE FROM plans WHERE id = ?`, id.String())
	if err != nil {
		return types.WrapError(types.STORE_SAVE_FAILED, "failed to delete plan", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return types.NewError(types.PLAN_NOT_FOUND, fmt.Sprintf("plan %s not found", id))
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*plan.Plan, error) {
	p := &plan.Plan{}
	var id, status, goalType, constraintsJSON, stepsJSON string
	var scheduleJSON sql.NullString

	err := row.Scan(&id, &status, &p.GoalName, &goalType, &p.GoalDescription,
		&constraintsJSON, &stepsJSON, &scheduleJSON, &p.Error, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.PLAN_NOT_FOUND, "plan not found")
	}
	if err != nil {
		return nil, types.WrapError(types.STORE_LOAD_FAILED, "failed to scan plan", err)
	}

	p.ID = types.ID(id)
	p.Status = plan.PlanStatus(status)
	p.GoalType = plan.GoalType(goalType)
	if err := json.Unmarshal([]byte(constraintsJSON), &p.Constraints); err != nil {
		return nil, types.WrapError(types.STORE_LOAD_FAILED, "corrupt plan constraints", err)
	}
	if err := json.Unmarshal([]byte(stepsJSON), &p.Steps); err != nil {
		return nil, types.WrapError(types.STORE_LOAD_FAILED, "corrupt plan steps", err)
	}
	if scheduleJSON.Valid && scheduleJSON.String != "" {
		p.Schedule = &schedule.Timeline{}
		if err := json.Unmarshal([]byte(scheduleJSON.String), p.Schedule); err != nil {
			return nil, types.WrapError(types.STORE_LOAD_FAILED, "corrupt plan schedule", err)
		}
	}
	return p, nil
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
