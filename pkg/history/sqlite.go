package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jllopis/orchestra/pkg/broadcast"
	"github.com/jllopis/orchestra/pkg/core"
	"github.com/jllopis/orchestra/pkg/errors"
	"github.com/jllopis/orchestra/pkg/resilience"
)

// SQLiteStore persists history in SQLite.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
	retry resilience.RetryConfig
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithWriteRetry sets the retry policy for writes that hit a busy database.
func WithWriteRetry(cfg resilience.RetryConfig) SQLiteOption {
	return func(s *SQLiteStore) { s.retry = cfg }
}

// OpenSQLite opens the database at dsn and ensures the schema.
func OpenSQLite(dsn string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.New(errors.CodeStore, "open sqlite", err)
	}
	s, err := NewSQLiteStore(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLiteStore wraps an open database and ensures the schema.
func NewSQLiteStore(db *sql.DB, opts ...SQLiteOption) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New(errors.CodeInvalidInput, "db is nil", nil)
	}
	s := &SQLiteStore{
		db: db,
		retry: resilience.DefaultRetryConfig().
			WithMaxAttempts(5).
			WithInitialDelay(20 * time.Millisecond).
			WithIsRecoverable(isBusy),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := ensureSchema(db); err != nil {
		return nil, errors.New(errors.CodeStore, "ensure history schema", err)
	}
	return s, nil
}

// Close closes the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Check implements core.HealthChecker.
func (s *SQLiteStore) Check(ctx context.Context) core.HealthResult {
	if err := s.db.PingContext(ctx); err != nil {
		return core.HealthResult{Status: core.HealthUnhealthy, Message: err.Error()}
	}
	return core.HealthResult{Status: core.HealthHealthy, Message: "sqlite reachable"}
}

func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) error {
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return errors.New(errors.CodeStore, "history write failed", err)
	}
	return nil
}

// Deliver implements broadcast.Sink.
func (s *SQLiteStore) Deliver(ctx context.Context, ev broadcast.Event) error {
	if c := ev.Communication; c != nil {
		meta, err := encodeJSON(c.Metadata)
		if err != nil {
			return errors.New(errors.CodeStore, "encode metadata", err)
		}
		if err := s.exec(ctx, `
			INSERT INTO communications (id, plan_id, from_worker, to_worker, type, message, metadata_json, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, c.PlanID, c.From, c.To, string(c.Type), c.Message, meta, normalizeTime(c.Timestamp).UnixNano()); err != nil {
			return err
		}
	}
	if st := ev.Status; st != nil {
		tools, err := encodeJSON(st.ToolsInUse)
		if err != nil {
			return errors.New(errors.CodeStore, "encode tools", err)
		}
		if err := s.exec(ctx, `
			INSERT INTO statuses (plan_id, worker, state, current_task, progress, tools_json, blocking_reason, output, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, st.PlanID, string(st.Worker), string(st.State), st.CurrentTask, st.Progress, tools,
			st.BlockingReason, st.Output, normalizeTime(st.UpdatedAt).UnixNano()); err != nil {
			return err
		}
	}
	return nil
}

type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func limit(query string, args []any, n int) (string, []any) {
	if n > 0 {
		return query + " LIMIT ?", append(args, n)
	}
	return query, args
}

// Communications returns recorded communications matching filter, oldest first.
func (s *SQLiteStore) Communications(ctx context.Context, filter Filter) ([]core.AgentCommunication, error) {
	var w where
	if filter.PlanID != "" {
		w.add("plan_id = ?", filter.PlanID)
	}
	if filter.Type != "" {
		w.add("type = ?", string(filter.Type))
	}
	if filter.Worker != "" {
		w.add("(from_worker = ? OR to_worker = ?)", string(filter.Worker), string(filter.Worker))
	}
	query, args := limit(`
		SELECT id, plan_id, from_worker, to_worker, type, message, metadata_json, ts
		FROM communications`+w.String()+` ORDER BY ts ASC, rowid ASC`, w.args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.CodeStore, "query communications", err)
	}
	defer rows.Close()

	var out []core.AgentCommunication
	for rows.Next() {
		var (
			c    core.AgentCommunication
			typ  string
			meta string
			ts   int64
		)
		if err := rows.Scan(&c.ID, &c.PlanID, &c.From, &c.To, &typ, &c.Message, &meta, &ts); err != nil {
			return nil, errors.New(errors.CodeStore, "scan communication", err)
		}
		c.Type = core.CommunicationType(typ)
		c.Timestamp = time.Unix(0, ts).UTC()
		if err := decodeJSON(meta, &c.Metadata); err != nil {
			return nil, errors.New(errors.CodeStore, "decode metadata", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeStore, "iterate communications", err)
	}
	return out, nil
}

// Statuses returns recorded status updates matching filter, oldest first.
func (s *SQLiteStore) Statuses(ctx context.Context, filter Filter) ([]core.AgentStatus, error) {
	var w where
	if filter.PlanID != "" {
		w.add("plan_id = ?", filter.PlanID)
	}
	if filter.Worker != "" {
		w.add("worker = ?", string(filter.Worker))
	}
	query, args := limit(`
		SELECT plan_id, worker, state, current_task, progress, tools_json, blocking_reason, output, ts
		FROM statuses`+w.String()+` ORDER BY ts ASC, rowid ASC`, w.args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.CodeStore, "query statuses", err)
	}
	defer rows.Close()

	var out []core.AgentStatus
	for rows.Next() {
		var (
			st            core.AgentStatus
			worker, state string
			tools         string
			ts            int64
		)
		if err := rows.Scan(&st.PlanID, &worker, &state, &st.CurrentTask, &st.Progress, &tools,
			&st.BlockingReason, &st.Output, &ts); err != nil {
			return nil, errors.New(errors.CodeStore, "scan status", err)
		}
		st.Worker = core.WorkerRole(worker)
		st.State = core.WorkerState(state)
		st.UpdatedAt = time.Unix(0, ts).UTC()
		if err := decodeJSON(tools, &st.ToolsInUse); err != nil {
			return nil, errors.New(errors.CodeStore, "decode tools", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeStore, "iterate statuses", err)
	}
	return out, nil
}

// SavePlan archives a plan snapshot, replacing an earlier record with the same id.
func (s *SQLiteStore) SavePlan(ctx context.Context, rec PlanRecord) error {
	if rec.Plan == nil {
		return errors.New(errors.CodeInvalidInput, "plan record has no plan", nil)
	}
	raw, err := encodeJSON(rec.Plan)
	if err != nil {
		return errors.New(errors.CodeStore, "encode plan", err)
	}
	return s.exec(ctx, `
		INSERT INTO plans (id, request, complexity, outcome, iterations, plan_json, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			outcome = excluded.outcome,
			iterations = excluded.iterations,
			plan_json = excluded.plan_json,
			finished_at = excluded.finished_at
	`, rec.Plan.ID, rec.Plan.Request, string(rec.Plan.Complexity), rec.Outcome, rec.Iterations, raw,
		normalizeTime(rec.FinishedAt).UnixNano())
}

// Plan returns the archived plan with id.
func (s *SQLiteStore) Plan(ctx context.Context, id string) (PlanRecord, error) {
	recs, err := s.plans(ctx, Filter{PlanID: id, Limit: 1})
	if err != nil {
		return PlanRecord{}, err
	}
	if len(recs) == 0 {
		return PlanRecord{}, errors.Newf(errors.CodeNotFound, "plan %s not archived", id)
	}
	return recs[0], nil
}

// Plans returns archived plans, most recent first.
func (s *SQLiteStore) Plans(ctx context.Context, filter Filter) ([]PlanRecord, error) {
	return s.plans(ctx, filter)
}

func (s *SQLiteStore) plans(ctx context.Context, filter Filter) ([]PlanRecord, error) {
	var w where
	if filter.PlanID != "" {
		w.add("id = ?", filter.PlanID)
	}
	query, args := limit(`
		SELECT outcome, iterations, plan_json, finished_at
		FROM plans`+w.String()+` ORDER BY finished_at DESC, rowid DESC`, w.args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.CodeStore, "query plans", err)
	}
	defer rows.Close()

	var out []PlanRecord
	for rows.Next() {
		var (
			rec      PlanRecord
			raw      string
			finished int64
		)
		if err := rows.Scan(&rec.Outcome, &rec.Iterations, &raw, &finished); err != nil {
			return nil, errors.New(errors.CodeStore, "scan plan", err)
		}
		rec.Plan = &core.OrchestrationPlan{}
		if err := decodeJSON(raw, rec.Plan); err != nil {
			return nil, errors.New(errors.CodeStore, "decode plan", err)
		}
		rec.FinishedAt = time.Unix(0, finished).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeStore, "iterate plans", err)
	}
	return out, nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS communications (
			id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL,
			from_worker TEXT NOT NULL,
			to_worker TEXT NOT NULL,
			type TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata_json TEXT,
			ts INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_communications_plan ON communications(plan_id);
		CREATE TABLE IF NOT EXISTS statuses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			plan_id TEXT NOT NULL,
			worker TEXT NOT NULL,
			state TEXT NOT NULL,
			current_task TEXT,
			progress INTEGER NOT NULL,
			tools_json TEXT,
			blocking_reason TEXT,
			output TEXT,
			ts INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_statuses_plan ON statuses(plan_id);
		CREATE INDEX IF NOT EXISTS idx_statuses_worker ON statuses(worker);
		CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			request TEXT NOT NULL,
			complexity TEXT NOT NULL,
			outcome TEXT NOT NULL,
			iterations INTEGER NOT NULL,
			plan_json TEXT NOT NULL,
			finished_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}
