package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/eatplanted/venuescout/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS strategies (
	id                     TEXT PRIMARY KEY,
	platform               TEXT NOT NULL,
	country                TEXT NOT NULL,
	query_template         TEXT NOT NULL,
	success_rate           INTEGER NOT NULL DEFAULT 0,
	total_uses             INTEGER NOT NULL DEFAULT 0,
	successful_discoveries INTEGER NOT NULL DEFAULT 0,
	false_positives        INTEGER NOT NULL DEFAULT 0,
	tags                   TEXT,
	origin                 TEXT NOT NULL,
	parent_strategy_id     TEXT,
	deprecated_at          DATETIME,
	deprecated_reason      TEXT,
	created_at             DATETIME NOT NULL,
	updated_at             DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS query_cache (
	query_hash       TEXT PRIMARY KEY,
	normalized_query TEXT NOT NULL,
	executed_at      DATETIME NOT NULL,
	results_count    INTEGER NOT NULL DEFAULT 0,
	expires_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS budget_periods (
	key            TEXT PRIMARY KEY,
	free_queries   INTEGER NOT NULL DEFAULT 0,
	paid_queries   INTEGER NOT NULL DEFAULT 0,
	ai_calls_light INTEGER NOT NULL DEFAULT 0,
	ai_calls_heavy INTEGER NOT NULL DEFAULT 0,
	cost_usd       REAL NOT NULL DEFAULT 0,
	updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS budget_events (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	reason     TEXT NOT NULL,
	day_cost   REAL NOT NULL DEFAULT 0,
	month_cost REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	config       TEXT NOT NULL,
	stats        TEXT NOT NULL DEFAULT '{}',
	errors       TEXT NOT NULL DEFAULT '[]',
	cancelled    INTEGER NOT NULL DEFAULT 0,
	started_at   DATETIME,
	completed_at DATETIME,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
	id               TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	platform         TEXT NOT NULL,
	country          TEXT NOT NULL,
	city             TEXT,
	name             TEXT NOT NULL,
	url              TEXT,
	venue_id         TEXT,
	parent_entity_id TEXT,
	run_id           TEXT,
	strategy_id      TEXT,
	confidence_score INTEGER NOT NULL DEFAULT 0,
	flags            TEXT,
	description      TEXT,
	price            TEXT,
	currency         TEXT,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS feedback (
	id          TEXT PRIMARY KEY,
	entity_id   TEXT NOT NULL,
	strategy_id TEXT,
	result      TEXT NOT NULL,
	reviewer    TEXT NOT NULL,
	notes       TEXT,
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_strategies_scope ON strategies(platform, country);
CREATE INDEX IF NOT EXISTS idx_query_cache_expires ON query_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_entities_run ON entities(run_id);
CREATE INDEX IF NOT EXISTS idx_entities_status ON entities(status);
CREATE INDEX IF NOT EXISTS idx_entities_venue ON entities(platform, venue_id);
CREATE INDEX IF NOT EXISTS idx_feedback_strategy ON feedback(strategy_id);
CREATE INDEX IF NOT EXISTS idx_feedback_entity ON feedback(entity_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- strategies ---

func (s *SQLiteStore) CreateStrategy(ctx context.Context, st *model.Strategy) error {
	if st.ID == "" {
		st.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now

	tags, err := json.Marshal(st.Tags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal tags")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO strategies (
			id, platform, country, query_template, success_rate, total_uses,
			successful_discoveries, false_positives, tags, origin,
			parent_strategy_id, deprecated_at, deprecated_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.Platform, st.Country, st.QueryTemplate, st.SuccessRate,
		st.TotalUses, st.SuccessfulDiscoveries, st.FalsePositives, string(tags),
		string(st.Origin), nullStr(st.ParentStrategyID), nullTime(st.DeprecatedAt),
		nullStr(st.DeprecatedReason), st.CreatedAt, st.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert strategy")
}

const strategyCols = `id, platform, country, query_template, success_rate, total_uses,
	successful_discoveries, false_positives, tags, origin, parent_strategy_id,
	deprecated_at, deprecated_reason, created_at, updated_at`

func (s *SQLiteStore) GetStrategy(ctx context.Context, id string) (*model.Strategy, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+strategyCols+` FROM strategies WHERE id = ?`, id)
	return scanStrategy(row)
}

func (s *SQLiteStore) ListStrategies(ctx context.Context, f StrategyFilter) ([]model.Strategy, error) {
	q := `SELECT ` + strategyCols + ` FROM strategies WHERE 1=1`
	var args []any
	if f.Platform != "" {
		q += ` AND platform = ?`
		args = append(args, f.Platform)
	}
	if f.Country != "" {
		q += ` AND country = ?`
		args = append(args, f.Country)
	}
	if !f.IncludeDeprecated {
		q += ` AND deprecated_at IS NULL`
	}
	q += ` ORDER BY success_rate DESC, total_uses ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list strategies")
	}
	defer rows.Close()

	var out []model.Strategy
	for rows.Next() {
		st, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list strategies rows")
}

func (s *SQLiteStore) RecordStrategyUsage(ctx context.Context, id string, success, falsePositive bool) (*model.Strategy, error) {
	succ := 0
	if success {
		succ = 1
	}
	fp := 0
	if falsePositive {
		fp = 1
	}

	// success_rate is recomputed from the post-increment counts in the same
	// statement; it is never an incremental average.
	res, err := s.db.ExecContext(ctx, `
		UPDATE strategies SET
			total_uses = total_uses + 1,
			successful_discoveries = successful_discoveries + ?,
			false_positives = false_positives + ?,
			success_rate = CAST(ROUND(100.0 * (successful_discoveries + ?) / (total_uses + 1)) AS INTEGER),
			updated_at = ?
		WHERE id = ?`,
		succ, fp, succ, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: record strategy usage %s", id)
	}
	if err := checkRowsAffected(res, "strategy", id); err != nil {
		return nil, err
	}
	return s.GetStrategy(ctx, id)
}

func (s *SQLiteStore) SetStrategyRate(ctx context.Context, id string, successful, total int) error {
	rate := 0
	if total > 0 {
		rate = int(float64(successful)/float64(total)*100 + 0.5)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE strategies SET
			successful_discoveries = ?, total_uses = ?, success_rate = ?, updated_at = ?
		WHERE id = ?`,
		successful, total, rate, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set strategy rate %s", id)
	}
	return checkRowsAffected(res, "strategy", id)
}

func (s *SQLiteStore) DeprecateStrategy(ctx context.Context, id, reason string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE strategies SET deprecated_at = ?, deprecated_reason = ?, updated_at = ?
		WHERE id = ? AND deprecated_at IS NULL`,
		now, reason, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: deprecate strategy %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		// Either unknown or already deprecated; deprecation is idempotent for
		// the latter.
		if _, err := s.GetStrategy(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// --- query cache ---

func (s *SQLiteStore) GetQueryCache(ctx context.Context, hash string) (*model.QueryCacheEntry, error) {
	var e model.QueryCacheEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT query_hash, normalized_query, executed_at, results_count, expires_at
		FROM query_cache WHERE query_hash = ?`, hash,
	).Scan(&e.QueryHash, &e.NormalizedQuery, &e.ExecutedAt, &e.ResultsCount, &e.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get query cache")
	}
	return &e, nil
}

func (s *SQLiteStore) UpsertQueryCache(ctx context.Context, e *model.QueryCacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_cache (query_hash, normalized_query, executed_at, results_count, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(query_hash) DO UPDATE SET
			normalized_query = excluded.normalized_query,
			executed_at = excluded.executed_at,
			results_count = excluded.results_count,
			expires_at = excluded.expires_at`,
		e.QueryHash, e.NormalizedQuery, e.ExecutedAt, e.ResultsCount, e.ExpiresAt,
	)
	return eris.Wrap(err, "sqlite: upsert query cache")
}

func (s *SQLiteStore) DeleteExpiredQueryCache(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM query_cache WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired query cache")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

// --- budget ---

func (s *SQLiteStore) IncrementBudget(ctx context.Context, dayKey, monthKey string, d model.BudgetDelta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin budget tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, key := range []string{dayKey, monthKey} {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO budget_periods (key, free_queries, paid_queries, ai_calls_light, ai_calls_heavy, cost_usd, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET
				free_queries = free_queries + excluded.free_queries,
				paid_queries = paid_queries + excluded.paid_queries,
				ai_calls_light = ai_calls_light + excluded.ai_calls_light,
				ai_calls_heavy = ai_calls_heavy + excluded.ai_calls_heavy,
				cost_usd = cost_usd + excluded.cost_usd,
				updated_at = excluded.updated_at`,
			key, d.FreeQueries, d.PaidQueries, d.AICallsLight, d.AICallsHeavy, d.CostUSD, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: increment budget %s", key)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit budget tx")
}

func (s *SQLiteStore) GetBudgetPeriod(ctx context.Context, key string) (*model.BudgetPeriod, error) {
	var p model.BudgetPeriod
	err := s.db.QueryRowContext(ctx, `
		SELECT key, free_queries, paid_queries, ai_calls_light, ai_calls_heavy, cost_usd, updated_at
		FROM budget_periods WHERE key = ?`, key,
	).Scan(&p.Key, &p.FreeQueries, &p.PaidQueries, &p.AICallsLight, &p.AICallsHeavy, &p.CostUSD, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		// A missing period is a zeroed ledger, not an error.
		return &model.BudgetPeriod{Key: key}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get budget period")
	}
	return &p, nil
}

func (s *SQLiteStore) AppendBudgetEvent(ctx context.Context, ev *model.BudgetEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budget_events (id, kind, reason, day_cost, month_cost, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Kind, ev.Reason, ev.DayCost, ev.MonthCost, ev.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append budget event")
}

func (s *SQLiteStore) ListBudgetEvents(ctx context.Context, limit int) ([]model.BudgetEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, reason, day_cost, month_cost, created_at
		FROM budget_events ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list budget events")
	}
	defer rows.Close()

	var out []model.BudgetEvent
	for rows.Next() {
		var ev model.BudgetEvent
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Reason, &ev.DayCost, &ev.MonthCost, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan budget event")
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list budget events rows")
}

// --- runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, kind model.RunKind, cfg model.RunConfig) (*model.ScraperRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal run config")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, status, config, stats, errors, created_at, updated_at)
		VALUES (?, ?, ?, ?, '{}', '[]', ?, ?)`,
		id, string(kind), string(model.RunStatusPending), string(cfgJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.ScraperRun{
		ID:        id,
		Kind:      kind,
		Status:    model.RunStatusPending,
		Config:    cfg,
		Stats:     model.RunStats{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

const runCols = `id, kind, status, config, stats, errors, cancelled, started_at, completed_at, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.ScraperRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runCols+` FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, f RunFilter) ([]model.ScraperRun, error) {
	q := `SELECT ` + runCols + ` FROM runs WHERE 1=1`
	var args []any
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Kind != "" {
		q += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	q += ` ORDER BY created_at ASC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.ScraperRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs rows")
}

func (s *SQLiteStore) StartRun(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(model.RunStatusRunning), now, now, id, string(model.RunStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: start run %s", id)
	}
	return s.guardTransition(ctx, res, id)
}

func (s *SQLiteStore) MergeRunStats(ctx context.Context, id string, delta model.RunStats) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin stats tx")
	}
	defer tx.Rollback()

	var statsJSON string
	err = tx.QueryRowContext(ctx, `SELECT stats FROM runs WHERE id = ?`, id).Scan(&statsJSON)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read run stats %s", id)
	}

	stats := model.RunStats{}
	if err := json.Unmarshal([]byte(statsJSON), &stats); err != nil {
		return eris.Wrap(err, "sqlite: unmarshal run stats")
	}
	stats.Merge(delta)

	merged, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run stats")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET stats = ?, updated_at = ? WHERE id = ?`,
		string(merged), time.Now().UTC(), id,
	); err != nil {
		return eris.Wrapf(err, "sqlite: update run stats %s", id)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit stats tx")
}

func (s *SQLiteStore) AddRunError(ctx context.Context, id string, rerr model.RunError) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin error tx")
	}
	defer tx.Rollback()

	var errsJSON, statsJSON string
	err = tx.QueryRowContext(ctx, `SELECT errors, stats FROM runs WHERE id = ?`, id).Scan(&errsJSON, &statsJSON)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read run errors %s", id)
	}

	var errs []model.RunError
	if err := json.Unmarshal([]byte(errsJSON), &errs); err != nil {
		return eris.Wrap(err, "sqlite: unmarshal run errors")
	}
	if rerr.OccurredAt.IsZero() {
		rerr.OccurredAt = time.Now().UTC()
	}
	errs = append(errs, rerr)

	stats := model.RunStats{}
	if err := json.Unmarshal([]byte(statsJSON), &stats); err != nil {
		return eris.Wrap(err, "sqlite: unmarshal run stats")
	}
	stats.Merge(model.RunStats{model.StatErrors: 1})

	errsOut, err := json.Marshal(errs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run errors")
	}
	statsOut, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run stats")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET errors = ?, stats = ?, updated_at = ? WHERE id = ?`,
		string(errsOut), string(statsOut), time.Now().UTC(), id,
	); err != nil {
		return eris.Wrapf(err, "sqlite: update run errors %s", id)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit error tx")
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, final model.RunStats) error {
	if len(final) > 0 {
		if err := s.MergeRunStats(ctx, id, final); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(model.RunStatusCompleted), now, now, id, string(model.RunStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", id)
	}
	return s.guardTransition(ctx, res, id)
}

func (s *SQLiteStore) FailRun(ctx context.Context, id string, errMsg string) error {
	if errMsg != "" {
		if err := s.AddRunError(ctx, id, model.RunError{Message: errMsg}); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(model.RunStatusFailed), now, now, id,
		string(model.RunStatusPending), string(model.RunStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", id)
	}
	return s.guardTransition(ctx, res, id)
}

func (s *SQLiteStore) CancelRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET cancelled = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: cancel run %s", id)
	}
	return checkRowsAffected(res, "run", id)
}

// guardTransition maps a zero-row guarded UPDATE to the right sentinel.
func (s *SQLiteStore) guardTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetRun(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

// --- entities ---

func (s *SQLiteStore) CreateEntity(ctx context.Context, e *model.DiscoveredEntity) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.Status == "" {
		e.Status = model.EntityPending
	}

	flags, err := json.Marshal(e.Flags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal entity flags")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (
			id, kind, status, platform, country, city, name, url, venue_id,
			parent_entity_id, run_id, strategy_id, confidence_score, flags,
			description, price, currency, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), string(e.Status), e.Platform, e.Country,
		nullStr(e.City), e.Name, nullStr(e.URL), nullStr(e.VenueID),
		nullStr(e.ParentEntityID), nullStr(e.RunID), nullStr(e.StrategyID),
		e.ConfidenceScore, string(flags), nullStr(e.Description),
		nullStr(e.Price), nullStr(e.Currency), e.CreatedAt, e.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: insert entity")
}

const entityCols = `id, kind, status, platform, country, city, name, url, venue_id,
	parent_entity_id, run_id, strategy_id, confidence_score, flags,
	description, price, currency, created_at, updated_at`

func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*model.DiscoveredEntity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityCols+` FROM entities WHERE id = ?`, id)
	return scanEntity(row)
}

func (s *SQLiteStore) ListEntities(ctx context.Context, f EntityFilter) ([]model.DiscoveredEntity, error) {
	q := `SELECT ` + entityCols + ` FROM entities WHERE 1=1`
	var args []any
	if f.RunID != "" {
		q += ` AND run_id = ?`
		args = append(args, f.RunID)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Kind != "" {
		q += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	if f.Platform != "" {
		q += ` AND platform = ?`
		args = append(args, f.Platform)
	}
	q += ` ORDER BY created_at ASC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close()

	var out []model.DiscoveredEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list entities rows")
}

func (s *SQLiteStore) UpdateEntityStatus(ctx context.Context, id string, status model.EntityStatus) error {
	// Promoted is terminal: the production system owns the record afterward.
	res, err := s.db.ExecContext(ctx, `
		UPDATE entities SET status = ?, updated_at = ?
		WHERE id = ? AND status != ?`,
		string(status), time.Now().UTC(), id, string(model.EntityPromoted),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update entity status %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		if _, err := s.GetEntity(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

func (s *SQLiteStore) VenueStaged(ctx context.Context, platform, venueID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM entities WHERE kind = ? AND platform = ? AND venue_id = ?`,
		string(model.EntityVenue), platform, venueID,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: venue staged")
	}
	return n > 0, nil
}

// --- feedback ---

func (s *SQLiteStore) AppendFeedback(ctx context.Context, r *model.FeedbackRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (id, entity_id, strategy_id, result, reviewer, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EntityID, nullStr(r.StrategyID), string(r.Result), r.Reviewer,
		nullStr(r.Notes), r.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append feedback")
}

func (s *SQLiteStore) ListFeedback(ctx context.Context, f FeedbackFilter) ([]model.FeedbackRecord, error) {
	q := `SELECT id, entity_id, strategy_id, result, reviewer, notes, created_at FROM feedback WHERE 1=1`
	var args []any
	if f.StrategyID != "" {
		q += ` AND strategy_id = ?`
		args = append(args, f.StrategyID)
	}
	if f.EntityID != "" {
		q += ` AND entity_id = ?`
		args = append(args, f.EntityID)
	}
	q += ` ORDER BY created_at ASC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list feedback")
	}
	defer rows.Close()

	var out []model.FeedbackRecord
	for rows.Next() {
		var r model.FeedbackRecord
		var strategyID, notes sql.NullString
		if err := rows.Scan(&r.ID, &r.EntityID, &strategyID, &r.Result, &r.Reviewer, &notes, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feedback")
		}
		r.StrategyID = strategyID.String
		r.Notes = notes.String
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list feedback rows")
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStrategy(row rowScanner) (*model.Strategy, error) {
	var st model.Strategy
	var tags sql.NullString
	var parentID, depReason sql.NullString
	var depAt sql.NullTime

	err := row.Scan(
		&st.ID, &st.Platform, &st.Country, &st.QueryTemplate, &st.SuccessRate,
		&st.TotalUses, &st.SuccessfulDiscoveries, &st.FalsePositives, &tags,
		&st.Origin, &parentID, &depAt, &depReason, &st.CreatedAt, &st.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan strategy")
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &st.Tags); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal strategy tags")
		}
	}
	st.ParentStrategyID = parentID.String
	st.DeprecatedReason = depReason.String
	if depAt.Valid {
		t := depAt.Time
		st.DeprecatedAt = &t
	}
	return &st, nil
}

func scanRun(row rowScanner) (*model.ScraperRun, error) {
	var r model.ScraperRun
	var cfgJSON, statsJSON, errsJSON string
	var cancelled int
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Kind, &r.Status, &cfgJSON, &statsJSON, &errsJSON,
		&cancelled, &startedAt, &completedAt, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if err := json.Unmarshal([]byte(cfgJSON), &r.Config); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run config")
	}
	r.Stats = model.RunStats{}
	if err := json.Unmarshal([]byte(statsJSON), &r.Stats); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run stats")
	}
	if err := json.Unmarshal([]byte(errsJSON), &r.Errors); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run errors")
	}
	r.Cancelled = cancelled != 0
	if startedAt.Valid {
		t := startedAt.Time
		r.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

func scanEntity(row rowScanner) (*model.DiscoveredEntity, error) {
	var e model.DiscoveredEntity
	var city, url, venueID, parentID, runID, strategyID sql.NullString
	var flags, desc, price, currency sql.NullString

	err := row.Scan(&e.ID, &e.Kind, &e.Status, &e.Platform, &e.Country, &city,
		&e.Name, &url, &venueID, &parentID, &runID, &strategyID,
		&e.ConfidenceScore, &flags, &desc, &price, &currency,
		&e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan entity")
	}
	e.City = city.String
	e.URL = url.String
	e.VenueID = venueID.String
	e.ParentEntityID = parentID.String
	e.RunID = runID.String
	e.StrategyID = strategyID.String
	e.Description = desc.String
	e.Price = price.String
	e.Currency = currency.String
	if flags.Valid && flags.String != "" {
		if err := json.Unmarshal([]byte(flags.String), &e.Flags); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal entity flags")
		}
	}
	return &e, nil
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", kind, id)
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
