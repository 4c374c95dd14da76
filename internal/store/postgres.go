package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/eatplanted/venuescout/internal/db"
	"github.com/eatplanted/venuescout/internal/model"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool (or a pgxmock) in a store.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS strategies (
	id                     TEXT PRIMARY KEY,
	platform               TEXT NOT NULL,
	country                TEXT NOT NULL,
	query_template         TEXT NOT NULL,
	success_rate           INT NOT NULL DEFAULT 0,
	total_uses             INT NOT NULL DEFAULT 0,
	successful_discoveries INT NOT NULL DEFAULT 0,
	false_positives        INT NOT NULL DEFAULT 0,
	tags                   JSONB,
	origin                 TEXT NOT NULL,
	parent_strategy_id     TEXT,
	deprecated_at          TIMESTAMPTZ,
	deprecated_reason      TEXT,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS query_cache (
	query_hash       TEXT PRIMARY KEY,
	normalized_query TEXT NOT NULL,
	executed_at      TIMESTAMPTZ NOT NULL,
	results_count    INT NOT NULL DEFAULT 0,
	expires_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS budget_periods (
	key            TEXT PRIMARY KEY,
	free_queries   INT NOT NULL DEFAULT 0,
	paid_queries   INT NOT NULL DEFAULT 0,
	ai_calls_light INT NOT NULL DEFAULT 0,
	ai_calls_heavy INT NOT NULL DEFAULT 0,
	cost_usd       DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS budget_events (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	reason     TEXT NOT NULL,
	day_cost   DOUBLE PRECISION NOT NULL DEFAULT 0,
	month_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	config       JSONB NOT NULL,
	stats        JSONB NOT NULL DEFAULT '{}',
	errors       JSONB NOT NULL DEFAULT '[]',
	cancelled    BOOLEAN NOT NULL DEFAULT false,
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
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
	confidence_score INT NOT NULL DEFAULT 0,
	flags            JSONB,
	description      TEXT,
	price            TEXT,
	currency         TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS feedback (
	id          TEXT PRIMARY KEY,
	entity_id   TEXT NOT NULL,
	strategy_id TEXT,
	result      TEXT NOT NULL,
	reviewer    TEXT NOT NULL,
	notes       TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- strategies ---

func (s *PostgresStore) CreateStrategy(ctx context.Context, st *model.Strategy) error {
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
		return eris.Wrap(err, "postgres: marshal tags")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO strategies (
			id, platform, country, query_template, success_rate, total_uses,
			successful_discoveries, false_positives, tags, origin,
			parent_strategy_id, deprecated_at, deprecated_reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		st.ID, st.Platform, st.Country, st.QueryTemplate, st.SuccessRate,
		st.TotalUses, st.SuccessfulDiscoveries, st.FalsePositives, tags,
		string(st.Origin), nullStr(st.ParentStrategyID), st.DeprecatedAt,
		nullStr(st.DeprecatedReason), st.CreatedAt, st.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert strategy")
}

func (s *PostgresStore) GetStrategy(ctx context.Context, id string) (*model.Strategy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+strategyCols+` FROM strategies WHERE id = $1`, id)
	st, err := scanStrategyPg(row)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *PostgresStore) ListStrategies(ctx context.Context, f StrategyFilter) ([]model.Strategy, error) {
	q := `SELECT ` + strategyCols + ` FROM strategies WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + itoa(len(args))
	}
	if f.Platform != "" {
		q += ` AND platform = ` + arg(f.Platform)
	}
	if f.Country != "" {
		q += ` AND country = ` + arg(f.Country)
	}
	if !f.IncludeDeprecated {
		q += ` AND deprecated_at IS NULL`
	}
	q += ` ORDER BY success_rate DESC, total_uses ASC, id ASC`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list strategies")
	}
	defer rows.Close()

	var out []model.Strategy
	for rows.Next() {
		st, err := scanStrategyPg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list strategies rows")
}

func (s *PostgresStore) RecordStrategyUsage(ctx context.Context, id string, success, falsePositive bool) (*model.Strategy, error) {
	succ := 0
	if success {
		succ = 1
	}
	fp := 0
	if falsePositive {
		fp = 1
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE strategies SET
			total_uses = total_uses + 1,
			successful_discoveries = successful_discoveries + $1,
			false_positives = false_positives + $2,
			success_rate = ROUND(100.0 * (successful_discoveries + $1) / (total_uses + 1))::int,
			updated_at = now()
		WHERE id = $3`,
		succ, fp, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: record strategy usage %s", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Wrapf(ErrNotFound, "strategy %s", id)
	}
	return s.GetStrategy(ctx, id)
}

func (s *PostgresStore) SetStrategyRate(ctx context.Context, id string, successful, total int) error {
	rate := 0
	if total > 0 {
		rate = int(float64(successful)/float64(total)*100 + 0.5)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE strategies SET
			successful_discoveries = $1, total_uses = $2, success_rate = $3, updated_at = now()
		WHERE id = $4`,
		successful, total, rate, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set strategy rate %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "strategy %s", id)
	}
	return nil
}

func (s *PostgresStore) DeprecateStrategy(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE strategies SET deprecated_at = now(), deprecated_reason = $1, updated_at = now()
		WHERE id = $2 AND deprecated_at IS NULL`,
		reason, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: deprecate strategy %s", id)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetStrategy(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// --- query cache ---

func (s *PostgresStore) GetQueryCache(ctx context.Context, hash string) (*model.QueryCacheEntry, error) {
	var e model.QueryCacheEntry
	err := s.pool.QueryRow(ctx, `
		SELECT query_hash, normalized_query, executed_at, results_count, expires_at
		FROM query_cache WHERE query_hash = $1`, hash,
	).Scan(&e.QueryHash, &e.NormalizedQuery, &e.ExecutedAt, &e.ResultsCount, &e.ExpiresAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get query cache")
	}
	return &e, nil
}

func (s *PostgresStore) UpsertQueryCache(ctx context.Context, e *model.QueryCacheEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO query_cache (query_hash, normalized_query, executed_at, results_count, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (query_hash) DO UPDATE SET
			normalized_query = EXCLUDED.normalized_query,
			executed_at = EXCLUDED.executed_at,
			results_count = EXCLUDED.results_count,
			expires_at = EXCLUDED.expires_at`,
		e.QueryHash, e.NormalizedQuery, e.ExecutedAt, e.ResultsCount, e.ExpiresAt,
	)
	return eris.Wrap(err, "postgres: upsert query cache")
}

func (s *PostgresStore) DeleteExpiredQueryCache(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM query_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired query cache")
	}
	return tag.RowsAffected(), nil
}

// --- budget ---

func (s *PostgresStore) IncrementBudget(ctx context.Context, dayKey, monthKey string, d model.BudgetDelta) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin budget tx")
	}
	defer tx.Rollback(ctx)

	for _, key := range []string{dayKey, monthKey} {
		_, err := tx.Exec(ctx, `
			INSERT INTO budget_periods (key, free_queries, paid_queries, ai_calls_light, ai_calls_heavy, cost_usd, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (key) DO UPDATE SET
				free_queries = budget_periods.free_queries + EXCLUDED.free_queries,
				paid_queries = budget_periods.paid_queries + EXCLUDED.paid_queries,
				ai_calls_light = budget_periods.ai_calls_light + EXCLUDED.ai_calls_light,
				ai_calls_heavy = budget_periods.ai_calls_heavy + EXCLUDED.ai_calls_heavy,
				cost_usd = budget_periods.cost_usd + EXCLUDED.cost_usd,
				updated_at = now()`,
			key, d.FreeQueries, d.PaidQueries, d.AICallsLight, d.AICallsHeavy, d.CostUSD,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: increment budget %s", key)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit budget tx")
}

func (s *PostgresStore) GetBudgetPeriod(ctx context.Context, key string) (*model.BudgetPeriod, error) {
	var p model.BudgetPeriod
	err := s.pool.QueryRow(ctx, `
		SELECT key, free_queries, paid_queries, ai_calls_light, ai_calls_heavy, cost_usd, updated_at
		FROM budget_periods WHERE key = $1`, key,
	).Scan(&p.Key, &p.FreeQueries, &p.PaidQueries, &p.AICallsLight, &p.AICallsHeavy, &p.CostUSD, &p.UpdatedAt)
	if isNoRows(err) {
		return &model.BudgetPeriod{Key: key}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get budget period")
	}
	return &p, nil
}

func (s *PostgresStore) AppendBudgetEvent(ctx context.Context, ev *model.BudgetEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO budget_events (id, kind, reason, day_cost, month_cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.Kind, ev.Reason, ev.DayCost, ev.MonthCost, ev.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append budget event")
}

func (s *PostgresStore) ListBudgetEvents(ctx context.Context, limit int) ([]model.BudgetEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, reason, day_cost, month_cost, created_at
		FROM budget_events ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list budget events")
	}
	defer rows.Close()

	var out []model.BudgetEvent
	for rows.Next() {
		var ev model.BudgetEvent
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.Reason, &ev.DayCost, &ev.MonthCost, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan budget event")
		}
		out = append(out, ev)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list budget events rows")
}

// --- runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, kind model.RunKind, cfg model.RunConfig) (*model.ScraperRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal run config")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO runs (id, kind, status, config, stats, errors, created_at, updated_at)
		VALUES ($1, $2, $3, $4, '{}', '[]', $5, $5)`,
		id, string(kind), string(model.RunStatusPending), cfgJSON, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.ScraperRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runCols+` FROM runs WHERE id = $1`, id)
	return scanRunPg(row)
}

func (s *PostgresStore) ListRuns(ctx context.Context, f RunFilter) ([]model.ScraperRun, error) {
	q := `SELECT ` + runCols + ` FROM runs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + itoa(len(args))
	}
	if f.Status != "" {
		q += ` AND status = ` + arg(string(f.Status))
	}
	if f.Kind != "" {
		q += ` AND kind = ` + arg(string(f.Kind))
	}
	q += ` ORDER BY created_at ASC`
	if f.Limit > 0 {
		q += ` LIMIT ` + arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.ScraperRun
	for rows.Next() {
		r, err := scanRunPg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs rows")
}

func (s *PostgresStore) StartRun(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE runs SET status = $1, started_at = now(), updated_at = now()
		WHERE id = $2 AND status = $3`,
		string(model.RunStatusRunning), id, string(model.RunStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: start run %s", id)
	}
	return s.guardTransitionPg(ctx, tag, id)
}

func (s *PostgresStore) MergeRunStats(ctx context.Context, id string, delta model.RunStats) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin stats tx")
	}
	defer tx.Rollback(ctx)

	var statsJSON []byte
	err = tx.QueryRow(ctx, `SELECT stats FROM runs WHERE id = $1 FOR UPDATE`, id).Scan(&statsJSON)
	if isNoRows(err) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: read run stats %s", id)
	}

	stats := model.RunStats{}
	if err := json.Unmarshal(statsJSON, &stats); err != nil {
		return eris.Wrap(err, "postgres: unmarshal run stats")
	}
	stats.Merge(delta)

	merged, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run stats")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE runs SET stats = $1, updated_at = now() WHERE id = $2`, merged, id,
	); err != nil {
		return eris.Wrapf(err, "postgres: update run stats %s", id)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit stats tx")
}

func (s *PostgresStore) AddRunError(ctx context.Context, id string, rerr model.RunError) error {
	if rerr.OccurredAt.IsZero() {
		rerr.OccurredAt = time.Now().UTC()
	}
	errJSON, err := json.Marshal(rerr)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run error")
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE runs SET
			errors = errors || $1::jsonb,
			stats = jsonb_set(stats, '{errors}', to_jsonb(COALESCE((stats->>'errors')::bigint, 0) + 1)),
			updated_at = now()
		WHERE id = $2`,
		errJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: add run error %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, id string, final model.RunStats) error {
	if len(final) > 0 {
		if err := s.MergeRunStats(ctx, id, final); err != nil {
			return err
		}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE runs SET status = $1, completed_at = now(), updated_at = now()
		WHERE id = $2 AND status = $3`,
		string(model.RunStatusCompleted), id, string(model.RunStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", id)
	}
	return s.guardTransitionPg(ctx, tag, id)
}

func (s *PostgresStore) FailRun(ctx context.Context, id string, errMsg string) error {
	if errMsg != "" {
		if err := s.AddRunError(ctx, id, model.RunError{Message: errMsg}); err != nil {
			return err
		}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE runs SET status = $1, completed_at = now(), updated_at = now()
		WHERE id = $2 AND status IN ($3, $4)`,
		string(model.RunStatusFailed), id,
		string(model.RunStatusPending), string(model.RunStatusRunning),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", id)
	}
	return s.guardTransitionPg(ctx, tag, id)
}

func (s *PostgresStore) CancelRun(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET cancelled = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: cancel run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

func (s *PostgresStore) guardTransitionPg(ctx context.Context, tag pgconn.CommandTag, id string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetRun(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

// --- entities ---

func (s *PostgresStore) CreateEntity(ctx context.Context, e *model.DiscoveredEntity) error {
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
		return eris.Wrap(err, "postgres: marshal entity flags")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO entities (
			id, kind, status, platform, country, city, name, url, venue_id,
			parent_entity_id, run_id, strategy_id, confidence_score, flags,
			description, price, currency, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		e.ID, string(e.Kind), string(e.Status), e.Platform, e.Country,
		nullStr(e.City), e.Name, nullStr(e.URL), nullStr(e.VenueID),
		nullStr(e.ParentEntityID), nullStr(e.RunID), nullStr(e.StrategyID),
		e.ConfidenceScore, flags, nullStr(e.Description),
		nullStr(e.Price), nullStr(e.Currency), e.CreatedAt, e.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: insert entity")
}

func (s *PostgresStore) GetEntity(ctx context.Context, id string) (*model.DiscoveredEntity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entityCols+` FROM entities WHERE id = $1`, id)
	return scanEntityPg(row)
}

func (s *PostgresStore) ListEntities(ctx context.Context, f EntityFilter) ([]model.DiscoveredEntity, error) {
	q := `SELECT ` + entityCols + ` FROM entities WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + itoa(len(args))
	}
	if f.RunID != "" {
		q += ` AND run_id = ` + arg(f.RunID)
	}
	if f.Status != "" {
		q += ` AND status = ` + arg(string(f.Status))
	}
	if f.Kind != "" {
		q += ` AND kind = ` + arg(string(f.Kind))
	}
	if f.Platform != "" {
		q += ` AND platform = ` + arg(f.Platform)
	}
	q += ` ORDER BY created_at ASC`
	if f.Limit > 0 {
		q += ` LIMIT ` + arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var out []model.DiscoveredEntity
	for rows.Next() {
		e, err := scanEntityPg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list entities rows")
}

func (s *PostgresStore) UpdateEntityStatus(ctx context.Context, id string, status model.EntityStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE entities SET status = $1, updated_at = now()
		WHERE id = $2 AND status != $3`,
		string(status), id, string(model.EntityPromoted),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update entity status %s", id)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetEntity(ctx, id); err != nil {
			return err
		}
		return ErrInvalidTransition
	}
	return nil
}

func (s *PostgresStore) VenueStaged(ctx context.Context, platform, venueID string) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(1) FROM entities WHERE kind = $1 AND platform = $2 AND venue_id = $3`,
		string(model.EntityVenue), platform, venueID,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "postgres: venue staged")
	}
	return n > 0, nil
}

// --- feedback ---

func (s *PostgresStore) AppendFeedback(ctx context.Context, r *model.FeedbackRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feedback (id, entity_id, strategy_id, result, reviewer, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.EntityID, nullStr(r.StrategyID), string(r.Result), r.Reviewer,
		nullStr(r.Notes), r.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append feedback")
}

func (s *PostgresStore) ListFeedback(ctx context.Context, f FeedbackFilter) ([]model.FeedbackRecord, error) {
	q := `SELECT id, entity_id, strategy_id, result, reviewer, notes, created_at FROM feedback WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + itoa(len(args))
	}
	if f.StrategyID != "" {
		q += ` AND strategy_id = ` + arg(f.StrategyID)
	}
	if f.EntityID != "" {
		q += ` AND entity_id = ` + arg(f.EntityID)
	}
	q += ` ORDER BY created_at ASC`
	if f.Limit > 0 {
		q += ` LIMIT ` + arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list feedback")
	}
	defer rows.Close()

	var out []model.FeedbackRecord
	for rows.Next() {
		var r model.FeedbackRecord
		var strategyID, notes sql.NullString
		if err := rows.Scan(&r.ID, &r.EntityID, &strategyID, &r.Result, &r.Reviewer, &notes, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan feedback")
		}
		r.StrategyID = strategyID.String
		r.Notes = notes.String
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list feedback rows")
}

// --- scan helpers ---

func scanStrategyPg(row rowScanner) (*model.Strategy, error) {
	var st model.Strategy
	var tags []byte
	var parentID, depReason sql.NullString
	var depAt sql.NullTime

	err := row.Scan(
		&st.ID, &st.Platform, &st.Country, &st.QueryTemplate, &st.SuccessRate,
		&st.TotalUses, &st.SuccessfulDiscoveries, &st.FalsePositives, &tags,
		&st.Origin, &parentID, &depAt, &depReason, &st.CreatedAt, &st.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan strategy")
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &st.Tags); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal strategy tags")
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

func scanRunPg(row rowScanner) (*model.ScraperRun, error) {
	var r model.ScraperRun
	var cfgJSON, statsJSON, errsJSON []byte
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Kind, &r.Status, &cfgJSON, &statsJSON, &errsJSON,
		&r.Cancelled, &startedAt, &completedAt, &r.CreatedAt, &r.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	if err := json.Unmarshal(cfgJSON, &r.Config); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run config")
	}
	r.Stats = model.RunStats{}
	if err := json.Unmarshal(statsJSON, &r.Stats); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run stats")
	}
	if err := json.Unmarshal(errsJSON, &r.Errors); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run errors")
	}
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

func scanEntityPg(row rowScanner) (*model.DiscoveredEntity, error) {
	var e model.DiscoveredEntity
	var city, url, venueID, parentID, runID, strategyID sql.NullString
	var desc, price, currency sql.NullString
	var flags []byte

	err := row.Scan(&e.ID, &e.Kind, &e.Status, &e.Platform, &e.Country, &city,
		&e.Name, &url, &venueID, &parentID, &runID, &strategyID,
		&e.ConfidenceScore, &flags, &desc, &price, &currency,
		&e.CreatedAt, &e.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan entity")
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
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &e.Flags); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal entity flags")
		}
	}
	return &e, nil
}

func isNoRows(err error) bool {
	return err != nil && (errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows))
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
