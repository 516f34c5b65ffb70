package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/affiliate-outreach/internal/db"
	"github.com/sells-group/affiliate-outreach/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying pool for subsystems that share the
// database, such as the credit ledger.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS affiliates (
	id                       BIGSERIAL PRIMARY KEY,
	user_id                  TEXT NOT NULL,
	domain                   TEXT NOT NULL,
	name                     TEXT NOT NULL DEFAULT '',
	platform                 TEXT NOT NULL DEFAULT '',
	bio                      TEXT NOT NULL DEFAULT '',
	email                    TEXT NOT NULL DEFAULT '',
	email_status             TEXT NOT NULL DEFAULT '',
	email_results            JSONB,
	ai_generated_message     TEXT NOT NULL DEFAULT '',
	ai_generated_messages    JSONB,
	ai_generation_started_at TIMESTAMPTZ,
	ai_generated_at          TIMESTAMPTZ,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, domain)
);

CREATE INDEX IF NOT EXISTS idx_affiliates_user ON affiliates(user_id);

CREATE TABLE IF NOT EXISTS discovery_jobs (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id          TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'running',
	completed_actors INTEGER NOT NULL DEFAULT 0,
	total_actors     INTEGER NOT NULL DEFAULT 0,
	platforms        TEXT[] NOT NULL DEFAULT '{}',
	last_flushed_at  TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_discovery_jobs_user_status ON discovery_jobs(user_id, status);

CREATE TABLE IF NOT EXISTS discovery_items (
	id         BIGSERIAL PRIMARY KEY,
	job_id     TEXT NOT NULL REFERENCES discovery_jobs(id) ON DELETE CASCADE,
	domain     TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	platform   TEXT NOT NULL DEFAULT '',
	bio        TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_discovery_items_job ON discovery_items(job_id, id);

CREATE TABLE IF NOT EXISTS credit_balances (
	user_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, kind)
);

CREATE TABLE IF NOT EXISTS credit_transactions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	kind          TEXT NOT NULL,
	amount        BIGINT NOT NULL,
	subject_id    TEXT NOT NULL DEFAULT '',
	subject_type  TEXT NOT NULL DEFAULT '',
	balance_after BIGINT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_credit_transactions_user ON credit_transactions(user_id, created_at DESC);
`

const affiliateColumns = `id, user_id, domain, name, platform, bio, email, email_status, email_results,
	ai_generated_message, ai_generated_messages, ai_generation_started_at, ai_generated_at, created_at, updated_at`

const jobColumns = `id, user_id, status, completed_actors, total_actors, platforms, last_flushed_at, created_at, updated_at`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateAffiliate(ctx context.Context, rec *model.AffiliateRecord) error {
	results, err := encodeResults(rec.EmailResults)
	if err != nil {
		return err
	}
	msgs, err := encodeMessages(rec.AIGeneratedMessages)
	if err != nil {
		return err
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO affiliates (user_id, domain, name, platform, bio, email, email_status, email_results,
			ai_generated_message, ai_generated_messages)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at, updated_at`,
		rec.UserID, rec.Domain, rec.Name, rec.Platform, rec.Bio, rec.Email, string(rec.EmailStatus), results,
		rec.AIGeneratedMessage, msgs,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	return eris.Wrapf(err, "postgres: insert affiliate %s", rec.Domain)
}

func (s *PostgresStore) GetAffiliate(ctx context.Context, userID string, id int64) (*model.AffiliateRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+affiliateColumns+` FROM affiliates WHERE user_id = $1 AND id = $2`,
		userID, id,
	)
	rec, err := scanPostgresAffiliate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get affiliate %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get affiliate %d", id)
	}
	return rec, nil
}

func (s *PostgresStore) ListAffiliates(ctx context.Context, userID string) ([]model.AffiliateRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+affiliateColumns+` FROM affiliates WHERE user_id = $1 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list affiliates")
	}
	defer rows.Close()

	var out []model.AffiliateRecord
	for rows.Next() {
		rec, err := scanPostgresAffiliate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan affiliate")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list affiliates iterate")
}

func (s *PostgresStore) SaveEmailResult(ctx context.Context, userID string, id int64, email string, status model.EmailStatus, results *model.EmailResults) error {
	resultsJSON, err := encodeResults(results)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE affiliates SET email = $3, email_status = $4, email_results = $5, updated_at = now()
		 WHERE user_id = $1 AND id = $2`,
		userID, id, email, string(status), resultsJSON,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save email result %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: save email result %d", id)
	}
	return nil
}

func (s *PostgresStore) MarkGenerationStarted(ctx context.Context, userID string, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE affiliates SET ai_generation_started_at = $3, updated_at = now() WHERE user_id = $1 AND id = $2`,
		userID, id, at.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark generation started %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: mark generation started %d", id)
	}
	return nil
}

// ClearGenerationStarted resets ai_generation_started_at after a generation
// that produced nothing, so readers stop treating it as running.
func (s *PostgresStore) ClearGenerationStarted(ctx context.Context, userID string, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE affiliates SET ai_generation_started_at = NULL, updated_at = now() WHERE user_id = $1 AND id = $2`,
		userID, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: clear generation started %d", id)
	}
	return nil
}

// SaveMessage writes msg into the per-contact map under contactEmail, or
// into the legacy single-message column when there is no contact email.
func (s *PostgresStore) SaveMessage(ctx context.Context, userID string, id int64, contactEmail string, msg model.StoredMessage) error {
	generatedAt := time.Now().UTC()
	if msg.GeneratedAt != nil {
		generatedAt = msg.GeneratedAt.UTC()
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if key := contactKey(contactEmail); key == "" {
		tag, err = s.pool.Exec(ctx,
			`UPDATE affiliates SET ai_generated_message = $3, ai_generated_at = $4, updated_at = now()
			 WHERE user_id = $1 AND id = $2`,
			userID, id, msg.Message, generatedAt,
		)
	} else {
		body, merr := msg.MarshalJSON()
		if merr != nil {
			return eris.Wrap(merr, "postgres: encode message")
		}
		tag, err = s.pool.Exec(ctx,
			`UPDATE affiliates
			 SET ai_generated_messages = COALESCE(ai_generated_messages, '{}'::jsonb) || jsonb_build_object($3::text, $4::jsonb),
			     ai_generated_at = $5, updated_at = now()
			 WHERE user_id = $1 AND id = $2`,
			userID, id, key, string(body), generatedAt,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: save message %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: save message %d", id)
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.DiscoveryJob) error {
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.JobStatusRunning
	}
	if job.Platforms == nil {
		job.Platforms = []string{}
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO discovery_jobs (id, user_id, status, completed_actors, total_actors, platforms, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.JobID, job.UserID, string(job.Status), job.CompletedActors, job.TotalActors, job.Platforms, now, now,
	)
	return eris.Wrapf(err, "postgres: insert job %s", job.JobID)
}

func (s *PostgresStore) GetJob(ctx context.Context, userID, jobID string) (*model.DiscoveryJob, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM discovery_jobs WHERE user_id = $1 AND id = $2`,
		userID, jobID,
	)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return job, nil
}

func (s *PostgresStore) ActiveJobs(ctx context.Context, userID string) ([]model.DiscoveryJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM discovery_jobs WHERE user_id = $1 AND status = $2 ORDER BY created_at`,
		userID, string(model.JobStatusRunning),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active jobs")
	}
	defer rows.Close()

	var out []model.DiscoveryJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		out = append(out, *job)
	}
	return out, eris.Wrap(rows.Err(), "postgres: active jobs iterate")
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, userID, jobID string, completedActors int, status model.JobStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE discovery_jobs SET completed_actors = $3, status = $4, updated_at = now()
		 WHERE user_id = $1 AND id = $2`,
		userID, jobID, completedActors, string(status),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: update job %s", jobID)
	}
	return nil
}

// StageItems copies discovery results into discovery_items.
func (s *PostgresStore) StageItems(ctx context.Context, jobID string, items []model.DiscoveryItem) (int, error) {
	n, err := db.CopyFrom(ctx, s.pool, "discovery_items", discoveryItemColumns, itemRows(jobID, items))
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: stage items for job %s", jobID)
	}
	return int(n), nil
}

// FlushJob upserts the job's staged items into affiliates, removes the
// flushed items and stamps last_flushed_at. Items staged while the flush
// runs are left for the next flush. Re-flushing is harmless because the
// upsert is keyed on (user_id, domain).
func (s *PostgresStore) FlushJob(ctx context.Context, userID, jobID string) (int, error) {
	job, err := s.GetJob(ctx, userID, jobID)
	if err != nil {
		return 0, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, domain, name, platform, bio, email FROM discovery_items WHERE job_id = $1 ORDER BY id`,
		job.JobID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: read staged items for job %s", jobID)
	}
	var (
		upserts [][]any
		maxID   int64
		seen    = make(map[string]bool)
	)
	for rows.Next() {
		var it model.DiscoveryItem
		if err := rows.Scan(&it.ID, &it.Domain, &it.Name, &it.Platform, &it.Bio, &it.Email); err != nil {
			rows.Close()
			return 0, eris.Wrap(err, "postgres: scan staged item")
		}
		maxID = it.ID
		if seen[it.Domain] {
			continue
		}
		seen[it.Domain] = true
		upserts = append(upserts, []any{userID, it.Domain, it.Name, it.Platform, it.Bio, it.Email})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "postgres: staged items iterate")
	}
	if len(upserts) == 0 {
		return 0, nil
	}

	if _, err := db.MergeRows(ctx, s.pool, db.Merge{
		Table:   "affiliates",
		Columns: []string{"user_id", "domain", "name", "platform", "bio", "email"},
		Key:     []string{"user_id", "domain"},
		Refresh: []string{"name", "platform", "bio"},
	}, upserts); err != nil {
		return 0, eris.Wrapf(err, "postgres: flush job %s", jobID)
	}

	if _, err := s.pool.Exec(ctx,
		`DELETE FROM discovery_items WHERE job_id = $1 AND id <= $2`, job.JobID, maxID,
	); err != nil {
		return 0, eris.Wrapf(err, "postgres: clear staged items for job %s", jobID)
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE discovery_jobs SET last_flushed_at = now(), updated_at = now() WHERE id = $1`, job.JobID,
	); err != nil {
		return 0, eris.Wrapf(err, "postgres: stamp flush for job %s", jobID)
	}
	return len(upserts), nil
}

func scanPostgresAffiliate(row scannable) (*model.AffiliateRecord, error) {
	var r affiliateRow
	var status string
	err := row.Scan(
		&r.rec.ID, &r.rec.UserID, &r.rec.Domain, &r.rec.Name, &r.rec.Platform, &r.rec.Bio,
		&r.rec.Email, &status, &r.results, &r.rec.AIGeneratedMessage, &r.messages,
		&r.rec.AIGenerationStartedAt, &r.rec.AIGeneratedAt, &r.rec.CreatedAt, &r.rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.rec.EmailStatus = model.EmailStatus(status)
	return r.decode()
}

func scanJob(row scannable) (*model.DiscoveryJob, error) {
	var j model.DiscoveryJob
	var status string
	err := row.Scan(&j.JobID, &j.UserID, &status, &j.CompletedActors, &j.TotalActors,
		&j.Platforms, &j.LastFlushedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	return &j, nil
}
