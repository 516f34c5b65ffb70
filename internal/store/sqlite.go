package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/affiliate-outreach/internal/model"
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
CREATE TABLE IF NOT EXISTS affiliates (
	id                       INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id                  TEXT NOT NULL,
	domain                   TEXT NOT NULL,
	name                     TEXT NOT NULL DEFAULT '',
	platform                 TEXT NOT NULL DEFAULT '',
	bio                      TEXT NOT NULL DEFAULT '',
	email                    TEXT NOT NULL DEFAULT '',
	email_status             TEXT NOT NULL DEFAULT '',
	email_results            TEXT,
	ai_generated_message     TEXT NOT NULL DEFAULT '',
	ai_generated_messages    TEXT,
	ai_generation_started_at DATETIME,
	ai_generated_at          DATETIME,
	created_at               DATETIME NOT NULL,
	updated_at               DATETIME NOT NULL,
	UNIQUE (user_id, domain)
);

CREATE INDEX IF NOT EXISTS idx_affiliates_user ON affiliates(user_id);

CREATE TABLE IF NOT EXISTS discovery_jobs (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'running',
	completed_actors INTEGER NOT NULL DEFAULT 0,
	total_actors     INTEGER NOT NULL DEFAULT 0,
	platforms        TEXT NOT NULL DEFAULT '[]',
	last_flushed_at  DATETIME,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_discovery_jobs_user_status ON discovery_jobs(user_id, status);

CREATE TABLE IF NOT EXISTS discovery_items (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id   TEXT NOT NULL REFERENCES discovery_jobs(id) ON DELETE CASCADE,
	domain   TEXT NOT NULL,
	name     TEXT NOT NULL DEFAULT '',
	platform TEXT NOT NULL DEFAULT '',
	bio      TEXT NOT NULL DEFAULT '',
	email    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_discovery_items_job ON discovery_items(job_id, id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateAffiliate(ctx context.Context, rec *model.AffiliateRecord) error {
	results, err := encodeResults(rec.EmailResults)
	if err != nil {
		return err
	}
	msgs, err := encodeMessages(rec.AIGeneratedMessages)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO affiliates (user_id, domain, name, platform, bio, email, email_status, email_results,
			ai_generated_message, ai_generated_messages, ai_generation_started_at, ai_generated_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.Domain, rec.Name, rec.Platform, rec.Bio, rec.Email, string(rec.EmailStatus),
		nullText(results), rec.AIGeneratedMessage, nullText(msgs),
		nullTime(rec.AIGenerationStartedAt), nullTime(rec.AIGeneratedAt), now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert affiliate %s", rec.Domain)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: affiliate id")
	}
	rec.ID = id
	rec.CreatedAt, rec.UpdatedAt = now, now
	return nil
}

func (s *SQLiteStore) GetAffiliate(ctx context.Context, userID string, id int64) (*model.AffiliateRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+affiliateColumns+` FROM affiliates WHERE user_id = ? AND id = ?`,
		userID, id,
	)
	rec, err := scanSQLiteAffiliate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get affiliate %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get affiliate %d", id)
	}
	return rec, nil
}

func (s *SQLiteStore) ListAffiliates(ctx context.Context, userID string) ([]model.AffiliateRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+affiliateColumns+` FROM affiliates WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list affiliates")
	}
	defer rows.Close()

	var out []model.AffiliateRecord
	for rows.Next() {
		rec, err := scanSQLiteAffiliate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan affiliate")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list affiliates iterate")
}

func (s *SQLiteStore) SaveEmailResult(ctx context.Context, userID string, id int64, email string, status model.EmailStatus, results *model.EmailResults) error {
	resultsJSON, err := encodeResults(results)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE affiliates SET email = ?, email_status = ?, email_results = ?, updated_at = ?
		 WHERE user_id = ? AND id = ?`,
		email, string(status), nullText(resultsJSON), time.Now().UTC(), userID, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save email result %d", id)
	}
	return checkRowsAffected(res, "sqlite: save email result", id)
}

func (s *SQLiteStore) MarkGenerationStarted(ctx context.Context, userID string, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE affiliates SET ai_generation_started_at = ?, updated_at = ? WHERE user_id = ? AND id = ?`,
		at.UTC(), time.Now().UTC(), userID, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark generation started %d", id)
	}
	return checkRowsAffected(res, "sqlite: mark generation started", id)
}

// ClearGenerationStarted resets ai_generation_started_at after a generation
// that produced nothing.
func (s *SQLiteStore) ClearGenerationStarted(ctx context.Context, userID string, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE affiliates SET ai_generation_started_at = NULL, updated_at = ? WHERE user_id = ? AND id = ?`,
		time.Now().UTC(), userID, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: clear generation started %d", id)
	}
	return nil
}

// SaveMessage writes msg into the per-contact map under contactEmail, or
// into the legacy single-message column when there is no contact email.
func (s *SQLiteStore) SaveMessage(ctx context.Context, userID string, id int64, contactEmail string, msg model.StoredMessage) error {
	generatedAt := time.Now().UTC()
	if msg.GeneratedAt != nil {
		generatedAt = msg.GeneratedAt.UTC()
	}

	var (
		res sql.Result
		err error
	)
	if key := contactKey(contactEmail); key == "" {
		res, err = s.db.ExecContext(ctx,
			`UPDATE affiliates SET ai_generated_message = ?, ai_generated_at = ?, updated_at = ?
			 WHERE user_id = ? AND id = ?`,
			msg.Message, generatedAt, time.Now().UTC(), userID, id,
		)
	} else {
		body, merr := msg.MarshalJSON()
		if merr != nil {
			return eris.Wrap(merr, "sqlite: encode message")
		}
		res, err = s.db.ExecContext(ctx,
			`UPDATE affiliates
			 SET ai_generated_messages = json_set(COALESCE(ai_generated_messages, '{}'), '$."' || ? || '"', json(?)),
			     ai_generated_at = ?, updated_at = ?
			 WHERE user_id = ? AND id = ?`,
			key, string(body), generatedAt, time.Now().UTC(), userID, id,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: save message %d", id)
	}
	return checkRowsAffected(res, "sqlite: save message", id)
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.DiscoveryJob) error {
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.JobStatusRunning
	}
	if job.Platforms == nil {
		job.Platforms = []string{}
	}
	platforms, err := json.Marshal(job.Platforms)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode platforms")
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO discovery_jobs (id, user_id, status, completed_actors, total_actors, platforms, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, job.UserID, string(job.Status), job.CompletedActors, job.TotalActors, string(platforms), now, now,
	)
	return eris.Wrapf(err, "sqlite: insert job %s", job.JobID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, userID, jobID string) (*model.DiscoveryJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM discovery_jobs WHERE user_id = ? AND id = ?`,
		userID, jobID,
	)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return job, nil
}

func (s *SQLiteStore) ActiveJobs(ctx context.Context, userID string) ([]model.DiscoveryJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM discovery_jobs WHERE user_id = ? AND status = ? ORDER BY created_at`,
		userID, string(model.JobStatusRunning),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: active jobs")
	}
	defer rows.Close()

	var out []model.DiscoveryJob
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		out = append(out, *job)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: active jobs iterate")
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, userID, jobID string, completedActors int, status model.JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE discovery_jobs SET completed_actors = ?, status = ?, updated_at = ? WHERE user_id = ? AND id = ?`,
		completedActors, string(status), time.Now().UTC(), userID, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: update job %s", jobID)
	}
	return nil
}

func (s *SQLiteStore) StageItems(ctx context.Context, jobID string, items []model.DiscoveryItem) (int, error) {
	rows := itemRows(jobID, items)
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin stage")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO discovery_items (job_id, domain, name, platform, bio, email) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare stage")
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: stage item for job %s", jobID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit stage")
	}
	return len(rows), nil
}

// FlushJob moves the job's staged items into affiliates in one transaction.
func (s *SQLiteStore) FlushJob(ctx context.Context, userID, jobID string) (int, error) {
	if _, err := s.GetJob(ctx, userID, jobID); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin flush")
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx,
		`SELECT id, domain, name, platform, bio, email FROM discovery_items WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: read staged items for job %s", jobID)
	}
	var items []model.DiscoveryItem
	seen := make(map[string]bool)
	for rows.Next() {
		var it model.DiscoveryItem
		if err := rows.Scan(&it.ID, &it.Domain, &it.Name, &it.Platform, &it.Bio, &it.Email); err != nil {
			rows.Close()
			return 0, eris.Wrap(err, "sqlite: scan staged item")
		}
		if seen[it.Domain] {
			continue
		}
		seen[it.Domain] = true
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "sqlite: staged items iterate")
	}

	now := time.Now().UTC()
	for _, it := range items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO affiliates (user_id, domain, name, platform, bio, email, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (user_id, domain) DO UPDATE SET
			   name = excluded.name, platform = excluded.platform, bio = excluded.bio, updated_at = excluded.updated_at`,
			userID, it.Domain, it.Name, it.Platform, it.Bio, it.Email, now, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: flush %s", it.Domain)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM discovery_items WHERE job_id = ?`, jobID); err != nil {
		return 0, eris.Wrapf(err, "sqlite: clear staged items for job %s", jobID)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE discovery_jobs SET last_flushed_at = ?, updated_at = ? WHERE id = ?`, now, now, jobID,
	); err != nil {
		return 0, eris.Wrapf(err, "sqlite: stamp flush for job %s", jobID)
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit flush")
	}
	return len(items), nil
}

// helpers

func checkRowsAffected(res sql.Result, op string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %d", op, id)
	}
	return nil
}

func nullText(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: b != nil}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func scanSQLiteAffiliate(row scannable) (*model.AffiliateRecord, error) {
	var (
		r                 affiliateRow
		status            string
		results, messages sql.NullString
		startedAt, genAt  sql.NullTime
	)
	err := row.Scan(
		&r.rec.ID, &r.rec.UserID, &r.rec.Domain, &r.rec.Name, &r.rec.Platform, &r.rec.Bio,
		&r.rec.Email, &status, &results, &r.rec.AIGeneratedMessage, &messages,
		&startedAt, &genAt, &r.rec.CreatedAt, &r.rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.rec.EmailStatus = model.EmailStatus(status)
	r.rec.AIGenerationStartedAt = timePtr(startedAt)
	r.rec.AIGeneratedAt = timePtr(genAt)
	if results.Valid {
		r.results = []byte(results.String)
	}
	if messages.Valid {
		r.messages = []byte(messages.String)
	}
	return r.decode()
}

func scanSQLiteJob(row scannable) (*model.DiscoveryJob, error) {
	var (
		j         model.DiscoveryJob
		status    string
		platforms string
		flushedAt sql.NullTime
	)
	err := row.Scan(&j.JobID, &j.UserID, &status, &j.CompletedActors, &j.TotalActors,
		&platforms, &flushedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	j.LastFlushedAt = timePtr(flushedAt)
	if err := json.Unmarshal([]byte(platforms), &j.Platforms); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode platforms for job %s", j.JobID)
	}
	return &j, nil
}
