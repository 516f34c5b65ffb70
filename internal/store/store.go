// Package store persists affiliates, their enrichment and generated
// messages, and discovery jobs with their staged results.
package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/affiliate-outreach/internal/model"
)

// ErrNotFound is returned when a record does not exist for the user.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for the outreach backend.
// Every read and write is scoped to a user.
type Store interface {
	// Affiliates
	CreateAffiliate(ctx context.Context, rec *model.AffiliateRecord) error
	GetAffiliate(ctx context.Context, userID string, id int64) (*model.AffiliateRecord, error)
	ListAffiliates(ctx context.Context, userID string) ([]model.AffiliateRecord, error)
	SaveEmailResult(ctx context.Context, userID string, id int64, email string, status model.EmailStatus, results *model.EmailResults) error

	// Generated messages
	MarkGenerationStarted(ctx context.Context, userID string, id int64, at time.Time) error
	ClearGenerationStarted(ctx context.Context, userID string, id int64) error
	SaveMessage(ctx context.Context, userID string, id int64, contactEmail string, msg model.StoredMessage) error

	// Discovery jobs
	CreateJob(ctx context.Context, job *model.DiscoveryJob) error
	GetJob(ctx context.Context, userID, jobID string) (*model.DiscoveryJob, error)
	ActiveJobs(ctx context.Context, userID string) ([]model.DiscoveryJob, error)
	UpdateJobProgress(ctx context.Context, userID, jobID string, completedActors int, status model.JobStatus) error
	StageItems(ctx context.Context, jobID string, items []model.DiscoveryItem) (int, error)
	FlushJob(ctx context.Context, userID, jobID string) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// contactKey is the per-contact map key for an email.
func contactKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// affiliateRow holds the raw column values shared by both drivers before
// JSON columns are decoded.
type affiliateRow struct {
	rec      model.AffiliateRecord
	results  []byte
	messages []byte
}

func (r *affiliateRow) decode() (*model.AffiliateRecord, error) {
	rec := r.rec
	if len(r.results) > 0 {
		rec.EmailResults = &model.EmailResults{}
		if err := json.Unmarshal(r.results, rec.EmailResults); err != nil {
			return nil, eris.Wrapf(err, "store: decode email_results for affiliate %d", rec.ID)
		}
	}
	if len(r.messages) > 0 {
		if err := json.Unmarshal(r.messages, &rec.AIGeneratedMessages); err != nil {
			return nil, eris.Wrapf(err, "store: decode ai_generated_messages for affiliate %d", rec.ID)
		}
	}
	return &rec, nil
}

func encodeResults(results *model.EmailResults) ([]byte, error) {
	if results == nil {
		return nil, nil
	}
	b, err := json.Marshal(results)
	return b, eris.Wrap(err, "store: encode email_results")
}

func encodeMessages(msgs map[string]model.StoredMessage) ([]byte, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(msgs)
	return b, eris.Wrap(err, "store: encode ai_generated_messages")
}

// scannable is satisfied by pgx.Row, *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// discoveryItemColumns is the staged item column order used by both drivers.
var discoveryItemColumns = []string{"job_id", "domain", "name", "platform", "bio", "email"}

func itemRows(jobID string, items []model.DiscoveryItem) [][]any {
	rows := make([][]any, 0, len(items))
	for _, it := range items {
		domain := strings.ToLower(strings.TrimSpace(it.Domain))
		if domain == "" {
			continue
		}
		rows = append(rows, []any{jobID, domain, it.Name, it.Platform, it.Bio, strings.TrimSpace(it.Email)})
	}
	return rows
}
