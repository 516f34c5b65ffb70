package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/affiliate-outreach/internal/message"
	"github.com/sells-group/affiliate-outreach/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedAffiliate(t *testing.T, st Store, userID, domain string) *model.AffiliateRecord {
	t.Helper()
	rec := &model.AffiliateRecord{UserID: userID, Domain: domain, Name: "Jane Bakes", Platform: "instagram"}
	require.NoError(t, st.CreateAffiliate(context.Background(), rec))
	require.NotZero(t, rec.ID)
	return rec
}

// --- Affiliates ---

func TestSQLite_CreateAndGetAffiliate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	rec := seedAffiliate(t, st, "u1", "janebakes.com")

	got, err := st.GetAffiliate(ctx, "u1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "janebakes.com", got.Domain)
	assert.Equal(t, "Jane Bakes", got.Name)
	assert.Nil(t, got.EmailResults)
	assert.Nil(t, got.AIGeneratedAt)

	_, err = st.GetAffiliate(ctx, "u2", rec.ID)
	assert.ErrorIs(t, err, ErrNotFound, "records are scoped to their user")
}

func TestSQLite_ListAffiliates(t *testing.T) {
	st := newTestSQLiteStore(t)
	a := seedAffiliate(t, st, "u1", "a.com")
	b := seedAffiliate(t, st, "u1", "b.com")
	seedAffiliate(t, st, "u2", "c.com")

	list, err := st.ListAffiliates(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, []int64{list[0].ID, list[1].ID})
}

func TestSQLite_SaveEmailResult(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	rec := seedAffiliate(t, st, "u1", "janebakes.com")

	results := &model.EmailResults{
		Emails:     []string{"jane@janebakes.com", "info@janebakes.com"},
		Contacts:   []model.Contact{{Email: "jane@janebakes.com", FirstName: "Jane"}},
		Provider:   "apollo",
		SearchedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, st.SaveEmailResult(ctx, "u1", rec.ID, "jane@janebakes.com", model.EmailStatusFound, results))

	got, err := st.GetAffiliate(ctx, "u1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "jane@janebakes.com", got.Email)
	assert.Equal(t, model.EmailStatusFound, got.EmailStatus)
	require.NotNil(t, got.EmailResults)
	assert.Equal(t, results.Emails, got.EmailResults.Emails)
	assert.Equal(t, "Jane", got.EmailResults.Contacts[0].FirstName)

	err = st.SaveEmailResult(ctx, "u1", 9999, "", model.EmailStatusNotFound, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_SaveMessage_PerContactAndLegacy(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	rec := seedAffiliate(t, st, "u1", "janebakes.com")

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.MarkGenerationStarted(ctx, "u1", rec.ID, started))

	generated := started.Add(5 * time.Second)
	require.NoError(t, st.SaveMessage(ctx, "u1", rec.ID, "Jane@JaneBakes.com",
		model.NewStoredMessage("Hi Jane", "Partnership", generated)))
	require.NoError(t, st.SaveMessage(ctx, "u1", rec.ID, "info@janebakes.com",
		model.NewStoredMessage("Hello team", "", generated)))
	require.NoError(t, st.SaveMessage(ctx, "u1", rec.ID, "",
		model.StoredMessage{Message: "Legacy hello", GeneratedAt: &generated}))

	got, err := st.GetAffiliate(ctx, "u1", rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AIGenerationStartedAt)
	assert.True(t, started.Equal(*got.AIGenerationStartedAt))
	require.NotNil(t, got.AIGeneratedAt)
	assert.True(t, generated.Equal(*got.AIGeneratedAt))

	require.Len(t, got.AIGeneratedMessages, 2)
	assert.Equal(t, "Hi Jane", got.AIGeneratedMessages["jane@janebakes.com"].Message)
	assert.Equal(t, "Partnership", got.AIGeneratedMessages["jane@janebakes.com"].Subject)
	assert.Equal(t, model.EncodingObject, got.AIGeneratedMessages["info@janebakes.com"].Encoding)
	assert.Equal(t, "Legacy hello", got.AIGeneratedMessage)

	msgs := message.Load([]model.AffiliateRecord{*got})
	assert.Equal(t, "Hi Jane", msgs[message.NewKey(rec.ID, "jane@janebakes.com")])
	assert.Equal(t, "Legacy hello", msgs[message.NewKey(rec.ID, "")])
}

func TestSQLite_SaveMessage_Overwrites(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	rec := seedAffiliate(t, st, "u1", "janebakes.com")
	at := time.Now()

	require.NoError(t, st.SaveMessage(ctx, "u1", rec.ID, "jane@janebakes.com", model.NewStoredMessage("v1", "", at)))
	require.NoError(t, st.SaveMessage(ctx, "u1", rec.ID, "jane@janebakes.com", model.NewStoredMessage("v2", "", at)))

	got, err := st.GetAffiliate(ctx, "u1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.AIGeneratedMessages["jane@janebakes.com"].Message)
}

// --- Discovery jobs ---

func TestSQLite_JobLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	job := &model.DiscoveryJob{UserID: "u1", TotalActors: 3, Platforms: []string{"instagram", "youtube"}}
	require.NoError(t, st.CreateJob(ctx, job))
	require.NotEmpty(t, job.JobID)
	assert.Equal(t, model.JobStatusRunning, job.Status)

	active, err := st.ActiveJobs(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, []string{"instagram", "youtube"}, active[0].Platforms)

	require.NoError(t, st.UpdateJobProgress(ctx, "u1", job.JobID, 3, model.JobStatusCompleted))
	active, err = st.ActiveJobs(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, active)

	got, err := st.GetJob(ctx, "u1", job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CompletedActors)
	assert.False(t, got.Active())

	_, err = st.GetJob(ctx, "u2", job.JobID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_StageAndFlush(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	existing := seedAffiliate(t, st, "u1", "janebakes.com")

	job := &model.DiscoveryJob{UserID: "u1", TotalActors: 1}
	require.NoError(t, st.CreateJob(ctx, job))

	n, err := st.StageItems(ctx, job.JobID, []model.DiscoveryItem{
		{Domain: "JaneBakes.com", Name: "Jane Bakes Co", Platform: "tiktok"},
		{Domain: "newshop.io", Name: "New Shop", Email: "hi@newshop.io"},
		{Domain: "newshop.io", Name: "Duplicate"},
		{Domain: "  "},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n, "blank domains are not staged")

	flushed, err := st.FlushJob(ctx, "u1", job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 2, flushed)

	list, err := st.ListAffiliates(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	got, err := st.GetAffiliate(ctx, "u1", existing.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Bakes Co", got.Name, "existing affiliate is updated in place")
	assert.Equal(t, "tiktok", got.Platform)

	j, err := st.GetJob(ctx, "u1", job.JobID)
	require.NoError(t, err)
	assert.NotNil(t, j.LastFlushedAt)

	flushed, err = st.FlushJob(ctx, "u1", job.JobID)
	require.NoError(t, err)
	assert.Zero(t, flushed, "staged items are cleared after a flush")
}

func TestSQLite_FlushUnknownJob(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.FlushJob(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ClearGenerationStarted(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	rec := seedAffiliate(t, st, "u1", "janebakes.com")

	require.NoError(t, st.MarkGenerationStarted(ctx, "u1", rec.ID, time.Now()))
	require.NoError(t, st.ClearGenerationStarted(ctx, "u1", rec.ID))

	got, err := st.GetAffiliate(ctx, "u1", rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AIGenerationStartedAt)
	assert.Nil(t, got.AIGeneratedAt)
}
