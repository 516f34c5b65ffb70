package dashapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/affiliate-outreach/internal/model"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", WithUserID("user-1"))
}

func TestGenerateMessage(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate-message", r.URL.Path)
		assert.Equal(t, "user-1", r.Header.Get(UserHeader))

		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(42), req.AffiliateID)
		require.NotNil(t, req.SelectedContact)
		assert.Equal(t, "a@x.com", req.SelectedContact.Email)

		json.NewEncoder(w).Encode(GenerateResponse{Success: true, Message: "Hi", Subject: "Hello"})
	})

	resp, err := c.GenerateMessage(context.Background(), GenerateRequest{
		AffiliateID:     42,
		SelectedContact: &model.Contact{Email: "a@x.com"},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "Hi", resp.Message)
	assert.Equal(t, "Hello", resp.Subject)
}

func TestGenerateMessage_InProgress(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "generation already in progress", InProgress: true})
	})

	_, err := c.GenerateMessage(context.Background(), GenerateRequest{AffiliateID: 1})
	require.Error(t, err)
	assert.True(t, IsInProgress(err))
	assert.False(t, IsInsufficientCredit(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "generation already in progress")
}

func TestGenerateMessage_InsufficientCredit(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		remaining := int64(0)
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(ErrorResponse{Error: "Insufficient credits", Remaining: &remaining})
	})

	_, err := c.GenerateMessage(context.Background(), GenerateRequest{AffiliateID: 1})
	assert.True(t, IsInsufficientCredit(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.NotNil(t, apiErr.Remaining)
	assert.Equal(t, int64(0), *apiErr.Remaining)
}

func TestIsNotConfigured_NonJSONBody(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("upstream unavailable"))
	})

	_, err := c.EnrichEmail(context.Background(), EnrichRequest{AffiliateID: 1, Domain: "x.com"})
	assert.True(t, IsNotConfigured(err))
	assert.Contains(t, err.Error(), "upstream unavailable")
}

func TestUpdateMessage(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)

		var req UpdateMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "edited", req.Message)

		json.NewEncoder(w).Encode(SuccessResponse{Success: req.ContactEmail != ""})
	})

	require.NoError(t, c.UpdateMessage(context.Background(), UpdateMessageRequest{AffiliateID: 1, ContactEmail: "a@x.com", Message: "edited"}))
	assert.Error(t, c.UpdateMessage(context.Background(), UpdateMessageRequest{AffiliateID: 1, Message: "edited"}))
}

func TestEnrichmentStatusAndJobStatus(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/enrichment-status":
			json.NewEncoder(w).Encode(EnrichmentStatus{
				HasActiveJobs: true,
				Jobs:          []JobProgress{{JobID: "job 1", CompletedActors: 1, TotalActors: 3}},
			})
		case "/api/job-status":
			assert.Equal(t, "job 1", r.URL.Query().Get("jobId"))
			json.NewEncoder(w).Encode(JobStatus{JobID: "job 1", Status: model.JobStatusRunning, Flushed: 4})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	status, err := c.EnrichmentStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.HasActiveJobs)
	require.Len(t, status.Jobs, 1)

	js, err := c.JobStatus(context.Background(), status.Jobs[0].JobID)
	require.NoError(t, err)
	assert.Equal(t, 4, js.Flushed)
}

func TestListAffiliates(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/affiliates", r.URL.Path)
		json.NewEncoder(w).Encode([]model.AffiliateRecord{{ID: 1, Domain: "a.com"}, {ID: 2, Domain: "b.com"}})
	})

	list, err := c.ListAffiliates(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b.com", list[1].Domain)
}

func TestStageItems(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs/job-1/items", r.URL.Path)

		var req StageItemsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.CompletedActors)
		assert.Equal(t, 2, *req.CompletedActors)

		json.NewEncoder(w).Encode(StageItemsResponse{Staged: len(req.Items)})
	})

	done := 2
	resp, err := c.StageItems(context.Background(), "job-1", StageItemsRequest{
		Items:           []model.DiscoveryItem{{Domain: "a.com"}},
		CompletedActors: &done,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Staged)
}
