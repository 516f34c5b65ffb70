// Package dashapi is the HTTP client for the outreach dashboard API.
package dashapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/affiliate-outreach/internal/model"
)

// UserHeader carries the acting user's id.
const UserHeader = "X-User-ID"

// Client defines the dashboard API operations.
type Client interface {
	EnrichEmail(ctx context.Context, req EnrichRequest) (*EnrichResponse, error)
	GenerateMessage(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	UpdateMessage(ctx context.Context, req UpdateMessageRequest) error
	EnrichmentStatus(ctx context.Context) (*EnrichmentStatus, error)
	JobStatus(ctx context.Context, jobID string) (*JobStatus, error)
	ListAffiliates(ctx context.Context) ([]model.AffiliateRecord, error)
	CreateAffiliate(ctx context.Context, rec model.AffiliateRecord) (*model.AffiliateRecord, error)
	CreateJob(ctx context.Context, req CreateJobRequest) (*model.DiscoveryJob, error)
	StageItems(ctx context.Context, jobID string, req StageItemsRequest) (*StageItemsResponse, error)
}

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
	Remaining  *int64
	InProgress bool
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("dashapi: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("dashapi: HTTP %d: %s", e.StatusCode, e.Body)
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsInProgress reports a 409 "generation already in progress" response.
func IsInProgress(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.StatusCode == http.StatusConflict && apiErr.InProgress
}

// IsInsufficientCredit reports a 402 response.
func IsInsufficientCredit(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.StatusCode == http.StatusPaymentRequired
}

// IsNotConfigured reports a 503 response: the backing service is not set up.
func IsNotConfigured(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.StatusCode == http.StatusServiceUnavailable
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithUserID sets the X-User-ID header sent with every request.
func WithUserID(id string) Option {
	return func(c *httpClient) {
		c.userID = id
	}
}

type httpClient struct {
	baseURL string
	userID  string
	http    *http.Client
}

// NewClient creates a dashboard API client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) EnrichEmail(ctx context.Context, req EnrichRequest) (*EnrichResponse, error) {
	var resp EnrichResponse
	if err := c.do(ctx, http.MethodPost, "/api/enrich-email", req, &resp); err != nil {
		return nil, eris.Wrap(err, "dashapi: enrich email")
	}
	return &resp, nil
}

func (c *httpClient) GenerateMessage(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	var resp GenerateResponse
	if err := c.do(ctx, http.MethodPost, "/api/generate-message", req, &resp); err != nil {
		return nil, eris.Wrap(err, "dashapi: generate message")
	}
	return &resp, nil
}

func (c *httpClient) UpdateMessage(ctx context.Context, req UpdateMessageRequest) error {
	var resp SuccessResponse
	if err := c.do(ctx, http.MethodPatch, "/api/generate-message", req, &resp); err != nil {
		return eris.Wrap(err, "dashapi: update message")
	}
	if !resp.Success {
		return eris.New("dashapi: update message: not saved")
	}
	return nil
}

func (c *httpClient) EnrichmentStatus(ctx context.Context) (*EnrichmentStatus, error) {
	var resp EnrichmentStatus
	if err := c.do(ctx, http.MethodGet, "/api/enrichment-status", nil, &resp); err != nil {
		return nil, eris.Wrap(err, "dashapi: enrichment status")
	}
	return &resp, nil
}

func (c *httpClient) JobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var resp JobStatus
	path := "/api/job-status?" + url.Values{"jobId": {jobID}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, eris.Wrapf(err, "dashapi: job status %s", jobID)
	}
	return &resp, nil
}

func (c *httpClient) ListAffiliates(ctx context.Context) ([]model.AffiliateRecord, error) {
	var resp []model.AffiliateRecord
	if err := c.do(ctx, http.MethodGet, "/api/affiliates", nil, &resp); err != nil {
		return nil, eris.Wrap(err, "dashapi: list affiliates")
	}
	return resp, nil
}

func (c *httpClient) CreateAffiliate(ctx context.Context, rec model.AffiliateRecord) (*model.AffiliateRecord, error) {
	var resp model.AffiliateRecord
	if err := c.do(ctx, http.MethodPost, "/api/affiliates", rec, &resp); err != nil {
		return nil, eris.Wrap(err, "dashapi: create affiliate")
	}
	return &resp, nil
}

func (c *httpClient) CreateJob(ctx context.Context, req CreateJobRequest) (*model.DiscoveryJob, error) {
	var resp model.DiscoveryJob
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &resp); err != nil {
		return nil, eris.Wrap(err, "dashapi: create job")
	}
	return &resp, nil
}

func (c *httpClient) StageItems(ctx context.Context, jobID string, req StageItemsRequest) (*StageItemsResponse, error) {
	var resp StageItemsResponse
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(jobID)+"/items", req, &resp); err != nil {
		return nil, eris.Wrapf(err, "dashapi: stage items for job %s", jobID)
	}
	return &resp, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userID != "" {
		req.Header.Set(UserHeader, c.userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		var er ErrorResponse
		if json.Unmarshal(data, &er) == nil {
			apiErr.Message = er.Error
			apiErr.Remaining = er.Remaining
			apiErr.InProgress = er.InProgress
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
