// Package lusha is a minimal client for the Lusha person and prospecting APIs.
package lusha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.lusha.com"

// Client defines the Lusha operations used for contact enrichment.
type Client interface {
	Person(ctx context.Context, req PersonRequest) (*PersonResponse, error)
	SearchContacts(ctx context.Context, req SearchRequest) (*SearchResponse, error)
}

// PersonRequest holds the query parameters for GET /v2/person.
type PersonRequest struct {
	FirstName     string
	LastName      string
	CompanyDomain string
	LinkedInURL   string
}

func (r PersonRequest) query() url.Values {
	q := url.Values{}
	if r.FirstName != "" {
		q.Set("firstName", r.FirstName)
	}
	if r.LastName != "" {
		q.Set("lastName", r.LastName)
	}
	if r.CompanyDomain != "" {
		q.Set("companyDomain", r.CompanyDomain)
	}
	if r.LinkedInURL != "" {
		q.Set("linkedinUrl", r.LinkedInURL)
	}
	return q
}

// PersonResponse is the response from GET /v2/person.
type PersonResponse struct {
	Contact struct {
		Data *Contact `json:"data"`
	} `json:"contact"`
}

// SearchRequest is the body for POST /prospecting/contact/search.
type SearchRequest struct {
	Domains []string
	Limit   int
}

type searchBody struct {
	Pages   searchPages   `json:"pages"`
	Filters searchFilters `json:"filters"`
}

type searchPages struct {
	Page int `json:"page"`
	Size int `json:"size"`
}

type searchFilters struct {
	Companies struct {
		Include struct {
			Domains []string `json:"domains"`
		} `json:"include"`
	} `json:"companies"`
}

// SearchResponse is the response from POST /prospecting/contact/search.
type SearchResponse struct {
	Data []Contact `json:"data"`
}

// Contact is a Lusha contact record.
type Contact struct {
	FirstName      string         `json:"firstName"`
	LastName       string         `json:"lastName"`
	FullName       string         `json:"fullName"`
	JobTitle       string         `json:"jobTitle"`
	EmailAddresses []EmailAddress `json:"emailAddresses"`
	SocialLinks    struct {
		LinkedIn string `json:"linkedin"`
	} `json:"socialLinks"`
}

// EmailAddress is one address attached to a contact.
type EmailAddress struct {
	Email      string `json:"email"`
	EmailType  string `json:"emailType"`
	Confidence string `json:"emailConfidence"`
}

// PrimaryEmail returns the first non-empty address, preferring work emails.
func (c *Contact) PrimaryEmail() string {
	var fallback string
	for _, e := range c.EmailAddresses {
		if e.Email == "" {
			continue
		}
		if e.EmailType == "work" {
			return e.Email
		}
		if fallback == "" {
			fallback = e.Email
		}
	}
	return fallback
}

// APIError is returned when Lusha responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lusha: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(perSecond float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Lusha client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Person(ctx context.Context, req PersonRequest) (*PersonResponse, error) {
	var resp PersonResponse
	if err := c.do(ctx, http.MethodGet, "/v2/person?"+req.query().Encode(), nil, &resp); err != nil {
		return nil, eris.Wrap(err, "lusha: person")
	}
	return &resp, nil
}

func (c *httpClient) SearchContacts(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	size := req.Limit
	if size <= 0 {
		size = 10
	}
	body := searchBody{Pages: searchPages{Page: 0, Size: size}}
	body.Filters.Companies.Include.Domains = req.Domains

	var resp SearchResponse
	if err := c.do(ctx, http.MethodPost, "/prospecting/contact/search", body, &resp); err != nil {
		return nil, eris.Wrap(err, "lusha: search contacts")
	}
	return &resp, nil
}

func (c *httpClient) do(ctx context.Context, method, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "rate limit wait")
	}

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
	req.Header.Set("api_key", c.apiKey)

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
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
