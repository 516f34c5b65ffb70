package dashapi

import "github.com/sells-group/affiliate-outreach/internal/model"

// EnrichRequest is the body of POST /api/enrich-email.
type EnrichRequest struct {
	AffiliateID int64  `json:"affiliateId"`
	Domain      string `json:"domain"`
	PersonName  string `json:"personName,omitempty"`
	LinkedInURL string `json:"linkedinUrl,omitempty"`
	Provider    string `json:"provider,omitempty"`
}

// EnrichResponse is the result of an email lookup.
type EnrichResponse struct {
	Email        string            `json:"email"`
	Emails       []string          `json:"emails"`
	Contacts     []model.Contact   `json:"contacts"`
	Status       model.EmailStatus `json:"status"`
	Provider     string            `json:"provider"`
	FirstName    string            `json:"firstName,omitempty"`
	LastName     string            `json:"lastName,omitempty"`
	Title        string            `json:"title,omitempty"`
	CostEstimate float64           `json:"costEstimate,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// GenerateRequest is the body of POST /api/generate-message.
type GenerateRequest struct {
	AffiliateID     int64                  `json:"affiliateId"`
	Affiliate       *model.AffiliateRecord `json:"affiliate,omitempty"`
	SelectedContact *model.Contact         `json:"selectedContact,omitempty"`
}

// GenerateResponse is the result of a message generation.
type GenerateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Subject string `json:"subject,omitempty"`
}

// UpdateMessageRequest is the body of PATCH /api/generate-message.
type UpdateMessageRequest struct {
	AffiliateID  int64  `json:"affiliateId"`
	ContactEmail string `json:"contactEmail"`
	Message      string `json:"message"`
}

// SuccessResponse acknowledges a write.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// JobProgress is one active discovery job.
type JobProgress struct {
	JobID           string   `json:"jobId"`
	CompletedActors int      `json:"completedActors"`
	TotalActors     int      `json:"totalActors"`
	Platforms       []string `json:"platforms"`
}

// EnrichmentStatus is the response of GET /api/enrichment-status.
type EnrichmentStatus struct {
	HasActiveJobs bool          `json:"hasActiveJobs"`
	Jobs          []JobProgress `json:"jobs"`
}

// JobStatus is the response of GET /api/job-status.
type JobStatus struct {
	JobID           string          `json:"jobId"`
	Status          model.JobStatus `json:"status"`
	Flushed         int             `json:"flushed"`
	CompletedActors int             `json:"completedActors"`
	TotalActors     int             `json:"totalActors"`
}

// CreateJobRequest is the body of POST /api/jobs.
type CreateJobRequest struct {
	Platforms   []string `json:"platforms"`
	TotalActors int      `json:"totalActors"`
}

// StageItemsRequest is the body of POST /api/jobs/{jobID}/items. A
// discovery worker reports results and progress with it.
type StageItemsRequest struct {
	Items           []model.DiscoveryItem `json:"items"`
	CompletedActors *int                  `json:"completedActors,omitempty"`
	Status          model.JobStatus       `json:"status,omitempty"`
}

// StageItemsResponse reports how many items were staged.
type StageItemsResponse struct {
	Staged int `json:"staged"`
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error      string `json:"error"`
	Remaining  *int64 `json:"remaining,omitempty"`
	InProgress bool   `json:"inProgress,omitempty"`
}
