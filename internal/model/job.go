package model

import "time"

// JobStatus is the lifecycle state of a background discovery job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// DiscoveryJob is a server-side affiliate discovery run that produces
// results incrementally. Results are staged as DiscoveryItems and only
// become affiliates when the job is flushed.
type DiscoveryJob struct {
	JobID           string     `json:"jobId"`
	UserID          string     `json:"userId,omitempty"`
	Status          JobStatus  `json:"status"`
	CompletedActors int        `json:"completedActors"`
	TotalActors     int        `json:"totalActors"`
	Platforms       []string   `json:"platforms"`
	LastFlushedAt   *time.Time `json:"lastFlushedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Active reports whether the job may still produce results.
func (j DiscoveryJob) Active() bool {
	return j.Status == JobStatusRunning
}

// DiscoveryItem is one staged discovery result awaiting flush.
type DiscoveryItem struct {
	ID       int64  `json:"id"`
	JobID    string `json:"jobId"`
	Domain   string `json:"domain"`
	Name     string `json:"name,omitempty"`
	Platform string `json:"platform,omitempty"`
	Bio      string `json:"bio,omitempty"`
	Email    string `json:"email,omitempty"`
}
