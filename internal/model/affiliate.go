package model

import (
	"strings"
	"time"
)

// EmailStatus is the outcome of the most recent email lookup for an affiliate.
type EmailStatus string

const (
	EmailStatusNone     EmailStatus = ""
	EmailStatusFound    EmailStatus = "found"
	EmailStatusNotFound EmailStatus = "not_found"
	EmailStatusError    EmailStatus = "error"
)

// Contact is a candidate recipient surfaced by enrichment. Email is its identity.
type Contact struct {
	Email       string `json:"email"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	FullName    string `json:"fullName,omitempty"`
	Title       string `json:"title,omitempty"`
	LinkedInURL string `json:"linkedinUrl,omitempty"`
}

// DisplayName returns the best available human name for the contact.
func (c Contact) DisplayName() string {
	if c.FullName != "" {
		return c.FullName
	}
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// EmailResults is the structured enrichment payload persisted on an affiliate.
type EmailResults struct {
	Emails       []string  `json:"emails"`
	Contacts     []Contact `json:"contacts"`
	Provider     string    `json:"provider,omitempty"`
	SearchedAt   time.Time `json:"searchedAt"`
	CostEstimate float64   `json:"costEstimate,omitempty"`
}

// AffiliateRecord is a discovered or saved partner candidate.
type AffiliateRecord struct {
	ID                    int64                    `json:"id"`
	UserID                string                   `json:"userId,omitempty"`
	Domain                string                   `json:"domain"`
	Name                  string                   `json:"name,omitempty"`
	Platform              string                   `json:"platform,omitempty"`
	Bio                   string                   `json:"bio,omitempty"`
	Email                 string                   `json:"email,omitempty"`
	EmailStatus           EmailStatus              `json:"emailStatus,omitempty"`
	EmailResults          *EmailResults            `json:"emailResults,omitempty"`
	AIGeneratedMessage    string                   `json:"aiGeneratedMessage,omitempty"`
	AIGeneratedMessages   map[string]StoredMessage `json:"aiGeneratedMessages,omitempty"`
	AIGenerationStartedAt *time.Time               `json:"aiGenerationStartedAt,omitempty"`
	AIGeneratedAt         *time.Time               `json:"aiGeneratedAt,omitempty"`
	CreatedAt             time.Time                `json:"createdAt"`
	UpdatedAt             time.Time                `json:"updatedAt"`
}

// Contacts returns the enrichment contacts, or nil when enrichment has not run.
func (a *AffiliateRecord) Contacts() []Contact {
	if a.EmailResults == nil {
		return nil
	}
	return a.EmailResults.Contacts
}

// FindContact returns the contact with the given email (case-insensitive).
func (a *AffiliateRecord) FindContact(email string) (Contact, bool) {
	for _, c := range a.Contacts() {
		if strings.EqualFold(c.Email, email) {
			return c, true
		}
	}
	return Contact{}, false
}
