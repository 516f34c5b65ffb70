// Package provider defines contact-lookup providers and their adapters.
package provider

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/affiliate-outreach/internal/model"
)

// Request identifies the person or organization to look up. Domain is
// already normalized by the caller.
type Request struct {
	Domain      string
	PersonName  string
	FirstName   string
	LastName    string
	LinkedInURL string
}

// HasPerson reports whether the request names a specific person.
func (r Request) HasPerson() bool {
	return r.FirstName != "" || r.LastName != "" || r.LinkedInURL != ""
}

// Result is the normalized outcome of one lookup. Found is false whenever
// Email is empty.
type Result struct {
	Found        bool            `json:"found"`
	Email        string          `json:"email,omitempty"`
	Emails       []string        `json:"emails,omitempty"`
	Contacts     []model.Contact `json:"contacts,omitempty"`
	Provider     string          `json:"provider"`
	CostEstimate float64         `json:"costEstimate,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Primary returns the contact owning Email, if any.
func (r *Result) Primary() (model.Contact, bool) {
	for _, c := range r.Contacts {
		if strings.EqualFold(c.Email, r.Email) {
			return c, true
		}
	}
	return model.Contact{}, false
}

// Provider is one email lookup source.
type Provider interface {
	// Name is the lowercase identifier used in configuration and results.
	Name() string
	// UnitCost is the USD cost of a single lookup.
	UnitCost() float64
	// Lookup queries the source. A source that answers "no match" returns a
	// Result with Found=false and a nil error; errors mean the call failed.
	Lookup(ctx context.Context, req Request) (*Result, error)
}

// Registry holds providers by name and remembers registration order.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p. Re-registering a name replaces it in place.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if _, ok := r.providers[name]; !ok {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
}

// Get returns the provider called name, or nil.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[strings.ToLower(name)]
}

// List returns provider names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Ordered returns the providers named in order that are registered,
// skipping unknown names. An empty order yields registration order.
func (r *Registry) Ordered(order []string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(order) == 0 {
		order = r.order
	}
	out := make([]Provider, 0, len(order))
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		name = strings.ToLower(name)
		p, ok := r.providers[name]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, p)
	}
	return out
}

var titleCaser = cases.Title(language.Und)

// normalizeContact tidies provider-supplied names and lowercases the email.
func normalizeContact(c model.Contact) model.Contact {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.FirstName = properName(c.FirstName)
	c.LastName = properName(c.LastName)
	c.FullName = properName(c.FullName)
	c.Title = strings.TrimSpace(c.Title)
	return c
}

// properName title-cases names that arrive all upper or all lower case and
// leaves mixed-case names such as "McDonald" alone.
func properName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == strings.ToUpper(s) || s == strings.ToLower(s) {
		return titleCaser.String(strings.ToLower(s))
	}
	return s
}

// buildResult assembles a Result from contacts, picking the first contact
// with an email as the primary one.
func buildResult(name string, cost float64, contacts []model.Contact) *Result {
	res := &Result{Provider: name, CostEstimate: cost}
	seen := make(map[string]bool)
	for _, c := range contacts {
		c = normalizeContact(c)
		if c.Email == "" || seen[c.Email] {
			continue
		}
		seen[c.Email] = true
		res.Contacts = append(res.Contacts, c)
		res.Emails = append(res.Emails, c.Email)
	}
	if len(res.Emails) > 0 {
		res.Email = res.Emails[0]
		res.Found = true
	}
	return res
}
