package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/sells-group/affiliate-outreach/internal/model"
	"github.com/sells-group/affiliate-outreach/internal/resilience"
	"github.com/sells-group/affiliate-outreach/pkg/lusha"
)

// LushaProvider looks people up through Lusha.
type LushaProvider struct {
	client lusha.Client
	cost   float64
}

// NewLushaProvider creates a Lusha provider charging cost per lookup.
func NewLushaProvider(client lusha.Client, cost float64) *LushaProvider {
	return &LushaProvider{client: client, cost: cost}
}

func (p *LushaProvider) Name() string      { return "lusha" }
func (p *LushaProvider) UnitCost() float64 { return p.cost }

func (p *LushaProvider) Lookup(ctx context.Context, req Request) (*Result, error) {
	var found []lusha.Contact
	if req.HasPerson() {
		resp, err := p.client.Person(ctx, lusha.PersonRequest{
			FirstName:     req.FirstName,
			LastName:      req.LastName,
			CompanyDomain: req.Domain,
			LinkedInURL:   req.LinkedInURL,
		})
		if err != nil {
			return p.failure(err)
		}
		if resp.Contact.Data != nil {
			found = append(found, *resp.Contact.Data)
		}
	} else {
		resp, err := p.client.SearchContacts(ctx, lusha.SearchRequest{
			Domains: []string{req.Domain},
			Limit:   10,
		})
		if err != nil {
			return p.failure(err)
		}
		found = resp.Data
	}

	contacts := make([]model.Contact, 0, len(found))
	for i := range found {
		c := &found[i]
		contacts = append(contacts, model.Contact{
			Email:       c.PrimaryEmail(),
			FirstName:   c.FirstName,
			LastName:    c.LastName,
			FullName:    c.FullName,
			Title:       c.JobTitle,
			LinkedInURL: c.SocialLinks.LinkedIn,
		})
	}
	return buildResult(p.Name(), p.cost, contacts), nil
}

func (p *LushaProvider) failure(err error) (*Result, error) {
	var apiErr *lusha.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusNotFound {
			return &Result{Provider: p.Name(), CostEstimate: p.cost}, nil
		}
		if resilience.TransientStatus(apiErr.StatusCode) {
			return nil, resilience.NewTransientError(err, apiErr.StatusCode)
		}
	}
	return nil, err
}
