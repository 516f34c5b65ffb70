package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/sells-group/affiliate-outreach/internal/model"
	"github.com/sells-group/affiliate-outreach/internal/resilience"
	"github.com/sells-group/affiliate-outreach/pkg/apollo"
)

// ApolloProvider looks people up through Apollo.io.
type ApolloProvider struct {
	client apollo.Client
	cost   float64
}

// NewApolloProvider creates an Apollo provider charging cost per lookup.
func NewApolloProvider(client apollo.Client, cost float64) *ApolloProvider {
	return &ApolloProvider{client: client, cost: cost}
}

func (p *ApolloProvider) Name() string      { return "apollo" }
func (p *ApolloProvider) UnitCost() float64 { return p.cost }

// Lookup matches a named person when the request has one, otherwise searches
// people at the domain.
func (p *ApolloProvider) Lookup(ctx context.Context, req Request) (*Result, error) {
	var people []apollo.Person
	if req.HasPerson() {
		resp, err := p.client.MatchPerson(ctx, apollo.MatchRequest{
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			Name:        req.PersonName,
			Domain:      req.Domain,
			LinkedInURL: req.LinkedInURL,
		})
		if err != nil {
			return p.failure(err)
		}
		if resp.Person != nil {
			people = append(people, *resp.Person)
		}
	} else {
		resp, err := p.client.SearchPeople(ctx, apollo.SearchRequest{
			Domains: []string{req.Domain},
			PerPage: 10,
		})
		if err != nil {
			return p.failure(err)
		}
		people = resp.People
	}

	contacts := make([]model.Contact, 0, len(people))
	for _, person := range people {
		contacts = append(contacts, model.Contact{
			Email:       person.Email,
			FirstName:   person.FirstName,
			LastName:    person.LastName,
			FullName:    person.Name,
			Title:       person.Title,
			LinkedInURL: person.LinkedInURL,
		})
	}
	return buildResult(p.Name(), p.cost, contacts), nil
}

// failure turns a 404 into a not-found result and marks retryable statuses
// transient.
func (p *ApolloProvider) failure(err error) (*Result, error) {
	var apiErr *apollo.APIError
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
