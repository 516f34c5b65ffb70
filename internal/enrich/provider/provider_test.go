package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/affiliate-outreach/internal/model"
	"github.com/sells-group/affiliate-outreach/internal/resilience"
	"github.com/sells-group/affiliate-outreach/pkg/apollo"
	"github.com/sells-group/affiliate-outreach/pkg/lusha"
)

type stubProvider struct{ name string }

func (s stubProvider) Name() string      { return s.name }
func (s stubProvider) UnitCost() float64 { return 0 }
func (s stubProvider) Lookup(context.Context, Request) (*Result, error) {
	return &Result{Provider: s.name}, nil
}

func TestRegistry_Order(t *testing.T) {
	r := NewRegistry()
	r.Register(stubProvider{"apollo"})
	r.Register(stubProvider{"lusha"})
	r.Register(stubProvider{"website"})
	r.Register(stubProvider{"apollo"})

	assert.Equal(t, []string{"apollo", "lusha", "website"}, r.List())
	assert.NotNil(t, r.Get("Apollo"))
	assert.Nil(t, r.Get("hunter"))

	names := func(ps []Provider) []string {
		out := make([]string, 0, len(ps))
		for _, p := range ps {
			out = append(out, p.Name())
		}
		return out
	}
	assert.Equal(t, []string{"website", "apollo"}, names(r.Ordered([]string{"website", "hunter", "apollo", "APOLLO"})))
	assert.Equal(t, []string{"apollo", "lusha", "website"}, names(r.Ordered(nil)))
}

func TestBuildResult(t *testing.T) {
	res := buildResult("apollo", 0.03, []model.Contact{
		{FirstName: "NO", Email: ""},
		{FirstName: "JANE", LastName: "doe", Email: " Jane@Example.com "},
		{FirstName: "Dup", Email: "jane@example.com"},
		{FirstName: "Ian", LastName: "McDonald", Email: "ian@example.com"},
	})

	assert.True(t, res.Found)
	assert.Equal(t, "jane@example.com", res.Email)
	assert.Equal(t, []string{"jane@example.com", "ian@example.com"}, res.Emails)
	require.Len(t, res.Contacts, 2)
	assert.Equal(t, "Jane", res.Contacts[0].FirstName)
	assert.Equal(t, "Doe", res.Contacts[0].LastName)
	assert.Equal(t, "McDonald", res.Contacts[1].LastName)

	c, ok := res.Primary()
	assert.True(t, ok)
	assert.Equal(t, "Jane", c.FirstName)
}

func TestBuildResult_EmptyIsNotFound(t *testing.T) {
	res := buildResult("lusha", 0.05, nil)
	assert.False(t, res.Found)
	assert.Empty(t, res.Email)
	assert.Equal(t, "lusha", res.Provider)
}

type mockApollo struct{ mock.Mock }

func (m *mockApollo) MatchPerson(ctx context.Context, req apollo.MatchRequest) (*apollo.MatchResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*apollo.MatchResponse)
	return resp, args.Error(1)
}

func (m *mockApollo) SearchPeople(ctx context.Context, req apollo.SearchRequest) (*apollo.SearchResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*apollo.SearchResponse)
	return resp, args.Error(1)
}

func TestApolloProvider_PersonMatch(t *testing.T) {
	m := &mockApollo{}
	m.On("MatchPerson", mock.Anything, apollo.MatchRequest{FirstName: "Jane", LastName: "Doe", Name: "Jane Doe", Domain: "example.com"}).
		Return(&apollo.MatchResponse{Person: &apollo.Person{FirstName: "Jane", Email: "jane@example.com"}}, nil)

	p := NewApolloProvider(m, 0.03)
	res, err := p.Lookup(context.Background(), Request{Domain: "example.com", PersonName: "Jane Doe", FirstName: "Jane", LastName: "Doe"})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "jane@example.com", res.Email)
	assert.InDelta(t, 0.03, res.CostEstimate, 1e-9)
	m.AssertExpectations(t)
}

func TestApolloProvider_DomainSearch(t *testing.T) {
	m := &mockApollo{}
	m.On("SearchPeople", mock.Anything, apollo.SearchRequest{Domains: []string{"example.com"}, PerPage: 10}).
		Return(&apollo.SearchResponse{}, nil)

	res, err := NewApolloProvider(m, 0.03).Lookup(context.Background(), Request{Domain: "example.com"})
	require.NoError(t, err)
	assert.False(t, res.Found)
	m.AssertExpectations(t)
}

func TestApolloProvider_ErrorMapping(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantErr       bool
		wantTransient bool
	}{
		{name: "not found is a miss", status: http.StatusNotFound},
		{name: "rate limit is transient", status: http.StatusTooManyRequests, wantErr: true, wantTransient: true},
		{name: "bad request is permanent", status: http.StatusBadRequest, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockApollo{}
			m.On("SearchPeople", mock.Anything, mock.Anything).
				Return(nil, &apollo.APIError{StatusCode: tt.status})

			res, err := NewApolloProvider(m, 0.03).Lookup(context.Background(), Request{Domain: "example.com"})
			if !tt.wantErr {
				require.NoError(t, err)
				assert.False(t, res.Found)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, resilience.IsTransient(err))
		})
	}
}

type fakeLusha struct {
	person *lusha.PersonResponse
	search *lusha.SearchResponse
	err    error
}

func (f *fakeLusha) Person(context.Context, lusha.PersonRequest) (*lusha.PersonResponse, error) {
	return f.person, f.err
}

func (f *fakeLusha) SearchContacts(context.Context, lusha.SearchRequest) (*lusha.SearchResponse, error) {
	return f.search, f.err
}

func TestLushaProvider(t *testing.T) {
	f := &fakeLusha{search: &lusha.SearchResponse{Data: []lusha.Contact{
		{FullName: "sam lee", JobTitle: "Editor", EmailAddresses: []lusha.EmailAddress{{Email: "Sam@Example.com"}}},
	}}}

	res, err := NewLushaProvider(f, 0.05).Lookup(context.Background(), Request{Domain: "example.com"})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, "sam@example.com", res.Email)
	assert.Equal(t, "Sam Lee", res.Contacts[0].FullName)
	assert.Equal(t, "lusha", res.Provider)

	f = &fakeLusha{err: &lusha.APIError{StatusCode: http.StatusServiceUnavailable}}
	_, err = NewLushaProvider(f, 0.05).Lookup(context.Background(), Request{Domain: "example.com", FirstName: "Sam"})
	assert.True(t, resilience.IsTransient(err))
}

func TestWebsiteProvider(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body>
			<a href="mailto:Hello@Example.com?subject=Hi">Email us</a>
			<img src="logo@2x.png">
			<script>var x = "tracker@analytics.io";</script>
			</body></html>`))
	})
	mux.HandleFunc("/contact", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<p>Partnerships: partners@example.com or agent@gmail.com</p>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := NewWebsiteProvider(0)
	p.base = srv.URL

	res, err := p.Lookup(context.Background(), Request{Domain: "example.com"})
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, []string{"hello@example.com", "partners@example.com", "agent@gmail.com"}, res.Emails)
	assert.Zero(t, res.CostEstimate)
}

func TestWebsiteProvider_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	p := NewWebsiteProvider(0)
	p.base = srv.URL

	_, err := p.Lookup(context.Background(), Request{Domain: "example.com"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}
