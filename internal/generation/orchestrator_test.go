package generation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/affiliate-outreach/internal/message"
	"github.com/sells-group/affiliate-outreach/internal/model"
	"github.com/sells-group/affiliate-outreach/pkg/dashapi"
)

type fakeGenerator struct {
	mu        sync.Mutex
	calls     []dashapi.GenerateRequest
	updates   []dashapi.UpdateMessageRequest
	respond   func(req dashapi.GenerateRequest) (*dashapi.GenerateResponse, error)
	updateErr error
}

func (f *fakeGenerator) GenerateMessage(_ context.Context, req dashapi.GenerateRequest) (*dashapi.GenerateResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return &dashapi.GenerateResponse{Success: true, Message: "Hello there"}, nil
	}
	return respond(req)
}

func (f *fakeGenerator) UpdateMessage(_ context.Context, req dashapi.UpdateMessageRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, req)
	return f.updateErr
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *noticeRecorder) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *noticeRecorder) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

func newOrchestrator(gen Generator, opts ...Option) (*Orchestrator, *noticeRecorder, *int) {
	rec := &noticeRecorder{}
	refreshes := 0
	base := []Option{
		WithNotifier(rec),
		WithBulkDelay(0),
		WithCreditRefresh(func() { refreshes++ }),
	}
	return New(gen, append(base, opts...)...), rec, &refreshes
}

func affiliate(id int64, email string) model.AffiliateRecord {
	return model.AffiliateRecord{ID: id, Domain: "shop.example", Name: "Shop", Email: email}
}

func apiErr(status int, inProgress bool) error {
	return &dashapi.APIError{StatusCode: status, InProgress: inProgress}
}

func TestGenerate_Success(t *testing.T) {
	gen := &fakeGenerator{}
	o, notices, refreshes := newOrchestrator(gen)

	out := o.Generate(context.Background(), affiliate(42, "A@X.com"), nil)

	assert.Equal(t, Succeeded, out.State)
	assert.Equal(t, message.NewKey(42, "a@x.com"), out.Key)
	text, ok := o.Messages().Get(out.Key)
	require.True(t, ok)
	assert.Equal(t, "Hello there", text)
	assert.False(t, o.Visible().Contains(out.Key))
	assert.False(t, o.InFlight().Contains(out.Key))
	assert.Equal(t, 1, *refreshes)
	require.Len(t, notices.all(), 1)
	assert.Equal(t, LevelSuccess, notices.all()[0].Level)
}

func TestGenerate_RapidRetriggerSubmitsOnce(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	gen := &fakeGenerator{respond: func(dashapi.GenerateRequest) (*dashapi.GenerateResponse, error) {
		close(entered)
		<-release
		return &dashapi.GenerateResponse{Success: true, Message: "Hi"}, nil
	}}
	o, notices, refreshes := newOrchestrator(gen)
	aff := affiliate(42, "a@x.com")

	done := make(chan Outcome)
	go func() { done <- o.Generate(context.Background(), aff, nil) }()
	<-entered

	second := o.Generate(context.Background(), aff, nil)
	assert.Equal(t, Skipped, second.State)
	assert.True(t, o.Visible().Contains(second.Key))

	close(release)
	first := <-done

	assert.Equal(t, Succeeded, first.State)
	assert.Equal(t, 1, gen.callCount())
	assert.Equal(t, 1, *refreshes)
	assert.Len(t, notices.all(), 1, "the refused trigger has no side effects")
}

func TestGenerate_ConcurrentTriggers(t *testing.T) {
	release := make(chan struct{})
	gen := &fakeGenerator{respond: func(dashapi.GenerateRequest) (*dashapi.GenerateResponse, error) {
		<-release
		return &dashapi.GenerateResponse{Success: true, Message: "Hi"}, nil
	}}
	o, _, _ := newOrchestrator(gen)
	aff := affiliate(7, "")

	const n = 10
	results := make(chan Outcome, n)
	for i := 0; i < n; i++ {
		go func() { results <- o.Generate(context.Background(), aff, nil) }()
	}

	skipped := 0
	for skipped < n-1 {
		out := <-results
		require.Equal(t, Skipped, out.State)
		skipped++
	}
	close(release)
	assert.Equal(t, Succeeded, (<-results).State)
	assert.Equal(t, 1, gen.callCount())
}

func TestGenerate_ConflictKeepsVisibleStatus(t *testing.T) {
	gen := &fakeGenerator{respond: func(dashapi.GenerateRequest) (*dashapi.GenerateResponse, error) {
		return nil, apiErr(http.StatusConflict, true)
	}}
	o, notices, refreshes := newOrchestrator(gen)

	out := o.Generate(context.Background(), affiliate(42, "a@x.com"), nil)

	assert.Equal(t, AlreadyInProgress, out.State)
	assert.True(t, o.Visible().Contains(out.Key), "spinner stays while the remote generation runs")
	assert.False(t, o.InFlight().Contains(out.Key), "submission gate is released")
	assert.Zero(t, o.Failures().Len())
	assert.Zero(t, *refreshes)
	require.Len(t, notices.all(), 1)
	assert.Equal(t, LevelInfo, notices.all()[0].Level)

	o.Generate(context.Background(), affiliate(42, "a@x.com"), nil)
	assert.Equal(t, 2, gen.callCount(), "explicit retry is possible")
}

func TestGenerate_FailureModes(t *testing.T) {
	tests := []struct {
		name   string
		resp   *dashapi.GenerateResponse
		err    error
		reason Reason
		level  Level
		title  string
	}{
		{"insufficient credit", nil, apiErr(http.StatusPaymentRequired, false), ReasonInsufficientCredit, LevelWarning, "Insufficient credits"},
		{"not configured", nil, apiErr(http.StatusServiceUnavailable, false), ReasonNotConfigured, LevelError, "Service not configured"},
		{"empty message", &dashapi.GenerateResponse{Success: true, Message: "   "}, nil, ReasonEmpty, LevelError, "Generation failed"},
		{"transport", nil, errors.New("dial tcp: connection refused"), ReasonTransport, LevelError, "Generation failed"},
		{"conflict without flag", nil, apiErr(http.StatusConflict, false), ReasonTransport, LevelError, "Generation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{respond: func(dashapi.GenerateRequest) (*dashapi.GenerateResponse, error) {
				return tt.resp, tt.err
			}}
			o, notices, refreshes := newOrchestrator(gen)

			out := o.Generate(context.Background(), affiliate(1, "a@x.com"), nil)

			assert.Equal(t, Failed, out.State)
			assert.Equal(t, tt.reason, out.Reason)
			reason, ok := o.Failures().Get(out.Key)
			require.True(t, ok)
			assert.Equal(t, tt.reason, reason)
			assert.False(t, o.Visible().Contains(out.Key))
			assert.False(t, o.Messages().HasAny(1), "no message stored on failure")
			assert.Zero(t, *refreshes, "credits are not refreshed on failure")
			require.Len(t, notices.all(), 1)
			assert.Equal(t, tt.level, notices.all()[0].Level)
			assert.Equal(t, tt.title, notices.all()[0].Title)
		})
	}
}

func TestGenerate_SuccessClearsFailure(t *testing.T) {
	fail := true
	gen := &fakeGenerator{respond: func(dashapi.GenerateRequest) (*dashapi.GenerateResponse, error) {
		if fail {
			return nil, errors.New("timeout")
		}
		return &dashapi.GenerateResponse{Success: true, Message: "Hi"}, nil
	}}
	o, _, _ := newOrchestrator(gen)
	aff := affiliate(3, "a@x.com")

	out := o.Generate(context.Background(), aff, nil)
	require.Equal(t, Failed, out.State)

	fail = false
	out = o.Generate(context.Background(), aff, nil)
	require.Equal(t, Succeeded, out.State)
	_, failed := o.Failures().Get(out.Key)
	assert.False(t, failed)
}

type pickFirst struct{ calls int }

func (p *pickFirst) Select(_ context.Context, _ model.AffiliateRecord, contacts []model.Contact) ([]model.Contact, error) {
	p.calls++
	return contacts[:1], nil
}

func TestGenerateForAffiliate(t *testing.T) {
	multi := affiliate(9, "info@x.com")
	multi.EmailResults = &model.EmailResults{Contacts: []model.Contact{
		{Email: "jane@x.com"}, {Email: "joe@x.com"},
	}}

	t.Run("requires selection", func(t *testing.T) {
		o, _, _ := newOrchestrator(&fakeGenerator{})
		_, err := o.GenerateForAffiliate(context.Background(), multi)
		assert.ErrorIs(t, err, ErrSelectionRequired)
	})

	t.Run("generates for selection", func(t *testing.T) {
		gen := &fakeGenerator{}
		sel := &pickFirst{}
		o, _, _ := newOrchestrator(gen, WithSelector(sel))

		outs, err := o.GenerateForAffiliate(context.Background(), multi)
		require.NoError(t, err)
		require.Len(t, outs, 1)
		assert.Equal(t, 1, sel.calls)
		assert.Equal(t, message.NewKey(9, "jane@x.com"), outs[0].Key)
		require.NotNil(t, gen.calls[0].SelectedContact)
		assert.Equal(t, "jane@x.com", gen.calls[0].SelectedContact.Email)
	})

	t.Run("single contact", func(t *testing.T) {
		single := affiliate(10, "info@x.com")
		single.EmailResults = &model.EmailResults{Contacts: []model.Contact{{Email: "jane@x.com"}}}
		o, _, _ := newOrchestrator(&fakeGenerator{})

		outs, err := o.GenerateForAffiliate(context.Background(), single)
		require.NoError(t, err)
		assert.Equal(t, message.NewKey(10, "jane@x.com"), outs[0].Key)
	})

	t.Run("no contacts uses bare key", func(t *testing.T) {
		o, _, _ := newOrchestrator(&fakeGenerator{})
		outs, err := o.GenerateForAffiliate(context.Background(), affiliate(11, ""))
		require.NoError(t, err)
		assert.True(t, outs[0].Key.IsBare())
	})
}

func TestUpdateMessage(t *testing.T) {
	gen := &fakeGenerator{}
	o, _, _ := newOrchestrator(gen)
	key := message.NewKey(5, "a@x.com")

	assert.ErrorIs(t, o.UpdateMessage(context.Background(), key, "  "), ErrEmptyMessage)
	assert.Empty(t, gen.updates)

	require.NoError(t, o.UpdateMessage(context.Background(), key, "Edited"))
	text, _ := o.Messages().Get(key)
	assert.Equal(t, "Edited", text)
	assert.Equal(t, "a@x.com", gen.updates[0].ContactEmail)

	gen.updateErr = errors.New("boom")
	require.Error(t, o.UpdateMessage(context.Background(), key, "Again"))
	text, _ = o.Messages().Get(key)
	assert.Equal(t, "Edited", text, "store unchanged when the save fails")
}
