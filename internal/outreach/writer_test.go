package outreach

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/affiliate-outreach/internal/model"
	"github.com/sells-group/affiliate-outreach/internal/resilience"
	"github.com/sells-group/affiliate-outreach/pkg/anthropic"
)

type stubClient struct {
	mu    sync.Mutex
	reqs  []anthropic.MessageRequest
	errs  []error
	reply string
}

func (s *stubClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return &anthropic.MessageResponse{
		Content:    []anthropic.ContentBlock{{Type: "text", Text: s.reply}},
		StopReason: "end_turn",
	}, nil
}

func fastRetry() Option {
	return WithRetry(resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond})
}

func TestWrite_ParsesSubjectAndBody(t *testing.T) {
	sc := &stubClient{reply: "Subject: Partnering on your sourdough series\n\nHi Jane,\n\nLoved the starter video."}
	w := NewWriter(sc, WithModel("claude-sonnet-4-5-20250929"), WithMaxTokens(400))

	d, err := w.Write(context.Background(), Input{
		Affiliate: model.AffiliateRecord{ID: 4, Name: "Jane Bakes", Platform: "youtube", Bio: "Sourdough every Sunday"},
		Contact:   &model.Contact{Email: "jane@janebakes.com", FirstName: "JANE", Title: "Founder"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Partnering on your sourdough series", d.Subject)
	assert.Equal(t, "Hi Jane,\n\nLoved the starter video.", d.Message)
	assert.False(t, d.Empty())

	require.Len(t, sc.reqs, 1)
	req := sc.reqs[0]
	assert.Equal(t, "claude-sonnet-4-5-20250929", req.Model)
	assert.Equal(t, int64(400), req.MaxTokens)
	require.Len(t, req.System, 1)
	assert.NotNil(t, req.System[0].CacheControl)
	prompt := req.Messages[0].Content
	assert.Contains(t, prompt, "Recipient first name: Jane\n")
	assert.Contains(t, prompt, "Bio: Sourdough every Sunday")
	assert.NotContains(t, prompt, "Website:")
}

func TestWrite_EmptyReply(t *testing.T) {
	sc := &stubClient{reply: "   "}
	d, err := NewWriter(sc).Write(context.Background(), Input{Affiliate: model.AffiliateRecord{ID: 1}})
	require.NoError(t, err)
	assert.True(t, d.Empty())
}

func TestWrite_RetriesTransientStatus(t *testing.T) {
	sc := &stubClient{
		reply: "Hello there",
		errs:  []error{resilience.NewTransientError(errors.New("overloaded"), 529)},
	}
	d, err := NewWriter(sc, fastRetry()).Write(context.Background(), Input{Affiliate: model.AffiliateRecord{ID: 1}})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", d.Message)
	assert.Len(t, sc.reqs, 2)
}

func TestWrite_PermanentErrorNotRetried(t *testing.T) {
	sc := &stubClient{errs: []error{errors.New("invalid x-api-key")}}
	_, err := NewWriter(sc, fastRetry()).Write(context.Background(), Input{Affiliate: model.AffiliateRecord{ID: 9}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outreach: write for affiliate 9")
	assert.Len(t, sc.reqs, 1)
}

func TestParseDraft(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		subject string
		body    string
	}{
		{"subject and body", "Subject: Hi\n\nBody text", "Hi", "Body text"},
		{"lowercase label", "subject: hello\nBody", "hello", "Body"},
		{"no subject", "Just a body", "", "Just a body"},
		{"subject only", "Subject: Lonely", "Lonely", ""},
		{"blank", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, b := parseDraft(tt.in)
			assert.Equal(t, tt.subject, s)
			assert.Equal(t, tt.body, b)
		})
	}
}

func TestFirstName(t *testing.T) {
	assert.Equal(t, "Jane", firstName(model.Contact{FirstName: "jane"}))
	assert.Equal(t, "Mary", firstName(model.Contact{FullName: "MARY ANN SMITH"}))
	assert.Equal(t, "", firstName(model.Contact{Email: "info@x.com"}))
}
