// Package outreach drafts personalized partnership emails for affiliates.
package outreach

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/affiliate-outreach/internal/model"
	"github.com/sells-group/affiliate-outreach/internal/resilience"
	"github.com/sells-group/affiliate-outreach/pkg/anthropic"
)

const (
	defaultModel     = "claude-haiku-4-5-20251001"
	defaultMaxTokens = 600
)

const systemPrompt = `You write short, warm partnership outreach emails to content creators on behalf of a brand's affiliate program.

Rules:
- First line: "Subject: <subject>" then a blank line, then the email body.
- Address the recipient by first name when one is given.
- Reference one concrete detail from the creator's bio or platform.
- Keep the body under 150 words. No placeholders, no markdown, no signature block.`

// Input is what a draft is written from.
type Input struct {
	Affiliate model.AffiliateRecord
	Contact   *model.Contact
}

// Draft is a generated email.
type Draft struct {
	Message string
	Subject string
	Usage   anthropic.TokenUsage
}

// Empty reports whether the draft has no body.
func (d *Draft) Empty() bool {
	return d == nil || strings.TrimSpace(d.Message) == ""
}

// Writer drafts emails with an Anthropic model.
type Writer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
}

// Option configures a Writer.
type Option func(*Writer)

// WithModel sets the model id.
func WithModel(m string) Option {
	return func(w *Writer) {
		if m != "" {
			w.model = m
		}
	}
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.maxTokens = int64(n)
		}
	}
}

// WithRetry sets the retry policy for transient API failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(w *Writer) { w.retry = cfg }
}

// NewWriter creates a Writer over client.
func NewWriter(client anthropic.Client, opts ...Option) *Writer {
	w := &Writer{
		client:    client,
		model:     defaultModel,
		maxTokens: defaultMaxTokens,
		retry:     resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.retry.Label = "anthropic.create_message"
	return w
}

// Write drafts an email for in. A model reply with no body yields an empty
// Draft and no error.
func (w *Writer) Write(ctx context.Context, in Input) (*Draft, error) {
	req := anthropic.MessageRequest{
		Model:     w.model,
		MaxTokens: w.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt, ""),
		Messages:  []anthropic.Message{{Role: "user", Content: w.prompt(in)}},
	}

	resp, err := resilience.DoVal(ctx, w.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := w.client.CreateMessage(ctx, req)
		if err != nil {
			if code := anthropic.StatusCode(err); resilience.TransientStatus(code) {
				return nil, resilience.NewTransientError(err, code)
			}
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "outreach: write for affiliate %d", in.Affiliate.ID)
	}

	resp.Usage.LogCost(w.model, "outreach")
	subject, body := parseDraft(resp.Text())
	if body == "" {
		zap.L().Warn("outreach: model returned no body",
			zap.Int64("affiliate_id", in.Affiliate.ID),
			zap.String("stop_reason", resp.StopReason),
		)
	}
	return &Draft{Message: body, Subject: subject, Usage: resp.Usage}, nil
}

func (w *Writer) prompt(in Input) string {
	a := in.Affiliate
	var sb strings.Builder
	sb.WriteString("Write an outreach email to this creator.\n\n")
	writeField(&sb, "Creator", a.Name)
	writeField(&sb, "Platform", a.Platform)
	writeField(&sb, "Website", a.Domain)
	writeField(&sb, "Bio", a.Bio)
	if c := in.Contact; c != nil {
		writeField(&sb, "Recipient first name", firstName(*c))
		writeField(&sb, "Recipient title", c.Title)
	}
	return sb.String()
}

// firstName normalizes provider casing ("JANE", "jane") for the greeting.
func firstName(c model.Contact) string {
	name := strings.TrimSpace(c.FirstName)
	if name == "" {
		if f := strings.Fields(c.DisplayName()); len(f) > 0 {
			name = f[0]
		}
	}
	if name == "" {
		return ""
	}
	// Casers hold state and are not safe for concurrent use.
	return cases.Title(language.English).String(name)
}

func writeField(sb *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	fmt.Fprintf(sb, "%s: %s\n", label, value)
}

// parseDraft splits a leading "Subject:" line from the body.
func parseDraft(text string) (subject, body string) {
	text = strings.TrimSpace(text)
	first, rest, found := strings.Cut(text, "\n")
	if len(first) >= len("subject:") && strings.EqualFold(first[:len("subject:")], "subject:") {
		subject = strings.TrimSpace(first[len("subject:"):])
		if !found {
			return subject, ""
		}
		return subject, strings.TrimSpace(rest)
	}
	return "", text
}
