// Package generation drives outreach message generation for affiliate
// contacts. It guarantees at most one outstanding request per message key,
// maps credit and service failures to user notices, and reconciles with
// generations started before a reload.
package generation

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/affiliate-outreach/internal/message"
	"github.com/sells-group/affiliate-outreach/internal/metrics"
	"github.com/sells-group/affiliate-outreach/internal/model"
	"github.com/sells-group/affiliate-outreach/pkg/dashapi"
)

var (
	// ErrBulkInProgress is returned when a bulk run is started while another is active.
	ErrBulkInProgress = eris.New("generation: bulk run already in progress")
	// ErrSelectionRequired is returned when an affiliate has several contacts
	// and no ContactSelector is configured.
	ErrSelectionRequired = eris.New("generation: contact selection required")
	// ErrEmptyMessage is returned when saving a blank message.
	ErrEmptyMessage = eris.New("generation: message is empty")
)

// State is the terminal state of one generation attempt.
type State int

const (
	// Skipped means the key was already in flight; nothing was sent.
	Skipped State = iota
	Succeeded
	Failed
	// AlreadyInProgress means the server reported a generation running elsewhere.
	AlreadyInProgress
)

func (s State) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case AlreadyInProgress:
		return "in_progress"
	default:
		return "skipped"
	}
}

// Reason classifies a failure.
type Reason string

// Failure reasons. ReasonTransport covers any error that is not a credit,
// configuration or empty-result response.
const (
	ReasonEmpty              Reason = "empty_result"
	ReasonInsufficientCredit Reason = "insufficient_credit"
	ReasonNotConfigured      Reason = "not_configured"
	ReasonTransport          Reason = "transport"
)

// Outcome is the result of one generation attempt.
type Outcome struct {
	Key     message.Key
	State   State
	Reason  Reason
	Message string
	Subject string
	Err     error
}

// Generator performs and persists generations. dashapi.Client satisfies it.
type Generator interface {
	GenerateMessage(ctx context.Context, req dashapi.GenerateRequest) (*dashapi.GenerateResponse, error)
	UpdateMessage(ctx context.Context, req dashapi.UpdateMessageRequest) error
}

// ContactSelector resolves which contacts to write to when an affiliate has
// several. An empty selection cancels the action.
type ContactSelector interface {
	Select(ctx context.Context, affiliate model.AffiliateRecord, contacts []model.Contact) ([]model.Contact, error)
}

// Orchestrator coordinates generations. It is safe for concurrent use.
type Orchestrator struct {
	gen      Generator
	selector ContactSelector
	notifier Notifier
	messages *message.Store

	inflight *InFlightSet
	visible  *VisibleStatus
	failures *Failures

	bulkRunning     atomic.Bool
	bulkDelay       time.Duration
	reconcileWindow time.Duration
	onCredits       func()
	now             func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSelector sets the contact selector used for multi-contact affiliates.
func WithSelector(s ContactSelector) Option {
	return func(o *Orchestrator) { o.selector = s }
}

// WithNotifier sets where user notices go. Defaults to LogNotifier.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithMessageStore shares a message store with other readers.
func WithMessageStore(s *message.Store) Option {
	return func(o *Orchestrator) { o.messages = s }
}

// WithBulkDelay sets the pause between bulk requests.
func WithBulkDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.bulkDelay = d }
}

// WithReconcileWindow sets how long a started generation counts as running.
func WithReconcileWindow(d time.Duration) Option {
	return func(o *Orchestrator) { o.reconcileWindow = d }
}

// WithCreditRefresh sets the callback fired after credits were consumed.
func WithCreditRefresh(fn func()) Option {
	return func(o *Orchestrator) { o.onCredits = fn }
}

// New creates an Orchestrator over gen.
func New(gen Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gen:             gen,
		notifier:        LogNotifier{},
		messages:        message.NewStore(),
		inflight:        NewInFlightSet(),
		visible:         NewVisibleStatus(),
		failures:        NewFailures(),
		bulkDelay:       time.Second,
		reconcileWindow: 60 * time.Second,
		onCredits:       func() {},
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Messages returns the message store.
func (o *Orchestrator) Messages() *message.Store { return o.messages }

// Visible returns the user-facing generating set.
func (o *Orchestrator) Visible() *VisibleStatus { return o.visible }

// Failures returns the failure set.
func (o *Orchestrator) Failures() *Failures { return o.failures }

// InFlight returns the submission gate.
func (o *Orchestrator) InFlight() *InFlightSet { return o.inflight }

// KeyFor derives the message key for affiliate and an optional contact.
func KeyFor(affiliate model.AffiliateRecord, contact *model.Contact) message.Key {
	if contact != nil {
		return message.NewKey(affiliate.ID, contact.Email)
	}
	return message.NewKey(affiliate.ID, affiliate.Email)
}

// Generate runs one user-initiated generation and emits exactly one notice.
func (o *Orchestrator) Generate(ctx context.Context, affiliate model.AffiliateRecord, contact *model.Contact) Outcome {
	return o.generate(ctx, affiliate, contact, true)
}

// GenerateForAffiliate generates for the affiliate's contacts. With two or
// more contacts the selector is asked once and each selection is generated
// in turn; with one contact that contact is used; with none the primary
// email is used.
func (o *Orchestrator) GenerateForAffiliate(ctx context.Context, affiliate model.AffiliateRecord) ([]Outcome, error) {
	contacts := affiliate.Contacts()
	switch len(contacts) {
	case 0:
		return []Outcome{o.Generate(ctx, affiliate, nil)}, nil
	case 1:
		c := contacts[0]
		return []Outcome{o.Generate(ctx, affiliate, &c)}, nil
	}

	if o.selector == nil {
		return nil, eris.Wrapf(ErrSelectionRequired, "generation: affiliate %d has %d contacts", affiliate.ID, len(contacts))
	}
	selected, err := o.selector.Select(ctx, affiliate, contacts)
	if err != nil {
		return nil, eris.Wrapf(err, "generation: select contacts for affiliate %d", affiliate.ID)
	}

	out := make([]Outcome, 0, len(selected))
	for i := range selected {
		c := selected[i]
		out = append(out, o.Generate(ctx, affiliate, &c))
	}
	return out, nil
}

func (o *Orchestrator) generate(ctx context.Context, affiliate model.AffiliateRecord, contact *model.Contact, notify bool) Outcome {
	key := KeyFor(affiliate, contact)
	if !o.inflight.TryAcquire(key) {
		zap.L().Debug("generation: key already in flight", zap.Stringer("key", key))
		metrics.Generations.WithLabelValues(Skipped.String()).Inc()
		return Outcome{Key: key, State: Skipped}
	}
	defer o.inflight.Release(key)
	o.visible.Add(key)

	resp, err := o.gen.GenerateMessage(ctx, dashapi.GenerateRequest{
		AffiliateID:     affiliate.ID,
		Affiliate:       &affiliate,
		SelectedContact: contact,
	})
	out := o.resolve(key, resp, err)
	metrics.Generations.WithLabelValues(out.State.String()).Inc()

	if out.State != AlreadyInProgress {
		o.visible.Remove(key)
	}
	if notify {
		o.notifier.Notify(ctx, noticeFor(out, affiliate))
	}
	return out
}

// resolve applies the transition for one generator response.
func (o *Orchestrator) resolve(key message.Key, resp *dashapi.GenerateResponse, err error) Outcome {
	out := Outcome{Key: key, Err: err}
	switch {
	case err == nil && resp != nil && message.Valid(resp.Message):
		o.messages.Set(key, resp.Message)
		o.failures.Clear(key)
		o.onCredits()
		out.State = Succeeded
		out.Message = resp.Message
		out.Subject = resp.Subject
		return out
	case err == nil:
		out.State, out.Reason = Failed, ReasonEmpty
	case dashapi.IsInProgress(err):
		out.State = AlreadyInProgress
		return out
	case dashapi.IsInsufficientCredit(err):
		out.State, out.Reason = Failed, ReasonInsufficientCredit
	case dashapi.IsNotConfigured(err):
		out.State, out.Reason = Failed, ReasonNotConfigured
	default:
		out.State, out.Reason = Failed, ReasonTransport
	}

	o.failures.Set(key, out.Reason, o.now())
	zap.L().Warn("generation: failed",
		zap.Stringer("key", key),
		zap.String("reason", string(out.Reason)),
		zap.Error(err),
	)
	return out
}

func noticeFor(out Outcome, affiliate model.AffiliateRecord) Notice {
	n := Notice{Key: out.Key}
	name := affiliate.Name
	if name == "" {
		name = affiliate.Domain
	}
	switch out.State {
	case Succeeded:
		n.Level, n.Title = LevelSuccess, "Message generated"
		n.Detail = fmt.Sprintf("Outreach message ready for %s", name)
	case AlreadyInProgress:
		n.Level, n.Title = LevelInfo, "Generation already in progress"
		n.Detail = fmt.Sprintf("A message for %s is still being generated", name)
	default:
		switch out.Reason {
		case ReasonInsufficientCredit:
			n.Level, n.Title = LevelWarning, "Insufficient credits"
			n.Detail = "Not enough AI generation credits to write this message"
		case ReasonNotConfigured:
			n.Level, n.Title = LevelError, "Service not configured"
			n.Detail = "Message generation is not configured on the server"
		case ReasonEmpty:
			n.Level, n.Title = LevelError, "Generation failed"
			n.Detail = fmt.Sprintf("No message was returned for %s", name)
		default:
			n.Level, n.Title = LevelError, "Generation failed"
			if out.Err != nil {
				n.Detail = out.Err.Error()
			}
		}
	}
	return n
}

// UpdateMessage persists a user edit and updates the store once saved.
func (o *Orchestrator) UpdateMessage(ctx context.Context, key message.Key, text string) error {
	if !message.Valid(text) {
		return ErrEmptyMessage
	}
	err := o.gen.UpdateMessage(ctx, dashapi.UpdateMessageRequest{
		AffiliateID:  key.AffiliateID,
		ContactEmail: key.Email,
		Message:      text,
	})
	if err != nil {
		return eris.Wrapf(err, "generation: update message %s", key)
	}
	o.messages.Set(key, text)
	return nil
}
