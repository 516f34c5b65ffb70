package generation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/affiliate-outreach/internal/model"
)

// Target is one key of a bulk run.
type Target struct {
	Affiliate model.AffiliateRecord
	Contact   *model.Contact
}

// BulkSummary counts the outcomes of a bulk run.
type BulkSummary struct {
	Succeeded  int
	Failed     int
	Skipped    int
	InProgress int
	Total      int
	Outcomes   []Outcome
}

// Bulk generates for targets strictly in order, pausing bulkDelay after each
// request completes before sending the next.
// progress, when non-nil, is called after every item. A single summary
// notice is emitted. Only one bulk run may be active at a time.
func (o *Orchestrator) Bulk(ctx context.Context, targets []Target, progress func(current, total int)) (*BulkSummary, error) {
	if !o.bulkRunning.CompareAndSwap(false, true) {
		return nil, ErrBulkInProgress
	}
	defer o.bulkRunning.Store(false)

	sum := &BulkSummary{Total: len(targets)}
	var runErr error
	for i, t := range targets {
		err := ctx.Err()
		if i > 0 {
			err = o.pause(ctx)
		}
		if err != nil {
			runErr = err
			break
		}

		out := o.generate(ctx, t.Affiliate, t.Contact, false)
		sum.Outcomes = append(sum.Outcomes, out)
		switch out.State {
		case Succeeded:
			sum.Succeeded++
		case Failed:
			sum.Failed++
		case AlreadyInProgress:
			sum.InProgress++
		default:
			sum.Skipped++
		}
		if progress != nil {
			progress(i+1, len(targets))
		}
	}

	zap.L().Info("generation: bulk run finished",
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("in_progress", sum.InProgress),
		zap.Int("total", sum.Total),
	)
	o.notifier.Notify(ctx, bulkNotice(sum))
	return sum, runErr
}

// pause waits bulkDelay after the previous request has returned.
func (o *Orchestrator) pause(ctx context.Context) error {
	if o.bulkDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(o.bulkDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether a bulk run is active.
func (o *Orchestrator) Running() bool {
	return o.bulkRunning.Load()
}

func bulkNotice(sum *BulkSummary) Notice {
	n := Notice{
		Level:  LevelSuccess,
		Title:  "Bulk generation complete",
		Detail: fmt.Sprintf("Generated %d of %d messages", sum.Succeeded, sum.Total),
	}
	if sum.Failed > 0 {
		n.Level = LevelWarning
		n.Detail += fmt.Sprintf(", %d failed", sum.Failed)
	}
	return n
}

// PendingTargets lists the affiliates with a known email and no generated
// message, addressed to their primary contact when enrichment found one.
func (o *Orchestrator) PendingTargets(records []model.AffiliateRecord) []Target {
	var out []Target
	for _, rec := range records {
		if rec.Email == "" || o.messages.HasAny(rec.ID) {
			continue
		}
		t := Target{Affiliate: rec}
		if c, ok := rec.FindContact(rec.Email); ok {
			t.Contact = &c
		}
		out = append(out, t)
	}
	return out
}
