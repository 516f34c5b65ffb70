package generation

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/affiliate-outreach/internal/model"
)

// Reconcile runs on every data reload. A record whose generation started
// after its last generated-at, within the reconcile window, is shown as
// generating unless one of its keys has failed since that start; otherwise its keys leave the visible set unless a local
// submission still holds them. The message store is re-seeded from the
// records merged with in-memory messages.
func (o *Orchestrator) Reconcile(records []model.AffiliateRecord) {
	now := o.now()
	for i := range records {
		rec := &records[i]
		if o.startedRecently(rec, now) && !o.failures.FailedSince(rec.ID, *rec.AIGenerationStartedAt) {
			if !o.visible.Affiliate(rec.ID) {
				o.visible.Add(KeyFor(*rec, nil))
			}
			continue
		}
		for _, key := range o.visible.For(rec.ID) {
			if o.inflight.Contains(key) {
				continue
			}
			o.visible.Remove(key)
			zap.L().Debug("generation: reconciled stale in-progress key", zap.Stringer("key", key))
		}
	}
	o.messages.Reload(records)
}

func (o *Orchestrator) startedRecently(rec *model.AffiliateRecord, now time.Time) bool {
	started := rec.AIGenerationStartedAt
	if started == nil {
		return false
	}
	if gen := rec.AIGeneratedAt; gen != nil && !gen.Before(*started) {
		return false
	}
	return now.Sub(*started) < o.reconcileWindow
}
