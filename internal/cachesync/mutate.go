package cachesync

import (
	"context"
	"time"

	"github.com/sells-group/affiliate-outreach/internal/model"
)

// SetMessage optimistically stores msg for contactEmail on affiliate id.
// An empty contactEmail writes the legacy single-message field.
func (c *Cache) SetMessage(ctx context.Context, id int64, contactEmail string, msg model.StoredMessage) {
	c.Mutate(ctx, func(recs []model.AffiliateRecord) []model.AffiliateRecord {
		for i := range recs {
			if recs[i].ID != id {
				continue
			}
			if contactEmail == "" {
				recs[i].AIGeneratedMessage = msg.Message
				break
			}
			msgs := make(map[string]model.StoredMessage, len(recs[i].AIGeneratedMessages)+1)
			for k, v := range recs[i].AIGeneratedMessages {
				msgs[k] = v
			}
			msgs[contactEmail] = msg
			recs[i].AIGeneratedMessages = msgs
			break
		}
		return recs
	})
}

// SetEmail optimistically records an enrichment result on affiliate id.
func (c *Cache) SetEmail(ctx context.Context, id int64, email string, status model.EmailStatus, results *model.EmailResults) {
	c.Mutate(ctx, func(recs []model.AffiliateRecord) []model.AffiliateRecord {
		for i := range recs {
			if recs[i].ID == id {
				recs[i].Email = email
				recs[i].EmailStatus = status
				recs[i].EmailResults = results
				recs[i].UpdatedAt = time.Now().UTC()
				break
			}
		}
		return recs
	})
}
