package message

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/affiliate-outreach/internal/model"
)

// Messages maps a key to its message text. Values are always non-empty
// after Load or Merge.
type Messages map[Key]string

// Valid reports whether text counts as a message.
func Valid(text string) bool {
	return strings.TrimSpace(text) != ""
}

// Load builds the message map from persisted affiliate records.
//
// Per-contact entries are read first; both persisted encodings are already
// resolved by model.StoredMessage. The legacy single-message field is placed
// under NewKey(id, record.Email) only when no per-contact entry claimed that
// key. Empty messages are excluded.
func Load(records []model.AffiliateRecord) Messages {
	out := make(Messages)
	for i := range records {
		rec := &records[i]

		for email, stored := range rec.AIGeneratedMessages {
			if stored.Encoding == model.EncodingPlainString {
				zap.L().Debug("message: recovered unparseable per-contact value",
					zap.Int64("affiliate_id", rec.ID),
					zap.String("email", email),
				)
			}
			if !Valid(stored.Message) {
				continue
			}
			out[NewKey(rec.ID, email)] = stored.Message
		}

		if !Valid(rec.AIGeneratedMessage) {
			continue
		}
		key := NewKey(rec.ID, rec.Email)
		if _, claimed := out[key]; claimed {
			continue
		}
		out[key] = rec.AIGeneratedMessage
	}
	return out
}

// Merge overlays in-memory messages on persisted ones. An in-memory value
// replaces its persisted counterpart only when it is itself valid, so a fresh
// generation wins over a stale read but a corrupt value never erases a good one.
func Merge(persisted, inMemory Messages) Messages {
	out := make(Messages, len(persisted)+len(inMemory))
	for k, v := range persisted {
		if Valid(v) {
			out[k] = v
		}
	}
	for k, v := range inMemory {
		if Valid(v) {
			out[k] = v
		}
	}
	return out
}
