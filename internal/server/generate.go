package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/affiliate-outreach/internal/credit"
	"github.com/sells-group/affiliate-outreach/internal/message"
	"github.com/sells-group/affiliate-outreach/internal/model"
	"github.com/sells-group/affiliate-outreach/internal/outreach"
	"github.com/sells-group/affiliate-outreach/internal/store"
	"github.com/sells-group/affiliate-outreach/pkg/dashapi"
)

func (s *Server) handleGenerateMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := userID(r)

	var req dashapi.GenerateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AffiliateID == 0 {
		writeError(w, http.StatusBadRequest, "affiliateId is required")
		return
	}
	if s.writer == nil {
		writeError(w, http.StatusServiceUnavailable, "AI writer not configured")
		return
	}

	aff, err := s.store.GetAffiliate(ctx, user, req.AffiliateID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "affiliate not found")
		return
	}
	if err != nil {
		zap.L().Error("server: load affiliate", zap.Int64("affiliate_id", req.AffiliateID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load affiliate")
		return
	}

	// Without a selected contact the message lands in the legacy field,
	// which readers key by the affiliate's own email.
	var contactEmail string
	key := message.NewKey(aff.ID, aff.Email)
	if req.SelectedContact != nil {
		key = message.NewKey(aff.ID, req.SelectedContact.Email)
		contactEmail = key.Email
	}

	if !s.checkCredit(w, r, credit.KindAIGeneration) {
		return
	}

	lockKey := "generate:" + user + ":" + key.String()
	token, acquired, err := s.locker.Acquire(ctx, lockKey, s.lockTTL)
	switch {
	case err != nil:
		zap.L().Warn("server: generation lock unavailable, continuing unlocked",
			zap.Stringer("key", key), zap.Error(err))
	case !acquired:
		writeJSON(w, http.StatusConflict, dashapi.ErrorResponse{
			Error:      "generation already in progress",
			InProgress: true,
		})
		return
	default:
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
				zap.L().Warn("server: release generation lock", zap.Stringer("key", key), zap.Error(err))
			}
		}()
	}

	if err := s.store.MarkGenerationStarted(ctx, user, req.AffiliateID, s.now()); err != nil {
		zap.L().Error("server: mark generation started", zap.Stringer("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start generation")
		return
	}

	draft, err := s.writer.Write(ctx, outreach.Input{Affiliate: *aff, Contact: req.SelectedContact})
	if err != nil {
		zap.L().Error("server: write message", zap.Stringer("key", key), zap.Error(err))
		s.clearStarted(ctx, user, req.AffiliateID)
		writeError(w, http.StatusBadGateway, "message generation failed")
		return
	}
	if draft.Empty() {
		s.clearStarted(ctx, user, req.AffiliateID)
		writeJSON(w, http.StatusOK, dashapi.GenerateResponse{Success: false})
		return
	}

	stored := model.NewStoredMessage(draft.Message, draft.Subject, s.now())
	if err := s.store.SaveMessage(ctx, user, req.AffiliateID, contactEmail, stored); err != nil {
		zap.L().Error("server: save message", zap.Stringer("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	if _, err := s.credits.Consume(ctx, user, credit.KindAIGeneration, 1, strconv.FormatInt(req.AffiliateID, 10), "affiliate"); err != nil {
		zap.L().Error("server: consume generation credit", zap.String("user_id", user), zap.Error(err))
	}

	zap.L().Info("server: message generated",
		zap.Stringer("key", key),
		zap.Int64("output_tokens", draft.Usage.OutputTokens),
	)
	writeJSON(w, http.StatusOK, dashapi.GenerateResponse{
		Success: true,
		Message: draft.Message,
		Subject: draft.Subject,
	})
}

// clearStarted undoes MarkGenerationStarted when nothing was saved.
func (s *Server) clearStarted(ctx context.Context, user string, id int64) {
	if err := s.store.ClearGenerationStarted(context.WithoutCancel(ctx), user, id); err != nil {
		zap.L().Warn("server: clear generation started", zap.Int64("affiliate_id", id), zap.Error(err))
	}
}

func (s *Server) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := userID(r)

	var req dashapi.UpdateMessageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AffiliateID == 0 || !message.Valid(req.Message) {
		writeError(w, http.StatusBadRequest, "affiliateId and message are required")
		return
	}

	key := message.NewKey(req.AffiliateID, req.ContactEmail)
	stored := model.NewStoredMessage(req.Message, "", s.now())
	err := s.store.SaveMessage(ctx, user, req.AffiliateID, key.Email, stored)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "affiliate not found")
		return
	}
	if err != nil {
		zap.L().Error("server: update message", zap.Stringer("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}
	writeJSON(w, http.StatusOK, dashapi.SuccessResponse{Success: true})
}
