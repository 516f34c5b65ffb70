package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/affiliate-outreach/internal/enrich"
	"github.com/sells-group/affiliate-outreach/internal/model"
)

func (s *Server) handleListAffiliates(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListAffiliates(r.Context(), userID(r))
	if err != nil {
		zap.L().Error("server: list affiliates", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list affiliates")
		return
	}
	if recs == nil {
		recs = []model.AffiliateRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleCreateAffiliate(w http.ResponseWriter, r *http.Request) {
	var rec model.AffiliateRecord
	if err := decode(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec.Domain = enrich.NormalizeDomain(rec.Domain)
	if rec.Domain == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}
	rec.ID = 0
	rec.UserID = userID(r)

	if err := s.store.CreateAffiliate(r.Context(), &rec); err != nil {
		zap.L().Error("server: create affiliate", zap.String("domain", rec.Domain), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create affiliate")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
