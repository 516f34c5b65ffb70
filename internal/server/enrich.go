package server

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/affiliate-outreach/internal/credit"
	"github.com/sells-group/affiliate-outreach/internal/enrich"
	"github.com/sells-group/affiliate-outreach/internal/enrich/provider"
	"github.com/sells-group/affiliate-outreach/internal/model"
	"github.com/sells-group/affiliate-outreach/internal/store"
	"github.com/sells-group/affiliate-outreach/pkg/dashapi"
)

func (s *Server) handleEnrichEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := userID(r)

	var req dashapi.EnrichRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AffiliateID == 0 || req.Domain == "" {
		writeError(w, http.StatusBadRequest, "affiliateId and domain are required")
		return
	}
	if s.enrich == nil || len(s.enrich.AvailableProviders()) == 0 {
		writeError(w, http.StatusServiceUnavailable, "no email providers configured")
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

	if !s.checkCredit(w, r, credit.KindEmailLookup) {
		return
	}

	domain := req.Domain
	if enrich.IsSocialDomain(domain) {
		recovered := enrich.RecoverBusinessDomain(aff.Bio)
		zap.L().Debug("server: social domain, using bio website",
			zap.String("domain", domain), zap.String("recovered", recovered))
		if recovered == "" {
			s.finishLookup(w, r, req.AffiliateID, &provider.Result{Error: "no business website found for social profile"})
			return
		}
		domain = recovered
	}

	lookup := enrich.Request{Domain: domain, PersonName: req.PersonName, LinkedInURL: req.LinkedInURL}
	var res *provider.Result
	if req.Provider != "" {
		res, err = s.enrich.FindEmailWithProvider(ctx, req.Provider, lookup)
	} else {
		res, err = s.enrich.FindEmail(ctx, lookup)
	}
	switch {
	case errors.Is(err, enrich.ErrInvalidDomain), errors.Is(err, enrich.ErrProviderUnavailable):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, enrich.ErrNoProviders):
		writeError(w, http.StatusServiceUnavailable, "no email providers configured")
		return
	case err != nil:
		zap.L().Error("server: email lookup", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "email lookup failed")
		return
	}

	s.finishLookup(w, r, req.AffiliateID, res)
}

// finishLookup persists the lookup outcome, debits a credit when an email was
// found and writes the response.
func (s *Server) finishLookup(w http.ResponseWriter, r *http.Request, affiliateID int64, res *provider.Result) {
	ctx := r.Context()
	user := userID(r)

	status := model.EmailStatusNotFound
	switch {
	case res.Found:
		status = model.EmailStatusFound
	case res.Error != "":
		status = model.EmailStatusError
	}

	results := &model.EmailResults{
		Emails:       res.Emails,
		Contacts:     res.Contacts,
		Provider:     res.Provider,
		SearchedAt:   s.now(),
		CostEstimate: res.CostEstimate,
	}
	if err := s.store.SaveEmailResult(ctx, user, affiliateID, res.Email, status, results); err != nil {
		zap.L().Error("server: save email result", zap.Int64("affiliate_id", affiliateID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save lookup result")
		return
	}

	if res.Found {
		if _, err := s.credits.Consume(ctx, user, credit.KindEmailLookup, 1, strconv.FormatInt(affiliateID, 10), "affiliate"); err != nil {
			zap.L().Error("server: consume lookup credit", zap.String("user_id", user), zap.Error(err))
		}
	}

	resp := dashapi.EnrichResponse{
		Email:        res.Email,
		Emails:       nonNil(res.Emails),
		Contacts:     res.Contacts,
		Status:       status,
		Provider:     res.Provider,
		CostEstimate: res.CostEstimate,
		Error:        res.Error,
	}
	if resp.Contacts == nil {
		resp.Contacts = []model.Contact{}
	}
	if c, ok := res.Primary(); ok {
		resp.FirstName, resp.LastName, resp.Title = c.FirstName, c.LastName, c.Title
	}
	writeJSON(w, http.StatusOK, resp)
}

// checkCredit writes a 402 and returns false when the user cannot afford
// one operation of kind.
func (s *Server) checkCredit(w http.ResponseWriter, r *http.Request, kind credit.Kind) bool {
	_, err := s.credits.Require(r.Context(), userID(r), kind, 1)
	if err == nil {
		return true
	}
	var ice *credit.InsufficientCreditError
	if errors.As(err, &ice) {
		remaining := ice.Remaining
		writeJSON(w, http.StatusPaymentRequired, dashapi.ErrorResponse{Error: ice.Message, Remaining: &remaining})
		return false
	}
	zap.L().Error("server: credit check", zap.String("kind", string(kind)), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "credit check failed")
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
