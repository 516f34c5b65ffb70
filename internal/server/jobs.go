package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/affiliate-outreach/internal/model"
	"github.com/sells-group/affiliate-outreach/internal/store"
	"github.com/sells-group/affiliate-outreach/pkg/dashapi"
)

func (s *Server) handleEnrichmentStatus(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ActiveJobs(r.Context(), userID(r))
	if err != nil {
		zap.L().Error("server: active jobs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load jobs")
		return
	}

	resp := dashapi.EnrichmentStatus{HasActiveJobs: len(jobs) > 0, Jobs: make([]dashapi.JobProgress, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, dashapi.JobProgress{
			JobID:           j.JobID,
			CompletedActors: j.CompletedActors,
			TotalActors:     j.TotalActors,
			Platforms:       j.Platforms,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleJobStatus moves the job's staged results into the affiliate
// collection and reports progress.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := userID(r)
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}

	flushed, err := s.store.FlushJob(ctx, user, jobID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		zap.L().Error("server: flush job", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to flush job")
		return
	}

	job, err := s.store.GetJob(ctx, user, jobID)
	if err != nil {
		zap.L().Error("server: load job", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if flushed > 0 {
		zap.L().Info("server: flushed discovery results", zap.String("job_id", jobID), zap.Int("count", flushed))
	}

	writeJSON(w, http.StatusOK, dashapi.JobStatus{
		JobID:           job.JobID,
		Status:          job.Status,
		Flushed:         flushed,
		CompletedActors: job.CompletedActors,
		TotalActors:     job.TotalActors,
	})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req dashapi.CreateJobRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TotalActors <= 0 {
		writeError(w, http.StatusBadRequest, "totalActors must be positive")
		return
	}

	job := &model.DiscoveryJob{
		UserID:      userID(r),
		Status:      model.JobStatusRunning,
		TotalActors: req.TotalActors,
		Platforms:   req.Platforms,
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		zap.L().Error("server: create job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleStageItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := userID(r)
	jobID := chi.URLParam(r, "jobID")

	var req dashapi.StageItemsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := s.store.GetJob(ctx, user, jobID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		zap.L().Error("server: load job", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	staged, err := s.store.StageItems(ctx, job.JobID, req.Items)
	if err != nil {
		zap.L().Error("server: stage items", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to stage items")
		return
	}

	if req.CompletedActors != nil || req.Status != "" {
		completed := job.CompletedActors
		if req.CompletedActors != nil {
			completed = *req.CompletedActors
		}
		status := job.Status
		if req.Status != "" {
			status = req.Status
		}
		if err := s.store.UpdateJobProgress(ctx, user, job.JobID, completed, status); err != nil {
			zap.L().Error("server: update job progress", zap.String("job_id", jobID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to update job")
			return
		}
	}
	writeJSON(w, http.StatusOK, dashapi.StageItemsResponse{Staged: staged})
}
