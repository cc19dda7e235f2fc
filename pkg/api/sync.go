package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/cohenjo/plansync/pkg/syncer"
	"github.com/rs/zerolog/log"
)

// Syncer runs the sync phases; *syncer.Service implements it
type Syncer interface {
	SyncProperties(ctx context.Context, opts syncer.PropertySyncOptions) (*syncer.PropertiesReport, error)
	SyncTrackingPlans(ctx context.Context) (*syncer.PlansReport, error)
	SyncAll(ctx context.Context, opts syncer.PropertySyncOptions) (*syncer.RunReport, error)
}

type successResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	RunID   string      `json:"run_id"`
	Report  interface{} `json:"report"`
}

type errorResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

func (s *Server) handleSyncTrackingPlans(w http.ResponseWriter, r *http.Request) {
	if !allowSyncMethod(w, r) {
		return
	}
	report, err := s.syncer.SyncTrackingPlans(runContext(r))
	if err != nil {
		writeSyncError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{
		Status:  "success",
		Message: "Tracking plans synced successfully",
		RunID:   report.RunID,
		Report:  report,
	})
}

func (s *Server) handleSyncEventProperties(w http.ResponseWriter, r *http.Request) {
	if !allowSyncMethod(w, r) {
		return
	}
	opts, ok := propertyOptions(w, r)
	if !ok {
		return
	}
	report, err := s.syncer.SyncProperties(runContext(r), opts)
	if err != nil {
		writeSyncError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{
		Status:  "success",
		Message: "Event properties synced successfully",
		RunID:   report.RunID,
		Report:  report,
	})
}

func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	if !allowSyncMethod(w, r) {
		return
	}
	opts, ok := propertyOptions(w, r)
	if !ok {
		return
	}
	report, err := s.syncer.SyncAll(runContext(r), opts)
	if err != nil {
		writeSyncError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{
		Status:  "success",
		Message: "Catalog synced successfully",
		RunID:   report.RunID,
		Report:  report,
	})
}

// runContext detaches a run from the request so a client disconnect cannot
// stop it between archiving a collection and recreating it. The run timeout
// still bounds it.
func runContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func allowSyncMethod(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodPost {
		return true
	}
	w.Header().Set("Allow", "GET, POST")
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Status: "error", Detail: "Method not allowed"})
	return false
}

func propertyOptions(w http.ResponseWriter, r *http.Request) (syncer.PropertySyncOptions, bool) {
	var opts syncer.PropertySyncOptions
	if raw := r.URL.Query().Get("resume"); raw != "" {
		resume, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Detail: "resume must be a boolean"})
			return opts, false
		}
		opts.Resume = resume
	}
	return opts, true
}

func writeSyncError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := http.StatusInternalServerError
	if errors.Is(err, syncer.ErrSyncInProgress) {
		statusCode = http.StatusConflict
	}
	log.Error().Err(err).Str("path", r.URL.Path).Int("status_code", statusCode).Msg("Sync request failed")
	writeJSON(w, statusCode, errorResponse{Status: "error", Detail: err.Error()})
}
