package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/formloop/genwatch/internal/backend"
	"github.com/formloop/genwatch/internal/genjobs"
	"github.com/formloop/genwatch/internal/observer"
	"github.com/formloop/genwatch/pkg/icron"
)

type jobResponse struct {
	*genjobs.JobProjection
	Progress float64 `json:"progress"`
}

func toJobResponses(projections []*genjobs.JobProjection) []jobResponse {
	ret := make([]jobResponse, 0, len(projections))
	for _, p := range projections {
		ret = append(ret, jobResponse{JobProjection: p, Progress: p.Progress()})
	}
	return ret
}

func (s *Server) handleWatchList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponses(s.controller.Projections()))
}

// handleWatchItem serves /api/watch/{surveyId}: GET reads the
// projection, PUT attaches an observer without starting a run, DELETE
// detaches it.
func (s *Server) handleWatchItem(w http.ResponseWriter, r *http.Request) {
	surveyID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/watch/"), "/")
	if decoded, err := url.PathUnescape(surveyID); err == nil {
		surveyID = decoded
	}
	if surveyID == "" {
		writeError(w, http.StatusBadRequest, "missing survey id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		p, ok := s.controller.Projection(surveyID)
		if !ok {
			writeError(w, http.StatusNotFound, "survey is not being observed")
			return
		}
		writeJSON(w, http.StatusOK, jobResponse{JobProjection: p, Progress: p.Progress()})
	case http.MethodPut:
		s.controller.Observe(surveyID)
		writeJSON(w, http.StatusOK, map[string]any{"observing": true})
	case http.MethodDelete:
		s.controller.StopObserving(surveyID)
		writeJSON(w, http.StatusOK, map[string]any{"observing": false})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req observer.StartGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	outcome, err := s.controller.StartGeneration(r.Context(), req)
	if err != nil {
		var verr *observer.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		var rejected *backend.StartRejectedError
		if errors.As(err, &rejected) {
			writeError(w, http.StatusUnprocessableEntity, rejected.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, outcome)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.scheduleExpr == "" {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}

	info, err := icron.GetTriggerInfo(s.scheduleExpr, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":    true,
		"expression": info.Expression,
		"next":       info.Next,
		"last":       info.Last,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
