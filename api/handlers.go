package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"listing-geocoder/models"
	"listing-geocoder/services"
)

// StartCrawlRequest names a catalogued region by code, or carries a full
// region definition.
type StartCrawlRequest struct {
	Region string         `json:"region"`
	Custom *models.Region `json:"custom,omitempty"`
}

func (s *Server) handleListRegions(w http.ResponseWriter, r *http.Request) {
	regions := s.regions.All()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": regions,
		"total": len(regions),
	})
}

func (s *Server) handleListCrawls(w http.ResponseWriter, r *http.Request) {
	crawls := s.manager.List()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": crawls,
		"total": len(crawls),
	})
}

func (s *Server) handleStartCrawl(w http.ResponseWriter, r *http.Request) {
	var req StartCrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var region models.Region
	switch {
	case req.Custom != nil:
		region = *req.Custom
	case strings.TrimSpace(req.Region) != "":
		found, ok := s.regions.Lookup(req.Region)
		if !ok {
			respondError(w, http.StatusNotFound, "Unknown region: "+req.Region)
			return
		}
		region = found
	default:
		respondError(w, http.StatusBadRequest, "region is required")
		return
	}

	handle, err := s.manager.StartCrawl(region)
	if err != nil {
		if errors.Is(err, services.ErrManagerClosed) {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("[api] crawl %s accepted for %s", handle, region.Code)
	respondJSON(w, http.StatusAccepted, map[string]string{
		"handle": handle,
		"region": region.Code,
	})
}

func (s *Server) handleGetCrawl(w http.ResponseWriter, r *http.Request) {
	st, err := s.manager.Status(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if r.URL.Query().Get("listings") == "false" && st.Dataset != nil {
		ds := *st.Dataset
		ds.Listings = nil
		st.Dataset = &ds
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleCrawlReport(w http.ResponseWriter, r *http.Request) {
	st, err := s.manager.Status(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if st.Dataset == nil {
		respondError(w, http.StatusConflict, "crawl is still "+string(st.State))
		return
	}
	respondJSON(w, http.StatusOK, s.insights.Generate(st.Dataset))
}

func (s *Server) handleCancelCrawl(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.Cancel(id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	st, _ := s.manager.Status(id)
	st.Dataset = nil
	respondJSON(w, http.StatusAccepted, st)
}
