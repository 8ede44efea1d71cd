package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/exploopio/streamguard/pkg/content"
)

type fetchResponse struct {
	Distro    string             `json:"distro"`
	Offline   bool               `json:"offline"`
	Version   string             `json:"version"`
	Artifacts []content.Artifact `json:"artifacts"`
}

func (s *Server) handleFetchContent(w http.ResponseWriter, r *http.Request) {
	distro := mux.Vars(r)["distro"]

	offline := s.deps.Content.Offline()
	var override *bool
	if v := r.URL.Query().Get("offline"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "offline must be true or false")
			return
		}
		offline = b
		override = &b
	}

	version, artifacts, err := s.deps.Content.EnsureContent(r.Context(), distro, override)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if artifacts == nil {
		artifacts = []content.Artifact{}
	}
	writeJSON(w, http.StatusOK, fetchResponse{
		Distro:    distro,
		Offline:   offline,
		Version:   version,
		Artifacts: artifacts,
	})
}

func (s *Server) handleContentStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Content.Status())
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	distro := mux.Vars(r)["distro"]
	profiles, err := s.deps.Content.ListProfiles(r.Context(), distro)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if profiles == nil {
		profiles = []content.ProfileInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"distro": distro, "profiles": profiles})
}

func (s *Server) handleRawProfile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	body, err := s.deps.Content.FetchRawProfile(r.Context(), vars["product"], vars["profile"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

type offlineMode struct {
	Offline *bool `json:"offline"`
}

func (s *Server) handleGetOfflineMode(w http.ResponseWriter, r *http.Request) {
	offline := s.deps.Content.Offline()
	writeJSON(w, http.StatusOK, offlineMode{Offline: &offline})
}

func (s *Server) handleSetOfflineMode(w http.ResponseWriter, r *http.Request) {
	var req offlineMode
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Offline == nil {
		writeErrorMessage(w, http.StatusBadRequest, "offline is required")
		return
	}
	prev := s.deps.Content.SetOffline(*req.Offline)
	if prev != *req.Offline {
		s.log.Info("content mode switched to offline=%t", *req.Offline)
	}
	writeJSON(w, http.StatusOK, offlineMode{Offline: req.Offline})
}
