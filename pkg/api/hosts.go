package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/exploopio/streamguard/pkg/inventory"
	"github.com/exploopio/streamguard/pkg/store"
)

type hostCreate struct {
	Alias        string `json:"alias"`
	Address      string `json:"address"`
	SSHUser      string `json:"ssh_user"`
	Port         int    `json:"port"`
	IdentityFile string `json:"identity_file"`
	ProxyJump    string `json:"proxy_jump"`
	OSDistro     string `json:"os_distro"`
	OSVersion    string `json:"os_version"`
}

func (s *Server) handleListHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.deps.Store.ListHosts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if hosts == nil {
		hosts = []*store.Host{}
	}
	writeJSON(w, http.StatusOK, hosts)
}

func (s *Server) handleCreateHost(w http.ResponseWriter, r *http.Request) {
	var req hostCreate
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	h := &store.Host{
		Alias:        req.Alias,
		Address:      req.Address,
		SSHUser:      req.SSHUser,
		Port:         req.Port,
		IdentityFile: req.IdentityFile,
		ProxyJump:    req.ProxyJump,
		OSDistro:     req.OSDistro,
		OSVersion:    req.OSVersion,
	}
	if err := s.deps.Store.CreateHost(r.Context(), h); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

func (s *Server) handleGetHost(w http.ResponseWriter, r *http.Request) {
	h, err := s.deps.Store.GetHost(r.Context(), mux.Vars(r)["hostID"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleUpdateHost(w http.ResponseWriter, r *http.Request) {
	var patch store.HostPatch
	if err := decodeJSON(r, &patch); err != nil {
		s.writeError(w, err)
		return
	}
	h, err := s.deps.Store.UpdateHost(r.Context(), mux.Vars(r)["hostID"], patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleDeleteHost(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteHost(r.Context(), mux.Vars(r)["hostID"]); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tester == nil {
		writeErrorMessage(w, http.StatusServiceUnavailable, "connection testing is not configured")
		return
	}
	var req inventory.ConnRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.deps.Tester.TestConnection(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if s.deps.Discoverer == nil {
		writeErrorMessage(w, http.StatusServiceUnavailable, "host discovery is not configured")
		return
	}
	report, err := s.deps.Discoverer.Discover(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
