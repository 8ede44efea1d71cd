package api

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/exploopio/streamguard/pkg/errors"
	"github.com/exploopio/streamguard/pkg/runner"
	"github.com/exploopio/streamguard/pkg/store"
)

type auditRequest struct {
	Hosts       []string `json:"hosts"`
	Distro      string   `json:"distro"`
	ProfileName string   `json:"profile_name"`
	ProfilePath string   `json:"profile_path"`
	// Wait runs the job before answering instead of in the background.
	Wait bool `json:"wait"`
}

type mitigateRequest struct {
	Hosts        []string `json:"hosts"`
	Distro       string   `json:"distro"`
	ProfileName  string   `json:"profile_name"`
	PlaybookPath string   `json:"playbook_path"`
	DryRun       *bool    `json:"dry_run"`
	Wait         bool     `json:"wait"`
}

type jobAccepted struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Events string `json:"events"`
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	var req auditRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.ProfileName == "" {
		writeErrorMessage(w, http.StatusBadRequest, "profile_name is required")
		return
	}

	datastream := req.ProfilePath
	if datastream == "" {
		ds, _, err := s.resolveContent(r, req.Distro, req.ProfileName, func(ds, _ string) bool { return ds != "" })
		if err != nil {
			s.writeError(w, err)
			return
		}
		if ds == "" {
			writeErrorMessage(w, http.StatusBadRequest,
				"No datastream available for this distro. Fetch content first via /api/cac/fetch/{distro}.")
			return
		}
		datastream = ds
	}

	runReq := runner.AuditRequest{
		Hosts:      req.Hosts,
		Distro:     req.Distro,
		Profile:    req.ProfileName,
		Datastream: datastream,
	}
	if req.Wait {
		res, err := s.deps.Jobs.RunAudit(r.Context(), runReq)
		if err != nil && res == nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	job, err := s.deps.Jobs.StartAudit(r.Context(), runReq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: job.ID, Status: job.Status, Events: "/ws/audit/" + job.ID})
}

func (s *Server) handleMitigate(w http.ResponseWriter, r *http.Request) {
	var req mitigateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.ProfileName == "" {
		writeErrorMessage(w, http.StatusBadRequest, "profile_name is required")
		return
	}

	playbook := req.PlaybookPath
	if playbook == "" {
		_, pb, err := s.resolveContent(r, req.Distro, req.ProfileName, func(_, pb string) bool { return pb != "" })
		if err != nil {
			s.writeError(w, err)
			return
		}
		if pb == "" {
			writeErrorMessage(w, http.StatusBadRequest,
				"No CAC playbook available for this distro/profile. Fetch content first via /api/cac/fetch/{distro}.")
			return
		}
		playbook = pb
	}

	dryRun := true
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}
	runReq := runner.MitigationRequest{
		Hosts:    req.Hosts,
		Distro:   req.Distro,
		Profile:  req.ProfileName,
		Playbook: playbook,
		DryRun:   dryRun,
	}
	if req.Wait {
		res, err := s.deps.Jobs.RunMitigation(r.Context(), runReq)
		if err != nil && res == nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	job, err := s.deps.Jobs.StartMitigation(r.Context(), runReq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: job.ID, Status: job.Status, Events: "/ws/mitigate/" + job.ID})
}

// resolveContent looks the distro/profile up in the cache and, when found
// is false for the answer, fetches content once and looks again.
func (s *Server) resolveContent(r *http.Request, distro, profile string, found func(ds, pb string) bool) (string, string, error) {
	if distro == "" {
		return "", "", errors.E(errors.KindInvalidInput, "api.resolveContent", "distro is required")
	}
	ds, pb, err := s.deps.Content.Resolve(distro, profile)
	if err != nil || found(ds, pb) {
		return ds, pb, err
	}
	if _, _, err := s.deps.Content.EnsureContent(r.Context(), distro, nil); err != nil {
		return "", "", err
	}
	return s.deps.Content.Resolve(distro, profile)
}

func (s *Server) handleHistory(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeErrorMessage(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = n
		}
		jobs, err := s.deps.Store.ListJobs(r.Context(), store.JobFilter{Kind: kind, Limit: limit})
		if err != nil {
			s.writeError(w, err)
			return
		}
		if jobs == nil {
			jobs = []*store.Job{}
		}
		writeJSON(w, http.StatusOK, jobs)
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Store.GetJob(r.Context(), mux.Vars(r)["jobID"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) auditResults(r *http.Request) (*store.Job, []*store.ScanResult, error) {
	jobID := mux.Vars(r)["jobID"]
	job, err := s.deps.Store.GetJob(r.Context(), jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Kind != store.KindAudit {
		return nil, nil, errors.E(errors.KindNotFound, "api.auditResults", "no audit job "+jobID)
	}
	results, err := s.deps.Store.JobResults(r.Context(), jobID)
	if err != nil {
		return nil, nil, err
	}
	if results == nil {
		results = []*store.ScanResult{}
	}
	return job, results, nil
}

func (s *Server) handleAuditResults(w http.ResponseWriter, r *http.Request) {
	job, results, err := s.auditResults(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job, "results": results})
}

// exportRow is one rule of one host in an export.
type exportRow struct {
	ScanResultID string `json:"scan_result_id"`
	HostID       string `json:"host_id"`
	Host         string `json:"host"`
	RuleID       string `json:"rule_id"`
	Severity     string `json:"severity"`
	Status       string `json:"status"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Rationale    string `json:"rationale"`
	FixText      string `json:"fixtext"`
}

var exportHeader = []string{
	"scan_result_id", "host_id", "host", "rule_id", "severity", "status",
	"title", "description", "rationale", "fixtext",
}

func (row exportRow) record() []string {
	return []string{
		row.ScanResultID, row.HostID, row.Host, row.RuleID, row.Severity, row.Status,
		row.Title, row.Description, row.Rationale, row.FixText,
	}
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(mux.Vars(r)["format"])
	if format != "json" && format != "csv" {
		writeErrorMessage(w, http.StatusBadRequest, "Unsupported export format")
		return
	}

	_, results, err := s.auditResults(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	rows := []exportRow{}
	for _, res := range results {
		for _, rule := range res.Rules {
			rows = append(rows, exportRow{
				ScanResultID: res.ID,
				HostID:       res.HostID,
				Host:         res.Host,
				RuleID:       rule.RuleID,
				Severity:     rule.Severity,
				Status:       rule.Status,
				Title:        rule.Title,
				Description:  rule.Description,
				Rationale:    rule.Rationale,
				FixText:      rule.FixText,
			})
		}
	}

	if format == "json" {
		writeJSON(w, http.StatusOK, rows)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=audit_results.csv")
	w.WriteHeader(http.StatusOK)
	cw := csv.NewWriter(w)
	_ = cw.Write(exportHeader)
	for _, row := range rows {
		_ = cw.Write(row.record())
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.log.Warn("csv export of job %s: %v", mux.Vars(r)["jobID"], err)
	}
}
