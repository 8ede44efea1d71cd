package runner

import (
	"context"
	"path/filepath"

	"github.com/exploopio/streamguard/pkg/errors"
	"github.com/exploopio/streamguard/pkg/events"
	"github.com/exploopio/streamguard/pkg/executor"
	"github.com/exploopio/streamguard/pkg/store"
	"github.com/exploopio/streamguard/pkg/xccdf"
)

// AuditRequest describes an audit job. Datastream must already be resolved.
type AuditRequest struct {
	Hosts      []string `json:"hosts"`
	Distro     string   `json:"distro"`
	Profile    string   `json:"profile"`
	Datastream string   `json:"datastream"`
}

// HostAuditResult is the outcome of one host.
type HostAuditResult struct {
	Host         string  `json:"host"`
	ScanResultID string  `json:"scan_result_id,omitempty"`
	Score        float64 `json:"score"`
	Passed       int     `json:"passed"`
	Failed       int     `json:"failed"`
	Other        int     `json:"other"`
	Error        string  `json:"error,omitempty"`

	Rules []store.RuleResult `json:"rules"`
}

// AuditResult is the outcome of an audit job, one entry per host in
// request order.
type AuditResult struct {
	JobID  string            `json:"job_id"`
	Status string            `json:"status"`
	Hosts  []HostAuditResult `json:"hosts"`
}

// Failed counts hosts that ended with an error.
func (r *AuditResult) Failed() int {
	n := 0
	for _, h := range r.Hosts {
		if h.Error != "" {
			n++
		}
	}
	return n
}

// RunAudit creates an audit job and runs it to completion.
func (r *Runner) RunAudit(ctx context.Context, req AuditRequest) (*AuditResult, error) {
	job, req, err := r.prepareAudit(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.executeAudit(ctx, job, req)
}

// StartAudit creates an audit job and runs it in the background. The job
// keeps running after ctx is canceled.
func (r *Runner) StartAudit(ctx context.Context, req AuditRequest) (*store.Job, error) {
	job, req, err := r.prepareAudit(ctx, req)
	if err != nil {
		return nil, err
	}
	snapshot := *job
	r.background.Add(1)
	go func() {
		defer r.background.Done()
		if _, err := r.executeAudit(context.WithoutCancel(ctx), job, req); err != nil {
			r.log.Error("audit job %s: %v", job.ID, err)
		}
	}()
	return &snapshot, nil
}

func (r *Runner) prepareAudit(ctx context.Context, req AuditRequest) (*store.Job, AuditRequest, error) {
	const op = "runner.RunAudit"
	if r.evaluator == nil {
		return nil, req, errors.E(errors.KindInvalidInput, op, "no evaluator configured")
	}
	hosts, err := validateHosts(op, req.Hosts)
	if err != nil {
		return nil, req, err
	}
	if req.Datastream == "" {
		return nil, req, errors.E(errors.KindInvalidInput, op, "datastream is required")
	}
	req.Hosts = hosts
	job, err := r.createJob(ctx, store.KindAudit, req.Distro, req.Profile, false, len(hosts))
	if err != nil {
		return nil, req, err
	}
	return job, req, nil
}

func (r *Runner) executeAudit(ctx context.Context, job *store.Job, req AuditRequest) (res *AuditResult, err error) {
	res = &AuditResult{JobID: job.ID, Hosts: make([]HostAuditResult, len(req.Hosts))}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("audit job %s panicked: %v", job.ID, p)
			err = r.finishJob(ctx, job, store.JobFailed, "internal error", nil)
			if err == nil {
				err = errors.E(errors.KindOrchestrationFatal, "runner.RunAudit", "job aborted")
			}
			res.Status = store.JobFailed
		}
	}()

	resultsDir := filepath.Join(r.cfg.ResultsDir, job.ID)
	if err := ensureDir(resultsDir); err != nil {
		r.log.Warn("audit job %s: results dir: %v", job.ID, err)
	}

	r.fanOut(ctx, req.Hosts,
		func(ctx context.Context, i int) {
			res.Hosts[i] = r.auditHost(ctx, job, req, req.Hosts[i], resultsDir)
		},
		func(i int, err error) {
			res.Hosts[i] = HostAuditResult{Host: req.Hosts[i], Error: err.Error()}
			r.publish(job.ID, events.Event{Name: events.AuditError, Host: req.Hosts[i], Data: map[string]any{"error": err.Error()}})
		})

	if err := r.finishJob(ctx, job, store.JobCompleted, "", map[string]any{
		"hosts":  len(req.Hosts),
		"failed": res.Failed(),
	}); err != nil {
		res.Status = store.JobFailed
		return res, err
	}
	res.Status = store.JobCompleted
	return res, nil
}

func (r *Runner) auditHost(ctx context.Context, job *store.Job, req AuditRequest, address, resultsDir string) HostAuditResult {
	out := HostAuditResult{Host: address}
	r.publish(job.ID, events.Event{Name: events.AuditStart, Host: address})

	err := r.hostUnit(ctx, store.KindAudit, address, func(ctx context.Context, host *store.Host) error {
		resultsPath := filepath.Join(resultsDir, fileSafe(address)+"_results.xml")
		err := r.evaluator.Evaluate(ctx, r.targetFor(host), executor.EvalRequest{
			Profile:     profileID(req.Profile),
			Datastream:  req.Datastream,
			ResultsPath: resultsPath,
		})
		if err != nil {
			return err
		}

		report, perr := xccdf.ParseResults(resultsPath, req.Datastream)
		if perr != nil {
			r.log.Warn("audit job %s host %s: %v", job.ID, address, perr)
		}
		if report == nil {
			report = &xccdf.Report{}
		}

		sr := &store.ScanResult{
			JobID:       job.ID,
			HostID:      host.ID,
			Host:        address,
			Distro:      req.Distro,
			ProfileName: req.Profile,
			Score:       report.Score,
			Passed:      report.Passed,
			Failed:      report.Failed,
			Other:       report.Other,
			Rules:       toRuleResults(report.Rules),
		}
		if err := r.store.SaveScanResult(ctx, sr); err != nil {
			return err
		}
		out.ScanResultID = sr.ID
		out.Score = sr.Score
		out.Passed = sr.Passed
		out.Failed = sr.Failed
		out.Other = sr.Other
		out.Rules = sr.Rules
		return nil
	})
	if err != nil {
		out.Error = err.Error()
		r.log.Warn("audit job %s host %s failed: %v", job.ID, address, err)
		r.publish(job.ID, events.Event{Name: events.AuditError, Host: address, Data: map[string]any{"error": out.Error}})
		return out
	}

	r.publish(job.ID, events.Event{Name: events.AuditComplete, Host: address, Data: map[string]any{
		"score":          out.Score,
		"passed":         out.Passed,
		"failed":         out.Failed,
		"other":          out.Other,
		"scan_result_id": out.ScanResultID,
	}})
	return out
}

func toRuleResults(rules []xccdf.RuleResult) []store.RuleResult {
	out := make([]store.RuleResult, len(rules))
	for i, rr := range rules {
		out[i] = store.RuleResult{
			RuleID:      rr.RuleID,
			Severity:    rr.Severity,
			Status:      rr.Status,
			Title:       rr.Title,
			Description: rr.Description,
			Rationale:   rr.Rationale,
			FixText:     rr.FixText,
		}
	}
	return out
}
