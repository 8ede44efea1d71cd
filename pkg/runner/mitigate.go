package runner

import (
	"context"

	"github.com/exploopio/streamguard/pkg/errors"
	"github.com/exploopio/streamguard/pkg/events"
	"github.com/exploopio/streamguard/pkg/executor"
	"github.com/exploopio/streamguard/pkg/store"
)

// Mitigation outcomes across all hosts of a job.
const (
	MitigationCompleted = "completed"
	MitigationPartial   = "partial"
	MitigationFailed    = "failed"
)

// MitigationRequest describes a remediation job. Playbook must already be
// resolved.
type MitigationRequest struct {
	Hosts    []string `json:"hosts"`
	Distro   string   `json:"distro"`
	Profile  string   `json:"profile"`
	Playbook string   `json:"playbook"`
	DryRun   bool     `json:"dry_run"`
}

// HostMitigationResult is the outcome of one host.
type HostMitigationResult struct {
	Host   string `json:"host"`
	Status string `json:"status"`
	Lines  int    `json:"lines"`
	Error  string `json:"error,omitempty"`
}

// MitigationResult is the outcome of a remediation job. Status is
// completed when every host succeeded, failed when none did and partial
// otherwise.
type MitigationResult struct {
	JobID     string                 `json:"job_id"`
	JobStatus string                 `json:"job_status"`
	Status    string                 `json:"status"`
	Hosts     []HostMitigationResult `json:"hosts"`
}

func mitigationStatus(hosts []HostMitigationResult) string {
	failed := 0
	for _, h := range hosts {
		if h.Status == MitigationFailed {
			failed++
		}
	}
	switch {
	case failed == 0:
		return MitigationCompleted
	case failed == len(hosts):
		return MitigationFailed
	default:
		return MitigationPartial
	}
}

// RunMitigation creates a remediation job and runs it to completion.
func (r *Runner) RunMitigation(ctx context.Context, req MitigationRequest) (*MitigationResult, error) {
	job, req, err := r.prepareMitigation(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.executeMitigation(ctx, job, req)
}

// StartMitigation creates a remediation job and runs it in the background.
func (r *Runner) StartMitigation(ctx context.Context, req MitigationRequest) (*store.Job, error) {
	job, req, err := r.prepareMitigation(ctx, req)
	if err != nil {
		return nil, err
	}
	snapshot := *job
	r.background.Add(1)
	go func() {
		defer r.background.Done()
		if _, err := r.executeMitigation(context.WithoutCancel(ctx), job, req); err != nil {
			r.log.Error("mitigation job %s: %v", job.ID, err)
		}
	}()
	return &snapshot, nil
}

func (r *Runner) prepareMitigation(ctx context.Context, req MitigationRequest) (*store.Job, MitigationRequest, error) {
	const op = "runner.RunMitigation"
	if r.remediator == nil {
		return nil, req, errors.E(errors.KindInvalidInput, op, "no remediator configured")
	}
	hosts, err := validateHosts(op, req.Hosts)
	if err != nil {
		return nil, req, err
	}
	if req.Playbook == "" {
		return nil, req, errors.E(errors.KindInvalidInput, op, "playbook is required")
	}
	req.Hosts = hosts
	job, err := r.createJob(ctx, store.KindMitigation, req.Distro, req.Profile, req.DryRun, len(hosts))
	if err != nil {
		return nil, req, err
	}
	return job, req, nil
}

func (r *Runner) executeMitigation(ctx context.Context, job *store.Job, req MitigationRequest) (res *MitigationResult, err error) {
	res = &MitigationResult{JobID: job.ID, Hosts: make([]HostMitigationResult, len(req.Hosts))}
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("mitigation job %s panicked: %v", job.ID, p)
			err = r.finishJob(ctx, job, store.JobFailed, "internal error", nil)
			if err == nil {
				err = errors.E(errors.KindOrchestrationFatal, "runner.RunMitigation", "job aborted")
			}
			res.JobStatus = store.JobFailed
		}
	}()

	r.fanOut(ctx, req.Hosts,
		func(ctx context.Context, i int) {
			res.Hosts[i] = r.mitigateHost(ctx, job, req, req.Hosts[i])
		},
		func(i int, err error) {
			res.Hosts[i] = HostMitigationResult{Host: req.Hosts[i], Status: MitigationFailed, Error: err.Error()}
			r.publish(job.ID, events.Event{Name: events.MitigateError, Host: req.Hosts[i], Data: map[string]any{"error": err.Error()}})
		})

	res.Status = mitigationStatus(res.Hosts)
	if err := r.finishJob(ctx, job, store.JobCompleted, "", map[string]any{
		"hosts":  len(req.Hosts),
		"result": res.Status,
	}); err != nil {
		res.JobStatus = store.JobFailed
		return res, err
	}
	res.JobStatus = store.JobCompleted
	return res, nil
}

func (r *Runner) mitigateHost(ctx context.Context, job *store.Job, req MitigationRequest, address string) HostMitigationResult {
	out := HostMitigationResult{Host: address}
	r.publish(job.ID, events.Event{Name: events.MitigateStart, Host: address, Data: map[string]any{"dry_run": req.DryRun}})

	err := r.hostUnit(ctx, store.KindMitigation, address, func(ctx context.Context, host *store.Host) error {
		return r.remediator.Remediate(ctx, r.targetFor(host), executor.RemediateRequest{
			Playbook: req.Playbook,
			DryRun:   req.DryRun,
		}, func(line string) {
			out.Lines++
			r.publish(job.ID, events.Event{Name: events.MitigateEvent, Host: address, Data: map[string]any{"line": line}})
		})
	})
	if err != nil {
		out.Status = MitigationFailed
		out.Error = err.Error()
		r.log.Warn("mitigation job %s host %s failed: %v", job.ID, address, err)
		r.publish(job.ID, events.Event{Name: events.MitigateError, Host: address, Data: map[string]any{"error": out.Error}})
		return out
	}

	out.Status = MitigationCompleted
	r.publish(job.ID, events.Event{Name: events.MitigateComplete, Host: address, Data: map[string]any{"lines": out.Lines}})
	return out
}
