// Package runner fans audit and remediation jobs out over a host list.
//
// Each host is one unit scheduled on a shared Pool, so the number of hosts
// being worked on at once never exceeds the pool size, whatever the number
// of concurrent jobs. A unit publishes a start event, makes sure the host is
// recorded, runs the external tool under its own deadline, persists what it
// produced and publishes a completion or error event. A failing unit only
// fails its own host; the job completes once every unit has returned.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/exploopio/streamguard/pkg/errors"
	"github.com/exploopio/streamguard/pkg/events"
	"github.com/exploopio/streamguard/pkg/executor"
	"github.com/exploopio/streamguard/pkg/logger"
	"github.com/exploopio/streamguard/pkg/metrics"
	"github.com/exploopio/streamguard/pkg/store"
	"github.com/exploopio/streamguard/pkg/xccdf"
)

// Store is the persistence the runner needs.
type Store interface {
	CreateJob(ctx context.Context, j *store.Job) error
	UpdateJobStatus(ctx context.Context, id, status, errText string) error
	EnsureHost(ctx context.Context, address string) (*store.Host, error)
	SaveScanResult(ctx context.Context, r *store.ScanResult) error
}

// Config configures the runner.
type Config struct {
	// MaxConcurrentHosts sizes the pool when Deps.Pool is nil.
	MaxConcurrentHosts int
	// HostTimeout bounds one host unit.
	HostTimeout time.Duration
	// ResultsDir receives <job id>/<host>_results.xml documents.
	ResultsDir string
	// DefaultIdentityFile is the SSH key used for hosts without their own.
	DefaultIdentityFile string
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentHosts: 10,
		HostTimeout:        time.Hour,
		ResultsDir:         "scan_results",
	}
}

// Deps are the collaborators of a Runner. Store and Pool or
// Config.MaxConcurrentHosts are required; Evaluator and Remediator only for
// the job kinds that use them.
type Deps struct {
	Store      Store
	Evaluator  executor.Evaluator
	Remediator executor.Remediator
	Events     events.Publisher
	Pool       *Pool
	Logger     logger.Logger
	Metrics    metrics.Collector
}

// Runner executes audit and mitigation jobs.
type Runner struct {
	cfg        Config
	store      Store
	evaluator  executor.Evaluator
	remediator executor.Remediator
	events     events.Publisher
	pool       *Pool
	log        logger.Logger
	metrics    metrics.Collector

	background sync.WaitGroup
}

// New creates a runner.
func New(cfg Config, deps Deps) (*Runner, error) {
	if deps.Store == nil {
		return nil, errors.E(errors.KindInvalidInput, "runner.New", "store is required")
	}
	d := DefaultConfig()
	if cfg.HostTimeout <= 0 {
		cfg.HostTimeout = d.HostTimeout
	}
	if cfg.ResultsDir == "" {
		cfg.ResultsDir = d.ResultsDir
	}
	if cfg.MaxConcurrentHosts <= 0 {
		cfg.MaxConcurrentHosts = d.MaxConcurrentHosts
	}
	pool := deps.Pool
	if pool == nil {
		pool = NewPool(cfg.MaxConcurrentHosts)
	}
	pub := deps.Events
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Runner{
		cfg:        cfg,
		store:      deps.Store,
		evaluator:  deps.Evaluator,
		remediator: deps.Remediator,
		events:     pub,
		pool:       pool,
		log:        logger.OrNop(deps.Logger),
		metrics:    metrics.OrNop(deps.Metrics),
	}, nil
}

// Pool returns the worker pool the runner schedules on.
func (r *Runner) Pool() *Pool {
	return r.pool
}

// Wait blocks until every job started with StartAudit or StartMitigation
// has finished, or ctx ends.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// Job lifecycle
// =============================================================================

// createJob records a running job. Failure here is the one error that
// prevents a job from existing at all.
func (r *Runner) createJob(ctx context.Context, kind, distro, profile string, dryRun bool, hosts int) (*store.Job, error) {
	job := &store.Job{
		Kind:        kind,
		Status:      store.JobRunning,
		Distro:      distro,
		ProfileName: profile,
		DryRun:      dryRun,
		HostCount:   hosts,
	}
	if err := r.store.CreateJob(ctx, job); err != nil {
		return nil, errors.E(errors.KindOrchestrationFatal, "runner.createJob", "could not create job", err)
	}
	r.log.Info("%s job %s started for %d host(s)", kind, job.ID, hosts)
	return job, nil
}

// finishJob records the terminal status and announces it.
func (r *Runner) finishJob(ctx context.Context, job *store.Job, status, errText string, data map[string]any) error {
	ctx = context.WithoutCancel(ctx)
	if err := r.store.UpdateJobStatus(ctx, job.ID, status, errText); err != nil {
		r.log.Error("job %s: record status %s: %v", job.ID, status, err)
		if status != store.JobFailed {
			if ferr := r.store.UpdateJobStatus(ctx, job.ID, store.JobFailed, err.Error()); ferr != nil {
				r.log.Error("job %s: record failure: %v", job.ID, ferr)
			}
		}
		r.metrics.CounterInc(metrics.JobsTotal.Name, "kind", job.Kind, "status", store.JobFailed)
		return errors.E(errors.KindOrchestrationFatal, "runner.finishJob", "could not record job status", err)
	}
	job.Status = status
	job.Error = errText
	r.metrics.CounterInc(metrics.JobsTotal.Name, "kind", job.Kind, "status", status)

	if data == nil {
		data = map[string]any{}
	}
	data["status"] = status
	r.publish(job.ID, events.Event{Name: events.JobComplete, Data: data})
	r.log.Info("%s job %s finished: %s", job.Kind, job.ID, status)
	return nil
}

// fanOut schedules unit once per host on the pool and waits for all of them.
// A host that could not be scheduled, or whose unit panicked, is reported
// through onSkip.
func (r *Runner) fanOut(ctx context.Context, hosts []string, unit func(ctx context.Context, i int), onSkip func(i int, err error)) {
	handles := make([]*Handle, len(hosts))
	for i := range hosts {
		h, err := r.pool.Submit(ctx, func(ctx context.Context) { unit(ctx, i) })
		if err != nil {
			onSkip(i, err)
			continue
		}
		handles[i] = h
	}
	for i, h := range handles {
		if h == nil {
			continue
		}
		h.Wait()
		if p := h.Panic(); p != nil {
			r.log.Error("host %s: unit panicked: %v", hosts[i], p)
			onSkip(i, errors.E(errors.KindPerHostExecution, "runner.fanOut", fmt.Sprintf("panic: %v", p)))
		}
	}
}

// hostUnit runs fn for one host: it resolves the host record, applies the
// per-host deadline, turns a panic into an error and records metrics.
func (r *Runner) hostUnit(ctx context.Context, kind, address string, fn func(ctx context.Context, host *store.Host) error) (err error) {
	r.metrics.GaugeInc(metrics.HostsInFlight.Name)
	timer := metrics.NewTimer(r.metrics, metrics.HostRunDuration.Name, "kind", kind)
	defer func() {
		if p := recover(); p != nil {
			err = errors.E(errors.KindPerHostExecution, "runner.hostUnit", fmt.Sprintf("panic: %v", p))
		}
		timer.ObserveDuration()
		r.metrics.GaugeDec(metrics.HostsInFlight.Name)
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		r.metrics.CounterInc(metrics.HostRunsTotal.Name, "kind", kind, "outcome", outcome)
	}()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.HostTimeout)
	defer cancel()

	host, err := r.store.EnsureHost(ctx, address)
	if err != nil {
		return err
	}
	return fn(ctx, host)
}

// publish hands ev to the publisher. A panicking publisher is logged and
// does not affect the host that emitted the event.
func (r *Runner) publish(jobID string, ev events.Event) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("job %s: publishing %s panicked: %v", jobID, ev.Name, p)
		}
	}()
	r.events.Publish(jobID, ev)
	r.metrics.CounterInc(metrics.EventsPublishedTotal.Name, "event", ev.Name)
}

// targetFor builds the connection data of a stored host, falling back to
// the default identity when the host has no key of its own.
func (r *Runner) targetFor(h *store.Host) executor.Target {
	identity := h.IdentityFile
	if identity == "" {
		identity = r.cfg.DefaultIdentityFile
	}
	return executor.Target{
		Address:      h.Address,
		User:         h.SSHUser,
		Port:         h.Port,
		IdentityFile: identity,
		ProxyJump:    h.ProxyJump,
	}
}

// profileID expands a short profile name to its full XCCDF id.
func profileID(profile string) string {
	if strings.HasPrefix(profile, "xccdf_") {
		return profile
	}
	return xccdf.ProfilePrefix + profile
}

// fileSafe makes a host address usable as a file name.
func fileSafe(address string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '%', ' ':
			return '_'
		}
		return r
	}, address)
}

func validateHosts(op string, hosts []string) ([]string, error) {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		out = append(out, h)
	}
	if len(out) == 0 {
		return nil, errors.E(errors.KindInvalidInput, op, "at least one host is required")
	}
	return out, nil
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Clean(path), 0o755)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, events.Event) {}
