package executor

import (
	"context"
	"strings"

	"github.com/exploopio/streamguard/pkg/logger"
)

// EvalRequest describes one benchmark evaluation.
type EvalRequest struct {
	// Profile is the XCCDF profile id or short name.
	Profile     string
	Datastream  string
	ResultsPath string
}

// Evaluator runs a benchmark evaluation against one host and leaves an
// XCCDF results document at req.ResultsPath.
type Evaluator interface {
	Evaluate(ctx context.Context, target Target, req EvalRequest) error
}

// OscapConfig configures the OpenSCAP binaries.
type OscapConfig struct {
	Binary    string
	SSHBinary string
	// Sudo makes oscap-ssh elevate on the remote side.
	Sudo bool
}

// Oscap evaluates with oscap locally and oscap-ssh remotely. Exit code 2
// (evaluation finished with failing rules) counts as success.
type Oscap struct {
	local  *command
	remote *command
	sudo   bool
}

// NewOscap creates an evaluator.
func NewOscap(cfg OscapConfig, log logger.Logger) *Oscap {
	if cfg.Binary == "" {
		cfg.Binary = "oscap"
	}
	if cfg.SSHBinary == "" {
		cfg.SSHBinary = "oscap-ssh"
	}
	log = logger.OrNop(log)
	ok := []int{0, 2}
	return &Oscap{
		local:  &command{binary: cfg.Binary, okExitCodes: ok, log: log},
		remote: &command{binary: cfg.SSHBinary, okExitCodes: ok, log: log},
		sudo:   cfg.Sudo,
	}
}

// Binaries returns the executables this evaluator needs.
func (o *Oscap) Binaries() []string {
	return []string{o.local.binary, o.remote.binary}
}

func (o *Oscap) Evaluate(ctx context.Context, target Target, req EvalRequest) error {
	args, env := o.BuildArgs(target, req)
	if target.IsLocal() {
		return o.local.run(ctx, "executor.Oscap.Evaluate", args, env, nil)
	}
	return o.remote.run(ctx, "executor.Oscap.Evaluate", args, env, nil)
}

// BuildArgs returns the argument list and extra environment for target.
func (o *Oscap) BuildArgs(target Target, req EvalRequest) ([]string, map[string]string) {
	eval := []string{"xccdf", "eval", "--profile", req.Profile, "--results", req.ResultsPath, req.Datastream}
	if target.IsLocal() {
		return eval, nil
	}

	var args []string
	if o.sudo {
		args = append(args, "--sudo")
	}
	args = append(args, target.userAtHost(), target.port())
	args = append(args, eval...)

	var sshOpts []string
	if target.IdentityFile != "" {
		sshOpts = append(sshOpts, "-i", target.IdentityFile)
	}
	if target.ProxyJump != "" {
		sshOpts = append(sshOpts, "-J", target.ProxyJump)
	}
	if len(sshOpts) == 0 {
		return args, nil
	}
	return args, map[string]string{"SSH_ADDITIONAL_OPTIONS": strings.Join(sshOpts, " ")}
}

var _ Evaluator = (*Oscap)(nil)
