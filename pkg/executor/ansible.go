package executor

import (
	"context"
	"strconv"

	"github.com/exploopio/streamguard/pkg/logger"
)

// RemediateRequest describes one playbook run.
type RemediateRequest struct {
	Playbook string
	// DryRun runs the playbook with --check.
	DryRun bool
}

// Remediator applies a remediation playbook to one host, reporting each
// line of tool output through onLine.
type Remediator interface {
	Remediate(ctx context.Context, target Target, req RemediateRequest, onLine func(string)) error
}

// AnsibleConfig configures ansible-playbook.
type AnsibleConfig struct {
	Binary string
	// Inventory is passed to -i. Empty means an inline "host," inventory.
	Inventory string
	ExtraArgs []string
}

// Ansible remediates with ansible-playbook.
type Ansible struct {
	cmd       *command
	inventory string
	extraArgs []string
}

// NewAnsible creates a remediator.
func NewAnsible(cfg AnsibleConfig, log logger.Logger) *Ansible {
	if cfg.Binary == "" {
		cfg.Binary = "ansible-playbook"
	}
	return &Ansible{
		cmd:       &command{binary: cfg.Binary, okExitCodes: []int{0}, log: logger.OrNop(log)},
		inventory: cfg.Inventory,
		extraArgs: cfg.ExtraArgs,
	}
}

// Binaries returns the executables this remediator needs.
func (a *Ansible) Binaries() []string {
	return []string{a.cmd.binary}
}

func (a *Ansible) Remediate(ctx context.Context, target Target, req RemediateRequest, onLine func(string)) error {
	if onLine == nil {
		onLine = func(string) {}
	}
	return a.cmd.run(ctx, "executor.Ansible.Remediate", a.BuildArgs(target, req), nil, onLine)
}

// BuildArgs returns the ansible-playbook argument list for target.
func (a *Ansible) BuildArgs(target Target, req RemediateRequest) []string {
	inventory := a.inventory
	if inventory == "" {
		inventory = target.Address + ","
	}

	args := []string{"-i", inventory}
	if req.DryRun {
		args = append(args, "--check")
	}
	args = append(args, "--limit", target.Address)

	if target.IsLocal() {
		args = append(args, "--connection", "local")
	} else {
		if target.User != "" {
			args = append(args, "--user", target.User)
		}
		if target.IdentityFile != "" {
			args = append(args, "--private-key", target.IdentityFile)
		}
		if target.Port > 0 && target.Port != 22 {
			args = append(args, "-e", "ansible_port="+strconv.Itoa(target.Port))
		}
		if target.ProxyJump != "" {
			args = append(args, "--ssh-common-args", "-J "+target.ProxyJump)
		}
	}

	args = append(args, a.extraArgs...)
	return append(args, req.Playbook)
}

var _ Remediator = (*Ansible)(nil)
