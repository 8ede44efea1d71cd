package store

import "time"

// Job kinds.
const (
	KindAudit      = "audit"
	KindMitigation = "mitigation"
)

// Job statuses. A job moves pending -> running -> completed, and may go
// from running to failed.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Host provenance.
const (
	SourceManual     = "manual"
	SourceDiscovered = "discovered"
)

// Host is a machine that can be audited or remediated. Address is unique.
type Host struct {
	ID           string    `json:"id"`
	Alias        string    `json:"alias"`
	Address      string    `json:"address"`
	SSHUser      string    `json:"ssh_user"`
	Port         int       `json:"port"`
	IdentityFile string    `json:"identity_file"`
	ProxyJump    string    `json:"proxy_jump"`
	Source       string    `json:"source"`
	OSDistro     string    `json:"os_distro"`
	OSVersion    string    `json:"os_version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HostPatch is a partial update. Nil fields are left untouched.
type HostPatch struct {
	Alias        *string `json:"alias,omitempty"`
	Address      *string `json:"address,omitempty"`
	SSHUser      *string `json:"ssh_user,omitempty"`
	Port         *int    `json:"port,omitempty"`
	IdentityFile *string `json:"identity_file,omitempty"`
	ProxyJump    *string `json:"proxy_jump,omitempty"`
	OSDistro     *string `json:"os_distro,omitempty"`
	OSVersion    *string `json:"os_version,omitempty"`
}

// Apply copies the set fields of p onto h.
func (p HostPatch) Apply(h *Host) {
	if p.Alias != nil {
		h.Alias = *p.Alias
	}
	if p.Address != nil {
		h.Address = *p.Address
	}
	if p.SSHUser != nil {
		h.SSHUser = *p.SSHUser
	}
	if p.Port != nil {
		h.Port = *p.Port
	}
	if p.IdentityFile != nil {
		h.IdentityFile = *p.IdentityFile
	}
	if p.ProxyJump != nil {
		h.ProxyJump = *p.ProxyJump
	}
	if p.OSDistro != nil {
		h.OSDistro = *p.OSDistro
	}
	if p.OSVersion != nil {
		h.OSVersion = *p.OSVersion
	}
}

// Job is one audit or remediation run over a host list.
type Job struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Distro      string    `json:"distro"`
	ProfileName string    `json:"profile_name"`
	DryRun      bool      `json:"dry_run"`
	HostCount   int       `json:"host_count"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ScanResult is the persisted outcome of one host in one audit job.
type ScanResult struct {
	ID          string       `json:"id"`
	JobID       string       `json:"job_id"`
	HostID      string       `json:"host_id"`
	Host        string       `json:"host"`
	Distro      string       `json:"distro"`
	ProfileName string       `json:"profile_name"`
	Score       float64      `json:"score"`
	Passed      int          `json:"passed"`
	Failed      int          `json:"failed"`
	Other       int          `json:"other"`
	CreatedAt   time.Time    `json:"created_at"`
	Rules       []RuleResult `json:"rules,omitempty"`
}

// RuleResult is one rule outcome within a ScanResult.
type RuleResult struct {
	RuleID      string `json:"rule_id"`
	Severity    string `json:"severity"`
	Status      string `json:"status"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Rationale   string `json:"rationale"`
	FixText     string `json:"fixtext"`
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Kind  string
	Limit int
}
