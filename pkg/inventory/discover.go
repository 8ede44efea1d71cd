package inventory

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/exploopio/streamguard/pkg/errors"
	"github.com/exploopio/streamguard/pkg/logger"
	"github.com/exploopio/streamguard/pkg/store"
)

// HostMerger is the store side of discovery.
type HostMerger interface {
	MergeDiscoveredHost(ctx context.Context, h store.Host) (created, updated bool, err error)
}

// Config configures discovery and connection tests.
type Config struct {
	// ConfigFile is the ssh_config to import. "~/" expands to the home directory.
	ConfigFile string
	// KnownHostsFile is read for extra host names during discovery and, when
	// set, verifies host keys during connection tests. Discovery falls back to
	// known_hosts next to ConfigFile.
	KnownHostsFile string
	// IdentityFile is used for hosts without their own key. Empty means the
	// first of id_ed25519, id_rsa, id_ecdsa next to ConfigFile.
	IdentityFile string
	// User and Port apply to connection tests that do not name their own.
	User           string
	Port           int
	ConnectTimeout time.Duration
}

// DefaultConfig returns the default inventory configuration.
func DefaultConfig() Config {
	return Config{
		ConfigFile:     "~/.ssh/config",
		User:           "root",
		Port:           22,
		ConnectTimeout: 10 * time.Second,
	}
}

// Report summarises one discovery run.
type Report struct {
	Found          int      `json:"found"`
	FromConfig     int      `json:"from_config"`
	FromKnownHosts int      `json:"from_known_hosts"`
	HashedSkipped  int      `json:"hashed_skipped"`
	Created        int      `json:"created"`
	Updated        int      `json:"updated"`
	Hosts          []string `json:"hosts"`
}

// Discoverer imports hosts into a HostMerger.
type Discoverer struct {
	cfg   Config
	hosts HostMerger
	log   logger.Logger
}

// NewDiscoverer creates a discoverer.
func NewDiscoverer(cfg Config, hosts HostMerger, log logger.Logger) *Discoverer {
	return &Discoverer{cfg: cfg, hosts: hosts, log: logger.OrNop(log)}
}

// Discover reads the SSH config and known_hosts files and merges every host
// found. Missing files are not an error.
func (d *Discoverer) Discover(ctx context.Context) (*Report, error) {
	const op = "inventory.Discover"
	report := &Report{}

	configPath := expandHome(d.cfg.ConfigFile)
	entries, err := readSSHConfig(configPath)
	if err != nil {
		return nil, errors.E(errors.KindParse, op, "read ssh config", err)
	}
	report.FromConfig = len(entries)

	knownPath := expandHome(d.cfg.KnownHostsFile)
	if knownPath == "" && configPath != "" {
		knownPath = filepath.Join(filepath.Dir(configPath), "known_hosts")
	}
	known, hashed, err := readKnownHosts(knownPath)
	if err != nil {
		return nil, errors.E(errors.KindParse, op, "read known_hosts", err)
	}
	report.FromKnownHosts = len(known)
	report.HashedSkipped = hashed
	if hashed > 0 && len(known) == 0 {
		d.log.Info("known_hosts has %d hashed entries only; relying on ssh config", hashed)
	}

	defaultKey := d.defaultIdentity(configPath)

	// Config entries carry connection details, so they win over known_hosts.
	toImport := make(map[string]store.Host)
	for _, e := range entries {
		addr := e.Address()
		if skipped(addr) {
			continue
		}
		if _, ok := toImport[addr]; ok {
			continue
		}
		identity := expandHome(e.IdentityFile)
		if identity == "" {
			identity = defaultKey
		}
		toImport[addr] = store.Host{
			Alias:        e.Alias,
			Address:      addr,
			SSHUser:      e.User,
			Port:         e.Port,
			IdentityFile: identity,
			ProxyJump:    e.ProxyJump,
		}
	}
	for _, name := range known {
		if _, ok := toImport[name]; ok {
			continue
		}
		toImport[name] = store.Host{Alias: name, Address: name, IdentityFile: defaultKey}
	}

	addrs := make([]string, 0, len(toImport))
	for addr := range toImport {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	for _, addr := range addrs {
		created, updated, err := d.hosts.MergeDiscoveredHost(ctx, toImport[addr])
		if err != nil {
			return report, errors.Wrap(err, op)
		}
		if created {
			report.Created++
		}
		if updated {
			report.Updated++
		}
	}
	report.Found = len(addrs)
	report.Hosts = addrs

	d.log.Info("host discovery: found %d hosts (%d from config, %d from known_hosts), created %d, updated %d",
		report.Found, report.FromConfig, report.FromKnownHosts, report.Created, report.Updated)
	return report, nil
}

func (d *Discoverer) defaultIdentity(configPath string) string {
	if d.cfg.IdentityFile != "" {
		return expandHome(d.cfg.IdentityFile)
	}
	if configPath == "" {
		return ""
	}
	dir := filepath.Dir(configPath)
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func readSSHConfig(path string) ([]Entry, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseSSHConfig(f)
}

func readKnownHosts(path string) ([]string, int, error) {
	if path == "" {
		return nil, 0, nil
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return ParseKnownHosts(f)
}

// expandHome replaces a leading "~/" with the home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
