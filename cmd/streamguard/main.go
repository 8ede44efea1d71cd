// StreamGuard - SCAP compliance audit and remediation server
//
// Modes:
//
//  1. SERVER MODE (default):
//     streamguard --config streamguard.yaml
//
//  2. ONE-SHOT CONTENT FETCH:
//     streamguard --fetch rhel9 [--content.offline]
//
//  3. ONE-SHOT HOST DISCOVERY:
//     streamguard --discover
//
// Every configuration key can also be given as a flag (--runner.max_concurrent_hosts=20)
// or a STREAMGUARD_* environment variable (STREAMGUARD_RUNNER_MAX_CONCURRENT_HOSTS=20).
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/exploopio/streamguard/pkg/api"
	"github.com/exploopio/streamguard/pkg/config"
	"github.com/exploopio/streamguard/pkg/content"
	"github.com/exploopio/streamguard/pkg/events"
	"github.com/exploopio/streamguard/pkg/executor"
	"github.com/exploopio/streamguard/pkg/health"
	"github.com/exploopio/streamguard/pkg/inventory"
	"github.com/exploopio/streamguard/pkg/logger"
	"github.com/exploopio/streamguard/pkg/metrics"
	"github.com/exploopio/streamguard/pkg/runner"
	"github.com/exploopio/streamguard/pkg/store"
)

const (
	appName    = "streamguard"
	appVersion = "0.4.0"
)

func main() {
	flags := pflag.NewFlagSet(appName, pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "Path to config file")
	showVersion := flags.Bool("version", false, "Show version")
	checkTools := flags.Bool("check-tools", false, "Check that oscap, oscap-ssh and ansible-playbook are installed")
	fetch := flags.String("fetch", "", "Fetch content for a distro and exit")
	discover := flags.Bool("discover", false, "Import hosts from ssh_config and known_hosts and exit")
	noDiscover := flags.Bool("no-discover", false, "Skip host discovery at startup")

	// Keys bound into config.Load by name.
	flags.String("server.listen", "", "HTTP listen address")
	flags.String("store.path", "", "SQLite database path")
	flags.String("content.cache_dir", "", "Content cache directory")
	flags.Bool("content.offline", false, "Use the git clone instead of release archives")
	flags.Int("runner.max_concurrent_hosts", 0, "Maximum hosts processed at once")
	flags.Duration("runner.host_timeout", 0, "Deadline for one host")
	flags.String("log.level", "", "Log level (debug, info, warn, error)")
	flags.String("log.format", "", "Log format (text, json)")

	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogrus(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	if *checkTools {
		if !reportTools(cfg) {
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := build(cfg, log)
	if err != nil {
		log.Error("startup failed: %v", err)
		os.Exit(1)
	}
	defer app.close()

	switch {
	case *fetch != "":
		err = app.fetch(ctx, *fetch)
	case *discover:
		err = app.discover(ctx)
	default:
		if !*noDiscover {
			if derr := app.discover(ctx); derr != nil {
				log.Warn("host discovery: %v", derr)
			}
		}
		err = app.serve(ctx)
	}
	if err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

// application holds the wired components.
type application struct {
	cfg        *config.Config
	log        *logger.LogrusLogger
	store      *store.Storage
	content    *content.Store
	runner     *runner.Runner
	pool       *runner.Pool
	bus        *events.Bus
	discoverer *inventory.Discoverer
	tester     *inventory.Tester
	health     *health.Handler
	metrics    metrics.Collector
}

func build(cfg *config.Config, log *logger.LogrusLogger) (*application, error) {
	app := &application{cfg: cfg, log: log}

	app.metrics = &metrics.NopCollector{}
	if cfg.Metrics.Enabled {
		pc, err := metrics.NewPrometheusCollector(&metrics.PrometheusConfig{Namespace: cfg.Metrics.Namespace})
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		app.metrics = pc
	}

	storeCfg := store.DefaultConfig()
	storeCfg.Path = cfg.Store.Path
	storeCfg.DefaultSSHUser = cfg.SSH.User
	storeCfg.DefaultPort = cfg.SSH.Port
	st, err := store.New(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	app.store = st

	contentCfg := contentConfig(cfg.Content)
	remote, err := content.NewGitHubRemote(contentCfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("content remote: %w", err)
	}
	mode := config.NewModeSwitch(cfg.Content.Offline)
	app.content, err = content.New(contentCfg, mode,
		content.WithRemote(remote),
		content.WithSyncer(content.NewGitSyncer(contentCfg)),
		content.WithLogger(log.WithComponent("content")),
		content.WithMetrics(app.metrics),
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("content: %w", err)
	}

	runLog := log.WithComponent("runner")
	oscap := executor.NewOscap(executor.OscapConfig{
		Binary:    cfg.Oscap.Binary,
		SSHBinary: cfg.Oscap.SSHBinary,
		Sudo:      cfg.Oscap.Sudo,
	}, runLog)
	ansible := executor.NewAnsible(executor.AnsibleConfig{
		Binary:    cfg.Ansible.Binary,
		Inventory: cfg.Ansible.Inventory,
		ExtraArgs: cfg.Ansible.ExtraArgs,
	}, runLog)

	app.bus = events.NewBus(log.WithComponent("events"))
	app.pool = runner.NewPool(cfg.Runner.MaxConcurrentHosts)
	app.runner, err = runner.New(runner.Config{
		MaxConcurrentHosts: cfg.Runner.MaxConcurrentHosts,
		HostTimeout:        cfg.Runner.HostTimeout,
		ResultsDir:         cfg.Runner.ResultsDir,

		DefaultIdentityFile: expandHome(cfg.SSH.IdentityFile),
	}, runner.Deps{
		Store:      st,
		Evaluator:  oscap,
		Remediator: ansible,
		Events:     app.bus,
		Pool:       app.pool,
		Logger:     runLog,
		Metrics:    app.metrics,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("runner: %w", err)
	}

	invCfg := inventory.Config{
		ConfigFile:     cfg.SSH.ConfigFile,
		KnownHostsFile: cfg.SSH.KnownHostsFile,
		IdentityFile:   cfg.SSH.IdentityFile,
		User:           cfg.SSH.User,
		Port:           cfg.SSH.Port,
		ConnectTimeout: cfg.SSH.ConnectTimeout,
	}
	invLog := log.WithComponent("inventory")
	app.discoverer = inventory.NewDiscoverer(invCfg, st, invLog)
	app.tester = inventory.NewTester(invCfg, invLog)

	app.health = health.NewHandler(health.WithVersion(appVersion))
	app.health.Register("store", &health.StoreCheck{Ping: st.Ping})
	app.health.Register("disk", &health.DiskCheck{
		Path:          cfg.Content.CacheDir,
		MinFreeBytes:  256 << 20,
		WarnFreeBytes: 2 << 30,
	})
	app.health.Register("tools", &health.BinaryCheck{
		Binaries: append(oscap.Binaries(), ansible.Binaries()...),
	})
	app.health.Register("content", &health.StalenessCheck{
		Last:   func() time.Time { return app.content.Status().FetchedAt },
		MaxAge: 7 * 24 * time.Hour,
	})

	return app, nil
}

func contentConfig(c config.ContentConfig) content.Config {
	cc := content.DefaultConfig()
	cc.CacheDir = c.CacheDir
	cc.Owner = c.Owner
	cc.Repo = c.Repo
	cc.RepoURL = c.RepoURL
	cc.Branch = c.Branch
	cc.ReleaseVersion = c.ReleaseVersion
	cc.ReleaseURLTemplate = c.ReleaseURLTemplate
	cc.GitHubToken = c.GitHubToken
	cc.APIBaseURL = c.APIBaseURL
	cc.RequestTimeout = c.RequestTimeout
	cc.DownloadTimeout = c.DownloadTimeout
	cc.DownloadAttempts = c.DownloadAttempts
	cc.CacheTTL = c.CacheTTL
	cc.RequestsPerSecond = c.RequestsPerSecond
	cc.Burst = c.Burst
	return cc
}

func (a *application) serve(ctx context.Context) error {
	srv := api.NewServer(api.Config{
		Listen:          a.cfg.Server.Listen,
		ReadTimeout:     a.cfg.Server.ReadTimeout,
		WriteTimeout:    a.cfg.Server.WriteTimeout,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
		AllowedOrigins:  a.cfg.Server.AllowedOrigins,
		MetricsPath:     a.metricsPath(),
	}, api.Deps{
		Jobs:       a.runner,
		Content:    a.content,
		Store:      a.store,
		Bus:        a.bus,
		Discoverer: a.discoverer,
		Tester:     a.tester,
		Health:     a.health,
		Metrics:    a.metrics,
		Logger:     a.log.WithComponent("api"),
	})

	a.health.SetReady(true)
	a.log.Info("%s %s listening on %s (offline=%t, max_concurrent_hosts=%d)",
		appName, appVersion, a.cfg.Server.Listen, a.content.Offline(), a.cfg.Runner.MaxConcurrentHosts)

	err := srv.Run(ctx)
	a.health.SetReady(false)

	// Jobs started before shutdown still get to record their outcome.
	drainCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if werr := a.runner.Wait(drainCtx); werr != nil {
		a.log.Warn("jobs still running at shutdown: %v", werr)
	}
	if cerr := a.pool.Close(drainCtx); cerr != nil {
		a.log.Warn("worker pool: %v", cerr)
	}
	return err
}

func (a *application) metricsPath() string {
	if !a.cfg.Metrics.Enabled {
		return ""
	}
	return a.cfg.Metrics.Path
}

func (a *application) fetch(ctx context.Context, distro string) error {
	version, artifacts, err := a.content.EnsureContent(ctx, distro, nil)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", distro, err)
	}
	fmt.Printf("Content %s for %s (offline=%t)\n", version, distro, a.content.Offline())
	for _, art := range artifacts {
		name := filepath.Base(art.Path)
		if art.Profile != "" {
			fmt.Printf("  %-10s %-12s %-20s %s\n", art.Product, art.Kind, art.Profile, name)
		} else {
			fmt.Printf("  %-10s %-12s %-20s %s\n", art.Product, art.Kind, "-", name)
		}
	}
	return nil
}

func (a *application) discover(ctx context.Context) error {
	report, err := a.discoverer.Discover(ctx)
	if err != nil {
		return err
	}
	a.log.Info("discovered %d hosts (%d new, %d updated, %d hashed known_hosts entries skipped)",
		report.Found, report.Created, report.Updated, report.HashedSkipped)
	return nil
}

func (a *application) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("closing store: %v", err)
	}
}

// expandHome resolves a leading "~/" so the path survives being passed
// through SSH_ADDITIONAL_OPTIONS, where no shell expands it.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// reportTools prints which external binaries are available.
func reportTools(cfg *config.Config) bool {
	ok := true
	for _, bin := range []string{cfg.Oscap.Binary, cfg.Oscap.SSHBinary, cfg.Ansible.Binary} {
		path, err := exec.LookPath(bin)
		if err != nil {
			fmt.Printf("  [missing] %s\n", bin)
			ok = false
			continue
		}
		fmt.Printf("  [ok]      %s (%s)\n", bin, path)
	}
	if !ok {
		fmt.Println()
		fmt.Println("Install OpenSCAP and Ansible, e.g.:")
		fmt.Println("  dnf install openscap-scanner openscap-utils ansible-core")
		fmt.Println("  apt install openscap-scanner ansible")
	}
	return ok
}
