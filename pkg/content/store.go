package content

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/exploopio/streamguard/pkg/config"
	sgerrors "github.com/exploopio/streamguard/pkg/errors"
	"github.com/exploopio/streamguard/pkg/logger"
	"github.com/exploopio/streamguard/pkg/metrics"
	"github.com/exploopio/streamguard/pkg/retry"
)

// Store resolves and refreshes benchmark content.
type Store struct {
	cfg     Config
	mode    *config.ModeSwitch
	remote  Remote
	syncer  Syncer
	log     logger.Logger
	metrics metrics.Collector
	backoff *retry.BackoffConfig
	now     func() time.Time

	// indexMu serialises index read-modify-write.
	indexMu sync.RWMutex

	downloads singleflight.Group
	lookups   singleflight.Group

	products *ttlCache[string]
	profiles *ttlCache[ProfileInfo]
}

// Option configures a Store.
type Option func(*Store)

// WithRemote replaces the GitHub remote.
func WithRemote(r Remote) Option {
	return func(s *Store) { s.remote = r }
}

// WithSyncer replaces the go-git syncer.
func WithSyncer(sy Syncer) Option {
	return func(s *Store) { s.syncer = sy }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = logger.OrNop(l) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Collector) Option {
	return func(s *Store) { s.metrics = metrics.OrNop(m) }
}

// WithBackoff sets the download retry policy.
func WithBackoff(b *retry.BackoffConfig) Option {
	return func(s *Store) { s.backoff = b }
}

// WithClock sets the time source for index timestamps and cache expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store. mode is shared with other components; nil means a
// private online switch.
func New(cfg Config, mode *config.ModeSwitch, opts ...Option) (*Store, error) {
	def := DefaultConfig()
	if cfg.CacheDir == "" {
		cfg.CacheDir = def.CacheDir
	}
	if cfg.ReleaseURLTemplate == "" {
		cfg.ReleaseURLTemplate = def.ReleaseURLTemplate
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = def.DownloadTimeout
	}
	if cfg.DownloadAttempts <= 0 {
		cfg.DownloadAttempts = def.DownloadAttempts
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if mode == nil {
		mode = config.NewModeSwitch(false)
	}

	s := &Store{
		cfg:     cfg,
		mode:    mode,
		log:     logger.Nop(),
		metrics: &metrics.NopCollector{},
		backoff: retry.DefaultBackoffConfig(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.remote == nil {
		remote, err := NewGitHubRemote(cfg)
		if err != nil {
			return nil, err
		}
		s.remote = remote
	}
	if s.syncer == nil {
		s.syncer = NewGitSyncer(cfg)
	}
	s.products = newTTLCache[string](cfg.CacheTTL, s.now)
	s.profiles = newTTLCache[ProfileInfo](cfg.CacheTTL, s.now)
	return s, nil
}

// Offline reports the current mode.
func (s *Store) Offline() bool { return s.mode.Offline() }

// SetOffline switches the mode and returns the previous value.
func (s *Store) SetOffline(offline bool) bool {
	prev := s.mode.Set(offline)
	if prev != offline {
		s.log.Info("content mode changed to %s", s.mode.Mode())
	}
	return prev
}

// =============================================================================
// Products
// =============================================================================

// SupportedProducts returns the product list, preferring the live
// repository listing when online.
func (s *Store) SupportedProducts(ctx context.Context) []string {
	set := s.supportedProducts(ctx, s.mode.Offline())
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s *Store) supportedProducts(ctx context.Context, offline bool) map[string]bool {
	var live []string
	if !offline {
		live = s.liveProducts(ctx)
	}
	return supportedSet(live, offline)
}

// supportedSet is the one rule both fetching and resolving expand families
// against: the live list when online and known, else the static list.
func supportedSet(live []string, offline bool) map[string]bool {
	if !offline && len(live) > 0 {
		return toSet(live)
	}
	return toSet(staticProducts)
}

func (s *Store) liveProducts(ctx context.Context) []string {
	const key = "products"
	if cached, ok := s.products.get(key); ok {
		return cached
	}

	v, _, _ := s.lookups.Do(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
		live, err := s.remote.ProductDirs(rctx)
		if err != nil {
			s.log.Warn("live product list unavailable: %v", err)
			return []string(nil), nil
		}
		s.products.put(key, live)
		return live, nil
	})
	return v.([]string)
}

func (s *Store) productsForDistro(ctx context.Context, distro string, offline bool) ([]string, error) {
	products, ok := expandDistro(distro, s.supportedProducts(ctx, offline))
	if !ok {
		return nil, sgerrors.UnknownDistro("content.productsForDistro", distro)
	}
	return products, nil
}

// =============================================================================
// Resolve
// =============================================================================

// Resolve returns the first existing datastream and the first existing
// playbook for profile across the products of distro. Either may be empty.
// It reads the index only and never fetches.
func (s *Store) Resolve(distro, profile string) (datastream, playbook string, err error) {
	ix := s.loadIndex()
	products, err := s.resolveProducts(distro, ix)
	if err != nil {
		return "", "", err
	}

	for _, product := range products {
		entry := ix.Products[product]
		if entry == nil {
			continue
		}
		if datastream == "" && fileExists(entry.Datastream) {
			datastream = entry.Datastream
		}
		if playbook == "" && fileExists(entry.Playbooks[profile]) {
			playbook = entry.Playbooks[profile]
		}
	}
	return datastream, playbook, nil
}

// resolveProducts expands distro like productsForDistro does, using the
// cached live list only. A product already in the index is always known.
func (s *Store) resolveProducts(distro string, ix *Index) ([]string, error) {
	cachedLive, _ := s.products.get("products")
	set := supportedSet(cachedLive, s.mode.Offline())
	if _, indexed := ix.Products[distro]; indexed {
		set[distro] = true
	}
	products, ok := expandDistro(distro, set)
	if !ok {
		return nil, sgerrors.UnknownDistro("content.Resolve", distro)
	}
	return products, nil
}

// =============================================================================
// EnsureContent
// =============================================================================

// EnsureContent refreshes content for distro and returns the version and
// the artifacts found. offline overrides the current mode when non-nil.
//
// Fetch failures are not returned: the cached release directory and then
// the local clone are scanned instead, and an empty list comes back when
// neither has anything. The only error is an unknown distro.
func (s *Store) EnsureContent(ctx context.Context, distro string, offline *bool) (string, []Artifact, error) {
	useOffline := s.mode.Offline()
	if offline != nil {
		useOffline = *offline
	}
	mode := modeName(useOffline)

	products, err := s.productsForDistro(ctx, distro, useOffline)
	if err != nil {
		return "", nil, err
	}

	var (
		version   string
		artifacts []Artifact
	)
	if useOffline {
		version, artifacts, err = s.fetchOffline(ctx, products)
	} else {
		version, artifacts, err = s.fetchOnline(ctx, products)
	}
	if err == nil {
		s.metrics.CounterInc(metrics.ContentFetchTotal.Name, "mode", mode, "result", "fetched")
		s.log.Info("content %s for %s: %d artifacts (%s)", version, distro, len(artifacts), mode)
		return version, artifacts, nil
	}

	s.log.Warn("content fetch for %s failed (%v), using cache", distro, err)
	version, artifacts = s.fallback(products)
	result := "fallback"
	if len(artifacts) == 0 {
		result = "empty"
	}
	s.metrics.CounterInc(metrics.ContentFetchTotal.Name, "mode", mode, "result", result)
	return version, artifacts, nil
}

func (s *Store) fetchOnline(ctx context.Context, products []string) (string, []Artifact, error) {
	version := s.cfg.pinnedVersion()
	if version == "" {
		rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		latest, err := s.remote.LatestVersion(rctx)
		cancel()
		if err != nil {
			return "", nil, err
		}
		version = latest
	}

	dir, err := s.ensureRelease(ctx, version)
	if err != nil {
		return "", nil, err
	}
	artifacts := collectRelease(dir, products)
	if err := s.mergeIndex(artifacts, version, modeName(false)); err != nil {
		return "", nil, err
	}
	return version, artifacts, nil
}

func (s *Store) fetchOffline(ctx context.Context, products []string) (string, []Artifact, error) {
	dir := s.cfg.repoDir()
	if err := s.syncer.Sync(ctx, dir); err != nil {
		return "", nil, err
	}
	artifacts := scanRepo(dir, products)
	if err := s.mergeIndex(artifacts, VersionLocal, modeName(true)); err != nil {
		return "", nil, err
	}
	return VersionLocal, artifacts, nil
}

type fallbackTier struct {
	name    string
	collect func(ix *Index, products []string) (string, []Artifact)
}

func (s *Store) fallbackTiers() []fallbackTier {
	return []fallbackTier{
		{"release", func(ix *Index, products []string) (string, []Artifact) {
			v := ix.Version
			if v == "" || v == VersionUnknown || v == VersionLocal {
				return "", nil
			}
			dir := s.cfg.releaseDir(v)
			if !dirNonEmpty(dir) {
				return "", nil
			}
			return v, collectRelease(dir, products)
		}},
		{"repo", func(ix *Index, products []string) (string, []Artifact) {
			if !dirNonEmpty(s.cfg.repoDir()) {
				return "", nil
			}
			return VersionLocal, scanRepo(s.cfg.repoDir(), products)
		}},
	}
}

func (s *Store) fallback(products []string) (string, []Artifact) {
	ix := s.loadIndex()
	for _, tier := range s.fallbackTiers() {
		if version, artifacts := tier.collect(ix, products); len(artifacts) > 0 {
			s.log.Info("serving %d cached artifacts from %s tier", len(artifacts), tier.name)
			return version, artifacts
		}
	}
	version := ix.Version
	if version == "" {
		version = VersionUnknown
	}
	return version, []Artifact{}
}

// =============================================================================
// Index
// =============================================================================

func (s *Store) loadIndex() *Index {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return readIndex(s.cfg.indexPath())
}

func (s *Store) mergeIndex(artifacts []Artifact, version, mode string) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	ix := readIndex(s.cfg.indexPath())
	ix.merge(artifacts, version, mode, s.now())
	if err := writeIndex(s.cfg.indexPath(), ix); err != nil {
		return sgerrors.E(sgerrors.KindTransientFetch, "content.mergeIndex", err)
	}
	return nil
}

// CacheStatus summarises the index.
type CacheStatus struct {
	Mode              string              `json:"mode"`
	Version           string              `json:"cache_version"`
	FetchedAt         time.Time           `json:"fetched_at"`
	AvailableProducts []string            `json:"available_distros"`
	Profiles          map[string][]string `json:"profiles"`
}

// Status reports the current mode and what the index holds.
func (s *Store) Status() CacheStatus {
	ix := s.loadIndex()
	st := CacheStatus{
		Mode:              s.mode.Mode(),
		Version:           ix.Version,
		FetchedAt:         ix.FetchedAt,
		AvailableProducts: []string{},
		Profiles:          make(map[string][]string),
	}
	for product, entry := range ix.Products {
		st.AvailableProducts = append(st.AvailableProducts, product)
		names := []string{}
		for profile := range entry.Playbooks {
			names = append(names, profile)
		}
		sort.Strings(names)
		st.Profiles[product] = names
	}
	sort.Strings(st.AvailableProducts)
	return st
}

// FetchRawProfile returns the .profile source of product/profile from the
// repository. An empty profile means "stig".
func (s *Store) FetchRawProfile(ctx context.Context, product, profile string) (string, error) {
	const op = "content.FetchRawProfile"
	if profile == "" {
		profile = "stig"
	}
	for _, part := range []string{product, profile} {
		if part == "" || strings.ContainsAny(part, `/\`) || strings.Contains(part, "..") {
			return "", sgerrors.E(sgerrors.KindInvalidInput, op, fmt.Sprintf("invalid name %q", part))
		}
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	data, err := s.remote.RawFile(rctx, fmt.Sprintf("products/%s/profiles/%s.profile", product, profile))
	if err != nil {
		return "", sgerrors.Wrap(err, op)
	}
	return string(data), nil
}

func modeName(offline bool) string {
	if offline {
		return "offline"
	}
	return "online"
}
