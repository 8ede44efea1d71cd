package content

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	sgerrors "github.com/exploopio/streamguard/pkg/errors"
	"github.com/exploopio/streamguard/pkg/metrics"
	"github.com/exploopio/streamguard/pkg/xccdf"
)

// ProfileInfo is a selectable benchmark profile.
type ProfileInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Profile ladder tiers, in the order they are tried.
const (
	TierRemote     = "remote"
	TierRepo       = "repo"
	TierDatastream = "datastream"
	TierBuiltin    = "builtin"
)

type profileTier struct {
	name string
	list func(ctx context.Context, products []string) []ProfileInfo
}

func (s *Store) profileTiers(distro string, offline bool) []profileTier {
	return []profileTier{
		{TierRemote, func(ctx context.Context, products []string) []ProfileInfo {
			if offline {
				return nil
			}
			return s.remoteProfiles(ctx, products)
		}},
		{TierRepo, func(ctx context.Context, products []string) []ProfileInfo {
			if !offline {
				return nil
			}
			return s.repoProfiles(products)
		}},
		{TierDatastream, func(ctx context.Context, products []string) []ProfileInfo {
			return s.datastreamProfiles(products)
		}},
		{TierBuiltin, func(ctx context.Context, products []string) []ProfileInfo {
			return builtinProfilesFor(distro)
		}},
	}
}

// ListProfiles returns the profiles selectable for distro from the first
// tier that has any: the live repository listing, the local clone, the
// cached datastreams, then the built-in table.
func (s *Store) ListProfiles(ctx context.Context, distro string) ([]ProfileInfo, error) {
	offline := s.mode.Offline()
	products, err := s.productsForDistro(ctx, distro, offline)
	if err != nil {
		return nil, err
	}

	for _, tier := range s.profileTiers(distro, offline) {
		if profiles := tier.list(ctx, products); len(profiles) > 0 {
			s.metrics.CounterInc(metrics.ProfileTierTotal.Name, "tier", tier.name)
			s.log.Debug("profiles for %s served by %s tier (%d)", distro, tier.name, len(profiles))
			return profiles, nil
		}
	}
	return []ProfileInfo{}, nil
}

func (s *Store) remoteProfiles(ctx context.Context, products []string) []ProfileInfo {
	var out []ProfileInfo
	for _, product := range products {
		if cached, ok := s.profiles.get(product); ok {
			out = append(out, cached...)
			continue
		}

		rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		files, err := s.remote.ProfileFiles(rctx, product)
		cancel()
		if err != nil {
			if sgerrors.IsRateLimitError(err) {
				s.log.Warn("profile listing rate limited, skipping remote tier: %v", err)
				return nil
			}
			s.log.Warn("profile listing for %s failed: %v", product, err)
			continue
		}

		profiles := make([]ProfileInfo, 0, len(files))
		for _, f := range files {
			title := s.remoteProfileTitle(ctx, f)
			if title == "" {
				title = titleFromFilename(f.Name)
			}
			profiles = append(profiles, ProfileInfo{ID: profileIDFromFilename(f.Name), Title: title})
		}
		s.profiles.put(product, profiles)
		out = append(out, profiles...)
	}
	return out
}

func (s *Store) remoteProfileTitle(ctx context.Context, f RemoteFile) string {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	var buf bytes.Buffer
	if err := s.remote.Download(rctx, f.DownloadURL, &buf); err != nil {
		s.log.Warn("profile fetch failed for %s: %v", f.DownloadURL, err)
		return ""
	}
	return profileTitle(buf.Bytes())
}

func (s *Store) repoProfiles(products []string) []ProfileInfo {
	var out []ProfileInfo
	for _, product := range products {
		if cached, ok := s.profiles.get(product); ok {
			out = append(out, cached...)
			continue
		}

		paths, _ := filepath.Glob(filepath.Join(s.cfg.repoDir(), "products", product, "profiles", "*.profile"))
		if len(paths) == 0 {
			continue
		}
		profiles := make([]ProfileInfo, 0, len(paths))
		for _, path := range paths {
			var title string
			if data, err := os.ReadFile(path); err == nil {
				title = profileTitle(data)
			}
			if title == "" {
				title = titleFromFilename(filepath.Base(path))
			}
			profiles = append(profiles, ProfileInfo{ID: profileIDFromFilename(filepath.Base(path)), Title: title})
		}
		s.profiles.put(product, profiles)
		out = append(out, profiles...)
	}
	return out
}

func (s *Store) datastreamProfiles(products []string) []ProfileInfo {
	ix := s.loadIndex()
	var out []ProfileInfo
	for _, product := range products {
		entry := ix.Products[product]
		if entry == nil || !fileExists(entry.Datastream) {
			continue
		}
		for _, p := range xccdf.ParseProfiles(entry.Datastream) {
			out = append(out, ProfileInfo{ID: p.ID, Title: p.Title})
		}
	}
	return out
}

// profileTitle reads the title key of a .profile YAML document.
func profileTitle(data []byte) string {
	var doc struct {
		Title string `yaml:"title"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Title)
}

func profileIDFromFilename(name string) string {
	return xccdf.ProfilePrefix + strings.TrimSuffix(name, filepath.Ext(name))
}

func titleFromFilename(name string) string {
	return strings.ReplaceAll(strings.TrimSuffix(name, filepath.Ext(name)), "_", " ")
}
