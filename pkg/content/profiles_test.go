package content

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sgerrors "github.com/exploopio/streamguard/pkg/errors"
	"github.com/exploopio/streamguard/pkg/metrics"
)

func TestListProfiles_RemoteTier(t *testing.T) {
	remote := &fakeRemote{
		profileFiles: map[string][]RemoteFile{
			"rhel9": {
				{Name: "stig.profile", DownloadURL: "https://raw.test/stig.profile"},
				{Name: "cis_server_l1.profile", DownloadURL: "https://raw.test/cis.profile"},
			},
		},
		bodies: map[string]string{
			"https://raw.test/stig.profile": "documentation_complete: true\ntitle: '  DISA STIG for RHEL 9 '\n",
			"https://raw.test/cis.profile":  "title: [not, a, string\n",
		},
	}
	m := metrics.NewInMemoryCollector()
	s := newTestStore(t, remote, nil, WithMetrics(m))

	profiles, err := s.ListProfiles(context.Background(), "rhel9")
	require.NoError(t, err)
	assert.Equal(t, []ProfileInfo{
		{ID: "xccdf_org.ssgproject.content_profile_stig", Title: "DISA STIG for RHEL 9"},
		{ID: "xccdf_org.ssgproject.content_profile_cis_server_l1", Title: "cis server l1"},
	}, profiles)
	assert.Equal(t, 1.0, m.GetCounter(metrics.ProfileTierTotal.Name, "tier", TierRemote))
}

func TestListProfiles_RemoteCachedByTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	remote := &fakeRemote{profileFiles: map[string][]RemoteFile{
		"fedora": {{Name: "standard.profile", DownloadURL: "u"}},
	}}
	s := newTestStore(t, remote, nil, WithClock(clock))
	ctx := context.Background()

	first, err := s.ListProfiles(ctx, "fedora")
	require.NoError(t, err)
	require.Len(t, first, 1)

	remote.mu.Lock()
	remote.profileFiles["fedora"] = append(remote.profileFiles["fedora"], RemoteFile{Name: "ospp.profile", DownloadURL: "u"})
	remote.mu.Unlock()

	cached, err := s.ListProfiles(ctx, "fedora")
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	now = now.Add(11 * time.Minute)
	fresh, err := s.ListProfiles(ctx, "fedora")
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestListProfiles_RateLimitFallsToDatastream(t *testing.T) {
	remote := &fakeRemote{version: "0.1.73", archive: rhel9Release(t)}
	s := newTestStore(t, remote, nil)
	ctx := context.Background()

	_, _, err := s.EnsureContent(ctx, "rhel9", nil)
	require.NoError(t, err)

	remote.mu.Lock()
	remote.profileErr = sgerrors.E(sgerrors.KindRateLimit, "fake", "403")
	remote.mu.Unlock()

	profiles, err := s.ListProfiles(ctx, "rhel")
	require.NoError(t, err)
	assert.Equal(t, []ProfileInfo{
		{ID: "xccdf_org.ssgproject.content_profile_stig", Title: "DISA STIG"},
		{ID: "xccdf_org.ssgproject.content_profile_cis", Title: "CIS Benchmark"},
	}, profiles)
}

func TestListProfiles_OfflineUsesClone(t *testing.T) {
	s := newTestStore(t, &fakeRemote{}, nil)
	s.SetOffline(true)

	dir := filepath.Join(s.cfg.repoDir(), "products", "ubuntu2204", "profiles")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stig.profile"), []byte("title: Canonical STIG\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cis_level1_server.profile"), []byte("description: no title\n"), 0o644))

	profiles, err := s.ListProfiles(context.Background(), "ubuntu2204")
	require.NoError(t, err)
	assert.Equal(t, []ProfileInfo{
		{ID: "xccdf_org.ssgproject.content_profile_cis_level1_server", Title: "cis level1 server"},
		{ID: "xccdf_org.ssgproject.content_profile_stig", Title: "Canonical STIG"},
	}, profiles)
}

func TestListProfiles_BuiltinTable(t *testing.T) {
	tests := []struct {
		distro string
		want   []string
	}{
		{"rhel", []string{"stig", "cis", "ospp", "pci-dss"}},
		{"rhel8", []string{"stig", "cis", "ospp", "pci-dss"}},
		{"fedora", []string{"standard", "ospp"}},
		{"ubuntu2404", []string{"stig", "standard", "cis_level1_server"}},
		{"debian", []string{"standard"}},
	}

	for _, tt := range tests {
		t.Run(tt.distro, func(t *testing.T) {
			remote := &fakeRemote{profileErr: sgerrors.E(sgerrors.KindNetwork, "fake", "down")}
			s := newTestStore(t, remote, nil)

			profiles, err := s.ListProfiles(context.Background(), tt.distro)
			require.NoError(t, err)
			var titles []string
			for _, p := range profiles {
				titles = append(titles, p.Title)
				assert.Equal(t, "xccdf_org.ssgproject.content_profile_"+p.Title, p.ID)
			}
			assert.Equal(t, tt.want, titles)
		})
	}
}

func TestListProfiles_UnknownDistro(t *testing.T) {
	s := newTestStore(t, &fakeRemote{}, nil)
	_, err := s.ListProfiles(context.Background(), "plan9")
	assert.True(t, sgerrors.IsUnknownDistro(err))
}
