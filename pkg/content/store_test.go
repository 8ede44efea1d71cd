package content

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exploopio/streamguard/pkg/config"
	sgerrors "github.com/exploopio/streamguard/pkg/errors"
	"github.com/exploopio/streamguard/pkg/metrics"
)

func TestEnsureContent_OnlineThenResolveFamily(t *testing.T) {
	remote := &fakeRemote{version: "0.1.73", archive: rhel9Release(t)}
	s := newTestStore(t, remote, nil)
	ctx := context.Background()

	version, artifacts, err := s.EnsureContent(ctx, "rhel9", nil)
	require.NoError(t, err)
	assert.Equal(t, "0.1.73", version)
	require.Len(t, artifacts, 3)

	kinds := map[ArtifactKind]int{}
	for _, a := range artifacts {
		assert.Equal(t, "rhel9", a.Product)
		kinds[a.Kind]++
	}
	assert.Equal(t, 1, kinds[KindDatastream])
	assert.Equal(t, 2, kinds[KindPlaybook])

	ds, pb, err := s.Resolve("rhel", "stig")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.cfg.releaseDir("0.1.73"), "ssg-rhel9-ds.xml"), ds)
	assert.Equal(t, filepath.Join(s.cfg.releaseDir("0.1.73"), "ansible", "rhel9-playbook-stig.yml"), pb)

	_, pb, err = s.Resolve("rhel", "ospp")
	require.NoError(t, err)
	assert.Empty(t, pb)
}

func TestEnsureContent_ReusesExtractedRelease(t *testing.T) {
	remote := &fakeRemote{version: "0.1.73", archive: rhel9Release(t)}
	s := newTestStore(t, remote, nil)

	for i := 0; i < 3; i++ {
		_, _, err := s.EnsureContent(context.Background(), "rhel9", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, remote.downloads)
}

func TestEnsureContent_PinnedVersionSkipsLookup(t *testing.T) {
	remote := &fakeRemote{versionErr: errors.New("must not be called"), archive: rhel9Release(t)}
	cfg := DefaultConfig()
	cfg.CacheDir = t.TempDir()
	cfg.ReleaseVersion = "0.1.73"
	s, err := New(cfg, nil, WithRemote(remote), WithSyncer(&fakeSyncer{}))
	require.NoError(t, err)

	version, artifacts, err := s.EnsureContent(context.Background(), "rhel9", nil)
	require.NoError(t, err)
	assert.Equal(t, "0.1.73", version)
	assert.NotEmpty(t, artifacts)
}

func TestEnsureContent_FallsBackToCachedRelease(t *testing.T) {
	remote := &fakeRemote{version: "0.1.73", archive: rhel9Release(t)}
	m := metrics.NewInMemoryCollector()
	s := newTestStore(t, remote, nil, WithMetrics(m))
	ctx := context.Background()

	_, first, err := s.EnsureContent(ctx, "rhel9", nil)
	require.NoError(t, err)

	remote.setVersionErr(sgerrors.E(sgerrors.KindNetwork, "fake", "connection refused"))

	version, artifacts, err := s.EnsureContent(ctx, "rhel9", nil)
	require.NoError(t, err)
	assert.Equal(t, "0.1.73", version)
	assert.ElementsMatch(t, first, artifacts)
	assert.Equal(t, 1.0, m.GetCounter(metrics.ContentFetchTotal.Name, "mode", "online", "result", "fallback"))
}

func TestEnsureContent_FallsBackToClone(t *testing.T) {
	remote := &fakeRemote{versionErr: sgerrors.E(sgerrors.KindRateLimit, "fake", "403")}
	s := newTestStore(t, remote, nil)

	path := filepath.Join(s.cfg.repoDir(), "build", "ssg-debian12-ds.xml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(testDatastream), 0o644))

	version, artifacts, err := s.EnsureContent(context.Background(), "debian", nil)
	require.NoError(t, err)
	assert.Equal(t, VersionLocal, version)
	require.Len(t, artifacts, 1)
	assert.Equal(t, Artifact{Product: "debian12", Kind: KindDatastream, Path: path}, artifacts[0])
}

func TestEnsureContent_NothingCached(t *testing.T) {
	remote := &fakeRemote{versionErr: sgerrors.E(sgerrors.KindNetwork, "fake", "down")}
	s := newTestStore(t, remote, nil)

	version, artifacts, err := s.EnsureContent(context.Background(), "ubuntu", nil)
	require.NoError(t, err)
	assert.Equal(t, VersionUnknown, version)
	assert.NotNil(t, artifacts)
	assert.Empty(t, artifacts)
}

func TestEnsureContent_DownloadFailureFallsBack(t *testing.T) {
	remote := &fakeRemote{version: "0.1.74", downloadErr: sgerrors.E(sgerrors.KindTransientFetch, "fake", "reset")}
	s := newTestStore(t, remote, nil)

	_, artifacts, err := s.EnsureContent(context.Background(), "rhel9", nil)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
	assert.False(t, dirNonEmpty(s.cfg.releaseDir("0.1.74")))
}

func TestEnsureContent_Offline(t *testing.T) {
	syncer := &fakeSyncer{files: map[string]string{
		"build/ssg-rhel8-ds.xml":                     testDatastream,
		"shared/xccdf-rhel8-extra.xml":               testDatastream,
		"build/ansible/rhel8-playbook-stig.yml":      "- hosts: all\n",
		"ansible/rhel8-hardening.yml":                "- hosts: all\n",
		"products/rhel8/profiles/stig.profile":       "title: DISA STIG\n",
		"build/ansible/ubuntu2204-playbook-stig.yml": "- hosts: all\n",
	}}
	offline := true
	s := newTestStore(t, &fakeRemote{}, syncer)

	version, artifacts, err := s.EnsureContent(context.Background(), "rhel8", &offline)
	require.NoError(t, err)
	assert.Equal(t, VersionLocal, version)
	assert.Equal(t, 1, syncer.calls)

	byKind := map[ArtifactKind][]Artifact{}
	for _, a := range artifacts {
		byKind[a.Kind] = append(byKind[a.Kind], a)
	}
	require.Len(t, byKind[KindDatastream], 1)
	require.Len(t, byKind[KindXCCDF], 1)
	require.Len(t, byKind[KindPlaybook], 1)
	require.Len(t, byKind[KindAnsible], 1)
	assert.Equal(t, "stig", byKind[KindPlaybook][0].Profile)
	assert.Empty(t, byKind[KindAnsible][0].Profile)

	st := s.Status()
	assert.Equal(t, VersionLocal, st.Version)
	assert.Equal(t, []string{"rhel8"}, st.AvailableProducts)
	assert.Equal(t, []string{"stig"}, st.Profiles["rhel8"])

	// The explicit override does not touch the shared mode.
	assert.False(t, s.Offline())
}

func TestEnsureContent_UnknownDistro(t *testing.T) {
	s := newTestStore(t, &fakeRemote{}, nil)

	_, _, err := s.EnsureContent(context.Background(), "plan9", nil)
	assert.True(t, sgerrors.IsUnknownDistro(err))

	_, _, err = s.Resolve("plan9", "stig")
	assert.True(t, sgerrors.IsUnknownDistro(err))
}

func TestProductsForDistro_Idempotent(t *testing.T) {
	s := newTestStore(t, &fakeRemote{}, nil)
	ctx := context.Background()

	tests := []struct {
		distro string
		want   []string
	}{
		{"rhel", []string{"rhel7", "rhel8", "rhel9"}},
		{"ubuntu", []string{"ubuntu2004", "ubuntu2204", "ubuntu2404"}},
		{"debian", []string{"debian11", "debian12"}},
		{"fedora", []string{"fedora"}},
		{"rhel9", []string{"rhel9"}},
	}
	for _, tt := range tests {
		t.Run(tt.distro, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				got, err := s.productsForDistro(ctx, tt.distro, false)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestProductsForDistro_LiveListNarrowsFamily(t *testing.T) {
	remote := &fakeRemote{products: []string{"rhel8", "rhel9", "rhel10"}}
	s := newTestStore(t, remote, nil)
	ctx := context.Background()

	got, err := s.productsForDistro(ctx, "rhel", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"rhel8", "rhel9"}, got)

	got, err = s.productsForDistro(ctx, "rhel10", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"rhel10"}, got)

	// Offline ignores the live list.
	_, err = s.productsForDistro(ctx, "rhel10", true)
	assert.True(t, sgerrors.IsUnknownDistro(err))
}

func TestResolve_ExpandsLikeFetch(t *testing.T) {
	remote := &fakeRemote{products: []string{"rhel8", "rhel9", "rhel10"}}
	s := newTestStore(t, remote, nil)
	ctx := context.Background()

	// Warm the live list the way a fetch would.
	fetched, err := s.productsForDistro(ctx, "rhel", false)
	require.NoError(t, err)

	ix := newIndex()
	ix.Products["rhel7"] = &ProductEntry{Datastream: "/old/ssg-rhel7-ds.xml"}
	resolved, err := s.resolveProducts("rhel", ix)
	require.NoError(t, err)
	assert.Equal(t, fetched, resolved)
	assert.NotContains(t, resolved, "rhel7")

	// An indexed product still resolves by its exact name.
	got, err := s.resolveProducts("rhel7", ix)
	require.NoError(t, err)
	assert.Equal(t, []string{"rhel7"}, got)

	// Offline both sides fall back to the static list.
	s.SetOffline(true)
	fetched, err = s.productsForDistro(ctx, "rhel", true)
	require.NoError(t, err)
	resolved, err = s.resolveProducts("rhel", newIndex())
	require.NoError(t, err)
	assert.Equal(t, fetched, resolved)

	_, err = s.resolveProducts("rhel10", newIndex())
	assert.True(t, sgerrors.IsUnknownDistro(err))
}

func TestEnsureContent_ConcurrentMergesKeepBothProducts(t *testing.T) {
	archive := buildArchive(t, "0.1.73", map[string]string{
		"ssg-rhel9-ds.xml":                testDatastream,
		"ansible/rhel9-playbook-stig.yml": "- hosts: all\n",
		"ssg-fedora-ds.xml":               testDatastream,
		"ansible/fedora-playbook-cis.yml": "- hosts: all\n",
	})

	for round := 0; round < 25; round++ {
		remote := &fakeRemote{version: "0.1.73", archive: archive}
		s := newTestStore(t, remote, nil)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, distro := range []string{"rhel9", "fedora"} {
			wg.Add(1)
			go func(i int, distro string) {
				defer wg.Done()
				_, _, errs[i] = s.EnsureContent(ctx, distro, nil)
			}(i, distro)
		}
		wg.Wait()
		require.NoError(t, errs[0], "round %d", round)
		require.NoError(t, errs[1], "round %d", round)

		ix := readIndex(s.cfg.indexPath())
		require.Contains(t, ix.Products, "rhel9", "round %d", round)
		require.Contains(t, ix.Products, "fedora", "round %d", round)
		assert.NotEmpty(t, ix.Products["rhel9"].Playbooks["stig"], "round %d", round)
		assert.NotEmpty(t, ix.Products["fedora"].Playbooks["cis"], "round %d", round)
	}
}

func TestResolve_SkipsMissingFiles(t *testing.T) {
	remote := &fakeRemote{version: "0.1.73", archive: rhel9Release(t)}
	s := newTestStore(t, remote, nil)

	_, _, err := s.EnsureContent(context.Background(), "rhel9", nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(s.cfg.releaseDir("0.1.73"), "ssg-rhel9-ds.xml")))

	ds, pb, err := s.Resolve("rhel9", "stig")
	require.NoError(t, err)
	assert.Empty(t, ds)
	assert.NotEmpty(t, pb)
}

func TestSetOffline_SharedSwitch(t *testing.T) {
	mode := config.NewModeSwitch(false)
	cfg := DefaultConfig()
	cfg.CacheDir = t.TempDir()
	s, err := New(cfg, mode, WithRemote(&fakeRemote{}), WithSyncer(&fakeSyncer{}))
	require.NoError(t, err)

	assert.False(t, s.SetOffline(true))
	assert.True(t, mode.Offline())
	assert.Equal(t, "offline", s.Status().Mode)
}

func TestFetchRawProfile(t *testing.T) {
	remote := &fakeRemote{raw: map[string]string{
		"products/rhel9/profiles/stig.profile": "title: DISA STIG\n",
	}}
	s := newTestStore(t, remote, nil)
	ctx := context.Background()

	body, err := s.FetchRawProfile(ctx, "rhel9", "")
	require.NoError(t, err)
	assert.Equal(t, "title: DISA STIG\n", body)

	_, err = s.FetchRawProfile(ctx, "rhel9", "cis")
	assert.True(t, sgerrors.IsNotFoundError(err))

	_, err = s.FetchRawProfile(ctx, "../etc", "stig")
	assert.Equal(t, sgerrors.KindInvalidInput, sgerrors.GetKind(err))
}

func TestIndexMerge_LastWriteWins(t *testing.T) {
	ix := newIndex()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	ix.merge([]Artifact{
		{Product: "rhel9", Kind: KindDatastream, Path: "/a/ds.xml"},
		{Product: "rhel9", Kind: KindPlaybook, Profile: "stig", Path: "/a/stig.yml"},
		{Product: "rhel9", Kind: KindAnsible, Path: "/a/no-profile.yml"},
	}, "0.1.72", "online", now)
	ix.merge([]Artifact{
		{Product: "rhel9", Kind: KindXCCDF, Path: "/b/xccdf.xml"},
		{Product: "rhel9", Kind: KindPlaybook, Profile: "cis", Path: "/b/cis.yml"},
	}, VersionLocal, "offline", now)

	entry := ix.Products["rhel9"]
	require.NotNil(t, entry)
	assert.Equal(t, "/b/xccdf.xml", entry.Datastream)
	assert.Equal(t, map[string]string{"stig": "/a/stig.yml", "cis": "/b/cis.yml"}, entry.Playbooks)
	assert.Equal(t, VersionLocal, ix.Version)
	assert.Equal(t, "offline", ix.Mode)
	assert.Equal(t, now, ix.FetchedAt)
}

func TestIndex_RoundTripAndCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	ix := newIndex()
	ix.merge([]Artifact{{Product: "fedora", Kind: KindDatastream, Path: "/x"}}, "1", "online", time.Now())
	require.NoError(t, writeIndex(path, ix))
	assert.Equal(t, "/x", readIndex(path).Products["fedora"].Datastream)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	assert.Empty(t, readIndex(path).Products)
}
