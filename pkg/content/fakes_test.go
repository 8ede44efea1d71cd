package content

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	sgerrors "github.com/exploopio/streamguard/pkg/errors"
)

const testDatastream = `<?xml version="1.0" encoding="UTF-8"?>
<ds:data-stream-collection xmlns:ds="http://scap.nist.gov/schema/scap/source/1.2" xmlns:xccdf="http://checklists.nist.gov/xccdf/1.2">
  <ds:component id="comp">
    <xccdf:Benchmark id="bench">
      <xccdf:Profile id="xccdf_org.ssgproject.content_profile_stig">
        <xccdf:title>DISA STIG</xccdf:title>
      </xccdf:Profile>
      <xccdf:Profile id="xccdf_org.ssgproject.content_profile_cis">
        <xccdf:title>CIS Benchmark</xccdf:title>
      </xccdf:Profile>
    </xccdf:Benchmark>
  </ds:component>
</ds:data-stream-collection>
`

// fakeRemote serves canned answers and counts archive downloads.
type fakeRemote struct {
	mu sync.Mutex

	version    string
	versionErr error

	archive     []byte
	downloadErr error
	downloads   int

	products    []string
	productsErr error

	profileFiles map[string][]RemoteFile
	profileErr   error
	bodies       map[string]string
	raw          map[string]string
}

func (f *fakeRemote) LatestVersion(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.version, f.versionErr
}

func (f *fakeRemote) ProductDirs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products, f.productsErr
}

func (f *fakeRemote) ProfileFiles(ctx context.Context, product string) ([]RemoteFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	return f.profileFiles[product], nil
}

func (f *fakeRemote) RawFile(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.raw[path]
	if !ok {
		return nil, sgerrors.E(sgerrors.KindNotFound, "fake.RawFile", path)
	}
	return []byte(body), nil
}

func (f *fakeRemote) Download(ctx context.Context, rawURL string, w io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if body, ok := f.bodies[rawURL]; ok {
		_, err := io.WriteString(w, body)
		return err
	}
	if strings.HasSuffix(rawURL, ".zip") {
		f.downloads++
		if f.downloadErr != nil {
			return f.downloadErr
		}
		_, err := w.Write(f.archive)
		return err
	}
	return sgerrors.E(sgerrors.KindNotFound, "fake.Download", rawURL)
}

func (f *fakeRemote) setVersionErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versionErr = err
}

// fakeSyncer writes a fixed file tree into the clone directory.
type fakeSyncer struct {
	files map[string]string
	err   error
	calls int
}

func (f *fakeSyncer) Sync(ctx context.Context, dir string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	for name, body := range f.files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// buildArchive zips files under a scap-security-guide-<version>/ root.
func buildArchive(t *testing.T, version string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	root := "scap-security-guide-" + version + "/"
	_, err := zw.Create(root)
	require.NoError(t, err)
	for name, body := range files {
		w, err := zw.Create(root + name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func rhel9Release(t *testing.T) []byte {
	return buildArchive(t, "0.1.73", map[string]string{
		"ssg-rhel9-ds.xml":                testDatastream,
		"ansible/rhel9-playbook-stig.yml": "- hosts: all\n",
		"ansible/rhel9-playbook-cis.yml":  "- hosts: all\n",
		"ssg-ubuntu2204-ds.xml":           testDatastream,
		"README.md":                       "readme",
	})
}

func newTestStore(t *testing.T, remote Remote, syncer Syncer, opts ...Option) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CacheDir = t.TempDir()
	cfg.DownloadAttempts = 1
	if syncer == nil {
		syncer = &fakeSyncer{}
	}
	opts = append([]Option{WithRemote(remote), WithSyncer(syncer)}, opts...)
	s, err := New(cfg, nil, opts...)
	require.NoError(t, err)
	return s
}
