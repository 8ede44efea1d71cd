package content

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	sgerrors "github.com/exploopio/streamguard/pkg/errors"
	"github.com/exploopio/streamguard/pkg/retry"
)

// ensureRelease returns the extraction directory for version, downloading
// the archive when the directory is missing or empty. Concurrent calls for
// the same version share one download.
func (s *Store) ensureRelease(ctx context.Context, version string) (string, error) {
	dir := s.cfg.releaseDir(version)
	if dirNonEmpty(dir) {
		s.log.Debug("release %s already cached at %s", version, dir)
		return dir, nil
	}

	_, err, _ := s.downloads.Do(version, func() (any, error) {
		if dirNonEmpty(dir) {
			return nil, nil
		}
		return nil, s.downloadRelease(ctx, version, dir)
	})
	if err != nil {
		return "", err
	}
	return dir, nil
}

func (s *Store) downloadRelease(ctx context.Context, version, dir string) error {
	const op = "content.downloadRelease"

	if err := os.MkdirAll(s.cfg.releasesDir(), 0o755); err != nil {
		return sgerrors.E(sgerrors.KindTransientFetch, op, err)
	}
	tmp, err := os.CreateTemp(s.cfg.releasesDir(), ".download-*.zip")
	if err != nil {
		return sgerrors.E(sgerrors.KindTransientFetch, op, err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	archiveURL := s.cfg.releaseURL(version)
	s.log.Info("downloading content release %s from %s", version, archiveURL)

	err = retry.Do(ctx, s.backoff, s.cfg.DownloadAttempts, func(ctx context.Context) error {
		if err := tmp.Truncate(0); err != nil {
			return sgerrors.E(sgerrors.KindInternal, op, err)
		}
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return sgerrors.E(sgerrors.KindInternal, op, err)
		}
		dctx, cancel := context.WithTimeout(ctx, s.cfg.DownloadTimeout)
		defer cancel()
		return s.remote.Download(dctx, archiveURL, tmp)
	})
	if err != nil {
		return err
	}

	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		return sgerrors.E(sgerrors.KindTransientFetch, op, err)
	}
	zr, err := zip.NewReader(tmp, size)
	if err != nil {
		return sgerrors.E(sgerrors.KindTransientFetch, op, "open archive", err)
	}

	// Extract beside the target and rename, so a non-empty release
	// directory is always a complete one.
	staging, err := os.MkdirTemp(s.cfg.releasesDir(), ".extract-"+version+"-")
	if err != nil {
		return sgerrors.E(sgerrors.KindTransientFetch, op, err)
	}
	defer os.RemoveAll(staging)

	if err := extractFlattened(zr, staging); err != nil {
		return sgerrors.E(sgerrors.KindTransientFetch, op, "extract archive", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return sgerrors.E(sgerrors.KindTransientFetch, op, err)
	}
	if err := os.Rename(staging, dir); err != nil {
		return sgerrors.E(sgerrors.KindTransientFetch, op, err)
	}
	return nil
}

// extractFlattened writes every archive entry into dest with its first path
// component removed (scap-security-guide-0.1.73/x.xml becomes x.xml).
func extractFlattened(zr *zip.Reader, dest string) error {
	root := filepath.Clean(dest) + string(os.PathSeparator)

	for _, f := range zr.File {
		_, rel, found := strings.Cut(f.Name, "/")
		if !found || rel == "" {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("entry %q escapes the extraction directory", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
