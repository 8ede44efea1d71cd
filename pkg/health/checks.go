package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// StoreCheck pings the database.
type StoreCheck struct {
	Ping func(ctx context.Context) error
}

func (c *StoreCheck) Check(ctx context.Context) CheckResult {
	if c.Ping == nil {
		return CheckResult{Status: StatusUnknown, Message: "no ping function configured"}
	}
	if err := c.Ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "connected"}
}

// DiskCheck reports free space on the volume holding Path, typically the
// content cache. Below MinFreeBytes the check is unhealthy; below
// WarnFreeBytes it is degraded.
type DiskCheck struct {
	Path          string
	MinFreeBytes  uint64
	WarnFreeBytes uint64
}

func (c *DiskCheck) Check(ctx context.Context) CheckResult {
	result := CheckResult{Metadata: make(map[string]any)}

	path := c.Path
	if path == "" {
		path = "/"
	}
	// The cache dir may not exist before the first fetch; measure its parent.
	for path != "/" && path != "." {
		if _, err := os.Stat(path); err == nil {
			break
		}
		path = filepath.Dir(path)
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("statfs %s: %v", path, err)
		return result
	}

	totalBytes := stat.Blocks * uint64(stat.Bsize) //nolint:gosec // G115: Bsize is positive
	freeBytes := stat.Bavail * uint64(stat.Bsize)  //nolint:gosec // G115: Bsize is positive
	freePercent := 0.0
	if totalBytes > 0 {
		freePercent = float64(freeBytes) / float64(totalBytes) * 100
	}

	result.Metadata["path"] = path
	result.Metadata["total_bytes"] = totalBytes
	result.Metadata["free_bytes"] = freeBytes
	result.Metadata["free_percent"] = fmt.Sprintf("%.2f%%", freePercent)

	switch {
	case c.MinFreeBytes > 0 && freeBytes < c.MinFreeBytes:
		result.Status = StatusUnhealthy
		result.Error = fmt.Sprintf("free space %d bytes is below %d bytes", freeBytes, c.MinFreeBytes)
	case c.WarnFreeBytes > 0 && freeBytes < c.WarnFreeBytes:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("free space %d bytes is below %d bytes", freeBytes, c.WarnFreeBytes)
	default:
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("%.2f%% free", freePercent)
	}
	return result
}

// BinaryCheck looks up the external tools on PATH. A missing tool only
// degrades the service: jobs needing it fail per host.
type BinaryCheck struct {
	Binaries []string
	// LookPath defaults to exec.LookPath.
	LookPath func(file string) (string, error)
}

func (c *BinaryCheck) Check(ctx context.Context) CheckResult {
	lookPath := c.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	found := make(map[string]any, len(c.Binaries))
	var missing []string
	for _, bin := range c.Binaries {
		p, err := lookPath(bin)
		if err != nil {
			missing = append(missing, bin)
			continue
		}
		found[bin] = p
	}

	result := CheckResult{Metadata: found}
	if len(missing) > 0 {
		result.Status = StatusDegraded
		result.Error = fmt.Sprintf("not found on PATH: %v", missing)
		return result
	}
	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("%d tool(s) available", len(found))
	return result
}

// StalenessCheck degrades when a timestamp gets older than MaxAge, such as
// the last successful content fetch. A zero timestamp is reported as
// unknown.
type StalenessCheck struct {
	Last   func() time.Time
	MaxAge time.Duration
	Now    func() time.Time
}

func (c *StalenessCheck) Check(ctx context.Context) CheckResult {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	last := c.Last()
	if last.IsZero() {
		return CheckResult{Status: StatusUnknown, Message: "never fetched"}
	}
	age := now().Sub(last)
	result := CheckResult{Metadata: map[string]any{"last": last, "age_seconds": int64(age.Seconds())}}
	if c.MaxAge > 0 && age > c.MaxAge {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("last fetch %s ago", age.Round(time.Second))
		return result
	}
	result.Status = StatusHealthy
	return result
}

var (
	_ Checker = (*StoreCheck)(nil)
	_ Checker = (*DiskCheck)(nil)
	_ Checker = (*BinaryCheck)(nil)
	_ Checker = (*StalenessCheck)(nil)
	_ Checker = CheckFunc(nil)
)
