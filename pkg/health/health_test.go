package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixed(status Status) CheckFunc {
	return func(ctx context.Context) CheckResult { return CheckResult{Status: status} }
}

func TestHandler_Check(t *testing.T) {
	h := NewHandler(WithVersion("1.2.3"), WithTimeout(time.Second))
	h.Register("store", fixed(StatusHealthy))
	h.Register("tools", fixed(StatusHealthy))

	resp := h.Check(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Len(t, resp.Checks, 2)
	assert.Equal(t, []string{"store", "tools"}, h.Names())
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"no checks", nil, StatusHealthy},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unknown degrades", []Status{StatusHealthy, StatusUnknown}, StatusDegraded},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make(map[string]CheckResult)
			for i, s := range tt.statuses {
				results[string(rune('a'+i))] = CheckResult{Status: s}
			}
			assert.Equal(t, tt.want, aggregate(results))
		})
	}
}

func TestRoutes(t *testing.T) {
	h := NewHandler()
	h.Register("store", fixed(StatusHealthy))
	r := mux.NewRouter()
	h.RegisterRoutes(r)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code, "unready until SetReady")

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	h.Register("disk", fixed(StatusUnhealthy))
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)

	rec := get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, StatusHealthy, resp.Checks["store"].Status)
}

func TestStoreCheck(t *testing.T) {
	ok := &StoreCheck{Ping: func(ctx context.Context) error { return nil }}
	assert.Equal(t, StatusHealthy, ok.Check(context.Background()).Status)

	bad := &StoreCheck{Ping: func(ctx context.Context) error { return errors.New("database is locked") }}
	res := bad.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "database is locked", res.Error)

	assert.Equal(t, StatusUnknown, (&StoreCheck{}).Check(context.Background()).Status)
}

func TestDiskCheck(t *testing.T) {
	dir := t.TempDir()

	res := (&DiskCheck{Path: dir}).Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, dir, res.Metadata["path"])

	res = (&DiskCheck{Path: filepath.Join(dir, "not", "created")}).Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, dir, res.Metadata["path"], "missing dirs are measured on their closest parent")

	res = (&DiskCheck{Path: dir, MinFreeBytes: 1 << 62}).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)

	res = (&DiskCheck{Path: dir, WarnFreeBytes: 1 << 62}).Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
}

func TestBinaryCheck(t *testing.T) {
	lookPath := func(file string) (string, error) {
		if file == "oscap" {
			return "/usr/bin/oscap", nil
		}
		return "", errors.New("not found")
	}

	res := (&BinaryCheck{Binaries: []string{"oscap"}, LookPath: lookPath}).Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, "/usr/bin/oscap", res.Metadata["oscap"])

	res = (&BinaryCheck{Binaries: []string{"oscap", "ansible-playbook"}, LookPath: lookPath}).Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Contains(t, res.Error, "ansible-playbook")
}

func TestStalenessCheck(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	never := &StalenessCheck{Last: func() time.Time { return time.Time{} }, MaxAge: time.Hour, Now: clock}
	assert.Equal(t, StatusUnknown, never.Check(context.Background()).Status)

	fresh := &StalenessCheck{Last: func() time.Time { return now.Add(-time.Minute) }, MaxAge: time.Hour, Now: clock}
	assert.Equal(t, StatusHealthy, fresh.Check(context.Background()).Status)

	stale := &StalenessCheck{Last: func() time.Time { return now.Add(-2 * time.Hour) }, MaxAge: time.Hour, Now: clock}
	assert.Equal(t, StatusDegraded, stale.Check(context.Background()).Status)
}
