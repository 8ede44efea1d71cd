package content

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ArtifactKind classifies a content file.
type ArtifactKind string

const (
	KindDatastream ArtifactKind = "datastream"
	KindXCCDF      ArtifactKind = "xccdf"
	KindPlaybook   ArtifactKind = "playbook"
	KindAnsible    ArtifactKind = "ansible"
)

// Artifact is one content file found by a fetch.
type Artifact struct {
	Product string       `json:"product"`
	Kind    ArtifactKind `json:"artifact_type"`
	Profile string       `json:"profile,omitempty"`
	Path    string       `json:"path"`
}

// ProductEntry holds the resolved paths for one product.
type ProductEntry struct {
	Datastream string            `json:"datastream"`
	Playbooks  map[string]string `json:"playbooks"`
}

// Index is the persisted cache metadata.
type Index struct {
	Version   string                   `json:"version"`
	FetchedAt time.Time                `json:"fetched_at"`
	Mode      string                   `json:"mode"`
	Products  map[string]*ProductEntry `json:"distros"`
}

func newIndex() *Index {
	return &Index{Products: make(map[string]*ProductEntry)}
}

// merge applies artifacts over the index. Later artifacts overwrite earlier
// ones for the same product and profile key.
func (ix *Index) merge(artifacts []Artifact, version, mode string, now time.Time) {
	ix.Version = version
	ix.FetchedAt = now.UTC()
	ix.Mode = mode
	if ix.Products == nil {
		ix.Products = make(map[string]*ProductEntry)
	}

	for _, a := range artifacts {
		entry, ok := ix.Products[a.Product]
		if !ok {
			entry = &ProductEntry{Playbooks: make(map[string]string)}
			ix.Products[a.Product] = entry
		}
		if entry.Playbooks == nil {
			entry.Playbooks = make(map[string]string)
		}
		switch a.Kind {
		case KindDatastream, KindXCCDF:
			entry.Datastream = a.Path
		case KindPlaybook, KindAnsible:
			if a.Profile != "" {
				entry.Playbooks[a.Profile] = a.Path
			}
		}
	}
}

// readIndex loads the index at path. A missing or unreadable file yields an
// empty index.
func readIndex(path string) *Index {
	data, err := os.ReadFile(path)
	if err != nil {
		return newIndex()
	}
	ix := newIndex()
	if err := json.Unmarshal(data, ix); err != nil {
		return newIndex()
	}
	if ix.Products == nil {
		ix.Products = make(map[string]*ProductEntry)
	}
	return ix
}

// writeIndex replaces the file at path atomically.
func writeIndex(path string, ix *Index) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	data, err := json.MarshalIndent(ix, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".metadata-*.json")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirNonEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}
