// Package store persists hosts, jobs and scan results in SQLite.
//
// The store uses the pure Go modernc.org/sqlite driver, so no cgo toolchain
// is needed. Scan results are written in a single transaction together
// with their rule results and are never modified afterwards.
//
// Usage:
//
//	st, err := store.New(&store.Config{Path: "data/streamguard.db"})
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
package store

// Config configures the store.
type Config struct {
	// Path of the SQLite database file. Parent directories are created.
	Path string `yaml:"path" json:"path"`

	// DefaultSSHUser and DefaultPort fill hosts created inline by a job.
	DefaultSSHUser string `yaml:"default_ssh_user" json:"default_ssh_user"`
	DefaultPort    int    `yaml:"default_port" json:"default_port"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Path:           "data/streamguard.db",
		DefaultSSHUser: "root",
		DefaultPort:    22,
	}
}
