package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	sgerrors "github.com/exploopio/streamguard/pkg/errors"
)

const hostColumns = `id, alias, address, ssh_user, port, identity_file, proxy_jump,
	source, os_distro, os_version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHost(row rowScanner) (*Host, error) {
	h := &Host{}
	err := row.Scan(&h.ID, &h.Alias, &h.Address, &h.SSHUser, &h.Port, &h.IdentityFile,
		&h.ProxyJump, &h.Source, &h.OSDistro, &h.OSVersion, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Storage) fillHostDefaults(h *Host) {
	if h.SSHUser == "" {
		h.SSHUser = s.cfg.DefaultSSHUser
	}
	if h.Port == 0 {
		h.Port = s.cfg.DefaultPort
	}
	if h.Source == "" {
		h.Source = SourceManual
	}
}

// CreateHost inserts h, assigning ID and timestamps. A duplicate address
// is a KindConflict error.
func (s *Storage) CreateHost(ctx context.Context, h *Host) error {
	const op = "store.CreateHost"
	h.Address = strings.TrimSpace(h.Address)
	if h.Address == "" {
		return sgerrors.E(sgerrors.KindInvalidInput, op, "address is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.hostByAddress(ctx, h.Address); err != nil {
		return sgerrors.E(sgerrors.KindInternal, op, err)
	} else if existing != nil {
		return sgerrors.E(sgerrors.KindConflict, op, "host "+h.Address+" already exists")
	}

	s.fillHostDefaults(h)
	h.ID = uuid.New().String()
	h.CreatedAt = s.now()
	h.UpdatedAt = h.CreatedAt

	if err := s.insertHost(ctx, h); err != nil {
		return sgerrors.E(sgerrors.KindInternal, op, err)
	}
	return nil
}

func (s *Storage) insertHost(ctx context.Context, h *Host) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hosts (`+hostColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.Alias, h.Address, h.SSHUser, h.Port, h.IdentityFile, h.ProxyJump,
		h.Source, h.OSDistro, h.OSVersion, h.CreatedAt, h.UpdatedAt)
	return err
}

// GetHost returns the host with the given ID.
func (s *Storage) GetHost(ctx context.Context, id string) (*Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+hostColumns+` FROM hosts WHERE id = ?`, id)
	h, err := scanHost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("store.GetHost", "host", id)
	}
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindInternal, "store.GetHost", err)
	}
	return h, nil
}

// GetHostByAddress returns the host with the given address, or nil if none.
func (s *Storage) GetHostByAddress(ctx context.Context, address string) (*Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, err := s.hostByAddress(ctx, address)
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindInternal, "store.GetHostByAddress", err)
	}
	return h, nil
}

func (s *Storage) hostByAddress(ctx context.Context, address string) (*Host, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+hostColumns+` FROM hosts WHERE address = ?`, address)
	h, err := scanHost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return h, err
}

func (s *Storage) hostByAlias(ctx context.Context, alias string) (*Host, error) {
	if alias == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+hostColumns+` FROM hosts WHERE alias = ? LIMIT 1`, alias)
	h, err := scanHost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return h, err
}

// ListHosts returns every host ordered by address.
func (s *Storage) ListHosts(ctx context.Context) ([]*Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+hostColumns+` FROM hosts ORDER BY address`)
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindInternal, "store.ListHosts", err)
	}
	defer rows.Close()

	var hosts []*Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, sgerrors.E(sgerrors.KindInternal, "store.ListHosts", err)
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// UpdateHost applies patch to the host with the given ID.
func (s *Storage) UpdateHost(ctx context.Context, id string, patch HostPatch) (*Host, error) {
	const op = "store.UpdateHost"

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+hostColumns+` FROM hosts WHERE id = ?`, id)
	h, err := scanHost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(op, "host", id)
	}
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindInternal, op, err)
	}

	patch.Apply(h)
	h.Address = strings.TrimSpace(h.Address)
	if h.Address == "" {
		return nil, sgerrors.E(sgerrors.KindInvalidInput, op, "address cannot be empty")
	}
	if patch.Address != nil {
		other, err := s.hostByAddress(ctx, h.Address)
		if err != nil {
			return nil, sgerrors.E(sgerrors.KindInternal, op, err)
		}
		if other != nil && other.ID != h.ID {
			return nil, sgerrors.E(sgerrors.KindConflict, op, "host "+h.Address+" already exists")
		}
	}
	h.UpdatedAt = s.now()

	if err := s.saveHost(ctx, h); err != nil {
		return nil, sgerrors.E(sgerrors.KindInternal, op, err)
	}
	return h, nil
}

func (s *Storage) saveHost(ctx context.Context, h *Host) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE hosts SET
			alias = ?, address = ?, ssh_user = ?, port = ?, identity_file = ?,
			proxy_jump = ?, source = ?, os_distro = ?, os_version = ?, updated_at = ?
		WHERE id = ?
	`, h.Alias, h.Address, h.SSHUser, h.Port, h.IdentityFile, h.ProxyJump,
		h.Source, h.OSDistro, h.OSVersion, h.UpdatedAt, h.ID)
	return err
}

// DeleteHost removes the host with the given ID. Hosts are only ever
// removed through this call.
func (s *Storage) DeleteHost(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM hosts WHERE id = ?`, id)
	if err != nil {
		return sgerrors.E(sgerrors.KindInternal, "store.DeleteHost", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("store.DeleteHost", "host", id)
	}
	return nil
}

// EnsureHost returns the host with the given address, creating it with
// default connection settings when it is not known yet.
func (s *Storage) EnsureHost(ctx context.Context, address string) (*Host, error) {
	const op = "store.EnsureHost"

	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.hostByAddress(ctx, address)
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindInternal, op, err)
	}
	if h != nil {
		return h, nil
	}

	h = &Host{Address: address, Alias: address}
	s.fillHostDefaults(h)
	h.ID = uuid.New().String()
	h.CreatedAt = s.now()
	h.UpdatedAt = h.CreatedAt
	if err := s.insertHost(ctx, h); err != nil {
		return nil, sgerrors.E(sgerrors.KindInternal, op, err)
	}
	return h, nil
}

// MergeDiscoveredHost records a host found by discovery. An existing host
// (matched by address, then alias) only gets its blank or default fields
// filled; user edits are never overwritten. It reports whether a new host
// was created and whether an existing one changed.
func (s *Storage) MergeDiscoveredHost(ctx context.Context, d Host) (created, updated bool, err error) {
	const op = "store.MergeDiscoveredHost"
	d.Address = strings.TrimSpace(d.Address)
	if d.Address == "" {
		return false, false, sgerrors.E(sgerrors.KindInvalidInput, op, "address is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.hostByAddress(ctx, d.Address)
	if err == nil && existing == nil {
		existing, err = s.hostByAlias(ctx, d.Alias)
	}
	if err != nil {
		return false, false, sgerrors.E(sgerrors.KindInternal, op, err)
	}

	if existing == nil {
		d.Source = SourceDiscovered
		s.fillHostDefaults(&d)
		d.ID = uuid.New().String()
		d.CreatedAt = s.now()
		d.UpdatedAt = d.CreatedAt
		if err := s.insertHost(ctx, &d); err != nil {
			return false, false, sgerrors.E(sgerrors.KindInternal, op, err)
		}
		return true, false, nil
	}

	changed := false
	if existing.Alias == "" && d.Alias != "" {
		existing.Alias = d.Alias
		changed = true
	}
	if existing.IdentityFile == "" && d.IdentityFile != "" {
		existing.IdentityFile = d.IdentityFile
		changed = true
	}
	if existing.Port == s.cfg.DefaultPort && d.Port != 0 && d.Port != s.cfg.DefaultPort {
		existing.Port = d.Port
		changed = true
	}
	if existing.ProxyJump == "" && d.ProxyJump != "" {
		existing.ProxyJump = d.ProxyJump
		changed = true
	}
	if existing.SSHUser == s.cfg.DefaultSSHUser && d.SSHUser != "" && d.SSHUser != existing.SSHUser {
		existing.SSHUser = d.SSHUser
		changed = true
	}
	if !changed {
		return false, false, nil
	}
	existing.UpdatedAt = s.now()
	if err := s.saveHost(ctx, existing); err != nil {
		return false, false, sgerrors.E(sgerrors.KindInternal, op, err)
	}
	return false, true, nil
}
