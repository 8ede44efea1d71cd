package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	sgerrors "github.com/exploopio/streamguard/pkg/errors"
)

const scanColumns = `id, job_id, COALESCE(host_id, ''), host, distro, profile_name, score, passed, failed, other, created_at`

func scanScanResult(row rowScanner) (*ScanResult, error) {
	r := &ScanResult{}
	err := row.Scan(&r.ID, &r.JobID, &r.HostID, &r.Host, &r.Distro, &r.ProfileName,
		&r.Score, &r.Passed, &r.Failed, &r.Other, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// SaveScanResult persists r and its rules in one transaction. The tallies
// must account for every rule.
func (s *Storage) SaveScanResult(ctx context.Context, r *ScanResult) error {
	const op = "store.SaveScanResult"
	if total := r.Passed + r.Failed + r.Other; total != len(r.Rules) {
		return sgerrors.E(sgerrors.KindInvalidInput, op,
			fmt.Sprintf("tallies cover %d rules but %d were given", total, len(r.Rules)))
	}
	if r.Score < 0 || r.Score > 100 {
		return sgerrors.E(sgerrors.KindInvalidInput, op, fmt.Sprintf("score %.2f out of range", r.Score))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r.ID = uuid.New().String()
	r.CreatedAt = s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sgerrors.E(sgerrors.KindInternal, op, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var hostID any
	if r.HostID != "" {
		hostID = r.HostID
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO scan_results (id, job_id, host_id, host, distro, profile_name, score, passed, failed, other, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.JobID, hostID, r.Host, r.Distro, r.ProfileName, r.Score, r.Passed, r.Failed, r.Other, r.CreatedAt)
	if err != nil {
		return sgerrors.E(sgerrors.KindInternal, op, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rule_results (scan_result_id, rule_id, severity, status, title, description, rationale, fixtext)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return sgerrors.E(sgerrors.KindInternal, op, err)
	}
	defer stmt.Close()

	for _, rule := range r.Rules {
		if _, err := stmt.ExecContext(ctx, r.ID, rule.RuleID, rule.Severity, rule.Status,
			rule.Title, rule.Description, rule.Rationale, rule.FixText); err != nil {
			return sgerrors.E(sgerrors.KindInternal, op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return sgerrors.E(sgerrors.KindInternal, op, err)
	}
	return nil
}

// ListScanResults returns the results of a job, without rules, ordered by host.
func (s *Storage) ListScanResults(ctx context.Context, jobID string) ([]*ScanResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scanColumns+` FROM scan_results WHERE job_id = ? ORDER BY host`, jobID)
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindInternal, "store.ListScanResults", err)
	}
	defer rows.Close()

	var out []*ScanResult
	for rows.Next() {
		r, err := scanScanResult(rows)
		if err != nil {
			return nil, sgerrors.E(sgerrors.KindInternal, "store.ListScanResults", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRuleResults returns the rules of one scan result in insertion order.
func (s *Storage) GetRuleResults(ctx context.Context, scanResultID string) ([]RuleResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, severity, status, title, description, rationale, fixtext
		FROM rule_results WHERE scan_result_id = ? ORDER BY id
	`, scanResultID)
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindInternal, "store.GetRuleResults", err)
	}
	defer rows.Close()

	var out []RuleResult
	for rows.Next() {
		var r RuleResult
		if err := rows.Scan(&r.RuleID, &r.Severity, &r.Status, &r.Title, &r.Description, &r.Rationale, &r.FixText); err != nil {
			return nil, sgerrors.E(sgerrors.KindInternal, "store.GetRuleResults", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// JobResults returns every scan result of a job with its rules loaded.
func (s *Storage) JobResults(ctx context.Context, jobID string) ([]*ScanResult, error) {
	results, err := s.ListScanResults(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		rules, err := s.GetRuleResults(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		r.Rules = rules
	}
	return results, nil
}
