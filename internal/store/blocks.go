package store

import (
	"fmt"
	"strings"
	"time"
)

// BlockDomain adds a domain to the block list. Idempotent.
func (s *Store) BlockDomain(domain string) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`INSERT INTO domain_blocks (blocked_domain, created_at) VALUES (%s,%s) ON CONFLICT(blocked_domain) DO NOTHING`,
		s.ph(1), s.ph(2)), domain, time.Now().UTC().Format(time.RFC3339Nano))
	if err == nil {
		s.WriteAuditLog("block_domain", domain)
	}
	return err
}

// UnblockDomain removes a domain from the block list.
func (s *Store) UnblockDomain(domain string) error {
	_, err := s.db.Exec(fmt.Sprintf(`DELETE FROM domain_blocks WHERE blocked_domain = %s`, s.ph(1)), domain)
	if err == nil {
		s.WriteAuditLog("unblock_domain", domain)
	}
	return err
}

// IsDomainBlocked reports whether domain (or, when suffixMatch is true, any
// parent domain of it) is blocked. Exact-match is the default; suffix
// matching applies only when the domain_block_match_suffix configuration
// flag is set.
func (s *Store) IsDomainBlocked(domain string, suffixMatch bool) (bool, error) {
	if domain == "" {
		return false, nil
	}
	if !suffixMatch {
		var n int
		err := s.db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM domain_blocks WHERE blocked_domain = %s`, s.ph(1)), domain).Scan(&n)
		return n > 0, err
	}

	blocked, err := s.BlockedDomains()
	if err != nil {
		return false, err
	}
	for _, b := range blocked {
		if domain == b || strings.HasSuffix(domain, "."+b) {
			return true, nil
		}
	}
	return false, nil
}

// BlockedDomains lists every blocked domain.
func (s *Store) BlockedDomains() ([]string, error) {
	rows, err := s.db.Query(`SELECT blocked_domain FROM domain_blocks ORDER BY blocked_domain`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetKV reads a settings value, if present.
func (s *Store) GetKV(key string) (string, bool) {
	var v string
	err := s.db.QueryRow(fmt.Sprintf(`SELECT value FROM kv WHERE key = %s`, s.ph(1)), key).Scan(&v)
	if err != nil {
		return "", false
	}
	return v, true
}

// SetKV writes a settings value.
func (s *Store) SetKV(key, value string) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`INSERT INTO kv (key, value) VALUES (%s,%s) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		s.ph(1), s.ph(2)), key, value)
	return err
}

// WriteAuditLog appends an admin action to the audit log.
func (s *Store) WriteAuditLog(action, detail string) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`INSERT INTO audit_log (ts, action, detail) VALUES (%s,%s,%s)`, s.ph(1), s.ph(2), s.ph(3)),
		time.Now().UTC().Format(time.RFC3339Nano), action, detail)
	return err
}

// AuditLogEntry is one row of the audit trail.
type AuditLogEntry struct {
	Timestamp time.Time
	Action    string
	Detail    string
}

// GetAuditLog returns the most recent audit log entries, newest first.
func (s *Store) GetAuditLog(limit int) ([]AuditLogEntry, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT ts, action, detail FROM audit_log ORDER BY ts DESC LIMIT %s`, s.ph(1)), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditLogEntry
	for rows.Next() {
		var ts, action, detail string
		if err := rows.Scan(&ts, &action, &detail); err != nil {
			return nil, err
		}
		t, _ := time.Parse(time.RFC3339Nano, ts)
		out = append(out, AuditLogEntry{Timestamp: t, Action: action, Detail: detail})
	}
	return out, rows.Err()
}
