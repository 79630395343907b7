// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
)

// Verification modes.
const (
	ModeQuick = "quick"
	ModeFull  = "full"
)

// Report is the outcome of Verify. A healthy database has no Issues.
type Report struct {
	Path        string
	Mode        string
	UserVersion int
	// Issues holds integrity diagnostics followed by foreign key violations.
	Issues []string
}

// Healthy reports whether no problem was found.
func (r *Report) Healthy() bool { return len(r.Issues) == 0 }

// Verify opens path read-only and checks structure and references.
// ModeFull runs integrity_check, anything else quick_check; both are
// followed by foreign_key_check so frames pointing at missing sessions show up.
func Verify(path, mode string) (*Report, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(2000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open for verification: %w", err)
	}
	defer func() { _ = db.Close() }()

	if mode != ModeFull {
		mode = ModeQuick
	}
	report := &Report{Path: path, Mode: mode}

	pragma := "PRAGMA quick_check"
	if mode == ModeFull {
		pragma = "PRAGMA integrity_check"
	}
	rows, err := queryStrings(db, pragma)
	if err != nil {
		return nil, fmt.Errorf("sqlite: integrity check: %w", err)
	}
	switch {
	case len(rows) == 0:
		report.Issues = append(report.Issues, "no results returned from integrity check")
	case len(rows) == 1 && strings.EqualFold(rows[0], "ok"):
	default:
		report.Issues = append(report.Issues, rows...)
	}

	if report.UserVersion, err = UserVersion(db); err != nil {
		return nil, err
	}

	fk, err := foreignKeyViolations(db)
	if err != nil {
		return nil, fmt.Errorf("sqlite: foreign key check: %w", err)
	}
	report.Issues = append(report.Issues, fk...)
	return report, nil
}

func queryStrings(db *sql.DB, query string) ([]string, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// foreignKeyViolations renders foreign_key_check rows (table, rowid, parent, fkid).
func foreignKeyViolations(db *sql.DB) ([]string, error) {
	rows, err := db.Query("PRAGMA foreign_key_check")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var (
			table, parent string
			rowid         sql.NullInt64
			fkid          int
		)
		if err := rows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("%s row %d references missing %s", table, rowid.Int64, parent))
	}
	return out, rows.Err()
}
