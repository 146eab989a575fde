package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Activation is one row of the activation log.
type Activation struct {
	RunID       string `json:"run_id"`
	Module      string `json:"module"`
	Namespace   string `json:"namespace"`
	Version     uint   `json:"version"`
	Applied     bool   `json:"applied"`
	ActivatedAt int64  `json:"activated_at"` // unix nanos
}

// NewRunID returns an identifier grouping the rows written by one
// activation pass.
func NewRunID() string {
	return uuid.New().String()
}

func (db *DB) ensureActivationLog(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS activation_log (
			run_id       TEXT NOT NULL,
			module       TEXT NOT NULL,
			namespace    TEXT NOT NULL,
			version      BIGINT NOT NULL,
			applied      BOOLEAN NOT NULL,
			activated_at BIGINT NOT NULL
		)`)
	return err
}

// RecordActivation appends a to the activation log. Missing RunID and
// ActivatedAt are filled in.
func (db *DB) RecordActivation(ctx context.Context, a *Activation) error {
	if a.RunID == "" {
		a.RunID = NewRunID()
	}
	if a.ActivatedAt == 0 {
		a.ActivatedAt = time.Now().UnixNano()
	}
	d := db.Dialect
	_, err := db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO activation_log (run_id, module, namespace, version, applied, activated_at)
		 VALUES (%s, %s, %s, %s, %s, %s)`,
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4), d.Placeholder(5), d.Placeholder(6)),
		a.RunID, a.Module, a.Namespace, int64(a.Version), a.Applied, a.ActivatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record activation of %s: %w", a.Module, err)
	}
	return nil
}

// Activations returns the most recent log rows, newest first. A limit of
// zero or less returns every row.
func (db *DB) Activations(ctx context.Context, limit int) ([]Activation, error) {
	query := `SELECT run_id, module, namespace, version, applied, activated_at
		FROM activation_log ORDER BY activated_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT " + db.Dialect.Placeholder(1)
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activation
	for rows.Next() {
		var (
			a       Activation
			version int64
		)
		if err := rows.Scan(&a.RunID, &a.Module, &a.Namespace, &version, &a.Applied, &a.ActivatedAt); err != nil {
			return nil, err
		}
		a.Version = uint(version)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
