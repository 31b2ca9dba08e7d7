// Package history records every submitted request in the sqlite ledger so
// past runs can be listed without the archive files.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"enge/internal/db"
	"enge/internal/migrate"
)

type Entry struct {
	ID           int64     `json:"id"`
	TaskID       string    `json:"task_id"`
	Plan         string    `json:"plan"`
	Compose      string    `json:"compose"`
	ArtifactID   string    `json:"artifact_id"`
	ArtifactType string    `json:"artifact_type"`
	Tag          string    `json:"tag,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

type Ledger struct {
	DB  *sql.DB
	Now func() time.Time
}

// Open opens and migrates the ledger in dir.
func Open(ctx context.Context, dir string) (*Ledger, error) {
	conn, err := db.Open(db.Config{Dir: dir})
	if err != nil {
		return nil, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &Ledger{DB: conn, Now: time.Now}, nil
}

func (l *Ledger) Close() error {
	return l.DB.Close()
}

// Record stores e. A zero SubmittedAt is set to now.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.SubmittedAt.IsZero() {
		now := l.Now
		if now == nil {
			now = time.Now
		}
		e.SubmittedAt = now()
	}
	_, err := l.DB.ExecContext(ctx, `INSERT INTO submissions(task_id,plan,compose,artifact_id,artifact_type,tag,submitted_at) VALUES (?,?,?,?,?,?,?)`,
		e.TaskID, e.Plan, e.Compose, e.ArtifactID, e.ArtifactType, nullable(e.Tag), e.SubmittedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record submission %s: %w", e.TaskID, err)
	}
	return nil
}

// List returns the newest entries first. An empty tag lists every entry;
// limit <= 0 means no limit.
func (l *Ledger) List(ctx context.Context, limit int, tag string) ([]Entry, error) {
	q := `SELECT id,task_id,plan,compose,artifact_id,artifact_type,COALESCE(tag,''),submitted_at FROM submissions`
	var args []any
	if tag != "" {
		q += ` WHERE tag=?`
		args = append(args, tag)
	}
	q += ` ORDER BY id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			ts string
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Plan, &e.Compose, &e.ArtifactID, &e.ArtifactType, &e.Tag, &ts); err != nil {
			return nil, err
		}
		if e.SubmittedAt, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("parse submitted_at %q: %w", ts, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
