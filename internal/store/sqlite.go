package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/gridwise/sheetctx/internal/contextbuild"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS builds (
	id            TEXT PRIMARY KEY,
	workbook_id   TEXT NOT NULL,
	mode          TEXT NOT NULL,
	model         TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	cancelled     INTEGER NOT NULL DEFAULT 0,
	error         TEXT,
	stats         TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_builds_workbook ON builds(workbook_id);
CREATE INDEX IF NOT EXISTS idx_builds_created_at ON builds(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordBuild inserts one build's stats.
func (s *SQLiteStore) RecordBuild(ctx context.Context, stats contextbuild.BuildStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stats")
	}

	createdAt := stats.StartedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO builds (id, workbook_id, mode, model, prompt_tokens, cancelled, error, stats, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stats.BuildID, stats.WorkbookID, string(stats.Mode), stats.Model,
		stats.PromptTokens, boolToInt(stats.Cancelled), nullString(stats.Error),
		string(statsJSON), createdAt,
	)
	return eris.Wrapf(err, "sqlite: insert build %s", stats.BuildID)
}

func (s *SQLiteStore) GetBuild(ctx context.Context, buildID string) (*BuildRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workbook_id, mode, model, prompt_tokens, cancelled, error, stats, created_at
		 FROM builds WHERE id = ?`,
		buildID,
	)
	return scanBuild(row)
}

func (s *SQLiteStore) ListBuilds(ctx context.Context, filter BuildFilter) ([]BuildRecord, error) {
	query := `SELECT id, workbook_id, mode, model, prompt_tokens, cancelled, error, stats, created_at
	          FROM builds WHERE 1=1`
	var args []any

	if filter.WorkbookID != "" {
		query += ` AND workbook_id = ?`
		args = append(args, filter.WorkbookID)
	}
	if filter.Mode != "" {
		query += ` AND mode = ?`
		args = append(args, filter.Mode)
	}
	if filter.FailedOnly {
		query += ` AND (error IS NOT NULL OR cancelled = 1)`
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list builds")
	}
	defer rows.Close()

	var records []BuildRecord
	for rows.Next() {
		r, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list builds iterate")
}

// PruneBefore deletes builds older than the cutoff and reports how many
// were removed.
func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM builds WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune builds")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// Hook adapts the store into a builder telemetry hook. Persistence failures
// are logged and swallowed so the build path never depends on the log.
func (s *SQLiteStore) Hook() contextbuild.TelemetryHook {
	return func(stats contextbuild.BuildStats) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.RecordBuild(ctx, stats); err != nil {
			zap.L().Warn("store: failed to record build", zap.String("build_id", stats.BuildID), zap.Error(err))
		}
	}
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanBuild(row scannable) (*BuildRecord, error) {
	var r BuildRecord
	var cancelled int
	var errText sql.NullString
	var statsJSON string

	err := row.Scan(&r.ID, &r.WorkbookID, &r.Mode, &r.Model, &r.PromptTokens,
		&cancelled, &errText, &statsJSON, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("build not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan build")
	}

	r.Cancelled = cancelled != 0
	if errText.Valid {
		r.Error = errText.String
	}
	if err := json.Unmarshal([]byte(statsJSON), &r.Stats); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal stats")
	}
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
