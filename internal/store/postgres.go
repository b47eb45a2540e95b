package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fieldnotes/internal/db"
	"github.com/sells-group/fieldnotes/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	tables  Tables
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, tables Tables, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, tables: tables, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool, tables Tables) *PostgresStore {
	return &PostgresStore{pool: pool, tables: tables}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[2]s (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id      TEXT NOT NULL REFERENCES %[1]s(id),
	project_name    TEXT,
	created_by      TEXT,
	created_by_name TEXT,
	latitude        DOUBLE PRECISION NOT NULL,
	longitude       DOUBLE PRECISION NOT NULL,
	notes           TEXT,
	photos          TEXT[] NOT NULL DEFAULT '{}',
	asset_type      TEXT NOT NULL DEFAULT 'Unknown',
	is_deleted      BOOLEAN NOT NULL DEFAULT false,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS %[3]s ON %[2]s(project_id, is_deleted);
CREATE INDEX IF NOT EXISTS %[4]s ON %[2]s(created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, notesName := db.SplitTable(s.tables.FieldNotes)
	sql := fmt.Sprintf(postgresMigration,
		db.SanitizeTable(s.tables.Projects),
		db.SanitizeTable(s.tables.FieldNotes),
		pgx.Identifier{"idx_" + strings.ToLower(notesName) + "_project"}.Sanitize(),
		pgx.Identifier{"idx_" + strings.ToLower(notesName) + "_created_at"}.Sanitize(),
	)
	_, err := s.pool.Exec(ctx, sql)
	return eris.Wrap(err, "postgres: migrate")
}

// VerifySchema checks that both configured tables exist.
func (s *PostgresStore) VerifySchema(ctx context.Context) error {
	for _, table := range []string{s.tables.Projects, s.tables.FieldNotes} {
		var exists bool
		err := s.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, db.SanitizeTable(table)).Scan(&exists)
		if err != nil {
			return eris.Wrapf(err, "postgres: verify table %s", table)
		}
		if !exists {
			return eris.Wrapf(ErrSchemaMismatch, "postgres: table %q not found", table)
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, name, status, created_at FROM %s ORDER BY created_at DESC`,
		db.SanitizeTable(s.tables.Projects),
	))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list projects")
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan project")
		}
		projects = append(projects, p)
	}
	return projects, eris.Wrap(rows.Err(), "postgres: iterate projects")
}

func (s *PostgresStore) ListNotes(ctx context.Context, filter NoteFilter) ([]model.FieldNote, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s`, noteColumns, db.SanitizeTable(s.tables.FieldNotes))

	var where []string
	var args []any
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		where = append(where, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if !filter.IncludeArchived {
		where = append(where, "NOT is_deleted")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list notes")
	}
	defer rows.Close()

	var notes []model.FieldNote
	for rows.Next() {
		n, err := scanPostgresNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *n)
	}
	return notes, eris.Wrap(rows.Err(), "postgres: iterate notes")
}

func (s *PostgresStore) InsertNote(ctx context.Context, note model.FieldNote) (*model.FieldNote, error) {
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	if note.Photos == nil {
		note.Photos = []string{}
	}

	cols := insertColumns(note)
	args := []any{
		note.ID, note.ProjectID, note.ProjectName, note.CreatedBy, note.CreatedByName,
		note.Latitude, note.Longitude, note.Notes, note.Photos, note.State.IsDeleted(), note.CreatedAt,
	}
	if note.AssetType != nil {
		args = append(args, string(*note.AssetType))
	}
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING %s`,
		db.SanitizeTable(s.tables.FieldNotes), db.QuoteAndJoin(cols), strings.Join(placeholders, ", "), noteColumns)

	inserted, err := scanPostgresNote(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert note")
	}
	return inserted, nil
}

func (s *PostgresStore) UpdateNote(ctx context.Context, id string, patch model.NotePatch) error {
	if patch.State == nil {
		return nil
	}
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET is_deleted = $1 WHERE id = $2`, db.SanitizeTable(s.tables.FieldNotes)),
		patch.State.IsDeleted(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update note %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: note %s", id)
	}
	return nil
}

func scanPostgresNote(row pgx.Row) (*model.FieldNote, error) {
	var n model.FieldNote
	var assetType *string
	var deleted bool
	err := row.Scan(
		&n.ID, &n.ProjectID, &n.ProjectName, &n.CreatedBy, &n.CreatedByName,
		&n.Latitude, &n.Longitude, &n.Notes, &n.Photos,
		&assetType, &deleted, &n.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan note")
	}
	if n.Photos == nil {
		n.Photos = []string{}
	}
	n.AssetType = assetTypeFromColumn(assetType)
	n.State = model.NoteStateFromDeleted(deleted)
	return &n, nil
}
