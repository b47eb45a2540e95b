package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/fieldnotes/internal/db"
	"github.com/sells-group/fieldnotes/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db     *sql.DB
	tables Tables
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, tables Tables) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, tables: tables}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'active',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS %[2]s (
	id              TEXT PRIMARY KEY,
	project_id      TEXT NOT NULL REFERENCES %[1]s(id),
	project_name    TEXT,
	created_by      TEXT,
	created_by_name TEXT,
	latitude        REAL NOT NULL,
	longitude       REAL NOT NULL,
	notes           TEXT,
	photos          TEXT NOT NULL DEFAULT '[]',
	asset_type      TEXT NOT NULL DEFAULT 'Unknown',
	is_deleted      INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS %[3]s ON %[2]s(project_id, is_deleted);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, notesName := db.SplitTable(s.tables.FieldNotes)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(sqliteMigration,
		quoteIdent(s.tables.Projects),
		quoteIdent(s.tables.FieldNotes),
		quoteIdent("idx_"+strings.ToLower(notesName)+"_project"),
	))
	return eris.Wrap(err, "sqlite: migrate")
}

// VerifySchema checks that both configured tables exist.
func (s *SQLiteStore) VerifySchema(ctx context.Context) error {
	for _, table := range []string{s.tables.Projects, s.tables.FieldNotes} {
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&n)
		if err != nil {
			return eris.Wrapf(err, "sqlite: verify table %s", table)
		}
		if n == 0 {
			return eris.Wrapf(ErrSchemaMismatch, "sqlite: table %q not found", table)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateProject inserts a project. Project CRUD belongs to another service;
// this exists for seeding local databases and tests.
func (s *SQLiteStore) CreateProject(ctx context.Context, p model.Project) (*model.Project, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = "active"
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, name, status, created_at) VALUES (?, ?, ?, ?)`, quoteIdent(s.tables.Projects)),
		p.ID, p.Name, p.Status, p.CreatedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert project")
	}
	return &p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, name, status, created_at FROM %s ORDER BY created_at DESC`,
		quoteIdent(s.tables.Projects),
	))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list projects")
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		var p model.Project
		var created sqliteTime
		if err := rows.Scan(&p.ID, &p.Name, &p.Status, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan project")
		}
		p.CreatedAt = created.Time
		projects = append(projects, p)
	}
	return projects, eris.Wrap(rows.Err(), "sqlite: iterate projects")
}

func (s *SQLiteStore) ListNotes(ctx context.Context, filter NoteFilter) ([]model.FieldNote, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s`, noteColumns, quoteIdent(s.tables.FieldNotes))

	var where []string
	var args []any
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if !filter.IncludeArchived {
		where = append(where, "is_deleted = 0")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list notes")
	}
	defer rows.Close()

	var notes []model.FieldNote
	for rows.Next() {
		n, err := scanSQLiteNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *n)
	}
	return notes, eris.Wrap(rows.Err(), "sqlite: iterate notes")
}

func (s *SQLiteStore) InsertNote(ctx context.Context, note model.FieldNote) (*model.FieldNote, error) {
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	if note.Photos == nil {
		note.Photos = []string{}
	}
	photosJSON, err := json.Marshal(note.Photos)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal photos")
	}

	cols := insertColumns(note)
	args := []any{
		note.ID, note.ProjectID, note.ProjectName, note.CreatedBy, note.CreatedByName,
		note.Latitude, note.Longitude, note.Notes, string(photosJSON), note.State.IsDeleted(), note.CreatedAt.UTC().Format(sqliteTimeLayout),
	}
	if note.AssetType != nil {
		args = append(args, string(*note.AssetType))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING %s`,
		quoteIdent(s.tables.FieldNotes), strings.Join(cols, ", "), placeholders, noteColumns)

	inserted, err := scanSQLiteNote(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert note")
	}
	return inserted, nil
}

func (s *SQLiteStore) UpdateNote(ctx context.Context, id string, patch model.NotePatch) error {
	if patch.State == nil {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET is_deleted = ? WHERE id = ?`, quoteIdent(s.tables.FieldNotes)),
		patch.State.IsDeleted(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update note %s", id)
	}
	return checkRowsAffected(res, "note", id)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

// quoteIdent quotes a SQLite identifier. Schema-qualified names are not
// supported by the SQLite backend.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteNote(row scannable) (*model.FieldNote, error) {
	var n model.FieldNote
	var photosJSON string
	var assetType *string
	var deleted bool
	var created sqliteTime
	err := row.Scan(
		&n.ID, &n.ProjectID, &n.ProjectName, &n.CreatedBy, &n.CreatedByName,
		&n.Latitude, &n.Longitude, &n.Notes, &photosJSON,
		&assetType, &deleted, &created,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan note")
	}
	n.CreatedAt = created.Time
	n.Photos = []string{}
	if photosJSON != "" {
		if err := json.Unmarshal([]byte(photosJSON), &n.Photos); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal photos")
		}
	}
	n.AssetType = assetTypeFromColumn(assetType)
	n.State = model.NoteStateFromDeleted(deleted)
	return &n, nil
}

// sqliteTimeLayout sorts lexically in time order and is accepted by
// SQLite's date functions.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

// sqliteTime scans DATETIME columns whether the driver hands back a
// time.Time or the stored text.
type sqliteTime struct {
	time.Time
}

func (t *sqliteTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
		return nil
	default:
		return eris.Errorf("sqlite: cannot scan %T into time", src)
	}
}

func (t *sqliteTime) parse(s string) error {
	for _, layout := range []string{sqliteTimeLayout, "2006-01-02 15:04:05", time.RFC3339Nano} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return eris.Errorf("sqlite: unrecognized time %q", s)
}
