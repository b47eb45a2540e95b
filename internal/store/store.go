package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fieldnotes/internal/model"
)

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrSchemaMismatch is returned by VerifySchema when a configured table is
// missing. It is a startup configuration error, not a runtime condition.
var ErrSchemaMismatch = eris.New("store: schema mismatch")

// Tables names the tables the store reads and writes.
type Tables struct {
	Projects   string
	FieldNotes string
}

// DefaultTables returns the conventional table names.
func DefaultTables() Tables {
	return Tables{Projects: "projects", FieldNotes: "field_notes"}
}

// NoteFilter specifies criteria for listing field notes.
type NoteFilter struct {
	ProjectID       string `json:"project_id,omitempty"`
	IncludeArchived bool   `json:"include_archived,omitempty"`
}

// Store defines the persistence interface for projects and field notes.
// Lists are ordered newest first.
type Store interface {
	// Projects
	ListProjects(ctx context.Context) ([]model.Project, error)

	// Field notes
	ListNotes(ctx context.Context, filter NoteFilter) ([]model.FieldNote, error)
	InsertNote(ctx context.Context, note model.FieldNote) (*model.FieldNote, error)
	UpdateNote(ctx context.Context, id string, patch model.NotePatch) error

	// Lifecycle
	VerifySchema(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// ArchiveNote marks a note archived. The note row is kept.
func ArchiveNote(ctx context.Context, s Store, id string) error {
	archived := model.NoteArchived
	return s.UpdateNote(ctx, id, model.NotePatch{State: &archived})
}

// insertColumns lists the columns written for a new note. asset_type is
// omitted when unset so the column default applies.
func insertColumns(note model.FieldNote) []string {
	cols := []string{
		"id", "project_id", "project_name", "created_by", "created_by_name",
		"latitude", "longitude", "notes", "photos", "is_deleted", "created_at",
	}
	if note.AssetType != nil {
		cols = append(cols, "asset_type")
	}
	return cols
}

// noteColumns is the select list shared by both backends.
const noteColumns = `id, project_id, COALESCE(project_name, ''), COALESCE(created_by, ''),
	COALESCE(created_by_name, ''), latitude, longitude, COALESCE(notes, ''), photos,
	asset_type, is_deleted, created_at`

func assetTypeFromColumn(v *string) *model.AssetType {
	if v == nil || *v == "" {
		return nil
	}
	at := model.AssetType(*v)
	return &at
}
