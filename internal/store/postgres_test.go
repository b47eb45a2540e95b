package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fieldnotes/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock, DefaultTables()), mock
}

var noteRowColumns = []string{
	"id", "project_id", "project_name", "created_by", "created_by_name",
	"latitude", "longitude", "notes", "photos", "asset_type", "is_deleted", "created_at",
}

func TestPostgresStore_VerifySchema(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT to_regclass\(\$1\) IS NOT NULL`).
		WithArgs(`"projects"`).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT to_regclass\(\$1\) IS NOT NULL`).
		WithArgs(`"field_notes"`).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	err := s.VerifySchema(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "field_notes")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListProjects(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, name, status, created_at FROM "projects" ORDER BY created_at DESC`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "status", "created_at"}).
			AddRow("p1", "Fiber Build", "active", now).
			AddRow("p2", "Audit", "closed", now.Add(-time.Hour)))

	projects, err := s.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "Fiber Build", projects[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListNotes_ActiveForProject(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	vault := "Vault"

	mock.ExpectQuery(`FROM "field_notes" WHERE project_id = \$1 AND NOT is_deleted ORDER BY created_at DESC`).
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows(noteRowColumns).
			AddRow("n1", "p1", "Fiber Build", "u1", "Dana", 25.9, -80.3, "leak", []string{"a", "b"}, &vault, false, now))

	notes, err := s.ListNotes(context.Background(), NoteFilter{ProjectID: "p1"})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, []string{"a", "b"}, notes[0].Photos)
	require.NotNil(t, notes[0].AssetType)
	assert.Equal(t, model.AssetVault, *notes[0].AssetType)
	assert.Equal(t, model.NoteActive, notes[0].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertNote_OmitsUnsetAssetType(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	unknown := "Unknown"

	mock.ExpectQuery(`INSERT INTO "field_notes" \("id", "project_id", "project_name", "created_by", "created_by_name", "latitude", "longitude", "notes", "photos", "is_deleted", "created_at"\) VALUES \(\$1, .*\$11\) RETURNING`).
		WithArgs(pgxmock.AnyArg(), "p1", "Fiber Build", "u1", "Dana", 25.909, -80.309, "leak found", []string{}, false, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(noteRowColumns).
			AddRow("n1", "p1", "Fiber Build", "u1", "Dana", 25.909, -80.309, "leak found", []string{}, &unknown, false, now))

	n, err := s.InsertNote(context.Background(), model.FieldNote{
		ProjectID: "p1", ProjectName: "Fiber Build", CreatedBy: "u1", CreatedByName: "Dana",
		Latitude: 25.909, Longitude: -80.309, Notes: "leak found",
	})
	require.NoError(t, err)
	assert.Equal(t, "n1", n.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertNote_WithAssetType(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	vault := model.AssetVault
	vaultCol := "Vault"

	mock.ExpectQuery(`"created_at", "asset_type"\) VALUES \(.*\$12\) RETURNING`).
		WithArgs(pgxmock.AnyArg(), "p1", "", "", "", 1.0, 2.0, "x", []string{"u"}, false, pgxmock.AnyArg(), "Vault").
		WillReturnRows(pgxmock.NewRows(noteRowColumns).
			AddRow("n2", "p1", "", "", "", 1.0, 2.0, "x", []string{"u"}, &vaultCol, false, now))

	n, err := s.InsertNote(context.Background(), model.FieldNote{
		ProjectID: "p1", Latitude: 1, Longitude: 2, Notes: "x", Photos: []string{"u"}, AssetType: &vault,
	})
	require.NoError(t, err)
	require.NotNil(t, n.AssetType)
	assert.Equal(t, model.AssetVault, *n.AssetType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ArchiveNote(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE "field_notes" SET is_deleted = \$1 WHERE id = \$2`).
		WithArgs(true, "n1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, ArchiveNote(context.Background(), s, "n1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ArchiveNote_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE "field_notes" SET is_deleted`).
		WithArgs(true, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := ArchiveNote(context.Background(), s, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_UsesConfiguredTables(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	s := NewPostgresWithPool(mock, Tables{Projects: "ops.projects", FieldNotes: "ops.field_notes"})

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "ops"."projects"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
