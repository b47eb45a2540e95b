// Package dupguard keeps one active note per spot per project. A new note
// at the same place as an active one replaces it only with the operator's
// consent: the old note is archived first, then the new one is inserted.
package dupguard

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldnotes/internal/metrics"
	"github.com/sells-group/fieldnotes/internal/model"
	"github.com/sells-group/fieldnotes/internal/store"
)

// ErrOverwriteDeclined is returned when the operator keeps the existing note.
var ErrOverwriteDeclined = eris.New("dupguard: overwrite declined")

// Confirmer asks the operator whether an existing note should be archived
// in favor of a new one.
type Confirmer interface {
	ConfirmOverwrite(ctx context.Context, existing model.FieldNote) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, existing model.FieldNote) (bool, error)

func (f ConfirmFunc) ConfirmOverwrite(ctx context.Context, existing model.FieldNote) (bool, error) {
	return f(ctx, existing)
}

// Always answers every prompt with the same decision.
func Always(accept bool) Confirmer {
	return ConfirmFunc(func(context.Context, model.FieldNote) (bool, error) { return accept, nil })
}

// Archiver marks a note archived.
type Archiver interface {
	ArchiveNote(ctx context.Context, id string) error
}

// Find returns the active note of projectID at the same place as coord.
func Find(coord model.Coordinate, projectID string, notes []model.FieldNote) (*model.FieldNote, bool) {
	for i := range notes {
		n := notes[i]
		if n.ProjectID == projectID && n.Active() && model.SamePlace(n.Coordinate(), coord) {
			return &n, true
		}
	}
	return nil, false
}

// Guard applies the archive-before-insert policy.
type Guard struct {
	archiver Archiver
	metrics  *metrics.Collector
}

// New creates a Guard.
func New(a Archiver, m *metrics.Collector) *Guard {
	return &Guard{archiver: a, metrics: m}
}

// Check clears the way for a new note at coord. With no collision it returns
// (nil, nil). On a collision it asks c: a decline returns
// ErrOverwriteDeclined having changed nothing; an accept archives the
// existing note and returns it only after the archive has completed, so the
// caller's insert is strictly ordered after it.
func (g *Guard) Check(ctx context.Context, coord model.Coordinate, projectID string, notes []model.FieldNote, c Confirmer) (*model.FieldNote, error) {
	dup, ok := Find(coord, projectID, notes)
	if !ok {
		return nil, nil
	}

	g.metrics.Duplicate("prompted")
	accept, err := c.ConfirmOverwrite(ctx, *dup)
	if err != nil {
		return nil, eris.Wrap(err, "dupguard: confirm overwrite")
	}
	if !accept {
		g.metrics.Duplicate("declined")
		return nil, eris.Wrapf(ErrOverwriteDeclined, "dupguard: note %s", dup.ID)
	}

	if err := g.archiver.ArchiveNote(ctx, dup.ID); err != nil {
		return nil, eris.Wrapf(err, "dupguard: archive note %s", dup.ID)
	}
	g.metrics.Duplicate("overwritten")
	zap.L().Info("dupguard: archived note at same place",
		zap.String("note_id", dup.ID),
		zap.String("project_id", projectID),
		zap.Stringer("coordinate", coord),
	)

	dup.State = model.NoteArchived
	return dup, nil
}

// StoreArchiver archives notes through a store.Store.
type StoreArchiver struct {
	Store store.Store
}

func (a StoreArchiver) ArchiveNote(ctx context.Context, id string) error {
	return store.ArchiveNote(ctx, a.Store, id)
}
