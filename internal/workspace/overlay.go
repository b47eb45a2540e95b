package workspace

import (
	"sync"

	"github.com/sells-group/fieldnotes/internal/model"
)

// overlayRenderer is the canvas side of the overlay.
type overlayRenderer interface {
	SetOverlayNotes(notes []model.FieldNote)
}

// Overlay is the session's in-memory note set. It feeds the duplicate guard
// and renders the selected project's active notes when shown.
type Overlay struct {
	render overlayRenderer

	mu        sync.Mutex
	notes     []model.FieldNote
	projectID string
	show      bool
}

// NewOverlay creates a visible overlay over notes.
func NewOverlay(render overlayRenderer, notes []model.FieldNote) *Overlay {
	return &Overlay{render: render, notes: append([]model.FieldNote(nil), notes...), show: true}
}

// Snapshot returns a copy of every note, archived ones included.
func (o *Overlay) Snapshot() []model.FieldNote {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]model.FieldNote(nil), o.notes...)
}

// Prepend adds a freshly saved note and re-renders.
func (o *Overlay) Prepend(note model.FieldNote) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notes = append([]model.FieldNote{note}, o.notes...)
	o.renderLocked()
}

// MarkArchived flags a note archived locally and re-renders.
func (o *Overlay) MarkArchived(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.notes {
		if o.notes[i].ID == id {
			o.notes[i].State = model.NoteArchived
		}
	}
	o.renderLocked()
}

// Replace swaps the whole note set, as after a reload.
func (o *Overlay) Replace(notes []model.FieldNote) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notes = append([]model.FieldNote(nil), notes...)
	o.renderLocked()
}

// SetProject filters the rendered notes to projectID ("" shows none).
func (o *Overlay) SetProject(projectID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.projectID = projectID
	o.renderLocked()
}

// SetVisible shows or hides the existing-notes layer.
func (o *Overlay) SetVisible(show bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.show = show
	o.renderLocked()
}

// Visible reports whether the existing-notes layer is shown.
func (o *Overlay) Visible() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.show
}

// Rendered returns the notes currently drawn.
func (o *Overlay) Rendered() []model.FieldNote {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.visibleLocked()
}

func (o *Overlay) visibleLocked() []model.FieldNote {
	if !o.show || o.projectID == "" {
		return nil
	}
	var out []model.FieldNote
	for _, n := range o.notes {
		if n.ProjectID == o.projectID && n.Active() {
			out = append(out, n)
		}
	}
	return out
}

func (o *Overlay) renderLocked() {
	o.render.SetOverlayNotes(o.visibleLocked())
}
