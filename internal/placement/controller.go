// Package placement implements the marker placement state machine:
// Idle -> Pending -> Confirmed -> Idle. A map click starts a pending
// placement, confirming snapshots its position, and saving runs the
// duplicate guard and persists the note.
package placement

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldnotes/internal/dupguard"
	"github.com/sells-group/fieldnotes/internal/metrics"
	"github.com/sells-group/fieldnotes/internal/model"
	"github.com/sells-group/fieldnotes/internal/project"
)

// Guard violations. None of them change state.
var (
	ErrNoProject    = eris.New("placement: please select a project first")
	ErrNotPending   = eris.New("placement: no pending placement")
	ErrNotConfirmed = eris.New("placement: location not confirmed")
	ErrSaveInFlight = eris.New("placement: save in progress")
)

// State is the placement state.
type State string

const (
	StateIdle      State = "idle"
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
)

// Marker is the part of the map canvas the controller drives.
type Marker interface {
	SetPendingMarker(coord *model.Coordinate)
}

// NoteSet is the in-memory set of notes the guard checks against and the
// overlay renders.
type NoteSet interface {
	Snapshot() []model.FieldNote
	Prepend(note model.FieldNote)
	MarkArchived(id string)
}

// Inserter persists a new note.
type Inserter interface {
	InsertNote(ctx context.Context, note model.FieldNote) (*model.FieldNote, error)
}

// Deps wires a Controller.
type Deps struct {
	Operator model.Operator
	Marker   Marker
	Projects *project.Context
	Notes    NoteSet
	Store    Inserter
	Guard    *dupguard.Guard
	Metrics  *metrics.Collector
}

// Placement is the pending placement. Position follows the marker while
// pending; Confirmed and ProjectID are the snapshot taken by Confirm.
type Placement struct {
	Position    *model.Coordinate `json:"position"`
	Confirmed   *model.Coordinate `json:"confirmed"`
	ProjectID   string            `json:"project_id,omitempty"`
	FormVisible bool              `json:"form_visible"`
}

// View is a snapshot of the controller.
type View struct {
	State     State     `json:"state"`
	Placement Placement `json:"placement"`
	Saving    bool      `json:"saving"`
	LastError string    `json:"last_error,omitempty"`
}

// Controller is the placement state machine. All methods are safe for
// concurrent use; Save performs its I/O outside the lock.
type Controller struct {
	deps Deps

	mu         sync.Mutex
	state      State
	position   *model.Coordinate
	confirmed  *model.Coordinate
	project    *model.Project
	form       bool
	saving     bool
	lastErr    error
	generation uint64
}

// New creates an idle Controller.
func New(deps Deps) *Controller {
	return &Controller{deps: deps, state: StateIdle}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error of the most recent failed save.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// View returns a snapshot of the controller.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := View{
		State: c.state,
		Placement: Placement{
			Position:    copyCoord(c.position),
			Confirmed:   copyCoord(c.confirmed),
			FormVisible: c.form,
		},
		Saving: c.saving,
	}
	if c.project != nil {
		v.Placement.ProjectID = c.project.ID
	}
	if c.lastErr != nil {
		v.LastError = c.lastErr.Error()
	}
	return v
}

// Click starts a fresh pending placement at coord from any state. Any
// confirmed position is discarded and the form is hidden. It is refused
// while a save is in flight so a failed save still finds its placement.
func (c *Controller) Click(coord model.Coordinate) error {
	if _, ok := c.deps.Projects.Selected(); !ok {
		return ErrNoProject
	}
	if err := coord.Validate(); err != nil {
		return eris.Wrap(err, "placement: click")
	}

	c.mu.Lock()
	if c.saving {
		c.mu.Unlock()
		return ErrSaveInFlight
	}
	c.state = StatePending
	c.position = coord.Ptr()
	c.confirmed = nil
	c.project = nil
	c.form = false
	c.lastErr = nil
	c.generation++
	c.mu.Unlock()

	c.deps.Marker.SetPendingMarker(nil)
	c.deps.Marker.SetPendingMarker(coord.Ptr())
	return nil
}

// Drag moves the pending position. Outside Pending the marker is put back
// where the placement says it is.
func (c *Controller) Drag(coord model.Coordinate) error {
	c.mu.Lock()
	if c.state != StatePending {
		restore := copyCoord(c.confirmed)
		c.mu.Unlock()
		if restore != nil {
			c.deps.Marker.SetPendingMarker(nil)
			c.deps.Marker.SetPendingMarker(restore)
		}
		return ErrNotPending
	}
	c.position = coord.Ptr()
	c.mu.Unlock()
	return nil
}

// Confirm moves Pending to Confirmed and shows the form. The note is saved
// to the project selected at this point.
func (c *Controller) Confirm() (model.Coordinate, error) {
	proj, ok := c.deps.Projects.Selected()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePending || c.position == nil {
		return model.Coordinate{}, ErrNotPending
	}
	if !ok {
		return model.Coordinate{}, ErrNoProject
	}
	c.state = StateConfirmed
	c.confirmed = copyCoord(c.position)
	c.project = &proj
	c.form = true
	return *c.confirmed, nil
}

// Cancel returns to Idle and removes the pending marker. It is refused
// while a save is in flight.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if c.saving {
		c.mu.Unlock()
		return ErrSaveInFlight
	}
	wasActive := c.state != StateIdle
	c.resetLocked()
	c.mu.Unlock()

	c.deps.Marker.SetPendingMarker(nil)
	if wasActive {
		c.deps.Metrics.Placement("cancelled")
	}
	return nil
}

// Abandon returns to Idle unconditionally, orphaning any save in flight;
// the orphaned save's completion leaves the new placement alone.
// It is used when the selected project changes.
func (c *Controller) Abandon() {
	c.mu.Lock()
	wasActive := c.state != StateIdle
	c.resetLocked()
	c.mu.Unlock()

	c.deps.Marker.SetPendingMarker(nil)
	if wasActive {
		c.deps.Metrics.Placement("cancelled")
		zap.L().Debug("placement: abandoned on project change", zap.String("operator", c.deps.Operator.ID))
	}
}

func (c *Controller) resetLocked() {
	c.state = StateIdle
	c.position = nil
	c.confirmed = nil
	c.project = nil
	c.form = false
	c.saving = false
	c.lastErr = nil
	c.generation++
}

// Save persists payload at the confirmed position under the confirmed
// project. While the save runs the
// state stays Confirmed with Saving set and a second Save is refused. On
// success the note joins the note set and the controller returns to Idle.
// On failure the placement is kept and the error is available from
// LastError. A declined overwrite writes nothing and keeps the placement.
func (c *Controller) Save(ctx context.Context, payload model.NotePayload, confirmer dupguard.Confirmer) (*model.FieldNote, error) {
	c.mu.Lock()
	if c.saving {
		c.mu.Unlock()
		return nil, ErrSaveInFlight
	}
	if c.state != StateConfirmed || c.confirmed == nil || c.project == nil {
		c.mu.Unlock()
		return nil, ErrNotConfirmed
	}
	coord := *c.confirmed
	proj := *c.project
	gen := c.generation
	c.saving = true
	c.lastErr = nil
	c.mu.Unlock()

	log := zap.L().With(
		zap.String("operator", c.deps.Operator.ID),
		zap.String("project_id", proj.ID),
		zap.Stringer("coordinate", coord),
	)

	dup, err := c.deps.Guard.Check(ctx, coord, proj.ID, c.deps.Notes.Snapshot(), confirmer)
	if err != nil {
		if eris.Is(err, dupguard.ErrOverwriteDeclined) {
			c.finish(gen, nil)
			c.deps.Metrics.Placement("declined")
			log.Info("placement: overwrite declined")
			return nil, err
		}
		c.finish(gen, err)
		c.deps.Metrics.Placement("failed")
		log.Warn("placement: duplicate check failed", zap.Error(err))
		return nil, err
	}
	if dup != nil {
		c.deps.Notes.MarkArchived(dup.ID)
	}

	note := model.FieldNote{
		ProjectID:     proj.ID,
		ProjectName:   proj.Name,
		CreatedBy:     c.deps.Operator.ID,
		CreatedByName: c.deps.Operator.Name(),
		Latitude:      coord.Latitude,
		Longitude:     coord.Longitude,
		Notes:         payload.Notes,
		Photos:        payload.Photos,
		AssetType:     payload.AssetType,
		State:         model.NoteActive,
	}
	inserted, err := c.deps.Store.InsertNote(ctx, note)
	if err != nil {
		err = eris.Wrap(err, "placement: save note")
		c.finish(gen, err)
		c.deps.Metrics.Placement("failed")
		log.Error("placement: save failed", zap.Error(err))
		return nil, err
	}

	c.deps.Notes.Prepend(*inserted)

	c.mu.Lock()
	current := c.generation == gen
	if current {
		c.resetLocked()
	}
	c.mu.Unlock()

	if current {
		c.deps.Marker.SetPendingMarker(nil)
	}
	c.deps.Metrics.Placement("saved")
	log.Info("placement: note saved", zap.String("note_id", inserted.ID), zap.Bool("replaced", dup != nil))
	return inserted, nil
}

// finish clears the saving flag and records err, unless the placement was
// abandoned meanwhile. Abandon already cleared the flag.
func (c *Controller) finish(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen {
		c.saving = false
		c.lastErr = err
	}
}

func copyCoord(p *model.Coordinate) *model.Coordinate {
	if p == nil {
		return nil
	}
	return p.Ptr()
}
