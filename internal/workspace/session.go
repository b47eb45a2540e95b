package workspace

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldnotes/internal/capture"
	"github.com/sells-group/fieldnotes/internal/dupguard"
	"github.com/sells-group/fieldnotes/internal/geolocate"
	"github.com/sells-group/fieldnotes/internal/mapcanvas"
	"github.com/sells-group/fieldnotes/internal/model"
	"github.com/sells-group/fieldnotes/internal/placement"
	"github.com/sells-group/fieldnotes/internal/project"
)

const maxNotices = 20

// Notice texts shown to the operator.
const (
	NoticeSelectProject  = "Please select a project first"
	NoticeNotesFailed    = "Could not load existing notes."
	NoticeProjectsFailed = "Could not load projects."
	NoticeSaveInFlight   = "Please wait for the note to finish saving"
)

// DuplicateError reports an active note at the confirmed position when the
// save request did not say whether to overwrite it.
type DuplicateError struct {
	Existing model.FieldNote
}

func (e *DuplicateError) Error() string {
	return "workspace: active note " + e.Existing.ID + " already at " + e.Existing.Coordinate().String()
}

// Notice is a non-blocking message for the operator.
type Notice struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// SaveRequest is the submitted capture form. Overwrite answers the
// duplicate prompt; nil means the operator has not been asked yet.
type SaveRequest struct {
	Notes     string `json:"notes"`
	AssetType string `json:"asset_type"`
	Overwrite *bool  `json:"overwrite"`
}

// View is a snapshot of a session for clients.
type View struct {
	ID           string           `json:"id"`
	Operator     model.Operator   `json:"operator"`
	Container    string           `json:"container"`
	Projects     []model.Project  `json:"projects"`
	Selected     *model.Project   `json:"selected_project,omitempty"`
	Location     geolocate.Result `json:"location"`
	ShowExisting bool             `json:"show_existing"`
	Placement    placement.View   `json:"placement"`
	Form         *capture.View    `json:"form,omitempty"`
	Notices      []Notice         `json:"notices"`
	Scene        json.RawMessage  `json:"scene"`
}

// Session is one operator's workspace: a mounted canvas, the placement
// controller, the capture form, the project context and the note overlay.
// State changes are serialized by mu; uploads and saves run outside it.
type Session struct {
	ID        string
	Operator  model.Operator
	CreatedAt time.Time

	canvas     *mapcanvas.Canvas
	projects   *project.Context
	overlay    *Overlay
	controller *placement.Controller
	form       *capture.Form
	resolver   *geolocate.Resolver
	loadNotes  func(ctx context.Context) ([]model.FieldNote, error)
	autoCancel bool

	mu       sync.Mutex
	lastSeen time.Time
	location geolocate.Result
	notices  []Notice
	eventErr error
}

func (s *Session) bind() {
	s.canvas.OnMapClick(func(c model.Coordinate) {
		s.eventErr = s.controller.Click(c)
	})
	s.canvas.OnMarkerDragEnd(func(c model.Coordinate) {
		s.eventErr = s.controller.Drag(c)
	})
	s.projects.OnChange(s.projectChanged)
}

func (s *Session) projectChanged(prev, next *model.Project) {
	id, name := "", ""
	if next != nil {
		id, name = next.ID, next.Name
	}
	s.canvas.SetProjectName(name)
	s.overlay.SetProject(id)
	if s.autoCancel && prev != nil {
		s.controller.Abandon()
		s.form.Reset()
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) noticeLocked(level, msg string) {
	s.notices = append(s.notices, Notice{Level: level, Message: msg, At: time.Now().UTC()})
	if len(s.notices) > maxNotices {
		s.notices = s.notices[len(s.notices)-maxNotices:]
	}
}

// Canvas returns the session's canvas.
func (s *Session) Canvas() *mapcanvas.Canvas {
	return s.canvas
}

// View snapshots the session.
func (s *Session) View() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scene, err := s.canvas.Scene().MarshalGeoJSON()
	if err != nil {
		return View{}, eris.Wrap(err, "workspace: marshal scene")
	}
	v := View{
		ID:           s.ID,
		Operator:     s.Operator,
		Container:    s.canvas.Container(),
		Projects:     s.projects.Projects(),
		Location:     s.location,
		ShowExisting: s.overlay.Visible(),
		Placement:    s.controller.View(),
		Notices:      append([]Notice{}, s.notices...),
		Scene:        scene,
	}
	if p, ok := s.projects.Selected(); ok {
		v.Selected = &p
	}
	if v.Placement.Placement.FormVisible {
		fv := s.form.View()
		v.Form = &fv
	}
	return v, nil
}

// Locate re-resolves the operator position and recenters the map. The
// result is dropped if the canvas was torn down meanwhile.
func (s *Session) Locate(ctx context.Context, req geolocate.Request) geolocate.Result {
	res := s.resolver.Resolve(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.canvas.Alive() {
		return res
	}
	s.location = res
	s.canvas.SetUserPosition(res.Coordinate)
	if res.Fallback {
		s.noticeLocked("warn", res.Notice)
	}
	return res
}

// SelectProject selects id, or clears the selection when id is empty.
func (s *Session) SelectProject(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		s.projects.Deselect()
		return nil
	}
	_, err := s.projects.Select(id)
	return err
}

// ShowExisting toggles the existing-notes layer.
func (s *Session) ShowExisting(show bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay.SetVisible(show)
}

// SetBaseLayer switches to layer, or toggles when layer is "toggle".
func (s *Session) SetBaseLayer(layer string) (mapcanvas.BaseLayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if layer == "toggle" {
		return s.canvas.ToggleBaseLayer()
	}
	bl, err := mapcanvas.ParseBaseLayer(layer)
	if err != nil {
		return "", err
	}
	return bl, s.canvas.SetBaseLayer(bl)
}

// Click reports a map click at coord. With onUser set the click lands on
// the user marker instead and coord is ignored.
func (s *Session) Click(coord model.Coordinate, onUser bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventErr = nil
	if onUser {
		s.canvas.ClickUserMarker()
	} else {
		s.canvas.Click(coord)
	}
	err := s.eventErr
	switch {
	case eris.Is(err, placement.ErrNoProject):
		s.noticeLocked("warn", NoticeSelectProject)
	case eris.Is(err, placement.ErrSaveInFlight):
		s.noticeLocked("warn", NoticeSaveInFlight)
	}
	return err
}

// Drag reports the pending marker dropped at coord.
func (s *Session) Drag(coord model.Coordinate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventErr = nil
	if !s.canvas.DragPendingMarker(coord) {
		return placement.ErrNotPending
	}
	return s.eventErr
}

// Confirm confirms the pending location and opens the form.
func (s *Session) Confirm() (model.Coordinate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controller.Confirm()
}

// Cancel abandons the placement and clears the form.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.controller.Cancel(); err != nil {
		return err
	}
	s.form.Reset()
	return nil
}

// UploadPhotos uploads a batch into the open form.
func (s *Session) UploadPhotos(ctx context.Context, files []capture.File) ([]capture.UploadResult, error) {
	if !s.controller.View().Placement.FormVisible {
		return nil, placement.ErrNotConfirmed
	}
	return s.form.Upload(ctx, s.Operator, files)
}

// RemovePhoto removes a photo from the open form.
func (s *Session) RemovePhoto(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form.RemovePhoto(index)
}

// Save submits the form under the project the placement was confirmed
// in. When an active note already sits at the confirmed position and
// req.Overwrite is nil, nothing is written and a *DuplicateError is
// returned so the client can ask the operator. A request arriving while a
// save is in flight is refused before it touches the form.
func (s *Session) Save(ctx context.Context, req SaveRequest) (*model.FieldNote, error) {
	s.mu.Lock()
	view := s.controller.View()
	if view.Saving {
		s.mu.Unlock()
		return nil, placement.ErrSaveInFlight
	}
	if view.State != placement.StateConfirmed || view.Placement.Confirmed == nil {
		s.mu.Unlock()
		return nil, placement.ErrNotConfirmed
	}
	if err := s.form.SetAssetType(req.AssetType); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.form.SetNotes(req.Notes)
	payload, err := s.form.Submit()
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if req.Overwrite == nil {
		if dup, found := dupguard.Find(*view.Placement.Confirmed, view.Placement.ProjectID, s.overlay.Snapshot()); found {
			s.mu.Unlock()
			return nil, &DuplicateError{Existing: *dup}
		}
	}
	s.mu.Unlock()

	accept := req.Overwrite != nil && *req.Overwrite
	note, err := s.controller.Save(ctx, payload, dupguard.Always(accept))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if !eris.Is(err, dupguard.ErrOverwriteDeclined) && !eris.Is(err, placement.ErrSaveInFlight) {
			s.noticeLocked("error", "Could not save the note. Please try again.")
		}
		return nil, err
	}
	if s.controller.State() == placement.StateIdle {
		s.form.Reset()
	}
	s.noticeLocked("info", "Note saved.")
	zap.L().Debug("workspace: note saved", zap.String("session", s.ID), zap.String("note_id", note.ID))
	return note, nil
}

// Reload refetches notes for the overlay. A failure keeps the current set
// and leaves a warning notice.
func (s *Session) Reload(ctx context.Context) error {
	list, err := s.loadNotes(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.noticeLocked("warn", NoticeNotesFailed)
		return err
	}
	s.overlay.Replace(list)
	return nil
}

func (s *Session) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canvas.Teardown()
	s.form.Reset()
}
