package workspace

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fieldnotes/internal/capture"
	"github.com/sells-group/fieldnotes/internal/dupguard"
	"github.com/sells-group/fieldnotes/internal/geolocate"
	"github.com/sells-group/fieldnotes/internal/mapcanvas"
	"github.com/sells-group/fieldnotes/internal/model"
	"github.com/sells-group/fieldnotes/internal/placement"
	"github.com/sells-group/fieldnotes/internal/store"
)

var (
	start   = model.Coordinate{Latitude: 25.9087, Longitude: -80.3087}
	dragged = model.Coordinate{Latitude: 25.9090, Longitude: -80.3090}
	dana    = model.Operator{ID: "u1", DisplayName: "Dana"}
)

type stubPhotos struct{}

func (stubPhotos) UploadPhoto(_ context.Context, _ model.Operator, f capture.File) (string, error) {
	return "https://photos.example.com/" + f.Name, nil
}

type env struct {
	store    *store.SQLiteStore
	registry *mapcanvas.Registry
	mgr      *Manager
	p1, p2   *model.Project
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ws.db"), store.DefaultTables())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	now := time.Now().UTC()
	p2, err := st.CreateProject(context.Background(), model.Project{ID: "P2", Name: "Okeechobee Rd", CreatedAt: now.Add(-time.Hour)})
	require.NoError(t, err)
	p1, err := st.CreateProject(context.Background(), model.Project{ID: "P1", Name: "Palmetto Fiber", CreatedAt: now})
	require.NoError(t, err)

	reg := mapcanvas.NewRegistry()
	mgr := NewManager(Deps{
		Store:              st,
		Photos:             stubPhotos{},
		Resolver:           geolocate.NewResolverForMode("client", model.DefaultLocation),
		Registry:           reg,
		View:               mapcanvas.DefaultViewOptions(),
		TTL:                time.Minute,
		UploadConcurrency:  2,
		AutoCancelOnSwitch: true,
	})
	return &env{store: st, registry: reg, mgr: mgr, p1: p1, p2: p2}
}

func (e *env) insert(t *testing.T, projectID string, c model.Coordinate) model.FieldNote {
	t.Helper()
	n, err := e.store.InsertNote(context.Background(), model.FieldNote{
		ProjectID: projectID, Latitude: c.Latitude, Longitude: c.Longitude, Notes: "existing", State: model.NoteActive,
	})
	require.NoError(t, err)
	return *n
}

func (e *env) open(t *testing.T) *Session {
	t.Helper()
	s, err := e.mgr.Create(context.Background(), dana, CreateRequest{
		Location: geolocate.Request{Reported: start.Ptr()},
	})
	require.NoError(t, err)
	return s
}

func overlayIDs(s *Session) []string {
	var ids []string
	for _, m := range s.Canvas().Scene().Overlay {
		ids = append(ids, m.NoteID)
	}
	return ids
}

func TestCreate_SelectsNewestProjectAndRendersItsNotes(t *testing.T) {
	e := newEnv(t)
	n1 := e.insert(t, "P1", model.Coordinate{Latitude: 25.91, Longitude: -80.31})
	e.insert(t, "P2", model.Coordinate{Latitude: 25.92, Longitude: -80.32})

	s := e.open(t)
	v, err := s.View()
	require.NoError(t, err)

	require.NotNil(t, v.Selected)
	assert.Equal(t, "P1", v.Selected.ID)
	assert.Len(t, v.Projects, 2)
	assert.Equal(t, "client", v.Location.Source)
	assert.Equal(t, start, s.Canvas().Scene().Center)
	assert.Equal(t, []string{n1.ID}, overlayIDs(s))
	assert.True(t, v.ShowExisting)
	assert.Nil(t, v.Form)
	assert.NotEmpty(t, v.Scene)
	assert.Equal(t, 1, e.registry.Len())
}

func TestCreate_FallbackLocationNotice(t *testing.T) {
	e := newEnv(t)
	s, err := e.mgr.Create(context.Background(), dana, CreateRequest{})
	require.NoError(t, err)

	v, err := s.View()
	require.NoError(t, err)
	assert.True(t, v.Location.Fallback)
	assert.Equal(t, model.DefaultLocation, s.Canvas().Scene().Center)
	require.NotEmpty(t, v.Notices)
	assert.Equal(t, geolocate.FallbackNotice, v.Notices[0].Message)
}

type failingStore struct {
	store.Store
}

func (failingStore) ListProjects(context.Context) ([]model.Project, error) {
	return nil, errors.New("timeout")
}

func (failingStore) ListNotes(context.Context, store.NoteFilter) ([]model.FieldNote, error) {
	return nil, errors.New("timeout")
}

func TestCreate_LoadFailuresBecomeNotices(t *testing.T) {
	mgr := NewManager(Deps{Store: failingStore{}, Photos: stubPhotos{}})
	s, err := mgr.Create(context.Background(), dana, CreateRequest{})
	require.NoError(t, err)

	v, err := s.View()
	require.NoError(t, err)
	assert.Empty(t, v.Projects)
	assert.Nil(t, v.Selected)

	var msgs []string
	for _, n := range v.Notices {
		msgs = append(msgs, n.Message)
	}
	assert.Contains(t, msgs, NoticeProjectsFailed)
	assert.Contains(t, msgs, NoticeNotesFailed)

	assert.ErrorIs(t, s.Click(start, false), placement.ErrNoProject)
	v, _ = s.View()
	assert.Equal(t, NoticeSelectProject, v.Notices[len(v.Notices)-1].Message)
}

func TestCreate_RequiresOperator(t *testing.T) {
	e := newEnv(t)
	_, err := e.mgr.Create(context.Background(), model.Operator{}, CreateRequest{})
	assert.ErrorIs(t, err, capture.ErrNotAuthenticated)
}

func TestSession_EndToEnd(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)

	require.NoError(t, s.Click(start, false))
	require.NoError(t, s.Drag(dragged))
	_, err := s.Confirm()
	require.NoError(t, err)

	results, err := s.UploadPhotos(context.Background(), []capture.File{{Name: "a.jpg", Data: []byte("x")}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	v, err := s.View()
	require.NoError(t, err)
	require.NotNil(t, v.Form)
	assert.Len(t, v.Form.Photos, 1)

	note, err := s.Save(context.Background(), SaveRequest{Notes: "leak found", AssetType: "Vault"})
	require.NoError(t, err)

	notes, err := e.store.ListNotes(context.Background(), store.NoteFilter{ProjectID: "P1"})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, note.ID, notes[0].ID)
	assert.True(t, model.SamePlace(dragged, notes[0].Coordinate()))
	assert.Equal(t, "Dana", notes[0].CreatedByName)
	assert.Equal(t, []string{"https://photos.example.com/a.jpg"}, notes[0].Photos)
	require.NotNil(t, notes[0].AssetType)
	assert.Equal(t, model.AssetVault, *notes[0].AssetType)

	v, err = s.View()
	require.NoError(t, err)
	assert.Equal(t, placement.StateIdle, v.Placement.State)
	assert.Nil(t, v.Form)
	assert.Nil(t, s.Canvas().Scene().Pending)
	assert.Equal(t, []string{note.ID}, overlayIDs(s))
}

func TestSession_DuplicatePromptAndOverwrite(t *testing.T) {
	e := newEnv(t)
	old := e.insert(t, "P1", start)
	s := e.open(t)

	require.NoError(t, s.Click(start, false))
	_, err := s.Confirm()
	require.NoError(t, err)

	_, err = s.Save(context.Background(), SaveRequest{Notes: "again"})
	var dupErr *DuplicateError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, old.ID, dupErr.Existing.ID)

	no := false
	_, err = s.Save(context.Background(), SaveRequest{Notes: "again", Overwrite: &no})
	assert.ErrorIs(t, err, dupguard.ErrOverwriteDeclined)
	assert.Equal(t, placement.StateConfirmed, s.controller.State())

	yes := true
	note, err := s.Save(context.Background(), SaveRequest{Notes: "again", Overwrite: &yes})
	require.NoError(t, err)

	all, err := e.store.ListNotes(context.Background(), store.NoteFilter{ProjectID: "P1", IncludeArchived: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, n := range all {
		if n.ID == old.ID {
			assert.Equal(t, model.NoteArchived, n.State)
		} else {
			assert.Equal(t, note.ID, n.ID)
			assert.True(t, n.Active())
		}
	}
	assert.Equal(t, []string{note.ID}, overlayIDs(s))
}

// gatedStore holds inserts until gate closes, then fails them with err.
type gatedStore struct {
	store.Store
	gate chan struct{}
	err  error
}

func (g *gatedStore) InsertNote(ctx context.Context, note model.FieldNote) (*model.FieldNote, error) {
	<-g.gate
	if g.err != nil {
		return nil, g.err
	}
	return g.Store.InsertNote(ctx, note)
}

func TestSession_SaveInFlightKeepsPlacementAndForm(t *testing.T) {
	e := newEnv(t)
	gated := &gatedStore{Store: e.store, gate: make(chan struct{}), err: errors.New("db down")}
	deps := e.mgr.deps
	deps.Store = gated
	mgr := NewManager(deps)
	s, err := mgr.Create(context.Background(), dana, CreateRequest{Location: geolocate.Request{Reported: start.Ptr()}})
	require.NoError(t, err)

	require.NoError(t, s.Click(start, false))
	_, err = s.Confirm()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Save(context.Background(), SaveRequest{Notes: "first", AssetType: "Vault"})
		done <- err
	}()
	require.Eventually(t, func() bool { return s.controller.View().Saving }, time.Second, 5*time.Millisecond)

	_, err = s.Save(context.Background(), SaveRequest{Notes: "second", AssetType: "MST"})
	assert.ErrorIs(t, err, placement.ErrSaveInFlight)
	fv := s.form.View()
	assert.Equal(t, "first", fv.Notes)
	require.NotNil(t, fv.AssetType)
	assert.Equal(t, model.AssetVault, *fv.AssetType)

	assert.ErrorIs(t, s.Click(dragged, false), placement.ErrSaveInFlight)
	v, err := s.View()
	require.NoError(t, err)
	assert.Equal(t, NoticeSaveInFlight, v.Notices[len(v.Notices)-1].Message)
	assert.Equal(t, placement.StateConfirmed, v.Placement.State)

	close(gated.gate)
	require.ErrorContains(t, <-done, "db down")

	v, err = s.View()
	require.NoError(t, err)
	assert.Equal(t, placement.StateConfirmed, v.Placement.State)
	require.NotNil(t, v.Placement.Placement.Confirmed)
	assert.Equal(t, start, *v.Placement.Placement.Confirmed)
	assert.Contains(t, v.Placement.LastError, "db down")
	require.NotNil(t, s.Canvas().Scene().Pending)
}

func TestSession_SaveGoesToConfirmedProjectWithoutAutoCancel(t *testing.T) {
	e := newEnv(t)
	deps := e.mgr.deps
	deps.AutoCancelOnSwitch = false
	mgr := NewManager(deps)
	s, err := mgr.Create(context.Background(), dana, CreateRequest{Location: geolocate.Request{Reported: start.Ptr()}})
	require.NoError(t, err)

	require.NoError(t, s.Click(start, false))
	_, err = s.Confirm()
	require.NoError(t, err)
	require.NoError(t, s.SelectProject("P2"))

	note, err := s.Save(context.Background(), SaveRequest{Notes: "vault lid"})
	require.NoError(t, err)
	assert.Equal(t, "P1", note.ProjectID)

	p2, err := e.store.ListNotes(context.Background(), store.NoteFilter{ProjectID: "P2"})
	require.NoError(t, err)
	assert.Empty(t, p2)
}

func TestSession_ProjectSwitchCancelsPlacement(t *testing.T) {
	e := newEnv(t)
	e.insert(t, "P2", model.Coordinate{Latitude: 25.92, Longitude: -80.32})
	s := e.open(t)

	require.NoError(t, s.Click(start, false))
	_, err := s.Confirm()
	require.NoError(t, err)

	require.NoError(t, s.SelectProject("P2"))
	v, err := s.View()
	require.NoError(t, err)
	assert.Equal(t, placement.StateIdle, v.Placement.State)
	assert.Nil(t, s.Canvas().Scene().Pending)
	assert.Len(t, overlayIDs(s), 1)

	require.NoError(t, s.SelectProject(""))
	assert.Empty(t, overlayIDs(s))
	assert.ErrorIs(t, s.Click(start, false), placement.ErrNoProject)
}

func TestSession_ReselectDoesNotDuplicateOverlay(t *testing.T) {
	e := newEnv(t)
	e.insert(t, "P1", model.Coordinate{Latitude: 25.91, Longitude: -80.31})
	e.insert(t, "P1", model.Coordinate{Latitude: 25.93, Longitude: -80.33})
	s := e.open(t)

	require.Len(t, overlayIDs(s), 2)
	require.NoError(t, s.SelectProject("P1"))
	require.NoError(t, s.SelectProject("P2"))
	require.NoError(t, s.SelectProject("P1"))
	require.NoError(t, s.Reload(context.Background()))
	assert.Len(t, overlayIDs(s), 2)

	s.ShowExisting(false)
	assert.Empty(t, overlayIDs(s))
	s.ShowExisting(true)
	assert.Len(t, overlayIDs(s), 2)
}

func TestSession_BaseLayerToggle(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)

	before := s.Canvas().Scene()
	layer, err := s.SetBaseLayer("toggle")
	require.NoError(t, err)
	assert.Equal(t, mapcanvas.BaseLayerSatellite, layer)

	after := s.Canvas().Scene()
	assert.Equal(t, before.Center, after.Center)
	assert.Equal(t, before.Zoom, after.Zoom)

	_, err = s.SetBaseLayer("terrain")
	assert.ErrorIs(t, err, mapcanvas.ErrUnknownLayer)
}

func TestSession_ClickUserMarker(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)

	require.NoError(t, s.Click(model.Coordinate{}, true))
	v, err := s.View()
	require.NoError(t, err)
	require.NotNil(t, v.Placement.Placement.Position)
	assert.Equal(t, start, *v.Placement.Placement.Position)
}

func TestSession_UploadRequiresConfirmedForm(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)

	_, err := s.UploadPhotos(context.Background(), []capture.File{{Name: "a.jpg", Data: []byte("x")}})
	assert.ErrorIs(t, err, placement.ErrNotConfirmed)
	assert.ErrorIs(t, s.Drag(dragged), placement.ErrNotPending)
}

func TestManager_OneSessionPerOperator(t *testing.T) {
	e := newEnv(t)
	first := e.open(t)
	second := e.open(t)

	assert.Equal(t, 1, e.mgr.Len())
	assert.Equal(t, 1, e.registry.Len())
	assert.False(t, first.Canvas().Alive())
	assert.True(t, second.Canvas().Alive())

	_, err := e.mgr.Get(first.ID, dana)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = e.mgr.Get(second.ID, model.Operator{ID: "u2"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestManager_CloseAndSweep(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)

	now := time.Now()
	e.mgr.now = func() time.Time { return now.Add(30 * time.Second) }
	assert.Zero(t, e.mgr.Sweep())

	e.mgr.now = func() time.Time { return now.Add(2 * time.Minute) }
	assert.Equal(t, 1, e.mgr.Sweep())
	assert.Zero(t, e.mgr.Len())
	assert.Zero(t, e.registry.Len())
	assert.False(t, s.Canvas().Alive())

	s2 := e.open(t)
	require.NoError(t, e.mgr.Close(s2.ID, dana))
	assert.False(t, s2.Canvas().Alive())
	assert.ErrorIs(t, e.mgr.Close(s2.ID, dana), ErrSessionNotFound)
}

func TestManager_RunClosesOnShutdown(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.mgr.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	assert.Zero(t, e.mgr.Len())
	assert.False(t, s.Canvas().Alive())
}
