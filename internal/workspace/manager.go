// Package workspace wires one map workspace per operator: the canvas, the
// placement controller, the capture form, the project context and the note
// overlay. Sessions idle past their TTL are torn down.
package workspace

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldnotes/internal/capture"
	"github.com/sells-group/fieldnotes/internal/dupguard"
	"github.com/sells-group/fieldnotes/internal/geolocate"
	"github.com/sells-group/fieldnotes/internal/mapcanvas"
	"github.com/sells-group/fieldnotes/internal/metrics"
	"github.com/sells-group/fieldnotes/internal/model"
	"github.com/sells-group/fieldnotes/internal/placement"
	"github.com/sells-group/fieldnotes/internal/project"
	"github.com/sells-group/fieldnotes/internal/store"
)

var (
	// ErrSessionNotFound is returned for unknown or evicted sessions.
	ErrSessionNotFound = eris.New("workspace: session not found")
	// ErrForbidden is returned when an operator touches another's session.
	ErrForbidden = eris.New("workspace: session belongs to another operator")
)

// Deps configures a Manager.
type Deps struct {
	Store             store.Store
	Photos            capture.PhotoSink
	Resolver          *geolocate.Resolver
	Registry          *mapcanvas.Registry
	View              mapcanvas.ViewOptions
	Metrics           *metrics.Collector
	TTL               time.Duration
	UploadConcurrency int
	// AutoCancelOnSwitch abandons a placement when the project changes.
	AutoCancelOnSwitch bool
}

// CreateRequest carries what the client knows when opening a session.
type CreateRequest struct {
	Location  geolocate.Request
	ProjectID string
}

// Manager owns the live sessions, at most one per operator.
type Manager struct {
	deps  Deps
	guard *dupguard.Guard
	now   func() time.Time

	mu         sync.Mutex
	sessions   map[string]*Session
	byOperator map[string]string
}

// NewManager creates a Manager.
func NewManager(deps Deps) *Manager {
	if deps.Registry == nil {
		deps.Registry = mapcanvas.NewRegistry()
	}
	if deps.TTL <= 0 {
		deps.TTL = 30 * time.Minute
	}
	if deps.Resolver == nil {
		deps.Resolver = geolocate.NewResolver(model.DefaultLocation)
	}
	return &Manager{
		deps:       deps,
		guard:      dupguard.New(dupguard.StoreArchiver{Store: deps.Store}, deps.Metrics),
		now:        time.Now,
		sessions:   make(map[string]*Session),
		byOperator: make(map[string]string),
	}
}

// Create opens a session for op, replacing any session op already has.
// Projects and notes are loaded and the position is resolved; failures of
// any of these leave a notice and an empty or default state.
func (m *Manager) Create(ctx context.Context, op model.Operator, req CreateRequest) (*Session, error) {
	if op.ID == "" {
		return nil, capture.ErrNotAuthenticated
	}
	log := zap.L().With(zap.String("operator", op.ID))

	var notices []Notice
	warn := func(msg string) {
		notices = append(notices, Notice{Level: "warn", Message: msg, At: m.now().UTC()})
	}

	projects, err := m.deps.Store.ListProjects(ctx)
	if err != nil {
		log.Warn("workspace: load projects failed", zap.Error(err))
		warn(NoticeProjectsFailed)
	}
	loadNotes := func(ctx context.Context) ([]model.FieldNote, error) {
		return m.deps.Store.ListNotes(ctx, store.NoteFilter{})
	}
	notes, err := loadNotes(ctx)
	if err != nil {
		log.Warn("workspace: load notes failed", zap.Error(err))
		warn(NoticeNotesFailed)
	}
	loc := m.deps.Resolver.Resolve(ctx, req.Location)
	if loc.Fallback {
		warn(loc.Notice)
	}

	id := uuid.NewString()
	canvas := m.deps.Registry.Initialize("map-"+id, loc.Coordinate, m.deps.View)
	overlay := NewOverlay(canvas, notes)
	pc := project.New(nil)
	form := capture.NewForm(m.deps.Photos, m.deps.UploadConcurrency)

	now := m.now()
	s := &Session{
		ID:        id,
		Operator:  op,
		CreatedAt: now,
		canvas:    canvas,
		projects:  pc,
		overlay:   overlay,
		controller: placement.New(placement.Deps{
			Operator: op,
			Marker:   canvas,
			Projects: pc,
			Notes:    overlay,
			Store:    m.deps.Store,
			Guard:    m.guard,
			Metrics:  m.deps.Metrics,
		}),
		form:       form,
		resolver:   m.deps.Resolver,
		loadNotes:  loadNotes,
		autoCancel: m.deps.AutoCancelOnSwitch,
		lastSeen:   now,
		location:   loc,
		notices:    notices,
	}
	s.bind()

	pc.SetProjects(projects)
	if req.ProjectID != "" {
		if _, err := pc.Select(req.ProjectID); err != nil {
			log.Debug("workspace: requested project not found", zap.String("project_id", req.ProjectID))
		}
	}

	m.mu.Lock()
	var replaced *Session
	if prevID, ok := m.byOperator[op.ID]; ok {
		replaced = m.sessions[prevID]
		delete(m.sessions, prevID)
	}
	m.sessions[id] = s
	m.byOperator[op.ID] = id
	n := len(m.sessions)
	m.mu.Unlock()

	if replaced != nil {
		replaced.teardown()
	}
	m.deps.Metrics.SetSessions(n)
	log.Info("workspace: session opened",
		zap.String("session", id),
		zap.Int("projects", len(projects)),
		zap.Int("notes", len(notes)),
		zap.String("location_source", loc.Source),
	)
	return s, nil
}

// Get returns op's session id and marks it active.
func (m *Manager) Get(id string, op model.Operator) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, eris.Wrapf(ErrSessionNotFound, "workspace: %s", id)
	}
	if s.Operator.ID != op.ID {
		return nil, ErrForbidden
	}
	s.touch(m.now())
	return s, nil
}

// Close tears down op's session id.
func (m *Manager) Close(id string, op model.Operator) error {
	s, err := m.Get(id, op)
	if err != nil {
		return err
	}
	m.remove(s)
	return nil
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	if m.sessions[s.ID] != s {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.ID)
	if m.byOperator[s.Operator.ID] == s.ID {
		delete(m.byOperator, s.Operator.ID)
	}
	n := len(m.sessions)
	m.mu.Unlock()

	s.teardown()
	m.deps.Metrics.SetSessions(n)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep tears down sessions idle longer than the TTL and returns how many
// were evicted.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.deps.TTL)

	m.mu.Lock()
	var idle []*Session
	for _, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.remove(s)
		zap.L().Info("workspace: session evicted", zap.String("session", s.ID), zap.String("operator", s.Operator.ID))
	}
	return len(idle)
}

// Run sweeps idle sessions until ctx is done, then closes every session.
func (m *Manager) Run(ctx context.Context) {
	interval := m.deps.TTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// CloseAll tears down every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		m.remove(s)
	}
}
