// Package mapcanvas renders the placement workflow onto a headless map
// surface: the operator's position, a switchable base layer, existing notes
// and at most one draggable pending marker. It reports clicks and drags
// upward and never owns application state.
package mapcanvas

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sells-group/fieldnotes/internal/model"
)

// CoordHandler receives a coordinate from a map event.
type CoordHandler func(model.Coordinate)

// ViewOptions configures the initial view.
type ViewOptions struct {
	Zoom    int
	MinZoom int
	MaxZoom int
	Catalog Catalog
}

// DefaultViewOptions returns zoom 16 within [3, 19] and the default layers.
func DefaultViewOptions() ViewOptions {
	return ViewOptions{Zoom: 16, MinZoom: 3, MaxZoom: 19, Catalog: DefaultCatalog()}
}

func (o ViewOptions) withDefaults() ViewOptions {
	def := DefaultViewOptions()
	if o.MaxZoom <= 0 {
		o.MaxZoom = def.MaxZoom
	}
	if o.MinZoom <= 0 {
		o.MinZoom = def.MinZoom
	}
	if o.Zoom <= 0 {
		o.Zoom = def.Zoom
	}
	if o.Catalog == nil {
		o.Catalog = def.Catalog
	}
	return o
}

// Canvas owns one Surface bound to one container.
type Canvas struct {
	registry  *Registry
	container string
	opts      ViewOptions

	mu          sync.Mutex
	surface     *Surface
	base        BaseLayer
	user        MarkerID
	pending     MarkerID
	overlay     []MarkerID
	projectName string
	listeners   []ListenerID

	// Native listeners are registered once and read these cells at
	// dispatch time, so swapping handlers never re-registers.
	onClick   atomic.Pointer[CoordHandler]
	onDragEnd atomic.Pointer[CoordHandler]
}

func newCanvas(r *Registry, container string, center model.Coordinate, opts ViewOptions) *Canvas {
	c := &Canvas{
		registry:  r,
		container: container,
		opts:      opts,
		base:      BaseLayerStreet,
	}
	s := newSurface(container, center, opts.Zoom, opts.MinZoom, opts.MaxZoom)
	s.setTileLayer(BaseLayerStreet)
	c.user = s.addMarker(&marker{kind: MarkerUser, pos: center})

	c.listeners = append(c.listeners,
		s.on(EventMapClick, 0, c.dispatchClick),
		s.on(EventMarkerClick, c.user, c.dispatchClick),
	)
	c.surface = s
	return c
}

// Container returns the bound container id.
func (c *Canvas) Container() string {
	return c.container
}

// Alive reports whether the canvas has not been torn down.
func (c *Canvas) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surface != nil
}

// OnMapClick sets the click handler. Nil clears it.
func (c *Canvas) OnMapClick(fn CoordHandler) {
	storeCell(&c.onClick, fn)
}

// OnMarkerDragEnd sets the pending marker drag-end handler. Nil clears it.
func (c *Canvas) OnMarkerDragEnd(fn CoordHandler) {
	storeCell(&c.onDragEnd, fn)
}

func storeCell(cell *atomic.Pointer[CoordHandler], fn CoordHandler) {
	if fn == nil {
		cell.Store(nil)
		return
	}
	cell.Store(&fn)
}

func (c *Canvas) dispatchClick(coord model.Coordinate) {
	if h := c.onClick.Load(); h != nil {
		(*h)(coord)
	}
}

func (c *Canvas) dispatchDragEnd(coord model.Coordinate) {
	if h := c.onDragEnd.Load(); h != nil {
		(*h)(coord)
	}
}

// SetUserPosition moves the user marker and recenters at the current zoom.
func (c *Canvas) SetUserPosition(coord model.Coordinate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.surface == nil {
		return
	}
	if m, ok := c.surface.marker(c.user); ok {
		m.pos = coord
	}
	c.surface.setView(coord, c.surface.zoom)
}

// SetView pans and zooms. Zoom is clamped to the view bounds.
func (c *Canvas) SetView(center model.Coordinate, zoom int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.surface == nil {
		return
	}
	c.surface.setView(center, zoom)
}

// SetBaseLayer swaps the tile layer, keeping the center. Zoom is capped at
// the new layer's native maximum.
func (c *Canvas) SetBaseLayer(layer BaseLayer) error {
	spec, err := c.opts.Catalog.Get(layer)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.surface == nil {
		return nil
	}
	zoom := c.surface.zoom
	if spec.MaxNativeZoom > 0 && zoom > spec.MaxNativeZoom {
		zoom = spec.MaxNativeZoom
	}
	c.surface.setTileLayer(layer)
	c.surface.setView(c.surface.center, zoom)
	c.base = layer
	return nil
}

// ToggleBaseLayer flips between street and satellite and returns the new
// layer.
func (c *Canvas) ToggleBaseLayer() (BaseLayer, error) {
	c.mu.Lock()
	next := c.base.Other()
	c.mu.Unlock()
	if err := c.SetBaseLayer(next); err != nil {
		return "", err
	}
	return next, nil
}

// SetProjectName sets the project name shown in the pending marker popup.
func (c *Canvas) SetProjectName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projectName = name
	if c.surface == nil || c.pending == 0 {
		return
	}
	if m, ok := c.surface.marker(c.pending); ok {
		m.popup = pendingPopup(m.pos, name)
	}
}

// SetPendingMarker shows or clears the draggable pending marker. A non-nil
// coordinate while a pending marker exists is ignored; callers replace the
// marker by clearing first.
func (c *Canvas) SetPendingMarker(coord *model.Coordinate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.surface == nil {
		return
	}

	if coord == nil {
		c.surface.closePopup()
		if c.pending != 0 {
			c.surface.removeMarker(c.pending)
			c.pending = 0
		}
		return
	}
	if c.pending != 0 {
		return
	}

	id := c.surface.addMarker(&marker{
		kind:      MarkerPending,
		pos:       *coord,
		draggable: true,
		popup:     pendingPopup(*coord, c.projectName),
	})
	c.surface.openPopupOn(id)
	c.surface.on(EventDragEnd, id, c.dispatchDragEnd)
	c.pending = id
}

// HasPendingMarker reports whether a pending marker is shown.
func (c *Canvas) HasPendingMarker() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.surface != nil && c.pending != 0
}

// SetOverlayNotes replaces the overlay with one marker per active note.
func (c *Canvas) SetOverlayNotes(notes []model.FieldNote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.surface == nil {
		return
	}

	for _, id := range c.overlay {
		c.surface.removeMarker(id)
	}
	c.overlay = c.overlay[:0]

	for _, n := range notes {
		if !n.Active() {
			continue
		}
		id := c.surface.addMarker(&marker{
			kind:   MarkerNote,
			pos:    n.Coordinate(),
			popup:  notePopup(n),
			noteID: n.ID,
		})
		c.overlay = append(c.overlay, id)
	}
}

// Click simulates a native click on the map background.
func (c *Canvas) Click(coord model.Coordinate) {
	c.mu.Lock()
	if c.surface == nil {
		c.mu.Unlock()
		return
	}
	fns := c.surface.handlers(EventMapClick, 0)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(coord)
	}
}

// ClickUserMarker simulates a click on the user marker, which reports the
// user position as a map click.
func (c *Canvas) ClickUserMarker() {
	c.mu.Lock()
	if c.surface == nil {
		c.mu.Unlock()
		return
	}
	m, ok := c.surface.marker(c.user)
	if !ok {
		c.mu.Unlock()
		return
	}
	pos := m.pos
	fns := c.surface.handlers(EventMarkerClick, c.user)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(pos)
	}
}

// DragPendingMarker moves the pending marker and fires drag-end. It returns
// false when there is no pending marker to drag.
func (c *Canvas) DragPendingMarker(coord model.Coordinate) bool {
	c.mu.Lock()
	if c.surface == nil || c.pending == 0 {
		c.mu.Unlock()
		return false
	}
	m, ok := c.surface.marker(c.pending)
	if !ok {
		c.mu.Unlock()
		return false
	}
	m.pos = coord
	m.popup = pendingPopup(coord, c.projectName)
	fns := c.surface.handlers(EventDragEnd, c.pending)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(coord)
	}
	return true
}

// Teardown detaches the callback cells, deregisters listeners, clears
// marker and layer handles, releases the surface and unbinds the container.
// It is idempotent; every other method is a no-op afterwards.
func (c *Canvas) Teardown() {
	c.mu.Lock()
	if c.surface == nil {
		c.mu.Unlock()
		return
	}
	c.onClick.Store(nil)
	c.onDragEnd.Store(nil)

	s := c.surface
	for _, id := range c.listeners {
		s.off(id)
	}
	if c.pending != 0 {
		s.offTarget(c.pending)
	}
	c.listeners = nil
	c.user, c.pending, c.overlay = 0, 0, nil

	s.release()
	c.surface = nil
	c.mu.Unlock()

	if c.registry != nil {
		c.registry.unbind(c.container, c)
	}
	zap.L().Debug("mapcanvas: torn down", zap.String("container", c.container))
}
