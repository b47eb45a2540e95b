package mapcanvas

import (
	"github.com/sells-group/fieldnotes/internal/model"
)

// EventKind is a native surface event.
type EventKind int

const (
	EventMapClick EventKind = iota
	EventMarkerClick
	EventDragEnd
)

// MarkerKind tags what a marker represents.
type MarkerKind string

const (
	MarkerUser    MarkerKind = "user"
	MarkerPending MarkerKind = "pending"
	MarkerNote    MarkerKind = "note"
)

// MarkerID identifies a marker on one surface. Zero is never assigned.
type MarkerID uint64

// ListenerID identifies a registered native listener.
type ListenerID uint64

type marker struct {
	kind      MarkerKind
	pos       model.Coordinate
	draggable bool
	popup     string
	noteID    string
}

type listener struct {
	kind   EventKind
	target MarkerID
	fn     func(model.Coordinate)
}

// Surface is the headless stand-in for a stateful map rendering library:
// a view, a tile layer, markers with popups and native event listeners.
// It is not safe for concurrent use; Canvas serializes access.
type Surface struct {
	container string
	center    model.Coordinate
	zoom      int
	minZoom   int
	maxZoom   int
	layer     BaseLayer

	markers   map[MarkerID]*marker
	order     []MarkerID
	openPopup MarkerID

	listeners map[ListenerID]listener
	nextID    uint64
	released  bool
}

func newSurface(container string, center model.Coordinate, zoom, minZoom, maxZoom int) *Surface {
	s := &Surface{
		container: container,
		minZoom:   minZoom,
		maxZoom:   maxZoom,
		markers:   make(map[MarkerID]*marker),
		listeners: make(map[ListenerID]listener),
	}
	s.setView(center, zoom)
	return s
}

func (s *Surface) id() uint64 {
	s.nextID++
	return s.nextID
}

func (s *Surface) setView(center model.Coordinate, zoom int) {
	s.center = center
	s.zoom = clampZoom(zoom, s.minZoom, s.maxZoom)
}

func clampZoom(z, lo, hi int) int {
	if z < lo {
		return lo
	}
	if z > hi {
		return hi
	}
	return z
}

func (s *Surface) setTileLayer(layer BaseLayer) {
	s.layer = layer
}

func (s *Surface) addMarker(m *marker) MarkerID {
	id := MarkerID(s.id())
	s.markers[id] = m
	s.order = append(s.order, id)
	return id
}

func (s *Surface) marker(id MarkerID) (*marker, bool) {
	m, ok := s.markers[id]
	return m, ok
}

// removeMarker drops the marker, its listeners and its popup if open.
func (s *Surface) removeMarker(id MarkerID) {
	if _, ok := s.markers[id]; !ok {
		return
	}
	s.offTarget(id)
	if s.openPopup == id {
		s.openPopup = 0
	}
	delete(s.markers, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Surface) openPopupOn(id MarkerID) {
	if _, ok := s.markers[id]; ok {
		s.openPopup = id
	}
}

func (s *Surface) closePopup() {
	s.openPopup = 0
}

func (s *Surface) on(kind EventKind, target MarkerID, fn func(model.Coordinate)) ListenerID {
	id := ListenerID(s.id())
	s.listeners[id] = listener{kind: kind, target: target, fn: fn}
	return id
}

func (s *Surface) off(id ListenerID) {
	delete(s.listeners, id)
}

func (s *Surface) offTarget(target MarkerID) {
	for id, l := range s.listeners {
		if l.target == target {
			delete(s.listeners, id)
		}
	}
}

// handlers returns the listener functions for an event so the caller can
// invoke them after releasing its lock.
func (s *Surface) handlers(kind EventKind, target MarkerID) []func(model.Coordinate) {
	var fns []func(model.Coordinate)
	for _, l := range s.listeners {
		if l.kind == kind && l.target == target {
			fns = append(fns, l.fn)
		}
	}
	return fns
}

func (s *Surface) countKind(kind MarkerKind) int {
	n := 0
	for _, m := range s.markers {
		if m.kind == kind {
			n++
		}
	}
	return n
}

func (s *Surface) release() {
	s.listeners = map[ListenerID]listener{}
	s.markers = map[MarkerID]*marker{}
	s.order = nil
	s.openPopup = 0
	s.released = true
}
