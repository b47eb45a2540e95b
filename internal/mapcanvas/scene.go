package mapcanvas

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/fieldnotes/internal/model"
)

// MarkerView is a marker as a client should draw it.
type MarkerView struct {
	Kind      MarkerKind       `json:"kind"`
	Position  model.Coordinate `json:"position"`
	Draggable bool             `json:"draggable,omitempty"`
	Popup     string           `json:"popup,omitempty"`
	PopupOpen bool             `json:"popup_open,omitempty"`
	NoteID    string           `json:"note_id,omitempty"`
}

// Scene is an immutable snapshot of a canvas.
type Scene struct {
	Container   string           `json:"container"`
	Center      model.Coordinate `json:"center"`
	Zoom        int              `json:"zoom"`
	MinZoom     int              `json:"min_zoom"`
	MaxZoom     int              `json:"max_zoom"`
	BaseLayer   BaseLayer        `json:"base_layer"`
	Attribution string           `json:"attribution"`
	User        *MarkerView      `json:"user,omitempty"`
	Pending     *MarkerView      `json:"pending,omitempty"`
	Overlay     []MarkerView     `json:"overlay"`
}

// Scene snapshots the canvas. A torn-down canvas yields a zero Scene with
// only the container set.
func (c *Canvas) Scene() Scene {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc := Scene{Container: c.container, Overlay: []MarkerView{}}
	s := c.surface
	if s == nil {
		return sc
	}

	sc.Center = s.center
	sc.Zoom = s.zoom
	sc.MinZoom = s.minZoom
	sc.MaxZoom = s.maxZoom
	sc.BaseLayer = s.layer
	if spec, err := c.opts.Catalog.Get(s.layer); err == nil {
		sc.Attribution = spec.Attribution
	}

	for _, id := range s.order {
		m := s.markers[id]
		v := MarkerView{
			Kind:      m.kind,
			Position:  m.pos,
			Draggable: m.draggable,
			Popup:     m.popup,
			PopupOpen: s.openPopup == id,
			NoteID:    m.noteID,
		}
		switch m.kind {
		case MarkerUser:
			sc.User = &v
		case MarkerPending:
			sc.Pending = &v
		default:
			sc.Overlay = append(sc.Overlay, v)
		}
	}
	return sc
}

// Markers returns every marker in draw order: user, overlay, pending.
func (s Scene) Markers() []MarkerView {
	out := make([]MarkerView, 0, len(s.Overlay)+2)
	if s.User != nil {
		out = append(out, *s.User)
	}
	out = append(out, s.Overlay...)
	if s.Pending != nil {
		out = append(out, *s.Pending)
	}
	return out
}

// FeatureCollection renders the markers as GeoJSON points.
func (s Scene) FeatureCollection() *geojson.FeatureCollection {
	markers := s.Markers()
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(markers))}
	for _, m := range markers {
		props := map[string]any{
			"kind":       string(m.Kind),
			"draggable":  m.Draggable,
			"popup_open": m.PopupOpen,
		}
		if m.Popup != "" {
			props["popup"] = m.Popup
		}
		id := string(m.Kind)
		if m.NoteID != "" {
			props["note_id"] = m.NoteID
			id = m.NoteID
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         id,
			Geometry:   geom.NewPointFlat(geom.XY, []float64{m.Position.Longitude, m.Position.Latitude}),
			Properties: props,
		})
	}
	return fc
}

// sceneDocument is the wire form served to clients: the view plus a
// GeoJSON FeatureCollection of markers.
type sceneDocument struct {
	Container   string           `json:"container"`
	Center      model.Coordinate `json:"center"`
	Zoom        int              `json:"zoom"`
	MinZoom     int              `json:"min_zoom"`
	MaxZoom     int              `json:"max_zoom"`
	BaseLayer   BaseLayer        `json:"base_layer"`
	Attribution string           `json:"attribution"`
	Markers     json.RawMessage  `json:"markers"`
}

// MarshalGeoJSON encodes the view and its markers.
func (s Scene) MarshalGeoJSON() ([]byte, error) {
	markers, err := s.FeatureCollection().MarshalJSON()
	if err != nil {
		return nil, eris.Wrap(err, "mapcanvas: encode markers")
	}
	out, err := json.Marshal(sceneDocument{
		Container:   s.Container,
		Center:      s.Center,
		Zoom:        s.Zoom,
		MinZoom:     s.MinZoom,
		MaxZoom:     s.MaxZoom,
		BaseLayer:   s.BaseLayer,
		Attribution: s.Attribution,
		Markers:     markers,
	})
	return out, eris.Wrap(err, "mapcanvas: encode scene")
}
