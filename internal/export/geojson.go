package export

import (
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/fieldnotes/internal/model"
)

// FeatureCollection renders notes as GeoJSON points with the note columns
// as properties.
func FeatureCollection(notes []model.FieldNote) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(notes))}
	for _, n := range notes {
		r := toRow(n)
		props := map[string]any{
			"project":    r.Project,
			"project_id": n.ProjectID,
			"notes":      r.Notes,
			"photos":     n.Photos,
			"state":      r.State,
			"created_by": r.CreatedBy,
			"created_at": r.CreatedAt.Format(time.RFC3339),
		}
		if r.AssetType != "" {
			props["asset_type"] = r.AssetType
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         n.ID,
			Geometry:   geom.NewPointFlat(geom.XY, []float64{n.Longitude, n.Latitude}),
			Properties: props,
		})
	}
	return fc
}

// WriteGeoJSON writes notes as a FeatureCollection.
func WriteGeoJSON(w io.Writer, notes []model.FieldNote) error {
	data, err := FeatureCollection(notes).MarshalJSON()
	if err != nil {
		return eris.Wrap(err, "export: encode geojson")
	}
	if _, err := w.Write(data); err != nil {
		return eris.Wrap(err, "export: write geojson")
	}
	return nil
}
