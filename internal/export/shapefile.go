package export

import (
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldnotes/internal/model"
)

// dBase character fields hold at most 254 bytes.
const maxCharField = 254

// shapeFields mirrors header; dBase field names are capped at 10 bytes.
var shapeFields = []shp.Field{
	shp.StringField("ID", 36),
	shp.StringField("PROJECT", 100),
	shp.FloatField("LAT", 12, 7),
	shp.FloatField("LNG", 12, 7),
	shp.StringField("ASSET", 20),
	shp.StringField("NOTES", maxCharField),
	shp.StringField("PHOTOS", maxCharField),
	shp.StringField("STATE", 10),
	shp.StringField("CREATED_BY", 100),
	shp.StringField("CREATED_AT", 20),
}

// WriteShapefile writes notes as a WGS84 point shapefile at path (.shp,
// .shx and .dbf side by side). Text longer than a dBase field is cut.
func WriteShapefile(path string, notes []model.FieldNote) error {
	base := strings.TrimSuffix(path, ".shp")

	w, err := shp.Create(base+".shp", shp.POINT)
	if err != nil {
		return eris.Wrapf(err, "shapefile: create %s", path)
	}
	if err := w.SetFields(shapeFields); err != nil {
		w.Close()
		return eris.Wrap(err, "shapefile: set fields")
	}

	for _, n := range notes {
		r := toRow(n)
		idx := int(w.Write(&shp.Point{X: r.Longitude, Y: r.Latitude}))
		values := []any{
			clip(r.ID, 36),
			clip(r.Project, 100),
			r.Latitude,
			r.Longitude,
			r.AssetType,
			clip(strings.ReplaceAll(r.Notes, "\n", " "), maxCharField),
			clip(r.Photos, maxCharField),
			r.State,
			clip(r.CreatedBy, 100),
			r.CreatedAt.Format(time.RFC3339),
		}
		for field, v := range values {
			if err := w.WriteAttribute(idx, field, v); err != nil {
				w.Close()
				return eris.Wrapf(err, "shapefile: note %s field %d", r.ID, field)
			}
		}
	}
	w.Close()

	// go-shp names the table "<base>dbf" when the path carries .shp.
	if _, err := os.Stat(base + "dbf"); err == nil {
		if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
			return eris.Wrap(err, "shapefile: rename dbf")
		}
	}

	if err := os.WriteFile(base+".prj", []byte(wgs84PRJ), 0o644); err != nil {
		return eris.Wrap(err, "shapefile: write prj")
	}

	zap.L().Debug("shapefile: written", zap.String("path", base+".shp"), zap.Int("notes", len(notes)))
	return nil
}

const wgs84PRJ = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

// clip cuts s to at most n bytes on a rune boundary.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
