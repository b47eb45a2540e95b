// Package export writes field notes out for GIS and spreadsheet users:
// GeoJSON, XLSX workbooks and ESRI point shapefiles.
package export

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fieldnotes/internal/model"
)

// Format names an export file format.
type Format string

const (
	FormatGeoJSON   Format = "geojson"
	FormatXLSX      Format = "xlsx"
	FormatShapefile Format = "shp"
)

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = eris.New("export: unknown format")

// ParseFormat resolves a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatGeoJSON, FormatXLSX, FormatShapefile:
		return f, nil
	}
	return "", eris.Wrapf(ErrUnknownFormat, "export: %q", s)
}

// Ext returns the file extension for f, without the dot.
func (f Format) Ext() string {
	return string(f)
}

// Streams reports whether f can be written to an io.Writer. Shapefiles are
// a set of sibling files and need a path.
func (f Format) Streams() bool {
	return f != FormatShapefile
}

// Write streams notes to w in a streaming format.
func Write(ctx context.Context, w io.Writer, f Format, notes []model.FieldNote) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "export: cancelled")
	}
	switch f {
	case FormatGeoJSON:
		return WriteGeoJSON(w, notes)
	case FormatXLSX:
		return WriteXLSX(w, notes)
	case FormatShapefile:
		return eris.New("export: shapefiles are written to a path, not a stream")
	}
	return eris.Wrapf(ErrUnknownFormat, "export: %q", f)
}

// row is the flat record shared by the tabular formats.
type row struct {
	ID        string
	Project   string
	Latitude  float64
	Longitude float64
	AssetType string
	Notes     string
	Photos    string
	State     string
	CreatedBy string
	CreatedAt time.Time
}

var header = []string{"id", "project", "latitude", "longitude", "asset_type", "notes", "photos", "state", "created_by", "created_at"}

func toRow(n model.FieldNote) row {
	r := row{
		ID:        n.ID,
		Project:   n.ProjectName,
		Latitude:  n.Latitude,
		Longitude: n.Longitude,
		Notes:     n.Notes,
		Photos:    strings.Join(n.Photos, " "),
		State:     string(n.State),
		CreatedBy: n.CreatedByName,
		CreatedAt: n.CreatedAt.UTC(),
	}
	if r.Project == "" {
		r.Project = n.ProjectID
	}
	if n.AssetType != nil {
		r.AssetType = string(*n.AssetType)
	}
	if r.State == "" {
		r.State = string(model.NoteActive)
	}
	return r
}
