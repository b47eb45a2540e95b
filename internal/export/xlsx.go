package export

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/fieldnotes/internal/model"
)

// SheetName is the worksheet notes are written to.
const SheetName = "Field Notes"

// WriteXLSX writes notes as a single-sheet workbook with a header row.
func WriteXLSX(w io.Writer, notes []model.FieldNote) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	hr := sheet.AddRow()
	for _, h := range header {
		hr.AddCell().SetString(h)
	}

	for _, n := range notes {
		r := toRow(n)
		xr := sheet.AddRow()
		xr.AddCell().SetString(r.ID)
		xr.AddCell().SetString(r.Project)
		xr.AddCell().SetFloat(r.Latitude)
		xr.AddCell().SetFloat(r.Longitude)
		xr.AddCell().SetString(r.AssetType)
		xr.AddCell().SetString(r.Notes)
		xr.AddCell().SetString(r.Photos)
		xr.AddCell().SetString(r.State)
		xr.AddCell().SetString(r.CreatedBy)
		xr.AddCell().SetDateTime(r.CreatedAt)
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write workbook")
	}
	return nil
}
