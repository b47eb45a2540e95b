package mapcanvas

import (
	"bytes"
	"html/template"

	"github.com/sells-group/fieldnotes/internal/model"
)

var (
	notePopupTmpl = template.Must(template.New("note").Parse(
		`<div class="custom-popup">` +
			`<div class="popup-project-name">{{.ProjectName}}</div>` +
			`{{if .AssetType}}<div class="popup-asset">Asset: <strong>{{.AssetType}}</strong></div>{{end}}` +
			`<div class="popup-notes">{{.Notes}}</div>` +
			`<div class="popup-coords">{{.Coords}}</div>` +
			`<div class="popup-author"><span class="popup-author-label">By:</span><span>{{.Author}}</span></div>` +
			`</div>`))

	pendingPopupTmpl = template.Must(template.New("pending").Parse(
		`<div class="text-center">` +
			`<p class="font-semibold">New Marker</p>` +
			`<p class="text-xs">{{.Coords}}</p>` +
			`{{if .ProjectName}}<p class="text-xs">{{.ProjectName}}</p>{{end}}` +
			`<p class="text-xs">Drag to adjust</p>` +
			`</div>`))
)

type notePopupData struct {
	ProjectName string
	AssetType   string
	Notes       string
	Coords      string
	Author      string
}

type pendingPopupData struct {
	Coords      string
	ProjectName string
}

// notePopup renders the summary shown on an existing note's marker.
// Every field is HTML-escaped.
func notePopup(n model.FieldNote) string {
	d := notePopupData{
		ProjectName: n.ProjectName,
		Notes:       n.Notes,
		Coords:      n.Coordinate().String(),
		Author:      n.CreatedByName,
	}
	if n.AssetType != nil {
		d.AssetType = string(*n.AssetType)
	}
	return render(notePopupTmpl, d)
}

func pendingPopup(c model.Coordinate, projectName string) string {
	return render(pendingPopupTmpl, pendingPopupData{Coords: c.String(), ProjectName: projectName})
}

func render(t *template.Template, data any) string {
	var buf bytes.Buffer
	// The templates are static and the data is plain strings.
	_ = t.Execute(&buf, data)
	return buf.String()
}
