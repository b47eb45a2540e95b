package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldnotes/internal/capture"
	"github.com/sells-group/fieldnotes/internal/dupguard"
	"github.com/sells-group/fieldnotes/internal/mapcanvas"
	"github.com/sells-group/fieldnotes/internal/model"
	"github.com/sells-group/fieldnotes/internal/placement"
	"github.com/sells-group/fieldnotes/internal/project"
	"github.com/sells-group/fieldnotes/internal/workspace"
)

var errBadRequest = eris.New("api: bad request")

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string           `json:"error"`
	Code      string           `json:"code"`
	Notice    string           `json:"notice,omitempty"`
	Duplicate *model.FieldNote `json:"duplicate,omitempty"`
}

type errorRule struct {
	target error
	status int
	code   string
	notice string
}

// errorRules maps sentinels to responses. First match wins.
var errorRules = []errorRule{
	{capture.ErrNotAuthenticated, http.StatusUnauthorized, "not_authenticated", ""},
	{workspace.ErrSessionNotFound, http.StatusNotFound, "session_not_found", ""},
	{workspace.ErrForbidden, http.StatusForbidden, "forbidden", ""},
	{placement.ErrNoProject, http.StatusUnprocessableEntity, "no_project", workspace.NoticeSelectProject},
	{placement.ErrNotPending, http.StatusUnprocessableEntity, "not_pending", "Click the map to place a marker first."},
	{placement.ErrNotConfirmed, http.StatusUnprocessableEntity, "not_confirmed", "Confirm the location first."},
	{placement.ErrSaveInFlight, http.StatusConflict, "save_in_flight", workspace.NoticeSaveInFlight},
	{dupguard.ErrOverwriteDeclined, http.StatusConflict, "overwrite_declined", ""},
	{capture.ErrUploadInProgress, http.StatusConflict, "upload_in_progress", ""},
	{capture.ErrUploadsPending, http.StatusConflict, "uploads_pending", "Wait for photo uploads to finish."},
	{capture.ErrNotesRequired, http.StatusBadRequest, "notes_required", "Notes are required."},
	{capture.ErrPhotoIndex, http.StatusBadRequest, "photo_index", ""},
	{model.ErrUnknownAssetType, http.StatusBadRequest, "unknown_asset_type", ""},
	{mapcanvas.ErrUnknownLayer, http.StatusBadRequest, "unknown_layer", ""},
	{project.ErrUnknownProject, http.StatusBadRequest, "unknown_project", ""},
	{errBadRequest, http.StatusBadRequest, "bad_request", ""},
}

// writeError maps err onto a status and writes the JSON error body.
// fallback is used for errors no rule matches.
func writeError(w http.ResponseWriter, r *http.Request, err error, fallback int) {
	var dup *workspace.DuplicateError
	if errors.As(err, &dup) {
		writeJSON(w, http.StatusConflict, errorBody{
			Error:     err.Error(),
			Code:      "duplicate",
			Notice:    "A note already exists at this location. Overwrite it?",
			Duplicate: &dup.Existing,
		})
		return
	}

	for _, rule := range errorRules {
		if eris.Is(err, rule.target) {
			writeJSON(w, rule.status, errorBody{Error: err.Error(), Code: rule.code, Notice: rule.notice})
			return
		}
	}

	zap.L().Error("api: request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeJSON(w, fallback, errorBody{Error: err.Error(), Code: "internal"})
}

func badRequest(msg string) error {
	return eris.Wrap(errBadRequest, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}
