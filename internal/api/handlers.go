package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fieldnotes/internal/capture"
	"github.com/sells-group/fieldnotes/internal/geolocate"
	"github.com/sells-group/fieldnotes/internal/model"
	"github.com/sells-group/fieldnotes/internal/workspace"
)

const maxJSONBody = 1 << 20

// coordBody is a coordinate with optional fields, so "not reported" is
// distinguishable from 0,0.
type coordBody struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (b coordBody) coordinate() (*model.Coordinate, error) {
	if b.Latitude == nil && b.Longitude == nil {
		return nil, nil
	}
	if b.Latitude == nil || b.Longitude == nil {
		return nil, badRequest("api: latitude and longitude must be given together")
	}
	c := model.Coordinate{Latitude: *b.Latitude, Longitude: *b.Longitude}
	if err := c.Validate(); err != nil {
		return nil, badRequest(err.Error())
	}
	return &c, nil
}

func (b coordBody) required() (model.Coordinate, error) {
	c, err := b.coordinate()
	if err != nil {
		return model.Coordinate{}, err
	}
	if c == nil {
		return model.Coordinate{}, badRequest("api: latitude and longitude are required")
	}
	return *c, nil
}

// decode reads an optional JSON body into v. An empty body leaves v as is.
func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return badRequest("api: invalid request body")
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) respondView(w http.ResponseWriter, r *http.Request, sess *workspace.Session, status int) {
	v, err := sess.View()
	if err != nil {
		writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.sessions.Len()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		coordBody
		ProjectID string `json:"project_id"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, r, err, http.StatusBadRequest)
		return
	}
	reported, err := body.coordinate()
	if err != nil {
		writeError(w, r, err, http.StatusBadRequest)
		return
	}

	sess, err := s.sessions.Create(r.Context(), operatorFrom(r.Context()), workspace.CreateRequest{
		Location:  geolocate.Request{Reported: reported, RemoteIP: remoteIP(r)},
		ProjectID: body.ProjectID,
	})
	if err != nil {
		writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.respondView(w, r, sess, http.StatusCreated)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	s.respondView(w, r, sess, http.StatusOK)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(chi.URLParam(r, "id"), operatorFrom(r.Context())); err != nil {
		writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScene(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	data, err := sess.Canvas().Scene().MarshalGeoJSON()
	if err != nil {
		writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	var body coordBody
	if err := decode(r, &body); err != nil {
		writeError(w, r, err, http.StatusBadRequest)
		return
	}
	reported, err := body.coordinate()
	if err != nil {
		writeError(w, r, err, http.StatusBadRequest)
		return
	}
	sess.Locate(r.Context(), geolocate.Request{Reported: reported, RemoteIP: remoteIP(r)})
	s.respondView(w, r, sess, http.StatusOK)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	// A failed reload keeps the current notes and leaves a notice.
	_ = sess.Reload(r.Context())
	s.respondView(w, r, sess, http.StatusOK)
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	var body struct {
		ProjectID string `json:"project_id"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, r, err, http.StatusBadRequest)
		return
	}
	if err := sess.SelectProject(body.ProjectID); err != nil {
		writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.respondView(w, r, sess, http.StatusOK)
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	var body struct {
		Show *bool `json:"show"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, r, err, http.StatusBadRequest)
		return
	}
	if body.Show == nil {
		writeError(w, r, badRequest("api: show is required"), http.StatusBadRequest)
		return
	}
	sess.ShowExisting(*body.Show)
	s.respondView(w, r, sess, http.StatusOK)
}

func (s *Server) handleBaseLayer(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	body := struct {
		Layer string `json:"layer"`
	}{Layer: "toggle"}
	if err := decode(r, &body); err != nil {
		writeError(w, r, err, http.StatusBadRequest)
		return
	}
	if _, err := sess.SetBaseLayer(body.Layer); err != nil {
		writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.respondView(w, r, sess, http.StatusOK)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	var body struct {
		coordBody
		UserMarker bool `json:"user_marker"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, r, err, http.StatusBadRequest)
		return
	}
	var coord model.Coordinate
	if !body.UserMarker {
		c, err := body.required()
		if err != nil {
			writeError(w, r, err, http.StatusBadRequest)
			return
		}
		coord = c
	}
	if err := sess.Click(coord, body.UserMarker); err != nil {
		writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.respondView(w, r, sess, http.StatusOK)
}

func (s *Server) handleDrag(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	var body coordBody
	if err := decode(r, &body); err != nil {
		writeError(w, r, err, http.StatusBadRequest)
		return
	}
	coord, err := body.required()
	if err != nil {
		writeError(w, r, err, http.StatusBadRequest)
		return
	}
	if err := sess.Drag(coord); err != nil {
		writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.respondView(w, r, sess, http.StatusOK)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	if _, err := sess.Confirm(); err != nil {
		writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.respondView(w, r, sess, http.StatusOK)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	if err := sess.Cancel(); err != nil {
		writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.respondView(w, r, sess, http.StatusOK)
}

func (s *Server) handleUploadPhotos(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, r, badRequest("api: expected multipart/form-data"), http.StatusBadRequest)
		return
	}
	headers := r.MultipartForm.File["photos"]
	if len(headers) == 0 {
		writeError(w, r, badRequest("api: no photos in field \"photos\""), http.StatusBadRequest)
		return
	}

	files := make([]capture.File, 0, len(headers))
	for _, fh := range headers {
		f, err := s.readPart(fh)
		if err != nil {
			writeError(w, r, err, http.StatusBadRequest)
			return
		}
		files = append(files, f)
	}

	results, err := sess.UploadPhotos(r.Context(), files)
	if err != nil {
		writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	v, err := sess.View()
	if err != nil {
		writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "session": v})
}

func (s *Server) readPart(fh *multipart.FileHeader) (capture.File, error) {
	if fh.Size > s.opts.MaxPhotoBytes {
		return capture.File{}, badRequest("api: " + fh.Filename + " exceeds the photo size limit")
	}
	src, err := fh.Open()
	if err != nil {
		return capture.File{}, eris.Wrapf(err, "api: open %s", fh.Filename)
	}
	defer src.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(src, s.opts.MaxPhotoBytes+1))
	if err != nil {
		return capture.File{}, eris.Wrapf(err, "api: read %s", fh.Filename)
	}
	if int64(len(data)) > s.opts.MaxPhotoBytes {
		return capture.File{}, badRequest("api: " + fh.Filename + " exceeds the photo size limit")
	}
	return capture.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (s *Server) handleRemovePhoto(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, r, badRequest("api: photo index must be an integer"), http.StatusBadRequest)
		return
	}
	if err := sess.RemovePhoto(idx); err != nil {
		writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	s.respondView(w, r, sess, http.StatusOK)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	var body workspace.SaveRequest
	if err := decode(r, &body); err != nil {
		writeError(w, r, err, http.StatusBadRequest)
		return
	}
	note, err := sess.Save(r.Context(), body)
	if err != nil {
		writeError(w, r, err, http.StatusBadGateway)
		return
	}
	v, err := sess.View()
	if err != nil {
		writeError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"note": note, "session": v})
}
