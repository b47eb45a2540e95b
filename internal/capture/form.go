// Package capture holds the note capture form and the photo uploader behind
// it. The form collects note text, an optional asset type and the URLs of
// photos uploaded so far, and turns them into a model.NotePayload.
package capture

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/fieldnotes/internal/model"
)

var (
	// ErrNotesRequired is returned by Submit when the note text is blank.
	ErrNotesRequired = eris.New("capture: notes are required")
	// ErrUploadsPending is returned by Submit while a batch is uploading.
	ErrUploadsPending = eris.New("capture: photo uploads pending")
	// ErrUploadInProgress is returned when a second batch is started.
	ErrUploadInProgress = eris.New("capture: upload already in progress")
	// ErrPhotoIndex is returned by RemovePhoto for an out-of-range index.
	ErrPhotoIndex = eris.New("capture: photo index out of range")
)

const defaultUploadConcurrency = 3

// UploadResult reports the outcome for one file of a batch.
type UploadResult struct {
	Name  string `json:"name"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

// OK reports whether the file was stored.
func (r UploadResult) OK() bool {
	return r.Err == nil
}

// View is a snapshot of the form for rendering.
type View struct {
	Notes      string            `json:"notes"`
	AssetType  *model.AssetType  `json:"asset_type,omitempty"`
	Photos     []string          `json:"photos"`
	Uploading  bool              `json:"uploading"`
	AssetTypes []model.AssetType `json:"asset_types"`
}

// Form is the note capture form. It is safe for concurrent use; uploads run
// outside the lock.
type Form struct {
	sink  PhotoSink
	limit int

	mu         sync.Mutex
	notes      string
	assetType  *model.AssetType
	photos     []string
	uploading  bool
	generation uint64
}

// NewForm creates an empty form. limit bounds concurrent uploads per batch.
func NewForm(sink PhotoSink, limit int) *Form {
	if limit <= 0 {
		limit = defaultUploadConcurrency
	}
	return &Form{sink: sink, limit: limit, photos: []string{}}
}

// SetNotes replaces the note text.
func (f *Form) SetNotes(s string) {
	f.mu.Lock()
	f.notes = s
	f.mu.Unlock()
}

// SetAssetType sets the asset type; blank clears it.
func (f *Form) SetAssetType(s string) error {
	at, err := model.ParseAssetType(s)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.assetType = at
	f.mu.Unlock()
	return nil
}

// Photos returns a copy of the uploaded photo URLs in order.
func (f *Form) Photos() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.photos...)
}

// Uploading reports whether a batch is outstanding.
func (f *Form) Uploading() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploading
}

// View returns a snapshot of the form.
func (f *Form) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return View{
		Notes:      f.notes,
		AssetType:  f.assetType,
		Photos:     append([]string{}, f.photos...),
		Uploading:  f.uploading,
		AssetTypes: model.AssetTypes,
	}
}

// Upload sends each file to the sink with bounded concurrency. One failed
// file does not stop the others; successful URLs are appended in submission
// order. Results are returned per file in the same order. If the form is
// reset while the batch runs, the URLs are not appended.
func (f *Form) Upload(ctx context.Context, op model.Operator, files []File) ([]UploadResult, error) {
	f.mu.Lock()
	if f.uploading {
		f.mu.Unlock()
		return nil, ErrUploadInProgress
	}
	f.uploading = true
	gen := f.generation
	f.mu.Unlock()

	results := make([]UploadResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.limit)
	for i, file := range files {
		results[i].Name = file.Name
		g.Go(func() error {
			url, err := f.sink.UploadPhoto(gctx, op, file)
			if err != nil {
				results[i].Err = err
				results[i].Error = err.Error()
				return nil //nolint:nilerr // per-file failure is reported in results
			}
			results[i].URL = url
			return nil
		})
	}
	_ = g.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.generation != gen {
		zap.L().Debug("capture: dropping uploads for reset form", zap.Int("files", len(files)))
		return results, nil
	}
	f.uploading = false
	for _, r := range results {
		if r.OK() {
			f.photos = append(f.photos, r.URL)
		}
	}
	return results, nil
}

// RemovePhoto drops the photo at index i. The stored object is kept.
func (f *Form) RemovePhoto(i int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.photos) {
		return eris.Wrapf(ErrPhotoIndex, "capture: index %d of %d", i, len(f.photos))
	}
	f.photos = append(f.photos[:i], f.photos[i+1:]...)
	return nil
}

// Submit validates the form and returns its payload. The form is not
// cleared; the caller resets it once the note is saved.
func (f *Form) Submit() (model.NotePayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploading {
		return model.NotePayload{}, ErrUploadsPending
	}
	text := norm.NFC.String(strings.TrimSpace(f.notes))
	if text == "" {
		return model.NotePayload{}, ErrNotesRequired
	}
	return model.NotePayload{
		Notes:     text,
		Photos:    append([]string{}, f.photos...),
		AssetType: f.assetType,
	}, nil
}

// Reset clears the form and orphans any running batch.
func (f *Form) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = ""
	f.assetType = nil
	f.photos = []string{}
	f.uploading = false
	f.generation++
}
