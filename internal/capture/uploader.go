package capture

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldnotes/internal/metrics"
	"github.com/sells-group/fieldnotes/internal/model"
	"github.com/sells-group/fieldnotes/internal/objectstore"
)

var (
	// ErrNotAuthenticated is returned when an upload has no operator id.
	ErrNotAuthenticated = eris.New("capture: not authenticated")
	// ErrEmptyPhoto is returned for a zero-byte file.
	ErrEmptyPhoto = eris.New("capture: empty photo")
	// ErrPhotoTooLarge is returned when a file exceeds the size limit.
	ErrPhotoTooLarge = eris.New("capture: photo too large")
)

// File is one photo submitted by the operator.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// PhotoSink stores one photo and returns its public URL.
type PhotoSink interface {
	UploadPhoto(ctx context.Context, op model.Operator, f File) (string, error)
}

// PhotoUploader writes photos to object storage under the operator's prefix.
type PhotoUploader struct {
	store    objectstore.Uploader
	metrics  *metrics.Collector
	maxBytes int64
	now      func() time.Time
	newID    func() uuid.UUID
}

// NewPhotoUploader creates a PhotoUploader. maxBytes <= 0 disables the size
// check.
func NewPhotoUploader(store objectstore.Uploader, m *metrics.Collector, maxBytes int64) *PhotoUploader {
	return &PhotoUploader{
		store:    store,
		metrics:  m,
		maxBytes: maxBytes,
		now:      time.Now,
		newID:    uuid.New,
	}
}

// UploadPhoto stores f and returns its public URL. Keys never collide, so an
// existing object is never overwritten.
func (u *PhotoUploader) UploadPhoto(ctx context.Context, op model.Operator, f File) (string, error) {
	if op.ID == "" {
		return "", ErrNotAuthenticated
	}
	if len(f.Data) == 0 {
		return "", eris.Wrapf(ErrEmptyPhoto, "capture: %s", f.Name)
	}
	if u.maxBytes > 0 && int64(len(f.Data)) > u.maxBytes {
		return "", eris.Wrapf(ErrPhotoTooLarge, "capture: %s is %d bytes, limit %d", f.Name, len(f.Data), u.maxBytes)
	}

	ext := PhotoExt(f.Name)
	key := ObjectKey(op.ID, u.now(), u.newID(), ext)
	contentType := f.ContentType
	if contentType == "" {
		contentType = "image/" + ext
	}

	start := time.Now()
	err := u.store.Upload(ctx, key, f.Data, contentType)
	u.metrics.Upload(err, time.Since(start))
	if err != nil {
		zap.L().Warn("capture: photo upload failed",
			zap.String("file", f.Name),
			zap.String("key", key),
			zap.Error(err),
		)
		return "", eris.Wrapf(err, "capture: upload %s", f.Name)
	}

	zap.L().Debug("capture: photo uploaded", zap.String("key", key), zap.Int("bytes", len(f.Data)))
	return u.store.PublicURL(key), nil
}

// ObjectKey builds "<userID>/<unixMillis>_<id>.<ext>".
func ObjectKey(userID string, at time.Time, id uuid.UUID, ext string) string {
	return fmt.Sprintf("%s/%d_%s.%s", userID, at.UnixMilli(), id, ext)
}

// PhotoExt returns the lower-cased extension of name, or "jpg" if it has none.
func PhotoExt(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if ext == "" {
		return "jpg"
	}
	return ext
}
