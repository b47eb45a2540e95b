package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fieldnotes/internal/model"
)

type fakeSink struct {
	delay map[string]time.Duration
	fail  map[string]error
	block chan struct{}

	mu    sync.Mutex
	calls []string
}

func (s *fakeSink) UploadPhoto(ctx context.Context, _ model.Operator, f File) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, f.Name)
	s.mu.Unlock()

	if s.block != nil {
		<-s.block
	}
	if d := s.delay[f.Name]; d > 0 {
		time.Sleep(d)
	}
	if err := s.fail[f.Name]; err != nil {
		return "", err
	}
	return "https://cdn.example.com/" + f.Name, nil
}

var tech = model.Operator{ID: "u1", DisplayName: "Dana"}

func files(names ...string) []File {
	out := make([]File, len(names))
	for i, n := range names {
		out[i] = File{Name: n, Data: []byte("img")}
	}
	return out
}

func TestUpload_PartialFailureKeepsOrder(t *testing.T) {
	sink := &fakeSink{
		delay: map[string]time.Duration{"a.jpg": 30 * time.Millisecond},
		fail:  map[string]error{"b.jpg": errors.New("bucket unavailable")},
	}
	f := NewForm(sink, 3)
	f.SetNotes("leak found")

	results, err := f.Upload(context.Background(), tech, files("a.jpg", "b.jpg", "c.jpg"))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.Contains(t, results[1].Error, "bucket unavailable")
	assert.True(t, results[2].OK())

	assert.Equal(t, []string{
		"https://cdn.example.com/a.jpg",
		"https://cdn.example.com/c.jpg",
	}, f.Photos())

	payload, err := f.Submit()
	require.NoError(t, err)
	assert.Len(t, payload.Photos, 2)
	assert.Len(t, sink.calls, 3)
}

func TestUpload_SecondBatchRefused(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	f := NewForm(sink, 1)
	f.SetNotes("x")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.Upload(context.Background(), tech, files("a.jpg"))
	}()
	require.Eventually(t, f.Uploading, time.Second, 5*time.Millisecond)

	_, err := f.Upload(context.Background(), tech, files("b.jpg"))
	assert.ErrorIs(t, err, ErrUploadInProgress)

	_, err = f.Submit()
	assert.ErrorIs(t, err, ErrUploadsPending)

	close(sink.block)
	<-done
	assert.False(t, f.Uploading())
	assert.Len(t, f.Photos(), 1)

	_, err = f.Submit()
	assert.NoError(t, err)
}

func TestUpload_ResetDropsLateResults(t *testing.T) {
	sink := &fakeSink{block: make(chan struct{})}
	f := NewForm(sink, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.Upload(context.Background(), tech, files("a.jpg"))
	}()
	require.Eventually(t, f.Uploading, time.Second, 5*time.Millisecond)

	f.Reset()
	close(sink.block)
	<-done

	assert.Empty(t, f.Photos())
	assert.False(t, f.Uploading())
}

func TestSubmit(t *testing.T) {
	f := NewForm(&fakeSink{}, 0)

	_, err := f.Submit()
	assert.ErrorIs(t, err, ErrNotesRequired)

	f.SetNotes("   \n\t ")
	_, err = f.Submit()
	assert.ErrorIs(t, err, ErrNotesRequired)

	// "e" followed by a combining acute accent normalizes to U+00E9.
	f.SetNotes("  cafe\u0301 vault  ")
	payload, err := f.Submit()
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9 vault", payload.Notes)
	assert.Nil(t, payload.AssetType)
	assert.NotNil(t, payload.Photos)

	require.NoError(t, f.SetAssetType("Vault"))
	payload, err = f.Submit()
	require.NoError(t, err)
	require.NotNil(t, payload.AssetType)
	assert.Equal(t, model.AssetVault, *payload.AssetType)

	assert.ErrorIs(t, f.SetAssetType("Manhole"), model.ErrUnknownAssetType)
	require.NoError(t, f.SetAssetType(""))
	payload, err = f.Submit()
	require.NoError(t, err)
	assert.Nil(t, payload.AssetType)
}

func TestRemovePhoto(t *testing.T) {
	f := NewForm(&fakeSink{}, 2)
	_, err := f.Upload(context.Background(), tech, files("a.jpg", "b.jpg", "c.jpg"))
	require.NoError(t, err)

	require.NoError(t, f.RemovePhoto(1))
	assert.Equal(t, []string{
		"https://cdn.example.com/a.jpg",
		"https://cdn.example.com/c.jpg",
	}, f.Photos())

	assert.ErrorIs(t, f.RemovePhoto(2), ErrPhotoIndex)
	assert.ErrorIs(t, f.RemovePhoto(-1), ErrPhotoIndex)
}

func TestResetAndView(t *testing.T) {
	f := NewForm(&fakeSink{}, 2)
	f.SetNotes("n")
	require.NoError(t, f.SetAssetType("MST"))
	_, err := f.Upload(context.Background(), tech, files("a.jpg"))
	require.NoError(t, err)

	v := f.View()
	assert.Equal(t, "n", v.Notes)
	assert.Len(t, v.Photos, 1)
	assert.Equal(t, model.AssetTypes, v.AssetTypes)

	f.Reset()
	v = f.View()
	assert.Empty(t, v.Notes)
	assert.Nil(t, v.AssetType)
	assert.Empty(t, v.Photos)
}
