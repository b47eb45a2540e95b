package mapcanvas

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBaseLayer(t *testing.T) {
	for in, want := range map[string]BaseLayer{
		"street": BaseLayerStreet, "OSM": BaseLayerStreet,
		"satellite": BaseLayerSatellite, " sat ": BaseLayerSatellite,
	} {
		got, err := ParseBaseLayer(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseBaseLayer("terrain")
	assert.ErrorIs(t, err, ErrUnknownLayer)
}

func TestLayerSpec_TileURL(t *testing.T) {
	cat := DefaultCatalog()

	street := cat[BaseLayerStreet].TileURL(16, 18000, 28000)
	assert.Regexp(t, `^https://[abc]\.tile\.openstreetmap\.org/16/18000/28000\.png$`, street)

	sat := cat[BaseLayerSatellite].TileURL(16, 18000, 28000)
	assert.Equal(t, "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/16/28000/18000", sat)
	assert.Equal(t, "image/jpeg", cat[BaseLayerSatellite].ContentType())
	assert.Equal(t, "image/png", cat[BaseLayerStreet].ContentType())
}

func TestLoadCatalog(t *testing.T) {
	cat, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Len(t, cat, 2)

	path := filepath.Join(t.TempDir(), "layers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
layers:
  street:
    url: "http://tiles.local/{z}/{x}/{y}.png"
    max_native_zoom: 18
`), 0o644))

	cat, err = LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, "http://tiles.local/1/2/3.png", cat[BaseLayerStreet].TileURL(1, 2, 3))
	assert.Equal(t, 18, cat[BaseLayerStreet].MaxNativeZoom)
	assert.Contains(t, cat[BaseLayerStreet].Attribution, "OpenStreetMap", "unset fields inherit defaults")
	assert.Equal(t, 19, cat[BaseLayerSatellite].MaxNativeZoom)
}

func TestLoadCatalog_Errors(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("layers:\n  terrain:\n    url: x\n"), 0o644))
	_, err = LoadCatalog(path)
	assert.ErrorIs(t, err, ErrUnknownLayer)

	require.NoError(t, os.WriteFile(path, []byte("layers:\n  street:\n    url: http://x/tile.png\n"), 0o644))
	_, err = LoadCatalog(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "{z}")
}
