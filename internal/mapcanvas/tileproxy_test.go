package mapcanvas

import (
	"bytes"
	"context"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fieldnotes/internal/metrics"
	"github.com/sells-group/fieldnotes/internal/resilience"
)

func testCatalog(upstream string) Catalog {
	cat := DefaultCatalog()
	street := cat[BaseLayerStreet]
	street.URL = upstream + "/street/{z}/{x}/{y}.png"
	street.Subdomains = nil
	cat[BaseLayerStreet] = street
	sat := cat[BaseLayerSatellite]
	sat.URL = upstream + "/sat/{z}/{y}/{x}"
	cat[BaseLayerSatellite] = sat
	return cat
}

func TestTileProxy_Fetch_UpstreamAndCache(t *testing.T) {
	var calls atomic.Int32
	var gotPath atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		gotPath.Store(r.URL.Path)
		_, _ = w.Write([]byte("tile-bytes"))
	}))
	defer upstream.Close()

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	p := NewTileProxy(testCatalog(upstream.URL),
		WithTileCache(NewTileCache(10, time.Minute)),
		WithTileMetrics(m),
	)

	data, ct, err := p.Fetch(context.Background(), BaseLayerSatellite, 5, 10, 12)
	require.NoError(t, err)
	assert.Equal(t, "tile-bytes", string(data))
	assert.Equal(t, "image/jpeg", ct)
	assert.Equal(t, "/sat/5/12/10", gotPath.Load())

	_, _, err = p.Fetch(context.Background(), BaseLayerSatellite, 5, 10, 12)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second fetch is a cache hit")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tiles.WithLabelValues("satellite", "cache")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Tiles.WithLabelValues("satellite", "upstream")))
}

func TestTileProxy_ServeHTTP_BlankOnFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	p := NewTileProxy(testCatalog(upstream.URL))

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/street/3/1/2.png", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
	_, _, _, a := img.At(10, 10).RGBA()
	assert.Equal(t, uint32(0), a, "blank tile is transparent")
}

func TestTileProxy_BreakerStopsHammering(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	p := NewTileProxy(testCatalog(upstream.URL), WithBreakers(resilience.NewBreakers(resilience.BreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
		ShouldTrip:       resilience.UpstreamDown,
	})))

	for i := 0; i < 5; i++ {
		_, _, blank := p.Tile(context.Background(), BaseLayerStreet, 1, 0, 0)
		assert.True(t, blank)
	}
	assert.Equal(t, int32(2), calls.Load())

	_, _, err := p.Fetch(context.Background(), BaseLayerStreet, 1, 0, 0)
	assert.ErrorIs(t, err, resilience.ErrOpen)
}

func TestTileProxy_NotFoundDoesNotTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	breakers := resilience.NewBreakers(resilience.BreakerConfig{FailureThreshold: 1, ShouldTrip: resilience.UpstreamDown})
	p := NewTileProxy(testCatalog(upstream.URL), WithBreakers(breakers))

	_, _, blank := p.Tile(context.Background(), BaseLayerStreet, 1, 0, 0)
	assert.True(t, blank)
	assert.Equal(t, resilience.Closed, breakers.Get("street").State())
}

func TestTileProxy_ServeHTTP_BadPath(t *testing.T) {
	p := NewTileProxy(DefaultCatalog())
	for _, path := range []string{"/street/1/2", "/terrain/1/0/0", "/street/a/0/0", "/street/2/4/0", "/street/-1/0/0"} {
		rec := httptest.NewRecorder()
		p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestTileCache_LRUAndTTL(t *testing.T) {
	c := NewTileCache(2, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Put(BaseLayerStreet, 1, 0, 0, []byte("a"))
	c.Put(BaseLayerStreet, 1, 0, 1, []byte("b"))
	assert.NotNil(t, c.Get(BaseLayerStreet, 1, 0, 0)) // a is now most recent
	c.Put(BaseLayerStreet, 1, 1, 1, []byte("c"))     // evicts b

	assert.Nil(t, c.Get(BaseLayerStreet, 1, 0, 1))
	assert.Equal(t, []byte("a"), c.Get(BaseLayerStreet, 1, 0, 0))
	assert.Nil(t, c.Get(BaseLayerSatellite, 1, 0, 0), "layers are keyed separately")

	now = now.Add(2 * time.Minute)
	assert.Nil(t, c.Get(BaseLayerStreet, 1, 0, 0), "expired")

	st := c.Stats()
	assert.Equal(t, 2, st.MaxEntries)
	assert.Equal(t, int64(2), st.Hits)
	assert.Equal(t, int64(3), st.Misses)
}
