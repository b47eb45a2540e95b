package mapcanvas

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fieldnotes/internal/metrics"
	"github.com/sells-group/fieldnotes/internal/resilience"
)

const (
	tileSize    = 256
	maxTileZoom = 22
	maxTileSize = 4 << 20
)

var (
	blankOnce sync.Once
	blankPNG  []byte
)

// BlankTile returns a fully transparent 256x256 PNG.
func BlankTile() []byte {
	blankOnce.Do(func() {
		var buf bytes.Buffer
		_ = png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, tileSize, tileSize)))
		blankPNG = buf.Bytes()
	})
	return blankPNG
}

// TileProxy serves base-layer tiles from upstream tile servers. Upstream
// failures are answered with a blank tile; nothing is retried.
type TileProxy struct {
	catalog  Catalog
	client   *http.Client
	cache    *TileCache
	breakers *resilience.Breakers
	metrics  *metrics.Collector
}

// TileProxyOption configures a TileProxy.
type TileProxyOption func(*TileProxy)

// WithTileHTTPClient sets the upstream HTTP client.
func WithTileHTTPClient(hc *http.Client) TileProxyOption {
	return func(p *TileProxy) { p.client = hc }
}

// WithTileCache enables the LRU cache.
func WithTileCache(c *TileCache) TileProxyOption {
	return func(p *TileProxy) { p.cache = c }
}

// WithBreakers sets the per-layer circuit breakers.
func WithBreakers(b *resilience.Breakers) TileProxyOption {
	return func(p *TileProxy) { p.breakers = b }
}

// WithTileMetrics records tile outcomes.
func WithTileMetrics(m *metrics.Collector) TileProxyOption {
	return func(p *TileProxy) { p.metrics = m }
}

// NewTileProxy creates a proxy over the catalog's layers.
func NewTileProxy(catalog Catalog, opts ...TileProxyOption) *TileProxy {
	p := &TileProxy{
		catalog: catalog,
		client:  &http.Client{Timeout: 10 * time.Second},
		breakers: resilience.NewBreakers(resilience.BreakerConfig{
			ShouldTrip: resilience.UpstreamDown,
		}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch retrieves one tile from cache or upstream.
func (p *TileProxy) Fetch(ctx context.Context, layer BaseLayer, z, x, y int) ([]byte, string, error) {
	spec, err := p.catalog.Get(layer)
	if err != nil {
		return nil, "", err
	}

	if p.cache != nil {
		if data := p.cache.Get(layer, z, x, y); data != nil {
			p.metrics.Tile(string(layer), "cache", 0)
			return data, spec.ContentType(), nil
		}
	}

	start := time.Now()
	data, err := resilience.Do(ctx, p.breakers.Get(string(layer)), func(ctx context.Context) ([]byte, error) {
		return p.fetchUpstream(ctx, spec, z, x, y)
	})
	if err != nil {
		return nil, "", err
	}
	p.metrics.Tile(string(layer), "upstream", time.Since(start))

	if p.cache != nil {
		p.cache.Put(layer, z, x, y, data)
	}
	return data, spec.ContentType(), nil
}

func (p *TileProxy) fetchUpstream(ctx context.Context, spec LayerSpec, z, x, y int) ([]byte, error) {
	url := spec.TileURL(z, x, y)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "mapcanvas: create tile request")
	}
	ua := spec.UserAgent
	if ua == "" {
		ua = "fieldnotes/1.0"
	}
	req.Header.Set("User-Agent", ua)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "mapcanvas: fetch tile")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Wrap(&resilience.StatusError{URL: url, StatusCode: resp.StatusCode}, "mapcanvas: fetch tile")
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileSize))
	if err != nil {
		return nil, eris.Wrap(err, "mapcanvas: read tile body")
	}
	return data, nil
}

// Tile is Fetch with the blank-tile fallback. blank reports whether the
// fallback was used.
func (p *TileProxy) Tile(ctx context.Context, layer BaseLayer, z, x, y int) (data []byte, contentType string, blank bool) {
	data, ct, err := p.Fetch(ctx, layer, z, x, y)
	if err == nil {
		return data, ct, false
	}
	zap.L().Debug("mapcanvas: tile unavailable, serving blank",
		zap.String("layer", string(layer)),
		zap.Int("z", z), zap.Int("x", x), zap.Int("y", y),
		zap.Error(err),
	)
	p.metrics.Tile(string(layer), "blank", 0)
	return BlankTile(), "image/png", true
}

// ParseTilePath parses "{layer}/{z}/{x}/{y}" with an optional extension on
// y and checks the tile lies within the zoom level's grid.
func ParseTilePath(layerName, zs, xs, ys string) (BaseLayer, int, int, int, error) {
	layer, err := ParseBaseLayer(layerName)
	if err != nil {
		return "", 0, 0, 0, err
	}
	if dot := strings.IndexByte(ys, '.'); dot >= 0 {
		ys = ys[:dot]
	}
	z, errZ := strconv.Atoi(zs)
	x, errX := strconv.Atoi(xs)
	y, errY := strconv.Atoi(ys)
	if errZ != nil || errX != nil || errY != nil {
		return "", 0, 0, 0, eris.New("mapcanvas: tile coordinates must be integers")
	}
	if z < 0 || z > maxTileZoom {
		return "", 0, 0, 0, eris.Errorf("mapcanvas: zoom %d out of range", z)
	}
	n := 1 << z
	if x < 0 || x >= n || y < 0 || y >= n {
		return "", 0, 0, 0, eris.Errorf("mapcanvas: tile %d/%d outside zoom %d grid", x, y, z)
	}
	return layer, z, x, y, nil
}

// ServeHTTP serves paths of the form /{layer}/{z}/{x}/{y}[.ext]. Upstream
// failures answer 200 with a blank tile.
func (p *TileProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 {
		http.Error(w, "invalid tile path", http.StatusBadRequest)
		return
	}
	layer, z, x, y, err := ParseTilePath(parts[0], parts[1], parts[2], parts[3])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, ct, blank := p.Tile(r.Context(), layer, z, x, y)
	w.Header().Set("Content-Type", ct)
	if blank {
		w.Header().Set("Cache-Control", "no-store")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	}
	_, _ = w.Write(data)
}
