package mapcanvas

import (
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// BaseLayer names a switchable base layer.
type BaseLayer string

const (
	BaseLayerStreet    BaseLayer = "street"
	BaseLayerSatellite BaseLayer = "satellite"
)

// ErrUnknownLayer is returned for a base layer not in the catalog.
var ErrUnknownLayer = eris.New("mapcanvas: unknown base layer")

// ParseBaseLayer accepts "street" or "satellite" (case-insensitive). The
// original client names "osm" and "sat" are accepted as aliases.
func ParseBaseLayer(s string) (BaseLayer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "street", "osm":
		return BaseLayerStreet, nil
	case "satellite", "sat":
		return BaseLayerSatellite, nil
	default:
		return "", eris.Wrapf(ErrUnknownLayer, "mapcanvas: %q", s)
	}
}

// Other returns the layer the pill switch flips to.
func (b BaseLayer) Other() BaseLayer {
	if b == BaseLayerSatellite {
		return BaseLayerStreet
	}
	return BaseLayerSatellite
}

// LayerSpec describes one raster tile source.
type LayerSpec struct {
	// URL is a template with {z}, {x}, {y} and optionally {s} placeholders.
	URL           string   `yaml:"url" json:"-"`
	Subdomains    []string `yaml:"subdomains" json:"-"`
	Attribution   string   `yaml:"attribution" json:"attribution"`
	MaxNativeZoom int      `yaml:"max_native_zoom" json:"max_native_zoom"`
	Format        string   `yaml:"format" json:"format"`
	UserAgent     string   `yaml:"user_agent" json:"-"`
}

// TileURL expands the template for one tile.
func (l LayerSpec) TileURL(z, x, y int) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
		"{s}", l.subdomain(x, y),
	)
	return r.Replace(l.URL)
}

func (l LayerSpec) subdomain(x, y int) string {
	if len(l.Subdomains) == 0 {
		return ""
	}
	i := (x + y) % len(l.Subdomains)
	if i < 0 {
		i = -i
	}
	return l.Subdomains[i]
}

// ContentType returns the MIME type of the layer's tiles.
func (l LayerSpec) ContentType() string {
	switch l.Format {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// Catalog maps base layers to tile sources.
type Catalog map[BaseLayer]LayerSpec

// DefaultCatalog returns OpenStreetMap for street and Esri World Imagery for
// satellite. Note Esri's {y}/{x} order.
func DefaultCatalog() Catalog {
	return Catalog{
		BaseLayerStreet: {
			URL:           "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
			Subdomains:    []string{"a", "b", "c"},
			Attribution:   "&copy; OpenStreetMap contributors",
			MaxNativeZoom: 19,
			Format:        "png",
		},
		BaseLayerSatellite: {
			URL:           "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}",
			Attribution:   "Tiles &copy; Esri",
			MaxNativeZoom: 19,
			Format:        "jpg",
		},
	}
}

// Get returns the spec for layer.
func (c Catalog) Get(layer BaseLayer) (LayerSpec, error) {
	spec, ok := c[layer]
	if !ok {
		return LayerSpec{}, eris.Wrapf(ErrUnknownLayer, "mapcanvas: %q", layer)
	}
	return spec, nil
}

// LoadCatalog reads layer overrides from a YAML file shaped as
//
//	layers:
//	  street: {url: ..., max_native_zoom: 19}
//
// Layers absent from the file keep their defaults; fields left empty in
// the file inherit the default layer's values.
func LoadCatalog(path string) (Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "mapcanvas: read layers %s", path)
	}

	var wrapper struct {
		Layers map[string]LayerSpec `yaml:"layers"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "mapcanvas: parse layers")
	}

	for name, override := range wrapper.Layers {
		layer, err := ParseBaseLayer(name)
		if err != nil {
			return nil, err
		}
		spec := cat[layer]
		if override.URL != "" {
			spec.URL = override.URL
			spec.Subdomains = override.Subdomains
		}
		if override.Attribution != "" {
			spec.Attribution = override.Attribution
		}
		if override.MaxNativeZoom > 0 {
			spec.MaxNativeZoom = override.MaxNativeZoom
		}
		if override.Format != "" {
			spec.Format = override.Format
		}
		if override.UserAgent != "" {
			spec.UserAgent = override.UserAgent
		}
		cat[layer] = spec
	}

	for layer, spec := range cat {
		if !strings.Contains(spec.URL, "{z}") {
			return nil, eris.Errorf("mapcanvas: layer %s url %q has no {z} placeholder", layer, spec.URL)
		}
	}
	return cat, nil
}
