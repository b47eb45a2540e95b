package geolocate

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/fieldnotes/internal/model"
)

const defaultIPLookupURL = "http://ip-api.com/json/"

// ipLookupResponse is the ip-api.com JSON shape.
type ipLookupResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// IPOption configures an IPProvider.
type IPOption func(*IPProvider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) IPOption {
	return func(p *IPProvider) {
		p.httpClient = hc
	}
}

// WithRateLimit sets the lookup rate in requests per second.
func WithRateLimit(rps float64) IPOption {
	return func(p *IPProvider) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLookupURL overrides the lookup endpoint. The client IP is appended.
func WithLookupURL(u string) IPOption {
	return func(p *IPProvider) {
		p.lookupURL = u
	}
}

// IPProvider approximates the position from the client IP address.
type IPProvider struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	lookupURL  string
}

// NewIPProvider creates an IP geolocation provider.
func NewIPProvider(opts ...IPOption) *IPProvider {
	p := &IPProvider{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		limiter:    rate.NewLimiter(1, 1),
		lookupURL:  defaultIPLookupURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *IPProvider) Name() string { return "ip" }

func (p *IPProvider) Locate(ctx context.Context, req Request) (model.Coordinate, error) {
	ip := net.ParseIP(strings.TrimSpace(req.RemoteIP))
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
		return model.Coordinate{}, ErrUnavailable
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return model.Coordinate{}, eris.Wrap(err, "geolocate: ip rate limit")
	}

	reqURL := strings.TrimSuffix(p.lookupURL, "/") + "/" + url.PathEscape(ip.String())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return model.Coordinate{}, eris.Wrap(err, "geolocate: ip build request")
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return model.Coordinate{}, eris.Wrap(err, "geolocate: ip request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return model.Coordinate{}, eris.Errorf("geolocate: ip lookup returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return model.Coordinate{}, eris.Wrap(err, "geolocate: ip read body")
	}

	var out ipLookupResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return model.Coordinate{}, eris.Wrap(err, "geolocate: ip parse response")
	}
	if out.Status != "success" {
		zap.L().Debug("geolocate: ip lookup failed",
			zap.String("ip", ip.String()),
			zap.String("message", out.Message),
		)
		return model.Coordinate{}, ErrUnavailable
	}

	coord := model.Coordinate{Latitude: out.Lat, Longitude: out.Lon}
	if err := coord.Validate(); err != nil {
		return model.Coordinate{}, eris.Wrap(err, "geolocate: ip position")
	}
	return coord, nil
}
