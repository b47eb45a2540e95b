package geolocate

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/fieldnotes/internal/model"
)

// FallbackNotice is shown when the default location is used.
const FallbackNotice = "Could not determine your location. Showing the default area."

// Result is the outcome of one resolution.
type Result struct {
	Coordinate model.Coordinate `json:"coordinate"`
	Source     string           `json:"source"`
	Fallback   bool             `json:"fallback"`
	Notice     string           `json:"notice,omitempty"`
}

// Resolver asks each provider in order and falls back to a default
// coordinate. It never returns an error.
type Resolver struct {
	providers []Provider
	fallback  model.Coordinate
}

// NewResolver creates a Resolver over the given providers.
func NewResolver(fallback model.Coordinate, providers ...Provider) *Resolver {
	return &Resolver{providers: providers, fallback: fallback}
}

// NewResolverForMode builds the provider chain for a configured mode:
// "client" uses the device position only, "ip" tries the device position
// then IP lookup, and "static" always answers with the fallback.
func NewResolverForMode(mode string, fallback model.Coordinate, ipOpts ...IPOption) *Resolver {
	switch mode {
	case "ip":
		return NewResolver(fallback, ClientProvider{}, NewIPProvider(ipOpts...))
	case "static":
		return NewResolver(fallback, StaticProvider{Coordinate: fallback})
	default:
		return NewResolver(fallback, ClientProvider{})
	}
}

// Resolve returns the first position a provider can produce.
func (r *Resolver) Resolve(ctx context.Context, req Request) Result {
	for _, p := range r.providers {
		coord, err := p.Locate(ctx, req)
		if err == nil {
			return Result{Coordinate: coord, Source: p.Name()}
		}
		if !errors.Is(err, ErrUnavailable) {
			zap.L().Warn("geolocate: provider failed",
				zap.String("provider", p.Name()),
				zap.Error(err),
			)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return Result{
		Coordinate: r.fallback,
		Source:     "default",
		Fallback:   true,
		Notice:     FallbackNotice,
	}
}
