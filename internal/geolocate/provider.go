// Package geolocate resolves the operator's current position, falling back
// to a fixed default when no provider can answer.
package geolocate

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fieldnotes/internal/model"
)

// ErrUnavailable is returned by a provider that has no position to offer.
var ErrUnavailable = eris.New("geolocate: position unavailable")

// Request carries what the client knows about its own position.
type Request struct {
	// Reported is the position the client device reported, if any.
	Reported *model.Coordinate
	// RemoteIP is the client address as seen by the server.
	RemoteIP string
}

// Provider produces a coordinate for a request.
type Provider interface {
	Name() string
	Locate(ctx context.Context, req Request) (model.Coordinate, error)
}

// ClientProvider trusts the device-reported position.
type ClientProvider struct{}

func (ClientProvider) Name() string { return "client" }

func (ClientProvider) Locate(_ context.Context, req Request) (model.Coordinate, error) {
	if req.Reported == nil {
		return model.Coordinate{}, ErrUnavailable
	}
	if err := req.Reported.Validate(); err != nil {
		return model.Coordinate{}, eris.Wrap(err, "geolocate: client position")
	}
	return *req.Reported, nil
}

// StaticProvider always answers with the same coordinate.
type StaticProvider struct {
	Coordinate model.Coordinate
}

func (StaticProvider) Name() string { return "static" }

func (p StaticProvider) Locate(context.Context, Request) (model.Coordinate, error) {
	return p.Coordinate, nil
}
