package geolocate

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"
)

// NetworkProvider resolves the device position through the Google Maps
// Geolocation API. In the default bounded-accuracy mode only the requester's
// IP is considered; HighAccuracy adds a WiFi access point scan to the
// request.
type NetworkProvider struct {
	client *maps.Client
}

// NewNetworkProvider creates a NetworkProvider with the given API key.
func NewNetworkProvider(apiKey string) (*NetworkProvider, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	return &NetworkProvider{
		client: c,
	}, nil
}

// GetPosition resolves the position via the Geolocation API, bounded by ctx.
func (g *NetworkProvider) GetPosition(ctx context.Context, opts PositionOptions) (Coordinates, error) {
	req := &maps.GeolocationRequest{
		ConsiderIP: true,
	}

	if opts.HighAccuracy {
		// A failed scan degrades to IP-only rather than failing the request.
		if wifiAPs, err := scanWiFiAccessPoints(ctx); err == nil {
			req.WiFiAccessPoints = wifiAPs
		}
	}

	resp, err := g.client.Geolocate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Coordinates{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Coordinates{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return Coordinates{
		Latitude:  resp.Location.Lat,
		Longitude: resp.Location.Lng,
	}, nil
}

// Close releases the provider.
func (g *NetworkProvider) Close() error {
	return nil
}
