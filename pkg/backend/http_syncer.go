package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/matchwise/location-agent/pkg/geolocate"
	"github.com/rs/zerolog"
)

// TokenSource supplies the current session token. An empty string means no
// authenticated session; the request is then sent without credentials and
// the backend decides.
type TokenSource interface {
	GetJWT() string
}

// HTTPSyncer delivers location updates to the backend's REST endpoint:
// POST {base}/location with a two-field JSON body. The endpoint is
// idempotent from the agent's perspective.
type HTTPSyncer struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPSyncer creates an HTTPSyncer for the given base URL.
func NewHTTPSyncer(baseURL string, tokens TokenSource, logger zerolog.Logger) *HTTPSyncer {
	return &HTTPSyncer{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  &http.Client{},
		logger:  logger,
	}
}

// Sync posts coords to the location endpoint.
func (h *HTTPSyncer) Sync(ctx context.Context, coords geolocate.Coordinates) error {
	body, err := json.Marshal(map[string]float64{
		"lat": coords.Latitude,
		"lon": coords.Longitude,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize location payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/location", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.tokens != nil {
		if token := h.tokens.GetJWT(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post location update: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("location update rejected, received status code: %d", resp.StatusCode)
	}

	h.logger.Debug().
		Int("status", resp.StatusCode).
		Msg("Location update accepted by backend")
	return nil
}
