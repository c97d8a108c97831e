package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchwise/location-agent/pkg/geolocate"
)

type staticTokenSource struct {
	token string
}

func (s staticTokenSource) GetJWT() string {
	return s.token
}

func TestHTTPSyncer_PostsLocation(t *testing.T) {
	var gotPath, gotAuth, gotContentType string
	var gotBody map[string]float64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	syncer := NewHTTPSyncer(server.URL+"/", staticTokenSource{token: "session-token"}, zerolog.Nop())
	coords := geolocate.Coordinates{Latitude: 12.9716, Longitude: 77.5946}

	require.NoError(t, syncer.Sync(context.Background(), coords))

	assert.Equal(t, "/location", gotPath)
	assert.Equal(t, "Bearer session-token", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, coords.Latitude, gotBody["lat"])
	assert.Equal(t, coords.Longitude, gotBody["lon"])
}

func TestHTTPSyncer_NoSessionOmitsAuthHeader(t *testing.T) {
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer server.Close()

	syncer := NewHTTPSyncer(server.URL, staticTokenSource{}, zerolog.Nop())

	require.NoError(t, syncer.Sync(context.Background(), geolocate.Coordinates{}))
	assert.Empty(t, gotAuth)
}

func TestHTTPSyncer_RejectedStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	syncer := NewHTTPSyncer(server.URL, nil, zerolog.Nop())

	err := syncer.Sync(context.Background(), geolocate.Coordinates{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestHTTPSyncer_CancelledContextIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	syncer := NewHTTPSyncer(server.URL, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, syncer.Sync(ctx, geolocate.Coordinates{}))
}
