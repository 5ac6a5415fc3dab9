package simrail_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchwatch/dispatchwatch/internal/provider/resilience"
	"github.com/dispatchwatch/dispatchwatch/internal/railway"
	"github.com/dispatchwatch/dispatchwatch/internal/railway/simrail"
	"github.com/dispatchwatch/dispatchwatch/internal/telemetry"
)

const serversBody = `{
	"result": true,
	"data": [
		{"ServerCode": "de1", "ServerName": "DE1 (Deutsch)", "ServerRegion": "Europe", "IsActive": false, "id": "a1"},
		{"ServerCode": "en1", "ServerName": "EN1 (English)", "ServerRegion": "Europe", "IsActive": true, "id": "a2"}
	],
	"count": 2,
	"description": "Data successfully loaded"
}`

const stationsBody = `{
	"result": true,
	"data": [
		{
			"Name": "Katowice",
			"Prefix": "KO",
			"DifficultyLevel": 5,
			"DispatchedBy": [
				{"ServerCode": "en1", "SteamId": "76561198000000001"},
				{"ServerCode": "en1", "SteamId": "76561198000000002"}
			],
			"id": "s1"
		},
		{
			"Name": "Sosnowiec Główny",
			"Prefix": "SG",
			"DifficultyLevel": 3,
			"DispatchedBy": [],
			"id": "s2"
		}
	],
	"count": 2,
	"description": "Data successfully loaded"
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *simrail.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	metrics, err := telemetry.NewProviderMetrics()
	require.NoError(t, err)

	return simrail.NewClient(simrail.ClientConfig{
		BaseURL:    server.URL,
		HTTPClient: resilience.NewClient(resilience.PollingClientConfig("simrail-test", time.Second)),
		Metrics:    metrics,
		Logger:     zerolog.Nop(),
	})
}

func TestClient_Name(t *testing.T) {
	client := simrail.NewClient(simrail.ClientConfig{Logger: zerolog.Nop()})
	assert.Equal(t, "simrail", client.Name())
}

func TestClient_GetServers(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/servers-open", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(serversBody))
	})

	servers, err := client.GetServers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []railway.Server{
		{Code: "de1", Name: "DE1 (Deutsch)", Region: "Europe", Active: false},
		{Code: "en1", Name: "EN1 (English)", Region: "Europe", Active: true},
	}, servers)
}

func TestClient_GetStations(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stations-open", r.URL.Path)
		assert.Equal(t, "en1", r.URL.Query().Get("serverCode"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(stationsBody))
	})

	stations, err := client.GetStations(context.Background(), "en1")
	require.NoError(t, err)
	require.Len(t, stations, 2)

	ko := stations[0]
	assert.Equal(t, "KO", ko.Prefix)
	assert.Equal(t, []string{"76561198000000001", "76561198000000002"}, ko.DispatcherIDs())

	sg := stations[1]
	assert.Equal(t, "SG", sg.Prefix)
	assert.Empty(t, sg.DispatchedBy)
}

func TestClient_GetStations_EscapesServerCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "en 1&x=y", r.URL.Query().Get("serverCode"))
		_, _ = w.Write([]byte(`{"result": true, "data": [], "count": 0}`))
	})

	stations, err := client.GetStations(context.Background(), "en 1&x=y")
	require.NoError(t, err)
	assert.Empty(t, stations)
}

func TestClient_UnexpectedStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.GetStations(context.Background(), "en1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code: 503")
}

func TestClient_DecodeError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result": true, "data": {"not": "a list"}}`))
	})

	_, err := client.GetStations(context.Background(), "en1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding response")
}

func TestClient_PanelReportsFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result": false, "data": [], "count": 0, "description": "server not found"}`))
	})

	_, err := client.GetStations(context.Background(), "xx1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server not found")
}

func TestClient_ContextCancelled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(serversBody))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetServers(ctx)
	require.Error(t, err)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		_, _ = w.Write([]byte(stationsBody))
	}))
	defer server.Close()
	defer close(release)

	client := simrail.NewClient(simrail.ClientConfig{
		BaseURL:    server.URL,
		HTTPClient: resilience.NewClient(resilience.PollingClientConfig("simrail-test", 50*time.Millisecond)),
		Logger:     zerolog.Nop(),
	})

	start := time.Now()
	stations, err := client.GetStations(context.Background(), "en1")

	require.Error(t, err)
	assert.Nil(t, stations)
	assert.Less(t, time.Since(start), 2*time.Second)
}
