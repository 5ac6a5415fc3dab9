// Package simrail implements railway.Provider against the SimRail panel API.
package simrail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/dispatchwatch/dispatchwatch/internal/provider/resilience"
	"github.com/dispatchwatch/dispatchwatch/internal/railway"
	"github.com/dispatchwatch/dispatchwatch/internal/telemetry"
)

const (
	// ProviderName identifies this provider.
	ProviderName = "simrail"

	// DefaultBaseURL is the SimRail panel API base URL.
	DefaultBaseURL = "https://panel.simrail.eu:8084"
)

// ClientConfig holds configuration for the SimRail client.
type ClientConfig struct {
	// BaseURL is the API base URL (optional, defaults to the public panel).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a single-attempt polling client.
	HTTPClient *resilience.Client

	// Metrics records per-request duration and outcome (optional).
	Metrics *telemetry.ProviderMetrics

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is a SimRail panel API client.
type Client struct {
	baseURL    string
	httpClient *resilience.Client
	metrics    *telemetry.ProviderMetrics
	logger     zerolog.Logger
}

// NewClient creates a new SimRail client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.PollingClientConfig(ProviderName, 10*time.Second))
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// GetServers fetches the server list, active or not.
func (c *Client) GetServers(ctx context.Context) (servers []railway.Server, err error) {
	defer c.observe("servers", time.Now(), &err)

	var resp envelope[panelServer]
	if err := c.getJSON(ctx, c.baseURL+"/servers-open", &resp); err != nil {
		return nil, err
	}

	servers = make([]railway.Server, 0, len(resp.Data))
	for i := range resp.Data {
		servers = append(servers, resp.Data[i].toServer())
	}

	return servers, nil
}

// GetStations fetches the stations of one server.
func (c *Client) GetStations(ctx context.Context, serverCode string) (stations []railway.Station, err error) {
	defer c.observe("stations", time.Now(), &err)

	endpoint := fmt.Sprintf("%s/stations-open?serverCode=%s", c.baseURL, url.QueryEscape(serverCode))

	var resp envelope[panelStation]
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	stations = make([]railway.Station, 0, len(resp.Data))
	for i := range resp.Data {
		stations = append(stations, resp.Data[i].toStation())
	}

	return stations, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{ ok() error }) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return out.ok()
}

func (c *Client) observe(operation string, start time.Time, err *error) {
	duration := time.Since(start)
	c.metrics.RecordRequest(ProviderName, operation, duration, *err)

	c.logger.Debug().
		Str("operation", operation).
		Dur("duration", duration).
		Err(*err).
		Msg("panel request finished")
}

// Panel API response structures.

type envelope[T any] struct {
	Result      bool   `json:"result"`
	Data        []T    `json:"data"`
	Count       int    `json:"count"`
	Description string `json:"description"`
}

func (e *envelope[T]) ok() error {
	if !e.Result {
		return fmt.Errorf("panel reported failure: %q", e.Description)
	}
	return nil
}

type panelServer struct {
	ServerCode   string `json:"ServerCode"`
	ServerName   string `json:"ServerName"`
	ServerRegion string `json:"ServerRegion"`
	IsActive     bool   `json:"IsActive"`
}

func (s *panelServer) toServer() railway.Server {
	return railway.Server{
		Code:   s.ServerCode,
		Name:   s.ServerName,
		Region: s.ServerRegion,
		Active: s.IsActive,
	}
}

// panelStation keeps only the fields the occupancy log reads.
type panelStation struct {
	Prefix       string            `json:"Prefix"`
	DispatchedBy []panelDispatcher `json:"DispatchedBy"`
}

type panelDispatcher struct {
	SteamID string `json:"SteamId"`
}

func (s *panelStation) toStation() railway.Station {
	station := railway.Station{Prefix: s.Prefix}
	for _, d := range s.DispatchedBy {
		station.DispatchedBy = append(station.DispatchedBy, railway.Dispatcher{SteamID: d.SteamID})
	}
	return station
}
