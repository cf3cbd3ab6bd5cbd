// Package provider is a client for the mapping provider web services used by
// the resolver and the route calculator: directions, distance matrix,
// geocoding and place details.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/gosom/courier-routes/models"
)

const (
	DefaultBaseURL = "https://maps.googleapis.com/maps/api"

	directionsEndpoint     = "/directions/json"
	distanceMatrixEndpoint = "/distancematrix/json"
	geocodeEndpoint        = "/geocode/json"
	placeDetailsEndpoint   = "/place/details/json"

	// DefaultTimeout bounds every single provider call.
	DefaultTimeout = 5 * time.Second

	maxResponseBytes    = 4 << 20
	httpMaxIdleConns    = 10
	httpIdleConnTimeout = 30 * time.Second
)

type Config struct {
	APIKey   string
	BaseURL  string
	Language string
	Region   string
	Timeout  time.Duration
}

// Client calls the provider web services. Every call spends one unit of the
// budget found in the context and times out independently.
type Client struct {
	apiKey     string
	baseURL    string
	language   string
	region     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        httpMaxIdleConns,
		MaxIdleConnsPerHost: httpMaxIdleConns,
		IdleConnTimeout:     httpIdleConnTimeout,
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		language:   cfg.Language,
		region:     cfg.Region,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{Transport: transport},
		logger:     logger.Named("provider"),
	}
}

// Directions requests driving routes with alternatives enabled and returns
// every candidate in provider order.
func (c *Client) Directions(ctx context.Context, origin, destination string) ([]models.RouteCandidate, error) {
	params := url.Values{}
	params.Set("origin", origin)
	params.Set("destination", destination)
	params.Set("mode", "driving")
	params.Set("alternatives", "true")
	params.Set("units", "metric")

	var resp directionsResponse
	if err := c.get(ctx, directionsEndpoint, params, &resp); err != nil {
		return nil, err
	}

	if resp.Status != StatusOK {
		return nil, &StatusError{Endpoint: "directions", HTTPStatus: http.StatusOK, Status: resp.Status, Message: resp.ErrorMessage}
	}

	candidates := make([]models.RouteCandidate, 0, len(resp.Routes))

	for _, route := range resp.Routes {
		if len(route.Legs) == 0 {
			continue
		}

		cand := models.RouteCandidate{
			StartAddress: route.Legs[0].StartAddress,
			EndAddress:   route.Legs[len(route.Legs)-1].EndAddress,
		}

		for _, leg := range route.Legs {
			cand.DistanceMeters += leg.Distance.Value
			cand.DurationSeconds += leg.Duration.Value
		}

		if len(route.Legs) == 1 {
			cand.DistanceText = route.Legs[0].Distance.Text
			cand.DurationText = route.Legs[0].Duration.Text
		} else {
			cand.DistanceText = fmt.Sprintf("%.1f km", float64(cand.DistanceMeters)/1000)
			cand.DurationText = fmt.Sprintf("%d min", (cand.DurationSeconds+59)/60)
		}

		candidates = append(candidates, cand)
	}

	return candidates, nil
}

// DistanceMatrix requests a single origin/destination cell. A non-OK overall
// status is an error; the element status is returned for the caller to judge.
func (c *Client) DistanceMatrix(ctx context.Context, origin, destination string) (models.MatrixElement, error) {
	params := url.Values{}
	params.Set("origins", origin)
	params.Set("destinations", destination)
	params.Set("mode", "driving")
	params.Set("units", "metric")

	var resp distanceMatrixResponse
	if err := c.get(ctx, distanceMatrixEndpoint, params, &resp); err != nil {
		return models.MatrixElement{}, err
	}

	if resp.Status != StatusOK {
		return models.MatrixElement{}, &StatusError{Endpoint: "distancematrix", HTTPStatus: http.StatusOK, Status: resp.Status, Message: resp.ErrorMessage}
	}

	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return models.MatrixElement{}, &StatusError{Endpoint: "distancematrix", HTTPStatus: http.StatusOK, Status: resp.Status, Message: "empty matrix"}
	}

	el := resp.Rows[0].Elements[0]

	ans := models.MatrixElement{
		Status: el.Status,
	}

	if el.Distance != nil && el.Duration != nil {
		ans.HasDistance = true
		ans.DistanceMeters = el.Distance.Value
		ans.DistanceText = el.Distance.Text
		ans.DurationSeconds = el.Duration.Value
		ans.DurationText = el.Duration.Text
	}

	if len(resp.OriginAddresses) > 0 {
		ans.OriginAddress = resp.OriginAddresses[0]
	}

	if len(resp.DestinationAddresses) > 0 {
		ans.DestinationAddress = resp.DestinationAddresses[0]
	}

	return ans, nil
}

// Geocode returns the coordinates of every match for address. ZERO_RESULTS is
// an empty slice, not an error.
func (c *Client) Geocode(ctx context.Context, address string) ([]models.Coordinates, error) {
	params := url.Values{}
	params.Set("address", address)

	var resp geocodeResponse
	if err := c.get(ctx, geocodeEndpoint, params, &resp); err != nil {
		return nil, err
	}

	switch resp.Status {
	case StatusOK:
	case StatusZeroResults:
		return nil, nil
	default:
		return nil, &StatusError{Endpoint: "geocode", HTTPStatus: http.StatusOK, Status: resp.Status, Message: resp.ErrorMessage}
	}

	ans := make([]models.Coordinates, 0, len(resp.Results))
	for _, r := range resp.Results {
		ans = append(ans, models.Coordinates{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng})
	}

	return ans, nil
}

// PlaceDetails returns the location of a public place identifier.
func (c *Client) PlaceDetails(ctx context.Context, placeID string) (models.Coordinates, error) {
	params := url.Values{}
	params.Set("place_id", placeID)
	params.Set("fields", "geometry")

	var resp placeDetailsResponse
	if err := c.get(ctx, placeDetailsEndpoint, params, &resp); err != nil {
		return models.Coordinates{}, err
	}

	if resp.Status != StatusOK || resp.Result.Geometry == nil {
		return models.Coordinates{}, &StatusError{Endpoint: "place_details", HTTPStatus: http.StatusOK, Status: resp.Status, Message: resp.ErrorMessage}
	}

	loc := resp.Result.Geometry.Location

	return models.Coordinates{Lat: loc.Lat, Lng: loc.Lng}, nil
}

// get performs the call, retrying once when the first attempt timed out.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	const maxAttempts = 2

	var err error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = c.do(ctx, endpoint, params, out)
		if err == nil || !IsTimeout(err) {
			return err
		}

		c.logger.Warn("provider call timed out",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return err
}

func (c *Client) do(ctx context.Context, endpoint string, params url.Values, out any) error {
	if err := Spend(ctx); err != nil {
		return err
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}

	q.Set("key", c.apiKey)

	if c.language != "" {
		q.Set("language", c.language)
	}

	if c.region != "" {
		q.Set("region", c.region)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+endpoint+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return fmt.Errorf("provider: create request: %w", err)
	}

	t0 := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Classify(ctx, err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	c.logger.Debug("provider call",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(t0)),
	)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Endpoint: endpoint, HTTPStatus: resp.StatusCode}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		if ctx.Err() == nil && reqCtx.Err() != nil {
			return &TransportError{Timeout: true, Err: err}
		}

		return fmt.Errorf("provider: decode %s: %w", endpoint, err)
	}

	return nil
}
