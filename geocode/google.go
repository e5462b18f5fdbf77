package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"listing-geocoder/models"
)

const (
	googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"
	googleName       = "google"
)

type googleGeocodeResponse struct {
	Results []googleResult `json:"results"`
	Status  string         `json:"status"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress string `json:"formatted_address"`
}

// GoogleProvider geocodes through the Google Geocoding API.
type GoogleProvider struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewGoogleProvider creates a provider for the given API key.
func NewGoogleProvider(apiKey string, timeout time.Duration) *GoogleProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoogleProvider{
		endpoint:   googleGeocodeURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (g *GoogleProvider) Name() string { return googleName }

func (g *GoogleProvider) Geocode(ctx context.Context, query string) (*models.Coordinate, error) {
	params := url.Values{
		"address": {query},
		"key":     {g.apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google build request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ProviderError{Provider: googleName, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: googleName, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: googleName, Err: err}
	}

	var googleResp googleGeocodeResponse
	if err := json.Unmarshal(body, &googleResp); err != nil {
		return nil, eris.Wrap(err, "geocode: google parse response")
	}

	switch googleResp.Status {
	case "OK":
	case "OVER_QUERY_LIMIT":
		return nil, ErrRateLimited
	case "ZERO_RESULTS":
		return nil, ErrNotFound
	default:
		return nil, eris.Errorf("geocode: google status %s", googleResp.Status)
	}
	if len(googleResp.Results) == 0 {
		return nil, ErrNotFound
	}

	result := googleResp.Results[0]
	return &models.Coordinate{
		Lat:        result.Geometry.Location.Lat,
		Lon:        result.Geometry.Location.Lng,
		Quality:    googleLocationTypeToQuality(result.Geometry.LocationType),
		Provider:   googleName,
		ResolvedAt: time.Now().UTC(),
	}, nil
}

// googleLocationTypeToQuality maps Google's location_type to our quality taxonomy.
func googleLocationTypeToQuality(locType string) string {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return models.QualityRooftop
	case "RANGE_INTERPOLATED":
		return models.QualityRange
	case "GEOMETRIC_CENTER":
		return models.QualityCentroid
	default:
		return models.QualityApproximate
	}
}
