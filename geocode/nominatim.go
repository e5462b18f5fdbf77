package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"listing-geocoder/models"
)

const (
	nominatimURL       = "https://nominatim.openstreetmap.org"
	defaultUserAgent   = "listing-geocoder/1.0"
	nominatimName      = "nominatim"
	maxNominatimBodyKB = 512
)

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	PlaceRank   int    `json:"place_rank"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
}

type nominatimReverse struct {
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
	Error       string            `json:"error"`
}

// NominatimProvider geocodes through an OpenStreetMap Nominatim instance,
// forward for listing addresses and reverse for points. The public
// instance requires an identifying User-Agent.
type NominatimProvider struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewNominatimProvider creates a provider. Empty baseURL and userAgent use
// the public instance and a default agent.
func NewNominatimProvider(baseURL, userAgent string, timeout time.Duration) *NominatimProvider {
	if baseURL == "" {
		baseURL = nominatimURL
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NominatimProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *NominatimProvider) Name() string { return nominatimName }

func (p *NominatimProvider) Geocode(ctx context.Context, query string) (*models.Coordinate, error) {
	body, err := p.get(ctx, "/search", url.Values{
		"q":      {query},
		"format": {"json"},
		"limit":  {"1"},
	})
	if err != nil {
		return nil, err
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse response")
	}
	if len(places) == 0 {
		return nil, ErrNotFound
	}

	lat, errLat := strconv.ParseFloat(places[0].Lat, 64)
	lon, errLon := strconv.ParseFloat(places[0].Lon, 64)
	if errLat != nil || errLon != nil {
		return nil, eris.Errorf("geocode: nominatim invalid coordinates %q,%q", places[0].Lat, places[0].Lon)
	}

	return &models.Coordinate{
		Lat:        lat,
		Lon:        lon,
		Quality:    placeRankToQuality(places[0].PlaceRank),
		Provider:   nominatimName,
		ResolvedAt: time.Now().UTC(),
	}, nil
}

// Reverse looks up the city-level place containing c.
func (p *NominatimProvider) Reverse(ctx context.Context, c models.Coordinate) (*Place, error) {
	body, err := p.get(ctx, "/reverse", url.Values{
		"lat":            {strconv.FormatFloat(c.Lat, 'f', -1, 64)},
		"lon":            {strconv.FormatFloat(c.Lon, 'f', -1, 64)},
		"format":         {"json"},
		"addressdetails": {"1"},
		"zoom":           {"10"},
	})
	if err != nil {
		return nil, err
	}

	var rev nominatimReverse
	if err := json.Unmarshal(body, &rev); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse reverse response")
	}
	if rev.Error != "" || rev.Address == nil {
		return nil, ErrNotFound
	}

	a := rev.Address
	county := strings.TrimSuffix(a["county"], " County")
	city := firstNonEmpty(a["city"], a["town"], a["village"], a["municipality"], county)
	stateCode := a["state_code"]
	if iso := a["ISO3166-2-lvl4"]; stateCode == "" && iso != "" {
		stateCode = iso[strings.LastIndex(iso, "-")+1:]
	}

	return &Place{
		City:        city,
		County:      county,
		State:       a["state"],
		StateCode:   strings.ToUpper(stateCode),
		Country:     a["country"],
		CountryCode: strings.ToUpper(a["country_code"]),
		DisplayName: rev.DisplayName,
		Coordinate:  c,
	}, nil
}

func (p *NominatimProvider) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim build request")
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ProviderError{Provider: nominatimName, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, &ProviderError{Provider: nominatimName, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxNominatimBodyKB<<10))
	if err != nil {
		return nil, &ProviderError{Provider: nominatimName, Err: err}
	}
	return body, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// placeRankToQuality maps Nominatim's place_rank (4 country .. 30 house)
// onto the quality taxonomy.
func placeRankToQuality(rank int) string {
	switch {
	case rank >= 30:
		return models.QualityRooftop
	case rank >= 26:
		return models.QualityRange
	case rank >= 16:
		return models.QualityCentroid
	default:
		return models.QualityApproximate
	}
}
