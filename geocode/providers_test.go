package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-geocoder/models"
)

func TestNominatimGeocode(t *testing.T) {
	var gotUA, gotQuery, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotQuery = r.URL.Query().Get("q")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"lat": "25.7741", "lon": "-80.1937", "place_rank": 30, "display_name": "Miami"}]`)
	}))
	defer srv.Close()

	p := NewNominatimProvider(srv.URL, "test-agent/1.0", time.Second)
	c, err := p.Geocode(context.Background(), "100 Biscayne Blvd, Miami")
	require.NoError(t, err)

	assert.Equal(t, "test-agent/1.0", gotUA)
	assert.Equal(t, "100 Biscayne Blvd, Miami", gotQuery)
	assert.Equal(t, "/search", gotPath)
	assert.InDelta(t, 25.7741, c.Lat, 0.0001)
	assert.InDelta(t, -80.1937, c.Lon, 0.0001)
	assert.Equal(t, models.QualityRooftop, c.Quality)
	assert.Equal(t, "nominatim", c.Provider)
	assert.False(t, c.ResolvedAt.IsZero())
}

func TestNominatimNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	_, err := NewNominatimProvider(srv.URL, "", time.Second).Geocode(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNominatimReverse(t *testing.T) {
	var gotPath string
	var gotParams map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotParams = r.URL.Query()
		_, _ = io.WriteString(w, `{
			"display_name": "Miami, Miami-Dade County, Florida, United States",
			"address": {
				"city": "Miami",
				"county": "Miami-Dade County",
				"state": "Florida",
				"ISO3166-2-lvl4": "US-FL",
				"country": "United States",
				"country_code": "us"
			}
		}`)
	}))
	defer srv.Close()

	c := models.Coordinate{Lat: 25.7617, Lon: -80.1918}
	place, err := NewNominatimProvider(srv.URL, "", time.Second).Reverse(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, "/reverse", gotPath)
	assert.Equal(t, "25.7617", gotParams["lat"][0])
	assert.Equal(t, "-80.1918", gotParams["lon"][0])
	assert.Equal(t, "10", gotParams["zoom"][0])

	assert.Equal(t, "Miami", place.City)
	assert.Equal(t, "Miami-Dade", place.County)
	assert.Equal(t, "FL", place.StateCode)
	assert.Equal(t, "US", place.CountryCode)
	assert.Equal(t, c, place.Coordinate)
	assert.NoError(t, place.Within("FL"))
	assert.NoError(t, place.Within("Florida"))
}

func TestNominatimReverseCityFallsBackToCounty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"display_name": "Monroe County, Georgia", "address": {"county": "Monroe County", "state": "Georgia", "ISO3166-2-lvl4": "US-GA"}}`)
	}))
	defer srv.Close()

	place, err := NewNominatimProvider(srv.URL, "", time.Second).Reverse(context.Background(), models.Coordinate{Lat: 33, Lon: -84})
	require.NoError(t, err)
	assert.Equal(t, "Monroe", place.City)
	assert.ErrorIs(t, place.Within("FL"), ErrOutsideState)
	assert.NoError(t, place.Within(""), "an empty state accepts anywhere")
}

func TestNominatimReverseOverWater(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"error": "Unable to geocode"}`)
	}))
	defer srv.Close()

	_, err := NewNominatimProvider(srv.URL, "", time.Second).Reverse(context.Background(), models.Coordinate{Lat: 25, Lon: -70})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNominatimStatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		rateLimit bool
		temporary bool
	}{
		{http.StatusTooManyRequests, true, false},
		{http.StatusServiceUnavailable, false, true},
		{http.StatusRequestTimeout, false, true},
		{http.StatusForbidden, false, false},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))

		_, err := NewNominatimProvider(srv.URL, "", time.Second).Geocode(context.Background(), "q")
		srv.Close()

		if tt.rateLimit {
			assert.ErrorIs(t, err, ErrRateLimited, "status=%d", tt.status)
			continue
		}
		var pe *ProviderError
		require.ErrorAs(t, err, &pe, "status=%d", tt.status)
		assert.Equal(t, tt.status, pe.StatusCode)
		assert.Equal(t, tt.temporary, pe.Temporary(), "status=%d", tt.status)
	}
}

func TestPlaceRankToQuality(t *testing.T) {
	tests := []struct {
		rank     int
		expected string
	}{
		{30, models.QualityRooftop},
		{26, models.QualityRange},
		{19, models.QualityCentroid},
		{16, models.QualityCentroid},
		{8, models.QualityApproximate},
		{0, models.QualityApproximate},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, placeRankToQuality(tt.rank), "rank=%d", tt.rank)
	}
}

func newTestGoogle(srvURL string) *GoogleProvider {
	g := NewGoogleProvider("test-key", time.Second)
	g.endpoint = srvURL
	return g
}

func TestGoogleGeocode_Rooftop(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"status": "OK",
			"results": [{
				"geometry": {
					"location": {"lat": 27.9506, "lng": -82.4572},
					"location_type": "ROOFTOP"
				},
				"formatted_address": "Tampa, FL, USA"
			}]
		}`)
	}))
	defer srv.Close()

	c, err := newTestGoogle(srv.URL).Geocode(context.Background(), "Tampa, FL")
	require.NoError(t, err)
	assert.Equal(t, "test-key", gotKey)
	assert.InDelta(t, 27.9506, c.Lat, 0.0001)
	assert.Equal(t, models.QualityRooftop, c.Quality)
	assert.Equal(t, "google", c.Provider)
}

func TestGoogleGeocode_Statuses(t *testing.T) {
	tests := []struct {
		body string
		want error
	}{
		{`{"status": "ZERO_RESULTS", "results": []}`, ErrNotFound},
		{`{"status": "OVER_QUERY_LIMIT", "results": []}`, ErrRateLimited},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, tt.body)
		}))
		_, err := newTestGoogle(srv.URL).Geocode(context.Background(), "q")
		srv.Close()
		assert.ErrorIs(t, err, tt.want)
	}
}

func TestGoogleGeocode_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestGoogle(srv.URL).Geocode(context.Background(), "q")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestGoogleLocationTypeToQuality(t *testing.T) {
	tests := []struct {
		locType  string
		expected string
	}{
		{"ROOFTOP", "rooftop"},
		{"RANGE_INTERPOLATED", "range"},
		{"GEOMETRIC_CENTER", "centroid"},
		{"APPROXIMATE", "approximate"},
		{"UNKNOWN", "approximate"},
		{"", "approximate"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, googleLocationTypeToQuality(tt.locType), "location_type=%s", tt.locType)
	}
}
