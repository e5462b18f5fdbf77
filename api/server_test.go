package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-geocoder/config"
	"listing-geocoder/models"
	"listing-geocoder/scraper"
	"listing-geocoder/services"
	"listing-geocoder/utils"
)

type stubCrawler struct {
	block bool
}

func (c *stubCrawler) Crawl(ctx context.Context, region models.Region, sink scraper.Sink, onPage func(int)) *scraper.CrawlResult {
	if c.block {
		<-ctx.Done()
		return &scraper.CrawlResult{Status: models.StatusCancelled, Reason: ctx.Err().Error()}
	}
	for i := 0; i < 3; i++ {
		sink.Ingest(&models.RawListing{
			ID:         fmt.Sprint(i),
			Source:     "stub",
			Address:    fmt.Sprintf("%d Duval St", i),
			Attributes: map[string]string{"price": "$100", "rating": "4.5", "title": "Stub"},
		})
	}
	onPage(1)
	return &scraper.CrawlResult{Status: models.StatusCompleted, PagesFetched: 1, ListingsEmitted: 3}
}

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, addr models.NormalizedAddress) (*models.Coordinate, error) {
	return &models.Coordinate{Lat: 24.55, Lon: -81.78, Quality: models.QualityRooftop, Provider: "stub"}, nil
}

func newTestServer(t *testing.T, c services.Crawler) (*Server, *services.CrawlManager) {
	t.Helper()
	logger := utils.NewNopLogger()
	m := services.NewCrawlManager(services.ManagerConfig{
		Crawler:           c,
		Resolver:          stubResolver{},
		Workers:           utils.NewWorkerPool(2),
		ResolutionTimeout: time.Second,
	}, logger)
	t.Cleanup(m.Close)
	return NewServer(m, config.DefaultRegions(), logger), m
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &stubCrawler{})
	rec := do(t, s, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestListRegions(t *testing.T) {
	s, _ := newTestServer(t, &stubCrawler{})
	rec := do(t, s, http.MethodGet, "/api/regions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Items []models.Region `json:"items"`
		Total int             `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 12, body.Total)
	assert.Equal(t, "clearwater", body.Items[0].Code)
}

func TestStartAndFetchCrawl(t *testing.T) {
	s, m := newTestServer(t, &stubCrawler{})

	rec := do(t, s, http.MethodPost, "/api/crawls", StartCrawlRequest{Region: "Key-West"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var started map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	handle := started["handle"]
	require.NotEmpty(t, handle)
	assert.Equal(t, "key-west", started["region"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := m.Wait(ctx, handle)
	require.NoError(t, err)

	rec = do(t, s, http.MethodGet, "/api/crawls/"+handle, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st models.CrawlStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, models.CrawlCompleted, st.State)
	require.NotNil(t, st.Dataset)
	assert.Len(t, st.Dataset.Listings, 3)

	rec = do(t, s, http.MethodGet, "/api/crawls/"+handle+"?listings=false", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Empty(t, st.Dataset.Listings)

	rec = do(t, s, http.MethodGet, "/api/crawls/"+handle+"/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report models.DatasetReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 3, report.ResolvedListings)
	assert.Equal(t, 100.0, report.AveragePrice)
}

func TestStartCrawlErrors(t *testing.T) {
	s, _ := newTestServer(t, &stubCrawler{})

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"unknown region", StartCrawlRequest{Region: "atlantis"}, http.StatusNotFound},
		{"missing region", StartCrawlRequest{}, http.StatusBadRequest},
		{"invalid custom", StartCrawlRequest{Custom: &models.Region{Name: "x"}}, http.StatusBadRequest},
		{"not json", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/api/crawls", tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestCustomRegion(t *testing.T) {
	s, _ := newTestServer(t, &stubCrawler{})
	rec := do(t, s, http.MethodPost, "/api/crawls", StartCrawlRequest{
		Custom: &models.Region{Code: "destin", Name: "Destin, FL", Locality: "Destin--FL"},
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCancelCrawl(t *testing.T) {
	s, m := newTestServer(t, &stubCrawler{block: true})

	rec := do(t, s, http.MethodPost, "/api/crawls", StartCrawlRequest{Region: "miami"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))

	rec = do(t, s, http.MethodGet, "/api/crawls/"+started["handle"]+"/report", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/crawls/"+started["handle"], nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := m.Wait(ctx, started["handle"])
	require.NoError(t, err)
	assert.Equal(t, models.CrawlCancelled, st.State)
}

func TestUnknownCrawl(t *testing.T) {
	s, _ := newTestServer(t, &stubCrawler{})
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/crawls/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/api/crawls/missing", nil).Code)
}
