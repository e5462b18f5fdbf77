package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"listing-geocoder/config"
	"listing-geocoder/models"
	"listing-geocoder/utils"
)

type InsightService struct {
	cleaner *Cleaner
	costs   *config.CostModel
	logger  *utils.Logger
}

// NewInsightService creates the report generator. costs may be nil, in
// which case reports carry no regional multiplier.
func NewInsightService(costs *config.CostModel, logger *utils.Logger) *InsightService {
	return &InsightService{cleaner: NewCleaner(logger), costs: costs, logger: logger}
}

// Generate summarises a dataset: resolution coverage, price range, the
// regional cost level and the five best rated listings.
func (s *InsightService) Generate(ds *models.RegionDataset) *models.DatasetReport {
	report := &models.DatasetReport{
		RegionCode:        ds.Region.Code,
		Status:            ds.Status,
		ByQuality:         make(map[string]int),
		ByProvider:        make(map[string]int),
		UnresolvedReasons: make(map[string]int),
		PagesFetched:      ds.Meta.PagesFetched,
		FailedPages:       len(ds.Meta.FailedPages),
		DuplicatesDropped: ds.Meta.DuplicatesDropped,
	}

	if len(ds.Listings) == 0 {
		return report
	}
	report.TotalListings = len(ds.Listings)

	type rated struct {
		l      *models.GeocodedListing
		rating float64
	}
	var ratedListings []rated
	var prices []float64
	var multSum float64
	var multN int

	for i := range ds.Listings {
		gl := &ds.Listings[i]
		if gl.Resolved && gl.Coordinate != nil {
			report.ResolvedListings++
			report.ByQuality[gl.Coordinate.Quality]++
			report.ByProvider[gl.Coordinate.Provider]++
			if m, ok := s.costs.Multiplier(gl.Coordinate.Lat, gl.Coordinate.Lon); ok {
				multSum += m
				multN++
			}
		} else {
			report.UnresolvedReasons[gl.UnresolvedReason]++
		}
		if p := s.cleaner.parsePrice(gl.Listing.Attr("price")); p > 0 {
			prices = append(prices, p)
		}
		if r := s.cleaner.parseRating(gl.Listing.Attr("rating")); r > 0 {
			ratedListings = append(ratedListings, rated{gl, r})
		}
	}

	report.ResolutionRate = round2(float64(report.ResolvedListings) / float64(report.TotalListings))
	if multN > 0 {
		mult := multSum / float64(multN)
		report.RegionalMultiplier = round2(mult)
		report.CostArea = config.CostArea(mult)
	}

	if len(prices) > 0 {
		report.MinPrice, report.MaxPrice = prices[0], prices[0]
		var total float64
		for _, p := range prices {
			total += p
			if p < report.MinPrice {
				report.MinPrice = p
			}
			if p > report.MaxPrice {
				report.MaxPrice = p
			}
		}
		report.AveragePrice = round2(total / float64(len(prices)))
		report.MinPrice = round2(report.MinPrice)
		report.MaxPrice = round2(report.MaxPrice)
	}

	// Top 5 by rating
	sort.SliceStable(ratedListings, func(i, j int) bool {
		return ratedListings[i].rating > ratedListings[j].rating
	})
	for i := 0; i < len(ratedListings) && i < 5; i++ {
		report.TopRated = append(report.TopRated, ratedListings[i].l)
	}

	return report
}

func (s *InsightService) Print(w io.Writer, r *models.DatasetReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n", sep)
	fmt.Fprintf(w, "\033[1;35m  📍 %s GEOCODED LISTINGS\033[0m\n", strings.ToUpper(r.RegionCode))
	fmt.Fprintf(w, "\033[1;35m%s\033[0m\n\n", sep)

	fmt.Fprintf(w, "\033[1;33m  Overview\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Status               : \033[1m%s\033[0m\n", r.Status)
	fmt.Fprintf(w, "  Pages fetched        : \033[1m%d\033[0m (failed: %d)\n", r.PagesFetched, r.FailedPages)
	fmt.Fprintf(w, "  Listings             : \033[1m%d\033[0m (duplicates dropped: %d)\n", r.TotalListings, r.DuplicatesDropped)
	fmt.Fprintf(w, "  Resolved             : \033[1;32m%d\033[0m (%.0f%%)\n", r.ResolvedListings, r.ResolutionRate*100)
	if r.CostArea != "" {
		fmt.Fprintf(w, "  Regional multiplier  : \033[1m%.2f\033[0m (%s cost area)\n", r.RegionalMultiplier, r.CostArea)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Price Statistics (per night)\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.AveragePrice > 0 {
		fmt.Fprintf(w, "  Average price : \033[1;32m$%.2f\033[0m\n", r.AveragePrice)
		fmt.Fprintf(w, "  Minimum price : \033[1;32m$%.2f\033[0m\n", r.MinPrice)
		fmt.Fprintf(w, "  Maximum price : \033[1;32m$%.2f\033[0m\n", r.MaxPrice)
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\033[1;33m  Coordinate Quality\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	printCounts(w, r.ByQuality, "No resolved listings")
	fmt.Fprintln(w)

	if len(r.UnresolvedReasons) > 0 {
		fmt.Fprintf(w, "\033[1;33m  Unresolved\033[0m\n")
		fmt.Fprintf(w, "  %s\n", thin)
		printCounts(w, r.UnresolvedReasons, "")
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\033[1;33m  Top 5 Highest Rated Properties\033[0m\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.TopRated) == 0 {
		fmt.Fprintf(w, "  No rated listings found\n")
	} else {
		for i, gl := range r.TopRated {
			title := truncate(gl.Listing.Attr("title"), 38)
			fmt.Fprintf(w, "  \033[1m%d.\033[0m %-40s \033[1;32m%s ★\033[0m\n",
				i+1, title, gl.Listing.Attr("rating"))
		}
	}

	fmt.Fprintf(w, "\n\033[1;35m%s\033[0m\n\n", sep)
}

func printCounts(w io.Writer, counts map[string]int, empty string) {
	if len(counts) == 0 {
		if empty != "" {
			fmt.Fprintf(w, "  %s\n", empty)
		}
		return
	}
	type kv struct {
		key   string
		count int
	}
	var rows []kv
	for k, c := range counts {
		rows = append(rows, kv{k, c})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].key < rows[j].key
	})
	for _, row := range rows {
		bar := strings.Repeat("█", min(row.count, 40))
		fmt.Fprintf(w, "  %-20s %s (%d)\n", truncate(row.key, 18), bar, row.count)
	}
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
