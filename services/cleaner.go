package services

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"listing-geocoder/models"
	"listing-geocoder/utils"
)

var (
	// priceRegexp captures numeric price values
	priceRegexp = regexp.MustCompile(`[\d,]+(?:\.\d+)?`)
	// nightsRegexp captures "X nights" or "X night" patterns
	nightsRegexp = regexp.MustCompile(`(\d+)\s*nights?`)
	// ratingRegexp captures a numeric rating in the 0.0–5.0 range
	ratingRegexp = regexp.MustCompile(`\b([0-5](?:\.\d{1,2})?)\b`)
)

// Cleaner turns scraped address text into lookup keys and parses the
// price and rating attributes used by the report.
type Cleaner struct {
	logger *utils.Logger
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Normalize builds the region-qualified cache key and the provider query
// for a raw address. Two spellings that differ only in case, spacing or
// surrounding punctuation map to the same key.
func (c *Cleaner) Normalize(region models.Region, raw string) models.NormalizedAddress {
	text := trimPunct(normaliseText(raw))
	if text == "" {
		return models.NormalizedAddress{}
	}

	query := text
	if name := normaliseText(region.Name); name != "" &&
		!strings.Contains(strings.ToLower(text), strings.ToLower(name)) {
		query = text + ", " + name
	}

	return models.NormalizedAddress{
		Key:   strings.ToLower(region.Code) + "|" + strings.ToLower(text),
		Query: query,
	}
}

// parsePrice extracts price and converts multi-night prices to per-night rate.
// Examples:
//
//	"$150 night" → 150
//	"$450 for 3 nights" → 150 (450/3)
func (c *Cleaner) parsePrice(raw string) float64 {
	raw = strings.ToLower(raw)

	cleaned := strings.ReplaceAll(raw, ",", "")
	match := priceRegexp.FindString(cleaned)
	if match == "" {
		return 0
	}

	totalPrice, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}

	nightsMatch := nightsRegexp.FindStringSubmatch(raw)
	if len(nightsMatch) >= 2 {
		nights, err := strconv.Atoi(nightsMatch[1])
		if err == nil && nights > 1 {
			perNightPrice := totalPrice / float64(nights)
			c.logger.Debug("[cleaner] Multi-night price detected: $%.2f for %d nights = $%.2f/night",
				totalPrice, nights, perNightPrice)
			return perNightPrice
		}
	}

	return totalPrice
}

// parseRating extracts a 0.0–5.0 numeric rating from a raw string.
func (c *Cleaner) parseRating(raw string) float64 {
	match := ratingRegexp.FindStringSubmatch(raw)
	if len(match) < 2 {
		return 0
	}
	val, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0
	}
	if val < 0 || val > 5 {
		return 0
	}
	return val
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}

// trimPunct removes punctuation that scrapers leave around addresses,
// such as trailing commas or bullet separators.
func trimPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r)
	})
}
