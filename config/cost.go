package config

import (
	"math"

	"listing-geocoder/models"
)

// Cost area labels.
const (
	CostHigh   = "HIGH"
	CostMedium = "MEDIUM"
	CostLow    = "LOW"
)

const (
	highCostAbove = 1.05
	lowCostBelow  = 0.98
	idwPower      = 2
)

type costPoint struct {
	lat, lon, index float64
}

// CostModel estimates the price level at any point by inverse distance
// weighting the cost index of the reference regions.
type CostModel struct {
	points []costPoint
}

// NewCostModel keeps the regions that have both a center and a cost index.
func NewCostModel(regions []models.Region) *CostModel {
	m := &CostModel{}
	for _, r := range regions {
		if r.Center == nil || r.CostIndex <= 0 {
			continue
		}
		m.points = append(m.points, costPoint{r.Center.Lat, r.Center.Lon, r.CostIndex})
	}
	return m
}

// Len returns the number of reference points.
func (m *CostModel) Len() int { return len(m.points) }

// Multiplier returns the interpolated cost index at lat, lon. Distances are
// planar in degrees, which is close enough at state scale. ok is false when
// the model has no reference points.
func (m *CostModel) Multiplier(lat, lon float64) (mult float64, ok bool) {
	if m == nil || len(m.points) == 0 {
		return 0, false
	}

	var weighted, total float64
	for _, p := range m.points {
		d := math.Hypot(lat-p.lat, lon-p.lon)
		if d == 0 {
			return p.index, true
		}
		w := 1 / math.Pow(d, idwPower)
		weighted += p.index * w
		total += w
	}
	return weighted / total, true
}

// CostArea maps a multiplier to its cost area label.
func CostArea(mult float64) string {
	switch {
	case mult > highCostAbove:
		return CostHigh
	case mult < lowCostBelow:
		return CostLow
	default:
		return CostMedium
	}
}
