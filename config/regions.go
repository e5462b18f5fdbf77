package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"listing-geocoder/models"
)

// RegionCatalogue is the set of regions a crawl can be started for.
type RegionCatalogue struct {
	regions map[string]models.Region
}

type regionsFile struct {
	Regions []models.Region `yaml:"regions"`
}

// LoadRegions reads a YAML region catalogue. An empty path yields the
// built-in Florida catalogue.
func LoadRegions(path string) (*RegionCatalogue, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRegions(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("regions: read %q: %w", path, err)
	}
	return ParseRegions(raw)
}

// ParseRegions decodes a YAML region catalogue.
func ParseRegions(raw []byte) (*RegionCatalogue, error) {
	var f regionsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("regions: decode: %w", err)
	}
	if len(f.Regions) == 0 {
		return nil, fmt.Errorf("regions: catalogue is empty")
	}

	cat := &RegionCatalogue{regions: make(map[string]models.Region, len(f.Regions))}
	for i, r := range f.Regions {
		r.Code = strings.ToLower(strings.TrimSpace(r.Code))
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("regions: entry %d: %w", i, err)
		}
		if _, dup := cat.regions[r.Code]; dup {
			return nil, fmt.Errorf("regions: duplicate code %q", r.Code)
		}
		cat.regions[r.Code] = r
	}
	return cat, nil
}

// Lookup finds a region by code, case-insensitively.
func (c *RegionCatalogue) Lookup(code string) (models.Region, bool) {
	r, ok := c.regions[strings.ToLower(strings.TrimSpace(code))]
	return r, ok
}

// All returns every region sorted by code.
func (c *RegionCatalogue) All() []models.Region {
	out := make([]models.Region, 0, len(c.regions))
	for _, r := range c.regions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

type hub struct {
	code, name, locality string
	lat, lon             float64
	index                float64
}

var floridaHubs = []hub{
	{"miami", "Miami", "Miami--FL", 25.7617, -80.1918, 1.15},
	{"orlando", "Orlando", "Orlando--FL", 28.5383, -81.3792, 1.02},
	{"tampa", "Tampa", "Tampa--FL", 27.9506, -82.4572, 1.03},
	{"jacksonville", "Jacksonville", "Jacksonville--FL", 30.3322, -81.6557, 0.95},
	{"tallahassee", "Tallahassee", "Tallahassee--FL", 30.4383, -84.2807, 0.93},
	{"key-west", "Key West", "Key-West--FL", 24.5551, -81.7800, 1.25},
	// no cost index; estimates here are interpolated from the hubs above
	{"naples", "Naples", "Naples--FL", 26.1420, -81.7948, 0},
	{"sarasota", "Sarasota", "Sarasota--FL", 27.3364, -82.5307, 0},
	{"gainesville", "Gainesville", "Gainesville--FL", 29.6516, -82.3248, 0},
	{"pensacola", "Pensacola", "Pensacola--FL", 30.4213, -87.2169, 0},
	{"clearwater", "Clearwater", "Clearwater--FL", 27.9659, -82.8001, 0},
	{"fort-lauderdale", "Fort Lauderdale", "Fort-Lauderdale--FL", 26.1224, -80.1373, 0},
}

// DefaultRegions returns the built-in catalogue of Florida cities.
func DefaultRegions() *RegionCatalogue {
	cat := &RegionCatalogue{regions: make(map[string]models.Region, len(floridaHubs))}
	for _, h := range floridaHubs {
		cat.regions[h.code] = models.Region{
			Code:     h.code,
			Name:     h.name + ", FL",
			Locality: h.locality,
			Center: &models.Coordinate{
				Lat:      h.lat,
				Lon:      h.lon,
				Quality:  models.QualityCentroid,
				Provider: "catalogue",
			},
			CostIndex: h.index,
		}
	}
	return cat
}

// CostModel returns a cost model over the catalogue's reference regions.
func (c *RegionCatalogue) CostModel() *CostModel {
	return NewCostModel(c.All())
}
