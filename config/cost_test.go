package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"listing-geocoder/models"
)

func TestCostModelUsesReferenceHubsOnly(t *testing.T) {
	m := DefaultRegions().CostModel()
	assert.Equal(t, 6, m.Len(), "cities without a cost index are interpolated, not referenced")
}

func TestCostModelMultiplier(t *testing.T) {
	m := DefaultRegions().CostModel()

	tests := []struct {
		name     string
		lat, lon float64
		want     float64
		area     string
	}{
		{"on the miami hub", 25.7617, -80.1918, 1.15, CostHigh},
		{"on the key west hub", 24.5551, -81.7800, 1.25, CostHigh},
		{"on the tallahassee hub", 30.4383, -84.2807, 0.93, CostLow},
		{"fort lauderdale leans on miami", 26.1224, -80.1373, 1.1465, CostHigh},
		{"pensacola leans on tallahassee", 30.4213, -87.2169, 0.9911, CostMedium},
		{"between tampa and orlando", 28.0, -82.0, 1.0292, CostMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Multiplier(tt.lat, tt.lon)
			require.True(t, ok)
			assert.InDelta(t, tt.want, got, 0.0005)
			assert.Equal(t, tt.area, CostArea(got))
		})
	}
}

func TestCostModelEmpty(t *testing.T) {
	_, ok := NewCostModel([]models.Region{{Code: "x", CostIndex: 1.1}}).Multiplier(25, -80)
	assert.False(t, ok, "regions without a center are skipped")

	var nilModel *CostModel
	_, ok = nilModel.Multiplier(25, -80)
	assert.False(t, ok)
}

func TestCostAreaThresholds(t *testing.T) {
	assert.Equal(t, CostMedium, CostArea(1.05))
	assert.Equal(t, CostHigh, CostArea(1.0501))
	assert.Equal(t, CostMedium, CostArea(0.98))
	assert.Equal(t, CostLow, CostArea(0.9799))
}

func TestParseRegionsCostIndex(t *testing.T) {
	cat, err := ParseRegions([]byte(`
regions:
  - code: aspen
    name: Aspen, CO
    center: {lat: 39.19, lon: -106.82}
    cost_index: 1.6
`))
	require.NoError(t, err)

	m := cat.CostModel()
	got, ok := m.Multiplier(39.19, -106.82)
	require.True(t, ok)
	assert.Equal(t, 1.6, got)
}
