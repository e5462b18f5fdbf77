package geocode

import (
	"errors"
	"fmt"
	"strings"

	"listing-geocoder/models"
)

// ErrOutsideState is returned by Place.Within for a point in another state.
var ErrOutsideState = errors.New("geocode: location is outside the expected state")

// Place is the city-level location of a point, as found by a reverse lookup.
type Place struct {
	City        string            `json:"city"`
	County      string            `json:"county,omitempty"`
	State       string            `json:"state"`
	StateCode   string            `json:"state_code,omitempty"`
	Country     string            `json:"country,omitempty"`
	CountryCode string            `json:"country_code,omitempty"`
	DisplayName string            `json:"display_name"`
	Coordinate  models.Coordinate `json:"coordinate"`
}

// Within returns ErrOutsideState unless the place lies in state, given by
// name ("Florida") or postal code ("FL").
func (p *Place) Within(state string) error {
	state = strings.TrimSpace(state)
	if state == "" {
		return nil
	}
	if strings.EqualFold(p.StateCode, state) || strings.Contains(strings.ToLower(p.State), strings.ToLower(state)) {
		return nil
	}
	return fmt.Errorf("%w: %q is in %q", ErrOutsideState, p.City, p.State)
}
