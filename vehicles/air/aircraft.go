// Package air holds aircraft.
package air

import (
	"fmt"

	"github.com/ai8future/polyguard/vehicles"
)

// Label is the discriminator of Aircraft.
const Label = "Aircraft"

// Aircraft is an air vehicle.
type Aircraft struct {
	vehicles.Base
	Speed    int `json:"speed"`
	Altitude int `json:"altitude"`
}

// NewAircraft returns an Aircraft with its label set.
func NewAircraft() *Aircraft {
	return &Aircraft{Base: vehicles.NewBase(Label)}
}

// Finish restores the label after decoding.
func (a *Aircraft) Finish() { a.Base = vehicles.NewBase(Label) }

// Label implements vehicles.Vehicle.
func (a *Aircraft) Label() string { return Label }

func (a *Aircraft) String() string {
	return fmt.Sprintf("%s speed: %d altitude: %d", a.Base, a.Speed, a.Altitude)
}
