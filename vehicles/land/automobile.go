// Package land holds ground vehicles.
package land

import (
	"fmt"

	"github.com/ai8future/polyguard/vehicles"
)

// Label is the discriminator of Automobile.
const Label = "Automobile"

// Automobile is a land vehicle.
type Automobile struct {
	vehicles.Base
	Speed  int `json:"speed"`
	Wheels int `json:"wheels"`
}

// NewAutomobile returns an Automobile with its label set.
func NewAutomobile() *Automobile {
	return &Automobile{Base: vehicles.NewBase(Label), Wheels: 4}
}

// Finish restores the label after decoding.
func (a *Automobile) Finish() { a.Base = vehicles.NewBase(Label) }

// Label implements vehicles.Vehicle.
func (a *Automobile) Label() string { return Label }

func (a *Automobile) String() string {
	return fmt.Sprintf("%s speed: %d wheels: %d", a.Base, a.Speed, a.Wheels)
}
