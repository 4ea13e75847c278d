// Package sea holds watercraft.
package sea

import (
	"fmt"

	"github.com/ai8future/polyguard/vehicles"
)

// Label is the discriminator of Watercraft.
const Label = "Watercraft"

// Watercraft is a sea vehicle.
type Watercraft struct {
	vehicles.Base
	Knots int `json:"knots"`
	Draft int `json:"draft"`
}

// NewWatercraft returns a Watercraft with its label set.
func NewWatercraft() *Watercraft {
	return &Watercraft{Base: vehicles.NewBase(Label)}
}

// Finish restores the label after decoding.
func (w *Watercraft) Finish() { w.Base = vehicles.NewBase(Label) }

// Label implements vehicles.Vehicle.
func (w *Watercraft) Label() string { return Label }

func (w *Watercraft) String() string {
	return fmt.Sprintf("%s knots: %d draft: %d", w.Base, w.Knots, w.Draft)
}
