// Package vehicles defines the polymorphic payload accepted by the
// deserialization endpoint: an abstract Vehicle held by a wrapper whose
// declared field type is the interface, never a concrete subtype.
//
// Concrete vehicles live in sibling packages (land, air, sea) so package
// prefix rules can allow one family while rejecting another.
package vehicles

import "fmt"

// Vehicle is the polymorphic base type.
type Vehicle interface {
	// Label is the fixed discriminator of the concrete type, e.g. "Watercraft".
	Label() string
	// Finish resets derived fields once the codec has decoded the vehicle.
	Finish()
}

// Base carries the discriminator label every vehicle serializes. It always
// equals Label(): constructors set it, and each subtype's Finish resets it
// after decoding so the client's "type" member is never kept.
type Base struct {
	Type string `json:"type"`
}

// NewBase returns a Base labelled label.
func NewBase(label string) Base {
	return Base{Type: label}
}

func (b Base) String() string {
	return "type: " + b.Type
}

// PolymorphicType wraps a single vehicle. The static type of the field is the
// Vehicle interface; the runtime type is one of the registered subtypes.
type PolymorphicType struct {
	Vehicle Vehicle `json:"vehicle"`
}

// Wrap returns a PolymorphicType holding v.
func Wrap(v Vehicle) PolymorphicType {
	return PolymorphicType{Vehicle: v}
}

func (p PolymorphicType) String() string {
	if p.Vehicle == nil {
		return "PolymorphicType{<nil>}"
	}
	return fmt.Sprintf("PolymorphicType{%v}", p.Vehicle)
}
