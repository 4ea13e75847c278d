// Package catalog registers every vehicle type with a polytype.Registry and
// builds vehicles by kind name for the CLI and tests.
package catalog

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/ai8future/polyguard/polytype"
	"github.com/ai8future/polyguard/vehicles"
	"github.com/ai8future/polyguard/vehicles/air"
	"github.com/ai8future/polyguard/vehicles/land"
	"github.com/ai8future/polyguard/vehicles/sea"
)

var constructors = map[string]func() vehicles.Vehicle{
	"automobile": func() vehicles.Vehicle { return land.NewAutomobile() },
	"aircraft":   func() vehicles.Vehicle { return air.NewAircraft() },
	"watercraft": func() vehicles.Vehicle { return sea.NewWatercraft() },
}

// Register adds the Vehicle base and its three subtypes to reg.
func Register(reg *polytype.Registry) error {
	if err := polytype.RegisterBaseFor[vehicles.Vehicle](reg); err != nil {
		return err
	}
	for _, err := range []error{
		polytype.RegisterSubtypeFor[land.Automobile](reg),
		polytype.RegisterSubtypeFor[air.Aircraft](reg),
		polytype.RegisterSubtypeFor[sea.Watercraft](reg),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a Registry with the vehicle types registered.
func NewRegistry() *polytype.Registry {
	reg := polytype.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}

// New builds a vehicle by kind ("automobile", "aircraft", "watercraft").
func New(kind string) (vehicles.Vehicle, error) {
	ctor, ok := constructors[strings.ToLower(strings.TrimSpace(kind))]
	if !ok {
		return nil, fmt.Errorf("catalog: unknown vehicle kind %q (want one of %s)", kind, strings.Join(Kinds(), ", "))
	}
	return ctor(), nil
}

// Kinds lists the accepted kind names, sorted.
func Kinds() []string {
	out := make([]string, 0, len(constructors))
	for k := range constructors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// PackagePrefix returns the package path of v's concrete type, the value a
// whitelist prefix needs to allow exactly that vehicle family.
func PackagePrefix(v vehicles.Vehicle) string {
	id := polytype.TypeName(reflect.TypeOf(v))
	if i := strings.LastIndex(id, "."); i > 0 {
		return id[:i]
	}
	return id
}
