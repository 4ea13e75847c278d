// Package polytype guards polymorphic JSON deserialization. A field whose
// declared type is a registered base interface is decoded by reading a type
// id from the JSON object, asking a Validator whether that id may be
// resolved, and only then instantiating the registered concrete type.
package polytype

import (
	"errors"
	"fmt"
	"reflect"
)

// Validity is the verdict of a single validation phase.
type Validity int

const (
	// Indeterminate defers the decision to the next phase. A type that is
	// still Indeterminate after the last phase is denied.
	Indeterminate Validity = iota
	Allowed
	Denied
)

func (v Validity) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "indeterminate"
	}
}

// Validator decides which concrete types may be resolved for a base type.
// Implementations must be safe for concurrent use.
type Validator interface {
	// Name identifies the validator in error messages.
	Name() string

	// ValidateBaseType runs once per base type. Allowed accepts every
	// subtype of base without further checks; Denied rejects all of them.
	ValidateBaseType(base reflect.Type) Validity

	// ValidateSubTypeName runs before the type id is looked up.
	ValidateSubTypeName(base reflect.Type, typeID string) Validity

	// ValidateSubType runs on the resolved type when the name phase was
	// Indeterminate.
	ValidateSubType(base, sub reflect.Type) Validity
}

// AllowAll resolves every registered subtype. Use only for trusted input.
type AllowAll struct{}

func (AllowAll) Name() string                                        { return "polytype.AllowAll" }
func (AllowAll) ValidateBaseType(reflect.Type) Validity              { return Allowed }
func (AllowAll) ValidateSubTypeName(reflect.Type, string) Validity   { return Allowed }
func (AllowAll) ValidateSubType(reflect.Type, reflect.Type) Validity { return Allowed }

// Sentinel errors matched with errors.Is against a *ResolutionError.
var (
	ErrDeniedResolution = errors.New("polytype: denied resolution")
	ErrBaseTypeDenied   = errors.New("polytype: base type denied")
	ErrUnknownTypeID    = errors.New("polytype: unknown type id")
	ErrNotSubtype       = errors.New("polytype: not a subtype")
	ErrMissingTypeID    = errors.New("polytype: missing type id")
)

// ResolutionError reports why a type id could not be turned into a concrete
// value. Its message is safe to return to the client.
type ResolutionError struct {
	TypeID    string
	BaseType  string
	Validator string
	Property  string // type id property name, set for ErrMissingTypeID
	Path      string // JSON path of the polymorphic field
	Err       error
}

func (e *ResolutionError) Error() string {
	var msg string
	switch e.Err {
	case ErrDeniedResolution:
		msg = fmt.Sprintf("Could not resolve type id '%s' as a subtype of `%s`: Configured `PolymorphicTypeValidator` (of type `%s`) denied resolution",
			e.TypeID, e.BaseType, e.Validator)
	case ErrBaseTypeDenied:
		msg = fmt.Sprintf("Configured `PolymorphicTypeValidator` (of type `%s`) denied resolution to all subtypes of base type `%s`",
			e.Validator, e.BaseType)
	case ErrUnknownTypeID:
		msg = fmt.Sprintf("Could not resolve type id '%s' as a subtype of `%s`: no such type registered", e.TypeID, e.BaseType)
	case ErrNotSubtype:
		msg = fmt.Sprintf("Could not resolve type id '%s' as a subtype of `%s`: Not a subtype", e.TypeID, e.BaseType)
	case ErrMissingTypeID:
		msg = fmt.Sprintf("Missing type id when trying to resolve subtype of `%s`: missing type id property '%s'", e.BaseType, e.Property)
	default:
		msg = fmt.Sprintf("Could not resolve type id '%s' as a subtype of `%s`: %v", e.TypeID, e.BaseType, e.Err)
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" (through reference chain: %s)", e.Path)
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// IsDenied reports whether err is a validator rejection, as opposed to a
// malformed or unknown type id.
func IsDenied(err error) bool {
	return errors.Is(err, ErrDeniedResolution) || errors.Is(err, ErrBaseTypeDenied)
}
