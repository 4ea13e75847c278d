package polytype

import (
	"reflect"
	"sort"
	"strings"

	"github.com/ai8future/polyguard/config"
)

// Setting names understood by FromSettings. The param form is used in
// deployment descriptors, the env form in the process environment.
const (
	ParamAllowIfBaseTypePrefix = "polyguard.deserialization.whitelist.allowIfBaseType.prefix"
	ParamAllowIfSubTypePrefix  = "polyguard.deserialization.whitelist.allowIfSubType.prefix"
	ParamAllowIfBaseTypeExact  = "polyguard.deserialization.whitelist.allowIfBaseType.exact"
	ParamAllowIfSubTypeExact   = "polyguard.deserialization.whitelist.allowIfSubType.exact"
	ParamDenyForExactBaseType  = "polyguard.deserialization.whitelist.denyForExactBaseType"
	EnvAllowIfBaseTypePrefix   = "POLYGUARD_WHITELIST_ALLOW_IF_BASE_TYPE_PREFIX"
	EnvAllowIfSubTypePrefix    = "POLYGUARD_WHITELIST_ALLOW_IF_SUB_TYPE_PREFIX"
	EnvAllowIfBaseTypeExact    = "POLYGUARD_WHITELIST_ALLOW_IF_BASE_TYPE_EXACT"
	EnvAllowIfSubTypeExact     = "POLYGUARD_WHITELIST_ALLOW_IF_SUB_TYPE_EXACT"
	EnvDenyForExactBaseType    = "POLYGUARD_WHITELIST_DENY_FOR_EXACT_BASE_TYPE"
)

// Wildcard in a prefix list matches every type.
const Wildcard = "*"

// Settings is the whitelist configuration surface. Every list is comma
// separated: the prefix lists hold type id prefixes, the others whole ids.
type Settings struct {
	BaseTypePrefixes []string `param:"polyguard.deserialization.whitelist.allowIfBaseType.prefix" env:"POLYGUARD_WHITELIST_ALLOW_IF_BASE_TYPE_PREFIX" required:"false"`
	SubTypePrefixes  []string `param:"polyguard.deserialization.whitelist.allowIfSubType.prefix" env:"POLYGUARD_WHITELIST_ALLOW_IF_SUB_TYPE_PREFIX" required:"false"`
	BaseTypes        []string `param:"polyguard.deserialization.whitelist.allowIfBaseType.exact" env:"POLYGUARD_WHITELIST_ALLOW_IF_BASE_TYPE_EXACT" required:"false"`
	SubTypes         []string `param:"polyguard.deserialization.whitelist.allowIfSubType.exact" env:"POLYGUARD_WHITELIST_ALLOW_IF_SUB_TYPE_EXACT" required:"false"`
	DeniedBaseTypes  []string `param:"polyguard.deserialization.whitelist.denyForExactBaseType" env:"POLYGUARD_WHITELIST_DENY_FOR_EXACT_BASE_TYPE" required:"false"`
}

// LoadSettings reads Settings from src.
func LoadSettings(src config.Source) (Settings, error) {
	return config.Load[Settings](src)
}

// Builder returns a Builder preloaded with the prefixes in s.
func (s Settings) Builder() *Builder {
	b := NewBuilder()
	for _, p := range s.BaseTypePrefixes {
		if p == Wildcard {
			b.AllowAnyBaseType()
			continue
		}
		b.AllowIfBaseType(p)
	}
	for _, p := range s.SubTypePrefixes {
		if p == Wildcard {
			b.AllowAnySubType()
			continue
		}
		b.AllowIfSubType(p)
	}
	for _, id := range s.BaseTypes {
		b.AllowIfBaseTypeIs(id)
	}
	for _, id := range s.SubTypes {
		b.AllowIfSubTypeIs(id)
	}
	for _, id := range s.DeniedBaseTypes {
		b.DenyForExactBaseType(id)
	}
	return b
}

// FromSettings builds a WhiteList from the settings found in src.
// With neither setting present the result denies every subtype.
func FromSettings(src config.Source) (*WhiteList, error) {
	s, err := LoadSettings(src)
	if err != nil {
		return nil, err
	}
	return s.Builder().Build(), nil
}

type typeRule struct {
	desc  string
	match func(reflect.Type) bool
}

type nameRule struct {
	desc  string
	match func(string) bool
}

// Builder accumulates whitelist rules. It is not safe for concurrent use;
// the WhiteList it builds is.
type Builder struct {
	invalidBases map[string]struct{}
	baseRules    []typeRule
	subNameRules []nameRule
	subTypeRules []typeRule
}

// NewBuilder returns a Builder with no rules.
func NewBuilder() *Builder {
	return &Builder{invalidBases: make(map[string]struct{})}
}

// AllowIfBaseType allows every subtype of a base whose type id starts with prefix.
func (b *Builder) AllowIfBaseType(prefix string) *Builder {
	b.baseRules = append(b.baseRules, typeRule{
		desc:  "base type id prefix " + prefix,
		match: func(t reflect.Type) bool { return strings.HasPrefix(TypeName(t), prefix) },
	})
	return b
}

// AllowIfBaseTypeIs allows every subtype of the base whose type id is id.
func (b *Builder) AllowIfBaseTypeIs(id string) *Builder {
	b.baseRules = append(b.baseRules, typeRule{
		desc:  "base type " + id,
		match: func(t reflect.Type) bool { return TypeName(t) == id },
	})
	return b
}

// AllowAnyBaseType turns base type validation into a pass for every base.
func (b *Builder) AllowAnyBaseType() *Builder {
	b.baseRules = append(b.baseRules, typeRule{
		desc:  "any base type",
		match: func(reflect.Type) bool { return true },
	})
	return b
}

// AllowIfSubType allows subtypes whose type id starts with prefix.
func (b *Builder) AllowIfSubType(prefix string) *Builder {
	b.subNameRules = append(b.subNameRules, nameRule{
		desc:  "subtype id prefix " + prefix,
		match: func(id string) bool { return strings.HasPrefix(id, prefix) },
	})
	return b
}

// AllowIfSubTypeIs allows the resolved subtype whose type id is id.
func (b *Builder) AllowIfSubTypeIs(id string) *Builder {
	b.subTypeRules = append(b.subTypeRules, typeRule{
		desc:  "subtype " + id,
		match: func(t reflect.Type) bool { return TypeName(t) == id },
	})
	return b
}

// AllowAnySubType allows every subtype name.
func (b *Builder) AllowAnySubType() *Builder {
	b.subNameRules = append(b.subNameRules, nameRule{
		desc:  "any subtype",
		match: func(string) bool { return true },
	})
	return b
}

// DenyForExactBaseType rejects every subtype of the base whose type id is
// id, regardless of other rules.
func (b *Builder) DenyForExactBaseType(id string) *Builder {
	b.invalidBases[id] = struct{}{}
	return b
}

// Build snapshots the rules into an immutable WhiteList.
func (b *Builder) Build() *WhiteList {
	w := &WhiteList{
		invalidBases: make(map[string]struct{}, len(b.invalidBases)),
		baseRules:    append([]typeRule(nil), b.baseRules...),
		subNameRules: append([]nameRule(nil), b.subNameRules...),
		subTypeRules: append([]typeRule(nil), b.subTypeRules...),
	}
	for t := range b.invalidBases {
		w.invalidBases[t] = struct{}{}
	}
	return w
}

// WhiteList is a Validator that allows only what its rules name. Anything
// no rule matches stays Indeterminate and is therefore denied.
type WhiteList struct {
	invalidBases map[string]struct{}
	baseRules    []typeRule
	subNameRules []nameRule
	subTypeRules []typeRule
}

// Name implements Validator.
func (w *WhiteList) Name() string { return "polytype.WhiteList" }

// ValidateBaseType implements Validator.
func (w *WhiteList) ValidateBaseType(base reflect.Type) Validity {
	if _, ok := w.invalidBases[TypeName(base)]; ok {
		return Denied
	}
	for _, r := range w.baseRules {
		if r.match(base) {
			return Allowed
		}
	}
	return Indeterminate
}

// ValidateSubTypeName implements Validator.
func (w *WhiteList) ValidateSubTypeName(_ reflect.Type, typeID string) Validity {
	for _, r := range w.subNameRules {
		if r.match(typeID) {
			return Allowed
		}
	}
	return Indeterminate
}

// ValidateSubType implements Validator.
func (w *WhiteList) ValidateSubType(_ reflect.Type, sub reflect.Type) Validity {
	for _, r := range w.subTypeRules {
		if r.match(sub) {
			return Allowed
		}
	}
	return Indeterminate
}

// Rules describes the configured rules, for startup logs.
func (w *WhiteList) Rules() []string {
	out := make([]string, 0, len(w.invalidBases)+len(w.baseRules)+len(w.subNameRules)+len(w.subTypeRules))
	denied := make([]string, 0, len(w.invalidBases))
	for id := range w.invalidBases {
		denied = append(denied, id)
	}
	sort.Strings(denied)
	for _, id := range denied {
		out = append(out, "deny base type "+id)
	}
	for _, r := range w.baseRules {
		out = append(out, "allow "+r.desc)
	}
	for _, r := range w.subNameRules {
		out = append(out, "allow "+r.desc)
	}
	for _, r := range w.subTypeRules {
		out = append(out, "allow "+r.desc)
	}
	return out
}
