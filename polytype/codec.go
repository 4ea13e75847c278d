package polytype

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ai8future/polyguard/internal/jsoncodec"
)

// DefaultTypeProperty is the JSON member that carries the type id.
const DefaultTypeProperty = "@class"

// Finisher is implemented by subtypes with fields the document must not
// control. Decode calls Finish on each resolved value after filling it.
type Finisher interface {
	Finish()
}

// Codec encodes and decodes values whose fields may hold registered base
// interfaces. Types without polymorphic fields go straight to the JSON
// library.
type Codec struct {
	registry     *Registry
	validator    Validator
	typeProperty string

	walk sync.Map // reflect.Type -> bool
}

// NewCodec returns a Codec resolving types from reg and guarding resolution
// with v. A nil validator denies everything.
func NewCodec(reg *Registry, v Validator) *Codec {
	if v == nil {
		v = NewBuilder().Build()
	}
	return &Codec{registry: reg, validator: v, typeProperty: DefaultTypeProperty}
}

// Validator returns the validator guarding this codec.
func (c *Codec) Validator() Validator { return c.validator }

// Marshal encodes v. Values stored in registered base interfaces are written
// as JSON objects whose first member is the type property.
func (c *Codec) Marshal(v any) ([]byte, error) {
	return c.encodeValue(reflect.ValueOf(v))
}

// Decode parses data into the value pointed to by v. Polymorphic fields are
// resolved through the validator; the first rejection aborts decoding with a
// *ResolutionError.
func (c *Codec) Decode(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("polytype: Decode requires a non-nil pointer, got %T", v)
	}
	return c.decodeValue(data, rv.Elem(), "")
}

// needsWalk reports whether t reaches a registered base interface.
func (c *Codec) needsWalk(t reflect.Type) bool {
	if v, ok := c.walk.Load(t); ok {
		return v.(bool)
	}
	res := c.containsBase(t, make(map[reflect.Type]bool))
	c.walk.Store(t, res)
	return res
}

func (c *Codec) containsBase(t reflect.Type, seen map[reflect.Type]bool) bool {
	if seen[t] {
		return false
	}
	seen[t] = true
	switch t.Kind() {
	case reflect.Interface:
		return c.registry.IsBase(t)
	case reflect.Pointer, reflect.Slice:
		return c.containsBase(t.Elem(), seen)
	case reflect.Map:
		return t.Key().Kind() == reflect.String && c.containsBase(t.Elem(), seen)
	case reflect.Struct:
		for _, f := range structFields(t) {
			if c.containsBase(t.FieldByIndex(f.index).Type, seen) {
				return true
			}
		}
	}
	return false
}

// ---------- decoding ----------

func (c *Codec) decodeValue(raw []byte, dst reflect.Value, path string) error {
	t := dst.Type()
	if !c.needsWalk(t) {
		if err := jsoncodec.Unmarshal(raw, dst.Addr().Interface()); err != nil {
			return decodeError(path, t, err)
		}
		return nil
	}
	if isNull(raw) {
		dst.Set(reflect.Zero(t))
		return nil
	}

	switch t.Kind() {
	case reflect.Interface:
		return c.decodePolymorphic(raw, dst, path)

	case reflect.Pointer:
		if dst.IsNil() {
			dst.Set(reflect.New(t.Elem()))
		}
		return c.decodeValue(raw, dst.Elem(), path)

	case reflect.Slice:
		var items []jsoncodec.RawMessage
		if err := jsoncodec.Unmarshal(raw, &items); err != nil {
			return decodeError(path, t, err)
		}
		out := reflect.MakeSlice(t, len(items), len(items))
		for i, item := range items {
			if err := c.decodeValue(item, out.Index(i), path+"["+strconv.Itoa(i)+"]"); err != nil {
				return err
			}
		}
		dst.Set(out)
		return nil

	case reflect.Map:
		var members map[string]jsoncodec.RawMessage
		if err := jsoncodec.Unmarshal(raw, &members); err != nil {
			return decodeError(path, t, err)
		}
		out := reflect.MakeMapWithSize(t, len(members))
		for k, member := range members {
			elem := reflect.New(t.Elem()).Elem()
			if err := c.decodeValue(member, elem, joinPath(path, k)); err != nil {
				return err
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), elem)
		}
		dst.Set(out)
		return nil

	case reflect.Struct:
		return c.decodeStruct(raw, dst, path)
	}

	return decodeError(path, t, fmt.Errorf("unsupported kind %s", t.Kind()))
}

func (c *Codec) decodeStruct(raw []byte, dst reflect.Value, path string) error {
	var members map[string]jsoncodec.RawMessage
	if err := jsoncodec.Unmarshal(raw, &members); err != nil {
		return decodeError(path, dst.Type(), err)
	}
	for _, f := range structFields(dst.Type()) {
		member, ok := lookupMember(members, f.name)
		if !ok {
			continue
		}
		if err := c.decodeValue(member, dst.FieldByIndex(f.index), joinPath(path, f.name)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Codec) decodePolymorphic(raw []byte, dst reflect.Value, path string) error {
	base := dst.Type()
	rerr := &ResolutionError{
		BaseType:  TypeName(base),
		Validator: c.validator.Name(),
		Property:  c.typeProperty,
		Path:      path,
	}

	var members map[string]jsoncodec.RawMessage
	if err := jsoncodec.Unmarshal(raw, &members); err != nil {
		return decodeError(path, base, err)
	}

	verdict := c.validator.ValidateBaseType(base)
	if verdict == Denied {
		rerr.Err = ErrBaseTypeDenied
		return rerr
	}

	var typeID string
	if rawID, ok := members[c.typeProperty]; ok {
		if err := jsoncodec.Unmarshal(rawID, &typeID); err != nil {
			typeID = ""
		}
	}
	if typeID == "" {
		rerr.Err = ErrMissingTypeID
		return rerr
	}
	rerr.TypeID = typeID

	// Names are checked before lookup so a rejected id never reaches the registry.
	if verdict != Allowed {
		verdict = c.validator.ValidateSubTypeName(base, typeID)
		if verdict == Denied {
			rerr.Err = ErrDeniedResolution
			return rerr
		}
	}

	sub, ok := c.registry.Lookup(typeID)
	if !ok {
		rerr.Err = ErrUnknownTypeID
		return rerr
	}
	if !reflect.PointerTo(sub).Implements(base) {
		rerr.Err = ErrNotSubtype
		return rerr
	}
	if verdict == Indeterminate && c.validator.ValidateSubType(base, sub) != Allowed {
		rerr.Err = ErrDeniedResolution
		return rerr
	}

	ptr := reflect.New(sub)
	if err := c.decodeValue(raw, ptr.Elem(), path); err != nil {
		return err
	}
	if f, ok := ptr.Interface().(Finisher); ok {
		f.Finish()
	}
	dst.Set(ptr)
	return nil
}

// ---------- encoding ----------

func (c *Codec) encodeValue(v reflect.Value) ([]byte, error) {
	if !v.IsValid() {
		return []byte("null"), nil
	}
	t := v.Type()
	if !c.needsWalk(t) {
		return jsoncodec.Marshal(v.Interface())
	}

	switch t.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return []byte("null"), nil
		}
		if c.registry.IsBase(t) {
			return c.encodePolymorphic(v.Elem())
		}
		return c.encodeValue(v.Elem())

	case reflect.Pointer:
		if v.IsNil() {
			return []byte("null"), nil
		}
		return c.encodeValue(v.Elem())

	case reflect.Slice:
		if v.IsNil() {
			return []byte("null"), nil
		}
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i := range v.Len() {
			if i > 0 {
				buf.WriteByte(',')
			}
			item, err := c.encodeValue(v.Index(i))
			if err != nil {
				return nil, err
			}
			buf.Write(item)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	case reflect.Map:
		if v.IsNil() {
			return []byte("null"), nil
		}
		keys := make([]string, 0, v.Len())
		for _, k := range v.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			item, err := c.encodeValue(v.MapIndex(reflect.ValueOf(k).Convert(t.Key())))
			if err != nil {
				return nil, err
			}
			buf.WriteString(strconv.Quote(k))
			buf.WriteByte(':')
			buf.Write(item)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case reflect.Struct:
		return c.encodeStruct(v)
	}

	return nil, fmt.Errorf("polytype: cannot encode kind %s", t.Kind())
}

func (c *Codec) encodeStruct(v reflect.Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, f := range structFields(v.Type()) {
		fv := v.FieldByIndex(f.index)
		if f.omitEmpty && isEmptyValue(fv) {
			continue
		}
		item, err := c.encodeValue(fv)
		if err != nil {
			return nil, err
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.WriteString(strconv.Quote(f.name))
		buf.WriteByte(':')
		buf.Write(item)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (c *Codec) encodePolymorphic(concrete reflect.Value) ([]byte, error) {
	if concrete.Kind() == reflect.Pointer && concrete.IsNil() {
		return []byte("null"), nil
	}
	typeID := TypeName(concrete.Type())
	if _, ok := c.registry.Lookup(typeID); !ok {
		return nil, fmt.Errorf("polytype: %s is not a registered subtype", typeID)
	}
	body, err := c.encodeValue(concrete)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("polytype: subtype %s must encode as a JSON object", typeID)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(c.typeProperty) + len(typeID) + 8)
	buf.WriteByte('{')
	buf.WriteString(strconv.Quote(c.typeProperty))
	buf.WriteByte(':')
	buf.WriteString(strconv.Quote(typeID))
	rest := bytes.TrimSpace(body[1:])
	if rest[0] != '}' {
		buf.WriteByte(',')
	}
	buf.Write(rest)
	return buf.Bytes(), nil
}

// ---------- struct field discovery ----------

type field struct {
	name      string
	index     []int
	omitEmpty bool
}

var fieldCache sync.Map // reflect.Type -> []field

// structFields lists the JSON members of t following encoding/json rules for
// tags and embedded structs. Outer fields shadow embedded ones.
func structFields(t reflect.Type) []field {
	if f, ok := fieldCache.Load(t); ok {
		return f.([]field)
	}
	fields := collectFields(t, nil)
	fieldCache.Store(t, fields)
	return fields
}

func collectFields(t reflect.Type, prefix []int) []field {
	var direct, embedded []field
	for i := range t.NumField() {
		sf := t.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		index := append(append([]int(nil), prefix...), i)

		if sf.Anonymous && name == "" && sf.Type.Kind() == reflect.Struct {
			embedded = append(embedded, collectFields(sf.Type, index)...)
			continue
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		direct = append(direct, field{
			name:      name,
			index:     index,
			omitEmpty: strings.Contains(opts, "omitempty"),
		})
	}

	seen := make(map[string]bool, len(direct))
	for _, f := range direct {
		seen[f.name] = true
	}
	for _, f := range embedded {
		if !seen[f.name] {
			seen[f.name] = true
			direct = append(direct, f)
		}
	}
	return direct
}

func lookupMember(members map[string]jsoncodec.RawMessage, name string) (jsoncodec.RawMessage, bool) {
	if m, ok := members[name]; ok {
		return m, true
	}
	for k, m := range members {
		if strings.EqualFold(k, name) {
			return m, true
		}
	}
	return nil, false
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

func isNull(raw []byte) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func joinPath(path, member string) string {
	if path == "" {
		return member
	}
	return path + "." + member
}

func decodeError(path string, t reflect.Type, err error) error {
	if path == "" {
		return fmt.Errorf("polytype: decode %s: %w", t, err)
	}
	return fmt.Errorf("polytype: decode %s at %s: %w", t, path, err)
}
