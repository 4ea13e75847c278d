// Package config provides a generic, reflection-based configuration loader
// that populates structs from pluggable sources using struct tags.
//
// Two sources ship with the package: the process environment (read through
// the env tag) and per-deployment parameters (read through the param tag).
// Chain layers them so a deployment parameter wins over the environment.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Source resolves the raw string value of a struct field from its tags.
type Source interface {
	Lookup(tag reflect.StructTag) (value string, ok bool)
}

type envSource struct{}

// Env returns a Source reading the variable named by the env tag.
func Env() Source { return envSource{} }

func (envSource) Lookup(tag reflect.StructTag) (string, bool) {
	key := tag.Get("env")
	if key == "" {
		return "", false
	}
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Params is a Source backed by named parameters, keyed by the param tag.
type Params map[string]string

// Lookup implements Source.
func (p Params) Lookup(tag reflect.StructTag) (string, bool) {
	key := tag.Get("param")
	if key == "" || p == nil {
		return "", false
	}
	v, ok := p[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Chain consults each source in order and returns the first hit.
type Chain []Source

// Lookup implements Source.
func (c Chain) Lookup(tag reflect.StructTag) (string, bool) {
	for _, src := range c {
		if src == nil {
			continue
		}
		if v, ok := src.Lookup(tag); ok {
			return v, true
		}
	}
	return "", false
}

// MustLoad loads environment variables into a struct of type T based on struct
// tags. It panics if any required variable is missing and has no default.
//
// Supported struct tags:
//
//	env:"VAR_NAME"       the environment variable to read
//	param:"dotted.name"  the deployment parameter to read (see Params)
//	default:"value"      fallback value when no source has the key
//	required:"true"      fail if missing and no default (this is the default behavior)
//	required:"false"     leave the zero value if missing and no default
//
// Supported field types: string, int, int64, float64, bool, time.Duration, []string.
func MustLoad[T any]() T {
	cfg, err := Load[T](Env())
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// Load populates a T from src. Fields carrying neither an env nor a param tag
// are left untouched.
func Load[T any](src Source) (T, error) {
	var cfg T
	v := reflect.ValueOf(&cfg).Elem()
	t := v.Type()

	for i := range t.NumField() {
		field := t.Field(i)
		if field.Tag.Get("env") == "" && field.Tag.Get("param") == "" {
			continue
		}

		raw, ok := src.Lookup(field.Tag)
		if !ok {
			if def, hasDef := field.Tag.Lookup("default"); hasDef {
				raw, ok = def, def != ""
			}
		}

		if !ok {
			if field.Tag.Get("required") == "false" {
				continue
			}
			return cfg, fmt.Errorf("config: required setting %s is not set (field %s)", describe(field.Tag), field.Name)
		}

		if err := setField(v.Field(i), raw); err != nil {
			return cfg, fmt.Errorf("config: cannot set field %s from %s=%q: %w", field.Name, describe(field.Tag), raw, err)
		}
	}

	return cfg, nil
}

// describe names the keys a field can be read from, for error messages.
func describe(tag reflect.StructTag) string {
	var keys []string
	if k := tag.Get("param"); k != "" {
		keys = append(keys, strconv.Quote(k))
	}
	if k := tag.Get("env"); k != "" {
		keys = append(keys, strconv.Quote(k))
	}
	return strings.Join(keys, " / ")
}

// setField converts a raw string value and sets it on the reflected field.
func setField(fieldVal reflect.Value, raw string) error {
	if fieldVal.Type() == reflect.TypeFor[time.Duration]() {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		fieldVal.Set(reflect.ValueOf(d))
		return nil
	}

	if fieldVal.Type() == reflect.TypeFor[[]string]() {
		fieldVal.Set(reflect.ValueOf(SplitList(raw)))
		return nil
	}

	switch fieldVal.Kind() {
	case reflect.String:
		fieldVal.SetString(raw)

	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid int: %w", err)
		}
		fieldVal.SetInt(n)

	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid float: %w", err)
		}
		fieldVal.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid bool: %w", err)
		}
		fieldVal.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type %s", fieldVal.Type())
	}

	return nil
}

// SplitList splits a comma separated setting, trimming whitespace and
// dropping empty entries.
func SplitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
