package flagz

import (
	"fmt"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type mapSource map[string]string

func (s mapSource) Lookup(name string) (string, bool) {
	v, ok := s[name]
	return v, ok
}

// FromEnv captures variables named PREFIX_FLAG_NAME as flag "flag-name".
// The environment is read once, here.
func FromEnv(prefix string) Source {
	flags := mapSource{}
	pfx := strings.ToUpper(prefix) + "_"
	for _, env := range os.Environ() {
		key, val, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, pfx) {
			continue
		}
		name := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, pfx)), "_", "-")
		flags[name] = val
	}
	return flags
}

// FromMap copies m into a Source.
func FromMap(m map[string]string) Source {
	return mapSource(maps.Clone(m))
}

// FromYAML reads a flat mapping of flag names to values, e.g.
//
//	audit-accepted: 25%
func FromYAML(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("flagz: read %s: %w", path, err)
	}
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("flagz: parse %s: %w", path, err)
	}
	if raw == nil {
		raw = map[string]string{}
	}
	return mapSource(raw), nil
}

type multiSource []Source

// Multi layers sources; later ones win.
func Multi(sources ...Source) Source {
	return multiSource(sources)
}

func (s multiSource) Lookup(name string) (string, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == nil {
			continue
		}
		if v, ok := s[i].Lookup(name); ok {
			return v, true
		}
	}
	return "", false
}
