// Package deploy describes the deployments the server exposes. Each
// deployment is mounted under its own path prefix and carries the params
// its whitelist is built from.
package deploy

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/ai8future/polyguard/config"
	"github.com/ai8future/polyguard/polytype"
	"github.com/ai8future/polyguard/vehicles/catalog"
	"github.com/ai8future/polyguard/vehicles/land"
)

// Names of the two standard deployments.
const (
	WhiteList            = "whitelist"
	SystemPropertiesOnly = "systempropertiesonly"
)

// Deployment is one mounted context. Params override the process
// environment for the settings they name.
type Deployment struct {
	Name   string        `yaml:"name"`
	Params config.Params `yaml:"params,omitempty"`
}

// Source returns the settings source for d: its params first, then the
// process environment.
func (d Deployment) Source() config.Source {
	return config.Chain{d.Params, config.Env()}
}

// Validator builds the whitelist for d from its settings source. The
// environment is read at call time.
func (d Deployment) Validator() (*polytype.WhiteList, error) {
	w, err := polytype.FromSettings(d.Source())
	if err != nil {
		return nil, fmt.Errorf("deploy: %s: %w", d.Name, err)
	}
	return w, nil
}

// Descriptor is the YAML document listing deployments.
type Descriptor struct {
	Deployments []Deployment `yaml:"deployments"`
}

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Errors returned by Validate.
var (
	ErrNoDeployments = errors.New("deploy: no deployments defined")
	ErrInvalidName   = errors.New("deploy: invalid deployment name")
	ErrDuplicateName = errors.New("deploy: duplicate deployment name")
)

// Load reads and validates a descriptor file.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("deploy: read descriptor: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a descriptor.
func Parse(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("deploy: parse descriptor: %w", err)
	}
	if err := Validate(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks that names are present, path safe and unique.
func Validate(d *Descriptor) error {
	if len(d.Deployments) == 0 {
		return ErrNoDeployments
	}
	seen := make(map[string]bool, len(d.Deployments))
	for i, dep := range d.Deployments {
		if !namePattern.MatchString(dep.Name) {
			return fmt.Errorf("%w: deployments[%d] %q", ErrInvalidName, i, dep.Name)
		}
		if seen[dep.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateName, dep.Name)
		}
		seen[dep.Name] = true
	}
	return nil
}

// Default returns the two standard deployments. "whitelist" allows the land
// vehicle package for both base and subtype settings; "systempropertiesonly"
// has no params and reads the whitelist from the process environment.
func Default() *Descriptor {
	landPkg := catalog.PackagePrefix(land.NewAutomobile())
	return &Descriptor{Deployments: []Deployment{
		{
			Name: WhiteList,
			Params: config.Params{
				polytype.ParamAllowIfBaseTypePrefix: landPkg,
				polytype.ParamAllowIfSubTypePrefix:  landPkg,
			},
		},
		{Name: SystemPropertiesOnly},
	}}
}

// Find returns the deployment called name.
func (d *Descriptor) Find(name string) (Deployment, bool) {
	for _, dep := range d.Deployments {
		if dep.Name == name {
			return dep, true
		}
	}
	return Deployment{}, false
}
