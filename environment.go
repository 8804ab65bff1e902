package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// EnvironmentSpec is the declarative package environment file consumed by
// the bootstrap tool.
type EnvironmentSpec struct {
	Name         string   `yaml:"name,omitempty"`
	Channels     []string `yaml:"channels,omitempty"`
	Dependencies []string `yaml:"dependencies"`
}

// readEnvironmentSpec parses an environment spec file.
func readEnvironmentSpec(name string) (*EnvironmentSpec, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	var spec EnvironmentSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse environment spec: %w", err)
	}
	return &spec, nil
}

// writeEnvironmentSpec writes an environment spec file.
func writeEnvironmentSpec(name string, spec *EnvironmentSpec) error {
	data, err := yaml.Marshal(spec)
	if err != nil {
		return err
	}
	return os.WriteFile(name, data, 0o644)
}

// amendEnvironmentSpec appends the given package constraints to the
// environment spec file, skipping packages already present. This is how the
// resolved CUDA constraint and the build's base packages reach the
// materializer.
func amendEnvironmentSpec(name string, packages []string) error {
	if len(packages) == 0 {
		return nil
	}

	spec, err := readEnvironmentSpec(name)
	if err != nil {
		return err
	}

	present := make(map[string]struct{}, len(spec.Dependencies))
	for _, dep := range spec.Dependencies {
		present[dep] = struct{}{}
	}
	for _, pkg := range packages {
		if _, ok := present[pkg]; ok {
			continue
		}
		spec.Dependencies = append(spec.Dependencies, pkg)
	}

	return writeEnvironmentSpec(name, spec)
}

// buildPackages returns the extra package constraints for a resolved build:
// its base packages plus the CUDA series constraint, when one was selected.
func buildPackages(build *ResolvedBuild) []string {
	packages := append([]string{}, build.BasePackages...)
	if build.CUDAConstraint != "" {
		packages = append(packages, "cuda-version "+build.CUDAConstraint)
	}
	return packages
}
