package main

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// cudaProbeCommand reports the locally usable CUDA version, if any.
const cudaProbeCommand = "nvidia-smi"

var cudaVersionPattern = regexp.MustCompile(`CUDA Version:\s*(\d+)\.(\d+)`)

// CUDASelection is the effective CUDA choice for a run. A nil Version means
// no CUDA packages are to be constrained, either because none is usable or
// because the user disabled it.
type CUDASelection struct {
	Version *semver.Version
}

// Constraint emits a package version constraint compatible with the selected
// CUDA major series, e.g. 11.2 -> ">=11.2,<12". It is not pinned exactly so
// that compatible minor releases within the series remain installable.
func (s CUDASelection) Constraint() string {
	if s.Version == nil {
		return ""
	}
	return fmt.Sprintf(">=%d.%d,<%d",
		s.Version.Major(), s.Version.Minor(), s.Version.Major()+1)
}

// selectCUDA applies the CUDA selection policy:
//   - "none" disables CUDA unconditionally;
//   - an explicit "X.Y" always overrides detection;
//   - "auto" (or empty) uses the probed host capability, which may be absent.
func selectCUDA(preference string, cache *runCache) (*CUDASelection, error) {
	preference = strings.TrimSpace(strings.ToLower(preference))

	switch preference {
	case "none":
		return &CUDASelection{}, nil
	case "", "auto":
		version := cache.probeCUDA()
		if version == nil {
			slog.Debug("no usable cuda detected")
			return &CUDASelection{}, nil
		}
		return &CUDASelection{Version: version}, nil
	}

	version, err := semver.NewVersion(preference)
	if err != nil {
		return nil, fmt.Errorf("invalid cuda version %q: %w", preference, err)
	}
	return &CUDASelection{Version: version}, nil
}

// probeCUDAVersion runs the probe command and extracts the reported CUDA
// version. It returns nil when no usable CUDA is available, which is not an
// error.
func probeCUDAVersion(runner commandRunner) *semver.Version {
	output, err := runner(cudaProbeCommand)
	if err != nil {
		return nil
	}

	match := cudaVersionPattern.FindStringSubmatch(output)
	if match == nil {
		return nil
	}

	version, err := semver.NewVersion(match[1] + "." + match[2])
	if err != nil {
		return nil
	}
	return version
}

// commandRunner runs a command line and returns its standard output. It
// exists so the CUDA probe can be substituted in tests.
type commandRunner func(command string) (string, error)
