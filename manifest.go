package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/AsaiYusuke/jsonpath"

	"go.labkit.dev/installer/internal/metaerr"
)

// manifestCommentMarker introduces full-line comments in the release
// manifest. Marked lines are stripped before the manifest is parsed as JSON.
const manifestCommentMarker = "//"

// defaultManifestURL is where release manifests are published.
const defaultManifestURL = "https://releases.labkit.dev/manifest.json"

// InstallerInfo describes the latest release of this installer itself.
type InstallerInfo struct {
	Version         string `json:"version"`
	URL             string `json:"url"`
	SHA256          string `json:"sha256"`
	RegistrationURL string `json:"registration_url,omitempty"`
	LicenseURL      string `json:"license_url,omitempty"`
}

// Extra is an optional add-on environment attached to a build.
type Extra struct {
	Environment string `json:"environment"`
	SHA256      string `json:"sha256"`
}

// Build is one platform-specific installable unit of a release.
type Build struct {
	Platform     string           `json:"platform"`
	Environment  string           `json:"environment"`
	SHA256       string           `json:"sha256"`
	CUDAEnabled  bool             `json:"cuda_enabled,omitempty"`
	BasePackages []string         `json:"base_packages,omitempty"`
	Extras       map[string]Extra `json:"extras,omitempty"`

	// Output carries expected output-line counts for progress reporting.
	// Its shape has changed across manifest revisions, so it is kept raw
	// and queried with a JSONPath (see installProgressHint).
	Output map[string]any `json:"output,omitempty"`
}

// BootstrapTool is the download location of the minimal environment
// materializer for one platform.
type BootstrapTool struct {
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

// bootstrapVariants are the recognized bootstrap tool flavors, in order of
// preference, for manifests that key bootstrap entries by tool variant.
var bootstrapVariants = []string{"conda", "micromamba"}

func (t *BootstrapTool) UnmarshalJSON(data []byte) error {
	// Either {"url": ..., "sha256": ...} or {"<variant>": {"url": ...}}.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if _, ok := raw["url"]; ok {
		type plain BootstrapTool
		var tool plain
		if err := json.Unmarshal(data, &tool); err != nil {
			return err
		}
		*t = BootstrapTool(tool)
		return nil
	}

	for _, variant := range bootstrapVariants {
		value, ok := raw[variant]
		if !ok {
			continue
		}
		type plain BootstrapTool
		var tool plain
		if err := json.Unmarshal(value, &tool); err != nil {
			return err
		}
		*t = BootstrapTool(tool)
		return nil
	}
	return fmt.Errorf("no recognized bootstrap tool variant")
}

// Manifest is the versioned descriptor of available builds, the bootstrap
// tool per platform, and the installer's own latest version.
type Manifest struct {
	Installer InstallerInfo            `json:"installer"`
	Bootstrap map[string]BootstrapTool `json:"bootstrap"`
	Versions  Versions                 `json:"versions"`
}

// Versions maps version strings to build lists, plus the "latest" alias.
type Versions struct {
	Latest string
	Builds map[string][]Build
}

func (v *Versions) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	v.Builds = make(map[string][]Build, len(raw))
	for key, value := range raw {
		if key == "latest" {
			if err := json.Unmarshal(value, &v.Latest); err != nil {
				return fmt.Errorf("versions.latest: %w", err)
			}
			continue
		}
		var builds []Build
		if err := json.Unmarshal(value, &builds); err != nil {
			return fmt.Errorf("versions.%s: %w", key, err)
		}
		v.Builds[key] = builds
	}
	return nil
}

// Available returns all declared version strings, newest first.
func (v Versions) Available() []string {
	versions := make([]string, 0, len(v.Builds))
	for version := range v.Builds {
		versions = append(versions, version)
	}
	return sortVersionStrings(versions)
}

// stripManifestComments removes full-line comments from manifest data.
func stripManifestComments(data []byte) []byte {
	lines := bytes.Split(data, []byte("\n"))
	kept := make([][]byte, 0, len(lines))
	for _, line := range lines {
		if bytes.HasPrefix(bytes.TrimSpace(line), []byte(manifestCommentMarker)) {
			continue
		}
		kept = append(kept, line)
	}
	return bytes.Join(kept, []byte("\n"))
}

// ParseManifest parses manifest data after stripping full-line comments.
func ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(stripManifestComments(data), &manifest); err != nil {
		return nil, &ManifestFormatError{Err: err}
	}
	return &manifest, nil
}

// DownloadManifest fetches and parses the release manifest. url may point at
// a local file.
func DownloadManifest(client *http.Client, url string, scratchDir string) (*Manifest, error) {
	dest := filepath.Join(scratchDir, "manifest.json")
	if err := DownloadFile(client, url, dest, nil); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		return nil, metaerr.WithMetadata(fmt.Errorf("read manifest: %w", err), "url", url)
	}
	return ParseManifest(data)
}

// ResolvedBuild is the chosen build augmented with the version string it was
// resolved from and the effective CUDA selection.
type ResolvedBuild struct {
	Build

	// Version is the resolved version string, with the "latest" alias
	// replaced by its target.
	Version string

	// CUDAConstraint is the package version constraint for the host's CUDA
	// series, e.g. ">=11.2,<12", or empty when CUDA is not in play.
	CUDAConstraint string

	// CUDAVersion is the effective CUDA version the constraint was derived
	// from, e.g. "11.2".
	CUDAVersion string
}

// ResolveBuild selects the build matching the platform and requested version
// and applies the CUDA selection policy.
func ResolveBuild(manifest *Manifest, platform string, requested string, cuda *CUDASelection) (*ResolvedBuild, error) {
	version := requested
	if version == "" || version == "latest" {
		version = manifest.Versions.Latest
	}

	builds, ok := manifest.Versions.Builds[version]
	if !ok {
		return nil, &UnknownVersionError{
			Requested: requested,
			Available: manifest.Versions.Available(),
		}
	}

	var matches []Build
	for _, build := range builds {
		if build.Platform == platform {
			matches = append(matches, build)
		}
	}
	if len(matches) == 0 {
		return nil, &BuildNotAvailableError{Version: version, Platform: platform}
	}

	resolved := &ResolvedBuild{
		Build:   matches[0],
		Version: version,
	}

	// A CUDA constraint is only attached to builds flagged as CUDA-capable.
	// An unusable preference degrades to the plain build rather than failing
	// resolution.
	if cuda != nil && resolved.CUDAEnabled && cuda.Version != nil {
		resolved.CUDAConstraint = cuda.Constraint()
		resolved.CUDAVersion = cuda.Version.String()
	}

	return resolved, nil
}

// installProgressHint returns the expected number of output lines produced
// by the environment install for this build, or 0 when the manifest carries
// no usable hint. Older manifests publish "output.install" as a plain string
// count, newer ones as an object with per-category counts.
func installProgressHint(build Build) int {
	if build.Output == nil {
		return 0
	}

	results, err := jsonpath.Retrieve("$.install", any(build.Output))
	if err != nil || len(results) == 0 {
		return 0
	}

	switch hint := results[0].(type) {
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(hint), "%d", &n); err == nil {
			return n
		}
	case float64:
		return int(hint)
	case map[string]any:
		values, err := jsonpath.Retrieve("$.value.*", results[0])
		if err != nil {
			return 0
		}
		var total int
		for _, value := range values {
			if n, ok := value.(float64); ok {
				total += int(n)
			}
		}
		return total
	}
	return 0
}

// bootstrapFor returns the bootstrap tool metadata for the platform.
func bootstrapFor(manifest *Manifest, platform string) (BootstrapTool, error) {
	tool, ok := manifest.Bootstrap[platform]
	if !ok {
		return BootstrapTool{}, metaerr.WithMetadata(
			fmt.Errorf("no bootstrap tool for platform"),
			"platform", platform,
		)
	}
	return tool, nil
}
