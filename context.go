package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// defaultDestDir is where the distribution is installed unless overridden.
const defaultDestDir = "/usr/local/labkit"

// destEnvVar names the installation directory in the user's environment.
const destEnvVar = "LABKITDIR"

// InstallRequest captures user intent exactly as given on the command line.
// Nothing in it is resolved or validated; that happens in one pass in
// resolveSettings.
type InstallRequest struct {
	Dest             string
	Version          string
	CUDA             string
	Extras           []string
	Update           bool
	NoSelfUpdate     bool
	NoChecksum       bool
	SkipRegistration bool
	SkipSSLVerify    bool
	ManifestURL      string
	ScratchDir       string
	HomeDir          string
	ProgressFile     string
}

// Settings is the fully-resolved, immutable configuration of one run.
// Resolution order is platform, manifest, build, destination, admin
// requirement; the admin credential is acquired lazily, at most once.
type Settings struct {
	Request InstallRequest

	Platform   string
	Manifest   *Manifest
	Build      *ResolvedBuild
	CUDA       *CUDASelection
	Dest       string
	NeedsAdmin bool
	ScratchDir string
	HomeDir    string
	Client     *http.Client

	credentialOnce sync.Once
	credential     string
	credentialErr  error
}

// runCache memoizes per-run lookups (manifest download, CUDA probe) behind
// an explicit object so that tests can reset it between cases.
type runCache struct {
	mu sync.Mutex

	manifest    *Manifest
	manifestURL string

	cudaProbed  bool
	cudaVersion *semver.Version

	probeRunner commandRunner
}

func newRunCache() *runCache {
	return &runCache{
		probeRunner: func(command string) (string, error) {
			return checkOutput(command, ProcessOptions{})
		},
	}
}

// Reset drops all memoized values.
func (c *runCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manifest = nil
	c.manifestURL = ""
	c.cudaProbed = false
	c.cudaVersion = nil
}

// getManifest downloads the manifest once per run and memoizes it.
func (c *runCache) getManifest(client *http.Client, url string, scratchDir string) (*Manifest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.manifest != nil && c.manifestURL == url {
		return c.manifest, nil
	}

	manifest, err := DownloadManifest(client, url, scratchDir)
	if err != nil {
		return nil, err
	}
	c.manifest = manifest
	c.manifestURL = url
	return manifest, nil
}

// probeCUDA probes the host for a usable CUDA version once per run.
func (c *runCache) probeCUDA() *semver.Version {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cudaProbed {
		c.cudaVersion = probeCUDAVersion(c.probeRunner)
		c.cudaProbed = true
	}
	return c.cudaVersion
}

// identifyPlatform maps the host OS and CPU to a manifest platform id.
func identifyPlatform(goos, goarch string) (string, error) {
	switch {
	case goos == "linux" && goarch == "amd64":
		return "linux-64", nil
	case goos == "darwin" && goarch == "amd64":
		return "macos-64", nil
	case goos == "darwin" && goarch == "arm64":
		return "macos-M1", nil
	}
	return "", &UnsupportedPlatformError{OS: goos, Arch: goarch}
}

// resolveSettings performs the single resolution pass from user intent to
// immutable run settings.
func resolveSettings(req InstallRequest, cache *runCache) (*Settings, error) {
	platform, err := identifyPlatform(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return nil, err
	}

	client := defaultClient()
	if req.SkipSSLVerify {
		client = insecureClient()
	}

	scratchDir := req.ScratchDir
	if scratchDir == "" {
		scratchDir, err = os.MkdirTemp("", "labkit-installer-*")
		if err != nil {
			return nil, fmt.Errorf("create scratch dir: %w", err)
		}
	}

	homeDir := req.HomeDir
	if homeDir == "" {
		homeDir, err = os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("determine home dir: %w", err)
		}
	}

	manifestURL := req.ManifestURL
	if manifestURL == "" {
		manifestURL = defaultManifestURL
	}
	manifest, err := cache.getManifest(client, manifestURL, scratchDir)
	if err != nil {
		return nil, err
	}

	cuda, err := selectCUDA(req.CUDA, cache)
	if err != nil {
		return nil, err
	}

	version := req.Version
	if version == "" {
		version = "latest"
	}
	build, err := ResolveBuild(manifest, platform, version, cuda)
	if err != nil {
		return nil, err
	}

	dest := expandPath(req.Dest)
	if dest == "" {
		dest = defaultDestDir
	}
	dest, err = filepath.Abs(dest)
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}

	return &Settings{
		Request:    req,
		Platform:   platform,
		Manifest:   manifest,
		Build:      build,
		CUDA:       cuda,
		Dest:       dest,
		NeedsAdmin: needsAdmin(dest),
		ScratchDir: scratchDir,
		HomeDir:    homeDir,
		Client:     client,
	}, nil
}

// AdminPassword returns the cached administrator credential, acquiring and
// validating it on first use. Only one code path ever writes the cache.
func (s *Settings) AdminPassword() (string, error) {
	s.credentialOnce.Do(func() {
		if !s.NeedsAdmin {
			return
		}
		s.credential, s.credentialErr = getAdminPassword(nil, nil)
	})
	return s.credential, s.credentialErr
}

// processOptions returns the options for invoking external commands with or
// without elevation, forwarding the destination env var across the boundary.
func (s *Settings) processOptions() (ProcessOptions, error) {
	opts := ProcessOptions{
		Env: map[string]string{destEnvVar: s.Dest},
	}
	if !s.NeedsAdmin {
		return opts, nil
	}
	password, err := s.AdminPassword()
	if err != nil {
		return opts, err
	}
	opts.Admin = true
	opts.Password = password
	return opts, nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		path = filepath.Join("${HOME}", path[1:])
	}
	return os.ExpandEnv(path)
}
