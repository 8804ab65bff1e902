package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

// defaultConfigName is the optional per-user settings file, looked up in the
// home directory. Flags and environment variables take precedence over it.
const defaultConfigName = ".labkit-installer.yaml"

// Config holds defaults that sites can pin for their users, e.g. an internal
// manifest mirror.
type Config struct {
	ManifestURL      string `yaml:"manifestUrl"`
	InstallDir       string `yaml:"installDir"`
	CUDA             string `yaml:"cuda"`
	SkipRegistration bool   `yaml:"skipRegistration"`
	SkipSSLVerify    bool   `yaml:"skipSslVerify"`
}

// LoadConfig reads the configuration from a reader into `cfg`.
func LoadConfig(r io.Reader, cfg *Config) error {
	if r == nil {
		return nil
	}
	return yaml.NewDecoder(r).Decode(cfg)
}

// LoadConfigFile reads the configuration from a file into `cfg`. A missing
// file leaves cfg untouched.
func LoadConfigFile(name string, cfg *Config) error {
	file, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer func() {
		_ = file.Close()
	}()
	if err := LoadConfig(file, cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// applyConfigDefaults fills request fields the user left empty from the
// settings file.
func applyConfigDefaults(req *InstallRequest, cfg Config) {
	if req.ManifestURL == "" {
		req.ManifestURL = cfg.ManifestURL
	}
	if req.Dest == "" {
		req.Dest = cfg.InstallDir
	}
	if req.CUDA == "" || req.CUDA == "auto" {
		if cfg.CUDA != "" {
			req.CUDA = cfg.CUDA
		}
	}
	if cfg.SkipRegistration {
		req.SkipRegistration = true
	}
	if cfg.SkipSSLVerify {
		req.SkipSSLVerify = true
	}
}

// defaultConfigPath returns the per-user settings file path, or "" when the
// home directory cannot be determined.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultConfigName)
}
