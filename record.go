package main

import (
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// InstallRecord is written into the installed tree when an installation
// completes. It records the provenance of the install for later upgrades
// and support diagnostics.
type InstallRecord struct {
	Installed        time.Time `yaml:"installed"`
	Version          string    `yaml:"version"`
	Platform         string    `yaml:"platform"`
	Environment      string    `yaml:"environment"`
	SHA256           string    `yaml:"sha256"`
	CUDAVersion      string    `yaml:"cudaVersion,omitempty"`
	InstallerVersion string    `yaml:"installerVersion"`
	Extras           []string  `yaml:"extras,omitempty"`
}

func newInstallRecord(settings *Settings) InstallRecord {
	return InstallRecord{
		Installed:        time.Now().UTC(),
		Version:          settings.Build.Version,
		Platform:         settings.Platform,
		Environment:      settings.Build.Environment,
		SHA256:           settings.Build.SHA256,
		CUDAVersion:      settings.Build.CUDAVersion,
		InstallerVersion: installerVersion,
		Extras:           settings.Request.Extras,
	}
}

func readRecordFile(name string) (InstallRecord, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return InstallRecord{}, err
	}
	var record InstallRecord
	if err := yaml.Unmarshal(data, &record); err != nil {
		return InstallRecord{}, err
	}
	return record, nil
}

func writeRecordFile(name string, record InstallRecord) error {
	data, err := yaml.Marshal(record)
	if err != nil {
		return err
	}
	return os.WriteFile(name, data, 0o644)
}
