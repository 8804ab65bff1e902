package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
)

// registrationPayload is the anonymous usage ping sent after a successful
// installation.
type registrationPayload struct {
	Version          string `json:"version"`
	Platform         string `json:"platform"`
	OS               string `json:"os"`
	Arch             string `json:"arch"`
	InstallerVersion string `json:"installer_version"`
}

// registerInstallation posts a registration ping to the manifest's declared
// registration endpoint. It is best-effort; callers downgrade failures to
// warnings.
func registerInstallation(settings *Settings) error {
	url := settings.Manifest.Installer.RegistrationURL
	if url == "" {
		return nil
	}

	payload := registrationPayload{
		Version:          settings.Build.Version,
		Platform:         settings.Platform,
		OS:               runtime.GOOS,
		Arch:             runtime.GOARCH,
		InstallerVersion: installerVersion,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := settings.Client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("registration endpoint returned %d - %s",
			resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return nil
}
