package main

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func TestStageReplacement(t *testing.T) {
	scratch := t.TempDir()
	payload := []byte("#!/bin/sh\necho new installer\n")
	download := filepath.Join(scratch, "installer.download")
	if err := os.WriteFile(download, payload, 0o644); err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(payload)

	target, err := stageReplacement(scratch, download, hex.EncodeToString(sum[:]), true)
	if err != nil {
		t.Fatalf("stageReplacement() failed: %v", err)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Errorf("staged content = %q, want %q", got, payload)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("staged target not executable: %v", info.Mode())
	}
}

func TestStageReplacementChecksumMismatch(t *testing.T) {
	scratch := t.TempDir()
	download := filepath.Join(scratch, "installer.download")
	if err := os.WriteFile(download, []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}
	wrong := sha256.Sum256([]byte("expected something else"))

	if _, err := stageReplacement(scratch, download, hex.EncodeToString(wrong[:]), true); err == nil {
		t.Fatal("stageReplacement() accepted a tampered download")
	}
}

func TestStageReplacementVerificationDisabled(t *testing.T) {
	scratch := t.TempDir()
	download := filepath.Join(scratch, "installer.download")
	if err := os.WriteFile(download, []byte("unverified"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := stageReplacement(scratch, download, "ignored", false); err != nil {
		t.Errorf("stageReplacement(no verify) failed: %v", err)
	}
}

func TestSelfUpdateNoOp(t *testing.T) {
	tests := []struct {
		testName string
		remote   string
	}{
		{testName: "same version", remote: installerVersion},
		{testName: "older version", remote: "0.0.1"},
		{testName: "unparseable version", remote: "snapshot"},
	}
	for _, tt := range tests {
		t.Run(tt.testName, func(t *testing.T) {
			settings := &Settings{
				Manifest: &Manifest{
					Installer: InstallerInfo{
						Version: tt.remote,
						// Any download attempt would fail loudly.
						URL: "http://127.0.0.1:1/installer",
					},
				},
				ScratchDir: t.TempDir(),
				Client:     http.DefaultClient,
			}
			if err := selfUpdate(settings, nil); err != nil {
				t.Errorf("selfUpdate() failed: %v", err)
			}
		})
	}
}

func TestSelfUpdateDownloadFailureContinues(t *testing.T) {
	// A newer version whose download fails must not abort the installation.
	settings := &Settings{
		Manifest: &Manifest{
			Installer: InstallerInfo{
				Version: "999.0.0",
				URL:     "http://127.0.0.1:1/installer",
			},
		},
		ScratchDir: t.TempDir(),
		Client:     http.DefaultClient,
	}
	if err := selfUpdate(settings, nil); err != nil {
		t.Errorf("selfUpdate() failed: %v", err)
	}
}
