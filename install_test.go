package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testSettings(t *testing.T, dest string) *Settings {
	t.Helper()
	return &Settings{
		Request:    InstallRequest{Dest: dest},
		Platform:   "linux-64",
		Build:      &ResolvedBuild{Version: "6.2.0", Build: Build{Platform: "linux-64"}},
		Dest:       dest,
		ScratchDir: t.TempDir(),
		HomeDir:    t.TempDir(),
	}
}

func confirmWith(answer bool) func(string) (bool, error) {
	return func(string) (bool, error) {
		return answer, nil
	}
}

func TestPrepareDestinationFresh(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "labkit")
	inst := newInstaller(testSettings(t, dest))
	inst.confirm = func(string) (bool, error) {
		t.Fatal("confirm called for a fresh destination")
		return false, nil
	}

	if err := inst.prepareDestination(); err != nil {
		t.Fatalf("prepareDestination() failed: %v", err)
	}
	if !inst.destCreated {
		t.Error("destCreated = false")
	}
	if inst.movedAside != "" {
		t.Errorf("movedAside = %q, want empty", inst.movedAside)
	}
	info, err := os.Stat(dest)
	if err != nil || !info.IsDir() {
		t.Errorf("destination not created: %v", err)
	}
}

func TestPrepareDestinationDeclined(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "labkit")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}
	inst := newInstaller(testSettings(t, dest))
	inst.confirm = confirmWith(false)

	err := inst.prepareDestination()
	var abort *UserAbortError
	if !errors.As(err, &abort) {
		t.Fatalf("prepareDestination() error = %v, want UserAbortError", err)
	}
	if inst.movedAside != "" {
		t.Errorf("declined overwrite still moved the installation to %q", inst.movedAside)
	}
}

func TestPrepareDestinationUpdateKeepsTree(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "labkit")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}
	sentinel := filepath.Join(dest, "keep")
	if err := os.WriteFile(sentinel, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	settings := testSettings(t, dest)
	settings.Request.Update = true
	inst := newInstaller(settings)
	inst.confirm = func(string) (bool, error) {
		t.Fatal("confirm called for an in-place update")
		return false, nil
	}

	if err := inst.prepareDestination(); err != nil {
		t.Fatalf("prepareDestination() failed: %v", err)
	}
	if _, err := os.Stat(sentinel); err != nil {
		t.Errorf("existing tree was disturbed: %v", err)
	}
	if inst.destCreated {
		t.Error("destCreated = true for an in-place update")
	}
}

func TestRollbackRestoresPrevious(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "labkit")
	if err := os.MkdirAll(filepath.Join(dest, "etc"), 0o755); err != nil {
		t.Fatal(err)
	}
	original := []byte("6.1.0\n")
	marker := filepath.Join(dest, "etc", "labkit-version")
	if err := os.WriteFile(marker, original, 0o644); err != nil {
		t.Fatal(err)
	}

	inst := newInstaller(testSettings(t, dest))
	inst.confirm = confirmWith(true)

	if err := inst.prepareDestination(); err != nil {
		t.Fatalf("prepareDestination() failed: %v", err)
	}
	if inst.movedAside == "" {
		t.Fatal("existing installation was not moved aside")
	}
	// Simulate a partial install, then fail.
	if err := os.WriteFile(filepath.Join(dest, "partial"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	inst.rollback()

	got, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("previous installation not restored: %v", err)
	}
	if diff := cmp.Diff(string(original), string(got)); diff != "" {
		t.Errorf("restored content mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(dest, "partial")); !os.IsNotExist(err) {
		t.Error("partial installation content survived the rollback")
	}
	if _, err := os.Stat(inst.movedAside); !os.IsNotExist(err) {
		t.Error("moved-aside copy left behind after restore")
	}
}

func TestRollbackUpdateKeepsDestination(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "labkit")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}

	settings := testSettings(t, dest)
	settings.Request.Update = true
	inst := newInstaller(settings)

	if err := inst.prepareDestination(); err != nil {
		t.Fatal(err)
	}
	inst.rollback()

	if _, err := os.Stat(dest); err != nil {
		t.Errorf("in-place update rollback removed the destination: %v", err)
	}
}

func TestDiscardMovedAside(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "labkit")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}

	inst := newInstaller(testSettings(t, dest))
	inst.confirm = confirmWith(true)
	if err := inst.prepareDestination(); err != nil {
		t.Fatal(err)
	}
	aside := inst.movedAside

	inst.discardMovedAside()

	if _, err := os.Stat(aside); !os.IsNotExist(err) {
		t.Error("previous installation not discarded")
	}
	if inst.movedAside != "" {
		t.Errorf("movedAside = %q after discard, want empty", inst.movedAside)
	}
}

func TestFinalize(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "labkit")
	settings := testSettings(t, dest)
	inst := newInstaller(settings)
	if err := inst.prepareDestination(); err != nil {
		t.Fatal(err)
	}

	envFile := filepath.Join(settings.ScratchDir, "environment.yml")
	if err := os.WriteFile(envFile, []byte("dependencies:\n  - labkit-base\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := inst.finalize(envFile); err != nil {
		t.Fatalf("finalize() failed: %v", err)
	}

	version, exists := detectExistingInstall(dest)
	if !exists || version != "6.2.0" {
		t.Errorf("detectExistingInstall() = %q, %v; want %q, true", version, exists, "6.2.0")
	}

	record, err := readRecordFile(filepath.Join(dest, "etc", "labkit-release.yaml"))
	if err != nil {
		t.Fatalf("read install record: %v", err)
	}
	if record.Version != "6.2.0" || record.Platform != "linux-64" {
		t.Errorf("install record = %+v", record)
	}
	if record.InstallerVersion != installerVersion {
		t.Errorf("recorded installer version = %q, want %q", record.InstallerVersion, installerVersion)
	}

	if _, err := os.Stat(filepath.Join(dest, "etc", "environment.yml")); err != nil {
		t.Errorf("environment spec not persisted: %v", err)
	}
}

func TestDetectExistingInstall(t *testing.T) {
	dir := t.TempDir()

	// Absent destination.
	if version, exists := detectExistingInstall(filepath.Join(dir, "missing")); exists || version != "" {
		t.Errorf("detectExistingInstall(missing) = %q, %v", version, exists)
	}

	// Destination without a marker: exists, version unknown.
	dest := filepath.Join(dir, "partial")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}
	if version, exists := detectExistingInstall(dest); !exists || version != "" {
		t.Errorf("detectExistingInstall(unmarked) = %q, %v", version, exists)
	}

	// Completed installation.
	if err := os.MkdirAll(filepath.Join(dest, "etc"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dest, "etc", "labkit-version"), []byte("6.1.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if version, exists := detectExistingInstall(dest); !exists || version != "6.1.0" {
		t.Errorf("detectExistingInstall(complete) = %q, %v", version, exists)
	}
}

func TestInstall(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, "dst")
	if err := Install(src, dst); err != nil {
		t.Fatalf("Install() failed: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Errorf("installed content = %q", got)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := info.Mode().Perm(), os.FileMode(0o755); got != want {
		t.Errorf("installed mode = %v, want %v", got, want)
	}

	// Overwriting keeps the previous image next to the destination.
	if err := os.WriteFile(src, []byte("payload v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Install(src, dst); err != nil {
		t.Fatalf("Install(overwrite) failed: %v", err)
	}
	got, err = os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload v2" {
		t.Errorf("overwritten content = %q", got)
	}
}
