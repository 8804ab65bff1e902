package main

import (
	"crypto"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/pterm/pterm"
)

// noSelfUpdateFlag is forced onto the relaunched argument vector so the
// update chain cannot loop, even against an inconsistent manifest.
const noSelfUpdateFlag = "-no-self-update"

// selfUpdate replaces the running installer with the manifest's declared
// latest version, if that is strictly newer. On success it relaunches the
// new binary with the original arguments plus noSelfUpdateFlag and does not
// return. A checksum mismatch aborts only the update, leaving the current
// version to carry on.
func selfUpdate(settings *Settings, argv []string) error {
	info := settings.Manifest.Installer

	remote, err := ParseVersion(info.Version)
	if err != nil {
		slog.Warn("unparseable installer version in manifest", "version", info.Version)
		return nil
	}
	current, err := ParseVersion(installerVersion)
	if err != nil {
		return fmt.Errorf("parse installer version %q: %w", installerVersion, err)
	}

	if !current.Less(remote) {
		slog.Debug("installer is up to date",
			"current", current.String(), "remote", remote.String())
		return nil
	}

	pterm.Info.Printfln("A newer installer (%s) is available, updating...", remote)

	download := filepath.Join(settings.ScratchDir, "installer.download")
	if err := DownloadFile(settings.Client, info.URL, download, nil); err != nil {
		slog.Warn("installer download failed, continuing with current version", "error", err)
		return nil
	}

	target, err := stageReplacement(settings.ScratchDir, download, info.SHA256, !settings.Request.NoChecksum)
	if err != nil {
		pterm.Warning.Printfln("Skipping installer update: %v", err)
		slog.Warn("installer update skipped", "error", err)
		return nil
	}

	return relaunch(target, argv)
}

// stageReplacement writes the downloaded installer to a disposable
// executable path, verifying its checksum during the apply unless
// verification is disabled.
func stageReplacement(scratchDir string, download string, sha256sum string, verify bool) (string, error) {
	target := filepath.Join(scratchDir, "labkit-installer.new")

	// The applier swaps the new image into an existing target, so seed the
	// target with the current executable.
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate current executable: %w", err)
	}
	if err := Install(self, target); err != nil {
		return "", fmt.Errorf("stage replacement target: %w", err)
	}

	opts := goupdate.Options{
		TargetPath: target,
		TargetMode: 0o755,
	}
	if verify {
		checksum, err := hex.DecodeString(sha256sum)
		if err != nil {
			return "", fmt.Errorf("invalid installer checksum in manifest: %w", err)
		}
		opts.Checksum = checksum
		opts.Hash = crypto.SHA256
	}

	in, err := os.Open(download)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = in.Close()
	}()

	if err := goupdate.Apply(in, opts); err != nil {
		if rerr := goupdate.RollbackError(err); rerr != nil {
			slog.Error("rollback of staged installer failed", "error", rerr)
		}
		return "", err
	}
	return target, nil
}

// relaunch replaces the current process image with the updated installer,
// preserving the original argument vector.
func relaunch(target string, argv []string) error {
	args := append([]string{target}, argv...)
	args = append(args, noSelfUpdateFlag)

	slog.Info("relaunching updated installer", "path", target)
	if err := syscall.Exec(target, args, os.Environ()); err != nil {
		return fmt.Errorf("relaunch updated installer: %w", err)
	}
	return nil
}
