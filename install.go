package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"

	"go.labkit.dev/installer/internal/metaerr"
)

// Install copies the source file to the destination file
// and sets the destination file's permissions to `rwxr-x--x`.
func Install(src string, dst string) error {
	ifile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = ifile.Close()
	}()

	dstDir := filepath.Dir(dst)
	dstName := filepath.Base(dst)

	// write src to new temporary dst
	dstNew := filepath.Join(dstDir, fmt.Sprintf(".%s.new", dstName))
	ofile, err := os.OpenFile(dstNew, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	defer func() {
		_ = ofile.Close()
	}()

	_, err = io.Copy(ofile, ifile)
	if err != nil {
		return err
	}

	// close ofile here, since windows wouldn't let us move the new file
	_ = ofile.Close()

	if _, err := os.Stat(dst); err == nil { // file exists
		dstOld := filepath.Join(dstDir, fmt.Sprintf(".%s.old", dstName))

		// delete existing old file (for windows' sake)
		_ = os.Remove(dstOld)

		// move existing file
		if err := os.Rename(dst, dstOld); err != nil {
			return err
		}
	}

	// move the new file
	if err := os.Rename(dstNew, dst); err != nil {
		return err
	}

	return nil
}

// installer drives one installation run and keeps the state the rollback
// handler needs afterwards.
type installer struct {
	settings *Settings

	// confirm asks the user a yes/no question. Injectable for tests.
	confirm func(message string) (bool, error)

	// movedAside is where a pre-existing installation was parked, if any.
	movedAside string

	// destCreated records whether this run created the destination, and so
	// whether the rollback handler may remove it.
	destCreated bool
}

func newInstaller(settings *Settings) *installer {
	return &installer{
		settings: settings,
		confirm: func(message string) (bool, error) {
			return pterm.DefaultInteractiveConfirm.Show(message)
		},
	}
}

// run executes the installation sequence. Failures in finalization, cleanup,
// configuration and registration are downgraded to warnings; everything else
// propagates to the rollback handler.
func (inst *installer) run() error {
	if err := inst.prepareDestination(); err != nil {
		return err
	}

	tool, err := inst.acquireBootstrap()
	if err != nil {
		return err
	}

	envFile, err := inst.installEnvironments(tool)
	if err != nil {
		return err
	}

	inst.warnOnly("finalize installation", inst.finalize(envFile))
	inst.warnOnly("post-install cleanup", inst.postCleanup(tool))
	inst.warnOnly("configure shell", configureShell(currentShell(), inst.settings.HomeDir, inst.settings.Dest))
	inst.warnOnly("configure MATLAB", configureMATLAB(inst.settings.HomeDir, inst.settings.Dest))
	if !inst.settings.Request.SkipRegistration {
		inst.warnOnly("register installation", registerInstallation(inst.settings))
	}

	inst.discardMovedAside()
	return nil
}

// newProgress creates a progress display, attached to the run's progress file
// when one was requested, so wrapper applications can track the step.
func (inst *installer) newProgress(title string, label string) *Progress {
	var opts []ProgressOption
	if file := inst.settings.Request.ProgressFile; file != "" {
		opts = append(opts, WithProgressFile(label, file))
	}
	return NewProgress(title, opts...)
}

func (inst *installer) warnOnly(step string, err error) {
	if err == nil {
		return
	}
	pterm.Warning.Printfln("%s failed (installation is still usable): %v", step, err)
	slog.Warn("non-fatal step failed", "step", step, "error", err)
}

// prepareDestination confirms overwriting an existing installation, moves it
// aside so it can be restored if this run fails, and creates the destination
// directory. In-place updates keep the existing tree.
func (inst *installer) prepareDestination() error {
	dest := inst.settings.Dest

	if pathExists(dest) {
		if inst.settings.Request.Update {
			slog.Info("updating existing installation in place", "dest", dest)
			return nil
		}

		prompt := fmt.Sprintf("Destination %s already exists. Overwrite it?", dest)
		ok, err := inst.confirm(prompt)
		if err != nil {
			return err
		}
		if !ok {
			return &UserAbortError{Prompt: prompt}
		}

		aside := fmt.Sprintf("%s.prev.%d", dest, os.Getpid())
		if err := inst.rename(dest, aside); err != nil {
			return fmt.Errorf("move existing installation aside: %w", err)
		}
		inst.movedAside = aside
		slog.Info("moved existing installation aside", "from", dest, "to", aside)
	}

	if err := inst.mkdirAll(dest); err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	inst.destCreated = true
	return nil
}

// rollback recovers from a failed run: a fresh install's partial destination
// is removed and any moved-aside prior installation is restored. In-place
// updates keep the destination since it may still be partially usable.
func (inst *installer) rollback() {
	dest := inst.settings.Dest

	if inst.settings.Request.Update {
		pterm.Warning.Printfln(
			"Update of %s failed; the existing installation has been left in place.", dest)
		return
	}

	if inst.destCreated && pathExists(dest) {
		if err := inst.removeAll(dest); err != nil {
			slog.Error("failed to remove partial installation", "dest", dest, "error", err)
		}
	}

	if inst.movedAside != "" {
		if err := inst.rename(inst.movedAside, dest); err != nil {
			slog.Error("failed to restore previous installation",
				"from", inst.movedAside, "to", dest, "error", err)
			pterm.Error.Printfln("Your previous installation is preserved at %s", inst.movedAside)
			return
		}
		pterm.Info.Printfln("Restored previous installation at %s", dest)
	}
}

// discardMovedAside deletes the parked prior installation. Only called once
// the new installation has fully succeeded.
func (inst *installer) discardMovedAside() {
	if inst.movedAside == "" {
		return
	}
	if err := inst.removeAll(inst.movedAside); err != nil {
		inst.warnOnly("remove previous installation", err)
		return
	}
	inst.movedAside = ""
}

// acquireBootstrap downloads, verifies and installs the bootstrap tool into
// the destination, returning the path of its executable. An executable left
// by a previous run (in-place updates) is reused.
func (inst *installer) acquireBootstrap() (string, error) {
	settings := inst.settings
	dest := settings.Dest

	for _, candidate := range []string{"bin/conda", "bin/micromamba"} {
		if tool := filepath.Join(dest, candidate); pathExists(tool) {
			slog.Info("reusing existing bootstrap tool", "tool", tool)
			return tool, nil
		}
	}

	meta, err := bootstrapFor(settings.Manifest, settings.Platform)
	if err != nil {
		return "", err
	}

	local := filepath.Join(settings.ScratchDir, filepath.Base(meta.URL))
	progress := inst.newProgress("Downloading bootstrap tool", "download_bootstrap")
	err = DownloadFile(settings.Client, meta.URL, local, downloadProgress(progress))
	progress.Stop()
	if err != nil {
		return "", err
	}
	if !settings.Request.NoChecksum {
		if err := verifyChecksum(local, meta.SHA256); err != nil {
			return "", err
		}
	}

	opts, err := settings.processOptions()
	if err != nil {
		return "", err
	}

	if strings.HasSuffix(meta.URL, ".sh") {
		// Self-extracting installer script; -b for batch mode, -p for prefix.
		command := fmt.Sprintf("sh %s -b -p %s", local, dest)
		if err := monitorProgress([]string{command}, 0, opts, inst.newProgress("Installing bootstrap tool", "bootstrap")); err != nil {
			return "", err
		}
		return filepath.Join(dest, "bin", "conda"), nil
	}

	// Archive distribution carrying a standalone executable.
	extracted, err := Extract(local, "bin/micromamba")
	if err != nil {
		return "", metaerr.WithMetadata(
			fmt.Errorf("extract bootstrap tool: %w", err),
			"archive", local,
		)
	}
	tool := filepath.Join(dest, "bin", "micromamba")
	if err := inst.mkdirAll(filepath.Dir(tool)); err != nil {
		return "", err
	}
	if err := inst.copyFile(extracted, tool); err != nil {
		return "", err
	}
	return tool, nil
}

// installEnvironments installs the base packages, the main environment and
// any requested extra environments. It returns the path of the amended main
// environment spec for finalization.
func (inst *installer) installEnvironments(tool string) (string, error) {
	settings := inst.settings
	build := settings.Build

	opts, err := settings.processOptions()
	if err != nil {
		return "", err
	}

	if len(build.BasePackages) > 0 {
		command := fmt.Sprintf("%s install -y -p %s %s",
			tool, settings.Dest, strings.Join(build.BasePackages, " "))
		err := monitorProgress([]string{command}, 0, opts, inst.newProgress("Installing base packages", "base"))
		if err != nil {
			return "", err
		}
	}

	envFile, err := inst.fetchEnvironmentSpec(
		"environment.yml", build.Environment, build.SHA256)
	if err != nil {
		return "", err
	}

	command := fmt.Sprintf("%s env update -p %s -f %s", tool, settings.Dest, envFile)
	hint := installProgressHint(build.Build)
	title := fmt.Sprintf("Installing LabKit %s", build.Version)
	if err := monitorProgress([]string{command}, hint, opts, inst.newProgress(title, "install")); err != nil {
		return "", err
	}

	for _, name := range settings.Request.Extras {
		extra, ok := build.Extras[name]
		if !ok {
			return "", metaerr.WithMetadata(
				fmt.Errorf("extra environment not available for this build"),
				"extra", name,
			)
		}
		extraFile, err := inst.fetchEnvironmentSpec(
			fmt.Sprintf("environment-%s.yml", name), extra.Environment, extra.SHA256)
		if err != nil {
			return "", err
		}
		envDest := filepath.Join(settings.Dest, "envs", name)
		command := fmt.Sprintf("%s env create -p %s -f %s", tool, envDest, extraFile)
		title := fmt.Sprintf("Installing extra environment %s", name)
		if err := monitorProgress([]string{command}, 0, opts, inst.newProgress(title, "extra_"+name)); err != nil {
			return "", err
		}
	}

	return envFile, nil
}

// fetchEnvironmentSpec downloads and verifies an environment spec and amends
// it with the build's package constraints. The CUDA selection policy applies
// to the main environment and every extra alike. A checksum mismatch here is
// fatal: the integrity of the environment spec is non-negotiable.
func (inst *installer) fetchEnvironmentSpec(name string, url string, sha256sum string) (string, error) {
	settings := inst.settings

	local := filepath.Join(settings.ScratchDir, name)
	progress := inst.newProgress("Downloading "+name, "download")
	err := DownloadFile(settings.Client, url, local, downloadProgress(progress))
	progress.Stop()
	if err != nil {
		return "", err
	}
	if !settings.Request.NoChecksum {
		if err := verifyChecksum(local, sha256sum); err != nil {
			return "", err
		}
	}

	if err := amendEnvironmentSpec(local, buildPackages(settings.Build)); err != nil {
		return "", err
	}
	return local, nil
}

// finalize persists the version marker, the resolved environment spec, the
// install record and this installer's own executable into the installed
// tree. A destination never carries the marker unless finalization actually
// completed.
func (inst *installer) finalize(envFile string) error {
	settings := inst.settings
	etcDir := filepath.Join(settings.Dest, "etc")
	if err := inst.mkdirAll(etcDir); err != nil {
		return err
	}

	record := newInstallRecord(settings)
	recordFile := filepath.Join(settings.ScratchDir, "labkit-release.yaml")
	if err := writeRecordFile(recordFile, record); err != nil {
		return err
	}
	if err := inst.copyFile(recordFile, filepath.Join(etcDir, "labkit-release.yaml")); err != nil {
		return err
	}

	if err := inst.copyFile(envFile, filepath.Join(etcDir, "environment.yml")); err != nil {
		return err
	}

	if self, err := os.Executable(); err == nil {
		if err := inst.copyFile(self, filepath.Join(etcDir, "labkit-installer")); err != nil {
			return err
		}
	}

	// The version marker goes in last; its presence means the tree is whole.
	markerFile := filepath.Join(settings.ScratchDir, "labkit-version")
	if err := os.WriteFile(markerFile, []byte(settings.Build.Version+"\n"), 0o644); err != nil {
		return err
	}
	return inst.copyFile(markerFile, filepath.Join(etcDir, "labkit-version"))
}

// postCleanup asks the bootstrap tool to drop its package caches.
func (inst *installer) postCleanup(tool string) error {
	opts, err := inst.settings.processOptions()
	if err != nil {
		return err
	}
	return checkCall(fmt.Sprintf("%s clean -y --all", tool), opts)
}

// Destination mutations go through the elevation helper when the
// destination is not writable by the current user.

func (inst *installer) rename(src, dst string) error {
	if !inst.settings.NeedsAdmin {
		return os.Rename(src, dst)
	}
	opts, err := inst.settings.processOptions()
	if err != nil {
		return err
	}
	return checkCall(fmt.Sprintf("mv %s %s", src, dst), opts)
}

func (inst *installer) removeAll(path string) error {
	if !inst.settings.NeedsAdmin {
		return os.RemoveAll(path)
	}
	opts, err := inst.settings.processOptions()
	if err != nil {
		return err
	}
	return checkCall(fmt.Sprintf("rm -rf %s", path), opts)
}

func (inst *installer) mkdirAll(path string) error {
	if !inst.settings.NeedsAdmin {
		return os.MkdirAll(path, 0o755)
	}
	opts, err := inst.settings.processOptions()
	if err != nil {
		return err
	}
	return checkCall(fmt.Sprintf("mkdir -p %s", path), opts)
}

func (inst *installer) copyFile(src, dst string) error {
	if !inst.settings.NeedsAdmin {
		return Install(src, dst)
	}
	opts, err := inst.settings.processOptions()
	if err != nil {
		return err
	}
	return checkCall(fmt.Sprintf("cp %s %s", src, dst), opts)
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// detectExistingInstall reports whether the destination already carries a
// completed installation, and its recorded version if so.
func detectExistingInstall(dest string) (string, bool) {
	marker := filepath.Join(dest, "etc", "labkit-version")
	data, err := os.ReadFile(marker)
	if err != nil {
		return "", pathExists(dest)
	}
	return strings.TrimSpace(string(data)), true
}
