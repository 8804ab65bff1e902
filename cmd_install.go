package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/cluttrdev/cli"
	"github.com/pterm/pterm"

	"go.labkit.dev/installer/internal/metaerr"
)

func newInstallCmd() *cli.Command {
	cfg := installCmd{}

	fs := flag.NewFlagSet("labkit-installer install", flag.ExitOnError)

	cfg.RegisterFlags(fs)

	return &cli.Command{
		Name:       "install",
		ShortHelp:  "Install the LabKit distribution.",
		ShortUsage: "labkit-installer install [OPTION]...",
		Flags:      fs,
		Exec:       cfg.Exec,
	}
}

type installCmd struct {
	rootCmd

	request InstallRequest
	extras  stringSliceFlag
}

func (c *installCmd) RegisterFlags(fs *flag.FlagSet) {
	c.rootCmd.RegisterFlags(fs)

	fs.StringVar(&c.request.Dest, "dest", "", "Install into this directory (default \""+defaultDestDir+"\").")
	fs.StringVar(&c.request.Version, "release", "latest", "Install this version of LabKit.")
	fs.StringVar(&c.request.CUDA, "cuda", "auto", "CUDA preference: 'auto', 'none', or an explicit version such as '11.2'.")
	fs.Var(&c.extras, "extra", "Install this extra environment (repeatable).")
	fs.BoolVar(&c.request.Update, "update", false, "Update an existing installation in place.")
	fs.BoolVar(&c.request.NoSelfUpdate, "no-self-update", false, "Do not update the installer itself.")
	fs.BoolVar(&c.request.NoChecksum, "no-checksum", false, "Skip checksum verification of downloads.")
	fs.BoolVar(&c.request.SkipRegistration, "skip-registration", false, "Do not send the post-install registration ping.")
	fs.BoolVar(&c.request.SkipSSLVerify, "skip-ssl-verify", false, "Skip TLS certificate verification.")
	fs.StringVar(&c.request.ManifestURL, "manifest", "", "Override the release manifest URL.")
	fs.StringVar(&c.request.ScratchDir, "workdir", "", "Use this directory for scratch files.")
	fs.StringVar(&c.request.ProgressFile, "progress-file", "", "Append machine-readable progress updates to this file.")
	fs.StringVar(&c.request.HomeDir, "homedir", "", "Treat this directory as the user's home directory.")
}

func (c *installCmd) Exec(ctx context.Context, args []string) (err error) {
	c.initLogging()

	defer func() {
		if err != nil && c.logFile != os.Stderr {
			err = fmt.Errorf("%w\nSee %s for details", err, c.logFile.Name())
		}
	}()

	var cfg Config
	if c.ConfigFile != "" {
		if err := LoadConfigFile(c.ConfigFile, &cfg); err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
	}
	c.request.Extras = c.extras
	applyConfigDefaults(&c.request, cfg)

	if anotherInstallerRunning() {
		return fmt.Errorf("another labkit-installer process is already running")
	}

	cache := newRunCache()

	// Resolution and download failures abort before any destination state
	// exists, so no rollback is involved yet.
	settings, err := resolveSettings(c.request, cache)
	if err != nil {
		slog.With("error", err).
			With(metaerr.GetMetadata(err)...).
			Error("failed to resolve install settings")
		return err
	}
	if c.request.ScratchDir == "" {
		defer func() {
			if rerr := os.RemoveAll(settings.ScratchDir); rerr != nil {
				slog.Error("failed to remove scratch directory", "dir", settings.ScratchDir, "error", rerr)
			}
		}()
	}

	if !c.request.NoSelfUpdate {
		// On success this replaces the process image and does not return.
		if err := selfUpdate(settings, os.Args[1:]); err != nil {
			return err
		}
	}

	pterm.Info.Printfln("Installing LabKit %s (%s) into %s",
		settings.Build.Version, settings.Platform, settings.Dest)
	if version, exists := detectExistingInstall(settings.Dest); exists && version != "" {
		pterm.Info.Printfln("Found existing installation: LabKit %s", version)
	}
	if settings.Build.CUDAVersion != "" {
		pterm.Info.Printfln("Enabling CUDA %s packages (%s)",
			settings.Build.CUDAVersion, settings.Build.CUDAConstraint)
	}

	inst := newInstaller(settings)
	if err := inst.run(); err != nil {
		slog.With("error", err).
			With(metaerr.GetMetadata(err)...).
			Error("installation failed")
		inst.rollback()
		pterm.Error.Printfln("Installation failed: %v", err)
		return err
	}

	pterm.Success.Printfln("LabKit %s installed into %s", settings.Build.Version, settings.Dest)
	return nil
}
