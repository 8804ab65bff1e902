package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cluttrdev/cli"
	"github.com/pterm/pterm"
)

func newVersionsCmd() *cli.Command {
	cfg := versionsCmd{}

	fs := flag.NewFlagSet("labkit-installer versions", flag.ExitOnError)

	cfg.RegisterFlags(fs)

	return &cli.Command{
		Name:       "versions",
		ShortHelp:  "List available versions of LabKit.",
		ShortUsage: "labkit-installer versions [OPTION]...",
		Flags:      fs,
		Exec:       cfg.Exec,
	}
}

type versionsCmd struct {
	rootCmd

	manifestURL   string
	skipSSLVerify bool
}

func (c *versionsCmd) RegisterFlags(fs *flag.FlagSet) {
	c.rootCmd.RegisterFlags(fs)

	fs.StringVar(&c.manifestURL, "manifest", "", "Override the release manifest URL.")
	fs.BoolVar(&c.skipSSLVerify, "skip-ssl-verify", false, "Skip TLS certificate verification.")
}

func (c *versionsCmd) Exec(ctx context.Context, args []string) (err error) {
	c.initLogging()

	defer func() {
		if err != nil && c.logFile != os.Stderr {
			err = fmt.Errorf("%w\nSee %s for details", err, c.logFile.Name())
		}
	}()

	url := c.manifestURL
	if url == "" {
		var cfg Config
		if c.ConfigFile != "" {
			if err := LoadConfigFile(c.ConfigFile, &cfg); err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
		}
		url = cfg.ManifestURL
	}
	if url == "" {
		url = defaultManifestURL
	}

	client := defaultClient()
	if c.skipSSLVerify {
		client = insecureClient()
	}

	scratchDir, err := os.MkdirTemp("", "labkit-installer-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(scratchDir)
	}()

	manifest, err := DownloadManifest(client, url, scratchDir)
	if err != nil {
		return err
	}

	data := pterm.TableData{{"Version", "Platforms"}}
	for _, version := range manifest.Versions.Available() {
		platforms := make([]string, 0, len(manifest.Versions.Builds[version]))
		for _, build := range manifest.Versions.Builds[version] {
			name := build.Platform
			if build.CUDAEnabled {
				name += " (CUDA)"
			}
			platforms = append(platforms, name)
		}
		label := version
		if version == manifest.Versions.Latest {
			label += " (latest)"
		}
		data = append(data, []string{label, strings.Join(platforms, ", ")})
	}

	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
