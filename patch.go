package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Block markers. These must stay byte-stable across installer versions so
// that re-installs can find and replace blocks written by older versions.
const (
	shellConfigMarker  = "# LabKit Setup"
	matlabConfigMarker = "% LabKit Setup"
)

// patchFile idempotently inserts or replaces a marked block in a text file.
// If marker occurs verbatim among the file's lines, exactly nlines lines
// starting at the marker are replaced with block. Otherwise block is
// appended after a blank separator. The file and its parent directory are
// created if necessary.
func patchFile(file string, marker string, nlines int, block string) error {
	var lines []string
	data, err := os.ReadFile(file)
	if err == nil {
		lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	} else if !os.IsNotExist(err) {
		return err
	}

	blockLines := strings.Split(strings.TrimRight(block, "\n"), "\n")

	patched := false
	for i, line := range lines {
		if line != marker {
			continue
		}
		end := i + nlines
		if end > len(lines) {
			end = len(lines)
		}
		replaced := make([]string, 0, len(lines)-(end-i)+len(blockLines))
		replaced = append(replaced, lines[:i]...)
		replaced = append(replaced, blockLines...)
		replaced = append(replaced, lines[end:]...)
		lines = replaced
		patched = true
		break
	}

	if !patched {
		if len(lines) > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, blockLines...)
	}

	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return err
	}
	return os.WriteFile(file, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

// shellProfiles maps supported shell families to the profile file patched
// in the user's home directory.
var shellProfiles = map[string]string{
	"bash": ".bash_profile",
	"zsh":  ".zshrc",
	"sh":   ".profile",
	"fish": filepath.Join(".config", "fish", "config.fish"),
}

// shellConfigBlock returns the setup block for the given shell family.
func shellConfigBlock(shell string, destDir string) string {
	if shell == "fish" {
		return strings.Join([]string{
			shellConfigMarker,
			fmt.Sprintf("set -gx %s %s", destEnvVar, destDir),
			fmt.Sprintf("set -gx PATH $%s/share/labkit/bin $PATH", destEnvVar),
		}, "\n")
	}
	return strings.Join([]string{
		shellConfigMarker,
		fmt.Sprintf("%s=%s", destEnvVar, destDir),
		fmt.Sprintf("PATH=${%s}/share/labkit/bin:${PATH}", destEnvVar),
		fmt.Sprintf("export %s PATH", destEnvVar),
	}, "\n")
}

// configureShell patches the user's shell profile so that new sessions have
// the installation on PATH. Re-running against a newer destination replaces
// the block written by a previous install.
func configureShell(shell string, homeDir string, destDir string) error {
	profile, ok := shellProfiles[shell]
	if !ok {
		return fmt.Errorf("unsupported shell: %s", shell)
	}

	block := shellConfigBlock(shell, destDir)
	nlines := len(strings.Split(block, "\n"))
	return patchFile(filepath.Join(homeDir, profile), shellConfigMarker, nlines, block)
}

// configureMATLAB patches the user's MATLAB startup.m, if a MATLAB user
// directory exists, so the distribution's MATLAB helpers are on the path.
func configureMATLAB(homeDir string, destDir string) error {
	matlabDir := filepath.Join(homeDir, "Documents", "MATLAB")
	if _, err := os.Stat(matlabDir); err != nil {
		// No MATLAB installation, nothing to configure.
		return nil
	}

	block := strings.Join([]string{
		matlabConfigMarker,
		fmt.Sprintf("setenv( '%s', '%s' );", destEnvVar, destDir),
		fmt.Sprintf("labkitdir = getenv('%s');", destEnvVar),
		"labkitmpath = sprintf('%s/etc/matlab',labkitdir);",
		"path(path, labkitmpath);",
		"clear labkitdir labkitmpath;",
	}, "\n")
	nlines := len(strings.Split(block, "\n"))

	return patchFile(filepath.Join(matlabDir, "startup.m"), matlabConfigMarker, nlines, block)
}

// currentShell guesses the user's shell family from $SHELL.
func currentShell() string {
	shell := filepath.Base(os.Getenv("SHELL"))
	if _, ok := shellProfiles[shell]; ok {
		return shell
	}
	return "sh"
}
