package main

import (
	"fmt"
	"strings"
)

// DownloadError indicates a transport failure while fetching a remote or
// local resource.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// ChecksumMismatchError indicates that a downloaded file does not match its
// expected SHA-256 digest.
type ChecksumMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s, got %s",
		e.Path, e.Expected, e.Actual)
}

// ManifestFormatError indicates that the release manifest could not be
// parsed.
type ManifestFormatError struct {
	Err error
}

func (e *ManifestFormatError) Error() string {
	return fmt.Sprintf("invalid release manifest: %v", e.Err)
}

func (e *ManifestFormatError) Unwrap() error { return e.Err }

// UnknownVersionError indicates that the requested version is not declared
// in the manifest. Available lists all declared version strings.
type UnknownVersionError struct {
	Requested string
	Available []string
}

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("unknown version %q, available versions: %s",
		e.Requested, strings.Join(e.Available, ", "))
}

// BuildNotAvailableError indicates that a version exists but has no build
// for the host platform.
type BuildNotAvailableError struct {
	Version  string
	Platform string
}

func (e *BuildNotAvailableError) Error() string {
	return fmt.Sprintf("version %s is not available for platform %s",
		e.Version, e.Platform)
}

// UnsupportedPlatformError indicates that the host platform is not one the
// distribution is built for.
type UnsupportedPlatformError struct {
	OS   string
	Arch string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform: %s/%s", e.OS, e.Arch)
}

// InvalidCredentialError indicates that administrator credentials could not
// be validated within the allowed number of attempts.
type InvalidCredentialError struct {
	Attempts int
}

func (e *InvalidCredentialError) Error() string {
	return fmt.Sprintf("administrator password rejected after %d attempts", e.Attempts)
}

// ExternalCommandError indicates that an invoked external command exited
// with a non-zero status.
type ExternalCommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExternalCommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// UserAbortError indicates that the user declined a confirmation prompt.
type UserAbortError struct {
	Prompt string
}

func (e *UserAbortError) Error() string {
	return fmt.Sprintf("aborted by user: %s", e.Prompt)
}
