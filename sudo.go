package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
)

const maxPasswordAttempts = 3

// elevatedCommand prepares an invocation of command through sudo. The
// command and any environment that must cross the privilege boundary are
// written to a disposable script, because sudo is not guaranteed to forward
// arbitrary environment variables. The returned cleanup removes the script
// on every exit path and must always be called.
func elevatedCommand(command string, env map[string]string) (*exec.Cmd, func(), error) {
	script, err := os.CreateTemp("", "labkit-installer-*.sh")
	if err != nil {
		return nil, nil, fmt.Errorf("create elevation script: %w", err)
	}

	cleanup := func() {
		_ = os.Remove(script.Name())
	}

	var body strings.Builder
	body.WriteString("#!/bin/sh\n")
	for key, value := range env {
		fmt.Fprintf(&body, "export %s='%s'\n", key, strings.ReplaceAll(value, "'", `'\''`))
	}
	body.WriteString(command + "\n")

	if _, err := script.WriteString(body.String()); err != nil {
		_ = script.Close()
		cleanup()
		return nil, nil, fmt.Errorf("write elevation script: %w", err)
	}
	if err := script.Close(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("close elevation script: %w", err)
	}
	if err := os.Chmod(script.Name(), 0o700); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("restrict elevation script: %w", err)
	}

	// -S reads the password from stdin, -k ignores cached credentials so
	// validation results are not skewed by an earlier sudo session.
	cmd := exec.Command("sudo", "-S", "-k", "sh", script.Name())
	return cmd, cleanup, nil
}

// validatePassword runs a trivial privileged no-op to check the password.
func validatePassword(password string) bool {
	cmd := exec.Command("sudo", "-S", "-k", "true")
	cmd.Stdin = strings.NewReader(password + "\n")
	return cmd.Run() == nil
}

// passwordPrompt asks the user for their administrator password once.
// Injectable for tests.
type passwordPrompt func() (string, error)

func terminalPasswordPrompt() (string, error) {
	return pterm.DefaultInteractiveTextInput.
		WithMask("*").
		Show("Administrator password")
}

// getAdminPassword prompts for the administrator password, validating each
// attempt with a privileged no-op. After maxPasswordAttempts failures it
// fails with InvalidCredentialError. The validated password is only ever
// held in memory.
func getAdminPassword(prompt passwordPrompt, validate func(string) bool) (string, error) {
	if prompt == nil {
		prompt = terminalPasswordPrompt
	}
	if validate == nil {
		validate = validatePassword
	}

	for attempt := 0; attempt < maxPasswordAttempts; attempt++ {
		password, err := prompt()
		if err != nil {
			return "", err
		}
		if validate(password) {
			return password, nil
		}
		pterm.Warning.Println("Incorrect password, try again.")
	}
	return "", &InvalidCredentialError{Attempts: maxPasswordAttempts}
}

// needsAdmin reports whether writing to the directory (or the closest
// existing ancestor) requires elevated privileges.
func needsAdmin(dir string) bool {
	for {
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return true
			}
			probe, err := os.CreateTemp(dir, ".labkit-write-probe-*")
			if err != nil {
				return true
			}
			_ = probe.Close()
			_ = os.Remove(probe.Name())
			return false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return true
		}
		dir = parent
	}
}
