package main

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-ps"
)

// anotherInstallerRunning reports whether a different process with this
// executable's name is already running. Concurrent installs are not
// supported, so the install command refuses to start in that case.
func anotherInstallerRunning() bool {
	self, err := os.Executable()
	if err != nil {
		return false
	}
	name := filepath.Base(self)

	processes, err := ps.Processes()
	if err != nil {
		return false
	}

	pid := os.Getpid()
	for _, process := range processes {
		if process.Pid() == pid {
			continue
		}
		if process.Executable() == name {
			return true
		}
	}
	return false
}
