package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestProgressFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "progress")

	p := NewProgress("Installing",
		WithProgressWriter(io.Discard),
		WithProgressFile("install", name),
	)
	p.Update(0, 10)
	p.Update(3, 10)
	p.Update(10, 10)
	p.Stop()

	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatal(err)
	}
	want := "install 0 10\ninstall 3 10\ninstall 10 10\n"
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Errorf("progress file mismatch (-want +got):\n%s", diff)
	}
}

func TestProgressFileSkipsUnknownValue(t *testing.T) {
	name := filepath.Join(t.TempDir(), "progress")

	p := NewProgress("Installing",
		WithProgressWriter(io.Discard),
		WithProgressFile("install", name),
	)
	p.Update(-1, 0) // indeterminate, nothing to report
	p.Update(5, 0)  // counter mode, total unknown
	p.Stop()

	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatal(err)
	}
	want := "install 5 0\n"
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Errorf("progress file mismatch (-want +got):\n%s", diff)
	}
}

func TestDownloadProgressUnits(t *testing.T) {
	name := filepath.Join(t.TempDir(), "progress")

	p := NewProgress("Downloading",
		WithProgressWriter(io.Discard),
		WithProgressFile("download", name),
	)
	fn := downloadProgress(p)
	fn(512, 4096)
	fn(2048, 4096)
	fn(4096, 4096)
	p.Stop()

	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatal(err)
	}
	want := "download 0 4\ndownload 2 4\ndownload 4 4\n"
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Errorf("progress file mismatch (-want +got):\n%s", diff)
	}
}
