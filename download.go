package main

import (
	"crypto"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"go.labkit.dev/installer/internal/metaerr"
)

// ProgressFunc receives the number of bytes transferred so far and the total
// number of bytes, or -1 if the total is unknown.
type ProgressFunc func(downloaded, total int64)

// DownloadFile retrieves url to the local file dest. url may also be a path
// to a local file, in which case the file is copied. The progress callback,
// if non-nil, is invoked periodically during the transfer.
func DownloadFile(client *http.Client, url string, dest string, progress ProgressFunc) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() {
		_ = out.Close()
	}()

	var (
		body  io.Reader
		total int64 = -1
	)
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		resp, err := client.Get(url)
		if err != nil {
			return &DownloadError{URL: url, Err: err}
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return &DownloadError{
				URL: url,
				Err: fmt.Errorf("%d - %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			}
		}
		body = resp.Body
		total = resp.ContentLength
	} else {
		in, err := os.Open(url)
		if err != nil {
			return &DownloadError{URL: url, Err: err}
		}
		defer func() {
			_ = in.Close()
		}()
		if info, err := in.Stat(); err == nil {
			total = info.Size()
		}
		body = in
	}

	if err := copyWithProgress(out, body, total, progress); err != nil {
		return metaerr.WithMetadata(
			fmt.Errorf("write output file: %w", err),
			"url", url,
		)
	}

	return nil
}

func copyWithProgress(dst io.Writer, src io.Reader, total int64, progress ProgressFunc) error {
	const chunkSize = 128 * 1024

	var downloaded int64
	buf := make([]byte, chunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			downloaded += int64(n)
			if progress != nil {
				progress(downloaded, total)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// sha256File returns the lowercase hex-encoded SHA-256 digest of the named
// file.
func sha256File(name string) (string, error) {
	file, err := os.Open(name)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = file.Close()
	}()
	return digest(file)
}

func digest(in io.Reader) (string, error) {
	hash := crypto.SHA256.New()
	if _, err := io.Copy(hash, in); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// verifyChecksum compares the SHA-256 digest of the named file against the
// expected lowercase hex digest.
func verifyChecksum(name string, expected string) error {
	actual, err := sha256File(name)
	if err != nil {
		return err
	}
	if actual != strings.ToLower(strings.TrimSpace(expected)) {
		return &ChecksumMismatchError{Path: name, Expected: expected, Actual: actual}
	}
	return nil
}
