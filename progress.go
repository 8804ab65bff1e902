package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
)

// Progress renders installation progress. The display mode is chosen from
// which of value/total are known at update time: a percentage bar when both
// are, a cumulative counter when only the value is, and an indeterminate
// spinner otherwise.
//
// When a progress file is configured, every update is also appended to it as
// a "label value total" line, so wrapper applications can track progress
// without scraping terminal output.
type Progress struct {
	title  string
	label  string
	writer io.Writer

	bar      *pterm.ProgressbarPrinter
	spinner  *pterm.SpinnerPrinter
	progfile *os.File
}

// ProgressOption configures a Progress.
type ProgressOption func(*Progress)

// WithProgressWriter redirects terminal rendering, mainly for tests.
func WithProgressWriter(w io.Writer) ProgressOption {
	return func(p *Progress) {
		p.writer = w
	}
}

// WithProgressFile appends machine-readable updates to the named file.
func WithProgressFile(label string, name string) ProgressOption {
	return func(p *Progress) {
		file, err := os.OpenFile(name, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
		if err == nil {
			p.label = label
			p.progfile = file
		}
	}
}

// NewProgress creates a progress display with the given title.
func NewProgress(title string, opts ...ProgressOption) *Progress {
	p := &Progress{
		title:  title,
		writer: os.Stderr,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Update renders the current state. value < 0 means no value is known and
// total <= 0 means no total is known.
func (p *Progress) Update(value int, total int) {
	if p.progfile != nil && value >= 0 {
		fmt.Fprintf(p.progfile, "%s %d %d\n", p.label, value, total)
	}

	switch {
	case value >= 0 && total > 0:
		if p.bar == nil {
			p.stopSpinner()
			width := pterm.GetTerminalWidth()
			if width > 80 {
				width = 80
			}
			p.bar, _ = pterm.DefaultProgressbar.
				WithWriter(p.writer).
				WithMaxWidth(width).
				WithTotal(total).
				WithTitle(p.title).
				Start()
		}
		if delta := value - p.bar.Current; delta > 0 {
			p.bar.Add(delta)
		}
	case value >= 0:
		p.ensureSpinner()
		p.spinner.UpdateText(fmt.Sprintf("%s (%d)", p.title, value))
	default:
		p.ensureSpinner()
	}
}

// Stop finishes rendering and releases the progress file, if any.
func (p *Progress) Stop() {
	if p.bar != nil {
		_, _ = p.bar.Stop()
		p.bar = nil
	}
	p.stopSpinner()
	if p.progfile != nil {
		_ = p.progfile.Close()
		p.progfile = nil
	}
}

func (p *Progress) ensureSpinner() {
	if p.spinner == nil {
		p.spinner, _ = pterm.DefaultSpinner.
			WithWriter(p.writer).
			Start(p.title)
	}
}

func (p *Progress) stopSpinner() {
	if p.spinner != nil {
		_ = p.spinner.Stop()
		p.spinner = nil
	}
}

// downloadProgress adapts a Progress to the byte-count callback used by
// DownloadFile.
func downloadProgress(p *Progress) ProgressFunc {
	return func(downloaded, total int64) {
		const kib = 1024
		if total > 0 {
			p.Update(int(downloaded/kib), int(total/kib))
		} else {
			p.Update(int(downloaded/kib), 0)
		}
	}
}
