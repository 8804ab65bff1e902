package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.labkit.dev/installer/internal/metaerr"
)

// pollInterval bounds how long progress rendering waits for output before
// re-checking whether the process has finished.
const pollInterval = 250 * time.Millisecond

// lineQueue is an unbounded FIFO of output lines, fed by a background reader
// and drained by the progress loop. Reads never block the producing side.
type lineQueue struct {
	mu     sync.Mutex
	lines  []string
	closed bool
	notify chan struct{}
}

func newLineQueue() *lineQueue {
	return &lineQueue{notify: make(chan struct{}, 1)}
}

func (q *lineQueue) push(line string) {
	q.mu.Lock()
	q.lines = append(q.lines, line)
	q.mu.Unlock()
	q.signal()
}

func (q *lineQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *lineQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop removes and returns the oldest line. It waits up to timeout for a line
// to arrive; ok is false if none did.
func (q *lineQueue) pop(timeout time.Duration) (line string, ok bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.lines) > 0 {
			line = q.lines[0]
			q.lines = q.lines[1:]
			q.mu.Unlock()
			return line, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return "", false
		}

		select {
		case <-q.notify:
		case <-deadline.C:
			return "", false
		}
	}
}

// Process is a single invocation of an external command. Its output streams
// are drained by two background readers into FIFO queues so that callers can
// interleave progress rendering with output consumption without ever
// blocking the child.
type Process struct {
	command string

	cmd    *exec.Cmd
	stdout *lineQueue
	stderr *lineQueue

	cleanup func()

	mu       sync.Mutex
	exitCode *int
}

// ProcessOptions controls how a command is invoked.
type ProcessOptions struct {
	// Admin runs the command through the elevation helper.
	Admin bool
	// Password is supplied to the elevation helper's input stream. It is
	// never written to disk.
	Password string
	// Env is extra environment forwarded to the command. When elevated, the
	// variables are exported explicitly inside the escalation script, since
	// elevation helpers do not reliably forward arbitrary environment.
	Env map[string]string
}

// StartProcess starts the command and its stream readers. The command string
// is split on whitespace; arguments must not require shell quoting.
func StartProcess(command string, opts ProcessOptions) (*Process, error) {
	p := &Process{
		command: command,
		stdout:  newLineQueue(),
		stderr:  newLineQueue(),
	}

	var err error
	if opts.Admin {
		p.cmd, p.cleanup, err = elevatedCommand(command, opts.Env)
		if err != nil {
			return nil, err
		}
		p.cmd.Stdin = strings.NewReader(opts.Password + "\n")
	} else {
		args := strings.Fields(command)
		if len(args) == 0 {
			return nil, fmt.Errorf("empty command")
		}
		p.cmd = exec.Command(args[0], args[1:]...)
		if len(opts.Env) > 0 {
			p.cmd.Env = append(os.Environ(), flattenEnv(opts.Env)...)
		}
	}

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := p.cmd.Start(); err != nil {
		if p.cleanup != nil {
			p.cleanup()
		}
		return nil, metaerr.WithMetadata(
			fmt.Errorf("start command: %w", err),
			"command", command,
		)
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go p.readLines(stdout, p.stdout, &readers)
	go p.readLines(stderr, p.stderr, &readers)

	// The exit code only becomes observable once both readers have hit
	// end-of-stream and the process has been reaped, so a caller can never
	// see "finished" while output is still in flight.
	go func() {
		readers.Wait()
		err := p.cmd.Wait()
		if p.cleanup != nil {
			p.cleanup()
		}
		code := 0
		if err != nil {
			code = -1
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			}
		}
		p.mu.Lock()
		p.exitCode = &code
		p.mu.Unlock()
	}()

	return p, nil
}

func (p *Process) readLines(r io.Reader, q *lineQueue, wg *sync.WaitGroup) {
	defer wg.Done()
	defer q.close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		q.push(scanner.Text())
	}
}

// ExitCode returns the command's exit status, or nil while the command is
// still running or its output is still being drained.
func (p *Process) ExitCode() *int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Stdout returns the next buffered stdout line, waiting up to timeout.
func (p *Process) Stdout(timeout time.Duration) (string, bool) {
	return p.stdout.pop(timeout)
}

// Stderr returns the next buffered stderr line, waiting up to timeout.
func (p *Process) Stderr(timeout time.Duration) (string, bool) {
	return p.stderr.pop(timeout)
}

// Wait blocks until the exit code is observable and returns it.
func (p *Process) Wait() int {
	for {
		if code := p.ExitCode(); code != nil {
			return *code
		}
		time.Sleep(pollInterval / 10)
	}
}

// checkCall runs the command to completion, logging its output, and fails
// with ExternalCommandError on a non-zero exit.
func checkCall(command string, opts ProcessOptions) error {
	_, err := runCommand(command, opts, nil)
	return err
}

// checkOutput runs the command to completion and returns its standard
// output.
func checkOutput(command string, opts ProcessOptions) (string, error) {
	var lines []string
	_, err := runCommand(command, opts, func(line string) {
		lines = append(lines, line)
	})
	return strings.Join(lines, "\n"), err
}

// runCommand drives one command to completion, forwarding stdout lines to
// onStdout and logging everything.
func runCommand(command string, opts ProcessOptions, onStdout func(string)) (int, error) {
	proc, err := StartProcess(command, opts)
	if err != nil {
		return -1, err
	}

	var lastStderr string
	for {
		drainedOut := drainQueue(proc.stdout, command, "stdout", onStdout)
		drainedErr := drainQueue(proc.stderr, command, "stderr", func(line string) {
			lastStderr = line
		})

		if code := proc.ExitCode(); code != nil && drainedOut && drainedErr {
			if *code != 0 {
				return *code, &ExternalCommandError{
					Command:  command,
					ExitCode: *code,
					Stderr:   lastStderr,
				}
			}
			return 0, nil
		}

		if drainedOut && drainedErr {
			// Streams are done but the process has not been reaped yet.
			time.Sleep(pollInterval / 10)
		}
	}
}

// drained reports whether the queue has reached end-of-stream with nothing
// left to pop.
func (q *lineQueue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.lines) == 0
}

// drainQueue forwards currently buffered lines and reports whether the queue
// has reached end-of-stream with nothing left.
func drainQueue(q *lineQueue, command, stream string, fn func(string)) bool {
	for {
		line, ok := q.pop(pollInterval)
		if !ok {
			return q.drained()
		}
		slog.Debug("command output", "command", command, "stream", stream, "line", line)
		if fn != nil {
			fn(line)
		}
	}
}

// monitorProgress runs the commands in sequence, rendering a percentage bar
// when the expected total stdout line count is known and a spinner
// otherwise. The remaining commands are aborted on the first failure.
func monitorProgress(commands []string, expectedLines int, opts ProcessOptions, progress *Progress) error {
	defer progress.Stop()

	seen := 0
	if expectedLines > 0 {
		progress.Update(0, expectedLines)
	} else {
		progress.Update(-1, 0)
	}

	for _, command := range commands {
		_, err := runCommand(command, opts, func(line string) {
			seen++
			if expectedLines > 0 {
				value := seen
				if value > expectedLines {
					value = expectedLines
				}
				progress.Update(value, expectedLines)
			} else {
				progress.Update(-1, 0)
			}
		})
		if err != nil {
			return err
		}
	}

	if expectedLines > 0 {
		progress.Update(expectedLines, expectedLines)
	}
	return nil
}

func flattenEnv(env map[string]string) []string {
	kvs := make([]string, 0, len(env))
	for key, value := range env {
		kvs = append(kvs, key+"="+value)
	}
	return kvs
}
