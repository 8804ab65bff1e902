package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// writeScript writes a shell script into a temp dir and returns the command
// line that runs it. Temp paths contain no whitespace, so the command
// survives field splitting.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not available")
	}
	script := filepath.Join(t.TempDir(), "script.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return "sh " + script
}

func TestCheckCall(t *testing.T) {
	if err := checkCall(writeScript(t, "exit 0\n"), ProcessOptions{}); err != nil {
		t.Errorf("checkCall(success) failed: %v", err)
	}

	err := checkCall(writeScript(t, "echo broken >&2\nexit 3\n"), ProcessOptions{})
	var cmdErr *ExternalCommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("checkCall(failure) error = %v, want ExternalCommandError", err)
	}
	if cmdErr.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", cmdErr.ExitCode)
	}
	if cmdErr.Stderr != "broken" {
		t.Errorf("stderr = %q, want %q", cmdErr.Stderr, "broken")
	}
}

func TestCheckOutput(t *testing.T) {
	out, err := checkOutput(writeScript(t, "echo one\necho two\n"), ProcessOptions{})
	if err != nil {
		t.Fatalf("checkOutput() failed: %v", err)
	}
	if out != "one\ntwo" {
		t.Errorf("output = %q, want %q", out, "one\ntwo")
	}
}

func TestStartProcessEmptyCommand(t *testing.T) {
	if _, err := StartProcess("   ", ProcessOptions{}); err == nil {
		t.Fatal("StartProcess(empty) succeeded unexpectedly")
	}
}

func TestStartProcessEnv(t *testing.T) {
	command := writeScript(t, `echo "$LABKITDIR"`+"\n")
	out, err := checkOutput(command, ProcessOptions{
		Env: map[string]string{destEnvVar: "/opt/labkit"},
	})
	if err != nil {
		t.Fatalf("checkOutput() failed: %v", err)
	}
	if out != "/opt/labkit" {
		t.Errorf("forwarded env = %q, want %q", out, "/opt/labkit")
	}
}

func TestExitCodeGatedOnOutput(t *testing.T) {
	// The shell exits immediately, but a backgrounded grandchild holds the
	// stderr pipe open for a while. The exit code must stay unobservable
	// until that output has been fully drained.
	command := writeScript(t, "( sleep 1; echo late >&2 ) &\necho done\nexit 0\n")

	proc, err := StartProcess(command, ProcessOptions{})
	if err != nil {
		t.Fatal(err)
	}

	line, ok := proc.Stdout(5 * time.Second)
	if !ok || line != "done" {
		t.Fatalf("Stdout() = %q, %v; want %q", line, ok, "done")
	}
	if code := proc.ExitCode(); code != nil {
		t.Errorf("ExitCode() = %d before output drained, want nil", *code)
	}

	line, ok = proc.Stderr(5 * time.Second)
	if !ok || line != "late" {
		t.Fatalf("Stderr() = %q, %v; want %q", line, ok, "late")
	}
	if code := proc.Wait(); code != 0 {
		t.Errorf("Wait() = %d, want 0", code)
	}
}

func TestLineQueue(t *testing.T) {
	q := newLineQueue()

	// Empty queue times out rather than blocking forever.
	start := time.Now()
	if _, ok := q.pop(20 * time.Millisecond); ok {
		t.Fatal("pop() on empty queue returned a line")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("pop() blocked far past its timeout")
	}

	q.push("a")
	q.push("b")
	if line, ok := q.pop(time.Second); !ok || line != "a" {
		t.Errorf("pop() = %q, %v; want %q", line, ok, "a")
	}
	if line, ok := q.pop(time.Second); !ok || line != "b" {
		t.Errorf("pop() = %q, %v; want %q", line, ok, "b")
	}
	if q.drained() {
		t.Error("drained() = true before close")
	}

	q.close()
	if _, ok := q.pop(time.Second); ok {
		t.Error("pop() after close returned a line")
	}
	if !q.drained() {
		t.Error("drained() = false after close and empty")
	}
}

func TestLineQueuePopUnblocksOnPush(t *testing.T) {
	q := newLineQueue()
	go func() {
		time.Sleep(50 * time.Millisecond)
		q.push("woken")
	}()
	line, ok := q.pop(5 * time.Second)
	if !ok || line != "woken" {
		t.Errorf("pop() = %q, %v; want %q", line, ok, "woken")
	}
}

func TestMonitorProgress(t *testing.T) {
	commands := []string{
		writeScript(t, "echo a\necho b\n"),
		writeScript(t, "echo c\n"),
	}

	progress := NewProgress("installing", WithProgressWriter(io.Discard))
	if err := monitorProgress(commands, 3, ProcessOptions{}, progress); err != nil {
		t.Fatalf("monitorProgress() failed: %v", err)
	}
}

func TestMonitorProgressAbortsSequence(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	commands := []string{
		writeScript(t, "exit 1\n"),
		writeScript(t, "touch "+marker+"\n"),
	}

	progress := NewProgress("installing", WithProgressWriter(io.Discard))
	err := monitorProgress(commands, 0, ProcessOptions{}, progress)
	var cmdErr *ExternalCommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("monitorProgress() error = %v, want ExternalCommandError", err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("command after the failure still ran")
	}
}

func TestElevatedCommandScript(t *testing.T) {
	cmd, cleanup, err := elevatedCommand("mkdir -p /opt/labkit", map[string]string{
		destEnvVar: "/opt/lab'kit",
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(cmd.Args) != 5 || cmd.Args[0] != "sudo" {
		t.Fatalf("command args = %v", cmd.Args)
	}
	script := cmd.Args[4]

	data, err := os.ReadFile(script)
	if err != nil {
		t.Fatal(err)
	}
	body := string(data)
	if !strings.HasPrefix(body, "#!/bin/sh\n") {
		t.Errorf("script missing interpreter line:\n%s", body)
	}
	if !strings.Contains(body, `export LABKITDIR='/opt/lab'\''kit'`) {
		t.Errorf("script does not export quoted env:\n%s", body)
	}
	if !strings.Contains(body, "mkdir -p /opt/labkit\n") {
		t.Errorf("script missing command:\n%s", body)
	}

	info, err := os.Stat(script)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := info.Mode().Perm(), os.FileMode(0o700); got != want {
		t.Errorf("script mode = %v, want %v", got, want)
	}

	cleanup()
	if _, err := os.Stat(script); !os.IsNotExist(err) {
		t.Error("cleanup left the script behind")
	}
}

func TestGetAdminPassword(t *testing.T) {
	tests := []struct {
		testName  string
		passwords []string
		valid     string
		want      string
		wantErr   bool
	}{
		{
			testName:  "first try",
			passwords: []string{"hunter2"},
			valid:     "hunter2",
			want:      "hunter2",
		},
		{
			testName:  "third try",
			passwords: []string{"a", "b", "hunter2"},
			valid:     "hunter2",
			want:      "hunter2",
		},
		{
			testName:  "too many failures",
			passwords: []string{"a", "b", "c", "hunter2"},
			valid:     "hunter2",
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.testName, func(t *testing.T) {
			attempt := 0
			prompt := func() (string, error) {
				password := tt.passwords[attempt]
				attempt++
				return password, nil
			}
			validate := func(password string) bool {
				return password == tt.valid
			}

			got, gotErr := getAdminPassword(prompt, validate)
			if tt.wantErr {
				var credErr *InvalidCredentialError
				if !errors.As(gotErr, &credErr) {
					t.Fatalf("getAdminPassword() error = %v, want InvalidCredentialError", gotErr)
				}
				if attempt != maxPasswordAttempts {
					t.Errorf("prompted %d times, want %d", attempt, maxPasswordAttempts)
				}
				return
			}
			if gotErr != nil {
				t.Fatalf("getAdminPassword() failed: %v", gotErr)
			}
			if got != tt.want {
				t.Errorf("password = %q, want %q", got, tt.want)
			}
		})
	}
}
