package fingerprint

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"
)

// lookupTimeout bounds the external commands used as fallbacks (tty, ps).
const lookupTimeout = 500 * time.Millisecond

// osSource reads live process signals. PID and PPID describe the invoking
// shell (our parent and its parent), since tether runs as a short-lived child
// of the shell whose identity it tracks.
type osSource struct{}

// OS returns the live Source.
func OS() Source { return osSource{} }

func (osSource) Getenv(key string) string { return os.Getenv(key) }
func (osSource) PID() int                 { return os.Getppid() }
func (osSource) GOOS() string             { return runtime.GOOS }
func (osSource) Now() time.Time           { return time.Now() }

func (osSource) PPID() int {
	return parentOf(os.Getppid())
}

func (osSource) Username() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}

// TTY resolves the controlling terminal from the first of stdin, stdout and
// stderr that is a terminal.
func (osSource) TTY() string {
	for _, f := range []*os.File{os.Stdin, os.Stdout, os.Stderr} {
		if f == nil || !term.IsTerminal(int(f.Fd())) {
			continue
		}
		if name := ttyName(f); name != "" {
			return name
		}
	}
	return ""
}

func ttyName(f *os.File) string {
	switch runtime.GOOS {
	case "windows":
		return ""
	case "linux":
		if link, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", f.Fd())); err == nil {
			return link
		}
	}

	// Fall back to tty(1) with the terminal as its stdin.
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "tty")
	cmd.Stdin = f
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	name := strings.TrimSpace(string(out))
	if !strings.HasPrefix(name, "/dev/") {
		return ""
	}
	return name
}

// parentOf returns the parent pid of pid, or 0 when it cannot be determined.
func parentOf(pid int) int {
	if pid <= 0 || runtime.GOOS == "windows" {
		return 0
	}
	if runtime.GOOS == "linux" {
		if data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid)); err == nil {
			return parseStatPPID(data)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "ps", "-o", "ppid=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return 0
	}
	ppid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0
	}
	return ppid
}

// parseStatPPID extracts field 4 of /proc/<pid>/stat. The command name in
// field 2 is parenthesised and may itself contain spaces or parens.
func parseStatPPID(stat []byte) int {
	i := bytes.LastIndexByte(stat, ')')
	if i < 0 {
		return 0
	}
	fields := strings.Fields(string(stat[i+1:]))
	if len(fields) < 2 {
		return 0
	}
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0
	}
	return ppid
}
