//go:build unix

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// applyProcAttr puts the native-sandboxed child in its own process group so
// the worker's deadline-triggered kill takes the whole subtree with it
// rather than orphaning grandchildren.
func applyProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

// SandboxChildMain is invoked by cmd/worker's main() when argv[1] equals
// SandboxChildArg. It applies the rlimits passed via environment to itself
// — not the long-lived worker process, only this disposable re-exec — and
// replaces itself with a shell that reads the artifact off stdin. It never
// returns on success; callers only see it return on setup failure.
func SandboxChildMain() error {
	cpu, err := strconv.ParseUint(os.Getenv(envRlimitCPU), 10, 64)
	if err != nil {
		return fmt.Errorf("sandbox child: bad %s: %w", envRlimitCPU, err)
	}
	as, err := strconv.ParseUint(os.Getenv(envRlimitAS), 10, 64)
	if err != nil {
		return fmt.Errorf("sandbox child: bad %s: %w", envRlimitAS, err)
	}
	nofile, err := strconv.ParseUint(os.Getenv(envRlimitNOFI), 10, 64)
	if err != nil {
		return fmt.Errorf("sandbox child: bad %s: %w", envRlimitNOFI, err)
	}

	for _, rl := range []struct {
		resource int
		cur, max uint64
	}{
		{unix.RLIMIT_CPU, cpu, cpu},
		{unix.RLIMIT_AS, as, as},
		{unix.RLIMIT_NOFILE, nofile, nofile},
	} {
		if err := unix.Setrlimit(rl.resource, &unix.Rlimit{Cur: rl.cur, Max: rl.max}); err != nil {
			return fmt.Errorf("sandbox child: setrlimit(%d): %w", rl.resource, err)
		}
	}

	shell, err := exec.LookPath("sh")
	if err != nil {
		return fmt.Errorf("sandbox child: locating shell: %w", err)
	}

	env := []string{"PATH=/usr/bin:/bin", envPayload + "=" + os.Getenv(envPayload)}
	if err := syscall.Exec(shell, []string{"sh", "-s"}, env); err != nil {
		return fmt.Errorf("sandbox child: exec shell: %w", err)
	}
	return nil // unreachable on success
}
