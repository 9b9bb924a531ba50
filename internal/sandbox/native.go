package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// limits bounds a native-sandboxed child's resource consumption, applied by
// SandboxChildMain (see limits_unix.go) via setrlimit on the child itself
// before it execs the artifact's shell: bound CPU and memory of untrusted
// code with a portable re-exec technique instead of an embedded VM runtime.
type limits struct {
	cpuSeconds   uint64
	addressSpace uint64 // bytes
	openFiles    uint64
	wallClock    time.Duration
}

func defaultLimits() limits {
	return limits{
		cpuSeconds:   2,
		addressSpace: 256 * 1024 * 1024,
		openFiles:    64,
		wallClock:    3 * time.Second,
	}
}

// SandboxChildArg is the hidden argv[1] the worker binary recognizes to
// re-exec itself as a resource-limited sandbox child instead of running the
// normal worker loop. cmd/worker's main() checks for this before anything
// else.
const SandboxChildArg = "__sandbox_child__"

// Environment variables SandboxChildMain reads to apply its own rlimits
// before replacing itself with the artifact's shell.
const (
	envRlimitCPU  = "FAAS_RLIMIT_CPU_SECONDS"
	envRlimitAS   = "FAAS_RLIMIT_AS_BYTES"
	envRlimitNOFI = "FAAS_RLIMIT_NOFILE"
	envPayload    = "FAAS_PAYLOAD"
)

type nativeRunner struct {
	limits limits

	once    sync.Once
	selfErr error
	self    string
}

func newNativeRunner(l limits) *nativeRunner {
	return &nativeRunner{limits: l}
}

func (r *nativeRunner) selfPath() (string, error) {
	r.once.Do(func() {
		r.self, r.selfErr = os.Executable()
	})
	return r.self, r.selfErr
}

// run re-execs the current binary as a sandbox child, which applies rlimits
// to itself and then execs /bin/sh -s to run the artifact, with payload
// delivered as an environment variable and script source piped on stdin.
// Only the child's own pipes and a minimal environment are visible to it —
// no ambient process state leaks across the fork.
func (r *nativeRunner) run(ctx context.Context, script []byte, payload string) ([]byte, error) {
	self, err := r.selfPath()
	if err != nil {
		return nil, fmt.Errorf("native sandbox: locating self: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.limits.wallClock)
	defer cancel()

	cmd := exec.CommandContext(ctx, self, SandboxChildArg)
	cmd.Env = []string{
		"PATH=/usr/bin:/bin",
		envPayload + "=" + payload,
		envRlimitCPU + "=" + strconv.FormatUint(r.limits.cpuSeconds, 10),
		envRlimitAS + "=" + strconv.FormatUint(r.limits.addressSpace, 10),
		envRlimitNOFI + "=" + strconv.FormatUint(r.limits.openFiles, 10),
	}
	cmd.Stdin = bytes.NewReader(script)
	applyProcAttr(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("native sandbox: deadline exceeded: %w", ctx.Err())
		}
		return nil, fmt.Errorf("native sandbox: %w (stderr: %s)", err, stderr.String())
	}

	return stdout.Bytes(), nil
}
