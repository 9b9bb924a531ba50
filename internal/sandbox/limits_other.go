//go:build !unix

package sandbox

import (
	"errors"
	"os/exec"
)

// applyProcAttr is a no-op on platforms without POSIX process groups.
func applyProcAttr(cmd *exec.Cmd) {}

// SandboxChildMain has no rlimit mechanism to apply on non-Unix platforms;
// the native-sandboxed strategy is unavailable there.
func SandboxChildMain() error {
	return errors.New("sandbox child: native-sandboxed execution requires a Unix platform")
}
