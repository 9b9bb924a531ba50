// Package sandbox implements the sandbox collaborator:
// run(artifact_path, entrypoint, payload, stdout_sink) -> bytes, where any
// trap or non-zero exit produces an error string rather than propagating a
// panic or process exit to the worker.
//
// Three strategies cover the closed set of language tags:
//
//   - native-sandboxed: the artifact execs as a resource-limited child
//     process via a portable os/exec + rlimit technique.
//   - script-interpreted: the artifact runs inline in an embedded JS VM
//     without shelling out to an external interpreter.
//   - static-asset: the artifact is returned byte for byte.
package sandbox

import (
	"bytes"
	"context"
	"fmt"

	"faasd/internal/faaserr"
	"faasd/internal/store"
)

// Sandbox executes a stored function's artifact against a payload and
// returns its captured stdout.
type Sandbox struct {
	native *nativeRunner
	script *scriptRunner
}

// New constructs a Sandbox with the default resource limits for the native
// strategy.
func New() *Sandbox {
	return &Sandbox{
		native: newNativeRunner(defaultLimits()),
		script: newScriptRunner(),
	}
}

// Run dispatches by the descriptor's language tag and returns the captured
// output, or a wrapped faaserr.ErrSandboxTrap on any failure.
func (s *Sandbox) Run(ctx context.Context, d store.Descriptor, code []byte, payload string) ([]byte, error) {
	switch store.Language(d.Language) {
	case store.LanguageNative:
		out, err := s.native.run(ctx, code, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", faaserr.ErrSandboxTrap, err)
		}
		return out, nil
	case store.LanguageScript:
		out, err := s.script.run(ctx, string(code), d.Entrypoint, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", faaserr.ErrSandboxTrap, err)
		}
		return []byte(out), nil
	case store.LanguageAsset:
		return bytes.Clone(code), nil
	default:
		return nil, fmt.Errorf("%w: unrecognized language %q", faaserr.ErrSandboxTrap, d.Language)
	}
}
