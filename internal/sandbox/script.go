package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// scriptRunner executes script-interpreted functions in an embedded,
// dependency-free ECMAScript VM. This generalizes the original
// implementation's node/php/python3 popen() strategy into something that
// never shells out to an external interpreter: the function body, its
// payload, and a sandboxed console.log binding are the VM's entire world.
type scriptRunner struct {
	deadline time.Duration
}

func newScriptRunner() *scriptRunner {
	return &scriptRunner{deadline: 2 * time.Second}
}

// run evaluates code in a fresh VM, exposing payload as a global "payload"
// string and entrypoint as the name of a function to call after the
// top-level script body runs (if the artifact defines one; a bare script
// with no matching function just runs top to bottom). An entrypoint of
// "main", the store's default, is never called: for it the top-level body
// is the whole function. Anything written via
// console.log is captured, joined by newlines, and returned as output.
func (r *scriptRunner) run(ctx context.Context, code, entrypoint, payload string) (string, error) {
	vm := goja.New()

	var out strings.Builder
	console := vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			parts = append(parts, a.String())
		}
		out.WriteString(strings.Join(parts, " "))
		out.WriteByte('\n')
		return goja.Undefined()
	}
	_ = console.Set("log", logFn)
	_ = vm.Set("console", console)
	_ = vm.Set("payload", payload)

	deadline, cancel := context.WithTimeout(ctx, r.deadline)
	defer cancel()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-deadline.Done():
			vm.Interrupt("deadline exceeded")
		case <-stop:
		}
	}()

	if _, err := vm.RunString(code); err != nil {
		return "", fmt.Errorf("script sandbox: %w", err)
	}

	if entrypoint != "" && entrypoint != "main" {
		if fn, ok := goja.AssertFunction(vm.Get(entrypoint)); ok {
			if _, err := fn(goja.Undefined(), vm.ToValue(payload)); err != nil {
				return "", fmt.Errorf("script sandbox: entrypoint %q: %w", entrypoint, err)
			}
		}
	}

	return out.String(), nil
}
