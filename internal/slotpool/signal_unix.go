//go:build unix

package slotpool

import "syscall"

// terminateSignal is sent to a worker process when its slot transitions to
// Draining/Dead. SIGTERM gives the worker
// a chance to exit cleanly before the grace-period SIGKILL in terminate.
const terminateSignal = syscall.SIGTERM
