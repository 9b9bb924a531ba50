//go:build !unix

package slotpool

import "os"

// terminateSignal falls back to Kill on platforms without SIGTERM.
var terminateSignal = os.Kill
