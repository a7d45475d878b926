//go:build !windows

package lifecycle

import (
	"os"
	"syscall"
)

// TerminationSignals lists the signals that should stop a running
// discovery scan or control session cleanly.
func TerminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
