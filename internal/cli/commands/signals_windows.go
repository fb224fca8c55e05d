//go:build windows

package commands

import (
	"os"
	"syscall"

	"github.com/gigwork-dev/gigwork/internal/lifecycle"
)

// Windows has no user signals; the watched process stays in the foreground
var lifecycleSignals = map[os.Signal]lifecycle.State{}

var watchSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
