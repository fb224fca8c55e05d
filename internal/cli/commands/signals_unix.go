//go:build !windows

package commands

import (
	"os"
	"syscall"

	"github.com/gigwork-dev/gigwork/internal/lifecycle"
)

var lifecycleSignals = map[os.Signal]lifecycle.State{
	syscall.SIGUSR1: lifecycle.Background,
	syscall.SIGUSR2: lifecycle.Active,
}

var watchSignals = []os.Signal{syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGINT, syscall.SIGTERM}
