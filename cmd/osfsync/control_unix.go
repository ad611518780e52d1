//go:build !windows

package main

import (
	"os"
	"syscall"
)

var controlSignals = map[os.Signal]string{
	syscall.SIGUSR1: actionPause,
	syscall.SIGUSR2: actionResume,
	syscall.SIGHUP:  actionSweep,
}
