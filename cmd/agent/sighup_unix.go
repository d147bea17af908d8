//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// registerSighupListener forwards SIGHUP as a reload trigger. POSIX only.
func registerSighupListener(out chan<- struct{}) {
	raw := make(chan os.Signal, 1)
	signal.Notify(raw, syscall.SIGHUP)
	go func() {
		for range raw {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()
}
