//go:build windows

package main

// registerSighupListener is a no-op on Windows: SIGHUP has no equivalent,
// so reload is only ever triggered by a filesystem change.
func registerSighupListener(out chan<- struct{}) {}
