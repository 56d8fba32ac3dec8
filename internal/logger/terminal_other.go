//go:build !linux && !darwin && !freebsd

package logger

// isTerminal is conservative on platforms without termios: no colour.
func isTerminal(uintptr) bool { return false }
