//go:build !windows

package device

import "github.com/la5ntx/vespermodem/internal/bridgeerr"

// openNamedPipe is only meaningful on Windows; non-Windows builds
// reject the spec outright, per spec.md's device spec grammar.
func openNamedPipe(name string) (Device, error) {
	return nil, bridgeerr.New(bridgeerr.DeviceMisconfigured, "named pipe device is only supported on windows")
}
