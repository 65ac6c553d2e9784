//go:build windows

package device

import (
	"errors"
	"io"

	"golang.org/x/sys/windows"

	"github.com/la5ntx/vespermodem/internal/bridgeerr"
)

// pipeDevice backs the Windows named-pipe variant (`pipe:<name>` /
// `\\.\pipe\<name>`), message-mode disabled, overlapped I/O, as
// specified in spec.md §4.1.
type pipeDevice struct {
	handle windows.Handle
}

func openNamedPipe(name string) (Device, error) {
	path := `\\.\pipe\` + name

	h, err := windows.CreateNamedPipe(
		windows.StringToUTF16Ptr(path),
		windows.PIPE_ACCESS_DUPLEX|windows.FILE_FLAG_OVERLAPPED,
		windows.PIPE_TYPE_BYTE|windows.PIPE_READMODE_BYTE|windows.PIPE_WAIT,
		windows.PIPE_UNLIMITED_INSTANCES,
		4096, 4096, 0, nil,
	)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.DeviceUnavailable, "create named pipe", err)
	}

	overlapped := new(windows.Overlapped)
	event, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		windows.CloseHandle(h)
		return nil, bridgeerr.Wrap(bridgeerr.DeviceUnavailable, "create pipe event", err)
	}
	overlapped.HEvent = event

	err = windows.ConnectNamedPipe(h, overlapped)
	if err != nil && !errors.Is(err, windows.ERROR_IO_PENDING) && !errors.Is(err, windows.ERROR_PIPE_CONNECTED) {
		windows.CloseHandle(h)
		return nil, bridgeerr.Wrap(bridgeerr.DeviceUnavailable, "connect named pipe", err)
	}
	if errors.Is(err, windows.ERROR_IO_PENDING) {
		windows.WaitForSingleObject(event, windows.INFINITE)
	}

	return &pipeDevice{handle: h}, nil
}

func (d *pipeDevice) Read(buf []byte) (int, error) {
	var n uint32
	err := windows.ReadFile(d.handle, buf, &n, nil)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return int(n), io.EOF
		}
		return int(n), bridgeerr.Wrap(bridgeerr.DeviceIoError, "pipe read", err)
	}
	if n == 0 {
		return 0, ErrWouldBlock
	}
	return int(n), nil
}

func (d *pipeDevice) Write(buf []byte) (int, error) {
	var n uint32
	err := windows.WriteFile(d.handle, buf, &n, nil)
	if err != nil {
		return int(n), bridgeerr.Wrap(bridgeerr.DeviceIoError, "pipe write", err)
	}
	return int(n), nil
}

func (d *pipeDevice) SetDTR(bool) error { return nil }
func (d *pipeDevice) SetRTS(bool) error { return nil }
func (d *pipeDevice) Drain() error      { return windows.FlushFileBuffers(d.handle) }
func (d *pipeDevice) Close() error      { return windows.CloseHandle(d.handle) }
