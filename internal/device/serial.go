package device

import (
	"errors"
	"io"

	serial "github.com/albenik/go-serial/v2"
	"golang.org/x/sys/unix"

	"github.com/la5ntx/vespermodem/internal/bridgeerr"
)

// serialDevice backs a native serial port (/dev/…, COMx) with real
// DTR/RTS line signals and 8N1 framing, no hardware flow control
// unless the caller configures it — per spec.md §4.1.
type serialDevice struct {
	port *serial.Port
}

func openSerial(path string, baud int) (Device, error) {
	if baud <= 0 {
		return nil, bridgeerr.New(bridgeerr.DeviceMisconfigured, "serial device requires a positive baud rate")
	}

	port, err := serial.Open(path,
		serial.WithBaudrate(baud),
		serial.WithDataBits(8),
		serial.WithParity(serial.NoParity),
		serial.WithStopBits(serial.OneStopBit),
		// A short read timeout approximates the non-blocking read
		// semantics every device variant must present: a timed-out
		// read with zero bytes is reported as ErrWouldBlock.
		serial.WithReadTimeout(20),
	)
	if err != nil {
		return nil, classifySerialErr(err)
	}
	return &serialDevice{port: port}, nil
}

func classifySerialErr(err error) error {
	if errors.Is(err, unix.EBUSY) || errors.Is(err, unix.EACCES) || errors.Is(err, unix.ENOENT) {
		return bridgeerr.Wrap(bridgeerr.DeviceUnavailable, "open serial port", err)
	}
	return bridgeerr.Wrap(bridgeerr.DeviceMisconfigured, "configure serial port", err)
}

func (d *serialDevice) Read(buf []byte) (int, error) {
	n, err := d.port.Read(buf)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, io.EOF
		}
		return n, bridgeerr.Wrap(bridgeerr.DeviceIoError, "serial read", err)
	}
	if n == 0 {
		// Read timeout elapsed with nothing available.
		return 0, ErrWouldBlock
	}
	return n, nil
}

func (d *serialDevice) Write(buf []byte) (int, error) {
	n, err := d.port.Write(buf)
	if err != nil {
		return n, bridgeerr.Wrap(bridgeerr.DeviceIoError, "serial write", err)
	}
	return n, nil
}

func (d *serialDevice) SetDTR(on bool) error {
	if err := d.port.SetDTR(on); err != nil {
		return bridgeerr.Wrap(bridgeerr.DeviceIoError, "set DTR", err)
	}
	return nil
}

func (d *serialDevice) SetRTS(on bool) error {
	if err := d.port.SetRTS(on); err != nil {
		return bridgeerr.Wrap(bridgeerr.DeviceIoError, "set RTS", err)
	}
	return nil
}

func (d *serialDevice) Drain() error {
	if err := d.port.Drain(); err != nil {
		return bridgeerr.Wrap(bridgeerr.DeviceIoError, "drain serial port", err)
	}
	return nil
}

func (d *serialDevice) Close() error {
	return d.port.Close()
}
