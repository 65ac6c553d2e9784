package session

import (
	"context"
	"time"

	"github.com/la5ntx/vespermodem/internal/device"
	"github.com/la5ntx/vespermodem/internal/modem"
)

const devicePollInterval = 5 * time.Millisecond

// runUntilModeChange feeds device bytes to interp while in a command
// mode (ModeCommand or ModeOnlineCommand), writing replies back to
// the device, until the interpreter's mode changes (a dial request,
// an ATO resume, or an ATH0 hangup) or ctx is cancelled or the device
// errors.
func runUntilModeChange(ctx context.Context, dev device.Device, interp *modem.Interpreter) ([]modem.Event, error) {
	startMode := interp.S.Mode
	var allEvents []modem.Event
	buf := make([]byte, 256)

	for {
		select {
		case <-ctx.Done():
			return allEvents, ctx.Err()
		default:
		}

		n, err := dev.Read(buf)
		if err == device.ErrWouldBlock {
			time.Sleep(devicePollInterval)
			continue
		}
		if err != nil {
			return allEvents, err
		}
		if n == 0 {
			continue
		}

		reply, events := interp.HandleCommandBytes(buf[:n])
		if len(reply) > 0 {
			if werr := writeAllDevice(dev, reply); werr != nil {
				return allEvents, werr
			}
		}
		allEvents = append(allEvents, events...)
		if interp.S.Mode != startMode {
			return allEvents, nil
		}
	}
}

// writeAllDevice retries a short write until buf is fully written or
// the device errors, per the Device.Write contract in internal/device.
func writeAllDevice(dev device.Device, buf []byte) error {
	for len(buf) > 0 {
		n, err := dev.Write(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		buf = buf[n:]
	}
	return nil
}
