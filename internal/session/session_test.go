package session

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/la5ntx/vespermodem/internal/config"
	"github.com/la5ntx/vespermodem/internal/vlog"
)

// startFakeServer runs the scenario 1 server script on one accepted
// connection and returns its listen address.
func startFakeServer(t *testing.T, payload []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("VESPER PPP 1\r\nLOGIN:\r\n"))
		readLine(t, conn)
		conn.Write([]byte("PASSWORD:\r\n"))
		readLine(t, conn)
		conn.Write([]byte("OK\r\n"))
		conn.Write(payload)
	}()
	return ln.Addr().String()
}

func readLine(t *testing.T, conn net.Conn) string {
	t.Helper()
	buf := make([]byte, 256)
	var line []byte
	for {
		n, err := conn.Read(buf[:1])
		if err != nil {
			return string(line)
		}
		if n == 1 {
			if buf[0] == '\n' {
				return string(line)
			}
			if buf[0] != '\r' {
				line = append(line, buf[0])
			}
		}
	}
}

func TestColdDirectBridgeDeliversPayloadVerbatim(t *testing.T) {
	payload := make([]byte, 1024)
	rand.Read(payload)

	addr := startFakeServer(t, payload)
	host, portStr, _ := net.SplitHostPort(addr)
	var port int
	fmtSscan(portStr, &port)

	devicePath := t.TempDir() + "/device.sock"
	rec := config.Record{
		Username:          "u",
		Password:          "p",
		ServerHost:        host,
		ServerPort:        port,
		Device:            "unix:" + devicePath,
		EmulateModem:      false,
		ConnectionRetries: 0,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan Outcome, 1)
	sv := New(rec, vlog.Default())
	go func() { done <- sv.Run(ctx) }()

	var devConn net.Conn
	var err error
	for i := 0; i < 100; i++ {
		devConn, err = net.Dial("unix", devicePath)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("could not dial device socket: %v", err)
	}
	defer devConn.Close()

	got := make([]byte, len(payload))
	if _, err := io.ReadFull(devConn, got); err != nil {
		t.Fatalf("device did not receive full payload: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("payload mismatch")
	}
	cancel()
	<-done
}

func fmtSscan(s string, out *int) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	*out = n
}

func TestRunReturnsConfigErrorOnBadDeviceSpec(t *testing.T) {
	rec := config.Record{
		Username:   "u",
		Password:   "p",
		ServerHost: "127.0.0.1",
		ServerPort: 1,
		Device:     "not-a-valid-spec:::",
	}
	sv := New(rec, vlog.Default())
	outcome := sv.Run(context.Background())
	if outcome != OutcomeConfigError {
		t.Errorf("outcome = %v, want OutcomeConfigError", outcome)
	}
}

func TestRunReturnsInterruptedOnCancelledContext(t *testing.T) {
	rec := config.Record{
		Username:   "u",
		Password:   "p",
		ServerHost: "127.0.0.1",
		ServerPort: 1,
		Device:     "unix:" + t.TempDir() + "/does-not-connect.sock",
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sv := New(rec, vlog.Default())
	outcome := sv.Run(ctx)
	if outcome != OutcomeInterrupted {
		t.Errorf("outcome = %v, want OutcomeInterrupted", outcome)
	}
}
