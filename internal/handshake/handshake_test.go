package handshake

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/la5ntx/vespermodem/internal/bridgeerr"
)

// serverScript drives the remote side of a net.Pipe connection,
// reading lines with a plain bufio.Scanner (fine here, since the
// server side is never handed back to anything else afterward).
func serverScript(t *testing.T, conn net.Conn, steps func(r *bufio.Scanner, w net.Conn)) {
	t.Helper()
	r := bufio.NewScanner(conn)
	steps(r, conn)
}

func TestHandshakeSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- Run(client, Credentials{Username: "u", Password: "p"}) }()

	go serverScript(t, server, func(r *bufio.Scanner, w net.Conn) {
		w.Write([]byte("VESPER PPP 1\r\nLOGIN:\r\n"))
		r.Scan()
		if got := r.Text(); got != "u" {
			t.Errorf("server saw username %q, want %q", got, "u")
		}
		w.Write([]byte("PASSWORD:\r\n"))
		r.Scan()
		if got := r.Text(); got != "p" {
			t.Errorf("server saw password %q, want %q", got, "p")
		}
		w.Write([]byte("OK\r\n"))
	})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake timed out")
	}
}

func TestHandshakeAuthFailed(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- Run(client, Credentials{Username: "u", Password: "wrong"}) }()

	go serverScript(t, server, func(r *bufio.Scanner, w net.Conn) {
		w.Write([]byte("VESPER PPP 1\r\nLOGIN:\r\n"))
		r.Scan()
		w.Write([]byte("PASSWORD:\r\n"))
		r.Scan()
		w.Write([]byte("BADAUTH\r\n"))
	})

	select {
	case err := <-done:
		if !bridgeerr.Is(err, bridgeerr.AuthFailed) {
			t.Fatalf("Run error = %v, want AuthFailed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake timed out")
	}
}

func TestHandshakeRejectsBadBanner(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- Run(client, Credentials{Username: "u", Password: "p"}) }()

	go func() {
		server.Write([]byte("WELCOME TO SOMETHING ELSE\r\n"))
	}()

	select {
	case err := <-done:
		if !bridgeerr.Is(err, bridgeerr.HandshakeRejected) {
			t.Fatalf("Run error = %v, want HandshakeRejected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake timed out")
	}
}

func TestHandshakeTimeout(t *testing.T) {
	orig := Timeout
	Timeout = 50 * time.Millisecond
	defer func() { Timeout = orig }()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	err := Run(client, Credentials{Username: "u", Password: "p"})
	if !bridgeerr.Is(err, bridgeerr.HandshakeTimeout) {
		t.Fatalf("Run error = %v, want HandshakeTimeout", err)
	}
}
