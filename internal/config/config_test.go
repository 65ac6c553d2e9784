package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/la5ntx/vespermodem/internal/bridgeerr"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempConfig(t, `{
		"username": "u",
		"password": "p",
		"server_host": "h",
		"server_port": 6060,
		"device": "tcp:127.0.0.1:9000",
		"connection_retries": 3
	}`)

	rec, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := rec.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rec.ServerPort != 6060 {
		t.Errorf("server_port = %d, want 6060", rec.ServerPort)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	rec := Record{}
	err := rec.Validate()
	if !bridgeerr.Is(err, bridgeerr.ConfigInvalid) {
		t.Fatalf("Validate() = %v, want ConfigInvalid", err)
	}
}

func TestMergePrefersFlags(t *testing.T) {
	rec := Record{Device: "tcp:127.0.0.1:9000", ConnectionRetries: 1}
	merged := rec.Merge(Flags{Device: "COM3", Retries: 5})
	if merged.Device != "COM3" {
		t.Errorf("Device = %q, want COM3", merged.Device)
	}
	if merged.ConnectionRetries != 5 {
		t.Errorf("ConnectionRetries = %d, want 5", merged.ConnectionRetries)
	}
}

func TestMergeKeepsFileValueWhenFlagUnset(t *testing.T) {
	rec := Record{Username: "fromfile"}
	merged := rec.Merge(Flags{})
	if merged.Username != "fromfile" {
		t.Errorf("Username = %q, want fromfile", merged.Username)
	}
}
