// Package config loads the configuration record spec.md §6 defines
// and merges it with command-line overrides.
//
// The file format is plain JSON via stdlib encoding/json: no example
// repo in the retrieved pack carries a dedicated config-file library
// sized for a single flat record like this one (the pack's one
// config-parsing dependency, spf13/viper, belongs to a full TUI
// application and pulls in multi-format loading, live reload, and
// env-var binding this bridge has no use for), so the ambient config
// loader stays on the standard library by deliberate choice.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/la5ntx/vespermodem/internal/bridgeerr"
)

// Record is the configuration record described in spec.md §6.
type Record struct {
	Username string `json:"username"`
	Password string `json:"password"`

	ServerHost string `json:"server_host"`
	ServerPort int     `json:"server_port"`

	Device  string `json:"device"`
	BaudRate int    `json:"baud_rate"`

	ConnectSpeed int `json:"connect_speed"`

	EmulateModem bool `json:"emulate_modem"`

	InactivityTimeout int `json:"inactivity_timeout"`
	ConnectionRetries int `json:"connection_retries"`

	Debug   bool   `json:"debug"`
	LogFile string `json:"log_file"`
}

// Load reads and parses a Record from path.
func Load(path string) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, bridgeerr.Wrap(bridgeerr.ConfigInvalid, fmt.Sprintf("open config %q", path), err)
	}
	defer f.Close()

	var rec Record
	if err := json.NewDecoder(f).Decode(&rec); err != nil {
		return Record{}, bridgeerr.Wrap(bridgeerr.ConfigInvalid, fmt.Sprintf("parse config %q", path), err)
	}
	return rec, nil
}

// Validate checks the required fields spec.md §6 names, independent
// of how the record was assembled (file, flags, or both).
func (r Record) Validate() error {
	if r.Username == "" {
		return bridgeerr.New(bridgeerr.ConfigInvalid, "username is required")
	}
	if r.Password == "" {
		return bridgeerr.New(bridgeerr.ConfigInvalid, "password is required")
	}
	if r.ServerHost == "" {
		return bridgeerr.New(bridgeerr.ConfigInvalid, "server_host is required")
	}
	if r.ServerPort < 1 || r.ServerPort > 65535 {
		return bridgeerr.New(bridgeerr.ConfigInvalid, fmt.Sprintf("server_port %d out of range", r.ServerPort))
	}
	if r.Device == "" {
		return bridgeerr.New(bridgeerr.ConfigInvalid, "device is required")
	}
	if r.InactivityTimeout < 0 {
		return bridgeerr.New(bridgeerr.ConfigInvalid, "inactivity_timeout must be >= 0")
	}
	if r.ConnectionRetries < 0 {
		return bridgeerr.New(bridgeerr.ConfigInvalid, "connection_retries must be >= 0")
	}
	return nil
}

// Flags is the command-line override surface from spec.md §6, meant
// to be parsed with github.com/jessevdk/go-flags — the flag-parsing
// library already present in the retrieved pack's vmodem dependency
// tree, which shares this spec's AT-emulation domain.
type Flags struct {
	ConfigPath string `short:"c" long:"config" description:"path to the JSON configuration file"`

	Device       string `short:"d" long:"device" description:"device spec override"`
	BaudRate     int    `short:"b" long:"baud" description:"baud rate override"`
	EmulateModem bool   `short:"e" long:"emulate" description:"enable AT modem emulation"`

	Username string `short:"u" long:"user" description:"login username"`
	Password string `short:"p" long:"pass" description:"login password"`

	Verbose bool `short:"v" long:"verbose" description:"enable debug logging"`

	Retries           int    `short:"r" long:"retries" description:"connection retry count"`
	InactivityTimeout int    `short:"t" long:"timeout" description:"inactivity timeout in seconds"`
	LogFile           string `long:"log" description:"log file path"`
}

// Merge overrides fields of r with any non-zero value set on f. Flags
// take precedence over the file per spec.md §6's CLI surface.
func (r Record) Merge(f Flags) Record {
	if f.Device != "" {
		r.Device = f.Device
	}
	if f.BaudRate != 0 {
		r.BaudRate = f.BaudRate
	}
	if f.EmulateModem {
		r.EmulateModem = true
	}
	if f.Username != "" {
		r.Username = f.Username
	}
	if f.Password != "" {
		r.Password = f.Password
	}
	if f.Verbose {
		r.Debug = true
	}
	if f.Retries != 0 {
		r.ConnectionRetries = f.Retries
	}
	if f.InactivityTimeout != 0 {
		r.InactivityTimeout = f.InactivityTimeout
	}
	if f.LogFile != "" {
		r.LogFile = f.LogFile
	}
	return r
}
