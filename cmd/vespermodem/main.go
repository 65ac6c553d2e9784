// Command vespermodem bridges a local character device to a remote
// TCP PPP service, optionally emulating a Hayes AT modem dialogue in
// front of it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/la5ntx/vespermodem/internal/config"
	"github.com/la5ntx/vespermodem/internal/session"
	"github.com/la5ntx/vespermodem/internal/vlog"
)

func main() {
	os.Exit(run())
}

func run() int {
	var opts config.Flags
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			return 0
		}
		return session.OutcomeConfigError.ExitCode()
	}

	rec := config.Record{}
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return session.OutcomeConfigError.ExitCode()
		}
		rec = loaded
	}
	rec = rec.Merge(opts)

	if err := rec.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return session.OutcomeConfigError.ExitCode()
	}

	logOut := os.Stderr
	if rec.LogFile != "" {
		f, err := os.OpenFile(rec.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return session.OutcomeConfigError.ExitCode()
		}
		defer f.Close()
		logOut = f
	}
	logger := vlog.New(logOut)
	if rec.Debug {
		logger.Printf("config: %+v", maskedRecord(rec))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Printf("session: received shutdown signal")
		cancel()
	}()

	sv := session.New(rec, logger)
	outcome := sv.Run(ctx)
	return outcome.ExitCode()
}

// maskedRecord returns rec with the password redacted, for debug logging.
func maskedRecord(rec config.Record) config.Record {
	rec.Password = "****"
	return rec
}
