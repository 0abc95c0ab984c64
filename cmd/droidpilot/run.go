package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	sdaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"droidpilot/internal/app"
	logx "droidpilot/pkg/logx"
)

func newRunCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), *configPath)
		},
	}
}

func runDaemon(parent context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(configPath)
	if err != nil {
		return err
	}
	log := a.Logger()

	if lockPath := a.LockFile(); lockPath != "" {
		lock := flock.New(lockPath)
		ok, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", lockPath, err)
		}
		if !ok {
			return errors.New("another droidpilot instance is already running")
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				log.Warn("failed to release lock", logx.Err(err))
			}
		}()
	}

	if err := a.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx)
		return err
	}

	// systemd integration is a no-op outside a unit.
	_, _ = sdaemon.SdNotify(false, sdaemon.SdNotifyReady)
	stopWatchdog := startWatchdog(ctx)

	<-ctx.Done()
	stopWatchdog()
	_, _ = sdaemon.SdNotify(false, sdaemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return a.Stop(stopCtx)
}

// startWatchdog pings the systemd watchdog at half its interval. Returns a
// stop function; both are no-ops when no watchdog is configured.
func startWatchdog(ctx context.Context) func() {
	interval, err := sdaemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-t.C:
				_, _ = sdaemon.SdNotify(false, sdaemon.SdNotifyWatchdog)
			}
		}
	}()
	return func() { close(done) }
}
