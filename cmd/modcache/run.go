package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/modcache/pkg/daemon"
	"github.com/jamesainslie/modcache/pkg/modcache/config"
	"github.com/jamesainslie/modcache/pkg/modcache/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the modcache daemon in the foreground",
	Long: `Run loads the index, reconciles it against both trees, then keeps it
current from file system events and enforces the cache quota on a schedule.

Send SIGHUP to re-read source_root from the config file. Send SIGINT or
SIGTERM to stop.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(_ *cobra.Command, _ []string) error {
	if err := initLogging(); err != nil {
		return err
	}
	if err := config.EnsureDataDir(); err != nil {
		return err
	}
	log := logging.Get("daemon")

	statusPath := daemon.StatusPath(config.DataDir())
	release, err := daemon.AcquirePIDFile(config.DefaultPIDPath(), cfg.History.Path, statusPath)
	if err != nil {
		if errors.Is(err, daemon.ErrDaemonAlreadyRunning) {
			printError("modcache is already running")
		}
		return err
	}
	defer release()

	a, err := openApp(appOptions{history: true, watch: true, status: statusPath})
	if err != nil {
		_ = daemon.WriteStatusError(statusPath, err)
		return err
	}
	defer a.close()

	ctx, stop := signalContext()
	defer stop()

	sub := a.svc.Broadcaster().Subscribe()
	defer a.svc.Broadcaster().Unsubscribe(sub.ID)
	go func() {
		for ev := range sub.Events {
			printInfo("%s  %-9s %s", ev.Time.Format(time.TimeOnly), ev.Type, ev.Summary)
		}
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				reloadSourceRoot(a.svc, log)
			}
		}
	}()

	printInfo("modcache running (source %q, cache %q)", a.roots.SourceRoot(), a.roots.CacheRoot())
	return a.svc.Run(ctx)
}

// reloadSourceRoot re-reads the config and applies a changed source root.
// An unchanged root is re-checked, which restarts reconciliation if it has
// come back.
func reloadSourceRoot(svc *daemon.Service, log *logging.Logger) {
	c, err := config.Load(cfgFile)
	if err != nil {
		log.Error("failed to reload config", "error", err)
		return
	}
	if c.SourceRoot != cfg.SourceRoot {
		cfg.SourceRoot = c.SourceRoot
		svc.SetSourceRoot(c.SourceRoot)
		return
	}
	svc.SourceRootChanged()
}
