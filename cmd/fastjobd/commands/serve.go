package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/eliasyaoyc/fastjob/internal/config"
	"github.com/eliasyaoyc/fastjob/internal/logger"
	"github.com/eliasyaoyc/fastjob/internal/runtime"
	"github.com/eliasyaoyc/fastjob/internal/transport"
)

var (
	serveAddr   string
	serveGossip string
)

// ServeCmd starts the control-plane server: the scheduler, dispatcher,
// reconciler, event bus, and the gRPC wire server (spec.md §6).
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control-plane server",
	RunE:  runServe,
}

func init() {
	ServeCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, e.g. 0.0.0.0:7890 (overrides config)")
	ServeCmd.Flags().StringVar(&serveGossip, "gossip", "", "optional peer bootstrap address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveGossip != "" {
		cfg.Server.GossipAddr = serveGossip
	}
	if err := cfg.Validate(); err != nil {
		return &UsageError{Err: fmt.Errorf("invalid config: %w", err)}
	}

	if err := logger.Initialize(parseLogLevel(cfg.Server.LogLevel), cfg.Server.LogJSON); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	rt, err := runtime.New(cfg)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	printStartupBanner(cfg)

	if watcher := startConfigWatcher(cmd); watcher != nil {
		defer watcher.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Start(ctx)

	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
	}
	grpcSrv := transport.NewServerGRPCServer(rt.Inbound())

	errCh := make(chan error, 1)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		rt.Stop()
		return fmt.Errorf("server failed: %w", err)
	case <-sigCh:
		pterm.Info.Println("shutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			cancel()
			rt.Stop()
			close(shutdownDone)
		}()

		select {
		case <-shutdownDone:
			pterm.Success.Println("stopped cleanly")
			return nil
		case <-time.After(10 * time.Second):
			grpcSrv.Stop()
			pterm.Warning.Println("graceful stop timed out - forced")
			return nil
		case <-sigCh:
			pterm.Warning.Println("force shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}

// startConfigWatcher watches an explicitly-named --config-path file for
// edits and logs when one is detected. Scheduler tunables and alarm sinks
// still require a restart to take effect; this only surfaces drift early
// rather than silently running on a stale config.
func startConfigWatcher(cmd *cobra.Command) *config.ConfigWatcher {
	configPath, _ := cmd.Flags().GetString("config-path")
	if configPath == "" {
		return nil
	}

	watcher, err := config.NewConfigWatcher(configPath)
	if err != nil {
		logger.ComponentLogger("serve").Warnw("config watch disabled", "path", configPath, "error", err)
		return nil
	}

	watcher.OnReload(func(newCfg *config.Config) error {
		logger.ComponentLogger("serve").Warnw("config file changed on disk; restart fastjobd to apply it",
			"path", configPath, "new_addr", newCfg.Server.Addr)
		return nil
	})
	watcher.Start()
	return watcher
}
