// Command fastjob-worker is a reference worker process: it registers with
// a fastjobd control plane, heartbeats real resource indicators, accepts
// dispatched job instances over gRPC, executes them, and reports their
// outcome (spec.md §6 worker side, non-goal for the control plane itself).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/eliasyaoyc/fastjob/internal/logger"
	"github.com/eliasyaoyc/fastjob/internal/transport"
)

var (
	workerAddr     string
	serverAddr     string
	appID          uint64
	tag            string
	heartbeatEvery time.Duration
	logLevel       string
)

var rootCmd = &cobra.Command{
	Use:   "fastjob-worker",
	Short: "Reference worker process for the FastJob control plane",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&workerAddr, "addr", "0.0.0.0:8900", "address this worker listens on and advertises in heartbeats")
	rootCmd.Flags().StringVar(&serverAddr, "server", "127.0.0.1:7890", "the fastjobd control-plane address to register with")
	rootCmd.Flags().Uint64Var(&appID, "app-id", 1, "the app id this worker serves")
	rootCmd.Flags().StringVar(&tag, "tag", "", "optional worker tag used for designated_workers routing")
	rootCmd.Flags().DurationVar(&heartbeatEvery, "heartbeat-interval", 5*time.Second, "interval between heartbeats")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")
}

func run(cmd *cobra.Command, args []string) error {
	level := zapcore.InfoLevel
	switch logLevel {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}
	if err := logger.Initialize(level, false); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	log := logger.ComponentLogger("fastjob-worker")

	rep := newReporter(serverAddr, 10*time.Second)
	h := newHandler(workerAddr, rep, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	regCtx, regCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := rep.register(regCtx, &transport.RegisterWorkerManagerRequest{
		Envelope:  transport.NewEnvelope(),
		ID:        workerAddr,
		LocalAddr: workerAddr,
		Scope:     tag,
	}); err != nil {
		log.Warnw("register failed, continuing without ack", "error", err)
	}
	regCancel()

	go heartbeatLoop(ctx, rep, appID, workerAddr, tag, heartbeatEvery, log)

	lis, err := net.Listen("tcp", workerAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", workerAddr, err)
	}
	grpcSrv := transport.NewWorkerGRPCServer(h)

	errCh := make(chan error, 1)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- err
		}
	}()
	log.Infow("worker listening", "addr", workerAddr, "server", serverAddr, "app_id", appID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("worker server failed: %w", err)
	case <-sigCh:
		log.Info("shutting down")
		cancel()
		rep.Close()

		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
			return nil
		case <-time.After(5 * time.Second):
			grpcSrv.Stop()
			return nil
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
