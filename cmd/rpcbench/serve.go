package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/YuminosukeSato/rpcbench/pkg/rpcbench"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a standalone reference server",
		Long: `Serves the reference benchmark service over one framework until
interrupted, so clients on another host or process can benchmark against it.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("framework", rpcbench.FrameworkGRPC, "Framework to serve")
	cmd.Flags().String("address", "localhost:50051", "Listen address (host:port or unix:///path)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := rpcbench.NewLogger(cfg.Logging)

	// benchmark.framework defaults to "all", which cannot be served
	name := cfg.Benchmark.Framework
	if name == "" || name == "all" {
		name, _ = cmd.Flags().GetString("framework")
	}
	factory, err := rpcbench.NewFactory(name, rpcbench.FactoryDeps{
		Transport: cfg.Transport,
		Registry:  rpcbench.NewRegistry(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	srv, err := factory.CreateServer(rpcbench.NewReferenceService())
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	address := cfg.Benchmark.ServerAddress
	if !srv.Start(address) {
		return fmt.Errorf("failed to start %s server on %s", factory.Name(), address)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s benchmark server running on %s\n", factory.Name(), address)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	go func() {
		s := <-sig
		logger.Info("shutting down", "signal", s.String())
		srv.Stop()
	}()

	srv.Wait()
	return nil
}
