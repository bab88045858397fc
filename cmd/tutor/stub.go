package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/tutorline/internal/stub"
)

func newStubServerCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:    "stub-server",
		Short:  "Run an in-memory tutoring backend for local development",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStubServer(cmd, port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "port to listen on")
	return cmd
}

func runStubServer(cmd *cobra.Command, port int) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	return stub.New().Start(ctx, stub.StartOpts{
		Port: port,
		Out:  cmd.OutOrStdout(),
	})
}
