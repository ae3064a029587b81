// Package server implements the "glassfile server" CLI subcommand.
package server

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/miikkis-gh/glassfile/internal/daemon"
	"github.com/miikkis-gh/glassfile/internal/version"
)

// Run parses server flags and starts the daemon. It blocks until the
// process receives SIGINT or SIGTERM, then shuts down gracefully.
func Run(args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	var cfgPath string
	var showVersion bool
	fs.StringVar(&cfgPath, "config", "./glassfile.yaml", "path to glassfile.yaml")
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVersion {
		fmt.Printf("glassfile server %s\n", version.Version)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return daemon.Run(ctx, cfgPath)
}
