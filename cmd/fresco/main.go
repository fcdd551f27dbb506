// Command fresco runs the workflow server and one-shot graph tools.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:                  "fresco",
		Usage:                 "Execute typed workflow graphs over media and inference backends",
		Version:               version,
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			serveCommand(),
			runCommand(),
			validateCommand(),
			diagramCommand(),
			secretsCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
