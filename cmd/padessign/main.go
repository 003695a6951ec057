package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"padessign/go-backend/internal/cli"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Run(ctx,
		cli.BuildInfo{Version: version, Commit: commit, BuildDate: buildDate},
		cli.Streams{In: os.Stdin, Out: os.Stdout, Err: os.Stderr},
		os.Args[1:],
	)
	stop()
	os.Exit(code)
}
