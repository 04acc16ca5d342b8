package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wastechat/api"
	"wastechat/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "wastechat: %s\n", api.UserMessage(err, err.Error()))
		stop()
		os.Exit(1)
	}
}
