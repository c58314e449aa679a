package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"betledger/cmd"

	log "github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		log.WithError(err).Fatal("betledger exited with an error")
	}
}
