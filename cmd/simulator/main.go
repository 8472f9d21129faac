// Package main starts the order event simulator.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	simulatorcmd "github.com/nsridhar76/go-orderprojector/internal/cmd/simulator"
)

func main() {
	cfg, err := simulatorcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := simulatorcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("simulator: %v", err)
	}
}
