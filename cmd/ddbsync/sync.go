package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"ddbsync/engine"
	"ddbsync/schema"
)

func runSync() error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	file := fs.String("f", "ddbsync.yaml", "schema file to reconcile against")
	interval := fs.Duration("interval", 3*time.Second, "delay between successive status polls")
	timeout := fs.Duration("timeout", 0, "per-wait timeout, 0 waits forever")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	decl, err := schema.Load(*file)
	if err != nil {
		return err
	}
	inputs, err := decl.TableInputs()
	if err != nil {
		return err
	}

	// SIGINT/SIGTERM abort mid-poll; completed remote mutations are kept
	// and the next run resumes converging.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	eng := engine.New(dynamodb.NewFromConfig(cfg),
		engine.WithLogger(log),
		engine.WithPollInterval(*interval),
		engine.WithPollTimeout(*timeout),
	)
	if err := eng.Sync(ctx, inputs); err != nil {
		return err
	}
	log.Info("all tables converged", zap.Int("tables", len(inputs)))
	return nil
}
