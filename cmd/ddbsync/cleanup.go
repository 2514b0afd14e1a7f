package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"
)

// cleanup is for test environments that create throwaway tables under a
// dedicated prefix. It is deliberately not part of reconciliation: Sync
// never deletes a table.
func runCleanup() error {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	prefix := fs.String("prefix", "", "delete tables whose name starts with this prefix (required)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	if *prefix == "" {
		return fmt.Errorf("-prefix is required; refusing to delete every table")
	}

	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg)

	var start *string
	deleted := 0
	for {
		out, err := client.ListTables(ctx, &dynamodb.ListTablesInput{ExclusiveStartTableName: start})
		if err != nil {
			return fmt.Errorf("list tables: %w", err)
		}
		for _, name := range out.TableNames {
			if !strings.HasPrefix(name, *prefix) {
				continue
			}
			if _, err := client.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(name)}); err != nil {
				return fmt.Errorf("delete table %q: %w", name, err)
			}
			log.Info("deleted table", zap.String("table", name))
			deleted++
		}
		if out.LastEvaluatedTableName == nil {
			break
		}
		start = out.LastEvaluatedTableName
	}
	log.Info("cleanup finished", zap.Int("deleted", deleted), zap.String("prefix", *prefix))
	return nil
}
