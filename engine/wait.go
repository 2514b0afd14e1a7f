package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// The waits below all follow the same discipline: re-describe the table,
// inspect the status, sleep the poll interval, repeat. Cancelling ctx aborts
// a wait immediately. With no poll timeout configured an operation that
// never reaches a terminal status blocks forever.

// waitCtx applies the optional poll timeout to one wait.
func (e *Engine) waitCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.pollTimeout > 0 {
		return context.WithTimeout(ctx, e.pollTimeout)
	}
	return context.WithCancel(ctx)
}

// waitTableActive blocks until the table reports ACTIVE. A transient "not
// found" is tolerated since a freshly created table may not be visible to
// describes yet.
func (e *Engine) waitTableActive(ctx context.Context, tableName string) error {
	ctx, cancel := e.waitCtx(ctx)
	defer cancel()

	e.log.Info("waiting for table to become active", zap.String("table", tableName))
	for {
		desc, err := e.describe(ctx, tableName)
		if err != nil {
			return err
		}
		if desc != nil {
			switch desc.TableStatus {
			case types.TableStatusActive:
				e.log.Info("table is active", zap.String("table", tableName))
				return nil
			case types.TableStatusCreating, types.TableStatusUpdating:
				// still settling
			default:
				return fmt.Errorf("%w: table %q reported status %q while waiting for it to become active",
					ErrProtocol, tableName, desc.TableStatus)
			}
		}
		if err := e.sleep(ctx, tableName); err != nil {
			return err
		}
	}
}

// waitIndexActive blocks until the named index reports ACTIVE. CREATING and
// UPDATING are the only statuses tolerated along the way; in particular an
// index just requested for creation must never turn up DELETING.
func (e *Engine) waitIndexActive(ctx context.Context, tableName, indexName string) error {
	if err := e.waitTableActive(ctx, tableName); err != nil {
		return err
	}
	ctx, cancel := e.waitCtx(ctx)
	defer cancel()

	e.log.Info("waiting for index to become active",
		zap.String("table", tableName), zap.String("index", indexName))
	for {
		gsi, err := e.describeIndex(ctx, tableName, indexName)
		if err != nil {
			return err
		}
		if gsi != nil {
			switch gsi.IndexStatus {
			case types.IndexStatusActive:
				e.log.Info("index is active",
					zap.String("table", tableName), zap.String("index", indexName))
				return nil
			case types.IndexStatusCreating, types.IndexStatusUpdating:
				// still building
			default:
				return fmt.Errorf("%w: index %q on table %q reported status %q while waiting for it to become active",
					ErrProtocol, indexName, tableName, gsi.IndexStatus)
			}
		}
		if err := e.sleep(ctx, tableName); err != nil {
			return err
		}
	}
}

// waitIndexGone blocks until the named index has left the table description
// entirely. The store keeps listing a deleting index until removal
// completes, so leaving the DELETING status is not enough. While the index
// is still listed, any status other than DELETING is a protocol violation.
func (e *Engine) waitIndexGone(ctx context.Context, tableName, indexName string) error {
	if err := e.waitTableActive(ctx, tableName); err != nil {
		return err
	}
	ctx, cancel := e.waitCtx(ctx)
	defer cancel()

	e.log.Info("waiting for index to disappear from the table description",
		zap.String("table", tableName), zap.String("index", indexName))
	for {
		gsi, err := e.describeIndex(ctx, tableName, indexName)
		if err != nil {
			return err
		}
		if gsi == nil {
			e.log.Info("index is gone",
				zap.String("table", tableName), zap.String("index", indexName))
			return nil
		}
		if gsi.IndexStatus != types.IndexStatusDeleting {
			return fmt.Errorf("%w: index %q on table %q reported status %q while being deleted",
				ErrProtocol, indexName, tableName, gsi.IndexStatus)
		}
		if err := e.sleep(ctx, tableName); err != nil {
			return err
		}
	}
}

// describeIndex returns the named index from a fresh table description, or
// nil when the table lists no such index.
func (e *Engine) describeIndex(ctx context.Context, tableName, indexName string) (*types.GlobalSecondaryIndexDescription, error) {
	out, err := e.ddb.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)})
	if err != nil {
		return nil, fmt.Errorf("describe table %q: %w", tableName, err)
	}
	for i := range out.Table.GlobalSecondaryIndexes {
		gsi := &out.Table.GlobalSecondaryIndexes[i]
		if aws.ToString(gsi.IndexName) == indexName {
			return gsi, nil
		}
	}
	return nil, nil
}

func (e *Engine) sleep(ctx context.Context, tableName string) error {
	t := time.NewTimer(e.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		e.log.Warn("interrupted while polling, aborting the batch; re-run to finish reconciling",
			zap.String("table", tableName), zap.Error(ctx.Err()))
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
