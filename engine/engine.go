// Package engine reconciles declared DynamoDB table schemas against the live
// tables of an AWS account.
//
// A caller hands Sync a map of table name to create-table input. Tables that
// do not exist remotely are created; tables that do exist have their global
// secondary indexes converged to the declared set, deleting extras before
// creating missing ones. Every mutating call is followed by a fixed-interval
// poll until the store reports a stable status, so Sync is safe to run on
// every deploy: a converged account is a no-op.
//
// Primary key schemas are never reconciled. Changing a table's key schema
// requires recreating the table, which the engine does not do.
package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"ddbsync/indexname"
)

const defaultPollInterval = 3 * time.Second

type Engine struct {
	ddb DynamoAPI
	log *zap.Logger

	pollInterval time.Duration
	// pollTimeout bounds each individual wait. Zero means wait forever,
	// matching the store's lack of any completion guarantee.
	pollTimeout time.Duration

	// mu serializes whole Sync invocations. Two concurrent batches could
	// otherwise race index mutations on the same table.
	mu sync.Mutex
}

type Option func(*Engine)

// WithPollInterval sets the delay between successive status polls.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.pollInterval = d }
}

// WithPollTimeout bounds each wait on a table or index status. The zero
// default keeps waiting indefinitely.
func WithPollTimeout(d time.Duration) Option {
	return func(e *Engine) { e.pollTimeout = d }
}

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func New(ddb DynamoAPI, opts ...Option) *Engine {
	e := &Engine{
		ddb:          ddb,
		log:          zap.NewNop(),
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// batch is the state of one Sync invocation. A fresh batch is built per call
// so nothing leaks between invocations of a long-lived engine.
type batch struct {
	defs  map[string]*dynamodb.CreateTableInput
	pairs []*TablePair
}

// Sync drives the remote tables to match the declared definitions.
//
// For every declared table name the current remote description is fetched
// (absence is not an error), a TablePair is built, and the pair's required
// operations are issued in order: create the table, or delete superfluous
// indexes then create missing ones. Each mutating call blocks until the
// store reports completion before the next one is issued.
//
// Sync returns on full convergence, on the first fatal error, or when ctx is
// cancelled mid-poll. Remote mutations that already completed are kept
// either way; the next invocation re-diffs from scratch and resumes
// converging.
func (e *Engine) Sync(ctx context.Context, local map[string]*dynamodb.CreateTableInput) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := &batch{defs: maps.Clone(local)}
	e.log.Info("starting schema reconciliation", zap.Int("tables", len(local)))

	for _, name := range slices.Sorted(maps.Keys(b.defs)) {
		remote, err := e.describe(ctx, name)
		if err != nil {
			return err
		}
		pair, err := NewTablePair(b.defs[name], remote, e.log)
		if err != nil {
			return err
		}
		if remote == nil {
			e.log.Info("no remote table found, it will be created from scratch", zap.String("table", name))
		}
		b.pairs = append(b.pairs, pair)
	}

	for _, pair := range b.pairs {
		switch {
		case pair.RequiresCreation():
			if err := e.createTable(ctx, pair); err != nil {
				return err
			}
		case pair.RequiresModification():
			if err := e.deleteSuperfluousIndexes(ctx, pair); err != nil {
				return err
			}
			if err := e.createMissingIndexes(ctx, b, pair); err != nil {
				return err
			}
		default:
			e.log.Info("declared and remote table are identical, nothing to reconcile",
				zap.String("table", pair.TableName()))
		}
	}
	return nil
}

// describe fetches the remote description for name, mapping "not found" to a
// nil description: a table that does not exist yet simply needs creation.
func (e *Engine) describe(ctx context.Context, name string) (*types.TableDescription, error) {
	out, err := e.ddb.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("describe table %q: %w", name, err)
	}
	return out.Table, nil
}

// createTable creates the pair's table and blocks until it is active.
// Losing a creation race to another deployer is fine: the table exists, so
// the wait below still converges.
func (e *Engine) createTable(ctx context.Context, pair *TablePair) error {
	name := pair.TableName()
	if _, err := e.ddb.CreateTable(ctx, pair.CreateTableInput()); err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return fmt.Errorf("create table %q: %w", name, err)
		}
		e.log.Info("table already exists, continuing", zap.String("table", name))
	} else {
		e.log.Info("issued table creation", zap.String("table", name))
	}
	return e.waitTableActive(ctx, name)
}

// deleteSuperfluousIndexes removes every remote index absent from the
// declared definition, waiting after each deletion until the index has left
// the table description entirely.
func (e *Engine) deleteSuperfluousIndexes(ctx context.Context, pair *TablePair) error {
	toDelete := pair.IndexesToDelete()
	for _, indexName := range slices.Sorted(maps.Keys(toDelete)) {
		e.log.Info("deleting superfluous index",
			zap.String("table", pair.TableName()), zap.String("index", indexName))

		_, err := e.ddb.UpdateTable(ctx, &dynamodb.UpdateTableInput{
			TableName: aws.String(pair.TableName()),
			GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
				Delete: &types.DeleteGlobalSecondaryIndexAction{IndexName: aws.String(indexName)},
			}},
		})
		if err != nil {
			return fmt.Errorf("delete index %q on table %q: %w", indexName, pair.TableName(), err)
		}
		if err := e.waitIndexGone(ctx, pair.TableName(), indexName); err != nil {
			return err
		}
	}
	return nil
}

// createMissingIndexes creates every declared index absent from the remote
// table, waiting after each creation until the index reports active.
//
// The index name is the only linkage to the key attributes, so the key
// schema arity and attribute bindings are re-derived from the name via the
// hyphen convention and resolved against the owning table's declared
// attribute definitions.
func (e *Engine) createMissingIndexes(ctx context.Context, b *batch, pair *TablePair) error {
	toCreate := pair.IndexesToCreate()
	for _, indexName := range slices.Sorted(maps.Keys(toCreate)) {
		gsi := toCreate[indexName]

		spec, err := indexname.Parse(indexName)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConfiguration, err)
		}

		defs := b.defs[pair.TableName()].AttributeDefinitions
		attrs := make([]types.AttributeDefinition, 0, 2)
		hashDef := lookupAttribute(defs, spec.HashKey)
		if hashDef == nil {
			return fmt.Errorf("%w: index %q names partition key attribute %q but table %q does not declare it",
				ErrConfiguration, indexName, spec.HashKey, pair.TableName())
		}
		attrs = append(attrs, *hashDef)
		if spec.RangeKey != "" {
			rangeDef := lookupAttribute(defs, spec.RangeKey)
			if rangeDef == nil {
				return fmt.Errorf("%w: index %q names sort key attribute %q but table %q does not declare it",
					ErrConfiguration, indexName, spec.RangeKey, pair.TableName())
			}
			attrs = append(attrs, *rangeDef)
		}

		e.log.Info("creating missing index",
			zap.String("table", pair.TableName()),
			zap.String("index", indexName),
			zap.Int("keyArity", spec.Arity()))

		_, err = e.ddb.UpdateTable(ctx, &dynamodb.UpdateTableInput{
			TableName:            aws.String(pair.TableName()),
			AttributeDefinitions: attrs,
			GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
				Create: &types.CreateGlobalSecondaryIndexAction{
					IndexName:             gsi.IndexName,
					KeySchema:             gsi.KeySchema,
					Projection:            gsi.Projection,
					ProvisionedThroughput: gsi.ProvisionedThroughput,
				},
			}},
		})
		if err != nil {
			return fmt.Errorf("create index %q on table %q: %w", indexName, pair.TableName(), err)
		}
		if err := e.waitIndexActive(ctx, pair.TableName(), indexName); err != nil {
			return err
		}
	}
	return nil
}

// lookupAttribute resolves an attribute definition by name, ignoring case.
// Index name segments are conventionally lowercased while attribute names
// need not be.
func lookupAttribute(defs []types.AttributeDefinition, name string) *types.AttributeDefinition {
	for i := range defs {
		if strings.EqualFold(aws.ToString(defs[i].AttributeName), name) {
			return &defs[i]
		}
	}
	return nil
}
