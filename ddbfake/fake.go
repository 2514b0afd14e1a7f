// Package ddbfake is an in-process stand-in for the DynamoDB control plane.
//
// It implements the table metadata operations the reconciliation engine
// depends on (describe, create, update, list, delete) and simulates the
// eventual consistency of the real service: freshly created tables and
// indexes report CREATING for a configurable number of describe calls before
// turning ACTIVE, and deleted indexes linger in DELETING before leaving the
// description. Table records are persisted in BadgerDB, in-memory by
// default.
package ddbfake

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

const keyPrefix = "table/"

// Options configures the fake.
type Options struct {
	// Path to the database directory. If empty, uses in-memory mode.
	Path string
	// InMemory forces in-memory mode even if Path is set.
	InMemory bool
	// SettleDescribes is how many describe calls a transitional status
	// survives before settling (table CREATING to ACTIVE, index CREATING
	// to ACTIVE, index DELETING to gone). Zero uses the default of 2,
	// negative settles on the first describe.
	SettleDescribes int
}

type Fake struct {
	db     *badger.DB
	settle int

	mu  sync.Mutex
	ops []string
}

// tableRecord is what gets persisted per table: the description plus the
// remaining describe calls before each transitional status settles.
type tableRecord struct {
	Desc        types.TableDescription
	TableSettle int
	IndexSettle map[string]int
}

// New opens a fake control plane. The default simulates two polls of
// transitional status per operation.
func New(opts Options) (*Fake, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}

	settle := opts.SettleDescribes
	if settle == 0 {
		settle = 2
	} else if settle < 0 {
		settle = 0
	}
	return &Fake{db: db, settle: settle}, nil
}

func (f *Fake) Close() error {
	return f.db.Close()
}

// Ops returns the journal of mutating calls in issue order, for test
// assertions. Describe calls are not journaled.
func (f *Fake) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.ops))
	copy(out, f.ops)
	return out
}

func (f *Fake) ResetOps() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = nil
}

func (f *Fake) journal(format string, args ...any) {
	f.ops = append(f.ops, fmt.Sprintf(format, args...))
}

func notFound(name string) error {
	return &types.ResourceNotFoundException{
		Message: aws.String(fmt.Sprintf("Requested resource not found: Table: %s not found", name)),
	}
}

func inUse(name string) error {
	return &types.ResourceInUseException{
		Message: aws.String(fmt.Sprintf("Table already exists: %s", name)),
	}
}

func (f *Fake) loadRecord(txn *badger.Txn, name string) (*tableRecord, error) {
	item, err := txn.Get([]byte(keyPrefix + name))
	if err == badger.ErrKeyNotFound {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("load table record %q: %w", name, err)
	}
	var rec tableRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("decode table record %q: %w", name, err)
	}
	return &rec, nil
}

func (f *Fake) storeRecord(txn *badger.Txn, name string, rec *tableRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode table record %q: %w", name, err)
	}
	return txn.Set([]byte(keyPrefix+name), val)
}

// CreateTable registers a new table in CREATING status with every declared
// index CREATING alongside it.
func (f *Fake) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.TableName)
	rec := &tableRecord{
		Desc: types.TableDescription{
			TableName:            params.TableName,
			TableStatus:          types.TableStatusCreating,
			AttributeDefinitions: params.AttributeDefinitions,
			KeySchema:            params.KeySchema,
			ItemCount:            aws.Int64(0),
		},
		TableSettle: f.settle,
		IndexSettle: make(map[string]int),
	}
	if params.ProvisionedThroughput != nil {
		rec.Desc.ProvisionedThroughput = &types.ProvisionedThroughputDescription{
			ReadCapacityUnits:  params.ProvisionedThroughput.ReadCapacityUnits,
			WriteCapacityUnits: params.ProvisionedThroughput.WriteCapacityUnits,
		}
	}
	for _, gsi := range params.GlobalSecondaryIndexes {
		rec.Desc.GlobalSecondaryIndexes = append(rec.Desc.GlobalSecondaryIndexes, indexDescription(gsi, types.IndexStatusCreating))
		rec.IndexSettle[aws.ToString(gsi.IndexName)] = f.settle
	}

	err := f.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(keyPrefix + name)); err == nil {
			return inUse(name)
		}
		return f.storeRecord(txn, name, rec)
	})
	if err != nil {
		return nil, err
	}
	f.journal("CreateTable %s", name)
	desc := rec.Desc
	return &dynamodb.CreateTableOutput{TableDescription: &desc}, nil
}

// DescribeTable returns the current description and advances the simulated
// clock: each call brings every transitional status one step closer to
// settling.
func (f *Fake) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.TableName)
	var out types.TableDescription
	err := f.db.Update(func(txn *badger.Txn) error {
		rec, err := f.loadRecord(txn, name)
		if err != nil {
			return err
		}
		// Snapshot before advancing; advance rewrites the index slice
		// in place.
		out = rec.Desc
		out.GlobalSecondaryIndexes = append([]types.GlobalSecondaryIndexDescription(nil), rec.Desc.GlobalSecondaryIndexes...)
		advance(rec)
		return f.storeRecord(txn, name, rec)
	})
	if err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{Table: &out}, nil
}

// advance steps all pending transitions of a record.
func advance(rec *tableRecord) {
	if rec.Desc.TableStatus == types.TableStatusCreating || rec.Desc.TableStatus == types.TableStatusUpdating {
		if rec.TableSettle > 0 {
			rec.TableSettle--
		}
		if rec.TableSettle == 0 {
			rec.Desc.TableStatus = types.TableStatusActive
		}
	}

	kept := rec.Desc.GlobalSecondaryIndexes[:0]
	for _, gsi := range rec.Desc.GlobalSecondaryIndexes {
		name := aws.ToString(gsi.IndexName)
		switch gsi.IndexStatus {
		case types.IndexStatusCreating, types.IndexStatusUpdating:
			if rec.IndexSettle[name] > 0 {
				rec.IndexSettle[name]--
			}
			if rec.IndexSettle[name] == 0 {
				gsi.IndexStatus = types.IndexStatusActive
				delete(rec.IndexSettle, name)
			}
		case types.IndexStatusDeleting:
			if rec.IndexSettle[name] > 0 {
				rec.IndexSettle[name]--
			}
			if rec.IndexSettle[name] == 0 {
				delete(rec.IndexSettle, name)
				continue // index leaves the description
			}
		}
		kept = append(kept, gsi)
	}
	rec.Desc.GlobalSecondaryIndexes = kept
}

// UpdateTable applies global secondary index updates. Created indexes enter
// CREATING, deleted indexes enter DELETING and disappear once settled.
// Attribute definitions carried on the input are merged into the table.
func (f *Fake) UpdateTable(ctx context.Context, params *dynamodb.UpdateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.TableName)
	var out types.TableDescription
	var journaled []string
	err := f.db.Update(func(txn *badger.Txn) error {
		rec, err := f.loadRecord(txn, name)
		if err != nil {
			return err
		}
		for _, def := range params.AttributeDefinitions {
			rec.Desc.AttributeDefinitions = mergeAttribute(rec.Desc.AttributeDefinitions, def)
		}
		for _, update := range params.GlobalSecondaryIndexUpdates {
			switch {
			case update.Create != nil:
				indexName := aws.ToString(update.Create.IndexName)
				if findIndex(rec.Desc.GlobalSecondaryIndexes, indexName) >= 0 {
					return inUse(indexName)
				}
				rec.Desc.GlobalSecondaryIndexes = append(rec.Desc.GlobalSecondaryIndexes, indexDescription(types.GlobalSecondaryIndex{
					IndexName:             update.Create.IndexName,
					KeySchema:             update.Create.KeySchema,
					Projection:            update.Create.Projection,
					ProvisionedThroughput: update.Create.ProvisionedThroughput,
				}, types.IndexStatusCreating))
				rec.IndexSettle[indexName] = f.settle
				journaled = append(journaled, fmt.Sprintf("UpdateTable %s create %s", name, indexName))
			case update.Delete != nil:
				indexName := aws.ToString(update.Delete.IndexName)
				i := findIndex(rec.Desc.GlobalSecondaryIndexes, indexName)
				if i < 0 {
					return notFound(indexName)
				}
				rec.Desc.GlobalSecondaryIndexes[i].IndexStatus = types.IndexStatusDeleting
				rec.IndexSettle[indexName] = f.settle
				journaled = append(journaled, fmt.Sprintf("UpdateTable %s delete %s", name, indexName))
			}
		}
		out = rec.Desc
		return f.storeRecord(txn, name, rec)
	})
	if err != nil {
		return nil, err
	}
	f.ops = append(f.ops, journaled...)
	return &dynamodb.UpdateTableOutput{TableDescription: &out}, nil
}

func (f *Fake) ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var names []string
	err := f.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(keyPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(keyPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &dynamodb.ListTablesOutput{TableNames: names}, nil
}

func (f *Fake) DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := aws.ToString(params.TableName)
	var out types.TableDescription
	err := f.db.Update(func(txn *badger.Txn) error {
		rec, err := f.loadRecord(txn, name)
		if err != nil {
			return err
		}
		out = rec.Desc
		out.TableStatus = types.TableStatusDeleting
		return txn.Delete([]byte(keyPrefix + name))
	})
	if err != nil {
		return nil, err
	}
	f.journal("DeleteTable %s", name)
	return &dynamodb.DeleteTableOutput{TableDescription: &out}, nil
}

func indexDescription(gsi types.GlobalSecondaryIndex, status types.IndexStatus) types.GlobalSecondaryIndexDescription {
	desc := types.GlobalSecondaryIndexDescription{
		IndexName:   gsi.IndexName,
		KeySchema:   gsi.KeySchema,
		Projection:  gsi.Projection,
		IndexStatus: status,
	}
	if gsi.ProvisionedThroughput != nil {
		desc.ProvisionedThroughput = &types.ProvisionedThroughputDescription{
			ReadCapacityUnits:  gsi.ProvisionedThroughput.ReadCapacityUnits,
			WriteCapacityUnits: gsi.ProvisionedThroughput.WriteCapacityUnits,
		}
	}
	return desc
}

func findIndex(indexes []types.GlobalSecondaryIndexDescription, name string) int {
	for i := range indexes {
		if aws.ToString(indexes[i].IndexName) == name {
			return i
		}
	}
	return -1
}

func mergeAttribute(defs []types.AttributeDefinition, def types.AttributeDefinition) []types.AttributeDefinition {
	for i := range defs {
		if aws.ToString(defs[i].AttributeName) == aws.ToString(def.AttributeName) {
			defs[i] = def
			return defs
		}
	}
	return append(defs, def)
}
