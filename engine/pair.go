package engine

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// TablePair binds the declared (local) definition of a table to its observed
// (remote) description, if one exists. It classifies what the pair needs
// (nothing, full table creation, or incremental index changes) and computes
// the index set-differences driving those changes.
//
// The local and remote index maps are snapshots taken at construction. They
// are never updated once index operations start, so the to-create/to-delete
// computations are pure functions of the pairing-time state.
type TablePair struct {
	tableName string
	local     *dynamodb.CreateTableInput
	remote    *types.TableDescription

	localIndexes  map[string]types.GlobalSecondaryIndex
	remoteIndexes map[string]types.GlobalSecondaryIndexDescription
}

// NewTablePair pairs a declared definition with an observed description.
//
// local must not be nil: there must always be a declared version of the
// table. remote may be nil, meaning the table does not exist yet.
//
// If both are present under different table names the mismatch is logged at
// error level but the pair is still constructed under the declared name.
// That keeps a misreported describe from aborting the whole batch, at the
// cost of reconciling against a description that may belong to another
// table.
func NewTablePair(local *dynamodb.CreateTableInput, remote *types.TableDescription, log *zap.Logger) (*TablePair, error) {
	if local == nil {
		return nil, fmt.Errorf("%w: table pair requires a declared definition, got nil", ErrConfiguration)
	}
	if log == nil {
		log = zap.NewNop()
	}

	name := aws.ToString(local.TableName)
	if remote != nil && name != aws.ToString(remote.TableName) {
		log.Error("declared and observed table names differ, pairing under the declared name",
			zap.String("declared", name),
			zap.String("observed", aws.ToString(remote.TableName)))
	}

	p := &TablePair{
		tableName:     name,
		local:         local,
		remote:        remote,
		localIndexes:  make(map[string]types.GlobalSecondaryIndex),
		remoteIndexes: make(map[string]types.GlobalSecondaryIndexDescription),
	}
	for _, gsi := range local.GlobalSecondaryIndexes {
		p.localIndexes[aws.ToString(gsi.IndexName)] = gsi
	}
	if remote != nil {
		for _, gsi := range remote.GlobalSecondaryIndexes {
			p.remoteIndexes[aws.ToString(gsi.IndexName)] = gsi
		}
	}
	log.Debug("paired declared table with remote description",
		zap.String("table", name),
		zap.Bool("exists", remote != nil),
		zap.Int("localIndexes", len(p.localIndexes)),
		zap.Int("remoteIndexes", len(p.remoteIndexes)))
	return p, nil
}

func (p *TablePair) TableName() string {
	return p.tableName
}

// CreateTableInput returns the declared definition as passed at pairing.
func (p *TablePair) CreateTableInput() *dynamodb.CreateTableInput {
	return p.local
}

// RequiresCreation reports whether the table has no remote counterpart and
// must be created from scratch.
func (p *TablePair) RequiresCreation() bool {
	return p.remote == nil
}

// RequiresModification reports whether both versions exist and their index
// sets diverge. Always false when RequiresCreation is true.
func (p *TablePair) RequiresModification() bool {
	return !p.RequiresCreation() && (len(p.IndexesToCreate()) > 0 || len(p.IndexesToDelete()) > 0)
}

// IndexesToCreate returns the declared indexes absent from the remote table,
// keyed by index name.
//
// When the whole table requires creation this is empty: the create-table
// request already carries every declared index.
func (p *TablePair) IndexesToCreate() map[string]types.GlobalSecondaryIndex {
	toCreate := make(map[string]types.GlobalSecondaryIndex)
	if p.RequiresCreation() {
		return toCreate
	}
	for name, gsi := range p.localIndexes {
		if _, ok := p.remoteIndexes[name]; !ok {
			toCreate[name] = gsi
		}
	}
	return toCreate
}

// IndexesToDelete returns the remote indexes absent from the declared
// definition, keyed by index name and converted to the declared index shape
// so they can feed the same update path as creations.
func (p *TablePair) IndexesToDelete() map[string]types.GlobalSecondaryIndex {
	toDelete := make(map[string]types.GlobalSecondaryIndex)
	if p.remote == nil {
		return toDelete
	}
	for name, desc := range p.remoteIndexes {
		if _, ok := p.localIndexes[name]; !ok {
			toDelete[name] = convertIndexDescription(desc)
		}
	}
	return toDelete
}

// convertIndexDescription reshapes an observed index descriptor into the
// declared index form, carrying name, key schema, projection and provisioned
// capacity over one-to-one. On-demand tables describe zero capacity units;
// those convert to no provisioned throughput at all.
func convertIndexDescription(desc types.GlobalSecondaryIndexDescription) types.GlobalSecondaryIndex {
	gsi := types.GlobalSecondaryIndex{
		IndexName:  desc.IndexName,
		KeySchema:  desc.KeySchema,
		Projection: desc.Projection,
	}
	if t := desc.ProvisionedThroughput; t != nil && aws.ToInt64(t.ReadCapacityUnits) > 0 {
		gsi.ProvisionedThroughput = &types.ProvisionedThroughput{
			ReadCapacityUnits:  t.ReadCapacityUnits,
			WriteCapacityUnits: t.WriteCapacityUnits,
		}
	}
	return gsi
}
