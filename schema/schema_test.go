package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ddbsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tables:
  - name: users
    partitionKey: {name: id, kind: S}
    sortKey: {name: version, kind: N}
    attributes:
      - {name: email, kind: S}
    gsis:
      - name: email-Index
        projection: KEYS_ONLY
  - name: orders
    partitionKey: {name: orderId, kind: S}
    throughput: {read: 5, write: 5}
`), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	require.Len(t, s.Tables, 2)

	users := s.Tables[0]
	assert.Equal(t, "users", users.Name)
	assert.Equal(t, KeyDef{Name: "id", Kind: "S"}, users.PartitionKey)
	require.NotNil(t, users.SortKey)
	assert.Equal(t, KeyDef{Name: "version", Kind: "N"}, *users.SortKey)
	require.Len(t, users.GSIs, 1)
	assert.Equal(t, "KEYS_ONLY", users.GSIs[0].Projection)

	orders := s.Tables[1]
	require.NotNil(t, orders.Throughput)
	assert.EqualValues(t, 5, orders.Throughput.Read)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestTable_CreateTableInput(t *testing.T) {
	tbl := Table{
		Name:         "users",
		PartitionKey: KeyDef{Name: "id", Kind: "S"},
		SortKey:      &KeyDef{Name: "version", Kind: "N"},
		Attributes:   []KeyDef{{Name: "email", Kind: "S"}},
	}

	input, err := tbl.CreateTableInput()
	require.NoError(t, err)
	assert.Equal(t, "users", aws.ToString(input.TableName))

	require.Len(t, input.KeySchema, 2)
	assert.Equal(t, "id", aws.ToString(input.KeySchema[0].AttributeName))
	assert.Equal(t, types.KeyTypeHash, input.KeySchema[0].KeyType)
	assert.Equal(t, "version", aws.ToString(input.KeySchema[1].AttributeName))
	assert.Equal(t, types.KeyTypeRange, input.KeySchema[1].KeyType)

	// The declared "email" attribute backs no key schema without an index
	// referencing it, so it is left out of the definitions.
	require.Len(t, input.AttributeDefinitions, 2)
	assert.Equal(t, "id", aws.ToString(input.AttributeDefinitions[0].AttributeName))
	assert.Equal(t, "version", aws.ToString(input.AttributeDefinitions[1].AttributeName))
	assert.Equal(t, types.BillingModePayPerRequest, input.BillingMode)
	assert.Nil(t, input.ProvisionedThroughput)
}

func TestTable_GSIKeySchemaDerivedFromName(t *testing.T) {
	tbl := Table{
		Name:         "users",
		PartitionKey: KeyDef{Name: "id", Kind: "S"},
		Attributes: []KeyDef{
			{Name: "owner", Kind: "S"},
			{Name: "created", Kind: "N"},
		},
		GSIs: []GSI{{Name: "owner-created-Index"}},
	}

	input, err := tbl.CreateTableInput()
	require.NoError(t, err)
	require.Len(t, input.GlobalSecondaryIndexes, 1)

	gsi := input.GlobalSecondaryIndexes[0]
	require.Len(t, gsi.KeySchema, 2)
	assert.Equal(t, "owner", aws.ToString(gsi.KeySchema[0].AttributeName))
	assert.Equal(t, types.KeyTypeHash, gsi.KeySchema[0].KeyType)
	assert.Equal(t, "created", aws.ToString(gsi.KeySchema[1].AttributeName))
	assert.Equal(t, types.KeyTypeRange, gsi.KeySchema[1].KeyType)
	assert.Equal(t, types.ProjectionTypeAll, gsi.Projection.ProjectionType)
}

func TestTable_ProvisionedGSIInheritsTableThroughput(t *testing.T) {
	tbl := Table{
		Name:         "users",
		PartitionKey: KeyDef{Name: "id", Kind: "S"},
		Attributes:   []KeyDef{{Name: "email", Kind: "S"}},
		GSIs:         []GSI{{Name: "email-Index"}},
		Throughput:   &Throughput{Read: 10, Write: 4},
	}

	input, err := tbl.CreateTableInput()
	require.NoError(t, err)
	require.NotNil(t, input.ProvisionedThroughput)
	assert.EqualValues(t, 10, aws.ToInt64(input.ProvisionedThroughput.ReadCapacityUnits))

	require.Len(t, input.GlobalSecondaryIndexes, 1)
	gsiTp := input.GlobalSecondaryIndexes[0].ProvisionedThroughput
	require.NotNil(t, gsiTp)
	assert.EqualValues(t, 10, aws.ToInt64(gsiTp.ReadCapacityUnits))
	assert.EqualValues(t, 4, aws.ToInt64(gsiTp.WriteCapacityUnits))
}

func TestTable_RejectsUndeclaredIndexAttribute(t *testing.T) {
	tbl := Table{
		Name:         "users",
		PartitionKey: KeyDef{Name: "id", Kind: "S"},
		GSIs:         []GSI{{Name: "email-Index"}},
	}
	_, err := tbl.CreateTableInput()
	require.ErrorContains(t, err, "undeclared attribute")
}

func TestTable_RejectsInvalidIndexName(t *testing.T) {
	tbl := Table{
		Name:         "users",
		PartitionKey: KeyDef{Name: "id", Kind: "S"},
		GSIs:         []GSI{{Name: "emailIndex"}},
	}
	_, err := tbl.CreateTableInput()
	require.Error(t, err)
}

func TestTable_RejectsUnknownKind(t *testing.T) {
	tbl := Table{
		Name:         "users",
		PartitionKey: KeyDef{Name: "id", Kind: "X"},
	}
	_, err := tbl.CreateTableInput()
	require.ErrorContains(t, err, "unknown attribute kind")
}

func TestSchema_TableInputs(t *testing.T) {
	s := Schema{Tables: []Table{
		{Name: "users", PartitionKey: KeyDef{Name: "id", Kind: "S"}},
		{Name: "orders", PartitionKey: KeyDef{Name: "orderId", Kind: "S"}},
	}}

	inputs, err := s.TableInputs()
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Contains(t, inputs, "users")
	assert.Contains(t, inputs, "orders")
}

func TestSchema_RejectsDuplicateTables(t *testing.T) {
	s := Schema{Tables: []Table{
		{Name: "users", PartitionKey: KeyDef{Name: "id", Kind: "S"}},
		{Name: "users", PartitionKey: KeyDef{Name: "id", Kind: "S"}},
	}}
	_, err := s.TableInputs()
	require.ErrorContains(t, err, "declared twice")
}
