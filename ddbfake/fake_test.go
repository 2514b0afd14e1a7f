package ddbfake

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFake(t *testing.T, settle int) *Fake {
	fake, err := New(Options{InMemory: true, SettleDescribes: settle})
	require.NoError(t, err)
	t.Cleanup(func() {
		fake.Close()
	})
	return fake
}

func usersInput(indexNames ...string) *dynamodb.CreateTableInput {
	input := &dynamodb.CreateTableInput{
		TableName: aws.String("users"),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("email"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	}
	for _, name := range indexNames {
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
			IndexName: aws.String(name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("email"), KeyType: types.KeyTypeHash},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}
	return input
}

func describe(t *testing.T, fake *Fake, name string) *types.TableDescription {
	out, err := fake.DescribeTable(context.Background(), &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	require.NoError(t, err)
	return out.Table
}

func TestFake_TableLifecycle(t *testing.T) {
	fake := newTestFake(t, 2)
	ctx := context.Background()

	_, err := fake.CreateTable(ctx, usersInput())
	require.NoError(t, err)

	// Two describes of CREATING, then ACTIVE.
	assert.Equal(t, types.TableStatusCreating, describe(t, fake, "users").TableStatus)
	assert.Equal(t, types.TableStatusCreating, describe(t, fake, "users").TableStatus)
	assert.Equal(t, types.TableStatusActive, describe(t, fake, "users").TableStatus)
}

func TestFake_CreateExistingTable(t *testing.T) {
	fake := newTestFake(t, 1)
	ctx := context.Background()

	_, err := fake.CreateTable(ctx, usersInput())
	require.NoError(t, err)

	_, err = fake.CreateTable(ctx, usersInput())
	var inUse *types.ResourceInUseException
	require.ErrorAs(t, err, &inUse)
}

func TestFake_DescribeMissingTable(t *testing.T) {
	fake := newTestFake(t, 1)

	_, err := fake.DescribeTable(context.Background(), &dynamodb.DescribeTableInput{TableName: aws.String("nope")})
	var notFound *types.ResourceNotFoundException
	require.ErrorAs(t, err, &notFound)
}

func TestFake_IndexCreationSettles(t *testing.T) {
	fake := newTestFake(t, 1)
	ctx := context.Background()

	_, err := fake.CreateTable(ctx, usersInput())
	require.NoError(t, err)

	_, err = fake.UpdateTable(ctx, &dynamodb.UpdateTableInput{
		TableName: aws.String("users"),
		GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
			Create: &types.CreateGlobalSecondaryIndexAction{
				IndexName: aws.String("email-Index"),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("email"), KeyType: types.KeyTypeHash},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		}},
	})
	require.NoError(t, err)

	desc := describe(t, fake, "users")
	require.Len(t, desc.GlobalSecondaryIndexes, 1)
	assert.Equal(t, types.IndexStatusCreating, desc.GlobalSecondaryIndexes[0].IndexStatus)

	desc = describe(t, fake, "users")
	assert.Equal(t, types.IndexStatusActive, desc.GlobalSecondaryIndexes[0].IndexStatus)
}

func TestFake_IndexDeletionLingersThenDisappears(t *testing.T) {
	fake := newTestFake(t, 1)
	ctx := context.Background()

	_, err := fake.CreateTable(ctx, usersInput("email-Index"))
	require.NoError(t, err)

	_, err = fake.UpdateTable(ctx, &dynamodb.UpdateTableInput{
		TableName: aws.String("users"),
		GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
			Delete: &types.DeleteGlobalSecondaryIndexAction{IndexName: aws.String("email-Index")},
		}},
	})
	require.NoError(t, err)

	// One describe still lists the index as DELETING, the next no longer
	// lists it at all.
	desc := describe(t, fake, "users")
	require.Len(t, desc.GlobalSecondaryIndexes, 1)
	assert.Equal(t, types.IndexStatusDeleting, desc.GlobalSecondaryIndexes[0].IndexStatus)

	desc = describe(t, fake, "users")
	assert.Empty(t, desc.GlobalSecondaryIndexes)
}

func TestFake_DeleteMissingIndex(t *testing.T) {
	fake := newTestFake(t, 1)
	ctx := context.Background()

	_, err := fake.CreateTable(ctx, usersInput())
	require.NoError(t, err)

	_, err = fake.UpdateTable(ctx, &dynamodb.UpdateTableInput{
		TableName: aws.String("users"),
		GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
			Delete: &types.DeleteGlobalSecondaryIndexAction{IndexName: aws.String("nope-Index")},
		}},
	})
	var notFound *types.ResourceNotFoundException
	require.ErrorAs(t, err, &notFound)
}

func TestFake_ListAndDeleteTables(t *testing.T) {
	fake := newTestFake(t, 1)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta"} {
		input := usersInput()
		input.TableName = aws.String(name)
		_, err := fake.CreateTable(ctx, input)
		require.NoError(t, err)
	}

	out, err := fake.ListTables(ctx, &dynamodb.ListTablesInput{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alpha", "beta"}, out.TableNames)

	_, err = fake.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String("alpha")})
	require.NoError(t, err)

	out, err = fake.ListTables(ctx, &dynamodb.ListTablesInput{})
	require.NoError(t, err)
	assert.Equal(t, []string{"beta"}, out.TableNames)
}

func TestFake_OpsJournal(t *testing.T) {
	fake := newTestFake(t, 1)
	ctx := context.Background()

	_, err := fake.CreateTable(ctx, usersInput())
	require.NoError(t, err)
	describe(t, fake, "users") // describes are not journaled

	_, err = fake.UpdateTable(ctx, &dynamodb.UpdateTableInput{
		TableName: aws.String("users"),
		GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{{
			Create: &types.CreateGlobalSecondaryIndexAction{
				IndexName:  aws.String("email-Index"),
				KeySchema:  usersInput("email-Index").GlobalSecondaryIndexes[0].KeySchema,
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"CreateTable users",
		"UpdateTable users create email-Index",
	}, fake.Ops())

	fake.ResetOps()
	assert.Empty(t, fake.Ops())
}
