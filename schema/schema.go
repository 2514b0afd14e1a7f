// Package schema defines the declared table schemas that feed the
// reconciliation engine, in a form that can be authored as YAML and compiled
// into DynamoDB create-table inputs.
//
// Global secondary indexes carry no explicit key schema here. Their keys are
// encoded in the index name per the indexname convention and resolved
// against the table's attribute declarations, the same derivation the engine
// applies when creating an index on an existing table.
package schema

import (
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"gopkg.in/yaml.v3"

	"ddbsync/indexname"
)

// Schema is the root type containing all declared table definitions.
type Schema struct {
	Tables []Table `yaml:"tables"`
}

// Table describes one declared table.
type Table struct {
	Name         string  `yaml:"name"`
	PartitionKey KeyDef  `yaml:"partitionKey"`
	SortKey      *KeyDef `yaml:"sortKey,omitempty"`
	// Attributes declares the non-primary-key attributes referenced by
	// index names. Every attribute an index name mentions must appear
	// here or in the primary key.
	Attributes []KeyDef `yaml:"attributes,omitempty"`
	GSIs       []GSI    `yaml:"gsis,omitempty"`
	// Throughput is the provisioned capacity. Nil means on-demand.
	Throughput *Throughput `yaml:"throughput,omitempty"`
}

// KeyDef declares an attribute name and its scalar kind ("S", "N" or "B").
type KeyDef struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

// GSI describes a declared global secondary index. The key schema is
// derived from Name.
type GSI struct {
	Name string `yaml:"name"`
	// Projection is ALL, KEYS_ONLY or INCLUDE. Defaults to ALL.
	Projection       string      `yaml:"projection,omitempty"`
	NonKeyAttributes []string    `yaml:"nonKeyAttributes,omitempty"`
	Throughput       *Throughput `yaml:"throughput,omitempty"`
}

type Throughput struct {
	Read  int64 `yaml:"read"`
	Write int64 `yaml:"write"`
}

// Load reads a schema file.
func Load(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("read schema file: %w", err)
	}
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, fmt.Errorf("parse schema file %q: %w", path, err)
	}
	return s, nil
}

// TableInputs compiles every declared table into its create-table input,
// keyed by table name, the shape the engine's Sync takes.
func (s Schema) TableInputs() (map[string]*dynamodb.CreateTableInput, error) {
	inputs := make(map[string]*dynamodb.CreateTableInput, len(s.Tables))
	for _, t := range s.Tables {
		if _, ok := inputs[t.Name]; ok {
			return nil, fmt.Errorf("table %q declared twice", t.Name)
		}
		input, err := t.CreateTableInput()
		if err != nil {
			return nil, err
		}
		inputs[t.Name] = input
	}
	return inputs, nil
}

// CreateTableInput compiles the declared table into a DynamoDB
// create-table input, deriving each index's key schema from its name.
func (t Table) CreateTableInput() (*dynamodb.CreateTableInput, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("table declared without a name")
	}
	if t.PartitionKey.Name == "" {
		return nil, fmt.Errorf("table %q declared without a partition key", t.Name)
	}

	input := &dynamodb.CreateTableInput{
		TableName: aws.String(t.Name),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(t.PartitionKey.Name), KeyType: types.KeyTypeHash},
		},
	}
	used := map[string]bool{strings.ToLower(t.PartitionKey.Name): true}
	if t.SortKey != nil {
		input.KeySchema = append(input.KeySchema, types.KeySchemaElement{
			AttributeName: aws.String(t.SortKey.Name), KeyType: types.KeyTypeRange,
		})
		used[strings.ToLower(t.SortKey.Name)] = true
	}
	if t.Throughput != nil {
		input.ProvisionedThroughput = t.Throughput.toSDK()
	} else {
		input.BillingMode = types.BillingModePayPerRequest
	}

	for _, gsi := range t.GSIs {
		built, spec, err := t.buildGSI(gsi)
		if err != nil {
			return nil, err
		}
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, built)
		used[strings.ToLower(spec.HashKey)] = true
		if spec.RangeKey != "" {
			used[strings.ToLower(spec.RangeKey)] = true
		}
	}

	defs, err := t.attributeDefinitions(used)
	if err != nil {
		return nil, err
	}
	input.AttributeDefinitions = defs
	return input, nil
}

// attributeDefinitions emits the declared attributes referenced by some key
// schema. The store rejects definitions no key uses, so declarations only
// ever referenced by a dropped index are silently left out.
func (t Table) attributeDefinitions(used map[string]bool) ([]types.AttributeDefinition, error) {
	declared := []KeyDef{t.PartitionKey}
	if t.SortKey != nil {
		declared = append(declared, *t.SortKey)
	}
	declared = append(declared, t.Attributes...)

	seen := make(map[string]bool, len(declared))
	defs := make([]types.AttributeDefinition, 0, len(declared))
	for _, d := range declared {
		kind, err := scalarKind(d.Kind)
		if err != nil {
			return nil, fmt.Errorf("table %q attribute %q: %w", t.Name, d.Name, err)
		}
		if seen[d.Name] || !used[strings.ToLower(d.Name)] {
			continue
		}
		seen[d.Name] = true
		defs = append(defs, types.AttributeDefinition{
			AttributeName: aws.String(d.Name),
			AttributeType: kind,
		})
	}
	return defs, nil
}

func (t Table) buildGSI(gsi GSI) (types.GlobalSecondaryIndex, indexname.KeySpec, error) {
	spec, err := indexname.Parse(gsi.Name)
	if err != nil {
		return types.GlobalSecondaryIndex{}, spec, fmt.Errorf("table %q: %w", t.Name, err)
	}

	keySchema := []types.KeySchemaElement{
		{AttributeName: aws.String(spec.HashKey), KeyType: types.KeyTypeHash},
	}
	if spec.RangeKey != "" {
		keySchema = append(keySchema, types.KeySchemaElement{
			AttributeName: aws.String(spec.RangeKey), KeyType: types.KeyTypeRange,
		})
	}
	if !t.declaresAttribute(spec.HashKey) {
		return types.GlobalSecondaryIndex{}, spec, fmt.Errorf("table %q index %q names undeclared attribute %q", t.Name, gsi.Name, spec.HashKey)
	}
	if spec.RangeKey != "" && !t.declaresAttribute(spec.RangeKey) {
		return types.GlobalSecondaryIndex{}, spec, fmt.Errorf("table %q index %q names undeclared attribute %q", t.Name, gsi.Name, spec.RangeKey)
	}

	projection := types.ProjectionTypeAll
	switch gsi.Projection {
	case "", "ALL":
	case "KEYS_ONLY":
		projection = types.ProjectionTypeKeysOnly
	case "INCLUDE":
		projection = types.ProjectionTypeInclude
	default:
		return types.GlobalSecondaryIndex{}, spec, fmt.Errorf("table %q index %q: unknown projection %q", t.Name, gsi.Name, gsi.Projection)
	}
	proj := &types.Projection{ProjectionType: projection}
	for _, attr := range gsi.NonKeyAttributes {
		proj.NonKeyAttributes = append(proj.NonKeyAttributes, attr)
	}

	built := types.GlobalSecondaryIndex{
		IndexName:  aws.String(gsi.Name),
		KeySchema:  keySchema,
		Projection: proj,
	}
	switch {
	case gsi.Throughput != nil:
		built.ProvisionedThroughput = gsi.Throughput.toSDK()
	case t.Throughput != nil:
		// Provisioned tables require provisioned indexes; inherit.
		built.ProvisionedThroughput = t.Throughput.toSDK()
	}
	return built, spec, nil
}

func (t Table) declaresAttribute(name string) bool {
	if strings.EqualFold(t.PartitionKey.Name, name) {
		return true
	}
	if t.SortKey != nil && strings.EqualFold(t.SortKey.Name, name) {
		return true
	}
	for _, d := range t.Attributes {
		if strings.EqualFold(d.Name, name) {
			return true
		}
	}
	return false
}

func (tp Throughput) toSDK() *types.ProvisionedThroughput {
	return &types.ProvisionedThroughput{
		ReadCapacityUnits:  aws.Int64(tp.Read),
		WriteCapacityUnits: aws.Int64(tp.Write),
	}
}

func scalarKind(kind string) (types.ScalarAttributeType, error) {
	switch kind {
	case "S":
		return types.ScalarAttributeTypeS, nil
	case "N":
		return types.ScalarAttributeTypeN, nil
	case "B":
		return types.ScalarAttributeTypeB, nil
	default:
		return "", fmt.Errorf("unknown attribute kind %q, expected S, N or B", kind)
	}
}
