package sqlstore

import (
	"context"
	"fmt"

	"github.com/pretenderdb/pretender/dynamo/ddberr"
	"github.com/pretenderdb/pretender/dynamo/streams"
	"github.com/pretenderdb/pretender/dynamo/table"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CreateTable registers a table schema and provisions its stream when one is
// requested.
func (s *Store) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	if params == nil || params.TableName == nil {
		return nil, ddberr.Validation("TableName is required")
	}

	def, err := definitionFromCreate(params)
	if err != nil {
		return nil, err
	}
	def.CreatedAt = s.now()

	exists, err := s.catalog.exists(ctx, def.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ddberr.ResourceInUse("Table already exists: %s", def.Name)
	}

	if def.StreamViewType != "" {
		def.StreamLabel = fmt.Sprintf("%s-%s", def.CreatedAt.Format("2006-01-02T15:04:05.000"), uuid.NewString()[:8])
		def.StreamArn = streams.Arn(def.Name, def.StreamLabel)
	}

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.catalog.insert(tx, def); err != nil {
			return err
		}
		if def.StreamViewType != "" {
			return s.createStream(tx, def)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.catalog.invalidate(def.Name)

	return &dynamodb.CreateTableOutput{
		TableDescription: s.describeDefinition(def),
	}, nil
}

func (s *Store) createStream(tx *sqlx.Tx, def table.Definition) error {
	_, err := tx.Exec(tx.Rebind(
		`INSERT INTO streams (stream_arn, table_name, stream_label, view_type, created_at) VALUES (?, ?, ?, ?, ?)`),
		def.StreamArn, def.Name, def.StreamLabel, string(def.StreamViewType), def.CreatedAt)
	return err
}

// DeleteTable removes the table, its items, its GSI projections, and its
// stream with all retained records.
func (s *Store) DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	if params == nil || params.TableName == nil {
		return nil, ddberr.Validation("TableName is required")
	}
	def, err := s.catalog.get(ctx, *params.TableName)
	if err != nil {
		return nil, err
	}

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM items WHERE table_name = ?`,
			`DELETE FROM gsi_projections WHERE table_name = ?`,
			`DELETE FROM stream_records WHERE stream_arn IN (SELECT stream_arn FROM streams WHERE table_name = ?)`,
			`DELETE FROM streams WHERE table_name = ?`,
			`DELETE FROM tables WHERE name = ?`,
		} {
			if _, err := tx.Exec(tx.Rebind(stmt), def.Name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.catalog.invalidate(def.Name)

	return &dynamodb.DeleteTableOutput{TableDescription: s.describeDefinition(def)}, nil
}

// DescribeTable reports the schema of one table.
func (s *Store) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if params == nil || params.TableName == nil {
		return nil, ddberr.Validation("TableName is required")
	}
	def, err := s.catalog.get(ctx, *params.TableName)
	if err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{Table: s.describeDefinition(def)}, nil
}

// ListTables pages through table names in lexicographic order.
func (s *Store) ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	names, err := s.catalog.listNames(ctx)
	if err != nil {
		return nil, err
	}

	limit := 100
	if params != nil && params.Limit != nil && *params.Limit > 0 {
		limit = int(*params.Limit)
	}

	out := &dynamodb.ListTablesOutput{}
	started := params == nil || params.ExclusiveStartTableName == nil
	for _, name := range names {
		if !started {
			if name > *params.ExclusiveStartTableName {
				started = true
			} else {
				continue
			}
		}
		if len(out.TableNames) == limit {
			out.LastEvaluatedTableName = &out.TableNames[len(out.TableNames)-1]
			break
		}
		out.TableNames = append(out.TableNames, name)
	}
	return out, nil
}

// UpdateTable adjusts stream settings. Key schema and GSI changes are not
// supported.
func (s *Store) UpdateTable(ctx context.Context, params *dynamodb.UpdateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	if params == nil || params.TableName == nil {
		return nil, ddberr.Validation("TableName is required")
	}
	if params.StreamSpecification == nil {
		return nil, ddberr.Validation("UpdateTable supports stream specification changes only")
	}
	def, err := s.catalog.get(ctx, *params.TableName)
	if err != nil {
		return nil, err
	}

	spec := params.StreamSpecification
	enable := spec.StreamEnabled != nil && *spec.StreamEnabled
	if enable && def.StreamViewType != "" {
		return nil, ddberr.Validation("Stream is already enabled on table %s", def.Name)
	}
	if !enable && def.StreamViewType == "" {
		return nil, ddberr.Validation("Stream is not enabled on table %s", def.Name)
	}

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		if enable {
			if spec.StreamViewType == "" {
				return ddberr.Validation("StreamViewType is required when enabling a stream")
			}
			def.StreamViewType = spec.StreamViewType
			def.StreamLabel = fmt.Sprintf("%s-%s", s.now().Format("2006-01-02T15:04:05.000"), uuid.NewString()[:8])
			def.StreamArn = streams.Arn(def.Name, def.StreamLabel)
			if err := s.createStream(tx, def); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(tx.Rebind(`UPDATE streams SET enabled = FALSE WHERE stream_arn = ?`), def.StreamArn); err != nil {
				return err
			}
			def.StreamViewType = ""
			def.StreamArn = ""
			def.StreamLabel = ""
		}
		return s.catalog.update(tx, def)
	})
	if err != nil {
		return nil, err
	}
	s.catalog.invalidate(def.Name)

	return &dynamodb.UpdateTableOutput{TableDescription: s.describeDefinition(def)}, nil
}

// UpdateTimeToLive enables or disables TTL expiry for a table.
func (s *Store) UpdateTimeToLive(ctx context.Context, params *dynamodb.UpdateTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	if params == nil || params.TableName == nil || params.TimeToLiveSpecification == nil {
		return nil, ddberr.Validation("TableName and TimeToLiveSpecification are required")
	}
	spec := params.TimeToLiveSpecification
	if spec.AttributeName == nil || spec.Enabled == nil {
		return nil, ddberr.Validation("TimeToLiveSpecification requires AttributeName and Enabled")
	}
	def, err := s.catalog.get(ctx, *params.TableName)
	if err != nil {
		return nil, err
	}

	if *spec.Enabled {
		def.TimeToLiveAttr = *spec.AttributeName
	} else {
		if def.TimeToLiveAttr != *spec.AttributeName {
			return nil, ddberr.Validation("TTL attribute mismatch for table %s", def.Name)
		}
		def.TimeToLiveAttr = ""
	}

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		return s.catalog.update(tx, def)
	})
	if err != nil {
		return nil, err
	}
	s.catalog.invalidate(def.Name)

	return &dynamodb.UpdateTimeToLiveOutput{TimeToLiveSpecification: spec}, nil
}

// DescribeTimeToLive reports a table's TTL configuration.
func (s *Store) DescribeTimeToLive(ctx context.Context, params *dynamodb.DescribeTimeToLiveInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTimeToLiveOutput, error) {
	if params == nil || params.TableName == nil {
		return nil, ddberr.Validation("TableName is required")
	}
	def, err := s.catalog.get(ctx, *params.TableName)
	if err != nil {
		return nil, err
	}
	desc := &types.TimeToLiveDescription{TimeToLiveStatus: types.TimeToLiveStatusDisabled}
	if def.TimeToLiveAttr != "" {
		desc.TimeToLiveStatus = types.TimeToLiveStatusEnabled
		desc.AttributeName = &def.TimeToLiveAttr
	}
	return &dynamodb.DescribeTimeToLiveOutput{TimeToLiveDescription: desc}, nil
}

// definitionFromCreate validates a CreateTable request into a schema.
func definitionFromCreate(params *dynamodb.CreateTableInput) (table.Definition, error) {
	attrKinds := make(map[string]table.KeyKind)
	for _, ad := range params.AttributeDefinitions {
		if ad.AttributeName == nil {
			return table.Definition{}, ddberr.Validation("AttributeDefinitions entries require AttributeName")
		}
		attrKinds[*ad.AttributeName] = table.KeyKind(ad.AttributeType)
	}

	keys, err := keysFromSchema(params.KeySchema, attrKinds)
	if err != nil {
		return table.Definition{}, err
	}

	def := table.Definition{
		Name:           *params.TableName,
		KeyDefinitions: keys,
	}

	for _, gsi := range params.GlobalSecondaryIndexes {
		if gsi.IndexName == nil {
			return table.Definition{}, ddberr.Validation("GlobalSecondaryIndexes entries require IndexName")
		}
		gsiKeys, err := keysFromSchema(gsi.KeySchema, attrKinds)
		if err != nil {
			return table.Definition{}, ddberr.Validation("index %s: %s", *gsi.IndexName, err)
		}
		gsiDef := table.GSIDefinition{
			Name:           *gsi.IndexName,
			KeyDefinitions: gsiKeys,
			Projection:     table.ProjectionAll,
		}
		if gsi.Projection != nil && gsi.Projection.ProjectionType != "" {
			gsiDef.Projection = table.ProjectionType(gsi.Projection.ProjectionType)
			gsiDef.NonKeyAttributes = gsi.Projection.NonKeyAttributes
		}
		if gsiDef.Projection == table.ProjectionInclude && len(gsiDef.NonKeyAttributes) == 0 {
			return table.Definition{}, ddberr.Validation("index %s: INCLUDE projection requires NonKeyAttributes", *gsi.IndexName)
		}
		def.GSIs = append(def.GSIs, gsiDef)
	}

	if params.StreamSpecification != nil && params.StreamSpecification.StreamEnabled != nil && *params.StreamSpecification.StreamEnabled {
		if params.StreamSpecification.StreamViewType == "" {
			return table.Definition{}, ddberr.Validation("StreamViewType is required when enabling a stream")
		}
		def.StreamViewType = params.StreamSpecification.StreamViewType
	}

	return def, nil
}

func keysFromSchema(schema []types.KeySchemaElement, attrKinds map[string]table.KeyKind) (table.PrimaryKeyDefinition, error) {
	var keys table.PrimaryKeyDefinition
	for _, elem := range schema {
		if elem.AttributeName == nil {
			return keys, ddberr.Validation("KeySchema entries require AttributeName")
		}
		kind, ok := attrKinds[*elem.AttributeName]
		if !ok {
			return keys, ddberr.Validation("key attribute %s has no attribute definition", *elem.AttributeName)
		}
		switch kind {
		case table.KeyKindS, table.KeyKindN, table.KeyKindB:
		default:
			return keys, ddberr.Validation("key attribute %s has unsupported type %s", *elem.AttributeName, kind)
		}
		switch elem.KeyType {
		case types.KeyTypeHash:
			keys.PartitionKey = table.KeyDefinition{Name: *elem.AttributeName, Kind: kind}
		case types.KeyTypeRange:
			keys.SortKey = table.KeyDefinition{Name: *elem.AttributeName, Kind: kind}
		default:
			return keys, ddberr.Validation("unknown key type %s", elem.KeyType)
		}
	}
	if keys.PartitionKey.Name == "" {
		return keys, ddberr.Validation("KeySchema requires a HASH key")
	}
	return keys, nil
}

// describeDefinition renders a schema as a TableDescription.
func (s *Store) describeDefinition(def table.Definition) *types.TableDescription {
	name := def.Name
	created := def.CreatedAt
	desc := &types.TableDescription{
		TableName:        &name,
		TableStatus:      types.TableStatusActive,
		CreationDateTime: &created,
		KeySchema:        keySchemaOf(def.KeyDefinitions),
		AttributeDefinitions: []types.AttributeDefinition{{
			AttributeName: &def.KeyDefinitions.PartitionKey.Name,
			AttributeType: types.ScalarAttributeType(def.KeyDefinitions.PartitionKey.Kind),
		}},
	}
	if def.KeyDefinitions.HasSortKey() {
		desc.AttributeDefinitions = append(desc.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: &def.KeyDefinitions.SortKey.Name,
			AttributeType: types.ScalarAttributeType(def.KeyDefinitions.SortKey.Kind),
		})
	}
	for i := range def.GSIs {
		gsi := def.GSIs[i]
		gsiDesc := types.GlobalSecondaryIndexDescription{
			IndexName:   &def.GSIs[i].Name,
			IndexStatus: types.IndexStatusActive,
			KeySchema:   keySchemaOf(gsi.KeyDefinitions),
			Projection:  &types.Projection{ProjectionType: types.ProjectionType(gsi.Projection)},
		}
		if gsi.Projection == table.ProjectionInclude {
			gsiDesc.Projection.NonKeyAttributes = gsi.NonKeyAttributes
		}
		desc.GlobalSecondaryIndexes = append(desc.GlobalSecondaryIndexes, gsiDesc)
	}
	if def.StreamViewType != "" {
		enabled := true
		desc.StreamSpecification = &types.StreamSpecification{
			StreamEnabled:  &enabled,
			StreamViewType: def.StreamViewType,
		}
		arn := def.StreamArn
		label := def.StreamLabel
		desc.LatestStreamArn = &arn
		desc.LatestStreamLabel = &label
	}
	return desc
}

func keySchemaOf(keys table.PrimaryKeyDefinition) []types.KeySchemaElement {
	schema := []types.KeySchemaElement{{
		AttributeName: &keys.PartitionKey.Name,
		KeyType:       types.KeyTypeHash,
	}}
	if keys.HasSortKey() {
		schema = append(schema, types.KeySchemaElement{
			AttributeName: &keys.SortKey.Name,
			KeyType:       types.KeyTypeRange,
		})
	}
	return schema
}
