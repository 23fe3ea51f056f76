package server

import (
	"context"

	"github.com/pretenderdb/pretender/dynamo/ddberr"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func (s *Server) handleCreateTable(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[createTableRequest](body)
	if err != nil {
		return nil, err
	}
	input := &dynamodb.CreateTableInput{TableName: req.TableName}
	for i := range req.AttributeDefinitions {
		ad := req.AttributeDefinitions[i]
		input.AttributeDefinitions = append(input.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: &req.AttributeDefinitions[i].AttributeName,
			AttributeType: types.ScalarAttributeType(ad.AttributeType),
		})
	}
	input.KeySchema = toSDKKeySchema(req.KeySchema)
	for i := range req.GlobalSecondaryIndexes {
		gsi := req.GlobalSecondaryIndexes[i]
		converted := types.GlobalSecondaryIndex{
			IndexName: &req.GlobalSecondaryIndexes[i].IndexName,
			KeySchema: toSDKKeySchema(gsi.KeySchema),
		}
		if gsi.Projection != nil {
			converted.Projection = &types.Projection{
				ProjectionType:   types.ProjectionType(gsi.Projection.ProjectionType),
				NonKeyAttributes: gsi.Projection.NonKeyAttributes,
			}
		}
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, converted)
	}
	if req.StreamSpecification != nil {
		input.StreamSpecification = &types.StreamSpecification{
			StreamEnabled:  req.StreamSpecification.StreamEnabled,
			StreamViewType: types.StreamViewType(req.StreamSpecification.StreamViewType),
		}
	}

	out, err := s.store.CreateTable(ctx, input)
	if err != nil {
		return nil, err
	}
	return tableDescriptionResponse{TableDescription: toWireTableDescription(out.TableDescription)}, nil
}

func (s *Server) handleDeleteTable(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[tableNameRequest](body)
	if err != nil {
		return nil, err
	}
	out, err := s.store.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: req.TableName})
	if err != nil {
		return nil, err
	}
	return tableDescriptionResponse{TableDescription: toWireTableDescription(out.TableDescription)}, nil
}

func (s *Server) handleDescribeTable(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[tableNameRequest](body)
	if err != nil {
		return nil, err
	}
	out, err := s.store.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: req.TableName})
	if err != nil {
		return nil, err
	}
	return tableDescriptionResponse{Table: toWireTableDescription(out.Table)}, nil
}

func (s *Server) handleListTables(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[listTablesRequest](body)
	if err != nil {
		return nil, err
	}
	out, err := s.store.ListTables(ctx, &dynamodb.ListTablesInput{
		ExclusiveStartTableName: req.ExclusiveStartTableName,
		Limit:                   req.Limit,
	})
	if err != nil {
		return nil, err
	}
	return listTablesResponse{
		TableNames:             out.TableNames,
		LastEvaluatedTableName: out.LastEvaluatedTableName,
	}, nil
}

func (s *Server) handleUpdateTable(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[updateTableRequest](body)
	if err != nil {
		return nil, err
	}
	input := &dynamodb.UpdateTableInput{TableName: req.TableName}
	if req.StreamSpecification != nil {
		input.StreamSpecification = &types.StreamSpecification{
			StreamEnabled:  req.StreamSpecification.StreamEnabled,
			StreamViewType: types.StreamViewType(req.StreamSpecification.StreamViewType),
		}
	}
	out, err := s.store.UpdateTable(ctx, input)
	if err != nil {
		return nil, err
	}
	return tableDescriptionResponse{TableDescription: toWireTableDescription(out.TableDescription)}, nil
}

func (s *Server) handleUpdateTimeToLive(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[updateTimeToLiveRequest](body)
	if err != nil {
		return nil, err
	}
	if req.TimeToLiveSpecification == nil {
		return nil, ddberr.Validation("TimeToLiveSpecification is required")
	}
	out, err := s.store.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: req.TableName,
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: req.TimeToLiveSpecification.AttributeName,
			Enabled:       req.TimeToLiveSpecification.Enabled,
		},
	})
	if err != nil {
		return nil, err
	}
	return map[string]timeToLiveSpecification{
		"TimeToLiveSpecification": {
			AttributeName: out.TimeToLiveSpecification.AttributeName,
			Enabled:       out.TimeToLiveSpecification.Enabled,
		},
	}, nil
}

func (s *Server) handleDescribeTimeToLive(ctx context.Context, body []byte) (any, error) {
	req, err := decodeRequest[tableNameRequest](body)
	if err != nil {
		return nil, err
	}
	out, err := s.store.DescribeTimeToLive(ctx, &dynamodb.DescribeTimeToLiveInput{TableName: req.TableName})
	if err != nil {
		return nil, err
	}
	desc := map[string]string{"TimeToLiveStatus": string(out.TimeToLiveDescription.TimeToLiveStatus)}
	if out.TimeToLiveDescription.AttributeName != nil {
		desc["AttributeName"] = *out.TimeToLiveDescription.AttributeName
	}
	return map[string]any{"TimeToLiveDescription": desc}, nil
}

func toSDKKeySchema(schema []keySchemaElement) []types.KeySchemaElement {
	out := make([]types.KeySchemaElement, 0, len(schema))
	for i := range schema {
		out = append(out, types.KeySchemaElement{
			AttributeName: &schema[i].AttributeName,
			KeyType:       types.KeyType(schema[i].KeyType),
		})
	}
	return out
}

func toWireTableDescription(desc *types.TableDescription) *tableDescription {
	if desc == nil {
		return nil
	}
	out := &tableDescription{
		TableName:         deref(desc.TableName),
		TableStatus:       string(desc.TableStatus),
		LatestStreamArn:   deref(desc.LatestStreamArn),
		LatestStreamLabel: deref(desc.LatestStreamLabel),
	}
	if desc.CreationDateTime != nil {
		out.CreationDateTime = float64(desc.CreationDateTime.Unix())
	}
	for _, ad := range desc.AttributeDefinitions {
		out.AttributeDefinitions = append(out.AttributeDefinitions, attributeDefinition{
			AttributeName: deref(ad.AttributeName),
			AttributeType: string(ad.AttributeType),
		})
	}
	for _, elem := range desc.KeySchema {
		out.KeySchema = append(out.KeySchema, keySchemaElement{
			AttributeName: deref(elem.AttributeName),
			KeyType:       string(elem.KeyType),
		})
	}
	for _, gsi := range desc.GlobalSecondaryIndexes {
		converted := gsiDescription{
			IndexName:   deref(gsi.IndexName),
			IndexStatus: string(gsi.IndexStatus),
		}
		for _, elem := range gsi.KeySchema {
			converted.KeySchema = append(converted.KeySchema, keySchemaElement{
				AttributeName: deref(elem.AttributeName),
				KeyType:       string(elem.KeyType),
			})
		}
		if gsi.Projection != nil {
			converted.Projection = &projectionSpec{
				ProjectionType:   string(gsi.Projection.ProjectionType),
				NonKeyAttributes: gsi.Projection.NonKeyAttributes,
			}
		}
		out.GlobalSecondaryIndexes = append(out.GlobalSecondaryIndexes, converted)
	}
	if desc.StreamSpecification != nil {
		out.StreamSpecification = &streamSpecification{
			StreamEnabled:  desc.StreamSpecification.StreamEnabled,
			StreamViewType: string(desc.StreamSpecification.StreamViewType),
		}
	}
	return out
}
