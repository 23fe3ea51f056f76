package streams

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	streamstypes "github.com/aws/aws-sdk-go-v2/service/dynamodbstreams/types"
)

// The dynamodb and dynamodbstreams SDK packages each generate their own
// AttributeValue union; records are stored in the dynamodb shape and
// converted at the consumer boundary.

func toStreamsItem(item map[string]types.AttributeValue) (map[string]streamstypes.AttributeValue, error) {
	if item == nil {
		return nil, nil
	}
	out := make(map[string]streamstypes.AttributeValue, len(item))
	for name, av := range item {
		converted, err := toStreamsValue(av)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		out[name] = converted
	}
	return out, nil
}

func toStreamsValue(av types.AttributeValue) (streamstypes.AttributeValue, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return &streamstypes.AttributeValueMemberS{Value: v.Value}, nil
	case *types.AttributeValueMemberN:
		return &streamstypes.AttributeValueMemberN{Value: v.Value}, nil
	case *types.AttributeValueMemberB:
		return &streamstypes.AttributeValueMemberB{Value: v.Value}, nil
	case *types.AttributeValueMemberBOOL:
		return &streamstypes.AttributeValueMemberBOOL{Value: v.Value}, nil
	case *types.AttributeValueMemberNULL:
		return &streamstypes.AttributeValueMemberNULL{Value: v.Value}, nil
	case *types.AttributeValueMemberSS:
		return &streamstypes.AttributeValueMemberSS{Value: v.Value}, nil
	case *types.AttributeValueMemberNS:
		return &streamstypes.AttributeValueMemberNS{Value: v.Value}, nil
	case *types.AttributeValueMemberBS:
		return &streamstypes.AttributeValueMemberBS{Value: v.Value}, nil
	case *types.AttributeValueMemberL:
		elems := make([]streamstypes.AttributeValue, len(v.Value))
		for i, el := range v.Value {
			converted, err := toStreamsValue(el)
			if err != nil {
				return nil, err
			}
			elems[i] = converted
		}
		return &streamstypes.AttributeValueMemberL{Value: elems}, nil
	case *types.AttributeValueMemberM:
		fields := make(map[string]streamstypes.AttributeValue, len(v.Value))
		for name, el := range v.Value {
			converted, err := toStreamsValue(el)
			if err != nil {
				return nil, err
			}
			fields[name] = converted
		}
		return &streamstypes.AttributeValueMemberM{Value: fields}, nil
	}
	return nil, fmt.Errorf("unsupported attribute value type %T", av)
}

// ToDynamoItem converts a streams-shaped item back to the dynamodb shape,
// for callers that serialize records through the shared wire codec.
func ToDynamoItem(item map[string]streamstypes.AttributeValue) (map[string]types.AttributeValue, error) {
	if item == nil {
		return nil, nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for name, av := range item {
		converted, err := toDynamoValue(av)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		out[name] = converted
	}
	return out, nil
}

func toDynamoValue(av streamstypes.AttributeValue) (types.AttributeValue, error) {
	switch v := av.(type) {
	case *streamstypes.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: v.Value}, nil
	case *streamstypes.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: v.Value}, nil
	case *streamstypes.AttributeValueMemberB:
		return &types.AttributeValueMemberB{Value: v.Value}, nil
	case *streamstypes.AttributeValueMemberBOOL:
		return &types.AttributeValueMemberBOOL{Value: v.Value}, nil
	case *streamstypes.AttributeValueMemberNULL:
		return &types.AttributeValueMemberNULL{Value: v.Value}, nil
	case *streamstypes.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: v.Value}, nil
	case *streamstypes.AttributeValueMemberNS:
		return &types.AttributeValueMemberNS{Value: v.Value}, nil
	case *streamstypes.AttributeValueMemberBS:
		return &types.AttributeValueMemberBS{Value: v.Value}, nil
	case *streamstypes.AttributeValueMemberL:
		elems := make([]types.AttributeValue, len(v.Value))
		for i, el := range v.Value {
			converted, err := toDynamoValue(el)
			if err != nil {
				return nil, err
			}
			elems[i] = converted
		}
		return &types.AttributeValueMemberL{Value: elems}, nil
	case *streamstypes.AttributeValueMemberM:
		fields := make(map[string]types.AttributeValue, len(v.Value))
		for name, el := range v.Value {
			converted, err := toDynamoValue(el)
			if err != nil {
				return nil, err
			}
			fields[name] = converted
		}
		return &types.AttributeValueMemberM{Value: fields}, nil
	}
	return nil, fmt.Errorf("unsupported attribute value type %T", av)
}
