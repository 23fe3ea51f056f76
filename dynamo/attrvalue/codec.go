// Package attrvalue implements the DynamoDB attribute-value data model:
// the canonical wire-JSON codec and the equality and ordering semantics
// shared by the expression evaluator and the SQL row codec.
package attrvalue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MarshalItem encodes an item to the canonical AWS wire JSON,
// e.g. {"id":{"S":"a"},"v":{"N":"1"}}.
func MarshalItem(item map[string]types.AttributeValue) ([]byte, error) {
	raw := make(map[string]json.RawMessage, len(item))
	for name, av := range item {
		b, err := Marshal(av)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		raw[name] = b
	}
	return json.Marshal(raw)
}

// UnmarshalItem decodes the canonical AWS wire JSON back to an item.
func UnmarshalItem(data []byte) (map[string]types.AttributeValue, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	item := make(map[string]types.AttributeValue, len(raw))
	for name, b := range raw {
		av, err := Unmarshal(b)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		item[name] = av
	}
	return item, nil
}

// Marshal encodes a single attribute value to its wire JSON object.
func Marshal(av types.AttributeValue) ([]byte, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return json.Marshal(map[string]string{"S": v.Value})
	case *types.AttributeValueMemberN:
		if !ValidNumber(v.Value) {
			return nil, fmt.Errorf("invalid numeric literal %q", v.Value)
		}
		return json.Marshal(map[string]string{"N": v.Value})
	case *types.AttributeValueMemberB:
		return json.Marshal(map[string]string{"B": base64.StdEncoding.EncodeToString(v.Value)})
	case *types.AttributeValueMemberBOOL:
		return json.Marshal(map[string]bool{"BOOL": v.Value})
	case *types.AttributeValueMemberNULL:
		return json.Marshal(map[string]bool{"NULL": v.Value})
	case *types.AttributeValueMemberSS:
		if len(v.Value) == 0 {
			return nil, fmt.Errorf("empty string set")
		}
		return json.Marshal(map[string][]string{"SS": v.Value})
	case *types.AttributeValueMemberNS:
		if len(v.Value) == 0 {
			return nil, fmt.Errorf("empty number set")
		}
		for _, n := range v.Value {
			if !ValidNumber(n) {
				return nil, fmt.Errorf("invalid numeric literal %q in number set", n)
			}
		}
		return json.Marshal(map[string][]string{"NS": v.Value})
	case *types.AttributeValueMemberBS:
		if len(v.Value) == 0 {
			return nil, fmt.Errorf("empty binary set")
		}
		encoded := make([]string, len(v.Value))
		for i, b := range v.Value {
			encoded[i] = base64.StdEncoding.EncodeToString(b)
		}
		return json.Marshal(map[string][]string{"BS": encoded})
	case *types.AttributeValueMemberL:
		elems := make([]json.RawMessage, len(v.Value))
		for i, el := range v.Value {
			b, err := Marshal(el)
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			elems[i] = b
		}
		return json.Marshal(map[string][]json.RawMessage{"L": elems})
	case *types.AttributeValueMemberM:
		fields := make(map[string]json.RawMessage, len(v.Value))
		for name, el := range v.Value {
			b, err := Marshal(el)
			if err != nil {
				return nil, fmt.Errorf("map key %q: %w", name, err)
			}
			fields[name] = b
		}
		return json.Marshal(map[string]map[string]json.RawMessage{"M": fields})
	default:
		return nil, fmt.Errorf("unsupported attribute value type %T", av)
	}
}

// Unmarshal decodes a single wire JSON object into an attribute value.
// Objects with zero or more than one variant key are rejected.
func Unmarshal(data []byte) (types.AttributeValue, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode attribute value: %w", err)
	}
	if len(raw) != 1 {
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("attribute value must have exactly one type key, got %v", keys)
	}

	for tag, body := range raw {
		switch tag {
		case "S":
			var s string
			if err := json.Unmarshal(body, &s); err != nil {
				return nil, fmt.Errorf("S: %w", err)
			}
			return &types.AttributeValueMemberS{Value: s}, nil
		case "N":
			var n string
			if err := json.Unmarshal(body, &n); err != nil {
				return nil, fmt.Errorf("N: %w", err)
			}
			if !ValidNumber(n) {
				return nil, fmt.Errorf("invalid numeric literal %q", n)
			}
			return &types.AttributeValueMemberN{Value: n}, nil
		case "B":
			var s string
			if err := json.Unmarshal(body, &s); err != nil {
				return nil, fmt.Errorf("B: %w", err)
			}
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("B: %w", err)
			}
			return &types.AttributeValueMemberB{Value: b}, nil
		case "BOOL":
			var b bool
			if err := json.Unmarshal(body, &b); err != nil {
				return nil, fmt.Errorf("BOOL: %w", err)
			}
			return &types.AttributeValueMemberBOOL{Value: b}, nil
		case "NULL":
			var b bool
			if err := json.Unmarshal(body, &b); err != nil {
				return nil, fmt.Errorf("NULL: %w", err)
			}
			return &types.AttributeValueMemberNULL{Value: b}, nil
		case "SS":
			var ss []string
			if err := json.Unmarshal(body, &ss); err != nil {
				return nil, fmt.Errorf("SS: %w", err)
			}
			if len(ss) == 0 {
				return nil, fmt.Errorf("empty string set")
			}
			return &types.AttributeValueMemberSS{Value: ss}, nil
		case "NS":
			var ns []string
			if err := json.Unmarshal(body, &ns); err != nil {
				return nil, fmt.Errorf("NS: %w", err)
			}
			if len(ns) == 0 {
				return nil, fmt.Errorf("empty number set")
			}
			for _, n := range ns {
				if !ValidNumber(n) {
					return nil, fmt.Errorf("invalid numeric literal %q in number set", n)
				}
			}
			return &types.AttributeValueMemberNS{Value: ns}, nil
		case "BS":
			var encoded []string
			if err := json.Unmarshal(body, &encoded); err != nil {
				return nil, fmt.Errorf("BS: %w", err)
			}
			if len(encoded) == 0 {
				return nil, fmt.Errorf("empty binary set")
			}
			bs := make([][]byte, len(encoded))
			for i, s := range encoded {
				b, err := base64.StdEncoding.DecodeString(s)
				if err != nil {
					return nil, fmt.Errorf("BS index %d: %w", i, err)
				}
				bs[i] = b
			}
			return &types.AttributeValueMemberBS{Value: bs}, nil
		case "L":
			var elems []json.RawMessage
			if err := json.Unmarshal(body, &elems); err != nil {
				return nil, fmt.Errorf("L: %w", err)
			}
			list := make([]types.AttributeValue, len(elems))
			for i, el := range elems {
				av, err := Unmarshal(el)
				if err != nil {
					return nil, fmt.Errorf("list index %d: %w", i, err)
				}
				list[i] = av
			}
			return &types.AttributeValueMemberL{Value: list}, nil
		case "M":
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(body, &fields); err != nil {
				return nil, fmt.Errorf("M: %w", err)
			}
			m := make(map[string]types.AttributeValue, len(fields))
			for name, el := range fields {
				av, err := Unmarshal(el)
				if err != nil {
					return nil, fmt.Errorf("map key %q: %w", name, err)
				}
				m[name] = av
			}
			return &types.AttributeValueMemberM{Value: m}, nil
		default:
			return nil, fmt.Errorf("unknown attribute value type key %q", tag)
		}
	}
	return nil, fmt.Errorf("empty attribute value")
}
