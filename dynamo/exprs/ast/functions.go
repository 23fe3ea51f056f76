package ast

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// AttributeExistsCondition is attribute_exists(path) / attribute_not_exists(path).
type AttributeExistsCondition struct {
	Path   *Path
	Negate bool
}

func (c *AttributeExistsCondition) Eval(in Input, doc map[string]types.AttributeValue) (bool, error) {
	_, found, err := c.Path.Resolve(in, doc)
	if err != nil {
		return false, err
	}
	if c.Negate {
		return !found, nil
	}
	return found, nil
}

// AttributeTypeCondition is attribute_type(path, :t).
type AttributeTypeCondition struct {
	Path *Path
	Type Operand
}

func (c *AttributeTypeCondition) Eval(in Input, doc map[string]types.AttributeValue) (bool, error) {
	val, found, err := c.Path.Resolve(in, doc)
	if err != nil || !found {
		return false, err
	}
	want, ok, err := c.Type.Eval(in, doc)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	wantS, isS := want.(*types.AttributeValueMemberS)
	if !isS {
		return false, fmt.Errorf("attribute_type() expects a string type operand")
	}
	return attrvalue.TypeName(val) == wantS.Value, nil
}

// BeginsWithCondition is begins_with(path, operand) on S or B.
type BeginsWithCondition struct {
	Path   *Path
	Prefix Operand
}

func (c *BeginsWithCondition) Eval(in Input, doc map[string]types.AttributeValue) (bool, error) {
	val, found, err := c.Path.Resolve(in, doc)
	if err != nil || !found {
		return false, err
	}
	prefix, ok, err := c.Prefix.Eval(in, doc)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	switch v := val.(type) {
	case *types.AttributeValueMemberS:
		p, ok := prefix.(*types.AttributeValueMemberS)
		if !ok {
			return false, nil
		}
		return strings.HasPrefix(v.Value, p.Value), nil
	case *types.AttributeValueMemberB:
		p, ok := prefix.(*types.AttributeValueMemberB)
		if !ok {
			return false, nil
		}
		return bytes.HasPrefix(v.Value, p.Value), nil
	}
	return false, nil
}

// ContainsCondition is contains(haystack, needle): substring on S, membership
// on sets and lists.
type ContainsCondition struct {
	Haystack Operand
	Needle   Operand
}

func (c *ContainsCondition) Eval(in Input, doc map[string]types.AttributeValue) (bool, error) {
	hay, found, err := c.Haystack.Eval(in, doc)
	if err != nil || !found {
		return false, err
	}
	needle, ok, err := c.Needle.Eval(in, doc)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	switch h := hay.(type) {
	case *types.AttributeValueMemberS:
		n, ok := needle.(*types.AttributeValueMemberS)
		if !ok {
			return false, nil
		}
		return strings.Contains(h.Value, n.Value), nil
	case *types.AttributeValueMemberSS:
		n, ok := needle.(*types.AttributeValueMemberS)
		if !ok {
			return false, nil
		}
		for _, member := range h.Value {
			if member == n.Value {
				return true, nil
			}
		}
		return false, nil
	case *types.AttributeValueMemberNS:
		n, ok := needle.(*types.AttributeValueMemberN)
		if !ok {
			return false, nil
		}
		for _, member := range h.Value {
			if attrvalue.NumberEqual(member, n.Value) {
				return true, nil
			}
		}
		return false, nil
	case *types.AttributeValueMemberBS:
		n, ok := needle.(*types.AttributeValueMemberB)
		if !ok {
			return false, nil
		}
		for _, member := range h.Value {
			if bytes.Equal(member, n.Value) {
				return true, nil
			}
		}
		return false, nil
	case *types.AttributeValueMemberL:
		for _, member := range h.Value {
			if valuesEqual(member, needle) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, nil
}

func compareValues(comp Comparator, left, right types.AttributeValue) (bool, error) {
	if comp == Equal {
		return valuesEqual(left, right), nil
	}
	if comp == NotEqual {
		return !valuesEqual(left, right), nil
	}
	cmp, ok := attrvalue.Compare(left, right)
	if !ok {
		// Ordered comparison of mismatched or non-scalar types never matches.
		return false, nil
	}
	switch comp {
	case LessThan:
		return cmp < 0, nil
	case LessOrEqual:
		return cmp <= 0, nil
	case GreaterThan:
		return cmp > 0, nil
	case GreaterOrEqual:
		return cmp >= 0, nil
	}
	return false, fmt.Errorf("unknown comparator %q", comp)
}

func valuesEqual(a, b types.AttributeValue) bool {
	return attrvalue.Equal(a, b)
}
