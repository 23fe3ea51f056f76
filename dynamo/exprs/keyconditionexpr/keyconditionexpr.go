// Package keyconditionexpr parses KeyConditionExpression strings. The grammar
// is the condition grammar restricted to `hash = :v`, optionally ANDed with a
// single range-key comparison, BETWEEN or begins_with.
package keyconditionexpr

import (
	"fmt"

	"github.com/pretenderdb/pretender/dynamo/exprs/ast"
	"github.com/pretenderdb/pretender/dynamo/exprs/parser"
	"github.com/pretenderdb/pretender/dynamo/table"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ParseParams carries the placeholder environment and the target key schema.
type ParseParams struct {
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]types.AttributeValue
	TableKeys                 table.PrimaryKeyDefinition
}

// SortKeyOp is the operator applied to the range key.
type SortKeyOp string

const (
	OpEqual          SortKeyOp = "="
	OpLessThan       SortKeyOp = "<"
	OpLessOrEqual    SortKeyOp = "<="
	OpGreaterThan    SortKeyOp = ">"
	OpGreaterOrEqual SortKeyOp = ">="
	OpBetween        SortKeyOp = "BETWEEN"
	OpBeginsWith     SortKeyOp = "begins_with"
)

// KeyCondition is the validated, fully-resolved key predicate.
type KeyCondition struct {
	HashValue types.AttributeValue

	// SortOp is empty when the condition only fixes the hash key.
	SortOp    SortKeyOp
	SortValue types.AttributeValue
	SortUpper types.AttributeValue // BETWEEN only

	Usage *parser.Usage
}

// Parse compiles and shape-checks a key condition expression against the key
// schema of the target table or index.
func Parse(expr string, params ParseParams) (*KeyCondition, error) {
	cond, usage, err := parser.ParseCondition(expr)
	if err != nil {
		return nil, fmt.Errorf("parse key condition %q: %w", expr, err)
	}

	in := ast.Input{
		Names:  params.ExpressionAttributeNames,
		Values: params.ExpressionAttributeValues,
	}
	kc := &KeyCondition{Usage: usage}

	terms := flattenAnd(cond)
	if len(terms) > 2 {
		return nil, fmt.Errorf("key condition supports at most two terms, got %d", len(terms))
	}
	for _, term := range terms {
		if err := kc.applyTerm(term, in, params.TableKeys); err != nil {
			return nil, err
		}
	}
	if kc.HashValue == nil {
		return nil, fmt.Errorf("key condition must constrain partition key %q with '='", params.TableKeys.PartitionKey.Name)
	}
	return kc, nil
}

func flattenAnd(cond ast.Condition) []ast.Condition {
	if and, ok := cond.(*ast.AndCondition); ok {
		return append(flattenAnd(and.Left), flattenAnd(and.Right)...)
	}
	return []ast.Condition{cond}
}

func (kc *KeyCondition) applyTerm(term ast.Condition, in ast.Input, keys table.PrimaryKeyDefinition) error {
	switch c := term.(type) {
	case *ast.CompareCondition:
		name, val, comp, err := normalizeCompare(c, in)
		if err != nil {
			return err
		}
		switch name {
		case keys.PartitionKey.Name:
			if comp != ast.Equal {
				return fmt.Errorf("partition key %q only supports '='", name)
			}
			if kc.HashValue != nil {
				return fmt.Errorf("partition key %q constrained twice", name)
			}
			kc.HashValue = val
		case keys.SortKey.Name:
			if !keys.HasSortKey() {
				return fmt.Errorf("attribute %q is not a key attribute", name)
			}
			if kc.SortOp != "" {
				return fmt.Errorf("sort key %q constrained twice", name)
			}
			if comp == ast.NotEqual {
				return fmt.Errorf("sort key %q does not support '<>'", name)
			}
			kc.SortOp = SortKeyOp(comp)
			kc.SortValue = val
		default:
			return fmt.Errorf("attribute %q is not a key attribute", name)
		}
		return nil

	case *ast.BetweenCondition:
		pathOp, ok := c.Operand.(*ast.PathOperand)
		if !ok {
			return fmt.Errorf("BETWEEN operand must be the sort key")
		}
		name, err := pathName(pathOp.Path, in)
		if err != nil {
			return err
		}
		if !keys.HasSortKey() || name != keys.SortKey.Name {
			return fmt.Errorf("BETWEEN only applies to sort key, got %q", name)
		}
		if kc.SortOp != "" {
			return fmt.Errorf("sort key %q constrained twice", name)
		}
		lower, err := operandValue(c.Lower, in)
		if err != nil {
			return err
		}
		upper, err := operandValue(c.Upper, in)
		if err != nil {
			return err
		}
		kc.SortOp = OpBetween
		kc.SortValue = lower
		kc.SortUpper = upper
		return nil

	case *ast.BeginsWithCondition:
		name, err := pathName(c.Path, in)
		if err != nil {
			return err
		}
		if !keys.HasSortKey() || name != keys.SortKey.Name {
			return fmt.Errorf("begins_with only applies to sort key, got %q", name)
		}
		if kc.SortOp != "" {
			return fmt.Errorf("sort key %q constrained twice", name)
		}
		prefix, err := operandValue(c.Prefix, in)
		if err != nil {
			return err
		}
		kc.SortOp = OpBeginsWith
		kc.SortValue = prefix
		return nil
	}
	return fmt.Errorf("unsupported key condition shape")
}

// normalizeCompare orients "path op value", flipping ":v < path" forms.
func normalizeCompare(c *ast.CompareCondition, in ast.Input) (string, types.AttributeValue, ast.Comparator, error) {
	if pathOp, ok := c.Left.(*ast.PathOperand); ok {
		name, err := pathName(pathOp.Path, in)
		if err != nil {
			return "", nil, "", err
		}
		val, err := operandValue(c.Right, in)
		if err != nil {
			return "", nil, "", err
		}
		return name, val, c.Comp, nil
	}
	if pathOp, ok := c.Right.(*ast.PathOperand); ok {
		name, err := pathName(pathOp.Path, in)
		if err != nil {
			return "", nil, "", err
		}
		val, err := operandValue(c.Left, in)
		if err != nil {
			return "", nil, "", err
		}
		return name, val, flipComparator(c.Comp), nil
	}
	return "", nil, "", fmt.Errorf("key condition comparison must reference a key attribute")
}

func flipComparator(c ast.Comparator) ast.Comparator {
	switch c {
	case ast.LessThan:
		return ast.GreaterThan
	case ast.LessOrEqual:
		return ast.GreaterOrEqual
	case ast.GreaterThan:
		return ast.LessThan
	case ast.GreaterOrEqual:
		return ast.LessOrEqual
	}
	return c
}

func pathName(p *ast.Path, in ast.Input) (string, error) {
	if len(p.Parts) != 1 {
		return "", fmt.Errorf("key condition paths must be top-level attributes, got %q", p.String())
	}
	return p.TopLevelName(in)
}

func operandValue(op ast.Operand, in ast.Input) (types.AttributeValue, error) {
	val, ok := op.(*ast.ValueOperand)
	if !ok {
		return nil, fmt.Errorf("key condition values must be expression attribute values")
	}
	return in.ResolveValue(val.Ref)
}

// Used reports the placeholders the expression referenced; nil-safe.
func (kc *KeyCondition) Used() *parser.Usage {
	if kc == nil {
		return nil
	}
	return kc.Usage
}
