// Package updateexpr parses and applies UpdateExpression strings, producing
// the post-image and the attribute sets the return-value modes need.
package updateexpr

import (
	"fmt"

	"github.com/pretenderdb/pretender/dynamo/exprs/ast"
	"github.com/pretenderdb/pretender/dynamo/exprs/parser"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Compiled is a parsed update expression.
type Compiled struct {
	expr  *ast.UpdateExpression
	Usage *parser.Usage
}

// EvalInput carries the placeholder environment of one request.
type EvalInput struct {
	ExpressionNames  map[string]string
	ExpressionValues map[string]types.AttributeValue
}

// EvalOutput is the result of applying an update expression.
type EvalOutput struct {
	// Item is the post-image.
	Item map[string]types.AttributeValue
	// Touched holds the top-level attribute names the expression modified,
	// feeding UPDATED_OLD / UPDATED_NEW return values.
	Touched map[string]struct{}
}

// Parse compiles an update expression.
func Parse(expr string) (*Compiled, error) {
	parsed, usage, err := parser.ParseUpdate(expr)
	if err != nil {
		return nil, fmt.Errorf("parse update expression %q: %w", expr, err)
	}
	return &Compiled{expr: parsed, Usage: usage}, nil
}

// Apply evaluates the clauses against the pre-image (nil for a new item) and
// returns the post-image. The pre-image is not mutated.
func (c *Compiled) Apply(input EvalInput, oldItem map[string]types.AttributeValue) (*EvalOutput, error) {
	in := ast.Input{Names: input.ExpressionNames, Values: input.ExpressionValues}

	doc := deepCopy(oldItem)
	touched := make(map[string]struct{})

	touch := func(p *ast.Path) error {
		name, err := p.TopLevelName(in)
		if err != nil {
			return err
		}
		touched[name] = struct{}{}
		return nil
	}

	for _, action := range c.expr.SetActions {
		val, err := action.Value.EvalSet(in, doc)
		if err != nil {
			return nil, fmt.Errorf("SET %s: %w", action.Path.String(), err)
		}
		if err := action.Path.Set(in, doc, val); err != nil {
			return nil, fmt.Errorf("SET %s: %w", action.Path.String(), err)
		}
		if err := touch(action.Path); err != nil {
			return nil, err
		}
	}

	for _, action := range c.expr.RemoveActions {
		if err := action.Path.Remove(in, doc); err != nil {
			return nil, fmt.Errorf("REMOVE %s: %w", action.Path.String(), err)
		}
		if err := touch(action.Path); err != nil {
			return nil, err
		}
	}

	for _, action := range c.expr.AddActions {
		val, _, err := action.Value.Eval(in, doc)
		if err != nil {
			return nil, fmt.Errorf("ADD %s: %w", action.Path.String(), err)
		}
		current, found, err := action.Path.Resolve(in, doc)
		if err != nil {
			return nil, fmt.Errorf("ADD %s: %w", action.Path.String(), err)
		}
		next, err := ast.ApplyAdd(current, found, val)
		if err != nil {
			return nil, fmt.Errorf("ADD %s: %w", action.Path.String(), err)
		}
		if err := action.Path.Set(in, doc, next); err != nil {
			return nil, fmt.Errorf("ADD %s: %w", action.Path.String(), err)
		}
		if err := touch(action.Path); err != nil {
			return nil, err
		}
	}

	for _, action := range c.expr.DeleteActions {
		val, _, err := action.Value.Eval(in, doc)
		if err != nil {
			return nil, fmt.Errorf("DELETE %s: %w", action.Path.String(), err)
		}
		current, found, err := action.Path.Resolve(in, doc)
		if err != nil {
			return nil, fmt.Errorf("DELETE %s: %w", action.Path.String(), err)
		}
		next, err := ast.ApplyDelete(current, found, val)
		if err != nil {
			return nil, fmt.Errorf("DELETE %s: %w", action.Path.String(), err)
		}
		if next == nil {
			if found {
				if err := action.Path.Remove(in, doc); err != nil {
					return nil, fmt.Errorf("DELETE %s: %w", action.Path.String(), err)
				}
			}
		} else if err := action.Path.Set(in, doc, next); err != nil {
			return nil, fmt.Errorf("DELETE %s: %w", action.Path.String(), err)
		}
		if err := touch(action.Path); err != nil {
			return nil, err
		}
	}

	return &EvalOutput{Item: doc, Touched: touched}, nil
}

// TouchedAttributes restricts an item to the attributes an update touched,
// for the UPDATED_OLD and UPDATED_NEW return-value modes. DynamoDB returns
// the whole top-level attribute even when only a nested path changed.
func (o *EvalOutput) TouchedAttributes(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for name := range o.Touched {
		if val, ok := item[name]; ok {
			result[name] = val
		}
	}
	return result
}

func deepCopy(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	doc := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		doc[k] = copyValue(v)
	}
	return doc
}

func copyValue(av types.AttributeValue) types.AttributeValue {
	switch v := av.(type) {
	case *types.AttributeValueMemberL:
		elems := make([]types.AttributeValue, len(v.Value))
		for i, el := range v.Value {
			elems[i] = copyValue(el)
		}
		return &types.AttributeValueMemberL{Value: elems}
	case *types.AttributeValueMemberM:
		fields := make(map[string]types.AttributeValue, len(v.Value))
		for k, el := range v.Value {
			fields[k] = copyValue(el)
		}
		return &types.AttributeValueMemberM{Value: fields}
	case *types.AttributeValueMemberSS:
		return &types.AttributeValueMemberSS{Value: append([]string{}, v.Value...)}
	case *types.AttributeValueMemberNS:
		return &types.AttributeValueMemberNS{Value: append([]string{}, v.Value...)}
	case *types.AttributeValueMemberBS:
		members := make([][]byte, len(v.Value))
		for i, b := range v.Value {
			members[i] = append([]byte{}, b...)
		}
		return &types.AttributeValueMemberBS{Value: members}
	default:
		// Scalars are immutable once stored; share them.
		return av
	}
}

// Used reports the placeholders the expression referenced; nil-safe.
func (c *Compiled) Used() *parser.Usage {
	if c == nil {
		return nil
	}
	return c.Usage
}
