// Package conditionexpr parses and evaluates ConditionExpression and
// FilterExpression strings against an item's pre-image.
package conditionexpr

import (
	"fmt"

	"github.com/pretenderdb/pretender/dynamo/exprs/ast"
	"github.com/pretenderdb/pretender/dynamo/exprs/parser"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// EvalInput carries the placeholder environment of one request.
type EvalInput struct {
	ExpressionNames  map[string]string
	ExpressionValues map[string]types.AttributeValue
}

// Compiled is a parsed condition ready for repeated evaluation.
type Compiled struct {
	cond  ast.Condition
	Usage *parser.Usage
}

// Parse compiles a condition expression.
func Parse(expr string) (*Compiled, error) {
	cond, usage, err := parser.ParseCondition(expr)
	if err != nil {
		return nil, fmt.Errorf("parse condition %q: %w", expr, err)
	}
	return &Compiled{cond: cond, Usage: usage}, nil
}

// Eval evaluates the compiled condition against a document. A nil document is
// treated as an empty item, so conditions over an absent pre-image work.
func (c *Compiled) Eval(input EvalInput, doc map[string]types.AttributeValue) (bool, error) {
	if doc == nil {
		doc = map[string]types.AttributeValue{}
	}
	return c.cond.Eval(ast.Input{
		Names:  input.ExpressionNames,
		Values: input.ExpressionValues,
	}, doc)
}

// Eval parses and evaluates in one step.
func Eval(expr string, input EvalInput, doc map[string]types.AttributeValue) (bool, error) {
	compiled, err := Parse(expr)
	if err != nil {
		return false, err
	}
	return compiled.Eval(input, doc)
}

// Used reports the placeholders the expression referenced; nil-safe so
// callers can pass an absent expression through.
func (c *Compiled) Used() *parser.Usage {
	if c == nil {
		return nil
	}
	return c.Usage
}
