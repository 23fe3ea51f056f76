// Package projectionexpr parses ProjectionExpression strings and restricts
// items to the projected paths, preserving nested structure.
package projectionexpr

import (
	"fmt"

	"github.com/pretenderdb/pretender/dynamo/exprs/ast"
	"github.com/pretenderdb/pretender/dynamo/exprs/parser"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Compiled is a parsed projection.
type Compiled struct {
	paths []*ast.Path
	Usage *parser.Usage
}

// Parse compiles a projection expression.
func Parse(expr string) (*Compiled, error) {
	paths, usage, err := parser.ParseProjection(expr)
	if err != nil {
		return nil, fmt.Errorf("parse projection %q: %w", expr, err)
	}
	return &Compiled{paths: paths, Usage: usage}, nil
}

// Project returns the item restricted to the projected paths. Paths that do
// not resolve are silently omitted.
func (c *Compiled) Project(names map[string]string, item map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	in := ast.Input{Names: names}
	out := make(map[string]types.AttributeValue)
	for _, path := range c.paths {
		val, found, err := path.Resolve(in, item)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if err := path.Set(in, out, val); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ProjectAll applies an optional projection to a result set and returns the
// projected items in a new slice. A nil expression passes items through
// untouched.
func ProjectAll(expr *string, names map[string]string, items []map[string]types.AttributeValue) ([]map[string]types.AttributeValue, error) {
	if expr == nil {
		return items, nil
	}
	compiled, err := Parse(*expr)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]types.AttributeValue, len(items))
	for i, item := range items {
		projected, err := compiled.Project(names, item)
		if err != nil {
			return nil, err
		}
		out[i] = projected
	}
	return out, nil
}

// Used reports the placeholders the expression referenced; nil-safe.
func (c *Compiled) Used() *parser.Usage {
	if c == nil {
		return nil
	}
	return c.Usage
}
