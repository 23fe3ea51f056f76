package ast

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Comparator is a binary comparison operator.
type Comparator string

const (
	Equal          Comparator = "="
	NotEqual       Comparator = "<>"
	LessThan       Comparator = "<"
	LessOrEqual    Comparator = "<="
	GreaterThan    Comparator = ">"
	GreaterOrEqual Comparator = ">="
)

// Condition is a boolean expression node.
type Condition interface {
	Eval(in Input, doc map[string]types.AttributeValue) (bool, error)
}

// Operand is a value-producing expression node. Eval returns found=false when
// the operand is a path that does not resolve.
type Operand interface {
	Eval(in Input, doc map[string]types.AttributeValue) (types.AttributeValue, bool, error)
}

// PathOperand reads a document path.
type PathOperand struct {
	Path *Path
}

func (o *PathOperand) Eval(in Input, doc map[string]types.AttributeValue) (types.AttributeValue, bool, error) {
	return o.Path.Resolve(in, doc)
}

// ValueOperand reads a ":x" placeholder.
type ValueOperand struct {
	Ref string
}

func (o *ValueOperand) Eval(in Input, doc map[string]types.AttributeValue) (types.AttributeValue, bool, error) {
	val, err := in.ResolveValue(o.Ref)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// SizeOperand is size(operand), yielding an N value.
type SizeOperand struct {
	Arg Operand
}

func (o *SizeOperand) Eval(in Input, doc map[string]types.AttributeValue) (types.AttributeValue, bool, error) {
	val, found, err := o.Arg.Eval(in, doc)
	if err != nil || !found {
		return nil, found, err
	}
	n, err := sizeOf(val)
	if err != nil {
		return nil, false, err
	}
	return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", n)}, true, nil
}

func sizeOf(val types.AttributeValue) (int, error) {
	switch v := val.(type) {
	case *types.AttributeValueMemberS:
		return len(v.Value), nil
	case *types.AttributeValueMemberB:
		return len(v.Value), nil
	case *types.AttributeValueMemberSS:
		return len(v.Value), nil
	case *types.AttributeValueMemberNS:
		return len(v.Value), nil
	case *types.AttributeValueMemberBS:
		return len(v.Value), nil
	case *types.AttributeValueMemberL:
		return len(v.Value), nil
	case *types.AttributeValueMemberM:
		return len(v.Value), nil
	default:
		return 0, fmt.Errorf("size() is not defined for type %T", val)
	}
}

// AndCondition is L AND R.
type AndCondition struct {
	Left, Right Condition
}

func (c *AndCondition) Eval(in Input, doc map[string]types.AttributeValue) (bool, error) {
	left, err := c.Left.Eval(in, doc)
	if err != nil {
		return false, err
	}
	if !left {
		return false, nil
	}
	return c.Right.Eval(in, doc)
}

// OrCondition is L OR R.
type OrCondition struct {
	Left, Right Condition
}

func (c *OrCondition) Eval(in Input, doc map[string]types.AttributeValue) (bool, error) {
	left, err := c.Left.Eval(in, doc)
	if err != nil {
		return false, err
	}
	if left {
		return true, nil
	}
	return c.Right.Eval(in, doc)
}

// NotCondition negates its operand.
type NotCondition struct {
	Cond Condition
}

func (c *NotCondition) Eval(in Input, doc map[string]types.AttributeValue) (bool, error) {
	v, err := c.Cond.Eval(in, doc)
	if err != nil {
		return false, err
	}
	return !v, nil
}

// CompareCondition is operand comparator operand.
type CompareCondition struct {
	Comp        Comparator
	Left, Right Operand
}

func (c *CompareCondition) Eval(in Input, doc map[string]types.AttributeValue) (bool, error) {
	left, lok, err := c.Left.Eval(in, doc)
	if err != nil {
		return false, err
	}
	right, rok, err := c.Right.Eval(in, doc)
	if err != nil {
		return false, err
	}
	if !lok || !rok {
		// Comparisons against a missing attribute never match.
		return false, nil
	}
	return compareValues(c.Comp, left, right)
}

// BetweenCondition is operand BETWEEN lower AND upper.
type BetweenCondition struct {
	Operand      Operand
	Lower, Upper Operand
}

func (c *BetweenCondition) Eval(in Input, doc map[string]types.AttributeValue) (bool, error) {
	val, found, err := c.Operand.Eval(in, doc)
	if err != nil || !found {
		return false, err
	}
	lower, lok, err := c.Lower.Eval(in, doc)
	if err != nil {
		return false, err
	}
	upper, uok, err := c.Upper.Eval(in, doc)
	if err != nil {
		return false, err
	}
	if !lok || !uok {
		return false, nil
	}
	ge, err := compareValues(GreaterOrEqual, val, lower)
	if err != nil || !ge {
		return false, err
	}
	return compareValues(LessOrEqual, val, upper)
}

// InCondition is operand IN (o1, o2, ...).
type InCondition struct {
	Operand Operand
	Members []Operand
}

func (c *InCondition) Eval(in Input, doc map[string]types.AttributeValue) (bool, error) {
	val, found, err := c.Operand.Eval(in, doc)
	if err != nil || !found {
		return false, err
	}
	for _, member := range c.Members {
		mv, ok, err := member.Eval(in, doc)
		if err != nil {
			return false, err
		}
		if ok && valuesEqual(val, mv) {
			return true, nil
		}
	}
	return false, nil
}
