package ast

import (
	"bytes"
	"fmt"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// UpdateExpression is the parsed clause list of an UpdateExpression.
type UpdateExpression struct {
	SetActions    []SetAction
	RemoveActions []RemoveAction
	AddActions    []AddAction
	DeleteActions []DeleteAction
}

// SetAction is SET path = value.
type SetAction struct {
	Path  *Path
	Value SetValue
}

// SetValue is either a plain operand or a two-operand arithmetic expression.
type SetValue interface {
	EvalSet(in Input, doc map[string]types.AttributeValue) (types.AttributeValue, error)
}

// OperandValue adapts an Operand into a SetValue; an unresolved path is an error
// in SET position.
type OperandValue struct {
	Operand Operand
}

func (v *OperandValue) EvalSet(in Input, doc map[string]types.AttributeValue) (types.AttributeValue, error) {
	val, found, err := v.Operand.Eval(in, doc)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("operand path does not resolve")
	}
	return val, nil
}

// ArithmeticValue is operand (+|-) operand over N values.
type ArithmeticValue struct {
	Plus        bool
	Left, Right Operand
}

func (v *ArithmeticValue) EvalSet(in Input, doc map[string]types.AttributeValue) (types.AttributeValue, error) {
	left, lok, err := v.Left.Eval(in, doc)
	if err != nil {
		return nil, err
	}
	right, rok, err := v.Right.Eval(in, doc)
	if err != nil {
		return nil, err
	}
	if !lok || !rok {
		return nil, fmt.Errorf("arithmetic operand does not resolve")
	}
	ln, ok := left.(*types.AttributeValueMemberN)
	if !ok {
		return nil, fmt.Errorf("arithmetic requires N operands, got %s", attrvalue.TypeName(left))
	}
	rn, ok := right.(*types.AttributeValueMemberN)
	if !ok {
		return nil, fmt.Errorf("arithmetic requires N operands, got %s", attrvalue.TypeName(right))
	}
	ld, err := attrvalue.Number(ln.Value)
	if err != nil {
		return nil, err
	}
	rd, err := attrvalue.Number(rn.Value)
	if err != nil {
		return nil, err
	}
	if v.Plus {
		return &types.AttributeValueMemberN{Value: ld.Add(rd).String()}, nil
	}
	return &types.AttributeValueMemberN{Value: ld.Sub(rd).String()}, nil
}

// IfNotExistsOperand is if_not_exists(path, operand), valid in SET position.
type IfNotExistsOperand struct {
	Path    *Path
	Default Operand
}

func (o *IfNotExistsOperand) Eval(in Input, doc map[string]types.AttributeValue) (types.AttributeValue, bool, error) {
	val, found, err := o.Path.Resolve(in, doc)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}
	return o.Default.Eval(in, doc)
}

// ListAppendOperand is list_append(list, list), valid in SET position.
type ListAppendOperand struct {
	Left, Right Operand
}

func (o *ListAppendOperand) Eval(in Input, doc map[string]types.AttributeValue) (types.AttributeValue, bool, error) {
	left, lok, err := o.Left.Eval(in, doc)
	if err != nil {
		return nil, false, err
	}
	right, rok, err := o.Right.Eval(in, doc)
	if err != nil {
		return nil, false, err
	}
	if !lok || !rok {
		return nil, false, fmt.Errorf("list_append operand does not resolve")
	}
	ll, ok := left.(*types.AttributeValueMemberL)
	if !ok {
		return nil, false, fmt.Errorf("list_append requires L operands, got %s", attrvalue.TypeName(left))
	}
	rl, ok := right.(*types.AttributeValueMemberL)
	if !ok {
		return nil, false, fmt.Errorf("list_append requires L operands, got %s", attrvalue.TypeName(right))
	}
	merged := make([]types.AttributeValue, 0, len(ll.Value)+len(rl.Value))
	merged = append(merged, ll.Value...)
	merged = append(merged, rl.Value...)
	return &types.AttributeValueMemberL{Value: merged}, true, nil
}

// RemoveAction is REMOVE path.
type RemoveAction struct {
	Path *Path
}

// AddAction is ADD path value: numeric addition on N, union on set types.
type AddAction struct {
	Path  *Path
	Value Operand
}

// DeleteAction is DELETE path value: set difference.
type DeleteAction struct {
	Path  *Path
	Value Operand
}

// ApplyAdd folds an ADD value into the current value at the path. A fresh
// attribute is created for both N and set operands.
func ApplyAdd(current types.AttributeValue, found bool, val types.AttributeValue) (types.AttributeValue, error) {
	switch v := val.(type) {
	case *types.AttributeValueMemberN:
		if !found {
			return v, nil
		}
		cur, ok := current.(*types.AttributeValueMemberN)
		if !ok {
			return nil, fmt.Errorf("ADD of N to existing %s attribute", attrvalue.TypeName(current))
		}
		cd, err := attrvalue.Number(cur.Value)
		if err != nil {
			return nil, err
		}
		vd, err := attrvalue.Number(v.Value)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberN{Value: cd.Add(vd).String()}, nil

	case *types.AttributeValueMemberSS:
		if !found {
			return v, nil
		}
		cur, ok := current.(*types.AttributeValueMemberSS)
		if !ok {
			return nil, fmt.Errorf("ADD of SS to existing %s attribute", attrvalue.TypeName(current))
		}
		merged := append([]string{}, cur.Value...)
		for _, s := range v.Value {
			if !stringIn(merged, s) {
				merged = append(merged, s)
			}
		}
		return &types.AttributeValueMemberSS{Value: merged}, nil

	case *types.AttributeValueMemberNS:
		if !found {
			return v, nil
		}
		cur, ok := current.(*types.AttributeValueMemberNS)
		if !ok {
			return nil, fmt.Errorf("ADD of NS to existing %s attribute", attrvalue.TypeName(current))
		}
		merged := append([]string{}, cur.Value...)
		for _, n := range v.Value {
			if !numberIn(merged, n) {
				merged = append(merged, n)
			}
		}
		return &types.AttributeValueMemberNS{Value: merged}, nil

	case *types.AttributeValueMemberBS:
		if !found {
			return v, nil
		}
		cur, ok := current.(*types.AttributeValueMemberBS)
		if !ok {
			return nil, fmt.Errorf("ADD of BS to existing %s attribute", attrvalue.TypeName(current))
		}
		merged := append([][]byte{}, cur.Value...)
		for _, b := range v.Value {
			if !bytesIn(merged, b) {
				merged = append(merged, b)
			}
		}
		return &types.AttributeValueMemberBS{Value: merged}, nil
	}
	return nil, fmt.Errorf("ADD supports N, SS, NS and BS operands, got %s", attrvalue.TypeName(val))
}

// ApplyDelete removes set members from the current value. Emptying a set
// removes the attribute (returns nil).
func ApplyDelete(current types.AttributeValue, found bool, val types.AttributeValue) (types.AttributeValue, error) {
	if !found {
		return nil, nil
	}
	switch v := val.(type) {
	case *types.AttributeValueMemberSS:
		cur, ok := current.(*types.AttributeValueMemberSS)
		if !ok {
			return nil, fmt.Errorf("DELETE of SS from existing %s attribute", attrvalue.TypeName(current))
		}
		var kept []string
		for _, s := range cur.Value {
			if !stringIn(v.Value, s) {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			return nil, nil
		}
		return &types.AttributeValueMemberSS{Value: kept}, nil

	case *types.AttributeValueMemberNS:
		cur, ok := current.(*types.AttributeValueMemberNS)
		if !ok {
			return nil, fmt.Errorf("DELETE of NS from existing %s attribute", attrvalue.TypeName(current))
		}
		var kept []string
		for _, n := range cur.Value {
			if !numberIn(v.Value, n) {
				kept = append(kept, n)
			}
		}
		if len(kept) == 0 {
			return nil, nil
		}
		return &types.AttributeValueMemberNS{Value: kept}, nil

	case *types.AttributeValueMemberBS:
		cur, ok := current.(*types.AttributeValueMemberBS)
		if !ok {
			return nil, fmt.Errorf("DELETE of BS from existing %s attribute", attrvalue.TypeName(current))
		}
		var kept [][]byte
		for _, b := range cur.Value {
			if !bytesIn(v.Value, b) {
				kept = append(kept, b)
			}
		}
		if len(kept) == 0 {
			return nil, nil
		}
		return &types.AttributeValueMemberBS{Value: kept}, nil
	}
	return nil, fmt.Errorf("DELETE supports SS, NS and BS operands, got %s", attrvalue.TypeName(val))
}

func stringIn(set []string, s string) bool {
	for _, member := range set {
		if member == s {
			return true
		}
	}
	return false
}

func numberIn(set []string, n string) bool {
	for _, member := range set {
		if attrvalue.NumberEqual(member, n) {
			return true
		}
	}
	return false
}

func bytesIn(set [][]byte, b []byte) bool {
	for _, member := range set {
		if bytes.Equal(member, b) {
			return true
		}
	}
	return false
}
