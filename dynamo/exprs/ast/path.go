// Package ast defines the expression AST shared by every expression context
// (key condition, filter, condition, update, projection) and its evaluation
// over an item and a placeholder environment.
package ast

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Input is the placeholder environment an expression evaluates under.
type Input struct {
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// ResolveName maps a "#x" reference to the actual attribute name.
func (in Input) ResolveName(ref string) (string, error) {
	name, ok := in.Names[ref]
	if !ok {
		return "", fmt.Errorf("expression attribute name %s is not defined", ref)
	}
	return name, nil
}

// ResolveValue maps a ":x" reference to its attribute value.
func (in Input) ResolveValue(ref string) (types.AttributeValue, error) {
	val, ok := in.Values[ref]
	if !ok {
		return nil, fmt.Errorf("expression attribute value %s is not defined", ref)
	}
	return val, nil
}

// PathPart is one step of a document path: a field name (possibly a #name
// reference) or a list index.
type PathPart struct {
	// Identifier is the bare attribute name; empty when NameRef or Index is used.
	Identifier string
	// NameRef is a "#x" placeholder, resolved through Input.Names.
	NameRef string
	// Index is a list index; valid when IsIndex is set.
	Index   int
	IsIndex bool
}

// Path navigates a document: M by field, L by index.
type Path struct {
	Parts []PathPart
}

func (p *Path) String() string {
	var b strings.Builder
	for i, part := range p.Parts {
		switch {
		case part.IsIndex:
			fmt.Fprintf(&b, "[%d]", part.Index)
		case part.NameRef != "":
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(part.NameRef)
		default:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(part.Identifier)
		}
	}
	return b.String()
}

// TopLevelName resolves the first path segment to an attribute name.
func (p *Path) TopLevelName(in Input) (string, error) {
	if len(p.Parts) == 0 || p.Parts[0].IsIndex {
		return "", fmt.Errorf("invalid document path %q", p.String())
	}
	return p.Parts[0].name(in)
}

func (part PathPart) name(in Input) (string, error) {
	if part.NameRef != "" {
		return in.ResolveName(part.NameRef)
	}
	return part.Identifier, nil
}

// Resolve walks the path through the document. Out-of-bounds or wrong-variant
// navigation yields found=false, not an error; only unresolvable #name
// references error.
func (p *Path) Resolve(in Input, doc map[string]types.AttributeValue) (types.AttributeValue, bool, error) {
	if len(p.Parts) == 0 {
		return nil, false, fmt.Errorf("empty document path")
	}
	name, err := p.Parts[0].name(in)
	if err != nil {
		return nil, false, err
	}
	current, ok := doc[name]
	if !ok {
		return nil, false, nil
	}
	for _, part := range p.Parts[1:] {
		if part.IsIndex {
			list, ok := current.(*types.AttributeValueMemberL)
			if !ok || part.Index < 0 || part.Index >= len(list.Value) {
				return nil, false, nil
			}
			current = list.Value[part.Index]
			continue
		}
		name, err := part.name(in)
		if err != nil {
			return nil, false, err
		}
		m, ok := current.(*types.AttributeValueMemberM)
		if !ok {
			return nil, false, nil
		}
		current, ok = m.Value[name]
		if !ok {
			return nil, false, nil
		}
	}
	return current, true, nil
}

// Set writes a value at the path, creating intermediate maps as needed.
// Setting a list index beyond the end appends.
func (p *Path) Set(in Input, doc map[string]types.AttributeValue, val types.AttributeValue) error {
	if len(p.Parts) == 0 {
		return fmt.Errorf("empty document path")
	}
	name, err := p.Parts[0].name(in)
	if err != nil {
		return err
	}
	if len(p.Parts) == 1 {
		doc[name] = val
		return nil
	}
	child, ok := doc[name]
	if !ok {
		child = emptyContainerFor(p.Parts[1])
		doc[name] = child
	}
	return setInContainer(child, p.Parts[1:], in, val)
}

func setInContainer(current types.AttributeValue, parts []PathPart, in Input, val types.AttributeValue) error {
	part := parts[0]
	if part.IsIndex {
		list, ok := current.(*types.AttributeValueMemberL)
		if !ok {
			return fmt.Errorf("document path indexes a non-list attribute")
		}
		idx := part.Index
		if idx < 0 {
			return fmt.Errorf("negative list index")
		}
		if idx >= len(list.Value) {
			// Writes past the end append, matching DynamoDB.
			idx = len(list.Value)
			list.Value = append(list.Value, nil)
		}
		if len(parts) == 1 {
			list.Value[idx] = val
			return nil
		}
		if list.Value[idx] == nil {
			list.Value[idx] = emptyContainerFor(parts[1])
		}
		return setInContainer(list.Value[idx], parts[1:], in, val)
	}

	name, err := part.name(in)
	if err != nil {
		return err
	}
	m, ok := current.(*types.AttributeValueMemberM)
	if !ok {
		return fmt.Errorf("document path traverses a non-map attribute at %q", name)
	}
	if len(parts) == 1 {
		m.Value[name] = val
		return nil
	}
	child, ok := m.Value[name]
	if !ok {
		child = emptyContainerFor(parts[1])
		m.Value[name] = child
	}
	return setInContainer(child, parts[1:], in, val)
}

func emptyContainerFor(next PathPart) types.AttributeValue {
	if next.IsIndex {
		return &types.AttributeValueMemberL{Value: []types.AttributeValue{}}
	}
	return &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}}
}

// Remove deletes the attribute or list element at the path. Removing a
// missing path is a no-op.
func (p *Path) Remove(in Input, doc map[string]types.AttributeValue) error {
	if len(p.Parts) == 0 {
		return fmt.Errorf("empty document path")
	}
	name, err := p.Parts[0].name(in)
	if err != nil {
		return err
	}
	if len(p.Parts) == 1 {
		delete(doc, name)
		return nil
	}
	current, ok := doc[name]
	if !ok {
		return nil
	}
	return removeInContainer(current, p.Parts[1:], in)
}

func removeInContainer(current types.AttributeValue, parts []PathPart, in Input) error {
	part := parts[0]
	if part.IsIndex {
		list, ok := current.(*types.AttributeValueMemberL)
		if !ok || part.Index < 0 || part.Index >= len(list.Value) {
			return nil
		}
		if len(parts) == 1 {
			list.Value = append(list.Value[:part.Index], list.Value[part.Index+1:]...)
			return nil
		}
		return removeInContainer(list.Value[part.Index], parts[1:], in)
	}
	name, err := part.name(in)
	if err != nil {
		return err
	}
	m, ok := current.(*types.AttributeValueMemberM)
	if !ok {
		return nil
	}
	if len(parts) == 1 {
		delete(m.Value, name)
		return nil
	}
	child, ok := m.Value[name]
	if !ok {
		return nil
	}
	return removeInContainer(child, parts[1:], in)
}
