// Package table models table schemas: primary keys, attribute type hints,
// global secondary indexes, TTL and stream settings.
package table

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// KeyKind is the declared scalar type of a key attribute.
type KeyKind string

const (
	KeyKindS KeyKind = "S"
	KeyKindN KeyKind = "N"
	KeyKindB KeyKind = "B"
)

// KeyDefinition names one key attribute and its kind.
type KeyDefinition struct {
	Name string  `json:"name"`
	Kind KeyKind `json:"kind"`
}

// PrimaryKeyDefinition is a hash key plus an optional range key.
// An absent range key has an empty Name.
type PrimaryKeyDefinition struct {
	PartitionKey KeyDefinition `json:"partitionKey"`
	SortKey      KeyDefinition `json:"sortKey,omitempty"`
}

// HasSortKey reports whether the schema declares a range key.
func (k PrimaryKeyDefinition) HasSortKey() bool {
	return k.SortKey.Name != ""
}

// ProjectionType selects which attributes a GSI row stores.
type ProjectionType string

const (
	ProjectionAll      ProjectionType = "ALL"
	ProjectionKeysOnly ProjectionType = "KEYS_ONLY"
	ProjectionInclude  ProjectionType = "INCLUDE"
)

// GSIDefinition describes a Global Secondary Index.
type GSIDefinition struct {
	Name             string               `json:"name"`
	KeyDefinitions   PrimaryKeyDefinition `json:"keyDefinitions"`
	Projection       ProjectionType       `json:"projection"`
	NonKeyAttributes []string             `json:"nonKeyAttributes,omitempty"`
}

// Definition is the full persisted schema of one table.
type Definition struct {
	Name           string               `json:"name"`
	KeyDefinitions PrimaryKeyDefinition `json:"keyDefinitions"`
	GSIs           []GSIDefinition      `json:"gsis,omitempty"`
	TimeToLiveAttr string               `json:"timeToLiveAttr,omitempty"`
	StreamViewType types.StreamViewType `json:"streamViewType,omitempty"`
	StreamArn      string               `json:"streamArn,omitempty"`
	StreamLabel    string               `json:"streamLabel,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
}

// StreamEnabled reports whether mutations on this table capture stream records.
func (d Definition) StreamEnabled() bool {
	return d.StreamViewType != ""
}

// GSI looks up an index by name.
func (d Definition) GSI(name string) (GSIDefinition, bool) {
	for _, gsi := range d.GSIs {
		if gsi.Name == name {
			return gsi, true
		}
	}
	return GSIDefinition{}, false
}

// PrimaryKey is an extracted, schema-validated key: the definition plus the
// concrete attribute values of one item.
type PrimaryKey struct {
	Definition PrimaryKeyDefinition
	Values     PrimaryKeyValues
}

// PrimaryKeyValues carries the raw key attribute values.
type PrimaryKeyValues struct {
	PartitionKey types.AttributeValue
	SortKey      types.AttributeValue
}

// DDB renders the key back to an attribute-value map.
func (pk PrimaryKey) DDB() map[string]types.AttributeValue {
	out := map[string]types.AttributeValue{
		pk.Definition.PartitionKey.Name: pk.Values.PartitionKey,
	}
	if pk.Definition.HasSortKey() {
		out[pk.Definition.SortKey.Name] = pk.Values.SortKey
	}
	return out
}

// ExtractPrimaryKey pulls the key attributes out of a document and validates
// their kinds against the schema.
func (d Definition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	return d.KeyDefinitions.ExtractPrimaryKey(doc)
}

// ExtractPrimaryKey pulls the index key attributes out of a document.
func (g GSIDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	return g.KeyDefinitions.ExtractPrimaryKey(doc)
}

func (k PrimaryKeyDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	part, ok := doc[k.PartitionKey.Name]
	if !ok {
		return PrimaryKey{}, fmt.Errorf("partition key %q not found", k.PartitionKey.Name)
	}
	if err := attributeMatchesKind(k.PartitionKey.Kind, part); err != nil {
		return PrimaryKey{}, fmt.Errorf("partition key %q: %w", k.PartitionKey.Name, err)
	}
	pk := PrimaryKey{
		Definition: k,
		Values:     PrimaryKeyValues{PartitionKey: part},
	}
	if !k.HasSortKey() {
		return pk, nil
	}
	sort, ok := doc[k.SortKey.Name]
	if !ok {
		return PrimaryKey{}, fmt.Errorf("sort key %q not found", k.SortKey.Name)
	}
	if err := attributeMatchesKind(k.SortKey.Kind, sort); err != nil {
		return PrimaryKey{}, fmt.Errorf("sort key %q: %w", k.SortKey.Name, err)
	}
	pk.Values.SortKey = sort
	return pk, nil
}

// HasCompleteKey reports whether the document carries all key attributes with
// matching kinds. Unlike ExtractPrimaryKey this never errors; it is how GSI
// row existence is decided.
func (k PrimaryKeyDefinition) HasCompleteKey(doc map[string]types.AttributeValue) bool {
	part, ok := doc[k.PartitionKey.Name]
	if !ok || attributeMatchesKind(k.PartitionKey.Kind, part) != nil {
		return false
	}
	if !k.HasSortKey() {
		return true
	}
	sort, ok := doc[k.SortKey.Name]
	return ok && attributeMatchesKind(k.SortKey.Kind, sort) == nil
}

// Matches reports whether the value's variant matches the declared kind.
func (d KeyDefinition) Matches(av types.AttributeValue) bool {
	return attributeMatchesKind(d.Kind, av) == nil
}

func attributeMatchesKind(kind KeyKind, av types.AttributeValue) error {
	switch av.(type) {
	case *types.AttributeValueMemberS:
		if kind != KeyKindS {
			return fmt.Errorf("got S, schema declares %s", kind)
		}
	case *types.AttributeValueMemberN:
		if kind != KeyKindN {
			return fmt.Errorf("got N, schema declares %s", kind)
		}
	case *types.AttributeValueMemberB:
		if kind != KeyKindB {
			return fmt.Errorf("got B, schema declares %s", kind)
		}
	default:
		return fmt.Errorf("key attributes must be S, N or B, got %T", av)
	}
	return nil
}
