package attrvalue

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// Decimal numerals: optional sign, digits, optional fraction, optional exponent.
var numberPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// ValidNumber reports whether s is a well-formed DynamoDB numeric literal.
func ValidNumber(s string) bool {
	return numberPattern.MatchString(s)
}

// Number parses a numeric literal into an arbitrary-precision decimal.
func Number(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// NumberEqual compares two numeric literals numerically, so "1" equals "1.0".
func NumberEqual(a, b string) bool {
	da, err := decimal.NewFromString(a)
	if err != nil {
		return false
	}
	db, err := decimal.NewFromString(b)
	if err != nil {
		return false
	}
	return da.Equal(db)
}

// Equal reports structural equality of two attribute values. Numbers compare
// numerically; sets compare as unordered collections; lists and maps recurse.
func Equal(a, b types.AttributeValue) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && NumberEqual(av.Value, bv.Value)
	case *types.AttributeValueMemberB:
		bv, ok := b.(*types.AttributeValueMemberB)
		return ok && bytes.Equal(av.Value, bv.Value)
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberNULL:
		bv, ok := b.(*types.AttributeValueMemberNULL)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberSS:
		bv, ok := b.(*types.AttributeValueMemberSS)
		if !ok || len(av.Value) != len(bv.Value) {
			return false
		}
		set := make(map[string]struct{}, len(av.Value))
		for _, s := range av.Value {
			set[s] = struct{}{}
		}
		for _, s := range bv.Value {
			if _, ok := set[s]; !ok {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberNS:
		bv, ok := b.(*types.AttributeValueMemberNS)
		if !ok || len(av.Value) != len(bv.Value) {
			return false
		}
		for _, n := range bv.Value {
			if !numberSetContains(av.Value, n) {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberBS:
		bv, ok := b.(*types.AttributeValueMemberBS)
		if !ok || len(av.Value) != len(bv.Value) {
			return false
		}
		for _, bb := range bv.Value {
			if !binarySetContains(av.Value, bb) {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberL:
		bv, ok := b.(*types.AttributeValueMemberL)
		if !ok || len(av.Value) != len(bv.Value) {
			return false
		}
		for i := range av.Value {
			if !Equal(av.Value[i], bv.Value[i]) {
				return false
			}
		}
		return true
	case *types.AttributeValueMemberM:
		bv, ok := b.(*types.AttributeValueMemberM)
		if !ok || len(av.Value) != len(bv.Value) {
			return false
		}
		for name, el := range av.Value {
			other, ok := bv.Value[name]
			if !ok || !Equal(el, other) {
				return false
			}
		}
		return true
	}
	return false
}

// ItemsEqual reports equality of two whole items.
func ItemsEqual(a, b map[string]types.AttributeValue) bool {
	if len(a) != len(b) {
		return false
	}
	for name, av := range a {
		bv, ok := b[name]
		if !ok || !Equal(av, bv) {
			return false
		}
	}
	return true
}

// Compare orders two scalar attribute values of the same variant: numeric for
// N, code-point order for S, bytewise for B. It returns -1, 0 or 1 and false
// when the variants differ or are not orderable.
func Compare(a, b types.AttributeValue) (int, bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		da, err := decimal.NewFromString(av.Value)
		if err != nil {
			return 0, false
		}
		db, err := decimal.NewFromString(bv.Value)
		if err != nil {
			return 0, false
		}
		return da.Cmp(db), true
	case *types.AttributeValueMemberB:
		bv, ok := b.(*types.AttributeValueMemberB)
		if !ok {
			return 0, false
		}
		return bytes.Compare(av.Value, bv.Value), true
	}
	return 0, false
}

// TypeName returns the wire type tag of an attribute value ("S", "N", ...).
func TypeName(av types.AttributeValue) string {
	switch av.(type) {
	case *types.AttributeValueMemberS:
		return "S"
	case *types.AttributeValueMemberN:
		return "N"
	case *types.AttributeValueMemberB:
		return "B"
	case *types.AttributeValueMemberBOOL:
		return "BOOL"
	case *types.AttributeValueMemberNULL:
		return "NULL"
	case *types.AttributeValueMemberSS:
		return "SS"
	case *types.AttributeValueMemberNS:
		return "NS"
	case *types.AttributeValueMemberBS:
		return "BS"
	case *types.AttributeValueMemberL:
		return "L"
	case *types.AttributeValueMemberM:
		return "M"
	}
	return ""
}

func numberSetContains(set []string, n string) bool {
	for _, member := range set {
		if NumberEqual(member, n) {
			return true
		}
	}
	return false
}

func binarySetContains(set [][]byte, b []byte) bool {
	for _, member := range set {
		if bytes.Equal(member, b) {
			return true
		}
	}
	return false
}
