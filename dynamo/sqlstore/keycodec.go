package sqlstore

import (
	"fmt"
	"hash/fnv"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"
	"github.com/pretenderdb/pretender/dynamo/table"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Key columns hold an order-preserving byte encoding of the key attribute, so
// BYTEA/BLOB comparison in the engine yields DynamoDB key order: code-point
// order for S, bytewise for B, numeric for N. The hash and range columns are
// separate, and a column only ever holds one scalar type per table, so no
// type tags or separators are needed.
//
// Numbers use a decimal-sortable scheme exact for any precision:
//
//	[class][biased exponent][digit bytes][terminator]
//
// class 0x01/0x02/0x03 for negative/zero/positive; for negatives the exponent
// and digits are complemented so larger magnitudes order first.

const (
	numClassNegative byte = 0x01
	numClassZero     byte = 0x02
	numClassPositive byte = 0x03
)

func encodeKeyValue(av types.AttributeValue) ([]byte, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return []byte(v.Value), nil
	case *types.AttributeValueMemberB:
		return append([]byte{}, v.Value...), nil
	case *types.AttributeValueMemberN:
		return encodeKeyNumber(v.Value)
	}
	return nil, fmt.Errorf("key attributes must be S, N or B, got %T", av)
}

func encodeKeyNumber(literal string) ([]byte, error) {
	dec, err := attrvalue.Number(literal)
	if err != nil {
		return nil, fmt.Errorf("key number %q: %w", literal, err)
	}
	if dec.IsZero() {
		return []byte{numClassZero}, nil
	}

	neg := dec.Sign() < 0
	coeff := dec.Coefficient() // arbitrary-precision integer
	if neg {
		coeff.Neg(coeff)
	}
	digits := coeff.String()
	// Strip trailing zeros from the significand; they only shift the exponent.
	stripped := len(digits)
	for stripped > 1 && digits[stripped-1] == '0' {
		stripped--
	}
	// Decimal point position relative to the first significant digit.
	adjusted := int(dec.Exponent()) + len(digits)

	if adjusted < -0x3FFF || adjusted > 0x3FFF {
		return nil, fmt.Errorf("key number %q: exponent out of range", literal)
	}
	biased := uint16(adjusted + 0x4000)

	buf := make([]byte, 0, stripped+4)
	if neg {
		buf = append(buf, numClassNegative, ^byte(biased>>8), ^byte(biased))
		for i := 0; i < stripped; i++ {
			buf = append(buf, ^(digits[i] - '0' + 1))
		}
		// Terminator above any complemented digit so shorter significands
		// (larger negative values trimmed early) order after longer ones.
		buf = append(buf, 0xFF)
	} else {
		buf = append(buf, numClassPositive, byte(biased>>8), byte(biased))
		for i := 0; i < stripped; i++ {
			buf = append(buf, digits[i]-'0'+1)
		}
		buf = append(buf, 0x00)
	}
	return buf, nil
}

// encodedKey is the pair of encoded key columns identifying one row.
type encodedKey struct {
	Hash  []byte
	Range []byte
}

func encodePrimaryKey(pk table.PrimaryKey) (encodedKey, error) {
	hash, err := encodeKeyValue(pk.Values.PartitionKey)
	if err != nil {
		return encodedKey{}, fmt.Errorf("encode partition key: %w", err)
	}
	key := encodedKey{Hash: hash, Range: []byte{}}
	if pk.Definition.HasSortKey() {
		rng, err := encodeKeyValue(pk.Values.SortKey)
		if err != nil {
			return encodedKey{}, fmt.Errorf("encode sort key: %w", err)
		}
		key.Range = rng
	}
	return key, nil
}

// segmentHash buckets a partition key for segmented scans. Written to the row
// at mutation time so the partition predicate stays in SQL.
func segmentHash(hashKey []byte) int64 {
	h := fnv.New32a()
	h.Write(hashKey)
	return int64(h.Sum32())
}
