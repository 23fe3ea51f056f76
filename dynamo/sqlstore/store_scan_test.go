package sqlstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScan(t *testing.T) {
	ctx := context.Background()

	t.Run("paginated scan with filter counts every candidate", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "things", "")
		for i := 0; i < 30; i++ {
			category := "odd"
			if i%2 == 0 {
				category = "even"
			}
			putSimpleItem(t, store, "things", map[string]types.AttributeValue{
				"id":       s(fmt.Sprintf("item-%02d", i)),
				"category": s(category),
			})
		}

		// Filter built with the SDK's expression builder, as a client would.
		filter := expression.Name("category").Equal(expression.Value("even"))
		built, err := expression.NewBuilder().WithFilter(filter).Build()
		require.NoError(t, err)

		var (
			returned     int
			scannedTotal int32
			startKey     map[string]types.AttributeValue
		)
		for {
			out, err := store.Scan(ctx, &dynamodb.ScanInput{
				TableName:                 aws.String("things"),
				Limit:                     aws.Int32(10),
				FilterExpression:          built.Filter(),
				ExpressionAttributeNames:  built.Names(),
				ExpressionAttributeValues: built.Values(),
				ExclusiveStartKey:         startKey,
			})
			require.NoError(t, err)
			returned += len(out.Items)
			scannedTotal += out.ScannedCount
			if out.LastEvaluatedKey == nil {
				break
			}
			startKey = out.LastEvaluatedKey
		}

		assert.Equal(t, 15, returned)
		assert.Equal(t, int32(30), scannedTotal)
	})

	t.Run("full scan returns every item exactly once", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "things", "")
		for i := 0; i < 9; i++ {
			putSimpleItem(t, store, "things", map[string]types.AttributeValue{
				"id": s(fmt.Sprintf("k%d", i)),
			})
		}

		seen := map[string]int{}
		var startKey map[string]types.AttributeValue
		for {
			out, err := store.Scan(ctx, &dynamodb.ScanInput{
				TableName:         aws.String("things"),
				Limit:             aws.Int32(4),
				ExclusiveStartKey: startKey,
			})
			require.NoError(t, err)
			for _, item := range out.Items {
				seen[item["id"].(*types.AttributeValueMemberS).Value]++
			}
			if out.LastEvaluatedKey == nil {
				break
			}
			startKey = out.LastEvaluatedKey
		}
		require.Len(t, seen, 9)
		for id, count := range seen {
			assert.Equal(t, 1, count, id)
		}
	})

	t.Run("segmented scan partitions the key space", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "things", "")
		const total = 20
		for i := 0; i < total; i++ {
			putSimpleItem(t, store, "things", map[string]types.AttributeValue{
				"id": s(fmt.Sprintf("k%d", i)),
			})
		}

		const segments = 3
		seen := map[string]int{}
		for seg := int32(0); seg < segments; seg++ {
			out, err := store.Scan(ctx, &dynamodb.ScanInput{
				TableName:     aws.String("things"),
				Segment:       aws.Int32(seg),
				TotalSegments: aws.Int32(segments),
			})
			require.NoError(t, err)
			for _, item := range out.Items {
				seen[item["id"].(*types.AttributeValueMemberS).Value]++
			}
		}
		require.Len(t, seen, total)
		for id, count := range seen {
			assert.Equal(t, 1, count, id)
		}
	})

	t.Run("scan over an index", func(t *testing.T) {
		store, _ := newTestStore(t)
		createStatusIndexTable(t, store, "tickets", types.ProjectionTypeAll)
		putSimpleItem(t, store, "tickets", map[string]types.AttributeValue{"id": s("a"), "status": s("x")})
		putSimpleItem(t, store, "tickets", map[string]types.AttributeValue{"id": s("b")})

		out, err := store.Scan(ctx, &dynamodb.ScanInput{
			TableName: aws.String("tickets"),
			IndexName: aws.String("StatusIdx"),
		})
		require.NoError(t, err)
		// Only the item carrying the index key appears.
		require.Len(t, out.Items, 1)
	})

	t.Run("segment bounds are validated", func(t *testing.T) {
		store, _ := newTestStore(t)
		createHashTable(t, store, "things", "")

		_, err := store.Scan(ctx, &dynamodb.ScanInput{
			TableName:     aws.String("things"),
			Segment:       aws.Int32(5),
			TotalSegments: aws.Int32(3),
		})
		require.Error(t, err)
	})
}
