// Command pretender-cli exports and imports table data against a PretenderDB
// database: DynamoDB-JSON lines (one item per line, S3-export compatible) or
// CSV with one column per top-level attribute.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/pretenderdb/pretender/dynamo/attrvalue"
	"github.com/pretenderdb/pretender/dynamo/sqlstore"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

const scanPageSize = 1000
const importBatchSize = 25

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	switch os.Args[1] {
	case "export":
		err = runExport(ctx, logger, os.Args[2:])
	case "import":
		err = runImport(ctx, logger, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pretender-cli export -db <url> -table <name> [-format json|csv] [-file <path>]")
	fmt.Fprintln(os.Stderr, "       pretender-cli import -db <url> -table <name> [-file <path>]")
}

func openStore(ctx context.Context, dbURL string, logger *zap.Logger) (*sqlstore.Store, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("-db is required")
	}
	return sqlstore.Open(ctx, sqlstore.Options{DatabaseURL: dbURL, Logger: logger})
}

func runExport(ctx context.Context, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dbURL := fs.String("db", "", "Database URL")
	tableName := fs.String("table", "", "Table to export")
	format := fs.String("format", "json", "Output format: json or csv")
	file := fs.String("file", "", "Output file (default stdout)")
	fs.Parse(args)

	if *tableName == "" {
		return fmt.Errorf("-table is required")
	}
	store, err := openStore(ctx, *dbURL, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	out := io.Writer(os.Stdout)
	if *file != "" {
		f, err := os.Create(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	items, err := scanAll(ctx, store, *tableName)
	if err != nil {
		return err
	}
	logger.Info("scanned table", zap.String("table", *tableName), zap.Int("items", len(items)))

	switch *format {
	case "json":
		return exportJSON(out, items)
	case "csv":
		return exportCSV(out, items)
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
}

func scanAll(ctx context.Context, store *sqlstore.Store, tableName string) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	limit := int32(scanPageSize)
	for {
		out, err := store.Scan(ctx, &dynamodb.ScanInput{
			TableName:         &tableName,
			Limit:             &limit,
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if out.LastEvaluatedKey == nil {
			return items, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// exportJSON writes one {"Item": {...}} document per line, matching the AWS
// S3 export layout.
func exportJSON(out io.Writer, items []map[string]types.AttributeValue) error {
	enc := json.NewEncoder(out)
	for _, item := range items {
		raw, err := attrvalue.MarshalItem(item)
		if err != nil {
			return err
		}
		if err := enc.Encode(map[string]json.RawMessage{"Item": raw}); err != nil {
			return err
		}
	}
	return nil
}

// exportCSV flattens top-level attributes into columns; non-scalar values are
// rendered as plain JSON of their decoded Go value, without type descriptors.
func exportCSV(out io.Writer, items []map[string]types.AttributeValue) error {
	columns := map[string]struct{}{}
	for _, item := range items {
		for name := range item {
			columns[name] = struct{}{}
		}
	}
	header := make([]string, 0, len(columns))
	for name := range columns {
		header = append(header, name)
	}
	sort.Strings(header)

	w := csv.NewWriter(out)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, item := range items {
		record := make([]string, len(header))
		for i, name := range header {
			av, ok := item[name]
			if !ok {
				continue
			}
			cell, err := csvCell(av)
			if err != nil {
				return err
			}
			record[i] = cell
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func csvCell(av types.AttributeValue) (string, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		return v.Value, nil
	case *types.AttributeValueMemberBOOL:
		return fmt.Sprintf("%t", v.Value), nil
	default:
		// Containers and binary round-trip through Go values for readability.
		var plain any
		if err := attributevalue.Unmarshal(av, &plain); err != nil {
			return "", err
		}
		b, err := json.Marshal(plain)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func runImport(ctx context.Context, logger *zap.Logger, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dbURL := fs.String("db", "", "Database URL")
	tableName := fs.String("table", "", "Table to import into")
	file := fs.String("file", "", "Input file (default stdin)")
	fs.Parse(args)

	if *tableName == "" {
		return fmt.Errorf("-table is required")
	}
	store, err := openStore(ctx, *dbURL, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	in := io.Reader(os.Stdin)
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	dec := json.NewDecoder(in)
	var batch []types.WriteRequest
	imported := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		out, err := store.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{*tableName: batch},
		})
		if err != nil {
			return err
		}
		if len(out.UnprocessedItems) > 0 {
			return fmt.Errorf("%d items were not processed", len(out.UnprocessedItems[*tableName]))
		}
		imported += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		var line struct {
			Item json.RawMessage `json:"Item"`
		}
		if err := dec.Decode(&line); err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("decode input: %w", err)
		}
		item, err := attrvalue.UnmarshalItem(line.Item)
		if err != nil {
			return err
		}
		batch = append(batch, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		if len(batch) == importBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	logger.Info("import complete", zap.String("table", *tableName), zap.Int("items", imported))
	return nil
}
