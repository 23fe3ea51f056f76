package parser

import "strings"

// A curated subset of DynamoDB's reserved words. Using one of these as a bare
// attribute name in a document path is a validation error; clients must go
// through an ExpressionAttributeNames placeholder instead.
var reservedWords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"ABORT", "ACTION", "ADD", "ALL", "AND", "ANY", "AS", "ASC",
		"ATTRIBUTE", "BETWEEN", "BY", "CASE", "CONNECT", "COUNT",
		"DATE", "DAY", "DELETE", "DESC", "EXISTS", "FORMAT", "GROUP", "HASH",
		"IN", "INDEX", "KEY", "KEYS", "LEVEL", "LIMIT", "LIST", "LOCAL",
		"MONTH", "NAME", "NOT", "NULL", "NUMBER", "OR", "ORDER", "PRIMARY",
		"RANGE", "REMOVE", "SELECT", "SET", "SIZE", "STATE", "STATUS",
		"TABLE", "TIME", "TIMESTAMP", "TTL", "TYPE", "UPDATE", "USER",
		"UUID", "VALUE", "VALUES", "YEAR",
	} {
		reservedWords[w] = struct{}{}
	}
}

func isReserved(name string) bool {
	_, ok := reservedWords[strings.ToUpper(name)]
	return ok
}
