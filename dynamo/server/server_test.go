package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pretenderdb/pretender/dynamo/sqlstore"
	"github.com/pretenderdb/pretender/dynamo/streams"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	store, err := sqlstore.Open(context.Background(), sqlstore.Options{
		DatabaseURL: ":memory:",
		Logger:      zaptest.NewLogger(t),
		Clock:       clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := New(store, streams.NewReader(store.DB()), zaptest.NewLogger(t), 0)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, ts *httptest.Server, target, body string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("X-Amz-Target", target)
	req.Header.Set("Content-Type", "application/x-amz-json-1.0")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestProtocolRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := call(t, ts, "DynamoDB_20120810.CreateTable", `{
		"TableName": "accounts",
		"AttributeDefinitions": [{"AttributeName": "id", "AttributeType": "S"}],
		"KeySchema": [{"AttributeName": "id", "KeyType": "HASH"}]
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = call(t, ts, "DynamoDB_20120810.PutItem", `{
		"TableName": "accounts",
		"Item": {"id": {"S": "a"}, "balance": {"N": "500"}}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := call(t, ts, "DynamoDB_20120810.GetItem", `{
		"TableName": "accounts",
		"Key": {"id": {"S": "a"}}
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"id": {"S": "a"}, "balance": {"N": "500"}}`, string(body["Item"]))
}

func TestProtocolErrorShape(t *testing.T) {
	ts := newTestServer(t)

	resp, body := call(t, ts, "DynamoDB_20120810.GetItem", `{
		"TableName": "missing",
		"Key": {"id": {"S": "a"}}
	}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errType string
	require.NoError(t, json.Unmarshal(body["__type"], &errType))
	assert.Contains(t, errType, "ResourceNotFoundException")
	assert.Contains(t, string(body["message"]), "missing")
}

func TestProtocolUnknownTarget(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := call(t, ts, "NotAService.NotAnOp", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamsOverProtocol(t *testing.T) {
	ts := newTestServer(t)

	call(t, ts, "DynamoDB_20120810.CreateTable", `{
		"TableName": "events",
		"AttributeDefinitions": [{"AttributeName": "id", "AttributeType": "S"}],
		"KeySchema": [{"AttributeName": "id", "KeyType": "HASH"}],
		"StreamSpecification": {"StreamEnabled": true, "StreamViewType": "NEW_AND_OLD_IMAGES"}
	}`)
	call(t, ts, "DynamoDB_20120810.PutItem", `{
		"TableName": "events",
		"Item": {"id": {"S": "s"}, "v": {"N": "1"}}
	}`)

	_, listBody := call(t, ts, "DynamoDBStreams_20120810.ListStreams", `{"TableName": "events"}`)
	var streamList []struct {
		StreamArn string `json:"StreamArn"`
	}
	require.NoError(t, json.Unmarshal(listBody["Streams"], &streamList))
	require.Len(t, streamList, 1)

	iterReq, err := json.Marshal(map[string]string{
		"StreamArn":         streamList[0].StreamArn,
		"ShardId":           streams.ShardID,
		"ShardIteratorType": "TRIM_HORIZON",
	})
	require.NoError(t, err)
	_, iterBody := call(t, ts, "DynamoDBStreams_20120810.GetShardIterator", string(iterReq))

	var iter string
	require.NoError(t, json.Unmarshal(iterBody["ShardIterator"], &iter))

	recReq, err := json.Marshal(map[string]string{"ShardIterator": iter})
	require.NoError(t, err)
	_, recBody := call(t, ts, "DynamoDBStreams_20120810.GetRecords", string(recReq))

	var records []struct {
		EventName string `json:"eventName"`
		Dynamodb  struct {
			NewImage map[string]map[string]string `json:"NewImage"`
		} `json:"dynamodb"`
	}
	require.NoError(t, json.Unmarshal(recBody["Records"], &records))
	require.Len(t, records, 1)
	assert.Equal(t, "INSERT", records[0].EventName)
	assert.Equal(t, "1", records[0].Dynamodb.NewImage["v"]["N"])
}
