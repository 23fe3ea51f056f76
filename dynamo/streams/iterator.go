package streams

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// iterator is the self-describing shard iterator payload: a stream position
// expressed as "records after this sequence number".
type iterator struct {
	StreamArn string `json:"streamArn"`
	ShardID   string `json:"shardId"`
	AfterSeq  int64  `json:"afterSeq"`
}

func encodeIterator(it iterator) string {
	b, _ := json.Marshal(it)
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodeIterator(s string) (iterator, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return iterator{}, fmt.Errorf("malformed shard iterator")
	}
	var it iterator
	if err := json.Unmarshal(b, &it); err != nil {
		return iterator{}, fmt.Errorf("malformed shard iterator")
	}
	if it.StreamArn == "" || it.ShardID == "" {
		return iterator{}, fmt.Errorf("malformed shard iterator")
	}
	return it, nil
}
