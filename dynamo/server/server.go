// Package server exposes the core over the DynamoDB JSON protocol: one POST
// endpoint dispatching on the X-Amz-Target header, bodies in the AWS wire
// shapes, errors as {"__type": ..., "message": ...}.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pretenderdb/pretender/dynamo/ddberr"
	"github.com/pretenderdb/pretender/dynamo/sqlstore"
	"github.com/pretenderdb/pretender/dynamo/streams"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const (
	dynamoTargetPrefix  = "DynamoDB_20120810."
	streamsTargetPrefix = "DynamoDBStreams_20120810."
)

// Server dispatches protocol requests onto the store and the streams reader.
type Server struct {
	store   *sqlstore.Store
	streams *streams.Reader
	logger  *zap.Logger
	timeout time.Duration
}

// New builds the protocol server. A zero timeout disables per-request
// deadlines.
func New(store *sqlstore.Store, reader *streams.Reader, logger *zap.Logger, timeout time.Duration) *Server {
	return &Server{store: store, streams: reader, logger: logger, timeout: timeout}
}

// Router mounts the single RPC endpoint.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/", s.dispatch)
	return r
}

type handlerFunc func(ctx context.Context, body []byte) (any, error)

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	target := r.Header.Get("X-Amz-Target")

	var op string
	var handlers map[string]handlerFunc
	switch {
	case strings.HasPrefix(target, dynamoTargetPrefix):
		op = strings.TrimPrefix(target, dynamoTargetPrefix)
		handlers = s.dynamoHandlers()
	case strings.HasPrefix(target, streamsTargetPrefix):
		op = strings.TrimPrefix(target, streamsTargetPrefix)
		handlers = s.streamsHandlers()
	default:
		s.writeError(w, ddberr.Validation("unknown X-Amz-Target %q", target))
		return
	}

	handler, ok := handlers[op]
	if !ok {
		s.writeError(w, ddberr.Validation("unsupported operation %q", op))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, ddberr.Validation("read request body: %s", err))
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	out, err := handler(ctx, body)
	if err != nil {
		s.logger.Debug("operation failed", zap.String("op", op), zap.Error(err))
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Warn("encode response", zap.String("op", op), zap.Error(err))
	}
}

type wireError struct {
	Type                string                   `json:"__type"`
	Message             string                   `json:"message"`
	CancellationReasons []wireCancellationReason `json:"CancellationReasons,omitempty"`
}

type wireCancellationReason struct {
	Code    string          `json:"Code"`
	Message string          `json:"Message,omitempty"`
	Item    json.RawMessage `json:"Item,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := ddberr.CodeInternal
	message := "internal error"
	status := http.StatusInternalServerError

	var api smithy.APIError
	if errors.As(err, &api) {
		code = api.ErrorCode()
		message = api.ErrorMessage()
		if api.ErrorFault() != smithy.FaultServer {
			status = http.StatusBadRequest
		}
	} else {
		s.logger.Error("internal failure", zap.Error(err))
	}

	resp := wireError{
		Type:    "com.amazonaws.dynamodb.v20120810#" + code,
		Message: message,
	}

	var cancelled *types.TransactionCanceledException
	if errors.As(err, &cancelled) {
		for _, reason := range cancelled.CancellationReasons {
			wireReason := wireCancellationReason{}
			if reason.Code != nil {
				wireReason.Code = *reason.Code
			}
			if reason.Message != nil {
				wireReason.Message = *reason.Message
			}
			if reason.Item != nil {
				if raw, err := encodeItemField(reason.Item); err == nil {
					wireReason.Item = raw
				}
			}
			resp.CancellationReasons = append(resp.CancellationReasons, wireReason)
		}
	}

	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
