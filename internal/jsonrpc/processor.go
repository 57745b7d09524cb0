package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/quahl/remote/internal/infrastructure/logging"
	"github.com/quahl/remote/internal/infrastructure/monitoring"
)

// requestFields is the complete set of keys a request object may carry.
var requestFields = map[string]struct{}{
	"jsonrpc": {},
	"method":  {},
	"params":  {},
	"id":      {},
}

// controlCutset is trimmed from both ends of a payload before parsing.
const controlCutset = "\x00\r\n\t "

// Processor parses decoded payloads into JSON-RPC requests, validates
// them, dispatches against the registry, and serializes responses.
type Processor struct {
	registry *Registry
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// NewProcessor creates a processor dispatching against registry.
func NewProcessor(registry *Registry, logger *logging.Logger) *Processor {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Processor{registry: registry, logger: logger}
}

// WithMetrics attaches a metrics collector.
func (p *Processor) WithMetrics(m *monitoring.Metrics) *Processor {
	p.metrics = m
	return p
}

// Registry returns the registry the processor dispatches against.
func (p *Processor) Registry() *Registry {
	return p.registry
}

// Process handles one frame payload: a single request object or a batch
// array. It returns the serialized response, or nil when nothing must be
// written (a successful notification, or a batch of only such).
//
// Process never panics and never returns a transport error; every failure
// is converted into an error response at the point of detection.
func (p *Processor) Process(ctx context.Context, raw []byte) (out []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("request processing panic", zap.Any("panic", r))
			out = marshalError(CodeInternalError, fmt.Sprintf("Internal error: %v", r), nil)
		}
	}()

	if !utf8.Valid(raw) {
		return marshalError(CodeParseError, "Parse error: request is not valid UTF-8", nil)
	}
	payload := bytes.Trim(raw, controlCutset)
	if len(payload) == 0 {
		return marshalError(CodeParseError, "Parse error: empty request", nil)
	}

	switch payload[0] {
	case '[':
		var elems []json.RawMessage
		if err := codec.Unmarshal(payload, &elems); err != nil {
			return marshalError(CodeParseError, "Parse error: "+err.Error(), nil)
		}
		return p.processBatch(ctx, elems)
	case '{':
		var req map[string]json.RawMessage
		if err := codec.Unmarshal(payload, &req); err != nil {
			return marshalError(CodeParseError, "Parse error: "+err.Error(), nil)
		}
		return p.processSingle(ctx, req)
	default:
		// A valid scalar (string, number, bool, null) is a malformed
		// request; anything else simply failed to parse.
		if codec.Valid(payload) {
			return marshalError(CodeInvalidRequest,
				"Invalid request: request must be an object or an array of objects", nil)
		}
		return marshalError(CodeParseError, "Parse error: invalid JSON", nil)
	}
}

// processBatch applies single-request handling to every element
// independently. A failure in one element never aborts its siblings.
// Responses keep the input order of the entries that produced them; pure
// notifications contribute nothing.
func (p *Processor) processBatch(ctx context.Context, elems []json.RawMessage) []byte {
	results := make([][]byte, 0, len(elems))
	for _, elem := range elems {
		var req map[string]json.RawMessage
		if err := codec.Unmarshal(elem, &req); err != nil {
			results = append(results, marshalError(CodeInvalidRequest,
				"Invalid request: batch elements must be objects", nil))
			continue
		}
		if r := p.processSingle(ctx, req); r != nil {
			results = append(results, r)
		}
	}
	if len(results) == 0 {
		return nil
	}
	return joinBatch(results)
}

// processSingle validates and dispatches one request object. The checks
// run in a fixed order; every failure responds, notification or not.
func (p *Processor) processSingle(ctx context.Context, req map[string]json.RawMessage) []byte {
	idRaw, hasID := req["id"]
	isNotification := !hasID
	var id any
	if hasID {
		if err := codec.Unmarshal(idRaw, &id); err != nil {
			id = nil
		}
	}

	versionRaw, ok := req["jsonrpc"]
	if !ok {
		return marshalError(CodeInvalidRequest, "Invalid request: 'jsonrpc' key missing", id)
	}
	var version string
	if err := codec.Unmarshal(versionRaw, &version); err != nil || version != Version {
		return marshalError(CodeInvalidRequest, "Invalid request: 'jsonrpc' must be exactly '2.0'", id)
	}

	methodRaw, ok := req["method"]
	if !ok {
		return marshalError(CodeInvalidRequest, "Invalid request: 'method' key missing", id)
	}

	if unknown := unknownKeys(req); len(unknown) > 0 {
		return marshalError(CodeInvalidRequest, "Invalid request: "+describeUnknown(unknown), id)
	}

	var name string
	if err := codec.Unmarshal(methodRaw, &name); err != nil {
		return marshalError(CodeInvalidRequest, "Invalid request: 'method' must be a string", id)
	}

	method, found := p.registry.Get(name)
	if !found {
		p.recordError(CodeMethodNotFound)
		return marshalError(CodeMethodNotFound,
			fmt.Sprintf("Method not found: no method named %q", name), id)
	}

	params, hasParams := req["params"]
	if hasParams {
		params = bytes.TrimSpace(params)
		if len(params) == 0 || (params[0] != '[' && params[0] != '{') {
			return marshalError(CodeInvalidRequest,
				"Invalid request: 'params' must be absent, array or object", id)
		}
	} else {
		params = nil
	}

	start := time.Now()
	result, err := method.call(ctx, params)
	elapsed := time.Since(start)

	if err != nil {
		rpcErr := toError(err)
		p.recordDispatch(name, "error", elapsed)
		p.recordError(rpcErr.Code)
		p.logger.Warn("method dispatch failed",
			zap.String("method", name),
			zap.Int("code", rpcErr.Code),
			zap.String("error", rpcErr.Message),
		)
		return marshalError(rpcErr.Code, rpcErr.Message, id)
	}

	p.recordDispatch(name, "ok", elapsed)
	p.logger.Debug("method dispatched",
		zap.String("method", name),
		zap.Duration("duration", elapsed),
		zap.Bool("notification", isNotification),
	)

	if isNotification {
		return nil
	}
	return marshalResult(result, id)
}

func (p *Processor) recordDispatch(method, status string, d time.Duration) {
	if p.metrics != nil {
		p.metrics.RecordDispatch(method, status, d)
	}
}

func (p *Processor) recordError(code int) {
	if p.metrics != nil {
		p.metrics.RecordRPCError(code)
	}
}

// unknownKeys returns request keys outside the JSON-RPC envelope, sorted
// for deterministic error messages.
func unknownKeys(req map[string]json.RawMessage) []string {
	var unknown []string
	for key := range req {
		if _, ok := requestFields[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown
}

func describeUnknown(keys []string) string {
	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = fmt.Sprintf("%q", k)
	}
	if len(keys) > 1 {
		return "unknown keys " + strings.Join(quoted, ", ")
	}
	return "unknown key " + quoted[0]
}
