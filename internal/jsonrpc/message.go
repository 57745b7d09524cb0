package jsonrpc

import (
	"bytes"

	"github.com/bytedance/sonic"
)

// Version is the only protocol version the processor accepts.
const Version = "2.0"

// codec is the JSON API used on the request/response hot path. ConfigStd
// keeps encoding/json semantics (sorted map keys, strict syntax).
var codec = sonic.ConfigStd

// resultResponse is the wire form of a successful response. The result key
// is always present, even when the handler produced nothing (null).
type resultResponse struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result"`
	ID      any    `json:"id"`
}

// errorResponse is the wire form of a failed response.
type errorResponse struct {
	JSONRPC string `json:"jsonrpc"`
	Error   *Error `json:"error"`
	ID      any    `json:"id"`
}

// marshalResult serializes a success response. A result value the codec
// cannot serialize is a handler defect and degrades to InternalError.
func marshalResult(result, id any) []byte {
	data, err := codec.Marshal(resultResponse{JSONRPC: Version, Result: result, ID: id})
	if err != nil {
		return marshalError(CodeInternalError, "Internal error: result is not serializable", id)
	}
	return data
}

// marshalError serializes an error response. id is null when the
// originating request's id could not be determined.
func marshalError(code int, message string, id any) []byte {
	data, err := codec.Marshal(errorResponse{
		JSONRPC: Version,
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
	if err != nil {
		// id came out of parsed JSON, so this cannot happen; keep the
		// connection alive regardless.
		data, _ = codec.Marshal(errorResponse{
			JSONRPC: Version,
			Error:   &Error{Code: CodeInternalError, Message: "Internal error"},
		})
	}
	return data
}

// joinBatch assembles a batch response from independently serialized
// response payloads. The already-serialized bytes are joined verbatim, not
// re-parsed. Empty entries (notifications) contribute nothing.
func joinBatch(results [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("[\n    ")
	first := true
	for _, r := range results {
		if len(r) == 0 {
			continue
		}
		if !first {
			buf.WriteString(",\n    ")
		}
		buf.Write(bytes.TrimSpace(r))
		first = false
	}
	buf.WriteString("\n]")
	return buf.Bytes()
}
