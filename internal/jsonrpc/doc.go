// Package jsonrpc implements the JSON-RPC 2.0 request processor behind the
// remote-control channel.
//
// The package is transport-free: a Registry maps method names to callables,
// and a Processor turns one decoded payload (a request object or a batch
// array) into serialized response bytes. Framing, sockets, and everything
// else wire-related lives in internal/tcp and internal/ws.
//
// Error taxonomy (fixed, standard JSON-RPC 2.0 codes):
//   - -32700 ParseError: invalid UTF-8 or invalid JSON
//   - -32600 InvalidRequest: malformed request envelope
//   - -32601 MethodNotFound: name absent from the registry
//   - -32602 InvalidParams: argument count/type mismatch at call time
//   - -32603 InternalError: anything else raised during dispatch
//
// Compatibility note: parse and validation failures produce an error
// response even when the offending request had no id (looked like a
// notification). Only a successful call on a true notification is silent.
// This deviates from strict JSON-RPC 2.0 guidance and is kept deliberately
// so existing clients keep seeing their mistakes.
package jsonrpc
