package jsonrpc

// JSON-RPC 2.0 standard error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Error is a JSON-RPC error object. Handlers may return *Error to control
// the code sent over the wire; any other error becomes InternalError.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// NewError creates an Error with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// toError maps any dispatch error onto the wire taxonomy.
func toError(err error) *Error {
	if rpcErr, ok := err.(*Error); ok {
		return rpcErr
	}
	return &Error{Code: CodeInternalError, Message: "Internal error: " + err.Error()}
}
