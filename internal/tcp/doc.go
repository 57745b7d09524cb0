// Package tcp implements the control channel's TCP transport: a listener
// that accepts connections and a per-connection framer that splits the
// inbound byte stream into frames on the \r\n\r\n delimiter.
//
// Each connection is serviced by its own goroutine, but frames within one
// connection are strictly ordered: frame N's response, if any, is written
// before frame N+1 is taken from the buffer. All connections share one
// request processor and therefore one method registry.
package tcp
