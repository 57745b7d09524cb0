// Package logging provides structured logging using uber/zap.
//
// Production mode emits JSON for machine parsing; development mode emits
// colored console output. Every component of the remote-control daemon
// receives a named child of one root logger.
package logging
