// Package core registers the built-in methods every Quahl control channel
// exposes: greeting and echo primitives plus daemon introspection.
package core

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quahl/remote/internal/infrastructure/logging"
	"github.com/quahl/remote/internal/jsonrpc"
)

// Provider implements the built-in method set.
type Provider struct {
	registry *jsonrpc.Registry
	logger   *logging.Logger
	version  string
	start    time.Time
}

// NewProvider creates the core provider.
func NewProvider(logger *logging.Logger, version string) *Provider {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Provider{
		logger:  logger,
		version: version,
		start:   time.Now(),
	}
}

// Register adds the core methods to reg.
func (p *Provider) Register(reg *jsonrpc.Registry) error {
	p.registry = reg
	methods := []struct {
		name string
		fn   any
	}{
		{"hello", p.Hello},
		{"echo", p.Echo},
		{"return", p.Return},
		{"version", p.Version},
		{"uptime", p.Uptime},
		{"methods", p.Methods},
	}
	for _, m := range methods {
		if !reg.Register(m.name, m.fn) {
			return fmt.Errorf("method %q already registered", m.name)
		}
	}
	return nil
}

// HelloParams names the greeting target.
type HelloParams struct {
	Name string `json:"name"`
}

// Hello greets the caller by name, defaulting to "World".
func (p *Provider) Hello(params HelloParams) (string, error) {
	name := params.Name
	if name == "" {
		name = "World"
	}
	return fmt.Sprintf("Hello %s!", name), nil
}

// EchoParams carries the string to echo into the daemon log.
type EchoParams struct {
	S string `json:"s"`
}

// Echo logs the given string and returns nothing.
func (p *Provider) Echo(params EchoParams) error {
	p.logger.Info("echo", zap.String("s", params.S))
	return nil
}

// ReturnParams carries an arbitrary value.
type ReturnParams struct {
	X any `json:"x"`
}

// Return sends the given value straight back to the caller.
func (p *Provider) Return(params ReturnParams) (any, error) {
	return params.X, nil
}

// Version reports the daemon version.
func (p *Provider) Version() (string, error) {
	return p.version, nil
}

// Uptime reports seconds since the daemon started.
func (p *Provider) Uptime() (float64, error) {
	return time.Since(p.start).Seconds(), nil
}

// Methods lists the names currently dispatchable over the channel.
func (p *Provider) Methods() ([]string, error) {
	return p.registry.Names(), nil
}
