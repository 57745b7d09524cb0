// Package script evaluates JavaScript snippets in a sandboxed goja
// runtime on behalf of control-channel callers. The runtime carries no
// host access; scripts get a console that buffers output per evaluation
// and a hard execution deadline enforced through VM interrupts.
package script

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/quahl/remote/internal/infrastructure/logging"
	"github.com/quahl/remote/internal/jsonrpc"
)

// LogEntry is one console line captured during an evaluation.
type LogEntry struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Provider runs scripts in a single shared VM. Evaluations are
// serialized; goja runtimes are not safe for concurrent use.
type Provider struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	console []LogEntry
	timeout time.Duration
	logger  *logging.Logger
}

// NewProvider creates a script provider with the given per-evaluation
// timeout. Zero or negative means 5 seconds.
func NewProvider(timeout time.Duration, logger *logging.Logger) *Provider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewDefault()
	}
	p := &Provider{
		timeout: timeout,
		logger:  logger,
	}
	p.vm = p.newVM()
	return p
}

// Register adds the script methods to reg.
func (p *Provider) Register(reg *jsonrpc.Registry) error {
	methods := []struct {
		name string
		fn   any
	}{
		{"script.eval", p.Eval},
		{"script.reset", p.Reset},
	}
	for _, m := range methods {
		if !reg.Register(m.name, m.fn) {
			return fmt.Errorf("method %q already registered", m.name)
		}
	}
	return nil
}

// EvalParams carries the source to evaluate.
type EvalParams struct {
	Source string `json:"source"`
}

// EvalResult reports the evaluation outcome.
type EvalResult struct {
	Value      any        `json:"value"`
	Console    []LogEntry `json:"console"`
	DurationMS float64    `json:"duration_ms"`
}

// Eval runs a script and returns its completion value together with any
// console output. A timed-out or cancelled evaluation fails with an
// internal error; the VM survives and stays usable.
func (p *Provider) Eval(ctx context.Context, params EvalParams) (*EvalResult, error) {
	if params.Source == "" {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Invalid params: 'source' is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.console = p.console[:0]

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	done := make(chan struct{})
	go func() {
		select {
		case <-timer.C:
			p.vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			p.vm.Interrupt("context cancelled")
		case <-done:
		}
	}()

	start := time.Now()
	val, err := p.vm.RunString(params.Source)
	close(done)
	elapsed := time.Since(start)
	p.vm.ClearInterrupt()

	if err != nil {
		p.logger.Warn("script evaluation failed",
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return nil, fmt.Errorf("script error: %s", err.Error())
	}

	result := &EvalResult{
		Value:      exportValue(val),
		Console:    append([]LogEntry{}, p.console...),
		DurationMS: float64(elapsed) / float64(time.Millisecond),
	}
	return result, nil
}

// Reset discards all VM state accumulated by prior evaluations.
func (p *Provider) Reset() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vm = p.newVM()
	p.console = nil
	return true, nil
}

// newVM builds a runtime with host-access globals removed and a console
// that buffers into the provider.
func (p *Provider) newVM() *goja.Runtime {
	vm := goja.New()
	vm.SetMaxCallStackSize(1024)

	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error"} {
		console.Set(level, p.makeConsoleFunc(level))
	}
	vm.Set("console", console)

	return vm
}

func (p *Provider) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		p.console = append(p.console, LogEntry{Level: level, Message: strings.Join(parts, " ")})
		return goja.Undefined()
	}
}

func exportValue(val goja.Value) any {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}
