package jsonrpc

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type greetParams struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMethodBindPositional(t *testing.T) {
	m, err := newMethod("greet", func(p greetParams) (greetParams, error) {
		return p, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	result, err := m.call(context.Background(), json.RawMessage(`["Ada", 3]`))
	if err != nil {
		t.Fatal(err)
	}
	got := result.(greetParams)
	if got.Name != "Ada" || got.Count != 3 {
		t.Errorf("bound %+v", got)
	}
}

func TestMethodBindPositionalPartial(t *testing.T) {
	m, _ := newMethod("greet", func(p greetParams) (greetParams, error) {
		return p, nil
	})
	result, err := m.call(context.Background(), json.RawMessage(`["Ada"]`))
	if err != nil {
		t.Fatal(err)
	}
	got := result.(greetParams)
	if got.Name != "Ada" || got.Count != 0 {
		t.Errorf("bound %+v", got)
	}
}

func TestMethodBindPositionalTooMany(t *testing.T) {
	m, _ := newMethod("greet", func(p greetParams) error { return nil })
	_, err := m.call(context.Background(), json.RawMessage(`["a", 1, true]`))
	rpcErr, ok := err.(*Error)
	if !ok || rpcErr.Code != CodeInvalidParams {
		t.Fatalf("err = %v, want InvalidParams", err)
	}
	if !strings.Contains(rpcErr.Message, "takes at most 2 positional arguments, got 3") {
		t.Errorf("message = %q", rpcErr.Message)
	}
}

func TestMethodBindKeyword(t *testing.T) {
	m, _ := newMethod("greet", func(p greetParams) (greetParams, error) {
		return p, nil
	})
	result, err := m.call(context.Background(), json.RawMessage(`{"count": 2, "name": "Ada"}`))
	if err != nil {
		t.Fatal(err)
	}
	got := result.(greetParams)
	if got.Name != "Ada" || got.Count != 2 {
		t.Errorf("bound %+v", got)
	}
}

func TestMethodBindUnknownKeyword(t *testing.T) {
	m, _ := newMethod("greet", func(p greetParams) error { return nil })
	_, err := m.call(context.Background(), json.RawMessage(`{"nome": "Ada"}`))
	rpcErr, ok := err.(*Error)
	if !ok || rpcErr.Code != CodeInvalidParams {
		t.Fatalf("err = %v, want InvalidParams", err)
	}
	if !strings.Contains(rpcErr.Message, `unexpected keyword argument "nome"`) {
		t.Errorf("message = %q", rpcErr.Message)
	}
}

func TestMethodBindTypeMismatch(t *testing.T) {
	m, _ := newMethod("greet", func(p greetParams) error { return nil })
	for _, params := range []string{`{"count": "three"}`, `["Ada", "three"]`} {
		_, err := m.call(context.Background(), json.RawMessage(params))
		rpcErr, ok := err.(*Error)
		if !ok || rpcErr.Code != CodeInvalidParams {
			t.Errorf("params %s: err = %v, want InvalidParams", params, err)
		}
	}
}

func TestMethodNiladic(t *testing.T) {
	m, _ := newMethod("ping", func() (string, error) { return "pong", nil })

	for _, params := range []string{"", "[]", "{}", "[ ]", "{ }"} {
		var raw json.RawMessage
		if params != "" {
			raw = json.RawMessage(params)
		}
		result, err := m.call(context.Background(), raw)
		if err != nil {
			t.Fatalf("params %q: %v", params, err)
		}
		if result != "pong" {
			t.Errorf("params %q: result = %v", params, result)
		}
	}

	_, err := m.call(context.Background(), json.RawMessage(`["x"]`))
	rpcErr, ok := err.(*Error)
	if !ok || rpcErr.Code != CodeInvalidParams {
		t.Fatalf("err = %v, want InvalidParams", err)
	}
	if !strings.Contains(rpcErr.Message, "ping takes no arguments") {
		t.Errorf("message = %q", rpcErr.Message)
	}
}

func TestMethodContextPropagation(t *testing.T) {
	type key struct{}
	var seen any
	m, _ := newMethod("probe", func(ctx context.Context) error {
		seen = ctx.Value(key{})
		return nil
	})
	ctx := context.WithValue(context.Background(), key{}, "marker")
	if _, err := m.call(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if seen != "marker" {
		t.Errorf("handler saw %v, want marker", seen)
	}
}

func TestMethodPanicRecovered(t *testing.T) {
	m, _ := newMethod("boom", func() error { panic("broken") })
	_, err := m.call(context.Background(), nil)
	rpcErr, ok := err.(*Error)
	if !ok || rpcErr.Code != CodeInternalError {
		t.Fatalf("err = %v, want InternalError", err)
	}
	if !strings.Contains(rpcErr.Message, "broken") {
		t.Errorf("message = %q", rpcErr.Message)
	}
}

func TestMethodJSONTagDash(t *testing.T) {
	type params struct {
		Visible string `json:"visible"`
		Hidden  string `json:"-"`
	}
	m, _ := newMethod("m", func(p params) error { return nil })
	if _, err := m.call(context.Background(), json.RawMessage(`{"visible": "x"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.call(context.Background(), json.RawMessage(`{"-": "x"}`)); err == nil {
		t.Error("dash-tagged field was bindable")
	}
}
