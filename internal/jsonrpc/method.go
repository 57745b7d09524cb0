package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// Method is a registered callable plus the reflection data needed to bind
// JSON-RPC params onto its signature.
type Method struct {
	name         string
	fn           reflect.Value
	paramType    reflect.Type // nil for niladic handlers
	paramFields  []int        // exported field indices, declaration order
	fieldByName  map[string]int
	hasContext   bool
	returnsValue bool
}

// Name returns the name the method was registered under.
func (m *Method) Name() string {
	return m.name
}

// newMethod validates fn and captures its binding metadata.
//
// Accepted signatures:
//
//	func([ctx context.Context][, params T]) error
//	func([ctx context.Context][, params T]) (R, error)
//
// where T is a struct. Positional params bind to T's exported fields in
// declaration order; keyword params bind by json tag (field name when
// untagged). Trailing fields may be left unbound, which handlers treat as
// defaults.
func newMethod(name string, fn any) (*Method, error) {
	if name == "" {
		return nil, fmt.Errorf("method name cannot be empty")
	}
	if fn == nil {
		return nil, fmt.Errorf("method %s: callable is nil", name)
	}
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, fmt.Errorf("method %s: not a function", name)
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, fmt.Errorf("method %s: variadic handlers are not bindable", name)
	}

	m := &Method{name: name, fn: v}

	in := 0
	if t.NumIn() > 0 && t.In(0) == ctxType {
		m.hasContext = true
		in = 1
	}
	switch t.NumIn() - in {
	case 0:
	case 1:
		pt := t.In(in)
		if pt.Kind() != reflect.Struct {
			return nil, fmt.Errorf("method %s: params argument must be a struct", name)
		}
		m.paramType = pt
		m.fieldByName = make(map[string]int)
		for i := 0; i < pt.NumField(); i++ {
			f := pt.Field(i)
			if !f.IsExported() {
				continue
			}
			key := f.Name
			if tag := f.Tag.Get("json"); tag != "" {
				tagName := strings.Split(tag, ",")[0]
				if tagName == "-" {
					continue
				}
				if tagName != "" {
					key = tagName
				}
			}
			m.paramFields = append(m.paramFields, i)
			m.fieldByName[key] = i
		}
	default:
		return nil, fmt.Errorf("method %s: at most one params argument", name)
	}

	switch t.NumOut() {
	case 1:
		if t.Out(0) != errType {
			return nil, fmt.Errorf("method %s: last return value must be error", name)
		}
	case 2:
		if t.Out(1) != errType {
			return nil, fmt.Errorf("method %s: last return value must be error", name)
		}
		m.returnsValue = true
	default:
		return nil, fmt.Errorf("method %s: must return error or (value, error)", name)
	}

	return m, nil
}

// call binds params onto the handler signature and invokes it. Binding
// failures surface as InvalidParams; panics are recovered into
// InternalError so a misbehaving handler never takes the connection down.
func (m *Method) call(ctx context.Context, params json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = NewError(CodeInternalError, fmt.Sprintf("Internal error: %v", r))
		}
	}()

	args := make([]reflect.Value, 0, 2)
	if m.hasContext {
		args = append(args, reflect.ValueOf(ctx))
	}

	if m.paramType != nil {
		pv := reflect.New(m.paramType)
		if err := m.bind(params, pv); err != nil {
			return nil, err
		}
		args = append(args, pv.Elem())
	} else if !emptyParams(params) {
		return nil, NewError(CodeInvalidParams,
			fmt.Sprintf("Invalid params: %s takes no arguments", m.name))
	}

	out := m.fn.Call(args)
	if last := out[len(out)-1]; !last.IsNil() {
		return nil, last.Interface().(error)
	}
	if m.returnsValue {
		return out[0].Interface(), nil
	}
	return nil, nil
}

// bind fills the params struct from a positional array or a keyword object.
// The processor has already checked the top-level shape.
func (m *Method) bind(params json.RawMessage, pv reflect.Value) error {
	if len(params) == 0 {
		return nil
	}
	if params[0] == '[' {
		var list []json.RawMessage
		if err := codec.Unmarshal(params, &list); err != nil {
			return NewError(CodeInvalidParams, "Invalid params: "+err.Error())
		}
		if len(list) > len(m.paramFields) {
			return NewError(CodeInvalidParams, fmt.Sprintf(
				"Invalid params: %s takes at most %d positional arguments, got %d",
				m.name, len(m.paramFields), len(list)))
		}
		for i, raw := range list {
			field := pv.Elem().Field(m.paramFields[i])
			if err := codec.Unmarshal(raw, field.Addr().Interface()); err != nil {
				return NewError(CodeInvalidParams,
					fmt.Sprintf("Invalid params: argument %d: %v", i, err))
			}
		}
		return nil
	}

	var obj map[string]json.RawMessage
	if err := codec.Unmarshal(params, &obj); err != nil {
		return NewError(CodeInvalidParams, "Invalid params: "+err.Error())
	}
	for key, raw := range obj {
		idx, ok := m.fieldByName[key]
		if !ok {
			return NewError(CodeInvalidParams,
				fmt.Sprintf("Invalid params: unexpected keyword argument %q", key))
		}
		field := pv.Elem().Field(idx)
		if err := codec.Unmarshal(raw, field.Addr().Interface()); err != nil {
			return NewError(CodeInvalidParams,
				fmt.Sprintf("Invalid params: argument %q: %v", key, err))
		}
	}
	return nil
}

// emptyParams reports whether params is absent, an empty array, or an
// empty object. Those are the shapes a niladic handler accepts.
func emptyParams(params json.RawMessage) bool {
	if len(params) == 0 {
		return true
	}
	inner := bytes.TrimSpace(params[1 : len(params)-1])
	return len(inner) == 0
}
