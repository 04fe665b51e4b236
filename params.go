// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package fngraph

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/fngraph/fngraph/internal/exec"
)

// ParamValue pairs an explicit declared type with a value for
// UpdateParameters, the typed-Go analogue of spec.md's "(type, value)"
// tuple form. Passing a bare value instead infers the type from it.
type ParamValue struct {
	Type  cty.Type
	Value any
}

// looseParamSpec is the shape UpdateParameters accepts from loosely
// typed input — e.g. values decoded from JSON/YAML config — alongside
// the explicit ParamValue and bare-value forms. mapstructure.Decode
// turns the map[string]any into this before type resolution, the same
// loose-to-typed-config decoding step the teacher's stack provides.
type looseParamSpec struct {
	Type  string `mapstructure:"type"`
	Value any    `mapstructure:"value"`
}

// UpdateParameters installs a parameters entry and a matching nullary
// function node for each name, per spec.md 4.6 and invariant 2.
// Integer values are auto-widened when the declared type is numeric
// (cty.Number does not distinguish int from float internally, so this
// widening is automatic once both sides agree on cty.Number — unlike
// the dynamically typed source, no separate widening step is needed);
// any other declared-type mismatch fails with TypeMismatchError.
func (c Composer) UpdateParameters(kv map[string]any) (Composer, error) {
	next := c.clone()
	names := sortedKeys(kv)
	for _, name := range names {
		declType, raw, err := decodeParamSpec(kv[name])
		if err != nil {
			return Composer{}, err
		}
		val, err := convertParam(name, declType, raw)
		if err != nil {
			return Composer{}, err
		}
		next.parameters[name] = paramEntry{declaredType: declType}
		next.functions[name] = node{
			name:         name,
			kind:         kindParameter,
			declaredType: declType,
			value:        val,
			call: func(v any) Func {
				return func(call *exec.Call) (any, error) { return v, nil }
			}(ctyToNative(val)),
		}
	}
	for _, name := range names {
		next.invalidateDescendantsOf(name)
	}
	return next, nil
}

// decodeParamSpec normalizes one UpdateParameters value into a declared
// type (cty.NilType if none was given, meaning "infer it") and a native
// Go value.
func decodeParamSpec(raw any) (cty.Type, any, error) {
	switch v := raw.(type) {
	case ParamValue:
		return v.Type, v.Value, nil
	case map[string]any:
		var spec looseParamSpec
		if err := mapstructure.Decode(v, &spec); err != nil {
			return cty.NilType, nil, fmt.Errorf("fngraph: decoding parameter spec: %w", err)
		}
		t, err := typeByName(spec.Type)
		if err != nil {
			return cty.NilType, nil, err
		}
		return t, spec.Value, nil
	default:
		return cty.NilType, v, nil
	}
}

func typeByName(name string) (cty.Type, error) {
	switch name {
	case "", "any":
		return cty.NilType, nil
	case "string":
		return cty.String, nil
	case "bool", "boolean":
		return cty.Bool, nil
	case "number", "int", "integer", "float":
		return cty.Number, nil
	default:
		return cty.NilType, fmt.Errorf("fngraph: unknown parameter type %q", name)
	}
}

// nativeToCty converts a plain Go value into the cty.Value it denotes.
func nativeToCty(v any) (cty.Value, error) {
	switch x := v.(type) {
	case cty.Value:
		return x, nil
	case int:
		return cty.NumberIntVal(int64(x)), nil
	case int64:
		return cty.NumberIntVal(x), nil
	case float32:
		return cty.NumberFloatVal(float64(x)), nil
	case float64:
		return cty.NumberFloatVal(x), nil
	case string:
		return cty.StringVal(x), nil
	case bool:
		return cty.BoolVal(x), nil
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	default:
		return cty.NilVal, fmt.Errorf("fngraph: unsupported parameter value type %T", v)
	}
}

// ctyToNative converts a cty.Value back to the plain Go value passed to
// user functions, so a parameter consumer never has to deal with cty
// directly.
func ctyToNative(v cty.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Type() {
	case cty.String:
		return v.AsString()
	case cty.Bool:
		return v.True()
	case cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f
	default:
		return v
	}
}

// convertParam type-checks raw against declType, converting through
// cty/convert (which is where int-to-float widening falls out for
// free — see UpdateParameters).
func convertParam(name string, declType cty.Type, raw any) (cty.Value, error) {
	val, err := nativeToCty(raw)
	if err != nil {
		return cty.NilVal, &TypeMismatchError{Name: name, Expected: typeString(declType), Actual: fmt.Sprintf("%T", raw)}
	}
	if declType == cty.NilType {
		return val, nil
	}
	if declType.IsPrimitiveType() && !val.IsNull() && !val.Type().Equals(declType) {
		return cty.NilVal, &TypeMismatchError{Name: name, Expected: typeString(declType), Actual: val.Type().FriendlyName()}
	}
	converted, err := convert.Convert(val, declType)
	if err != nil {
		return cty.NilVal, &TypeMismatchError{Name: name, Expected: typeString(declType), Actual: val.Type().FriendlyName()}
	}
	return converted, nil
}

func typeString(t cty.Type) string {
	if t == cty.NilType {
		return "any"
	}
	return t.FriendlyName()
}
