package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Params is the parameter payload of a command.
type Params map[string]any

func (p Params) clone() Params {
	if p == nil {
		return Params{}
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Int returns an integral parameter. Floats without a fractional part (as
// produced by JSON decoding) are accepted.
func (p Params) Int(name string) (int, bool) {
	v, ok := p[name]
	if !ok {
		return 0, false
	}
	return asInt(v)
}

// String returns a string parameter.
func (p Params) String(name string) (string, bool) {
	v, ok := p[name].(string)
	return v, ok
}

// Bool returns a boolean parameter.
func (p Params) Bool(name string) (bool, bool) {
	v, ok := p[name].(bool)
	return v, ok
}

// Float returns a numeric parameter.
func (p Params) Float(name string) (float64, bool) {
	v, ok := p[name]
	if !ok {
		return 0, false
	}
	return asFloat(v)
}

// ParamType names the accepted Go shapes of a parameter.
type ParamType string

const (
	ParamString     ParamType = "string"
	ParamInt        ParamType = "int"
	ParamNumber     ParamType = "number"
	ParamBool       ParamType = "bool"
	ParamStringList ParamType = "string_list"
)

// FieldSpec declares the constraints of one parameter.
type FieldSpec struct {
	Name     string
	Type     ParamType
	Required bool
	Min      *float64
	Max      *float64
	Enum     []string
	// Check is an expr-lang predicate over `value` (the parameter) and
	// `params` (every parameter). It runs only when the other constraints
	// of the field hold.
	Check   string
	Message string
}

// CrossCheck is an expr-lang predicate over `params` that relates several
// fields. It runs only when all Fields are present and individually valid.
type CrossCheck struct {
	Name    string
	Expr    string
	Fields  []string
	Message string
}

// Bound is a helper for FieldSpec.Min and FieldSpec.Max literals.
func Bound(v float64) *float64 { return &v }

type checkEnv struct {
	Value  any            `expr:"value"`
	Params map[string]any `expr:"params"`
}

type compiledCross struct {
	check   CrossCheck
	program *vm.Program
}

// ParamSchema is a declarative parameter rule list. Validation reports every
// violation, never just the first.
type ParamSchema struct {
	fields []FieldSpec
	checks map[string]*vm.Program
	cross  []compiledCross
}

// NewParamSchema compiles the schema's expressions.
func NewParamSchema(fields []FieldSpec, cross ...CrossCheck) (*ParamSchema, error) {
	schema := &ParamSchema{
		fields: append([]FieldSpec(nil), fields...),
		checks: make(map[string]*vm.Program),
	}
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("param schema: field name required")
		}
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("param schema: field %s declared twice", f.Name)
		}
		seen[f.Name] = struct{}{}
		switch f.Type {
		case ParamString, ParamInt, ParamNumber, ParamBool, ParamStringList:
		default:
			return nil, fmt.Errorf("param schema: field %s has unknown type %q", f.Name, f.Type)
		}
		if f.Check == "" {
			continue
		}
		program, err := expr.Compile(f.Check, expr.Env(checkEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("param schema: compile check for %s: %w", f.Name, err)
		}
		schema.checks[f.Name] = program
	}
	for _, c := range cross {
		for _, field := range c.Fields {
			if _, ok := seen[field]; !ok {
				return nil, fmt.Errorf("param schema: check %s references undeclared field %s", c.Name, field)
			}
		}
		program, err := expr.Compile(c.Expr, expr.Env(checkEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("param schema: compile check %s: %w", c.Name, err)
		}
		schema.cross = append(schema.cross, compiledCross{check: c, program: program})
	}
	return schema, nil
}

// MustParamSchema is NewParamSchema for package-level schemas.
func MustParamSchema(fields []FieldSpec, cross ...CrossCheck) *ParamSchema {
	schema, err := NewParamSchema(fields, cross...)
	if err != nil {
		panic(err)
	}
	return schema
}

// Fields returns the declared fields.
func (s *ParamSchema) Fields() []FieldSpec {
	if s == nil {
		return nil
	}
	return append([]FieldSpec(nil), s.fields...)
}

// Validate checks params against every constraint and returns all
// violations. Unknown parameters are reported too.
func (s *ParamSchema) Validate(params Params) []FieldViolation {
	if s == nil {
		return nil
	}
	var out []FieldViolation
	valid := make(map[string]bool, len(s.fields))
	declared := make(map[string]struct{}, len(s.fields))
	for _, f := range s.fields {
		declared[f.Name] = struct{}{}
		value, present := params[f.Name]
		if !present || value == nil {
			if f.Required {
				out = append(out, FieldViolation{Field: f.Name, Constraint: "required", Message: "is required"})
			}
			continue
		}
		violations := checkField(f, value)
		if len(violations) == 0 {
			if program, ok := s.checks[f.Name]; ok {
				if v, failed := runCheck(program, value, params, f.Name, "check", f.Message); failed {
					violations = append(violations, v)
				}
			}
		}
		if len(violations) == 0 {
			valid[f.Name] = true
		}
		out = append(out, violations...)
	}
	var unknown []string
	for name := range params {
		if _, ok := declared[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		out = append(out, FieldViolation{Field: name, Constraint: "unknown", Message: "is not a recognised parameter"})
	}
	for _, c := range s.cross {
		ready := true
		for _, field := range c.check.Fields {
			if !valid[field] {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		field := c.check.Name
		if len(c.check.Fields) > 0 {
			field = strings.Join(c.check.Fields, ",")
		}
		if v, failed := runCheck(c.program, nil, params, field, c.check.Name, c.check.Message); failed {
			out = append(out, v)
		}
	}
	return out
}

func runCheck(program *vm.Program, value any, params Params, field, constraint, message string) (FieldViolation, bool) {
	got, err := vm.Run(program, checkEnv{Value: value, Params: map[string]any(params)})
	if err != nil {
		return FieldViolation{Field: field, Constraint: constraint, Message: "check failed: " + err.Error()}, true
	}
	if ok, _ := got.(bool); ok {
		return FieldViolation{}, false
	}
	if message == "" {
		message = "does not satisfy " + constraint
	}
	return FieldViolation{Field: field, Constraint: constraint, Message: message}, true
}

func checkField(f FieldSpec, value any) []FieldViolation {
	var out []FieldViolation
	switch f.Type {
	case ParamString:
		s, ok := value.(string)
		if !ok {
			return []FieldViolation{typeViolation(f, value)}
		}
		if f.Required && strings.TrimSpace(s) == "" {
			out = append(out, FieldViolation{Field: f.Name, Constraint: "required", Message: "must not be blank"})
		}
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			out = append(out, FieldViolation{Field: f.Name, Constraint: "enum", Message: fmt.Sprintf("must be one of %s", strings.Join(f.Enum, ", "))})
		}
	case ParamInt:
		n, ok := asInt(value)
		if !ok {
			return []FieldViolation{typeViolation(f, value)}
		}
		out = append(out, rangeViolations(f, float64(n))...)
	case ParamNumber:
		n, ok := asFloat(value)
		if !ok {
			return []FieldViolation{typeViolation(f, value)}
		}
		out = append(out, rangeViolations(f, n)...)
	case ParamBool:
		if _, ok := value.(bool); !ok {
			return []FieldViolation{typeViolation(f, value)}
		}
	case ParamStringList:
		items, ok := asStrings(value)
		if !ok {
			return []FieldViolation{typeViolation(f, value)}
		}
		if len(f.Enum) > 0 {
			for _, item := range items {
				if !contains(f.Enum, item) {
					out = append(out, FieldViolation{Field: f.Name, Constraint: "enum", Message: fmt.Sprintf("contains %q, must be one of %s", item, strings.Join(f.Enum, ", "))})
				}
			}
		}
		out = append(out, rangeViolations(f, float64(len(items)))...)
	}
	return out
}

func typeViolation(f FieldSpec, value any) FieldViolation {
	return FieldViolation{Field: f.Name, Constraint: "type", Message: fmt.Sprintf("must be %s, got %T", f.Type, value)}
}

func rangeViolations(f FieldSpec, n float64) []FieldViolation {
	var out []FieldViolation
	if f.Min != nil && n < *f.Min {
		out = append(out, FieldViolation{Field: f.Name, Constraint: "min", Message: fmt.Sprintf("must be >= %g", *f.Min)})
	}
	if f.Max != nil && n > *f.Max {
		out = append(out, FieldViolation{Field: f.Name, Constraint: "max", Message: fmt.Sprintf("must be <= %g", *f.Max)})
	}
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case float32:
		if float32(math.Trunc(float64(n))) == n {
			return int(n), true
		}
	case float64:
		if math.Trunc(n) == n && !math.IsInf(n, 0) {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

func asStrings(v any) ([]string, bool) {
	switch items := v.(type) {
	case []string:
		return items, true
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
