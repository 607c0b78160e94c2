package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

var spellSchema = MustParamSchema([]FieldSpec{
	{Name: "spell", Type: ParamString, Required: true, Enum: []string{"fireball", "cure_wounds"}},
	{Name: "level", Type: ParamInt, Required: true, Min: Bound(1), Max: Bound(9)},
	{Name: "slot", Type: ParamInt, Min: Bound(1), Max: Bound(9)},
	{Name: "targets", Type: ParamStringList, Max: Bound(3)},
	{Name: "silent", Type: ParamBool},
	{Name: "note", Type: ParamString, Check: `len(value) <= 10`, Message: "too long"},
}, CrossCheck{
	Name:    "slot_covers_level",
	Expr:    `params.slot >= params.level`,
	Fields:  []string{"level", "slot"},
	Message: "slot must be at least the spell level",
})

func violationsByField(vs []FieldViolation) map[string]FieldViolation {
	out := make(map[string]FieldViolation, len(vs))
	for _, v := range vs {
		out[v.Field] = v
	}
	return out
}

func TestParamSchemaAcceptsValidParams(t *testing.T) {
	params := Params{"spell": "fireball", "level": 3, "slot": 4, "targets": []any{"a", "b"}, "silent": true, "note": "quick"}
	if vs := spellSchema.Validate(params); len(vs) != 0 {
		t.Fatalf("expected no violations, got %+v", vs)
	}
}

func TestParamSchemaReportsEveryViolation(t *testing.T) {
	params := Params{
		"level":   12,
		"targets": []string{"a", "b", "c", "d"},
		"silent":  "yes",
		"note":    "far too long for the field",
		"extra":   1,
	}
	got := violationsByField(spellSchema.Validate(params))
	want := map[string]string{
		"spell":   "required",
		"level":   "max",
		"targets": "max",
		"silent":  "type",
		"note":    "check",
		"extra":   "unknown",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d violations, got %+v", len(want), got)
	}
	for field, constraint := range want {
		if got[field].Constraint != constraint {
			t.Fatalf("field %s: expected %s, got %+v", field, constraint, got[field])
		}
	}
	if got["note"].Message != "too long" {
		t.Fatalf("expected custom message, got %q", got["note"].Message)
	}
}

func TestParamSchemaCrossCheckRunsOnlyOnValidFields(t *testing.T) {
	vs := spellSchema.Validate(Params{"spell": "fireball", "level": 5, "slot": 2})
	if len(vs) != 1 || vs[0].Field != "level,slot" || vs[0].Constraint != "slot_covers_level" {
		t.Fatalf("expected cross-field violation, got %+v", vs)
	}
	vs = spellSchema.Validate(Params{"spell": "fireball", "level": 5, "slot": 20})
	if len(vs) != 1 || vs[0].Field != "slot" {
		t.Fatalf("expected only the slot range violation, got %+v", vs)
	}
}

func TestParamSchemaAcceptsJSONNumbers(t *testing.T) {
	var params Params
	if err := json.Unmarshal([]byte(`{"spell":"cure_wounds","level":2,"slot":2}`), &params); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if vs := spellSchema.Validate(params); len(vs) != 0 {
		t.Fatalf("expected float64 integers to validate, got %+v", vs)
	}
	if vs := spellSchema.Validate(Params{"spell": "fireball", "level": 2.5}); len(vs) != 1 || vs[0].Constraint != "type" {
		t.Fatalf("expected fractional level to be rejected, got %+v", vs)
	}
	if n, ok := params.Int("level"); !ok || n != 2 {
		t.Fatalf("expected Int accessor to read 2, got %d %v", n, ok)
	}
}

func TestParamSchemaBlankRequiredString(t *testing.T) {
	schema := MustParamSchema([]FieldSpec{{Name: "weapon", Type: ParamString, Required: true}})
	vs := schema.Validate(Params{"weapon": "   "})
	if len(vs) != 1 || vs[0].Constraint != "required" {
		t.Fatalf("expected blank required string to fail, got %+v", vs)
	}
}

func TestNewParamSchemaRejectsBadDeclarations(t *testing.T) {
	cases := []struct {
		name   string
		fields []FieldSpec
		cross  []CrossCheck
		want   string
	}{
		{name: "blank", fields: []FieldSpec{{Type: ParamInt}}, want: "name required"},
		{name: "duplicate", fields: []FieldSpec{{Name: "a", Type: ParamInt}, {Name: "a", Type: ParamInt}}, want: "declared twice"},
		{name: "type", fields: []FieldSpec{{Name: "a", Type: "uuid"}}, want: "unknown type"},
		{name: "check", fields: []FieldSpec{{Name: "a", Type: ParamInt, Check: "value +"}}, want: "compile check"},
		{name: "cross field", fields: []FieldSpec{{Name: "a", Type: ParamInt}}, cross: []CrossCheck{{Name: "c", Expr: "true", Fields: []string{"b"}}}, want: "undeclared field"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewParamSchema(tc.fields, tc.cross...)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestNilSchemaValidatesNothing(t *testing.T) {
	var schema *ParamSchema
	if vs := schema.Validate(Params{"anything": 1}); vs != nil {
		t.Fatalf("expected nil schema to accept everything, got %+v", vs)
	}
}
