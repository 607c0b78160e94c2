package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ConfigErrorKind classifies wiring defects detected by the engine.
type ConfigErrorKind string

const (
	ConfigUnknownRule       ConfigErrorKind = "unknown_rule"
	ConfigDuplicateRule     ConfigErrorKind = "duplicate_rule"
	ConfigInvalidRule       ConfigErrorKind = "invalid_rule"
	ConfigInvalidCommand    ConfigErrorKind = "invalid_command"
	ConfigMissingDependency ConfigErrorKind = "missing_dependency"
	ConfigOrderingViolation ConfigErrorKind = "ordering_violation"
)

// Sentinels matched by ConfigError.Is.
var (
	ErrUnknownRule       = errors.New("unknown rule")
	ErrDuplicateRule     = errors.New("duplicate rule")
	ErrInvalidRule       = errors.New("invalid rule")
	ErrInvalidCommand    = errors.New("invalid command")
	ErrMissingDependency = errors.New("missing context dependency")
	ErrOrderingViolation = errors.New("context dependency ordering violation")
)

var configSentinels = map[ConfigErrorKind]error{
	ConfigUnknownRule:       ErrUnknownRule,
	ConfigDuplicateRule:     ErrDuplicateRule,
	ConfigInvalidRule:       ErrInvalidRule,
	ConfigInvalidCommand:    ErrInvalidCommand,
	ConfigMissingDependency: ErrMissingDependency,
	ConfigOrderingViolation: ErrOrderingViolation,
}

// ConfigError reports a wiring defect: an unresolvable rule name, a duplicate
// registration or a context dependency no earlier rule satisfies. It is never
// folded into a Result.
type ConfigError struct {
	Kind    ConfigErrorKind
	Command CommandKind
	Rule    string
	Key     string
	Detail  string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("rule engine configuration: ")
	b.WriteString(string(e.Kind))
	if e.Command != "" {
		fmt.Fprintf(&b, " command=%s", e.Command)
	}
	if e.Rule != "" {
		fmt.Fprintf(&b, " rule=%s", e.Rule)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " key=%s", e.Key)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// Is matches the sentinel for the error kind.
func (e *ConfigError) Is(target error) bool {
	sentinel, ok := configSentinels[e.Kind]
	return ok && target == sentinel
}

// IsConfigError reports whether err carries a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// FieldViolation describes one violated parameter constraint.
type FieldViolation struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	Message    string `json:"message"`
}

func (v FieldViolation) String() string {
	return v.Field + ": " + v.Message
}

// ValidationError aggregates every constraint a command construction
// violated.
type ValidationError struct {
	Kind       CommandKind
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	subject := "command"
	if e.Kind != "" {
		subject = string(e.Kind) + " command"
	}
	return fmt.Sprintf("invalid %s: %d violation(s): %s", subject, len(e.Violations), strings.Join(parts, "; "))
}

// Fields returns the names of the violated fields in report order.
func (e *ValidationError) Fields() []string {
	out := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		out = append(out, v.Field)
	}
	return out
}

// WithViolations appends extra to the *ValidationError in err, creating one
// when err is nil. Other errors are returned unchanged.
func WithViolations(err error, kind CommandKind, extra ...FieldViolation) error {
	if len(extra) == 0 {
		return err
	}
	if err == nil {
		return &ValidationError{Kind: kind, Violations: extra}
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		verr.Violations = append(verr.Violations, extra...)
	}
	return err
}

// ErrMissingKey is returned by Key.Require when the entry is absent.
var ErrMissingKey = errors.New("context key not set")

// KeyTypeError is returned when an entry holds a value of another type.
type KeyTypeError struct {
	Key  string
	Want string
	Got  string
}

func (e *KeyTypeError) Error() string {
	return fmt.Sprintf("context key %s holds %s, want %s", e.Key, e.Got, e.Want)
}

// KeyCollisionError is returned when a key name is redefined with another
// type.
type KeyCollisionError struct {
	Key       string
	Existing  string
	Requested string
}

func (e *KeyCollisionError) Error() string {
	return fmt.Sprintf("context key %s already defined as %s, cannot redefine as %s", e.Key, e.Existing, e.Requested)
}
