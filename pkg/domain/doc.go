// Package domain is the command and rule resolution kernel.
//
// A Command names the rules it needs; the RulesEngine orders them by
// priority, skips those whose CanApply is false and executes the rest
// against a fresh ExecutionContext. Rules share intermediate values through
// typed context keys (Key[T]) in the execution's Scratch space and change the
// game world only through the EntityStore. Entity writes are immediate and
// never rolled back.
//
// Failures inside rules and commands, including panics, are reported as
// failed Results. Wiring defects such as an unknown rule name or a context
// read with no earlier producer are returned as *ConfigError.
package domain
