package core

import (
	"fmt"
	"maps"
	"sort"

	"rpgkernel/pkg/domain"
	"rpgkernel/pkg/pluginapi"
)

// Plugin is a rule pack.
type Plugin = pluginapi.Plugin

// CommandRequest is the unvalidated form of a command.
type CommandRequest = pluginapi.CommandRequest

// CommandFactory validates a request and builds the command.
type CommandFactory = pluginapi.CommandFactory

var _ pluginapi.Registry = (*PluginRegistry)(nil)

// PluginRegistry accumulates plugin contributions during registration.
type PluginRegistry struct {
	rules    []domain.Rule
	commands map[domain.CommandKind]CommandFactory
	schemas  map[string]map[string]any
}

// NewPluginRegistry constructs an empty registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{
		commands: make(map[domain.CommandKind]CommandFactory),
		schemas:  make(map[string]map[string]any),
	}
}

// RegisterRule adds a rule. Nil rules are ignored.
func (r *PluginRegistry) RegisterRule(rule domain.Rule) {
	if rule == nil {
		return
	}
	r.rules = append(r.rules, rule)
}

// RegisterCommand binds a factory to a command kind.
func (r *PluginRegistry) RegisterCommand(kind domain.CommandKind, factory CommandFactory) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown command kind %q", kind)
	}
	if factory == nil {
		return fmt.Errorf("command factory for %s is nil", kind)
	}
	if _, exists := r.commands[kind]; exists {
		return fmt.Errorf("command %s already registered", kind)
	}
	r.commands[kind] = factory
	return nil
}

// RegisterSchema stores a JSON Schema fragment describing an entity kind's
// payload.
func (r *PluginRegistry) RegisterSchema(entityKind string, schema map[string]any) {
	if entityKind == "" || schema == nil {
		return
	}
	r.schemas[entityKind] = maps.Clone(schema)
}

// Rules returns the registered rules in registration order.
func (r *PluginRegistry) Rules() []domain.Rule {
	return append([]domain.Rule(nil), r.rules...)
}

// Commands returns the registered command kinds, sorted.
func (r *PluginRegistry) Commands() []domain.CommandKind {
	out := make([]domain.CommandKind, 0, len(r.commands))
	for kind := range r.commands {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Schemas returns a copy of the schema fragments keyed by entity kind.
func (r *PluginRegistry) Schemas() map[string]map[string]any {
	out := make(map[string]map[string]any, len(r.schemas))
	for kind, schema := range r.schemas {
		out[kind] = maps.Clone(schema)
	}
	return out
}

// PluginMetadata describes an installed plugin.
type PluginMetadata struct {
	Name     string                    `json:"name"`
	Version  string                    `json:"version"`
	Rules    []string                  `json:"rules"`
	Commands []domain.CommandKind      `json:"commands,omitempty"`
	Schemas  map[string]map[string]any `json:"schemas,omitempty"`
}
