// Package pluginapi is the surface rule packs build against: a plugin
// contributes rules, command factories and entity schema fragments to a
// Registry and never reaches into the host's internals.
package pluginapi

import "rpgkernel/pkg/domain"

// Version is the plugin API version.
const Version = "v1"

// CommandRequest is the unvalidated form of a command, as received from a
// caller that does not link the plugin's constructors directly.
type CommandRequest struct {
	Kind      domain.CommandKind `json:"kind"`
	ActorID   string             `json:"actor_id"`
	TargetIDs []string           `json:"target_ids,omitempty"`
	Params    domain.Params      `json:"params,omitempty"`
}

// CommandFactory validates a request and builds the command. Validation
// failures are returned as *domain.ValidationError.
type CommandFactory func(req CommandRequest) (domain.Command, error)

type Registry interface {
	RegisterSchema(entityKind string, schema map[string]any)
	RegisterRule(rule domain.Rule)
	RegisterCommand(kind domain.CommandKind, factory CommandFactory) error
}

type Plugin interface {
	Name() string
	Version() string
	Register(Registry) error
}
