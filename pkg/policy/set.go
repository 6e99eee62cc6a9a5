// Package policy implements ordered permission rule evaluation over a
// layered (global + project) permission set.
package policy

import (
	"github.com/praxis-agent/praxis/pkg/types"
)

// Action is the outcome of a permission decision.
type Action string

const (
	ActionAllow   Action = "allow"
	ActionDeny    Action = "deny"
	ActionConfirm Action = "confirm" // requires out-of-band user approval
)

// Valid reports whether a is one of the three known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionAllow, ActionDeny, ActionConfirm:
		return true
	}
	return false
}

// MatchSpec selects the requests a rule applies to. Fields are conjunctive;
// an empty field is a wildcard.
type MatchSpec struct {
	Tool    string `yaml:"tool,omitempty" json:"tool,omitempty"`       // exact tool name
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`       // doublestar glob
	Command string `yaml:"command,omitempty" json:"command,omitempty"` // regular expression
}

// Rule pairs a match spec with the action to take on match.
type Rule struct {
	Match  MatchSpec `yaml:"match" json:"match"`
	Action Action    `yaml:"action" json:"action"`
}

// Validate rejects rules whose action is unknown. Pattern syntax is not
// checked here: rules loaded from config files cannot be rejected, they are
// skipped at evaluation time instead.
func (r Rule) Validate() error {
	if !r.Action.Valid() {
		return types.NewValidationError("action", "must be allow, deny or confirm")
	}
	return nil
}

// Query describes one requested action to evaluate.
type Query struct {
	Tool    string `json:"tool"`
	Path    string `json:"path,omitempty"`
	Command string `json:"command,omitempty"`
}

// Set is one scope layer (or the merged view) of the permission config.
type Set struct {
	Defaults map[string]Action `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	Rules    []Rule            `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// Clone returns a deep copy of the set.
func (s Set) Clone() Set {
	out := Set{}
	if s.Defaults != nil {
		out.Defaults = make(map[string]Action, len(s.Defaults))
		for k, v := range s.Defaults {
			out.Defaults[k] = v
		}
	}
	if s.Rules != nil {
		out.Rules = make([]Rule, len(s.Rules))
		copy(out.Rules, s.Rules)
	}
	return out
}

// Merge combines the global and project layers into one snapshot. Project
// defaults override global defaults per key; rule lists concatenate with
// global rules first, preserving registration order within each layer.
func Merge(global, project Set) Set {
	merged := Set{
		Defaults: make(map[string]Action, len(global.Defaults)+len(project.Defaults)),
		Rules:    make([]Rule, 0, len(global.Rules)+len(project.Rules)),
	}
	for k, v := range global.Defaults {
		merged.Defaults[k] = v
	}
	for k, v := range project.Defaults {
		merged.Defaults[k] = v
	}
	merged.Rules = append(merged.Rules, global.Rules...)
	merged.Rules = append(merged.Rules, project.Rules...)
	return merged
}
