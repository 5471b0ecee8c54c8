package tools

import (
	"fmt"
	"log/slog"

	"github.com/neomagi/neomagi/internal/providers"
)

// Registry keeps a name-to-Tool map and a name-to-override-mode-set map.
// Overrides may only restrict a tool's base AllowedModes, never expand
// them.
type Registry struct {
	tools     map[string]Tool
	overrides map[string]map[Mode]bool
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool), overrides: make(map[string]map[Mode]bool)}
}

// Register adds tool. Returns an error if the name is already registered.
func (r *Registry) Register(tool Tool) error {
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("tools: already registered: %s", tool.Name())
	}
	if len(tool.AllowedModes()) == 0 {
		slog.Warn("tool registered without modes, fail-closed in every mode", "tool", tool.Name())
	}
	r.tools[tool.Name()] = tool
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// SetModeOverride restricts the effective modes for name. modes must be a
// subset of the tool's base AllowedModes.
func (r *Registry) SetModeOverride(name string, modes map[Mode]bool) error {
	t, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("tools: not registered: %s", name)
	}
	base := t.AllowedModes()
	for m := range modes {
		if !base[m] {
			return fmt.Errorf("tools: cannot expand modes for %s: %s not in allowed modes", name, m)
		}
	}
	r.overrides[name] = modes
	return nil
}

// EffectiveModes returns a tool's base AllowedModes intersected with any
// override. Unknown tools return an empty set.
func (r *Registry) EffectiveModes(name string) map[Mode]bool {
	t, ok := r.tools[name]
	if !ok {
		return nil
	}
	base := t.AllowedModes()
	override, hasOverride := r.overrides[name]
	if !hasOverride {
		return base
	}
	out := make(map[Mode]bool)
	for m := range base {
		if override[m] {
			out[m] = true
		}
	}
	return out
}

// CheckMode is the authoritative gate: an unknown tool returns false, not
// a panic or a denial reason that could be confused with a mode-specific
// rejection.
func (r *Registry) CheckMode(name string, mode Mode) bool {
	return r.EffectiveModes(name)[mode]
}

// ListTools returns the tools available in mode.
func (r *Registry) ListTools(mode Mode) []Tool {
	var out []Tool
	for name, t := range r.tools {
		if r.CheckMode(name, mode) {
			out = append(out, t)
		}
	}
	return out
}

// GetToolsSchema materializes the function-call tool schemas the model
// sees, filtered by mode.
func (r *Registry) GetToolsSchema(mode Mode) []providers.ToolDefinition {
	tools := r.ListTools(mode)
	defs := make([]providers.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}
