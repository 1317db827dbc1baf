package agent

import (
	"encoding/json"
	"strings"

	"github.com/openfunnel/maestro/pkg/config"
	"github.com/openfunnel/maestro/pkg/models"
)

// statePathAliases maps the transient prompt values onto path names. These
// fields are excluded from state serialization, so they need an explicit
// bridge.
func statePathAliases(state *models.SessionState) map[string]any {
	return map[string]any{
		"services_info":    state.ServicesInfo,
		"progress_summary": state.ProgressSummary,
	}
}

// RenderPrompt fills a prompt template's {placeholder} slots from the
// session state. Unbound placeholders render as empty strings rather than
// leaking braces into the prompt.
func RenderPrompt(cfg *config.PromptConfig, state *models.SessionState) string {
	rendered := cfg.Template
	for _, ph := range cfg.Placeholders {
		value, _ := StatePathValue(state, ph.StatePath)
		rendered = strings.ReplaceAll(rendered, "{"+ph.Placeholder+"}", stringifyStateValue(value))
	}
	return rendered
}

// StatePathValue resolves a dot-separated path against the session state.
// The state is viewed through its JSON form, so paths use the wire field
// names (user_goal, session_context.created_records, ...). The transient
// services_info and progress_summary values are addressable by those names.
func StatePathValue(state *models.SessionState, path string) (any, bool) {
	if state == nil || path == "" {
		return nil, false
	}

	if v, ok := statePathAliases(state)[path]; ok {
		return v, true
	}

	data, err := json.Marshal(state)
	if err != nil {
		return nil, false
	}
	var view map[string]any
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, false
	}

	return lookupPath(view, strings.Split(path, "."))
}

// lookupPath walks nested objects by key. Arrays are not indexable; a path
// segment against a non-object stops the walk.
func lookupPath(obj map[string]any, segments []string) (any, bool) {
	var current any = obj
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// stringifyStateValue renders a resolved state value for prompt insertion.
// Scalars render plainly; structured values render as compact JSON.
func stringifyStateValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return models.Stringify(t)
	}
}

// MissingRequiredContext returns the required_context paths of a service
// that resolve to nothing in the current state. A path resolving to an
// empty collection counts as missing.
func MissingRequiredContext(state *models.SessionState, paths []string) []string {
	var missing []string
	for _, path := range paths {
		v, ok := StatePathValue(state, path)
		if !ok || isEmptyValue(v) {
			missing = append(missing, path)
		}
	}
	return missing
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}
