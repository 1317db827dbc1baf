package config

import (
	"fmt"
	"strings"
)

// Validator performs comprehensive checks on loaded configuration.
type Validator struct {
	cfg    *Config
	errors []string
}

// NewValidator creates a Validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every check and returns an aggregate error.
func (v *Validator) ValidateAll() error {
	v.validateServices()
	v.validateProviders()
	v.validatePrompts()
	v.validateDefaults()

	if len(v.errors) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(v.errors, "\n  - "))
	}
	return nil
}

func (v *Validator) addError(format string, args ...any) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *Validator) validateServices() {
	for name, svc := range v.cfg.Services.All() {
		switch svc.PlanningStrategy {
		case PlanningInternalTool:
			if svc.PlanningToolName == "" {
				v.addError("service %q: internal_tool strategy requires planning_tool_name", name)
			}
		case PlanningLLMPlanner:
			// planning_prompt_template is optional; a generic planner prompt applies
		default:
			v.addError("service %q: unknown planning_strategy %q", name, svc.PlanningStrategy)
		}

		switch svc.Transport.Type {
		case TransportStdio:
			if svc.Transport.Command == "" {
				v.addError("service %q: stdio transport requires command", name)
			}
		case TransportHTTP, TransportSSE:
			if svc.Transport.URL == "" {
				v.addError("service %q: %s transport requires url", name, svc.Transport.Type)
			}
		default:
			v.addError("service %q: unknown transport type %q", name, svc.Transport.Type)
		}
	}
}

func (v *Validator) validateProviders() {
	if _, err := v.cfg.LLMProviders.Get(v.cfg.DefaultProvider); err != nil {
		v.addError("default_provider %q is not a configured llm provider", v.cfg.DefaultProvider)
	}
	for _, name := range v.cfg.LLMProviders.Names() {
		p, _ := v.cfg.LLMProviders.Get(name)
		if p.APIKeyEnv == "" {
			v.addError("llm provider %q: api_key_env is required", name)
		}
		if p.Model == "" {
			v.addError("llm provider %q: model is required", name)
		}
	}
}

func (v *Validator) validatePrompts() {
	for name, prompt := range v.cfg.Prompts {
		if prompt.Template == "" {
			v.addError("prompt %q: template is required", name)
		}
		if prompt.Provider != "" {
			if _, err := v.cfg.LLMProviders.Get(prompt.Provider); err != nil {
				v.addError("prompt %q: provider %q is not configured", name, prompt.Provider)
			}
		}
		for _, ph := range prompt.Placeholders {
			if ph.Placeholder == "" || ph.StatePath == "" {
				v.addError("prompt %q: placeholder entries need both placeholder and state_path", name)
			}
			if !strings.Contains(prompt.Template, "{"+ph.Placeholder+"}") {
				v.addError("prompt %q: template does not reference {%s}", name, ph.Placeholder)
			}
		}
	}
}

func (v *Validator) validateDefaults() {
	d := v.cfg.Defaults
	if d.MaxIterations < 0 {
		v.addError("defaults: max_iterations must be >= 0")
	}
	if d.MaxPlannerIterations < 1 {
		v.addError("defaults: max_planner_iterations must be >= 1")
	}
	if d.ToolCallTimeout <= 0 {
		v.addError("defaults: tool_call_timeout must be positive")
	}
	if d.LLMTimeout <= 0 {
		v.addError("defaults: llm_timeout must be positive")
	}
}
