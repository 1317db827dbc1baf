package config

import "time"

// TransportType selects how a tool service is reached.
type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportHTTP  TransportType = "http"
	TransportSSE   TransportType = "sse"
)

// TransportConfig defines how to start or reach one MCP tool service.
type TransportConfig struct {
	Type TransportType `yaml:"type"`

	// For stdio transport (subprocess)
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"` // Environment overrides for the subprocess

	// For http/sse transport
	URL         string `yaml:"url,omitempty"`
	BearerToken string `yaml:"bearer_token,omitempty"`
	Timeout     int    `yaml:"timeout,omitempty"` // In seconds
}

// PlanningStrategy selects how tool calls against a service are planned.
type PlanningStrategy string

const (
	// PlanningInternalTool delegates planning to a tool hosted by the
	// service itself (e.g. a schema-aware plan generator).
	PlanningInternalTool PlanningStrategy = "internal_tool"
	// PlanningLLMPlanner prompts the model with the service's tool list and
	// parses a JSON plan.
	PlanningLLMPlanner PlanningStrategy = "llm_planner"
)

// ServiceConfig describes one back-end tool service in the registry.
type ServiceConfig struct {
	Name                   string           `yaml:"-"`
	Description            string           `yaml:"description"`
	Transport              TransportConfig  `yaml:"transport"`
	PlanningStrategy       PlanningStrategy `yaml:"planning_strategy"`
	PlanningToolName       string           `yaml:"planning_tool_name,omitempty"`
	PlanningPromptTemplate string           `yaml:"planning_prompt_template,omitempty"`
	RequiredContext        []string         `yaml:"required_context,omitempty"`
	// UseSchemaContext injects the retrieved CRM schema block into this
	// service's planning prompt.
	UseSchemaContext bool `yaml:"use_schema_context,omitempty"`
}

// LLMProviderConfig describes one OpenAI-compatible model endpoint.
type LLMProviderConfig struct {
	Name           string `yaml:"-"`
	Type           string `yaml:"type"` // "openai" or any openai-compatible endpoint
	APIKeyEnv      string `yaml:"api_key_env"`
	BaseURL        string `yaml:"base_url,omitempty"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model,omitempty"`
}

// PromptPlaceholder binds one {placeholder} in a prompt template to a
// dot-separated path into the session state.
type PromptPlaceholder struct {
	Placeholder string `yaml:"placeholder"`
	StatePath   string `yaml:"state_path"`
}

// PromptConfig is a templated system prompt plus the model parameters to
// invoke it with.
type PromptConfig struct {
	Template     string              `yaml:"template"`
	Placeholders []PromptPlaceholder `yaml:"placeholders,omitempty"`
	Provider     string              `yaml:"provider,omitempty"`
	Model        string              `yaml:"model,omitempty"`
	Temperature  float32             `yaml:"temperature"`
}

// Defaults bound the orchestration loops and outgoing calls.
type Defaults struct {
	MaxIterations        int           `yaml:"max_iterations"`         // orchestrator re-entry cap per turn
	MaxPlannerIterations int           `yaml:"max_planner_iterations"` // inner planner loop cap
	ToolCallTimeout      time.Duration `yaml:"tool_call_timeout"`
	LLMTimeout           time.Duration `yaml:"llm_timeout"`
}

// StorageConfig locates the on-disk sqlite databases.
type StorageConfig struct {
	CheckpointPath  string `yaml:"checkpoint_path"`
	SchemaIndexPath string `yaml:"schema_index_path"`
}

// SystemConfig groups system-wide infrastructure settings.
type SystemConfig struct {
	AllowedWSOrigins []string       `yaml:"allowed_ws_origins,omitempty"`
	Storage          *StorageConfig `yaml:"storage,omitempty"`
}

// DefaultDefaults returns the built-in loop and deadline bounds.
func DefaultDefaults() *Defaults {
	return &Defaults{
		MaxIterations:        5,
		MaxPlannerIterations: 10,
		ToolCallTimeout:      30 * time.Second,
		LLMTimeout:           30 * time.Second,
	}
}
