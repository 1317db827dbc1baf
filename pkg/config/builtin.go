package config

// Built-in configuration: the default service registry and prompt templates.
// User YAML entries with the same keys override these wholesale.

// orchestratorPromptTemplate is the routing system prompt. Placeholders are
// resolved against the session state at decision time.
const orchestratorPromptTemplate = `You are the Marketing Agent Orchestrator. You coordinate back-end services to accomplish a marketing goal.

Available services:
{services_info}

Progress so far:
{progress_summary}

Rules:
- Choose exactly ONE next action from the valid actions list.
- Route to a service only when it has NEW work to do for the goal.
- Never repeat an operation that already succeeded (see the progress summary).
- If the user's goal is already satisfied by the completed operations, answer 'complete'.
- If the user is making small talk or greeting you, answer 'casual_chat:<their message>'.
- Answer with the action label only, no explanation.`

// brevoPlannerTemplate guides plan generation for the transactional email
// service.
const brevoPlannerTemplate = `You plan tool calls against a transactional email service (Brevo).
Templates are referenced by integer id. Recipient lists fan out with iterate_over.
When sending to many contacts prefer the batch send tool over per-contact sends.`

// linklyPlannerTemplate guides plan generation for the URL shortener.
const linklyPlannerTemplate = `You plan tool calls against a URL shortening and click-analytics service (Linkly).
Short links are created per destination URL; click counts are queried by link id.`

// BuiltinConfig groups all built-in configuration.
type BuiltinConfig struct {
	Services        map[string]*ServiceConfig
	LLMProviders    map[string]*LLMProviderConfig
	Prompts         map[string]*PromptConfig
	DefaultProvider string
}

// GetBuiltinConfig returns the built-in defaults. The maps are freshly
// allocated per call so merging cannot corrupt shared state.
func GetBuiltinConfig() *BuiltinConfig {
	return &BuiltinConfig{
		Services: map[string]*ServiceConfig{
			"Salesforce MCP": {
				Description: "CRM operations: query, create, update and upsert Salesforce records (Campaigns, Contacts, CampaignMembers, ...).",
				Transport: TransportConfig{
					Type:    TransportStdio,
					Command: "python",
					Args:    []string{"-m", "salesforce_mcp"},
				},
				PlanningStrategy: PlanningInternalTool,
				PlanningToolName: "generate_all_toolinput",
				RequiredContext:  []string{"session_context.created_records"},
				UseSchemaContext: true,
			},
			"Brevo MCP": {
				Description: "Transactional email: templates, batch sends, delivery and bounce status.",
				Transport: TransportConfig{
					Type:    TransportStdio,
					Command: "python",
					Args:    []string{"-m", "brevo_mcp"},
				},
				PlanningStrategy:       PlanningLLMPlanner,
				PlanningPromptTemplate: brevoPlannerTemplate,
				RequiredContext:        []string{"generated_email_content"},
			},
			"Linkly MCP": {
				Description: "URL shortening and click analytics for tracked campaign links.",
				Transport: TransportConfig{
					Type:    TransportStdio,
					Command: "python",
					Args:    []string{"-m", "linkly_mcp"},
				},
				PlanningStrategy:       PlanningLLMPlanner,
				PlanningPromptTemplate: linklyPlannerTemplate,
			},
		},
		LLMProviders: map[string]*LLMProviderConfig{
			"openai": {
				Type:           "openai",
				APIKeyEnv:      "OPENAI_API_KEY",
				Model:          "gpt-4o",
				EmbeddingModel: "text-embedding-3-small",
			},
			"openai-mini": {
				Type:      "openai",
				APIKeyEnv: "OPENAI_API_KEY",
				Model:     "gpt-4o-mini",
			},
		},
		Prompts: map[string]*PromptConfig{
			"orchestrator": {
				Template: orchestratorPromptTemplate,
				Placeholders: []PromptPlaceholder{
					{Placeholder: "services_info", StatePath: "services_info"},
					{Placeholder: "progress_summary", StatePath: "progress_summary"},
				},
				Provider:    "openai",
				Temperature: 0,
			},
		},
		DefaultProvider: "openai",
	}
}
