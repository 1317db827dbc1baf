package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfunnel/maestro/pkg/config"
	"github.com/openfunnel/maestro/pkg/models"
)

func TestStatePathValue(t *testing.T) {
	state := models.NewSessionState(15)
	state.UserGoal = "create a campaign"
	state.SessionContext["campaign"] = models.Record{"Id": "701A", "Name": "Spring Launch"}
	state.ServicesInfo = "- Salesforce MCP: CRM data"

	t.Run("top-level field", func(t *testing.T) {
		v, ok := StatePathValue(state, "user_goal")
		require.True(t, ok)
		assert.Equal(t, "create a campaign", v)
	})

	t.Run("nested path", func(t *testing.T) {
		v, ok := StatePathValue(state, "session_context.campaign.Name")
		require.True(t, ok)
		assert.Equal(t, "Spring Launch", v)
	})

	t.Run("transient alias", func(t *testing.T) {
		v, ok := StatePathValue(state, "services_info")
		require.True(t, ok)
		assert.Equal(t, "- Salesforce MCP: CRM data", v)
	})

	t.Run("missing path", func(t *testing.T) {
		_, ok := StatePathValue(state, "session_context.nope.Name")
		assert.False(t, ok)
	})
}

func TestRenderPrompt(t *testing.T) {
	state := models.NewSessionState(15)
	state.UserGoal = "send emails"

	cfg := &config.PromptConfig{
		Template: "Goal: {goal}\nMissing: {nothing}",
		Placeholders: []config.PromptPlaceholder{
			{Placeholder: "goal", StatePath: "user_goal"},
			{Placeholder: "nothing", StatePath: "does.not.exist"},
		},
	}

	rendered := RenderPrompt(cfg, state)
	assert.Equal(t, "Goal: send emails\nMissing: ", rendered)
}

func TestMissingRequiredContext(t *testing.T) {
	state := models.NewSessionState(15)
	state.SessionContext["campaign"] = models.Record{"Id": "701A"}
	state.SharedResultSets["contacts"] = []models.Record{}

	missing := MissingRequiredContext(state, []string{
		"session_context.campaign",
		"shared_result_sets.contacts",
		"generated_email_content",
	})
	assert.Equal(t, []string{
		"shared_result_sets.contacts",
		"generated_email_content",
	}, missing)
}
