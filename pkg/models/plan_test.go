package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlan(t *testing.T) {
	t.Run("bare JSON", func(t *testing.T) {
		plan, err := ParsePlan(`{"calls": [{"tool": "execute_soql_query", "arguments": {"query": "SELECT Id FROM Contact"}}], "needs_next_iteration": true}`)
		require.NoError(t, err)
		require.Len(t, plan.Calls, 1)
		assert.Equal(t, "execute_soql_query", plan.Calls[0].Tool)
		assert.True(t, plan.NeedsNextIteration)
	})

	t.Run("fenced JSON", func(t *testing.T) {
		plan, err := ParsePlan("```json\n{\"calls\": [], \"needs_next_iteration\": false}\n```")
		require.NoError(t, err)
		assert.Empty(t, plan.Calls)
		assert.False(t, plan.NeedsNextIteration)
	})

	t.Run("iterate_over survives as string or list", func(t *testing.T) {
		plan, err := ParsePlan(`{"calls": [
			{"tool": "send_email", "arguments": {}, "iterate_over": "contacts"},
			{"tool": "send_email", "arguments": {}, "iterate_over": [{"Id": "003A"}]}
		]}`)
		require.NoError(t, err)
		require.Len(t, plan.Calls, 2)
		assert.Equal(t, "contacts", plan.Calls[0].IterateOver)
		assert.IsType(t, []any{}, plan.Calls[1].IterateOver)
	})

	t.Run("garbage yields empty plan and error", func(t *testing.T) {
		plan, err := ParsePlan("I could not produce a plan, sorry.")
		require.Error(t, err)
		require.NotNil(t, plan)
		assert.Empty(t, plan.Calls)
	})
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "hello", Stringify("hello"))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "42", Stringify(42))
	// Whole floats render without a decimal point so CRM ids stay intact.
	assert.Equal(t, "12345", Stringify(float64(12345)))
	assert.Equal(t, "3.5", Stringify(3.5))
	assert.Equal(t, `{"Id":"003A"}`, Stringify(map[string]any{"Id": "003A"}))
}
