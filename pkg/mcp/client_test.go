package mcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerToolCache(t *testing.T) {
	m := NewManager(nil, time.Second)
	assert.Nil(t, m.Tools("Salesforce MCP"))

	m.toolCacheMu.Lock()
	m.toolCache["Salesforce MCP"] = []ToolDescriptor{{Name: "execute_soql_query"}}
	m.toolCacheMu.Unlock()

	tools := m.Tools("Salesforce MCP")
	require.Len(t, tools, 1)
	assert.Equal(t, "execute_soql_query", tools[0].Name)

	m.Close()
	assert.Nil(t, m.Tools("Salesforce MCP"))
}
