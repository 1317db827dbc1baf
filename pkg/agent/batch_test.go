package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfunnel/maestro/pkg/mcp"
	"github.com/openfunnel/maestro/pkg/models"
)

func toolWithProps(name string, props map[string]any) *mcp.ToolDescriptor {
	return &mcp.ToolDescriptor{
		Name:   name,
		Schema: map[string]any{"type": "object", "properties": props},
	}
}

func TestClassifyBatch(t *testing.T) {
	t.Run("array parameter makes a tool batch-capable", func(t *testing.T) {
		tool := toolWithProps("send_emails", map[string]any{
			"recipients": map[string]any{"type": "array"},
			"subject":    map[string]any{"type": "string"},
		})
		param, ok := ClassifyBatch(tool)
		assert.True(t, ok)
		assert.Equal(t, "recipients", param)
	})

	t.Run("batch in name with known parameter", func(t *testing.T) {
		tool := toolWithProps("batch_upsert_records", map[string]any{
			"records": map[string]any{"type": "array"},
		})
		param, ok := ClassifyBatch(tool)
		assert.True(t, ok)
		assert.Equal(t, "records", param)
	})

	t.Run("batch in name without known parameter falls back to records", func(t *testing.T) {
		tool := toolWithProps("batch_do_things", map[string]any{
			"payload": map[string]any{"type": "object"},
		})
		param, ok := ClassifyBatch(tool)
		assert.True(t, ok)
		assert.Equal(t, "records", param)
	})

	t.Run("scalar-only tool iterates", func(t *testing.T) {
		tool := toolWithProps("get_contact", map[string]any{
			"contact_id": map[string]any{"type": "string"},
		})
		param, ok := ClassifyBatch(tool)
		assert.False(t, ok)
		assert.Empty(t, param)
	})

	t.Run("parameter priority order", func(t *testing.T) {
		tool := toolWithProps("send_batch_emails", map[string]any{
			"recipients":       map[string]any{"type": "array"},
			"message_versions": map[string]any{"type": "array"},
		})
		param, ok := ClassifyBatch(tool)
		assert.True(t, ok)
		assert.Equal(t, "message_versions", param)
	})

	t.Run("union array type", func(t *testing.T) {
		tool := toolWithProps("update_items", map[string]any{
			"items": map[string]any{"type": []any{"array", "null"}},
		})
		param, ok := ClassifyBatch(tool)
		assert.True(t, ok)
		assert.Equal(t, "items", param)
	})

	t.Run("nil tool", func(t *testing.T) {
		_, ok := ClassifyBatch(nil)
		assert.False(t, ok)
	})
}

func TestAssembleBatchArgs(t *testing.T) {
	resolver := NewResolver(nil)
	items := []models.Record{
		{"Id": "003A", "Email": "ada@example.com"},
		{"Id": "003B", "Email": "grace@example.com"},
	}

	t.Run("generic batch packs per-item objects", func(t *testing.T) {
		template := map[string]any{
			"campaign_id": "{{campaigns.Id}}",
			"records": map[string]any{
				"email": "{{Email}}",
			},
		}
		resultSets := map[string][]models.Record{
			"campaigns": {{"Id": "701A"}},
		}

		args := AssembleBatchArgs("create_things", template, "records", items, resolver, resultSets)
		assert.Equal(t, "701A", args["campaign_id"])
		packed, ok := args["records"].([]any)
		require.True(t, ok)
		require.Len(t, packed, 2)
		assert.Equal(t, map[string]any{"email": "ada@example.com"}, packed[0])
		assert.Equal(t, map[string]any{"email": "grace@example.com"}, packed[1])
	})

	t.Run("batch emails concatenate recipients and coerce template_id", func(t *testing.T) {
		template := map[string]any{
			"template_id": "42",
			"recipients": []any{
				map[string]any{"email": "{{Email}}"},
			},
		}

		args := AssembleBatchArgs("send_batch_emails", template, "recipients", items, resolver, nil)
		assert.Equal(t, 42, args["template_id"])
		recipients, ok := args["recipients"].([]any)
		require.True(t, ok)
		require.Len(t, recipients, 2)
		assert.Equal(t, map[string]any{"email": "ada@example.com"}, recipients[0])
		assert.Equal(t, map[string]any{"email": "grace@example.com"}, recipients[1])
	})

	t.Run("batch upsert builds record_id and fields pairs", func(t *testing.T) {
		template := map[string]any{
			"object_name": "CampaignMember",
			"record_id":   "{{Id}}",
			"fields": map[string]any{
				"Status": "Sent",
			},
		}

		args := AssembleBatchArgs("batch_upsert_salesforce_records", template, "records", items, resolver, nil)
		assert.Equal(t, "CampaignMember", args["object_name"])
		pairs, ok := args["records"].([]any)
		require.True(t, ok)
		require.Len(t, pairs, 2)
		first, ok := pairs[0].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "003A", first["record_id"])
		assert.Equal(t, map[string]any{"Status": "Sent"}, first["fields"])
	})

	t.Run("upsert record_id falls back to item Id", func(t *testing.T) {
		template := map[string]any{
			"records": map[string]any{
				"fields": map[string]any{"Status": "Responded"},
			},
		}

		args := AssembleBatchArgs("batch_upsert_salesforce_records", template, "records", items, resolver, nil)
		pairs := args["records"].([]any)
		second := pairs[1].(map[string]any)
		assert.Equal(t, "003B", second["record_id"])
	})

	t.Run("no item template packs raw items", func(t *testing.T) {
		template := map[string]any{}
		args := AssembleBatchArgs("create_things", template, "records", items, resolver, nil)
		packed := args["records"].([]any)
		require.Len(t, packed, 2)
		assert.Equal(t, map[string]any(items[0]), packed[0])
	})
}
