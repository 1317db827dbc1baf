package agent

import (
	"strconv"
	"strings"

	"github.com/openfunnel/maestro/pkg/mcp"
	"github.com/openfunnel/maestro/pkg/models"
)

// batchParamPriority orders the array parameters a batch-capable tool may
// accept; the first present wins.
var batchParamPriority = []string{"message_versions", "records", "recipients", "items", "batch_data"}

// ClassifyBatch decides batch-vs-iterate for a tool. A tool is
// batch-capable when its name contains "batch" or its input schema exposes
// one of the known array parameters. The returned param is the chosen batch
// parameter name; empty when the tool must be invoked once per item.
func ClassifyBatch(tool *mcp.ToolDescriptor) (param string, batchCapable bool) {
	if tool == nil {
		return "", false
	}

	props := schemaProperties(tool.Schema)
	nameHasBatch := strings.Contains(strings.ToLower(tool.Name), "batch")

	for _, candidate := range batchParamPriority {
		prop, ok := props[candidate]
		if !ok {
			continue
		}
		if nameHasBatch || isArrayProperty(prop) {
			return candidate, true
		}
	}

	if nameHasBatch {
		// Batch by name with no recognizable parameter: fall back to the
		// conventional "records" key.
		return "records", true
	}
	return "", false
}

// AssembleBatchArgs builds the single batch invocation for N iteration
// items: the non-batch arguments of the planned call, with the N resolved
// per-item objects packed under the batch parameter. Tool-family special
// cases adjust the packing shape.
func AssembleBatchArgs(toolName string, template map[string]any, batchParam string, items []models.Record, resolver *Resolver, resultSets map[string][]models.Record) map[string]any {
	base := make(map[string]any, len(template))
	for k, v := range template {
		if k == batchParam {
			continue
		}
		base[k] = v
	}
	// Resolve non-batch arguments against the first item so shared fields
	// (e.g. campaign id) bind once.
	var first models.Record
	if len(items) > 0 {
		first = items[0]
	}
	base = resolver.ResolveArgs(base, first, resultSets)

	perItem := make([]any, 0, len(items))
	itemTemplate, _ := template[batchParam].(map[string]any)
	for _, item := range items {
		if itemTemplate != nil {
			perItem = append(perItem, resolver.ResolveArgs(itemTemplate, item, resultSets))
		} else {
			perItem = append(perItem, map[string]any(item))
		}
	}

	switch {
	case strings.Contains(toolName, "send_batch_emails"):
		return assembleBatchEmailArgs(base, template, items, resolver, resultSets)
	case strings.Contains(toolName, "batch_upsert"):
		return assembleBatchUpsertArgs(base, batchParam, template, items, resolver, resultSets)
	default:
		base[batchParam] = perItem
		return base
	}
}

// assembleBatchEmailArgs handles the batch-email tool family: recipient,
// cc and bcc lists from every item are concatenated, and template_id is
// coerced to an integer.
func assembleBatchEmailArgs(base map[string]any, template map[string]any, items []models.Record, resolver *Resolver, resultSets map[string][]models.Record) map[string]any {
	var recipients, cc, bcc []any

	for _, item := range items {
		resolved := resolver.ResolveArgs(template, item, resultSets)
		recipients = appendList(recipients, resolved["recipients"])
		cc = appendList(cc, resolved["cc"])
		bcc = appendList(bcc, resolved["bcc"])
	}

	if len(recipients) > 0 {
		base["recipients"] = recipients
	}
	if len(cc) > 0 {
		base["cc"] = cc
	}
	if len(bcc) > 0 {
		base["bcc"] = bcc
	}
	if tid, ok := base["template_id"]; ok {
		base["template_id"] = coerceInt(tid)
	}
	return base
}

// assembleBatchUpsertArgs handles the batch-upsert tool family: the batch
// parameter carries {record_id, fields} pairs, one per item.
func assembleBatchUpsertArgs(base map[string]any, batchParam string, template map[string]any, items []models.Record, resolver *Resolver, resultSets map[string][]models.Record) map[string]any {
	pairs := make([]any, 0, len(items))
	for _, item := range items {
		resolved := resolver.ResolveArgs(template, item, resultSets)

		pair := map[string]any{}
		if rid, ok := resolved["record_id"]; ok {
			pair["record_id"] = rid
		} else if id, ok := item["Id"]; ok {
			pair["record_id"] = models.Stringify(id)
		}
		if fields, ok := resolved["fields"].(map[string]any); ok {
			pair["fields"] = fields
		}
		pairs = append(pairs, pair)
	}
	base[batchParam] = pairs
	return base
}

func appendList(dst []any, v any) []any {
	switch t := v.(type) {
	case []any:
		return append(dst, t...)
	case nil:
		return dst
	default:
		return append(dst, t)
	}
}

// coerceInt converts numeric-ish values (including "3" and 3.0) to int.
func coerceInt(v any) any {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
		return t
	default:
		return v
	}
}

// schemaProperties returns the "properties" object of an input schema.
func schemaProperties(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	props, _ := schema["properties"].(map[string]any)
	return props
}

// isArrayProperty reports whether one schema property is typed as an array.
func isArrayProperty(prop any) bool {
	m, ok := prop.(map[string]any)
	if !ok {
		return false
	}
	if t, ok := m["type"].(string); ok {
		return t == "array"
	}
	// Union types: ["array", "null"]
	if types, ok := m["type"].([]any); ok {
		for _, t := range types {
			if s, ok := t.(string); ok && s == "array" {
				return true
			}
		}
	}
	return false
}
