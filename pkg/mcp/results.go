package mcp

import (
	"encoding/json"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/openfunnel/maestro/pkg/models"
)

// CallResult is a normalized tool response: the ordered text parts, the
// structured content when present, and the transport-level error flag.
type CallResult struct {
	TextParts  []string
	Structured map[string]any
	IsError    bool
}

// normalizeResult flattens an SDK result into a CallResult.
func normalizeResult(raw *mcpsdk.CallToolResult) *CallResult {
	result := &CallResult{IsError: raw.IsError}
	for _, content := range raw.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			result.TextParts = append(result.TextParts, tc.Text)
		}
	}
	if raw.StructuredContent != nil {
		if m, ok := raw.StructuredContent.(map[string]any); ok {
			result.Structured = m
		} else if data, err := json.Marshal(raw.StructuredContent); err == nil {
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				result.Structured = m
			}
		}
	}
	return result
}

// Text returns the concatenated text parts.
func (r *CallResult) Text() string {
	return strings.Join(r.TextParts, " | ")
}

// Failed reports whether the call failed: either the explicit error flag, or
// any text part parsing as a JSON object with status == "error". Services
// sometimes report failures in-band without raising the flag.
func (r *CallResult) Failed() bool {
	if r.IsError {
		return true
	}
	for _, part := range r.TextParts {
		var obj map[string]any
		if err := json.Unmarshal([]byte(part), &obj); err != nil {
			continue
		}
		if status, _ := obj["status"].(string); status == "error" {
			return true
		}
	}
	return false
}

// ErrorMessage extracts the most useful error text from a failed result.
func (r *CallResult) ErrorMessage() string {
	for _, part := range r.TextParts {
		var obj map[string]any
		if err := json.Unmarshal([]byte(part), &obj); err != nil {
			continue
		}
		for _, key := range []string{"message", "error", "detail"} {
			if msg, ok := obj[key].(string); ok && msg != "" {
				return msg
			}
		}
	}
	return r.Text()
}

// ExtractRows pulls a sequence of records out of a tool response. The
// extraction is intentionally duck-typed; tools wrap their rows in several
// envelope shapes. Tries, in order:
//
//  1. Each text part parsed as a JSON object: "records", "result.records",
//     "result" (list), "data" (list); or a single object carrying "id" and
//     no "records", normalized to one record with Id set.
//  2. Each text part parsed as a JSON list: the list itself.
//  3. The structured content object: "records", "result", "data", "rows".
//
// Returns nil when no rows are recognizable.
func ExtractRows(r *CallResult) []models.Record {
	if r == nil {
		return nil
	}

	for _, part := range r.TextParts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			if rows := rowsFromEnvelope(obj); rows != nil {
				return rows
			}
			if single := singleRecord(obj); single != nil {
				return []models.Record{single}
			}
			continue
		}

		var list []any
		if err := json.Unmarshal([]byte(trimmed), &list); err == nil {
			if rows := toRecords(list); rows != nil {
				return rows
			}
		}
	}

	if r.Structured != nil {
		if rows := rowsFromEnvelope(r.Structured); rows != nil {
			return rows
		}
		if rows, ok := r.Structured["rows"].([]any); ok {
			return toRecords(rows)
		}
	}
	return nil
}

// rowsFromEnvelope tries the common envelope keys on a parsed object.
func rowsFromEnvelope(obj map[string]any) []models.Record {
	if records, ok := obj["records"].([]any); ok {
		return toRecords(records)
	}
	if result, ok := obj["result"].(map[string]any); ok {
		if records, ok := result["records"].([]any); ok {
			return toRecords(records)
		}
	}
	if result, ok := obj["result"].([]any); ok {
		return toRecords(result)
	}
	if data, ok := obj["data"].([]any); ok {
		return toRecords(data)
	}
	return nil
}

// singleRecord treats an object with an "id" and no "records" as one row,
// normalizing the id key to the stable "Id" spelling.
func singleRecord(obj map[string]any) models.Record {
	if _, hasRecords := obj["records"]; hasRecords {
		return nil
	}
	id, hasID := obj["id"]
	if !hasID {
		if _, hasUpper := obj["Id"]; hasUpper {
			return models.Record(obj)
		}
		return nil
	}
	rec := make(models.Record, len(obj)+1)
	for k, v := range obj {
		rec[k] = v
	}
	rec["Id"] = id
	return rec
}

// toRecords converts a JSON list into records, skipping non-object items.
// Returns nil for an empty conversion so callers can fall through.
func toRecords(list []any) []models.Record {
	records := make([]models.Record, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			records = append(records, models.Record(m))
		}
	}
	if len(records) == 0 {
		return nil
	}
	return records
}

// ExtractJSONResponse pulls the "json_response" envelope some planner tools
// wrap their payload in. Returns the inner object and true when found.
func ExtractJSONResponse(r *CallResult) (map[string]any, bool) {
	if r == nil {
		return nil, false
	}
	for _, part := range r.TextParts {
		var obj map[string]any
		if err := json.Unmarshal([]byte(part), &obj); err != nil {
			continue
		}
		if inner, ok := obj["json_response"].(map[string]any); ok {
			return inner, true
		}
	}
	return nil, false
}
