package schema

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openfunnel/maestro/pkg/llm"
)

const (
	objectTopK      = 5
	objectThreshold = 1.5
	fieldTopK       = 15
	fieldThreshold  = 2.0
	fieldCap        = 15
	dateLayout      = "2006-01-02"
)

var readVerbs = []string{"get", "find", "show", "list", "fetch", "search", "query", "view", "check"}

var todayOffsetRe = regexp.MustCompile(`(?i)^today\s*(?:\+\s*(\d+)\s*days?)?$`)

// Builder composes the schema block injected into CRM planning prompts.
type Builder struct {
	catalog  *Catalog
	index    *Index
	embedder llm.Embedder
	logger   *slog.Logger

	adjacency map[string][]string
}

// NewBuilder creates the context builder. The index must already be loaded.
func NewBuilder(catalog *Catalog, index *Index, embedder llm.Embedder, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		catalog:   catalog,
		index:     index,
		embedder:  embedder,
		logger:    logger,
		adjacency: catalog.junctionAdjacency(),
	}
}

// PlanningContext builds the prompt block for one planning pass: the selected
// entities with their relevant fields, plus mandatory defaults.
// primaryHint, when non-empty, pins the primary entity regardless of
// retrieval ranking.
func (b *Builder) PlanningContext(ctx context.Context, query, primaryHint string) (string, error) {
	vectors, err := b.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return "", fmt.Errorf("embed planning query: %w", err)
	}
	queryVec := vectors[0]

	selected := b.selectObjects(queryVec, query, primaryHint)
	if len(selected) == 0 {
		return "", nil
	}
	selected = b.addJunctions(selected)

	fieldsByObject := b.selectFields(selected, queryVec)
	return b.compose(selected, fieldsByObject), nil
}

// AvailableFields implements the field catalog consumed by proposal review
// payloads.
func (b *Builder) AvailableFields(objectName string) []map[string]any {
	obj, ok := b.catalog.Object(objectName)
	if !ok {
		return nil
	}
	fields := make([]map[string]any, 0, len(obj.Fields))
	for _, f := range obj.Fields {
		fields = append(fields, map[string]any{
			"name":  f.Name,
			"label": f.Name,
			"type":  f.Type,
		})
	}
	return fields
}

// selectObjects retrieves candidate entities and orders them primary-first.
func (b *Builder) selectObjects(queryVec []float32, query, primaryHint string) []string {
	matches := b.index.SearchObjects(queryVec, objectTopK)
	if len(matches) == 0 {
		return nil
	}
	var kept []string
	for _, m := range matches {
		if m.Distance < objectThreshold {
			kept = append(kept, m.Name)
		}
	}

	var primary string
	switch {
	case primaryHint != "":
		if obj, ok := b.catalog.Object(primaryHint); ok {
			primary = obj.Name
		}
	case hasReadVerb(query):
		// Read requests stay within the relevance threshold; nothing close
		// enough means no schema block at all.
	default:
		// Mutating requests always get the top semantic match, threshold
		// or not, so a create never plans without a target object.
		primary = matches[0].Name
	}
	if primary == "" {
		if len(kept) == 0 {
			return nil
		}
		primary = kept[0]
	}

	ordered := []string{primary}
	for _, name := range kept {
		if name != primary {
			ordered = append(ordered, name)
		}
	}
	return ordered
}

// addJunctions appends any junction entity connecting two or more of the
// selected objects.
func (b *Builder) addJunctions(selected []string) []string {
	selectedSet := map[string]bool{}
	for _, name := range selected {
		selectedSet[name] = true
	}
	for junction, connects := range b.adjacency {
		if selectedSet[junction] {
			continue
		}
		count := 0
		for _, target := range connects {
			if selectedSet[target] {
				count++
			}
		}
		if count >= 2 {
			selected = append(selected, junction)
			selectedSet[junction] = true
			b.logger.Debug("Junction entity added", "entity", junction)
		}
	}
	return selected
}

// selectFields retrieves the relevant fields for each selected object
// concurrently.
func (b *Builder) selectFields(selected []string, queryVec []float32) map[string][]string {
	results := make([]([]string), len(selected))
	var wg sync.WaitGroup
	for i, name := range selected {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = b.fieldsForObject(name, queryVec)
		}(i, name)
	}
	wg.Wait()

	byObject := make(map[string][]string, len(selected))
	for i, name := range selected {
		byObject[name] = results[i]
	}
	return byObject
}

// fieldsForObject ranks an object's fields against the query: Id, Name and
// the top hit always included, then further hits under the distance
// threshold up to the cap, then the hard-coded common fields.
func (b *Builder) fieldsForObject(objectName string, queryVec []float32) []string {
	obj, ok := b.catalog.Object(objectName)
	if !ok {
		return nil
	}

	matches := b.index.SearchFields(obj.Name, queryVec, fieldTopK)

	var fields []string
	seen := map[string]bool{}
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		fields = append(fields, name)
	}

	if _, ok := obj.Field("Id"); ok {
		add("Id")
	}
	if _, ok := obj.Field("Name"); ok {
		add("Name")
	}
	for i, m := range matches {
		if i == 0 {
			add(m.Name)
			continue
		}
		if len(fields) >= fieldCap {
			break
		}
		if m.Distance < fieldThreshold {
			add(m.Name)
		}
	}
	for _, name := range CommonFields(obj.Name) {
		if _, ok := obj.Field(name); ok {
			add(name)
		}
	}
	return fields
}

// compose renders the prompt block.
func (b *Builder) compose(selected []string, fieldsByObject map[string][]string) string {
	var sb strings.Builder
	sb.WriteString("AVAILABLE SALESFORCE SCHEMA (use ONLY these objects and fields):\n\n")

	for _, name := range selected {
		obj, ok := b.catalog.Object(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "Object: %s", obj.Name)
		if obj.Description != "" {
			fmt.Fprintf(&sb, " - %s", obj.Description)
		}
		sb.WriteString("\n")
		for _, fieldName := range fieldsByObject[name] {
			f, ok := obj.Field(fieldName)
			if !ok {
				continue
			}
			fmt.Fprintf(&sb, "  - %s (%s)", f.Name, f.Type)
			if f.Description != "" {
				fmt.Fprintf(&sb, ": %s", f.Description)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	defaults := b.mandatoryDefaults(selected)
	if len(defaults) > 0 {
		sb.WriteString("MANDATORY DEFAULTS (set these fields when creating records):\n")
		for _, d := range defaults {
			sb.WriteString("  " + d + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// mandatoryDefaults lists the needvalue fields of the selected objects with
// their default expressions evaluated at prompt-build time.
func (b *Builder) mandatoryDefaults(selected []string) []string {
	var defaults []string
	for _, name := range selected {
		obj, ok := b.catalog.Object(name)
		if !ok {
			continue
		}
		for _, f := range obj.Fields {
			if !f.NeedValue {
				continue
			}
			value := EvaluateDefault(f.Default, time.Now())
			if value == "" {
				defaults = append(defaults, fmt.Sprintf("%s.%s is required", obj.Name, f.Name))
			} else {
				defaults = append(defaults, fmt.Sprintf("%s.%s = %s", obj.Name, f.Name, value))
			}
		}
	}
	sort.Strings(defaults)
	return defaults
}

// EvaluateDefault resolves a default expression. "today" and
// "today + N days" evaluate to dates; anything else passes through.
func EvaluateDefault(expr string, now time.Time) string {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return ""
	}
	m := todayOffsetRe.FindStringSubmatch(expr)
	if m == nil {
		return expr
	}
	days := 0
	if m[1] != "" {
		days, _ = strconv.Atoi(m[1])
	}
	return now.AddDate(0, 0, days).Format(dateLayout)
}

func hasReadVerb(query string) bool {
	lowered := strings.ToLower(query)
	for _, verb := range readVerbs {
		if strings.Contains(lowered, verb) {
			return true
		}
	}
	return false
}
