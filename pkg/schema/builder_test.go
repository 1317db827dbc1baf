package schema

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queryEmbedder answers every embed request with one fixed vector.
type queryEmbedder struct {
	vector []float32
	err    error
}

func (e *queryEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vector
	}
	return out, nil
}

func (e *queryEmbedder) Dimension() int { return len(e.vector) }

// seededIndex builds an in-memory index without a database.
func seededIndex() *Index {
	return &Index{
		objects: []vectorEntry{
			{name: "Campaign", vector: []float32{1, 0}},
			{name: "Contact", vector: []float32{0.5, 0.5}},
			{name: "CampaignMember", vector: []float32{4, 4}},
		},
		fields: map[string][]vectorEntry{
			"Campaign": {
				{name: "Status", vector: []float32{1, 0}},
				{name: "StartDate", vector: []float32{1.2, 0}},
				{name: "Email_template__c", vector: []float32{6, 6}},
			},
			"Contact": {
				{name: "Email", vector: []float32{1, 0}},
				{name: "Phone", vector: []float32{7, 7}},
			},
			"CampaignMember": {
				{name: "Status", vector: []float32{1, 0}},
			},
		},
	}
}

func testBuilder(embedder *queryEmbedder) *Builder {
	return NewBuilder(NewCatalog(testObjects()), seededIndex(), embedder, nil)
}

func TestPlanningContext(t *testing.T) {
	b := testBuilder(&queryEmbedder{vector: []float32{1, 0}})

	block, err := b.PlanningContext(context.Background(), "find contacts for the spring campaign", "")
	require.NoError(t, err)

	t.Run("entities within threshold selected", func(t *testing.T) {
		assert.Contains(t, block, "Object: Campaign - A marketing campaign")
		assert.Contains(t, block, "Object: Contact - A person")
	})

	t.Run("junction entity pulled in", func(t *testing.T) {
		// CampaignMember is out of retrieval range but connects the two
		// selected entities.
		assert.Contains(t, block, "Object: CampaignMember")
	})

	t.Run("identity and relevant fields listed", func(t *testing.T) {
		assert.Contains(t, block, "- Id (id)")
		assert.Contains(t, block, "- Status (picklist)")
		assert.Contains(t, block, "- Email (email): Primary email address")
		// Far fields still arrive through the common-field union.
		assert.Contains(t, block, "- Email_template__c (picklist)")
	})

	t.Run("mandatory defaults evaluated", func(t *testing.T) {
		assert.Contains(t, block, "MANDATORY DEFAULTS")
		assert.Contains(t, block, "Campaign.Status = Planned")
		assert.Contains(t, block, "Campaign.StartDate = "+time.Now().Format(dateLayout))
		assert.Contains(t, block, "Campaign.EndDate = "+time.Now().AddDate(0, 0, 30).Format(dateLayout))
	})
}

func TestPlanningContextPrimaryHint(t *testing.T) {
	b := testBuilder(&queryEmbedder{vector: []float32{1, 0}})

	block, err := b.PlanningContext(context.Background(), "update the record", "contact")
	require.NoError(t, err)

	// The hint pins Contact as the primary entity despite Campaign ranking
	// first; hint casing is normalized through the catalog.
	contactAt := strings.Index(block, "Object: Contact")
	campaignAt := strings.Index(block, "Object: Campaign")
	require.GreaterOrEqual(t, contactAt, 0)
	require.GreaterOrEqual(t, campaignAt, 0)
	assert.Less(t, contactAt, campaignAt)
}

func TestPlanningContextNoMatches(t *testing.T) {
	b := testBuilder(&queryEmbedder{vector: []float32{100, 100}})

	block, err := b.PlanningContext(context.Background(), "find something unrelated", "")
	require.NoError(t, err)
	assert.Empty(t, block)
}

func TestPlanningContextMutatingFallback(t *testing.T) {
	// No object is within the relevance threshold, but a create still gets
	// the top semantic match as its target.
	b := testBuilder(&queryEmbedder{vector: []float32{6, 6}})

	block, err := b.PlanningContext(context.Background(), "create a member for the spring push", "")
	require.NoError(t, err)
	assert.Contains(t, block, "Object: CampaignMember")
	assert.NotContains(t, block, "Object: Contact")
}

func TestPlanningContextEmbedFailure(t *testing.T) {
	b := testBuilder(&queryEmbedder{err: errors.New("quota exceeded")})

	_, err := b.PlanningContext(context.Background(), "anything", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed planning query")
}

func TestAvailableFields(t *testing.T) {
	b := testBuilder(&queryEmbedder{vector: []float32{1, 0}})

	fields := b.AvailableFields("Contact")
	require.Len(t, fields, 4)
	assert.Equal(t, "Id", fields[0]["name"])
	assert.Equal(t, "email", fields[2]["type"])

	assert.Nil(t, b.AvailableFields("Invoice"))
}

func TestEvaluateDefault(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "2026-08-26", EvaluateDefault("today", now))
	assert.Equal(t, "2026-09-25", EvaluateDefault("today + 30 days", now))
	assert.Equal(t, "2026-08-27", EvaluateDefault("Today + 1 day", now))
	assert.Equal(t, "Planned", EvaluateDefault("Planned", now))
	assert.Equal(t, "", EvaluateDefault("  ", now))
}

func TestHasReadVerb(t *testing.T) {
	assert.True(t, hasReadVerb("Find all contacts"))
	assert.True(t, hasReadVerb("please CHECK the status"))
	assert.False(t, hasReadVerb("create a campaign"))
}
