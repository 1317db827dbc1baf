package workflows

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfunnel/maestro/pkg/mcp"
	"github.com/openfunnel/maestro/pkg/models"
)

func engagementOpener() *fakeOpener {
	return &fakeOpener{handler: func(_, tool string, args map[string]any) (*mcp.CallResult, error) {
		switch tool {
		case "run_dynamic_soql":
			return textResult(`{"records": [
				{"Id": "00vA", "ContactId": "003A", "Contact": {"Name": "Ada Lovelace", "Email": "ada@example.com"}, "LinkId__c": "555.0", "Status": "Sent"},
				{"Id": "00vB", "ContactId": "003B", "Contact": {"Name": "Grace Hopper", "Email": "grace@example.com"}, "LinkId__c": "556.0", "Status": "Responded"},
				{"Id": "00vC", "ContactId": "003C", "Contact": {"Name": "Alan Turing", "Email": "alan@example.com"}, "LinkId__c": "557.0", "Status": "Sent"}
			]}`), nil
		case "track_link_clicks":
			return textResult(`{"clicks_per_link": {"555": 2, "556": 1, "557": 0}}`), nil
		case "upsert_salesforce_records":
			return textResult(`{"status": "success"}`), nil
		default:
			return textResult(`{"status": "error", "message": "unexpected tool"}`), nil
		}
	}}
}

func TestEngagementRun(t *testing.T) {
	opener := engagementOpener()
	w := NewEngagement(NewRunner(opener, nil), nil)
	state := models.NewSessionState(15)
	state.BeginTurn("check clicks for campaign 701XX00000001AAA")

	require.NoError(t, w.Run(context.Background(), state))
	wctx := state.EngagementWorkflowContext

	t.Run("members fetched and published", func(t *testing.T) {
		soql := opener.callsTo("run_dynamic_soql")
		require.Len(t, soql, 1)
		assert.Contains(t, soql[0].Args["query"], "CampaignId = '701XX00000001AAA'")
		assert.Len(t, state.SharedResultSets["campaign_members"], 3)
	})

	t.Run("clicks queried by link id", func(t *testing.T) {
		tracks := opener.callsTo("track_link_clicks")
		require.Len(t, tracks, 1)
		assert.Equal(t, []int{555, 556, 557}, tracks[0].Args["link_ids"])
	})

	t.Run("clickers joined and totalled", func(t *testing.T) {
		assert.Equal(t, 3, wctx["total_clicks_found"])
		clicked := wctx["members_who_clicked"].([]clickedMember)
		require.Len(t, clicked, 2)
		assert.Equal(t, "Ada Lovelace", clicked[0].Name)
		assert.Equal(t, 2, clicked[0].ClickCount)
	})

	t.Run("only new clickers promoted to Responded", func(t *testing.T) {
		upserts := opener.callsTo("upsert_salesforce_records")
		require.Len(t, upserts, 1)
		records := upserts[0].Args["records"].([]map[string]any)
		require.Len(t, records, 1)
		assert.Equal(t, "00vA", records[0]["record_id"])
		assert.Equal(t, 1, wctx["updated_count"])
		assert.Equal(t, "Updated 1 campaign member(s) to Responded.", wctx["update_summary"])
	})

	t.Run("summary appended for the completion node", func(t *testing.T) {
		require.NotEmpty(t, state.Messages)
		last := state.Messages[len(state.Messages)-1]
		assert.Equal(t, models.RoleAssistant, last.Role)
		assert.Contains(t, last.Content, "Good news! I found 3 click(s)")
		assert.Contains(t, last.Content, "[Ada Lovelace](/00vA)")
		assert.Contains(t, last.Content, "already responded")
		assert.Contains(t, last.Content, "[Grace Hopper](/00vB)")
		// final_response stays empty; the completion node lifts the message.
		assert.Empty(t, state.FinalResponse)
	})
}

func TestEngagementCampaignResolution(t *testing.T) {
	t.Run("campaign from shared state", func(t *testing.T) {
		opener := engagementOpener()
		w := NewEngagement(NewRunner(opener, nil), nil)
		state := models.NewSessionState(15)
		state.BeginTurn("track engagement for this campaign")
		state.SharedResultSets["campaign"] = []models.Record{{"Id": "701YY00000002BBB", "Name": "Summer Launch"}}

		require.NoError(t, w.Run(context.Background(), state))
		assert.Equal(t, "701YY00000002BBB", state.EngagementWorkflowContext["campaign_id"])
		assert.Equal(t, "Summer Launch", state.EngagementWorkflowContext["campaign_name"])
	})

	t.Run("campaign by name lookup", func(t *testing.T) {
		opener := engagementOpener()
		base := opener.handler
		lookedUp := false
		opener.handler = func(service, tool string, args map[string]any) (*mcp.CallResult, error) {
			if tool == "run_dynamic_soql" && !lookedUp {
				lookedUp = true
				query := args["query"].(string)
				assert.Contains(t, query, "Name LIKE '%Spring Launch%'")
				return textResult(`{"records": [{"Id": "701ZZ00000003CCC", "Name": "Spring Launch"}]}`), nil
			}
			return base(service, tool, args)
		}
		w := NewEngagement(NewRunner(opener, nil), nil)
		state := models.NewSessionState(15)
		state.BeginTurn(`find interested members of campaign "Spring Launch"`)

		require.NoError(t, w.Run(context.Background(), state))
		assert.Equal(t, "701ZZ00000003CCC", state.EngagementWorkflowContext["campaign_id"])
		// The resolved campaign is published for later turns.
		require.Len(t, state.SharedResultSets["campaign"], 1)
	})

	t.Run("unresolvable campaign", func(t *testing.T) {
		opener := engagementOpener()
		w := NewEngagement(NewRunner(opener, nil), nil)
		state := models.NewSessionState(15)
		state.BeginTurn("check clicks")

		require.NoError(t, w.Run(context.Background(), state))
		assert.Contains(t, state.FinalResponse, "couldn't figure out which campaign")
		assert.Empty(t, opener.callsTo("track_link_clicks"))
	})
}

func TestEngagementNoClicks(t *testing.T) {
	opener := engagementOpener()
	base := opener.handler
	opener.handler = func(service, tool string, args map[string]any) (*mcp.CallResult, error) {
		if tool == "track_link_clicks" {
			return textResult(`{"status": "no_clicks"}`), nil
		}
		return base(service, tool, args)
	}
	w := NewEngagement(NewRunner(opener, nil), nil)
	state := models.NewSessionState(15)
	state.BeginTurn("check clicks for campaign 701XX00000001AAA")

	require.NoError(t, w.Run(context.Background(), state))

	assert.Equal(t, 0, state.EngagementWorkflowContext["total_clicks_found"])
	assert.Empty(t, opener.callsTo("upsert_salesforce_records"))
	last := state.Messages[len(state.Messages)-1]
	assert.Contains(t, last.Content, "didn't find any clicks")
}

func TestEngagementTrackerOutage(t *testing.T) {
	opener := engagementOpener()
	base := opener.handler
	opener.handler = func(service, tool string, args map[string]any) (*mcp.CallResult, error) {
		if tool == "track_link_clicks" {
			return textResult(`{"status": "error", "message": "connection refused"}`), nil
		}
		return base(service, tool, args)
	}
	w := NewEngagement(NewRunner(opener, nil), nil)
	state := models.NewSessionState(15)
	state.BeginTurn("check clicks for campaign 701XX00000001AAA")

	require.NoError(t, w.Run(context.Background(), state))
	last := state.Messages[len(state.Messages)-1]
	assert.Contains(t, last.Content, "The click tracker was unreachable.")
}

func TestNormalizeLinkID(t *testing.T) {
	assert.Equal(t, "555", normalizeLinkID("555.0"))
	assert.Equal(t, "555", normalizeLinkID("555"))
	assert.Equal(t, "", normalizeLinkID("0"))
	assert.Equal(t, "", normalizeLinkID(""))
	assert.Equal(t, "", normalizeLinkID(" 0 "))
}

func TestClickCounts(t *testing.T) {
	t.Run("clicks_per_link map", func(t *testing.T) {
		counts := clickCounts(map[string]any{
			"clicks_per_link": map[string]any{"555.0": float64(2)},
		})
		assert.Equal(t, 2, counts["555"])
	})

	t.Run("results list", func(t *testing.T) {
		counts := clickCounts(map[string]any{
			"results": []any{
				map[string]any{"link_id": "556", "clicks": float64(3)},
			},
		})
		assert.Equal(t, 3, counts["556"])
	})

	t.Run("nil", func(t *testing.T) {
		assert.Empty(t, clickCounts(nil))
	})
}
