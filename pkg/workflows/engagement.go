package workflows

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/openfunnel/maestro/pkg/mcp"
	"github.com/openfunnel/maestro/pkg/models"
)

var (
	campaignIDRe   = regexp.MustCompile(`\b701[a-zA-Z0-9]{12,15}\b`)
	campaignNameRe = regexp.MustCompile(`campaign\s+["'](.+?)["']`)
)

// clickedMember is one campaign member with at least one recorded click.
type clickedMember struct {
	MemberID   string `json:"member_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	LinkID     string `json:"link_id"`
	ClickCount int    `json:"click_count"`
}

// Engagement checks tracked-link clicks for a campaign and promotes the
// members who clicked to Responded.
type Engagement struct {
	runner *Runner
	logger *slog.Logger
}

// NewEngagement creates the engagement pipeline.
func NewEngagement(runner *Runner, logger *slog.Logger) *Engagement {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engagement{runner: runner, logger: logger}
}

// Run resolves the campaign, fetches its members, queries clicks, updates
// Salesforce and appends the summary to the conversation.
func (w *Engagement) Run(ctx context.Context, state *models.SessionState) error {
	wctx := map[string]any{}
	state.EngagementWorkflowContext = wctx

	campaignID, campaignName := w.resolveCampaign(ctx, state)
	if campaignID == "" {
		state.FinalResponse = "I couldn't figure out which campaign to check. Please mention the campaign name or id."
		state.NextAction = ""
		return nil
	}
	wctx["campaign_id"] = campaignID
	wctx["campaign_name"] = campaignName

	members := w.fetchMembers(ctx, state, campaignID)
	clicked := w.trackClicks(ctx, state, wctx, campaignID, members)
	updated, already := w.updateMembers(ctx, state, wctx, members, clicked)
	w.summarize(state, wctx, clicked, updated, already)

	state.NextAction = ""
	return nil
}

// resolveCampaign finds the campaign id from, in order: an explicit 701 id in
// the request, the campaign already in shared state, or a name lookup.
func (w *Engagement) resolveCampaign(ctx context.Context, state *models.SessionState) (string, string) {
	goal := state.UserGoal

	if id := campaignIDRe.FindString(goal); id != "" {
		return id, ""
	}

	if strings.Contains(strings.ToLower(goal), "this campaign") || campaignNameRe.FindStringSubmatch(goal) == nil {
		for _, key := range []string{"campaign", "campaigns"} {
			if rows := state.SharedResultSets[key]; len(rows) > 0 {
				if id := rows[0].StringField("Id"); id != "" {
					return id, rows[0].StringField("Name")
				}
			}
		}
	}

	m := campaignNameRe.FindStringSubmatch(goal)
	if m == nil {
		return "", ""
	}
	query := fmt.Sprintf("SELECT Id, Name FROM Campaign WHERE Name LIKE '%%%s%%' LIMIT 1", m[1])
	result, err := w.runner.Execute(ctx, SalesforceService, "run_dynamic_soql", map[string]any{"query": query})
	Record(state, SalesforceService, "run_dynamic_soql", result, err, "Looked up campaign by name")
	if err != nil || result.Failed() {
		return "", ""
	}
	rows := mcp.ExtractRows(result)
	if len(rows) == 0 {
		return "", ""
	}
	state.PublishResultSets(map[string][]models.Record{"campaign": rows})
	return rows[0].StringField("Id"), rows[0].StringField("Name")
}

// fetchMembers loads the campaign's members with their tracked link ids.
func (w *Engagement) fetchMembers(ctx context.Context, state *models.SessionState, campaignID string) []models.Record {
	query := fmt.Sprintf(
		"SELECT Id, ContactId, Contact.Name, Contact.Email, LinkId__c, Status FROM CampaignMember WHERE CampaignId = '%s'",
		campaignID)
	result, err := w.runner.Execute(ctx, SalesforceService, "run_dynamic_soql", map[string]any{"query": query})
	Record(state, SalesforceService, "run_dynamic_soql", result, err, "Fetched campaign members")
	if err != nil || result.Failed() {
		w.logger.Warn("Campaign member fetch failed", "campaign_id", campaignID)
		return nil
	}
	rows := mcp.ExtractRows(result)
	if len(rows) > 0 {
		state.PublishResultSets(map[string][]models.Record{"campaign_members": rows})
	}
	return rows
}

// trackClicks queries the link tracker and joins click counts back onto
// members by their link id.
func (w *Engagement) trackClicks(ctx context.Context, state *models.SessionState, wctx map[string]any, campaignID string, members []models.Record) []clickedMember {
	linkIDs := memberLinkIDs(members)

	args := map[string]any{}
	if len(linkIDs) > 0 {
		ints := make([]int, 0, len(linkIDs))
		for _, id := range linkIDs {
			if n, err := strconv.Atoi(id); err == nil {
				ints = append(ints, n)
			}
		}
		args["link_ids"] = ints
	} else {
		args["campaign_id"] = campaignID
	}

	result, err := w.runner.Execute(ctx, LinklyService, "track_link_clicks", args)
	Record(state, LinklyService, "track_link_clicks", result, err, "Queried link clicks")
	if err != nil || result.Failed() {
		wctx["error"] = "The click tracker was unreachable."
		return nil
	}

	data := toolData(result)
	if status := models.Record(data).StringField("status"); status == "no_clicks" {
		wctx["total_clicks_found"] = 0
		return nil
	}
	clicksPerLink := clickCounts(data)

	var clicked []clickedMember
	total := 0
	for _, member := range members {
		linkID := normalizeLinkID(member.StringField("LinkId__c"))
		if linkID == "" {
			continue
		}
		count := clicksPerLink[linkID]
		if count <= 0 {
			continue
		}
		total += count
		clicked = append(clicked, clickedMember{
			MemberID:   member.StringField("Id"),
			Email:      memberEmail(member),
			Name:       memberName(member),
			Status:     member.StringField("Status"),
			LinkID:     linkID,
			ClickCount: count,
		})
	}

	wctx["total_clicks_found"] = total
	wctx["members_who_clicked"] = clicked
	w.logger.Info("Click tracking complete", "clicks", total, "members", len(clicked))
	return clicked
}

// updateMembers sets Status=Responded for the clickers that are not already
// responded. Returns the updated and already-responded groups.
func (w *Engagement) updateMembers(ctx context.Context, state *models.SessionState, wctx map[string]any, members []models.Record, clicked []clickedMember) ([]clickedMember, []clickedMember) {
	var toUpdate, already []clickedMember
	for _, c := range clicked {
		if strings.EqualFold(c.Status, "Responded") {
			already = append(already, c)
		} else {
			toUpdate = append(toUpdate, c)
		}
	}
	if len(toUpdate) == 0 {
		wctx["updated_count"] = 0
		return nil, already
	}

	records := make([]map[string]any, 0, len(toUpdate))
	for _, c := range toUpdate {
		records = append(records, map[string]any{
			"record_id": c.MemberID,
			"fields":    map[string]any{"Status": "Responded"},
		})
	}
	args := map[string]any{"object_name": "CampaignMember", "records": records}
	result, err := w.runner.Execute(ctx, SalesforceService, "upsert_salesforce_records", args)
	Record(state, SalesforceService, "upsert_salesforce_records", result, err,
		fmt.Sprintf("Marked %d members as Responded", len(records)))
	if err != nil || result.Failed() {
		wctx["update_error"] = "I couldn't update the member statuses in Salesforce."
		return nil, already
	}

	wctx["updated_count"] = len(toUpdate)
	wctx["update_summary"] = fmt.Sprintf("Updated %d campaign member(s) to Responded.", len(toUpdate))
	return toUpdate, already
}

// summarize appends the human-readable result to the conversation; the
// completion node forwards it verbatim.
func (w *Engagement) summarize(state *models.SessionState, wctx map[string]any, clicked, updated, already []clickedMember) {
	var b strings.Builder
	total, _ := wctx["total_clicks_found"].(int)

	if total > 0 && len(clicked) > 0 {
		fmt.Fprintf(&b, "Good news! I found %d click(s) for this campaign.\n\n", total)
		if len(updated) > 0 {
			b.WriteString("I've marked these members as Responded:\n")
			for _, c := range updated {
				fmt.Fprintf(&b, "• [%s](/%s)\n", c.Name, c.MemberID)
			}
		}
		if len(already) > 0 {
			if len(updated) > 0 {
				b.WriteString("\n")
			}
			b.WriteString("These members had already responded:\n")
			for _, c := range already {
				fmt.Fprintf(&b, "• [%s](/%s)\n", c.Name, c.MemberID)
			}
		}
	} else {
		b.WriteString("I checked for engagement, but I didn't find any clicks for this campaign yet.")
	}

	if msg := ctxString(wctx, "error"); msg != "" {
		b.WriteString("\n\n" + msg)
	}
	if msg := ctxString(wctx, "update_error"); msg != "" {
		b.WriteString("\n\n" + msg)
	}

	// The completion node lifts this message into final_response; setting
	// it here too would append it twice.
	state.AppendMessage(models.RoleAssistant, b.String())
}

// memberLinkIDs collects the distinct tracked link ids over the members.
func memberLinkIDs(members []models.Record) []string {
	seen := map[string]bool{}
	var ids []string
	for _, m := range members {
		id := normalizeLinkID(m.StringField("LinkId__c"))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// normalizeLinkID strips the float rendering Salesforce applies to numeric
// custom fields ("12345.0" becomes "12345").
func normalizeLinkID(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, ".0")
	if raw == "" || raw == "0" {
		return ""
	}
	return raw
}

// clickCounts flattens the tracker response into link id to click count.
func clickCounts(data map[string]any) map[string]int {
	counts := map[string]int{}
	if data == nil {
		return counts
	}

	if perLink, ok := data["clicks_per_link"].(map[string]any); ok {
		for id, v := range perLink {
			counts[normalizeLinkID(id)] = toInt(v)
		}
		return counts
	}
	if results, ok := data["results"].([]any); ok {
		for _, item := range results {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			rec := models.Record(m)
			id := normalizeLinkID(rec.StringField("link_id"))
			if id != "" {
				counts[id] = toInt(m["clicks"])
			}
		}
	}
	return counts
}

func toInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSuffix(t, ".0")); err == nil {
			return n
		}
	}
	return 0
}

// memberEmail reads the related contact's email from a flattened or nested
// SOQL row.
func memberEmail(member models.Record) string {
	if email := member.StringField("Contact.Email"); email != "" {
		return email
	}
	if contact, ok := member["Contact"].(map[string]any); ok {
		return models.Record(contact).StringField("Email")
	}
	return member.StringField("Email")
}

// memberName reads the related contact's name from a flattened or nested
// SOQL row.
func memberName(member models.Record) string {
	if name := member.StringField("Contact.Name"); name != "" {
		return name
	}
	if contact, ok := member["Contact"].(map[string]any); ok {
		if name := models.Record(contact).StringField("Name"); name != "" {
			return name
		}
	}
	if name := member.StringField("Name"); name != "" {
		return name
	}
	return member.StringField("Id")
}
