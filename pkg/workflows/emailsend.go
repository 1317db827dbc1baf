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
	hrefRe          = regexp.MustCompile(`href=['"]?(https?://[^'" >]+)`)
	templateParamRe = regexp.MustCompile(`\{\{\s*params\.([a-zA-Z0-9_]+)\s*\}\}`)
	leadingDigitsRe = regexp.MustCompile(`^(\d+)`)
)

// shortLink is one shortened tracking URL assigned to a contact.
type shortLink struct {
	ShortURL string
	LinkID   string
}

// EmailSend runs the campaign email pipeline: preview the template, discover
// links, shorten them per contact, send the batch, verify delivery and mark
// campaign members as Sent. It is entered when the orchestrator routes to the
// email service with a campaign and contacts already in shared state.
type EmailSend struct {
	runner      *Runner
	senderEmail string
	senderName  string
	logger      *slog.Logger
}

// NewEmailSend creates the email pipeline.
func NewEmailSend(runner *Runner, senderEmail, senderName string, logger *slog.Logger) *EmailSend {
	if senderEmail == "" {
		senderEmail = "marketing@openfunnel.dev"
	}
	if senderName == "" {
		senderName = "Marketing Team"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailSend{runner: runner, senderEmail: senderEmail, senderName: senderName, logger: logger}
}

// Run executes the full pipeline. A preview failure short-circuits; later
// stage failures degrade (the remaining contacts still flow through).
func (w *EmailSend) Run(ctx context.Context, state *models.SessionState) error {
	wctx := map[string]any{}
	state.EmailWorkflowContext = wctx

	if !w.preview(ctx, state, wctx) {
		state.NextAction = ""
		return nil
	}
	w.analyzeLinks(wctx)
	if hasLinks, _ := wctx["has_links"].(bool); hasLinks {
		w.shortenLinks(ctx, state, wctx)
	}
	w.send(ctx, state, wctx)
	w.trackDelivery(ctx, state, wctx)
	w.updateSalesforce(ctx, state, wctx)

	state.NextAction = ""
	return nil
}

// preview validates the campaign/contact context and renders the template.
// Returns false when the pipeline cannot proceed.
func (w *EmailSend) preview(ctx context.Context, state *models.SessionState, wctx map[string]any) bool {
	campaigns := state.SharedResultSets["campaign"]
	if len(campaigns) == 0 {
		campaigns = state.SharedResultSets["campaigns"]
	}
	contacts := state.SharedResultSets["contacts"]

	var campaign models.Record
	if len(campaigns) > 0 {
		campaign = campaigns[0]
	}

	campaignName := "the campaign"
	campaignID := ""
	templateRaw := ""
	if campaign != nil {
		campaignID = campaign.StringField("Id")
		if name := campaign.StringField("Name"); name != "" {
			campaignName = name
		}
		templateRaw = campaign.StringField("Email_template__c")
		if templateRaw == "" {
			templateRaw = campaign.StringField("description")
		}
	}
	templateID := cleanTemplateID(templateRaw)

	fail := func(msg string) bool {
		w.logger.Warn("Email pipeline aborted before preview", "reason", msg)
		state.Error = msg
		state.FinalResponse = msg
		state.WorkflowFailed = true
		if campaignID != "" {
			state.AddCreatedRecord("Campaign", models.CreatedRecord{ID: campaignID, Name: campaignName})
		}
		Record(state, BrevoService, "preview_email", nil, fmt.Errorf("%s", msg), "")
		return false
	}

	if campaign == nil {
		return fail("I couldn't find a campaign to send from. Please select a campaign first.")
	}
	if templateID == 0 {
		return fail(fmt.Sprintf("Campaign '%s' has no email template linked. Please link a Brevo template to the campaign before sending.", campaignName))
	}
	if len(contacts) == 0 {
		return fail(fmt.Sprintf("I couldn't find any contacts to send '%s' to. Please fetch the recipients first.", campaignName))
	}

	first := contacts[0]
	args := map[string]any{
		"template_id": templateID,
		"recipients": []map[string]any{{
			"email": first.StringField("Email"),
			"name":  recipientName(first),
		}},
	}

	result, err := w.runner.Execute(ctx, BrevoService, "preview_email", args)
	Record(state, BrevoService, "preview_email", result, err, fmt.Sprintf("Previewed template %d for campaign %s", templateID, campaignName))
	if err != nil || result.Failed() {
		return fail(fmt.Sprintf("I couldn't render template %d for campaign '%s'. Please check the template in Brevo.", templateID, campaignName))
	}

	wctx["template_id"] = templateID
	wctx["contacts"] = contacts
	wctx["preview_data"] = toolData(result)
	wctx["campaign_id"] = campaignID
	wctx["campaign_name"] = campaignName
	w.logger.Info("Template previewed", "template_id", templateID, "contacts", len(contacts))
	return true
}

// analyzeLinks scans the rendered HTML for outbound links and template
// parameters. Unsubscribe links are never shortened.
func (w *EmailSend) analyzeLinks(wctx map[string]any) {
	html := previewHTML(wctx["preview_data"])

	var urls []string
	seen := map[string]bool{}
	for _, m := range hrefRe.FindAllStringSubmatch(html, -1) {
		url := m[1]
		if strings.Contains(strings.ToLower(url), "unsubscribe") {
			continue
		}
		if !seen[url] {
			seen[url] = true
			urls = append(urls, url)
		}
	}

	var params []string
	seenParam := map[string]bool{}
	for _, m := range templateParamRe.FindAllStringSubmatch(html, -1) {
		if !seenParam[m[1]] {
			seenParam[m[1]] = true
			params = append(params, m[1])
		}
	}

	wctx["has_links"] = len(urls) > 0
	wctx["found_urls"] = urls
	wctx["template_params"] = params
	w.logger.Info("Template analyzed", "links", len(urls), "params", len(params))
}

// shortenLinks generates per-contact tracked short URLs for every link found
// in the template.
func (w *EmailSend) shortenLinks(ctx context.Context, state *models.SessionState, wctx map[string]any) {
	contacts := ctxRecords(wctx, "contacts")
	urls, _ := wctx["found_urls"].([]string)
	if len(contacts) == 0 || len(urls) == 0 {
		return
	}

	var contactPayload []map[string]any
	emailToID := map[string]string{}
	for _, c := range contacts {
		email := strings.ToLower(c.StringField("Email"))
		if email == "" {
			continue
		}
		emailToID[email] = c.StringField("Id")
		contactPayload = append(contactPayload, map[string]any{
			"id":    c.StringField("Id"),
			"email": c.StringField("Email"),
			"name":  recipientName(c),
		})
	}

	args := map[string]any{
		"campaign_id": ctxString(wctx, "campaign_id"),
		"contacts":    contactPayload,
		"urls":        urls,
	}
	result, err := w.runner.Execute(ctx, LinklyService, "generate_uniqueurl", args)
	Record(state, LinklyService, "generate_uniqueurl", result, err,
		fmt.Sprintf("Generated tracked links for %d contacts", len(contactPayload)))
	if err != nil || result.Failed() {
		w.logger.Warn("Link shortening failed, sending with original URLs")
		return
	}

	shortLinksMap := map[string]map[string]shortLink{}
	data := toolData(result)
	results, _ := data["results"].([]any)
	for _, item := range results {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		contact, _ := entry["contact"].(map[string]any)
		email := strings.ToLower(models.Record(contact).StringField("email"))
		contactID := emailToID[email]
		if contactID == "" {
			continue
		}
		links, _ := entry["links"].([]any)
		for _, l := range links {
			link, ok := l.(map[string]any)
			if !ok {
				continue
			}
			rec := models.Record(link)
			if rec.StringField("status") != "success" {
				continue
			}
			if shortLinksMap[contactID] == nil {
				shortLinksMap[contactID] = map[string]shortLink{}
			}
			shortLinksMap[contactID][rec.StringField("original_url")] = shortLink{
				ShortURL: rec.StringField("short_url"),
				LinkID:   rec.StringField("link_id"),
			}
		}
	}
	wctx["short_links_map"] = shortLinksMap
	w.logger.Info("Short links generated", "contacts_covered", len(shortLinksMap))
}

// send assembles per-contact template parameters and dispatches the batch.
func (w *EmailSend) send(ctx context.Context, state *models.SessionState, wctx map[string]any) {
	contacts := ctxRecords(wctx, "contacts")
	if len(contacts) == 0 {
		return
	}
	templateID, _ := wctx["template_id"].(int)
	templateParams, _ := wctx["template_params"].([]string)
	urls, _ := wctx["found_urls"].([]string)
	shortLinksMap, _ := wctx["short_links_map"].(map[string]map[string]shortLink)

	var recipients []map[string]any
	for _, c := range contacts {
		email := c.StringField("Email")
		if email == "" {
			continue
		}
		recipients = append(recipients, map[string]any{
			"email":  email,
			"name":   recipientName(c),
			"params": recipientParams(c, templateParams, urls, shortLinksMap[c.StringField("Id")]),
		})
	}
	if len(recipients) == 0 {
		state.Error = "None of the selected contacts have an email address."
		return
	}

	args := map[string]any{
		"template_id":  templateID,
		"recipients":   recipients,
		"sender_email": w.senderEmail,
		"sender_name":  w.senderName,
	}
	result, err := w.runner.Execute(ctx, BrevoService, "send_batch_emails", args)
	Record(state, BrevoService, "send_batch_emails", result, err,
		fmt.Sprintf("Sent campaign email to %d recipients", len(recipients)))

	sent := map[string]bool{}
	failed := map[string]string{}
	if err != nil || result.Failed() {
		reason := "send failed"
		if err != nil {
			reason = err.Error()
		} else if result != nil {
			reason = result.ErrorMessage()
		}
		for _, r := range recipients {
			failed[strings.ToLower(r["email"].(string))] = reason
		}
		state.Error = "The batch send failed: " + reason
	} else {
		sent, failed = parseSendResponse(toolData(result), recipients)
	}
	wctx["successfully_sent"] = sent
	wctx["failed_sends"] = failed
	w.logger.Info("Batch send finished", "sent", len(sent), "failed", len(failed))
}

// trackDelivery checks the provider's delivery events and demotes bounced
// recipients to failures before Salesforce is updated.
func (w *EmailSend) trackDelivery(ctx context.Context, state *models.SessionState, wctx map[string]any) {
	sent, _ := wctx["successfully_sent"].(map[string]bool)
	failed, _ := wctx["failed_sends"].(map[string]string)
	if len(sent) == 0 {
		return
	}

	emails := make([]string, 0, len(sent))
	for email := range sent {
		emails = append(emails, email)
	}

	result, err := w.runner.Execute(ctx, BrevoService, "track_email_engagement", map[string]any{"emails": emails})
	Record(state, BrevoService, "track_email_engagement", result, err,
		fmt.Sprintf("Checked delivery status for %d recipients", len(emails)))
	if err != nil || result.Failed() {
		w.logger.Warn("Delivery tracking unavailable, assuming all delivered")
		return
	}

	for email, metrics := range engagementByEmail(toolData(result)) {
		bounced, _ := metrics["bounced"].(bool)
		if !bounced {
			continue
		}
		key := strings.ToLower(email)
		if sent[key] {
			delete(sent, key)
			if failed == nil {
				failed = map[string]string{}
			}
			failed[key] = "bounced"
		}
	}
	wctx["successfully_sent"] = sent
	wctx["failed_sends"] = failed
}

// updateSalesforce marks the campaign members whose email went out as Sent,
// attaching their tracked link when one was generated.
func (w *EmailSend) updateSalesforce(ctx context.Context, state *models.SessionState, wctx map[string]any) {
	contacts := ctxRecords(wctx, "contacts")
	sent, _ := wctx["successfully_sent"].(map[string]bool)
	failed, _ := wctx["failed_sends"].(map[string]string)
	urls, _ := wctx["found_urls"].([]string)
	shortLinksMap, _ := wctx["short_links_map"].(map[string]map[string]shortLink)
	campaignID := ctxString(wctx, "campaign_id")
	if len(contacts) == 0 || len(sent) == 0 {
		return
	}

	memberByContact := w.resolveMemberIDs(ctx, state, contacts, campaignID)

	var records []map[string]any
	for _, c := range contacts {
		email := strings.ToLower(c.StringField("Email"))
		if email == "" || !sent[email] {
			continue
		}
		if _, isFailed := failed[email]; isFailed {
			continue
		}
		memberID := memberByContact[c.StringField("Id")]
		if memberID == "" {
			memberID = c.StringField("Id")
		}

		fields := map[string]any{"Status": "Sent"}
		if link, ok := firstShortLink(urls, shortLinksMap[c.StringField("Id")]); ok {
			fields["Link__c"] = link.ShortURL
			if f, err := strconv.ParseFloat(link.LinkID, 64); err == nil {
				fields["LinkId__c"] = f
			}
		}
		records = append(records, map[string]any{"record_id": memberID, "fields": fields})
	}
	if len(records) == 0 {
		return
	}

	args := map[string]any{"object_name": "CampaignMember", "records": records}
	result, err := w.runner.Execute(ctx, SalesforceService, "upsert_salesforce_records", args)
	Record(state, SalesforceService, "upsert_salesforce_records", result, err,
		fmt.Sprintf("Marked %d campaign members as Sent", len(records)))
	if err == nil && result != nil && !result.Failed() {
		wctx["members_updated"] = len(records)
	}
}

// resolveMemberIDs maps contact ids to campaign member ids. Contacts fetched
// through the CampaignMember object already carry both ids; otherwise the
// membership is queried.
func (w *EmailSend) resolveMemberIDs(ctx context.Context, state *models.SessionState, contacts []models.Record, campaignID string) map[string]string {
	members := map[string]string{}

	carriesMemberIDs := false
	for _, c := range contacts {
		if contactID := c.StringField("ContactId"); contactID != "" {
			members[contactID] = c.StringField("Id")
			carriesMemberIDs = true
		}
	}
	if carriesMemberIDs {
		remapped := map[string]string{}
		for contactID, memberID := range members {
			remapped[contactID] = memberID
			// Rows keyed by member id resolve through either id.
			remapped[memberID] = memberID
		}
		return remapped
	}
	if campaignID == "" {
		return members
	}

	query := fmt.Sprintf("SELECT Id, ContactId FROM CampaignMember WHERE CampaignId = '%s'", campaignID)
	result, err := w.runner.Execute(ctx, SalesforceService, "run_dynamic_soql", map[string]any{"query": query})
	Record(state, SalesforceService, "run_dynamic_soql", result, err, "Resolved campaign member ids")
	if err != nil || result.Failed() {
		w.logger.Warn("Campaign member lookup failed, updating contacts directly")
		return members
	}
	for _, row := range mcp.ExtractRows(result) {
		if contactID := row.StringField("ContactId"); contactID != "" {
			members[contactID] = row.StringField("Id")
		}
	}
	return members
}

// recipientParams intersects the template's parameters with the contact's
// fields. Name and FirstName are treated as synonyms and always populated
// when either is known; the LINK parameter carries the contact's first
// tracked URL.
func recipientParams(contact models.Record, templateParams, urls []string, links map[string]shortLink) map[string]any {
	params := map[string]any{}

	lowered := map[string]string{}
	for field := range contact {
		lowered[strings.ToLower(field)] = field
	}

	for _, p := range templateParams {
		if v, ok := contact[p]; ok && v != nil {
			params[p] = v
			continue
		}
		if field, ok := lowered[strings.ToLower(p)]; ok {
			params[p] = contact[field]
			continue
		}
		switch strings.ToLower(p) {
		case "name":
			if v := recipientName(contact); v != "" {
				params[p] = v
			}
		case "firstname", "first_name":
			if v := firstName(contact); v != "" {
				params[p] = v
			}
		}
	}

	if name := recipientName(contact); name != "" {
		if _, ok := params["Name"]; !ok {
			params["Name"] = name
		}
		if _, ok := params["FirstName"]; !ok {
			params["FirstName"] = firstName(contact)
		}
	}

	if link, ok := firstShortLink(urls, links); ok {
		params["LINK"] = link.ShortURL
	}
	return params
}

// firstShortLink returns the contact's short link for the first template URL
// that has one, preserving template order.
func firstShortLink(urls []string, links map[string]shortLink) (shortLink, bool) {
	for _, url := range urls {
		if link, ok := links[url]; ok {
			return link, true
		}
	}
	return shortLink{}, false
}

// parseSendResponse interprets the batch-send response. Providers disagree on
// the response shape, so unknown formats assume everything went out.
func parseSendResponse(data map[string]any, recipients []map[string]any) (map[string]bool, map[string]string) {
	sent := map[string]bool{}
	failed := map[string]string{}

	allSent := func() {
		for _, r := range recipients {
			sent[strings.ToLower(r["email"].(string))] = true
		}
	}

	if data == nil {
		allSent()
		return sent, failed
	}

	successList, hasSuccess := data["success"].([]any)
	failedList, hasFailed := data["failed"].([]any)
	if hasSuccess || hasFailed {
		for _, item := range successList {
			if email, ok := item.(string); ok {
				sent[strings.ToLower(email)] = true
			} else if m, ok := item.(map[string]any); ok {
				sent[strings.ToLower(models.Record(m).StringField("email"))] = true
			}
		}
		for _, item := range failedList {
			if email, ok := item.(string); ok {
				failed[strings.ToLower(email)] = "send failed"
			} else if m, ok := item.(map[string]any); ok {
				rec := models.Record(m)
				reason := rec.StringField("reason")
				if reason == "" {
					reason = "send failed"
				}
				failed[strings.ToLower(rec.StringField("email"))] = reason
			}
		}
		return sent, failed
	}

	if _, ok := data["messageIds"]; ok {
		allSent()
		return sent, failed
	}

	allSent()
	return sent, failed
}

// engagementByEmail flattens the tracking response into per-email metrics.
func engagementByEmail(data map[string]any) map[string]map[string]any {
	out := map[string]map[string]any{}
	if data == nil {
		return out
	}
	if engagement, ok := data["engagement"].(map[string]any); ok {
		for email, v := range engagement {
			if metrics, ok := v.(map[string]any); ok {
				out[email] = metrics
			}
		}
		return out
	}
	if results, ok := data["results"].([]any); ok {
		for _, item := range results {
			metrics, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if email := models.Record(metrics).StringField("email"); email != "" {
				out[email] = metrics
			}
		}
	}
	return out
}

// previewHTML digs the rendered HTML out of the preview response.
func previewHTML(preview any) string {
	data, ok := preview.(map[string]any)
	if !ok {
		return ""
	}
	if html, ok := data["html_content"].(string); ok {
		return html
	}
	if previews, ok := data["previews"].([]any); ok && len(previews) > 0 {
		if first, ok := previews[0].(map[string]any); ok {
			if html, ok := first["html_content"].(string); ok {
				return html
			}
		}
	}
	return ""
}

// cleanTemplateID parses a template id, tolerating dirty values like
// "4 - Welcome Template" by taking the leading digits.
func cleanTemplateID(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if id, err := strconv.Atoi(raw); err == nil {
		return id
	}
	if m := leadingDigitsRe.FindStringSubmatch(raw); m != nil {
		if id, err := strconv.Atoi(m[1]); err == nil {
			return id
		}
	}
	return 0
}

// recipientName picks a display name for a contact.
func recipientName(contact models.Record) string {
	if name := contact.StringField("Name"); name != "" {
		return name
	}
	if name := contact.StringField("FirstName"); name != "" {
		return name
	}
	return "Valued Customer"
}

// firstName derives a first name from the contact's fields.
func firstName(contact models.Record) string {
	if name := contact.StringField("FirstName"); name != "" {
		return name
	}
	if name := contact.StringField("Name"); name != "" {
		return strings.Fields(name)[0]
	}
	return ""
}
