package schema

// DefaultCatalog returns the built-in schema metadata used when no catalog
// file is configured. It covers the standard marketing objects plus the
// custom email-tracking fields.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Object{
		{
			Name:        "Campaign",
			Description: "A marketing campaign: an outreach initiative with a start and end date, a status, and an optional linked email template.",
			Fields: []Field{
				{Name: "Id", Type: "id", Description: "Unique campaign identifier"},
				{Name: "Name", Type: "string", Description: "Campaign name"},
				{Name: "Status", Type: "picklist", Description: "Planned, In Progress, Completed, Aborted"},
				{Name: "Type", Type: "picklist", Description: "Email, Webinar, Conference, Advertisement"},
				{Name: "StartDate", Type: "date", Description: "When the campaign starts", NeedValue: true, Default: "today"},
				{Name: "EndDate", Type: "date", Description: "When the campaign ends", NeedValue: true, Default: "today + 30 days"},
				{Name: "IsActive", Type: "boolean", Description: "Whether the campaign is active"},
				{Name: "Description", Type: "textarea", Description: "Free-form campaign description"},
				{Name: "Email_template__c", Type: "picklist", Description: "Linked Brevo email template, stored as '<template id>-<template name>'"},
			},
		},
		{
			Name:        "CampaignMember",
			Description: "The junction between a campaign and a contact or lead: tracks per-recipient send status and the tracked link assigned to them.",
			Fields: []Field{
				{Name: "Id", Type: "id", Description: "Unique campaign member identifier"},
				{Name: "CampaignId", Type: "reference", Description: "The campaign this membership belongs to"},
				{Name: "ContactId", Type: "reference", Description: "The contact enrolled in the campaign"},
				{Name: "LeadId", Type: "reference", Description: "The lead enrolled in the campaign"},
				{Name: "Status", Type: "picklist", Description: "Sent or Responded"},
				{Name: "Link__c", Type: "url", Description: "Shortened tracking link assigned to this member"},
				{Name: "LinkId__c", Type: "number", Description: "Tracker id of the assigned link"},
			},
		},
		{
			Name:        "Contact",
			Description: "A person: name, email and phone, optionally tied to an account.",
			Fields: []Field{
				{Name: "Id", Type: "id", Description: "Unique contact identifier"},
				{Name: "Name", Type: "string", Description: "Full name"},
				{Name: "FirstName", Type: "string", Description: "First name"},
				{Name: "LastName", Type: "string", Description: "Last name", NeedValue: true},
				{Name: "Email", Type: "email", Description: "Email address"},
				{Name: "Phone", Type: "phone", Description: "Phone number"},
				{Name: "Title", Type: "string", Description: "Job title"},
				{Name: "AccountId", Type: "reference", Description: "The account this contact belongs to"},
			},
		},
		{
			Name:        "Lead",
			Description: "A prospective customer not yet qualified into a contact.",
			Fields: []Field{
				{Name: "Id", Type: "id", Description: "Unique lead identifier"},
				{Name: "Name", Type: "string", Description: "Full name"},
				{Name: "FirstName", Type: "string", Description: "First name"},
				{Name: "LastName", Type: "string", Description: "Last name", NeedValue: true},
				{Name: "Email", Type: "email", Description: "Email address"},
				{Name: "Company", Type: "string", Description: "Company name", NeedValue: true},
				{Name: "Status", Type: "picklist", Description: "Open, Working, Qualified, Unqualified"},
			},
		},
		{
			Name:        "Account",
			Description: "A company or organization.",
			Fields: []Field{
				{Name: "Id", Type: "id", Description: "Unique account identifier"},
				{Name: "Name", Type: "string", Description: "Account name", NeedValue: true},
				{Name: "Industry", Type: "picklist", Description: "Industry sector"},
				{Name: "Phone", Type: "phone", Description: "Main phone number"},
				{Name: "Website", Type: "url", Description: "Company website"},
			},
		},
		{
			Name:        "Opportunity",
			Description: "A potential sale tied to an account, with a stage, amount and close date.",
			Fields: []Field{
				{Name: "Id", Type: "id", Description: "Unique opportunity identifier"},
				{Name: "Name", Type: "string", Description: "Opportunity name", NeedValue: true},
				{Name: "StageName", Type: "picklist", Description: "Prospecting, Qualification, Proposal, Closed Won, Closed Lost", NeedValue: true, Default: "Prospecting"},
				{Name: "Amount", Type: "currency", Description: "Expected deal value"},
				{Name: "CloseDate", Type: "date", Description: "Expected close date", NeedValue: true, Default: "today + 30 days"},
				{Name: "AccountId", Type: "reference", Description: "The account this opportunity belongs to"},
			},
		},
		{
			Name:        "Task",
			Description: "A to-do item or follow-up activity, optionally tied to a person and a related record.",
			Fields: []Field{
				{Name: "Id", Type: "id", Description: "Unique task identifier"},
				{Name: "Subject", Type: "string", Description: "What the task is about", NeedValue: true},
				{Name: "Status", Type: "picklist", Description: "Not Started, In Progress, Completed", NeedValue: true, Default: "Not Started"},
				{Name: "ActivityDate", Type: "date", Description: "Due date", NeedValue: true, Default: "today + 7 days"},
				{Name: "WhoId", Type: "reference", Description: "The contact or lead this task is about"},
				{Name: "WhatId", Type: "reference", Description: "The related record (campaign, opportunity, account)"},
			},
		},
	})
}
