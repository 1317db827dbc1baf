// Package schema builds the CRM schema context injected into planning
// prompts: it retrieves the entities and fields relevant to a request from a
// vector index so the planner never has to guess field names.
package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field describes one entity field.
type Field struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description,omitempty"`
	// NeedValue marks fields that must be supplied on create; Default holds
	// the raw default expression ("today", "today + 30 days", or a literal).
	NeedValue bool   `yaml:"needvalue,omitempty"`
	Default   string `yaml:"default,omitempty"`
}

// Object describes one CRM entity.
type Object struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description,omitempty"`
	Fields      []Field `yaml:"fields"`
}

// Catalog is the full schema metadata, read-only after load.
type Catalog struct {
	objects map[string]*Object
	order   []string
}

// commonFieldsByObject is the fixed union of fields that planners almost
// always need per well-known entity, regardless of retrieval score.
var commonFieldsByObject = map[string][]string{
	"Campaign":       {"Id", "Name", "Status", "StartDate", "EndDate", "Type", "IsActive", "Email_template__c"},
	"CampaignMember": {"Id", "CampaignId", "ContactId", "Status", "Link__c", "LinkId__c"},
	"Contact":        {"Id", "Name", "FirstName", "LastName", "Email", "Phone", "AccountId"},
	"Lead":           {"Id", "Name", "FirstName", "LastName", "Email", "Company", "Status"},
	"Account":        {"Id", "Name", "Industry", "Phone"},
	"Opportunity":    {"Id", "Name", "StageName", "Amount", "CloseDate", "AccountId"},
	"Task":           {"Id", "Subject", "Status", "ActivityDate", "WhoId", "WhatId"},
}

// LoadCatalog reads schema metadata from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema catalog: %w", err)
	}
	var doc struct {
		Objects []Object `yaml:"objects"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema catalog: %w", err)
	}
	if len(doc.Objects) == 0 {
		return nil, fmt.Errorf("schema catalog %s defines no objects", path)
	}
	return NewCatalog(doc.Objects), nil
}

// NewCatalog builds a catalog from object definitions.
func NewCatalog(objects []Object) *Catalog {
	c := &Catalog{objects: make(map[string]*Object, len(objects))}
	for i := range objects {
		obj := objects[i]
		c.objects[obj.Name] = &obj
		c.order = append(c.order, obj.Name)
	}
	return c
}

// Object returns one entity's metadata.
func (c *Catalog) Object(name string) (*Object, bool) {
	obj, ok := c.objects[name]
	if !ok {
		// Entity names from retrieval are exact, but hints from workflow
		// context may differ in case.
		for key, o := range c.objects {
			if strings.EqualFold(key, name) {
				return o, true
			}
		}
	}
	return obj, ok
}

// Names returns the entity names in definition order.
func (c *Catalog) Names() []string {
	return c.order
}

// Field returns one field's metadata on an entity.
func (o *Object) Field(name string) (*Field, bool) {
	for i := range o.Fields {
		if o.Fields[i].Name == name {
			return &o.Fields[i], true
		}
	}
	return nil, false
}

// CommonFields returns the hard-coded always-include field names for a
// well-known entity.
func CommonFields(objectName string) []string {
	return commonFieldsByObject[objectName]
}

// junctionAdjacency maps each entity with two or more reference fields
// (fields whose name ends in "Id") to the entities it connects. Built once;
// the catalog is immutable afterwards.
func (c *Catalog) junctionAdjacency() map[string][]string {
	adjacency := map[string][]string{}
	for name, obj := range c.objects {
		var refs []string
		for _, f := range obj.Fields {
			if f.Name == "Id" || !strings.HasSuffix(f.Name, "Id") {
				continue
			}
			target := strings.TrimSuffix(f.Name, "Id")
			if _, ok := c.objects[target]; ok {
				refs = append(refs, target)
			}
		}
		if len(refs) >= 2 {
			sort.Strings(refs)
			adjacency[name] = refs
		}
	}
	return adjacency
}
