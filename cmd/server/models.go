package main

import (
	"time"

	"github.com/liamcoop/businessrules/catalog"
	"github.com/liamcoop/businessrules/rules"
)

// API request and response models.
//
// Create and edit requests carry the serialized business rule document
// ({"type": "template"|"scratch", "id", "name", "templateGroupId", ...}),
// decoded directly into rules.Definition.

// BusinessRuleResponse represents a stored business rule in API responses
type BusinessRuleResponse struct {
	Definition rules.Definition `json:"definition"`
	Deployed   bool             `json:"deployed" example:"true"`
	CreatedAt  time.Time        `json:"createdAt" example:"2024-01-15T10:30:00Z"`
	UpdatedAt  time.Time        `json:"updatedAt" example:"2024-01-15T10:30:00Z"`
}

// BusinessRulesListResponse represents the response for listing business rules
type BusinessRulesListResponse struct {
	BusinessRules []BusinessRuleResponse `json:"businessRules"`
}

// TemplateGroupsListResponse represents the response for listing template groups
type TemplateGroupsListResponse struct {
	TemplateGroups []*catalog.TemplateGroup `json:"templateGroups"`
}

// RuleTemplatesListResponse represents the rule templates of one group
type RuleTemplatesListResponse struct {
	TemplateGroupID string                  `json:"templateGroupId" example:"stock-exchange"`
	RuleTemplates   []*catalog.RuleTemplate `json:"ruleTemplates"`
}

// ReloadResponse represents the result of a catalog reload
type ReloadResponse struct {
	Status         string `json:"status" example:"reloaded"`
	TemplateGroups int    `json:"templateGroups" example:"3"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"business rule not found"`
	Details string `json:"details,omitempty"`
	// Failed lists the artifacts that could not be undeployed
	Failed []string `json:"failed,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status         string `json:"status" example:"healthy"`
	TemplateGroups int    `json:"templateGroups" example:"3"`
	Error          string `json:"error,omitempty"`
}

func toBusinessRuleResponse(sd *rules.StoredDefinition) BusinessRuleResponse {
	return BusinessRuleResponse{
		Definition: sd.Definition,
		Deployed:   sd.Deployed,
		CreatedAt:  sd.CreatedAt,
		UpdatedAt:  sd.UpdatedAt,
	}
}
