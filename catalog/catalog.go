package catalog

import (
	"errors"
	"fmt"
	"sort"
)

// ErrTemplateNotFound is returned when a template group or rule template is
// not present in the catalog.
var ErrTemplateNotFound = errors.New("template not found")

// Catalog is an immutable directory of template groups. The values it returns
// are shared and must be treated as read-only.
type Catalog struct {
	groups map[string]*TemplateGroup
	order  []string
}

// New builds a catalog from groups. Groups are expected to be validated;
// on duplicate ids the first group wins.
func New(groups ...*TemplateGroup) *Catalog {
	c := &Catalog{groups: make(map[string]*TemplateGroup, len(groups))}
	for _, g := range groups {
		if g == nil {
			continue
		}
		if _, exists := c.groups[g.ID]; exists {
			continue
		}
		c.groups[g.ID] = g
		c.order = append(c.order, g.ID)
	}
	sort.Strings(c.order)
	return c
}

// Len returns the number of template groups.
func (c *Catalog) Len() int {
	return len(c.order)
}

// TemplateGroups returns every group sorted by id.
func (c *Catalog) TemplateGroups() []*TemplateGroup {
	out := make([]*TemplateGroup, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.groups[id])
	}
	return out
}

// TemplateGroup returns the group with the given id.
func (c *Catalog) TemplateGroup(groupID string) (*TemplateGroup, error) {
	g, ok := c.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: template group %s", ErrTemplateNotFound, groupID)
	}
	return g, nil
}

// RuleTemplates returns the rule templates of a group in declaration order.
func (c *Catalog) RuleTemplates(groupID string) ([]*RuleTemplate, error) {
	g, err := c.TemplateGroup(groupID)
	if err != nil {
		return nil, err
	}
	out := make([]*RuleTemplate, len(g.RuleTemplates))
	copy(out, g.RuleTemplates)
	return out, nil
}

// RuleTemplate resolves a rule template by group id and rule template id.
func (c *Catalog) RuleTemplate(groupID, ruleTemplateID string) (*RuleTemplate, error) {
	g, err := c.TemplateGroup(groupID)
	if err != nil {
		return nil, err
	}
	for _, rt := range g.RuleTemplates {
		if rt.ID == ruleTemplateID {
			return rt, nil
		}
	}
	return nil, fmt.Errorf("%w: rule template %s in group %s", ErrTemplateNotFound, ruleTemplateID, groupID)
}
