package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/liamcoop/businessrules/catalog"
)

var (
	// ErrTemplateNotFound aliases the catalog sentinel so callers of this
	// package need not import catalog to match it.
	ErrTemplateNotFound = catalog.ErrTemplateNotFound

	ErrRoleCardinality    = errors.New("rule template must expose exactly one template for its role")
	ErrScriptExecution    = errors.New("script execution failed")
	ErrSubstitution       = errors.New("unresolved placeholder")
	ErrSkeletonLoad       = errors.New("composite skeleton unavailable")
	ErrComposition        = errors.New("composition failed")
	ErrDeploy             = errors.New("deploy failed")
	ErrUpdate             = errors.New("update failed")
	ErrUndeploy           = errors.New("undeploy failed")
	ErrPersistence        = errors.New("persistence failed")
	ErrDefinitionNotFound = errors.New("business rule not found")
	ErrDefinitionExists   = errors.New("business rule already exists")
	ErrInvalidDefinition  = errors.New("invalid business rule definition")
	ErrVariantMismatch    = errors.New("business rule type cannot change")
)

// UndeployError reports the artifacts that could not be undeployed while
// deleting a business rule. The stored definition is left in place.
type UndeployError struct {
	RuleID string
	Failed []string
}

func (e *UndeployError) Error() string {
	return fmt.Sprintf("failed to undeploy %s for business rule %s", strings.Join(e.Failed, ", "), e.RuleID)
}

// Is reports ErrUndeploy so errors.Is(err, ErrUndeploy) matches.
func (e *UndeployError) Is(target error) bool {
	return target == ErrUndeploy
}
