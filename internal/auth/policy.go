package auth

import "storefront-api/internal/models"

// Resources
const (
	ResourceCategory = "category"
	ResourceProduct  = "product"
	ResourceOrder    = "order"
)

// Actions
const (
	ActionCreate  = "create"
	ActionListOwn = "list-own"
	ActionListAll = "list-all"
)

type capability struct {
	resource string
	action   string
}

// Policy maps capabilities to the roles that hold them.
type Policy struct {
	rules map[capability][]string
}

// DefaultPolicy is the storefront's role table.
func DefaultPolicy() *Policy {
	return &Policy{rules: map[capability][]string{
		{ResourceCategory, ActionCreate}: {models.RoleAdmin},
		{ResourceProduct, ActionCreate}:  {models.RoleAdmin},
		{ResourceOrder, ActionListAll}:   {models.RoleAdmin},
		{ResourceOrder, ActionCreate}:    {models.RoleCustomer, models.RoleAdmin},
		{ResourceOrder, ActionListOwn}:   {models.RoleCustomer, models.RoleAdmin},
	}}
}

// Allowed reports whether role may perform action on resource. Unknown capabilities are
// denied.
func (p *Policy) Allowed(role, resource, action string) bool {
	for _, r := range p.rules[capability{resource, action}] {
		if r == role {
			return true
		}
	}
	return false
}
