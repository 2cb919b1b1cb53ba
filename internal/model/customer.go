// internal/model/customer.go
package model

type Customer struct {
	ID               int    `db:"id" json:"id"`
	TenantID         int    `db:"tenant_id" json:"tenant_id"`
	Phone            string `db:"phone" json:"phone"`
	FirstName        string `db:"first_name" json:"first_name"`
	LastName         string `db:"last_name" json:"last_name"`
	Location         string `db:"location" json:"location"`
	PreferredProduct string `db:"preferred_product" json:"preferred_product"`
	OptedOut         bool   `db:"opted_out" json:"opted_out"`
}

// TemplateData is the placeholder set available to campaign templates.
func (c *Customer) TemplateData() map[string]string {
	return map[string]string{
		"first_name":        c.FirstName,
		"last_name":         c.LastName,
		"location":          c.Location,
		"preferred_product": c.PreferredProduct,
	}
}
