package erp

import (
	"context"
	"fmt"
)

// Demo identifiers inserted by SeedDemo.
const (
	DemoOrganizationID = "org-demo"
	DemoProjectID      = "proj-demo"
)

// SeedDemo inserts a small organization with one project, two suppliers, stock
// and three months of sales. Existing rows are left untouched.
func (s *Store) SeedDemo(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	statements := []struct {
		query string
		args  []any
	}{
		{`INSERT OR IGNORE INTO organizations (id, name, compliance_status, status) VALUES (?, ?, ?, ?)`,
			[]any{DemoOrganizationID, "Demo Motors", "compliant", "active"}},
		{`INSERT OR IGNORE INTO projects (id, organization_id, name, description, status) VALUES (?, ?, ?, ?, ?)`,
			[]any{DemoProjectID, DemoOrganizationID, "Brake line refresh", "Aftermarket brake components", "active"}},
		{`INSERT OR IGNORE INTO providers (id, name, country, rating, avg_delivery_days, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{"prov-acme", "Acme Parts", "DE", 4.6, 6, "2024-01-10"}},
		{`INSERT OR IGNORE INTO providers (id, name, country, rating, avg_delivery_days, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{"prov-zen", "Zenith Supply", "MX", 2.8, 14, "2024-02-02"}},
		{`INSERT OR IGNORE INTO provider_products (id, organization_id, provider_id, product_name, is_preferred, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{"pp-1", DemoOrganizationID, "prov-acme", "Brake pad", 1, "2024-01-10"}},
		{`INSERT OR IGNORE INTO provider_products (id, organization_id, provider_id, product_name, is_preferred, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{"pp-2", DemoOrganizationID, "prov-zen", "Rotor", 0, "2024-02-02"}},
		{`INSERT OR IGNORE INTO inventory (id, project_id, product_name, stock_level, reorder_level, last_updated) VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{"inv-1", DemoProjectID, "Brake pad", 40, 50, "2024-06-01"}},
		{`INSERT OR IGNORE INTO inventory (id, project_id, product_name, stock_level, reorder_level, last_updated) VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{"inv-2", DemoProjectID, "Rotor", 120, 60, "2024-06-01"}},
		{`INSERT OR IGNORE INTO sales (id, project_id, sale_date, product_name, quantity, amount, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			[]any{"sale-1", DemoProjectID, "2024-04-12", "Brake pad", 30, 18.5, "2024-04-12"}},
		{`INSERT OR IGNORE INTO sales (id, project_id, sale_date, product_name, quantity, amount, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			[]any{"sale-2", DemoProjectID, "2024-05-03", "Brake pad", 45, 18.0, "2024-05-03"}},
		{`INSERT OR IGNORE INTO sales (id, project_id, sale_date, product_name, quantity, amount, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			[]any{"sale-3", DemoProjectID, "2024-05-20", "Rotor", 12, 64.0, "2024-05-20"}},
		{`INSERT OR IGNORE INTO sales (id, project_id, sale_date, product_name, quantity, amount, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			[]any{"sale-4", DemoProjectID, "2024-06-08", "Brake pad", 52, 17.5, "2024-06-08"}},
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			return fmt.Errorf("seeding demo data: %w", err)
		}
	}
	return tx.Commit()
}
