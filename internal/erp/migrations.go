package erp

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations, versions starting at 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER PRIMARY KEY,
	applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS organizations (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	compliance_status TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS projects (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	name            TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS providers (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	country           TEXT NOT NULL DEFAULT '',
	rating            REAL NOT NULL DEFAULT 0,
	avg_delivery_days REAL NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS provider_products (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	provider_id     TEXT NOT NULL REFERENCES providers(id),
	product_name    TEXT NOT NULL,
	is_preferred    INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS inventory (
	id            TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL REFERENCES projects(id),
	product_name  TEXT NOT NULL,
	stock_level   INTEGER NOT NULL DEFAULT 0,
	reorder_level INTEGER NOT NULL DEFAULT 0,
	last_updated  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sales (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL REFERENCES projects(id),
	sale_date    TEXT NOT NULL,
	product_name TEXT NOT NULL,
	quantity     INTEGER NOT NULL DEFAULT 0,
	amount       REAL NOT NULL DEFAULT 0,
	created_at   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	question   TEXT NOT NULL,
	answer     TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sales_project ON sales(project_id, sale_date);
CREATE INDEX IF NOT EXISTS idx_inventory_project ON inventory(project_id);
CREATE INDEX IF NOT EXISTS idx_provider_products_org ON provider_products(organization_id);
CREATE INDEX IF NOT EXISTS idx_conversations_project ON conversations(project_id, created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
