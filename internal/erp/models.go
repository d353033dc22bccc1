// Package erp reads the business records that ground report and chat prompts
// and persists chat transcripts.
package erp

import "time"

// ProjectInfo identifies the project a report or question is about.
type ProjectInfo struct {
	ID          string `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	Status      string `db:"status" json:"status"`
}

// OrganizationInfo identifies the owning organization.
type OrganizationInfo struct {
	ID               string `db:"id" json:"id"`
	Name             string `db:"name" json:"name"`
	ComplianceStatus string `db:"compliance_status" json:"complianceStatus"`
	Status           string `db:"status" json:"status"`
}

// Header groups the project and its organization.
type Header struct {
	Project      ProjectInfo      `json:"project"`
	Organization OrganizationInfo `json:"organization"`
}

// Provider is a supplier that can fulfil products.
type Provider struct {
	ProviderID      string  `db:"provider_id" json:"providerId"`
	Name            string  `db:"name" json:"name"`
	Country         string  `db:"country" json:"country"`
	Rating          float64 `db:"rating" json:"rating"`
	AvgDeliveryDays float64 `db:"avg_delivery_days" json:"avgDeliveryDays"`
	CreatedAt       string  `db:"created_at" json:"createdAt"`
}

// ProviderProduct links a provider to a product it carries.
type ProviderProduct struct {
	ProviderProductID string `db:"provider_product_id" json:"providerProductId"`
	ProductName       string `db:"product_name" json:"productName"`
	IsPreferred       int    `db:"is_preferred" json:"isPreferred"`
	CreatedAt         string `db:"created_at" json:"createdAt"`
	ProviderID        string `db:"provider_id" json:"providerId"`
	ProviderName      string `db:"provider_name" json:"providerName"`
}

// InventoryItem is the current stock of one product.
type InventoryItem struct {
	InventoryID  string `db:"inventory_id" json:"inventoryId"`
	ProductName  string `db:"product_name" json:"productName"`
	StockLevel   int    `db:"stock_level" json:"stockLevel"`
	ReorderLevel int    `db:"reorder_level" json:"reorderLevel"`
	LastUpdated  string `db:"last_updated" json:"lastUpdated"`
}

// Sale is a single sales record.
type Sale struct {
	SaleID      string  `db:"sale_id" json:"saleId"`
	ProjectID   string  `db:"project_id" json:"projectId"`
	SaleDate    string  `db:"sale_date" json:"saleDate"`
	ProductName string  `db:"product_name" json:"productName"`
	Quantity    int     `db:"quantity" json:"quantity"`
	Amount      float64 `db:"amount" json:"amount"`
	CreatedAt   string  `db:"created_at" json:"createdAt"`
}

// MonthlySales aggregates sales per product and month.
type MonthlySales struct {
	YearMonth     string  `db:"year_month" json:"yearMonth"`
	ProductName   string  `db:"product_name" json:"productName"`
	TotalQuantity int     `db:"total_quantity" json:"totalQuantity"`
	TotalRevenue  float64 `db:"total_revenue" json:"totalRevenue"`
}

// ProjectContext is everything known about one project.
type ProjectContext struct {
	Header           Header            `json:"header"`
	Providers        []Provider        `json:"providers"`
	ProviderProducts []ProviderProduct `json:"providerProducts"`
	Inventory        []InventoryItem   `json:"inventory"`
	Sales            []Sale            `json:"sales"`
	SalesMonthly     []MonthlySales    `json:"salesMonthly"`
}

// TopProduct is a best-selling product with its preferred supplier, if any.
type TopProduct struct {
	ProductName           string  `db:"product_name" json:"productName"`
	Qty                   int     `db:"qty" json:"qty"`
	Amount                float64 `db:"amount" json:"amount"`
	PreferredProviderID   string  `db:"preferred_provider_id" json:"preferredProviderId,omitempty"`
	PreferredProviderName string  `db:"preferred_provider_name" json:"preferredProviderName,omitempty"`
}

// OrganizationContext summarizes sales across every project of an organization.
type OrganizationContext struct {
	OrganizationID string         `json:"organizationId"`
	TopProducts    []TopProduct   `json:"topProducts"`
	SalesMonthly   []MonthlySales `json:"salesMonthly"`
}

// OrganizationQuery scopes an organization context.
type OrganizationQuery struct {
	OrganizationID string
	FromDate       string // inclusive, YYYY-MM-DD
	ToDate         string // exclusive, YYYY-MM-DD
	TopN           int
}

// Transcript is one answered chat exchange.
type Transcript struct {
	ID        string    `db:"id"`
	ProjectID string    `db:"project_id"`
	UserID    string    `db:"user_id"`
	Question  string    `db:"question"`
	Answer    string    `db:"answer"`
	CreatedAt time.Time `db:"created_at"`
}
