package erp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrProjectNotFound is returned when a project id has no matching row.
var ErrProjectNotFound = errors.New("project not found")

// DefaultTopN bounds organization top-product queries when the caller gives none.
const DefaultTopN = 10

// monthlyLimit caps the monthly aggregates handed to prompts.
const monthlyLimit = 12

// Store reads ERP records and writes chat transcripts using SQLite.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at dsn, enables WAL mode and foreign
// keys, and applies pending migrations.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the connection for seeding and maintenance commands.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) runMigrations() error {
	current := 0

	var tableCount int
	if err := s.db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'"); err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// ProjectContext loads the header, suppliers, stock and sales of a project.
func (s *Store) ProjectContext(ctx context.Context, projectID string) (*ProjectContext, error) {
	var row struct {
		ProjectInfo
		OrganizationID   string `db:"organization_id"`
		OrganizationName string `db:"organization_name"`
		ComplianceStatus string `db:"compliance_status"`
		OrgStatus        string `db:"org_status"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT p.id, p.name, p.description, p.status,
		       o.id AS organization_id, o.name AS organization_name,
		       o.compliance_status, o.status AS org_status
		FROM projects p
		JOIN organizations o ON o.id = p.organization_id
		WHERE p.id = ?`, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading project %s: %w", projectID, err)
	}

	pc := &ProjectContext{
		Header: Header{
			Project: row.ProjectInfo,
			Organization: OrganizationInfo{
				ID:               row.OrganizationID,
				Name:             row.OrganizationName,
				ComplianceStatus: row.ComplianceStatus,
				Status:           row.OrgStatus,
			},
		},
	}

	if err := s.db.SelectContext(ctx, &pc.Providers, `
		SELECT DISTINCT pr.id AS provider_id, pr.name, pr.country, pr.rating,
		       pr.avg_delivery_days, pr.created_at
		FROM providers pr
		JOIN provider_products pp ON pp.provider_id = pr.id
		WHERE pp.organization_id = ?
		ORDER BY pr.name`, row.OrganizationID); err != nil {
		return nil, fmt.Errorf("loading providers for project %s: %w", projectID, err)
	}

	if err := s.db.SelectContext(ctx, &pc.ProviderProducts, `
		SELECT pp.id AS provider_product_id, pp.product_name, pp.is_preferred,
		       pp.created_at, pp.provider_id, pr.name AS provider_name
		FROM provider_products pp
		JOIN providers pr ON pr.id = pp.provider_id
		WHERE pp.organization_id = ?
		ORDER BY pp.product_name, pr.name`, row.OrganizationID); err != nil {
		return nil, fmt.Errorf("loading provider products for project %s: %w", projectID, err)
	}

	if err := s.db.SelectContext(ctx, &pc.Inventory, `
		SELECT id AS inventory_id, product_name, stock_level, reorder_level, last_updated
		FROM inventory
		WHERE project_id = ?
		ORDER BY product_name`, projectID); err != nil {
		return nil, fmt.Errorf("loading inventory for project %s: %w", projectID, err)
	}

	if err := s.db.SelectContext(ctx, &pc.Sales, `
		SELECT id AS sale_id, project_id, sale_date, product_name, quantity, amount, created_at
		FROM sales
		WHERE project_id = ?
		ORDER BY sale_date DESC`, projectID); err != nil {
		return nil, fmt.Errorf("loading sales for project %s: %w", projectID, err)
	}

	if err := s.db.SelectContext(ctx, &pc.SalesMonthly, `
		SELECT substr(sale_date, 1, 7) AS year_month, product_name,
		       SUM(quantity) AS total_quantity,
		       SUM(quantity * amount) AS total_revenue
		FROM sales
		WHERE project_id = ?
		GROUP BY year_month, product_name
		ORDER BY year_month DESC, product_name
		LIMIT ?`, projectID, monthlyLimit); err != nil {
		return nil, fmt.Errorf("loading monthly sales for project %s: %w", projectID, err)
	}

	return pc, nil
}

// OrganizationContext returns the best-selling products of an organization with
// their preferred suppliers, plus monthly aggregates for charting.
func (s *Store) OrganizationContext(ctx context.Context, q OrganizationQuery) (*OrganizationContext, error) {
	if q.TopN <= 0 {
		q.TopN = DefaultTopN
	}

	where := ""
	args := []any{q.OrganizationID}
	if q.FromDate != "" {
		where += " AND s.sale_date >= ?"
		args = append(args, q.FromDate)
	}
	if q.ToDate != "" {
		where += " AND s.sale_date < ?"
		args = append(args, q.ToDate)
	}

	oc := &OrganizationContext{OrganizationID: q.OrganizationID}

	topArgs := append(append([]any{}, args...), q.OrganizationID, q.TopN)
	if err := s.db.SelectContext(ctx, &oc.TopProducts, `
		WITH vol AS (
			SELECT s.product_name, SUM(s.quantity) AS qty, SUM(s.amount) AS amount
			FROM sales s
			JOIN projects p ON p.id = s.project_id
			WHERE p.organization_id = ?`+where+`
			GROUP BY s.product_name
		),
		pref AS (
			SELECT product_name, provider_id
			FROM provider_products
			WHERE is_preferred = 1 AND organization_id = ?
		)
		SELECT v.product_name, v.qty, v.amount,
		       COALESCE(pref.provider_id, '') AS preferred_provider_id,
		       COALESCE(pr.name, '') AS preferred_provider_name
		FROM vol v
		LEFT JOIN pref ON pref.product_name = v.product_name
		LEFT JOIN providers pr ON pr.id = pref.provider_id
		ORDER BY v.qty DESC, v.amount DESC
		LIMIT ?`, topArgs...); err != nil {
		return nil, fmt.Errorf("loading top products for organization %s: %w", q.OrganizationID, err)
	}

	monthlyArgs := append(append([]any{}, args...), monthlyLimit)
	if err := s.db.SelectContext(ctx, &oc.SalesMonthly, `
		SELECT substr(s.sale_date, 1, 7) AS year_month, s.product_name,
		       SUM(s.quantity) AS total_quantity,
		       SUM(s.quantity * s.amount) AS total_revenue
		FROM sales s
		JOIN projects p ON p.id = s.project_id
		WHERE p.organization_id = ?`+where+`
		GROUP BY year_month, s.product_name
		ORDER BY year_month DESC, s.product_name
		LIMIT ?`, monthlyArgs...); err != nil {
		return nil, fmt.Errorf("loading monthly sales for organization %s: %w", q.OrganizationID, err)
	}

	return oc, nil
}

// SaveTranscript stores one answered exchange.
func (s *Store) SaveTranscript(ctx context.Context, t Transcript) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO conversations (id, project_id, user_id, question, answer, created_at)
		VALUES (:id, :project_id, :user_id, :question, :answer, :created_at)`, t)
	if err != nil {
		return fmt.Errorf("saving transcript %s: %w", t.ID, err)
	}
	return nil
}

// Transcripts returns the most recent exchanges for a project, newest first.
func (s *Store) Transcripts(ctx context.Context, projectID string, limit int) ([]Transcript, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Transcript
	if err := s.db.SelectContext(ctx, &out, `
		SELECT id, project_id, user_id, question, answer, created_at
		FROM conversations
		WHERE project_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, projectID, limit); err != nil {
		return nil, fmt.Errorf("querying transcripts for project %s: %w", projectID, err)
	}
	return out, nil
}
