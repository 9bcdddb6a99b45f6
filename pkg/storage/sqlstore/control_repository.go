// Package sqlstore is the relational repository for reference data the
// core consumes but does not own the semantic content of — framework
// controls (§3 Framework Control, "injected as reference data") are
// loaded here from Postgres and handed to Compliance Scoring (C9) as
// plain domain.FrameworkControl values.
//
// Grounded on the teacher's pkg/datastorage/repository package (e.g.
// NotificationAuditRepository): a thin struct wrapping *sqlx.DB,
// parameterized queries, sql.ErrNoRows mapped to a NotFound KindError,
// and a HealthCheck that pings the pool.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/Samueladewole/velocityai-sub003/pkg/core/errs"
	"github.com/Samueladewole/velocityai-sub003/pkg/domain"
)

// controlRow mirrors domain.FrameworkControl's column names for sqlx's
// struct-scan.
type controlRow struct {
	ControlID       string `db:"control_id"`
	Framework       string `db:"framework"`
	Name            string `db:"name"`
	RequirementText string `db:"requirement_text"`
	Family          string `db:"family"`
	Criticality     string `db:"criticality"`
}

func (r controlRow) toDomain() domain.FrameworkControl {
	return domain.FrameworkControl{
		ControlID: r.ControlID, Framework: r.Framework, Name: r.Name,
		RequirementText: r.RequirementText, Family: r.Family, Criticality: r.Criticality,
	}
}

// ControlRepository is the read path for framework_control reference
// data; frameworks are seeded out-of-band (migration or admin import),
// never written by the core itself (§1 Non-goals: "does not define a
// compliance framework's semantic content").
type ControlRepository struct {
	db *sqlx.DB
}

func NewControlRepository(db *sql.DB) *ControlRepository {
	return &ControlRepository{db: sqlx.NewDb(db, "postgres")}
}

// Get fetches one control by (framework, control_id).
func (r *ControlRepository) Get(ctx context.Context, framework, controlID string) (domain.FrameworkControl, error) {
	var row controlRow
	err := r.db.GetContext(ctx, &row,
		`SELECT control_id, framework, name, requirement_text, family, criticality
		 FROM framework_control WHERE framework = $1 AND control_id = $2`,
		framework, controlID)
	if err == sql.ErrNoRows {
		return domain.FrameworkControl{}, errs.NotFound("get framework control", fmt.Errorf("%s/%s", framework, controlID))
	}
	if err != nil {
		return domain.FrameworkControl{}, fmt.Errorf("sqlstore: get framework control: %w", err)
	}
	return row.toDomain(), nil
}

// ListByFramework returns every control registered for framework,
// ordered by control_id, the set Compliance Scoring iterates to build
// an organization's full metric set.
func (r *ControlRepository) ListByFramework(ctx context.Context, framework string) ([]domain.FrameworkControl, error) {
	var rows []controlRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT control_id, framework, name, requirement_text, family, criticality
		 FROM framework_control WHERE framework = $1 ORDER BY control_id`,
		framework)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list framework controls: %w", err)
	}
	controls := make([]domain.FrameworkControl, len(rows))
	for i, row := range rows {
		controls[i] = row.toDomain()
	}
	return controls, nil
}

// ListByCriticality narrows ListByFramework to a single criticality
// tier.
func (r *ControlRepository) ListByCriticality(ctx context.Context, framework, criticality string) ([]domain.FrameworkControl, error) {
	var rows []controlRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT control_id, framework, name, requirement_text, family, criticality
		 FROM framework_control WHERE framework = $1 AND criticality = $2 ORDER BY control_id`,
		framework, criticality)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list framework controls by criticality: %w", err)
	}
	controls := make([]domain.FrameworkControl, len(rows))
	for i, row := range rows {
		controls[i] = row.toDomain()
	}
	return controls, nil
}

// Upsert inserts or replaces one control's reference data, the path an
// admin import/migration job uses to seed or update a framework.
func (r *ControlRepository) Upsert(ctx context.Context, control domain.FrameworkControl) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO framework_control (control_id, framework, name, requirement_text, family, criticality)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (framework, control_id) DO UPDATE SET
		   name = EXCLUDED.name, requirement_text = EXCLUDED.requirement_text,
		   family = EXCLUDED.family, criticality = EXCLUDED.criticality`,
		control.ControlID, control.Framework, control.Name, control.RequirementText, control.Family, control.Criticality)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert framework control: %w", err)
	}
	return nil
}

// HealthCheck pings the pool; cmd/coreserver calls it once at startup.
func (r *ControlRepository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlstore: health check failed: %w", err)
	}
	return nil
}
