package database

import (
	"context"
	"fmt"

	"eddm-registry/internal/models"

	"github.com/uptrace/bun"
)

// Migrate creates the registry tables and indexes when they do not exist yet.
// The unique index on address_hash is what makes registration insert-if-absent.
func Migrate(ctx context.Context, db bun.IDB) error {
	tables := []any{
		(*models.OptOutRegistration)(nil),
		(*models.RouteCounter)(nil),
		(*models.RouteMilestone)(nil),
		(*models.AdminUser)(nil),
	}
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	indexes := []struct {
		name   string
		model  any
		column string
	}{
		{"idx_opt_out_registrations_zip_route", (*models.OptOutRegistration)(nil), "zip_route"},
		{"idx_route_counters_state", (*models.RouteCounter)(nil), "state"},
		{"idx_route_milestones_reached_at", (*models.RouteMilestone)(nil), "reached_at"},
	}
	for _, idx := range indexes {
		_, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.column).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
