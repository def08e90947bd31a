package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"eddm-registry/internal/geo"
	"eddm-registry/internal/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// OptOutStore persists registrations and the per-route counters derived from them.
type OptOutStore interface {
	// Register inserts the registration if its hash is new and bumps the route counter in
	// the same transaction. A known hash leaves everything untouched and reports the
	// counter of the route it was first registered on.
	Register(ctx context.Context, reg models.NewRegistration) (models.RegistrationOutcome, error)
	Counter(ctx context.Context, zipRoute string) (models.RouteCounter, bool, error)
	Locations(ctx context.Context, zipRoute string) ([]geo.Location, error)
	// RecordMilestone reports true only for the first record of (zipRoute, threshold).
	RecordMilestone(ctx context.Context, zipRoute string, threshold, optOutCount int) (bool, error)
	TopRoutes(ctx context.Context, filter models.RouteFilter) ([]models.RouteCounter, error)
	Subscribers(ctx context.Context, zipRoute string) ([]models.Subscriber, error)
	Milestones(ctx context.Context, limit int) ([]models.RouteMilestone, error)
}

// PostgresOptOutStore is the bun-backed OptOutStore.
type PostgresOptOutStore struct {
	db  bun.IDB
	now func() time.Time
}

func NewPostgresOptOutStore(db bun.IDB) *PostgresOptOutStore {
	return &PostgresOptOutStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const insertRegistrationSQL = `
	INSERT INTO opt_out_registrations
		(id, address_hash, zip_route, carrier_route, zip, city, state, lat, lng, email, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (address_hash) DO NOTHING
	RETURNING id`

// The increment happens inside the upsert, so concurrent registrations on one route
// serialize on the counter row instead of racing a read-modify-write.
const bumpCounterSQL = `
	INSERT INTO route_counters (zip_route, carrier_route, zip, state, opt_out_count, updated_at)
	VALUES (?, ?, ?, ?, 1, ?)
	ON CONFLICT (zip_route) DO UPDATE SET
		opt_out_count = route_counters.opt_out_count + 1,
		state = COALESCE(NULLIF(EXCLUDED.state, ''), route_counters.state),
		updated_at = EXCLUDED.updated_at
	RETURNING zip_route, carrier_route, zip, state, opt_out_count`

const existingCounterSQL = `
	SELECT rc.zip_route, rc.carrier_route, rc.zip, rc.state, rc.opt_out_count
	FROM opt_out_registrations AS oor
	JOIN route_counters AS rc ON rc.zip_route = oor.zip_route
	WHERE oor.address_hash = ?`

func (s *PostgresOptOutStore) Register(ctx context.Context, reg models.NewRegistration) (models.RegistrationOutcome, error) {
	var outcome models.RegistrationOutcome

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		now := s.now()

		var id uuid.UUID
		err := tx.NewRaw(insertRegistrationSQL,
			uuid.New(), reg.AddressHash, reg.ZipRoute, reg.CarrierRoute, reg.Zip,
			reg.City, reg.State, reg.Lat, reg.Lng, reg.Email, now,
		).Scan(ctx, &id)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			// hash already registered; ON CONFLICT swallowed the insert
			outcome.IsNew = false
			return tx.NewRaw(existingCounterSQL, reg.AddressHash).Scan(ctx, &outcome.Counter)
		case err != nil:
			return err
		}

		outcome.IsNew = true
		return tx.NewRaw(bumpCounterSQL,
			reg.ZipRoute, reg.CarrierRoute, reg.Zip, reg.State, now,
		).Scan(ctx, &outcome.Counter)
	})
	if err != nil {
		return models.RegistrationOutcome{}, err
	}
	return outcome, nil
}

func (s *PostgresOptOutStore) Counter(ctx context.Context, zipRoute string) (models.RouteCounter, bool, error) {
	var rc models.RouteCounter
	err := s.db.NewSelect().
		Model(&rc).
		Where("zip_route = ?", zipRoute).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RouteCounter{}, false, nil
	}
	if err != nil {
		return models.RouteCounter{}, false, err
	}
	return rc, true, nil
}

func (s *PostgresOptOutStore) Locations(ctx context.Context, zipRoute string) ([]geo.Location, error) {
	locations := make([]geo.Location, 0)
	err := s.db.NewSelect().
		Model((*models.OptOutRegistration)(nil)).
		Column("lat", "lng").
		Where("zip_route = ?", zipRoute).
		Order("created_at ASC").
		Scan(ctx, &locations)
	return locations, err
}

const insertMilestoneSQL = `
	INSERT INTO route_milestones (zip_route, threshold, opt_out_count, reached_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (zip_route, threshold) DO NOTHING
	RETURNING id`

func (s *PostgresOptOutStore) RecordMilestone(ctx context.Context, zipRoute string, threshold, optOutCount int) (bool, error) {
	var id int64
	err := s.db.NewRaw(insertMilestoneSQL, zipRoute, threshold, optOutCount, s.now()).Scan(ctx, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresOptOutStore) TopRoutes(ctx context.Context, filter models.RouteFilter) ([]models.RouteCounter, error) {
	routes := make([]models.RouteCounter, 0)
	q := s.db.NewSelect().Model(&routes)

	if len(filter.States) > 0 {
		upper := make([]string, len(filter.States))
		for i, st := range filter.States {
			upper[i] = strings.ToUpper(st)
		}
		q = q.Where("state IN (?)", bun.In(upper))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	err := q.OrderExpr("opt_out_count DESC, zip_route ASC").
		Limit(limit).
		Offset(filter.Offset).
		Scan(ctx)
	return routes, err
}

func (s *PostgresOptOutStore) Subscribers(ctx context.Context, zipRoute string) ([]models.Subscriber, error) {
	subs := make([]models.Subscriber, 0)
	err := s.db.NewSelect().
		Model((*models.OptOutRegistration)(nil)).
		Column("email", "created_at").
		Where("zip_route = ?", zipRoute).
		Where("email IS NOT NULL").
		Order("created_at ASC").
		Scan(ctx, &subs)
	return subs, err
}

func (s *PostgresOptOutStore) Milestones(ctx context.Context, limit int) ([]models.RouteMilestone, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	milestones := make([]models.RouteMilestone, 0)
	err := s.db.NewSelect().
		Model(&milestones).
		Order("reached_at DESC").
		Limit(limit).
		Scan(ctx)
	return milestones, err
}
