package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transitlive/transitlive_core/internal/models"
)

//go:embed schema.sql
var schemaSQL string

type txBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// PostgresStore persists everything in Postgres through a pgx pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool. The caller owns the pool lifecycle unless Close is called.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates missing tables
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) NetworkVersion(ctx context.Context) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx, "SELECT version FROM network_version WHERE id = 1").Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read network version: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) LoadNetwork(ctx context.Context) (models.Network, error) {
	var network models.Network

	stops, err := queryStops(ctx, s.pool)
	if err != nil {
		return network, err
	}
	network.Stops = stops

	routes, err := s.ListRoutes(ctx)
	if err != nil {
		return network, err
	}
	network.Routes = routes

	rows, err := s.pool.Query(ctx, "SELECT route_id, stop_id, stop_order FROM route_stop ORDER BY route_id, stop_order")
	if err != nil {
		return network, fmt.Errorf("failed to query route stops: %w", err)
	}
	network.RouteStops, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.RouteStop, error) {
		var rs models.RouteStop
		err := row.Scan(&rs.RouteID, &rs.StopID, &rs.Order)
		return rs, err
	})
	if err != nil {
		return network, fmt.Errorf("failed to scan route stops: %w", err)
	}

	return network, nil
}

func (s *PostgresStore) ListRoutes(ctx context.Context) ([]models.Route, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, name FROM route ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	routes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Route, error) {
		var r models.Route
		err := row.Scan(&r.ID, &r.Name)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan routes: %w", err)
	}
	return routes, nil
}

func (s *PostgresStore) GetRoute(ctx context.Context, routeID int64) (models.RouteDetail, error) {
	detail := models.RouteDetail{Stops: []models.OrderedStop{}}
	err := s.pool.QueryRow(ctx, "SELECT id, name FROM route WHERE id = $1", routeID).
		Scan(&detail.ID, &detail.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return detail, fmt.Errorf("route %d: %w", routeID, ErrNotFound)
	}
	if err != nil {
		return detail, fmt.Errorf("failed to get route: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.name, s.lat, s.lon, rs.stop_order
		FROM route_stop rs
		JOIN stop s ON s.id = rs.stop_id
		WHERE rs.route_id = $1
		ORDER BY rs.stop_order
	`, routeID)
	if err != nil {
		return detail, fmt.Errorf("failed to query route stops: %w", err)
	}
	stops, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.OrderedStop, error) {
		var st models.OrderedStop
		err := row.Scan(&st.ID, &st.Name, &st.Lat, &st.Lon, &st.Order)
		return st, err
	})
	if err != nil {
		return detail, fmt.Errorf("failed to scan route stops: %w", err)
	}
	detail.Stops = append(detail.Stops, stops...)
	return detail, nil
}

// ReplaceNetwork rewrites the reference tables in one transaction and bumps the version
func (s *PostgresStore) ReplaceNetwork(ctx context.Context, network models.Network) (int64, error) {
	var version int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM route_stop"); err != nil {
			return fmt.Errorf("failed to clear route stops: %w", err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM route"); err != nil {
			return fmt.Errorf("failed to clear routes: %w", err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM stop"); err != nil {
			return fmt.Errorf("failed to clear stops: %w", err)
		}

		batch := &pgx.Batch{}
		for _, st := range network.Stops {
			batch.Queue("INSERT INTO stop (id, name, lat, lon) VALUES ($1, $2, $3, $4)",
				st.ID, st.Name, st.Lat, st.Lon)
		}
		for _, r := range network.Routes {
			batch.Queue("INSERT INTO route (id, name) VALUES ($1, $2)", r.ID, r.Name)
		}
		for _, rs := range network.RouteStops {
			batch.Queue("INSERT INTO route_stop (route_id, stop_id, stop_order) VALUES ($1, $2, $3)",
				rs.RouteID, rs.StopID, rs.Order)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert network: %w", err)
		}

		return tx.QueryRow(ctx, `
			INSERT INTO network_version (id, version) VALUES (1, 1)
			ON CONFLICT (id) DO UPDATE SET version = network_version.version + 1
			RETURNING version
		`).Scan(&version)
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// BumpNetworkVersion invalidates every cached graph and itinerary without touching data
func (s *PostgresStore) BumpNetworkVersion(ctx context.Context) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO network_version (id, version) VALUES (1, 1)
		ON CONFLICT (id) DO UPDATE SET version = network_version.version + 1
		RETURNING version
	`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to bump network version: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) Acquire(ctx context.Context) (Session, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &pgSession{conn: conn}, nil
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	return runTx(ctx, s.pool, fn)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func runTx(ctx context.Context, b txBeginner, fn func(Tx) error) error {
	return pgx.BeginTxFunc(ctx, b, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgSession struct {
	conn *pgxpool.Conn
}

func (p *pgSession) InTx(ctx context.Context, fn func(Tx) error) error {
	if p.conn == nil {
		return fmt.Errorf("session already released")
	}
	return runTx(ctx, p.conn, fn)
}

func (p *pgSession) Release() {
	if p.conn != nil {
		p.conn.Release()
		p.conn = nil
	}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryStops(ctx context.Context, q querier) ([]models.Stop, error) {
	rows, err := q.Query(ctx, "SELECT id, name, lat, lon FROM stop ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query stops: %w", err)
	}
	stops, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Stop, error) {
		var st models.Stop
		err := row.Scan(&st.ID, &st.Name, &st.Lat, &st.Lon)
		return st, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan stops: %w", err)
	}
	return stops, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) StopExists(ctx context.Context, stopID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM stop WHERE id = $1)", stopID).Scan(&exists)
	return exists, err
}

func (t *pgTx) RouteExists(ctx context.Context, routeID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM route WHERE id = $1)", routeID).Scan(&exists)
	return exists, err
}

func (t *pgTx) ListStops(ctx context.Context) ([]models.Stop, error) {
	return queryStops(ctx, t.tx)
}

func (t *pgTx) UpsertLiveLocation(ctx context.Context, loc models.UserLiveLocation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_live_location (user_id, lat, lon, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET lat = EXCLUDED.lat, lon = EXCLUDED.lon, updated_at = EXCLUDED.updated_at
	`, loc.UserID, loc.Lat, loc.Lon, loc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert live location: %w", err)
	}
	return nil
}

func (t *pgTx) GetRouteState(ctx context.Context, userID, routeID int64) (models.UserRouteState, error) {
	state := models.UserRouteState{UserID: userID, RouteID: routeID}
	err := t.tx.QueryRow(ctx, `
		SELECT onboard, updated_at FROM user_route_state
		WHERE user_id = $1 AND route_id = $2
		FOR UPDATE
	`, userID, routeID).Scan(&state.Onboard, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return state, ErrNotFound
	}
	if err != nil {
		return state, fmt.Errorf("failed to get route state: %w", err)
	}
	return state, nil
}

func (t *pgTx) UpsertRouteState(ctx context.Context, state models.UserRouteState) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_route_state (user_id, route_id, onboard, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, route_id) DO UPDATE
		SET onboard = EXCLUDED.onboard, updated_at = EXCLUDED.updated_at
	`, state.UserID, state.RouteID, state.Onboard, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert route state: %w", err)
	}
	return nil
}

func (t *pgTx) ListOnboardPositions(ctx context.Context) ([]models.OnboardPosition, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT s.user_id, s.route_id, l.lat, l.lon
		FROM user_route_state s
		JOIN user_live_location l ON l.user_id = s.user_id
		WHERE s.onboard
		ORDER BY s.route_id, s.user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query onboard positions: %w", err)
	}
	positions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.OnboardPosition, error) {
		var p models.OnboardPosition
		err := row.Scan(&p.UserID, &p.RouteID, &p.Lat, &p.Lon)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan onboard positions: %w", err)
	}
	return positions, nil
}

func (t *pgTx) GetSelection(ctx context.Context, userID int64) (models.UserActiveSelection, error) {
	sel := models.UserActiveSelection{UserID: userID}
	err := t.tx.QueryRow(ctx, `
		SELECT route_id, next_stop_id, at_stop, arrived_at, updated_at
		FROM user_active_selection
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&sel.RouteID, &sel.NextStopID, &sel.AtStop, &sel.ArrivedAt, &sel.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return sel, ErrNotFound
	}
	if err != nil {
		return sel, fmt.Errorf("failed to get selection: %w", err)
	}
	return sel, nil
}

func (t *pgTx) UpsertSelection(ctx context.Context, sel models.UserActiveSelection) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_active_selection (user_id, route_id, next_stop_id, at_stop, arrived_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET route_id = EXCLUDED.route_id,
		    next_stop_id = EXCLUDED.next_stop_id,
		    at_stop = EXCLUDED.at_stop,
		    arrived_at = EXCLUDED.arrived_at,
		    updated_at = EXCLUDED.updated_at
	`, sel.UserID, sel.RouteID, sel.NextStopID, sel.AtStop, sel.ArrivedAt, sel.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert selection: %w", err)
	}
	return nil
}

const busColumns = "id, route_id, lat, lon, speed, status, updated_at"

func scanBus(row pgx.Row) (models.VirtualBus, error) {
	var b models.VirtualBus
	err := row.Scan(&b.ID, &b.RouteID, &b.Lat, &b.Lon, &b.Speed, &b.Status, &b.UpdatedAt)
	return b, err
}

func (t *pgTx) GetVirtualBus(ctx context.Context, routeID int64) (models.VirtualBus, error) {
	bus, err := scanBus(t.tx.QueryRow(ctx, "SELECT "+busColumns+" FROM virtual_bus WHERE route_id = $1", routeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return bus, ErrNotFound
	}
	if err != nil {
		return bus, fmt.Errorf("failed to get virtual bus: %w", err)
	}
	return bus, nil
}

func (t *pgTx) ListVirtualBuses(ctx context.Context) ([]models.VirtualBus, error) {
	rows, err := t.tx.Query(ctx, "SELECT "+busColumns+" FROM virtual_bus ORDER BY route_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query virtual buses: %w", err)
	}
	buses, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.VirtualBus, error) {
		return scanBus(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan virtual buses: %w", err)
	}
	return buses, nil
}

// UpsertVirtualBus keeps a single row per route; the id of an existing row is preserved
func (t *pgTx) UpsertVirtualBus(ctx context.Context, bus models.VirtualBus) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO virtual_bus (id, route_id, lat, lon, speed, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (route_id) DO UPDATE
		SET lat = EXCLUDED.lat,
		    lon = EXCLUDED.lon,
		    speed = EXCLUDED.speed,
		    status = EXCLUDED.status,
		    updated_at = EXCLUDED.updated_at
	`, bus.ID, bus.RouteID, bus.Lat, bus.Lon, bus.Speed, bus.Status, bus.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert virtual bus: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteVirtualBus(ctx context.Context, routeID int64) error {
	if _, err := t.tx.Exec(ctx, "DELETE FROM virtual_bus WHERE route_id = $1", routeID); err != nil {
		return fmt.Errorf("failed to delete virtual bus: %w", err)
	}
	return nil
}
