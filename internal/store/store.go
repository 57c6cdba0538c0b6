package store

import (
	"context"
	"errors"

	"github.com/transitlive/transitlive_core/internal/models"
)

// ErrNotFound is returned when a referenced entity does not exist
var ErrNotFound = errors.New("not found")

// Tx is the set of reads and writes available inside one transaction
type Tx interface {
	StopExists(ctx context.Context, stopID int64) (bool, error)
	RouteExists(ctx context.Context, routeID int64) (bool, error)
	ListStops(ctx context.Context) ([]models.Stop, error)

	UpsertLiveLocation(ctx context.Context, loc models.UserLiveLocation) error

	GetRouteState(ctx context.Context, userID, routeID int64) (models.UserRouteState, error)
	UpsertRouteState(ctx context.Context, state models.UserRouteState) error
	ListOnboardPositions(ctx context.Context) ([]models.OnboardPosition, error)

	GetSelection(ctx context.Context, userID int64) (models.UserActiveSelection, error)
	UpsertSelection(ctx context.Context, sel models.UserActiveSelection) error

	GetVirtualBus(ctx context.Context, routeID int64) (models.VirtualBus, error)
	ListVirtualBuses(ctx context.Context) ([]models.VirtualBus, error)
	UpsertVirtualBus(ctx context.Context, bus models.VirtualBus) error
	DeleteVirtualBus(ctx context.Context, routeID int64) error
}

// Session is a connection borrowed from the store. Release must be called exactly once.
type Session interface {
	InTx(ctx context.Context, fn func(Tx) error) error
	Release()
}

// Store is the persistence contract shared by the Postgres and in-memory backends
type Store interface {
	NetworkVersion(ctx context.Context) (int64, error)
	LoadNetwork(ctx context.Context) (models.Network, error)
	ListRoutes(ctx context.Context) ([]models.Route, error)
	GetRoute(ctx context.Context, routeID int64) (models.RouteDetail, error)

	// ReplaceNetwork swaps the reference data and bumps the network version
	ReplaceNetwork(ctx context.Context, network models.Network) (int64, error)

	Acquire(ctx context.Context) (Session, error)
	InTx(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
	Close()
}
