package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/transitlive/transitlive_core/internal/graph"
	"github.com/transitlive/transitlive_core/internal/models"
)

const (
	DefaultMaxStopRadius = 300.0 // meters
	routingTimeout       = 10 * time.Second
)

// NetworkSource is the read side of the network reference data
type NetworkSource interface {
	NetworkVersion(ctx context.Context) (int64, error)
	LoadNetwork(ctx context.Context) (models.Network, error)
	ListRoutes(ctx context.Context) ([]models.Route, error)
	GetRoute(ctx context.Context, routeID int64) (models.RouteDetail, error)
}

// ResultCache returns a cached itinerary for key or computes and stores it
type ResultCache interface {
	Fetch(ctx context.Context, key string, compute func(ctx context.Context) (*models.ItineraryResult, error)) (*models.ItineraryResult, error)
}

// KeyFunc derives a cache key from the network version and the query
type KeyFunc func(version int64, fromLat, fromLon, toLat, toLon float64) string

// Options parameterise the planner
type Options struct {
	Graph           graph.Options
	TransferPenalty float64
	MaxStopRadius   float64
}

// DefaultOptions returns 20 km/h, 15 min transfer penalty and 300 m stop radius
func DefaultOptions() Options {
	return Options{
		Graph:           graph.DefaultOptions(),
		TransferPenalty: DefaultTransferPenalty,
		MaxStopRadius:   DefaultMaxStopRadius,
	}
}

// Planner resolves coordinates to stops and plans itineraries over the network graph
type Planner struct {
	src     NetworkSource
	graphs  *graph.Cache
	builder *graph.Builder
	cache   ResultCache
	keyFn   KeyFunc
	opts    Options
	logger  *slog.Logger
}

// NewPlanner creates a planner. cache and keyFn may be nil to disable result caching.
func NewPlanner(src NetworkSource, opts Options, cache ResultCache, keyFn KeyFunc, logger *slog.Logger) *Planner {
	if opts.MaxStopRadius <= 0 {
		opts.MaxStopRadius = DefaultMaxStopRadius
	}
	if opts.TransferPenalty < 0 {
		opts.TransferPenalty = DefaultTransferPenalty
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		src:     src,
		graphs:  graph.NewCache(),
		builder: graph.NewBuilder(opts.Graph, logger),
		cache:   cache,
		keyFn:   keyFn,
		opts:    opts,
		logger:  logger,
	}
}

// Graph returns the graph for the current network version, rebuilding it when the version moved
func (p *Planner) Graph(ctx context.Context) (*graph.Graph, error) {
	version, err := p.src.NetworkVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read network version: %w", err)
	}
	return p.graphs.Get(ctx, version, func(ctx context.Context) (*graph.Graph, error) {
		network, err := p.src.LoadNetwork(ctx)
		if err != nil {
			return nil, err
		}
		g := p.builder.Build(network)
		p.logger.Info("routing graph rebuilt",
			slog.Int64("version", version),
			slog.Int("nodes", len(g.Nodes)),
			slog.Int("edges", g.EdgeCount()))
		return g, nil
	})
}

// PlanItinerary resolves both points to their nearest stops and plans between them.
// Only store failures are returned as errors; every planning outcome is a status.
func (p *Planner) PlanItinerary(ctx context.Context, fromLat, fromLon, toLat, toLon float64) (*models.ItineraryResult, error) {
	ctx, cancel := context.WithTimeout(ctx, routingTimeout)
	defer cancel()

	if p.cache == nil || p.keyFn == nil {
		return p.plan(ctx, fromLat, fromLon, toLat, toLon)
	}

	version, err := p.src.NetworkVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read network version: %w", err)
	}
	key := p.keyFn(version, fromLat, fromLon, toLat, toLon)
	return p.cache.Fetch(ctx, key, func(ctx context.Context) (*models.ItineraryResult, error) {
		return p.plan(ctx, fromLat, fromLon, toLat, toLon)
	})
}

func (p *Planner) plan(ctx context.Context, fromLat, fromLon, toLat, toLon float64) (*models.ItineraryResult, error) {
	g, err := p.Graph(ctx)
	if err != nil {
		return nil, err
	}

	origin, ok := g.Index.Nearest(fromLat, fromLon, p.opts.MaxStopRadius)
	if !ok {
		return &models.ItineraryResult{
			Status:  models.StatusNoOriginStop,
			Message: fmt.Sprintf("no stop within %.0f m of the origin", p.opts.MaxStopRadius),
		}, nil
	}

	destination, ok := g.Index.Nearest(toLat, toLon, p.opts.MaxStopRadius)
	if !ok {
		return &models.ItineraryResult{
			Status:     models.StatusNoDestinationStop,
			Message:    fmt.Sprintf("no stop within %.0f m of the destination", p.opts.MaxStopRadius),
			OriginStop: &origin,
		}, nil
	}

	if !g.HasNode(origin.ID) || !g.HasNode(destination.ID) {
		return &models.ItineraryResult{
			Status:          models.StatusNotFound,
			Message:         "origin or destination stop is not served by any route",
			OriginStop:      &origin,
			DestinationStop: &destination,
		}, nil
	}

	path, err := Plan(ctx, g, origin.ID, destination.ID, p.opts.TransferPenalty)
	if errors.Is(err, ErrNoPath) {
		msg := fmt.Sprintf("nearest stops are %s (%.0f m) and %s (%.0f m) but no route connects them",
			origin.Name, origin.DistanceM, destination.Name, destination.DistanceM)
		return &models.ItineraryResult{
			Status:          models.StatusDisconnected,
			Message:         msg,
			OriginStop:      &origin,
			DestinationStop: &destination,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	return &models.ItineraryResult{
		Status:          models.StatusFound,
		Message:         fmt.Sprintf("itinerary found with %d transfer(s)", path.Transfers),
		OriginStop:      &origin,
		DestinationStop: &destination,
		TotalSeconds:    path.Total,
		TotalFormatted:  FormatDuration(path.Total),
		Transfers:       path.Transfers,
		Segments:        buildSegments(g, path, p.opts.TransferPenalty),
	}, nil
}

// NearbyStops lists stops within radius meters, closest first
func (p *Planner) NearbyStops(ctx context.Context, lat, lon, radius float64) ([]models.StopMatch, error) {
	g, err := p.Graph(ctx)
	if err != nil {
		return nil, err
	}
	matches := g.Index.Within(lat, lon, radius)
	if matches == nil {
		matches = []models.StopMatch{}
	}
	return matches, nil
}

// ListRoutes returns every route
func (p *Planner) ListRoutes(ctx context.Context) ([]models.Route, error) {
	return p.src.ListRoutes(ctx)
}

// GetRoute returns a route with its stops in traversal order
func (p *Planner) GetRoute(ctx context.Context, routeID int64) (models.RouteDetail, error) {
	return p.src.GetRoute(ctx, routeID)
}
