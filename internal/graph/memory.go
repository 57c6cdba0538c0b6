package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/transitlive/transitlive_core/internal/geo"
	"github.com/transitlive/transitlive_core/internal/models"
)

// Graph is the in-memory adjacency structure used by the planner
type Graph struct {
	Nodes     map[int64]models.Stop   // stopID -> Stop
	Edges     map[int64][]models.Edge // fromStopID -> outgoing edges
	Routes    map[int64]models.Route  // routeID -> Route
	Index     *geo.StopIndex          // every network stop, served by a route or not
	edgeCount int
}

func newGraph() *Graph {
	return &Graph{
		Nodes:  make(map[int64]models.Stop),
		Edges:  make(map[int64][]models.Edge),
		Routes: make(map[int64]models.Route),
		Index:  geo.NewStopIndex(nil),
	}
}

func (g *Graph) addEdge(e models.Edge) {
	g.Edges[e.FromStopID] = append(g.Edges[e.FromStopID], e)
	g.edgeCount++
}

// HasNode reports whether a stop is served by any route
func (g *Graph) HasNode(stopID int64) bool {
	_, ok := g.Nodes[stopID]
	return ok
}

// Neighbors returns outgoing edges for a stop
func (g *Graph) Neighbors(stopID int64) []models.Edge {
	return g.Edges[stopID]
}

// EdgeCount returns the number of directed edges
func (g *Graph) EdgeCount() int {
	return g.edgeCount
}

// RouteName returns a route's display name, falling back to its id
func (g *Graph) RouteName(routeID int64) string {
	if r, ok := g.Routes[routeID]; ok && r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("%d", routeID)
}

// Loader builds a graph for the current network
type Loader func(ctx context.Context) (*Graph, error)

// Cache keeps the last built graph keyed by the network version it was built from.
// A version change is the only thing that triggers a rebuild.
type Cache struct {
	mu      sync.RWMutex
	graph   *Graph
	version int64
	loaded  bool
}

// NewCache creates an empty graph cache
func NewCache() *Cache {
	return &Cache{}
}

// Get returns the cached graph when it was built for version, otherwise loads a new one
func (c *Cache) Get(ctx context.Context, version int64, load Loader) (*Graph, error) {
	c.mu.RLock()
	if c.loaded && c.version == version {
		g := c.graph
		c.mu.RUnlock()
		return g, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// another caller may have rebuilt while we waited
	if c.loaded && c.version == version {
		return c.graph, nil
	}

	g, err := load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph: %w", err)
	}

	c.graph = g
	c.version = version
	c.loaded = true
	return g, nil
}

// Invalidate drops the cached graph
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.graph = nil
	c.loaded = false
}

// Version returns the network version of the cached graph
func (c *Cache) Version() (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version, c.loaded
}
