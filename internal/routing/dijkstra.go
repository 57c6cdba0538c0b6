package routing

import (
	"container/heap"
	"context"
	"errors"
	"fmt"

	"github.com/transitlive/transitlive_core/internal/graph"
	"github.com/transitlive/transitlive_core/internal/models"
)

// DefaultTransferPenalty is charged whenever a path switches routes (15 min)
const DefaultTransferPenalty = 15 * 60.0

// ErrNoPath is returned when the end stop cannot be reached from the start stop
var ErrNoPath = errors.New("no path between stops")

// Hop is one edge of a planned path. Transfer marks a route change before the hop.
type Hop struct {
	Edge     models.Edge
	Transfer bool
}

// Path is the result of a search
type Path struct {
	Hops      []Hop
	Total     float64 // seconds, penalties included
	Transfers int
}

// label is a search state: the stop reached and the route used to reach it
type label struct {
	stop     int64
	route    int64
	hasRoute bool
}

type predecessor struct {
	from label
	edge models.Edge
}

// Plan runs Dijkstra over (stop, arriving route) labels. Relaxing an edge of
// a different route than the one used to arrive adds penalty to its cost.
// The first edge out of start never pays the penalty.
func Plan(ctx context.Context, g *graph.Graph, start, end int64, penalty float64) (*Path, error) {
	if !g.HasNode(start) || !g.HasNode(end) {
		return nil, ErrNoPath
	}

	startLabel := label{stop: start}
	dist := map[label]float64{startLabel: 0}
	prev := make(map[label]predecessor)
	settled := make(map[label]bool)

	openSet := &PriorityQueue{}
	heap.Init(openSet)
	heap.Push(openSet, &searchState{label: startLabel, cost: 0})

	explored := 0
	for openSet.Len() > 0 {
		if explored%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("planning aborted: %w", err)
			}
		}

		current := heap.Pop(openSet).(*searchState)
		if settled[current.label] {
			continue
		}
		settled[current.label] = true
		explored++

		if current.label.stop == end {
			return reconstruct(current.label, startLabel, prev, current.cost), nil
		}

		for _, edge := range g.Neighbors(current.label.stop) {
			cost := current.cost + edge.Cost
			if current.label.hasRoute && current.label.route != edge.RouteID {
				cost += penalty
			}

			next := label{stop: edge.ToStopID, route: edge.RouteID, hasRoute: true}
			if settled[next] {
				continue
			}
			if best, ok := dist[next]; ok && cost >= best {
				continue
			}

			dist[next] = cost
			prev[next] = predecessor{from: current.label, edge: edge}
			heap.Push(openSet, &searchState{label: next, cost: cost})
		}
	}

	return nil, ErrNoPath
}

// reconstruct walks predecessors back to start and re-derives transfers from
// consecutive route ids on the forward path.
func reconstruct(end, start label, prev map[label]predecessor, total float64) *Path {
	var edges []models.Edge
	for at := end; at != start; {
		p := prev[at]
		edges = append(edges, p.edge)
		at = p.from
	}

	path := &Path{Hops: make([]Hop, len(edges)), Total: total}
	for i := range edges {
		e := edges[len(edges)-1-i]
		transfer := i > 0 && path.Hops[i-1].Edge.RouteID != e.RouteID
		if transfer {
			path.Transfers++
		}
		path.Hops[i] = Hop{Edge: e, Transfer: transfer}
	}
	return path
}

// searchState is a heap entry
type searchState struct {
	label label
	cost  float64
	index int // for heap
}

// PriorityQueue implements heap.Interface ordered by accumulated cost
type PriorityQueue []*searchState

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	return pq[i].cost < pq[j].cost
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *PriorityQueue) Push(x interface{}) {
	n := len(*pq)
	state := x.(*searchState)
	state.index = n
	*pq = append(*pq, state)
}

func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	state := old[n-1]
	old[n-1] = nil
	state.index = -1
	*pq = old[0 : n-1]
	return state
}
