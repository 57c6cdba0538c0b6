package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/transitlive/transitlive_core/internal/models"
)

type userRoute struct {
	userID  int64
	routeID int64
}

type memoryData struct {
	locations  map[int64]models.UserLiveLocation
	states     map[userRoute]models.UserRouteState
	selections map[int64]models.UserActiveSelection
	buses      map[int64]models.VirtualBus
}

func newMemoryData() *memoryData {
	return &memoryData{
		locations:  make(map[int64]models.UserLiveLocation),
		states:     make(map[userRoute]models.UserRouteState),
		selections: make(map[int64]models.UserActiveSelection),
		buses:      make(map[int64]models.VirtualBus),
	}
}

func (d *memoryData) clone() *memoryData {
	c := newMemoryData()
	for k, v := range d.locations {
		c.locations[k] = v
	}
	for k, v := range d.states {
		c.states[k] = v
	}
	for k, v := range d.selections {
		c.selections[k] = cloneSelection(v)
	}
	for k, v := range d.buses {
		c.buses[k] = v
	}
	return c
}

func cloneSelection(s models.UserActiveSelection) models.UserActiveSelection {
	if s.RouteID != nil {
		v := *s.RouteID
		s.RouteID = &v
	}
	if s.NextStopID != nil {
		v := *s.NextStopID
		s.NextStopID = &v
	}
	if s.ArrivedAt != nil {
		v := *s.ArrivedAt
		s.ArrivedAt = &v
	}
	return s
}

// MemoryStore keeps everything in process. Transactions run one at a time
// against a copy of the data that is committed only when fn succeeds.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	network models.Network
	stops   map[int64]models.Stop
	routes  map[int64]models.Route
	version int64
	data    *memoryData

	acquired int
	released int
}

// NewMemoryStore creates a store holding network at version 1
func NewMemoryStore(network models.Network) *MemoryStore {
	s := &MemoryStore{data: newMemoryData()}
	s.setNetwork(network)
	s.version = 1
	return s
}

func (s *MemoryStore) setNetwork(network models.Network) {
	s.network = network
	s.stops = make(map[int64]models.Stop, len(network.Stops))
	for _, st := range network.Stops {
		s.stops[st.ID] = st
	}
	s.routes = make(map[int64]models.Route, len(network.Routes))
	for _, r := range network.Routes {
		s.routes[r.ID] = r
	}
}

func (s *MemoryStore) NetworkVersion(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version, nil
}

func (s *MemoryStore) LoadNetwork(ctx context.Context) (models.Network, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.Network{
		Stops:      append([]models.Stop(nil), s.network.Stops...),
		Routes:     append([]models.Route(nil), s.network.Routes...),
		RouteStops: append([]models.RouteStop(nil), s.network.RouteStops...),
	}, nil
}

func (s *MemoryStore) ListRoutes(ctx context.Context) ([]models.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	routes := append([]models.Route{}, s.network.Routes...)
	sort.Slice(routes, func(i, j int) bool { return routes[i].ID < routes[j].ID })
	return routes, nil
}

func (s *MemoryStore) GetRoute(ctx context.Context, routeID int64) (models.RouteDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	route, ok := s.routes[routeID]
	if !ok {
		return models.RouteDetail{}, fmt.Errorf("route %d: %w", routeID, ErrNotFound)
	}
	detail := models.RouteDetail{Route: route, Stops: []models.OrderedStop{}}
	for _, rs := range s.network.RouteStops {
		if rs.RouteID != routeID {
			continue
		}
		if stop, ok := s.stops[rs.StopID]; ok {
			detail.Stops = append(detail.Stops, models.OrderedStop{Stop: stop, Order: rs.Order})
		}
	}
	sort.SliceStable(detail.Stops, func(i, j int) bool { return detail.Stops[i].Order < detail.Stops[j].Order })
	return detail, nil
}

func (s *MemoryStore) ReplaceNetwork(ctx context.Context, network models.Network) (int64, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setNetwork(network)
	s.version++
	return s.version, nil
}

func (s *MemoryStore) Acquire(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.acquired++
	s.mu.Unlock()
	return &memorySession{store: s}, nil
}

// InTx runs fn against a private copy of the data and commits it when fn returns nil
func (s *MemoryStore) InTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	if err := fn(&memoryTx{store: s, data: work}); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() {}

// OpenSessions returns the number of acquired sessions not yet released
func (s *MemoryStore) OpenSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.acquired - s.released
}

type memorySession struct {
	store    *MemoryStore
	released bool
}

func (m *memorySession) InTx(ctx context.Context, fn func(Tx) error) error {
	if m.released {
		return fmt.Errorf("session already released")
	}
	return m.store.InTx(ctx, fn)
}

func (m *memorySession) Release() {
	if m.released {
		return
	}
	m.released = true
	m.store.mu.Lock()
	m.store.released++
	m.store.mu.Unlock()
}

type memoryTx struct {
	store *MemoryStore
	data  *memoryData
}

func (t *memoryTx) StopExists(ctx context.Context, stopID int64) (bool, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	_, ok := t.store.stops[stopID]
	return ok, nil
}

func (t *memoryTx) RouteExists(ctx context.Context, routeID int64) (bool, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	_, ok := t.store.routes[routeID]
	return ok, nil
}

func (t *memoryTx) ListStops(ctx context.Context) ([]models.Stop, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return append([]models.Stop(nil), t.store.network.Stops...), nil
}

func (t *memoryTx) UpsertLiveLocation(ctx context.Context, loc models.UserLiveLocation) error {
	t.data.locations[loc.UserID] = loc
	return nil
}

func (t *memoryTx) GetRouteState(ctx context.Context, userID, routeID int64) (models.UserRouteState, error) {
	state, ok := t.data.states[userRoute{userID, routeID}]
	if !ok {
		return models.UserRouteState{}, ErrNotFound
	}
	return state, nil
}

func (t *memoryTx) UpsertRouteState(ctx context.Context, state models.UserRouteState) error {
	t.data.states[userRoute{state.UserID, state.RouteID}] = state
	return nil
}

func (t *memoryTx) ListOnboardPositions(ctx context.Context) ([]models.OnboardPosition, error) {
	positions := []models.OnboardPosition{}
	for key, state := range t.data.states {
		if !state.Onboard {
			continue
		}
		loc, ok := t.data.locations[key.userID]
		if !ok {
			continue
		}
		positions = append(positions, models.OnboardPosition{
			UserID:  key.userID,
			RouteID: key.routeID,
			Lat:     loc.Lat,
			Lon:     loc.Lon,
		})
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].RouteID != positions[j].RouteID {
			return positions[i].RouteID < positions[j].RouteID
		}
		return positions[i].UserID < positions[j].UserID
	})
	return positions, nil
}

func (t *memoryTx) GetSelection(ctx context.Context, userID int64) (models.UserActiveSelection, error) {
	sel, ok := t.data.selections[userID]
	if !ok {
		return models.UserActiveSelection{}, ErrNotFound
	}
	return cloneSelection(sel), nil
}

func (t *memoryTx) UpsertSelection(ctx context.Context, sel models.UserActiveSelection) error {
	t.data.selections[sel.UserID] = cloneSelection(sel)
	return nil
}

func (t *memoryTx) GetVirtualBus(ctx context.Context, routeID int64) (models.VirtualBus, error) {
	bus, ok := t.data.buses[routeID]
	if !ok {
		return models.VirtualBus{}, ErrNotFound
	}
	return bus, nil
}

func (t *memoryTx) ListVirtualBuses(ctx context.Context) ([]models.VirtualBus, error) {
	buses := make([]models.VirtualBus, 0, len(t.data.buses))
	for _, b := range t.data.buses {
		buses = append(buses, b)
	}
	sort.Slice(buses, func(i, j int) bool { return buses[i].RouteID < buses[j].RouteID })
	return buses, nil
}

func (t *memoryTx) UpsertVirtualBus(ctx context.Context, bus models.VirtualBus) error {
	t.data.buses[bus.RouteID] = bus
	return nil
}

func (t *memoryTx) DeleteVirtualBus(ctx context.Context, routeID int64) error {
	delete(t.data.buses, routeID)
	return nil
}
