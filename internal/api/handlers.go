package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/transitlive/transitlive_core/internal/models"
	"github.com/transitlive/transitlive_core/internal/store"
)

const (
	defaultNearbyRadius = 500
	maxNearbyRadius     = 5000
)

// Planner is the itinerary side of the API
type Planner interface {
	PlanItinerary(ctx context.Context, fromLat, fromLon, toLat, toLon float64) (*models.ItineraryResult, error)
	NearbyStops(ctx context.Context, lat, lon, radius float64) ([]models.StopMatch, error)
	ListRoutes(ctx context.Context) ([]models.Route, error)
	GetRoute(ctx context.Context, routeID int64) (models.RouteDetail, error)
}

// Tracker is the crowd tracking side of the API
type Tracker interface {
	UpdateUserLocation(ctx context.Context, userID, routeID int64, lat, lon float64) (models.StatusReport, error)
	CheckStatus(ctx context.Context, userID int64, lat, lon float64) (models.StatusReport, error)
	SelectRoute(ctx context.Context, userID, routeID int64) (models.UserActiveSelection, error)
	SetNextStop(ctx context.Context, userID, stopID int64) (models.UserActiveSelection, error)
	VirtualBuses(ctx context.Context, routeID int64) ([]models.VirtualBus, error)
}

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

type Handlers struct {
	planner  Planner
	tracker  Tracker
	checks   map[string]HealthCheck
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandlers(planner Planner, tracker Tracker, checks map[string]HealthCheck, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		planner:  planner,
		tracker:  tracker,
		checks:   checks,
		validate: validator.New(),
		logger:   logger,
	}
}

// Register mounts every endpoint. locationLimit guards the location update
// endpoint and may be nil.
func (h *Handlers) Register(app fiber.Router, locationLimit fiber.Handler) {
	app.Get("/health", h.Health)

	v1 := app.Group("/v1")
	v1.Get("/itinerary", h.ItineraryQuery)
	v1.Post("/itinerary", h.ItineraryBody)
	v1.Get("/routes", h.ListRoutes)
	v1.Get("/routes/:id", h.GetRoute)
	v1.Get("/routes/:id/buses", h.VirtualBuses)
	v1.Get("/stops/nearby", h.StopsNearby)

	tracking := v1.Group("/tracking")
	if locationLimit != nil {
		tracking.Post("/location", locationLimit, h.UpdateLocation)
	} else {
		tracking.Post("/location", h.UpdateLocation)
	}
	tracking.Post("/status", h.CheckStatus)
	tracking.Post("/selection", h.SelectRoute)
	tracking.Post("/next-stop", h.SetNextStop)
}

// Point is a decimal-degree coordinate pair
type Point struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
}

type ItineraryRequest struct {
	From Point `json:"from"`
	To   Point `json:"to"`
}

type LocationRequest struct {
	UserID  int64    `json:"user_id" validate:"required,gt=0"`
	RouteID int64    `json:"route_id" validate:"required,gt=0"`
	Lat     *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon     *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
}

type StatusRequest struct {
	UserID int64    `json:"user_id" validate:"required,gt=0"`
	Lat    *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon    *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
}

type SelectionRequest struct {
	UserID  int64 `json:"user_id" validate:"required,gt=0"`
	RouteID int64 `json:"route_id" validate:"required,gt=0"`
}

type NextStopRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
	StopID int64 `json:"stop_id" validate:"required,gt=0"`
}

// ItineraryQuery handles GET /v1/itinerary?from=lat,lon&to=lat,lon
func (h *Handlers) ItineraryQuery(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")

	if fromStr == "" || toStr == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "missing required parameters: from and to",
		})
	}

	fromLat, fromLon, err := parseCoordinates(fromStr)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("invalid 'from' coordinates: %v", err),
		})
	}

	toLat, toLon, err := parseCoordinates(toStr)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("invalid 'to' coordinates: %v", err),
		})
	}

	return h.plan(c, fromLat, fromLon, toLat, toLon)
}

// ItineraryBody handles POST /v1/itinerary
func (h *Handlers) ItineraryBody(c *fiber.Ctx) error {
	var req ItineraryRequest
	if err := h.bind(c, &req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	return h.plan(c, *req.From.Lat, *req.From.Lon, *req.To.Lat, *req.To.Lon)
}

func (h *Handlers) plan(c *fiber.Ctx, fromLat, fromLon, toLat, toLon float64) error {
	result, err := h.planner.PlanItinerary(c.UserContext(), fromLat, fromLon, toLat, toLon)
	if err != nil {
		return h.fail(c, err)
	}
	status := fiber.StatusOK
	if result.Status != models.StatusFound {
		status = fiber.StatusNotFound
	}
	return c.Status(status).JSON(result)
}

// UpdateLocation handles POST /v1/tracking/location
func (h *Handlers) UpdateLocation(c *fiber.Ctx) error {
	var req LocationRequest
	if err := h.bind(c, &req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	report, err := h.tracker.UpdateUserLocation(c.UserContext(), req.UserID, req.RouteID, *req.Lat, *req.Lon)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(report)
}

// CheckStatus handles POST /v1/tracking/status
func (h *Handlers) CheckStatus(c *fiber.Ctx) error {
	var req StatusRequest
	if err := h.bind(c, &req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	report, err := h.tracker.CheckStatus(c.UserContext(), req.UserID, *req.Lat, *req.Lon)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(report)
}

// SelectRoute handles POST /v1/tracking/selection
func (h *Handlers) SelectRoute(c *fiber.Ctx) error {
	var req SelectionRequest
	if err := h.bind(c, &req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	sel, err := h.tracker.SelectRoute(c.UserContext(), req.UserID, req.RouteID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(sel)
}

// SetNextStop handles POST /v1/tracking/next-stop
func (h *Handlers) SetNextStop(c *fiber.Ctx) error {
	var req NextStopRequest
	if err := h.bind(c, &req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	sel, err := h.tracker.SetNextStop(c.UserContext(), req.UserID, req.StopID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(sel)
}

// VirtualBuses handles GET /v1/routes/:id/buses
func (h *Handlers) VirtualBuses(c *fiber.Ctx) error {
	routeID, err := parseID(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid route id"})
	}
	buses, err := h.tracker.VirtualBuses(c.UserContext(), routeID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"route_id": routeID, "buses": buses})
}

// ListRoutes handles GET /v1/routes
func (h *Handlers) ListRoutes(c *fiber.Ctx) error {
	routes, err := h.planner.ListRoutes(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	if routes == nil {
		routes = []models.Route{}
	}
	return c.JSON(fiber.Map{"routes": routes})
}

// GetRoute handles GET /v1/routes/:id
func (h *Handlers) GetRoute(c *fiber.Ctx) error {
	routeID, err := parseID(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid route id"})
	}
	route, err := h.planner.GetRoute(c.UserContext(), routeID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(route)
}

// StopsNearby handles GET /v1/stops/nearby?lat=&lon=&radius=
func (h *Handlers) StopsNearby(c *fiber.Ctx) error {
	latStr := c.Query("lat")
	lonStr := c.Query("lon")

	if latStr == "" || lonStr == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "missing required parameters: lat and lon",
		})
	}

	lat, lon, err := parseCoordinates(latStr + "," + lonStr)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("invalid coordinates: %v", err),
		})
	}

	radius, err := strconv.Atoi(c.Query("radius", strconv.Itoa(defaultNearbyRadius)))
	if err != nil || radius < 0 || radius > maxNearbyRadius {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("invalid radius (must be between 0 and %d meters)", maxNearbyRadius),
		})
	}

	stops, err := h.planner.NearbyStops(c.UserContext(), lat, lon, float64(radius))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"stops": stops})
}

// Health handles GET /health
func (h *Handlers) Health(c *fiber.Ctx) error {
	checks := fiber.Map{}
	healthy := true
	for name, check := range h.checks {
		if err := check(c.UserContext()); err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	if !healthy {
		return c.Status(503).JSON(fiber.Map{"status": "unhealthy", "checks": checks})
	}
	return c.JSON(fiber.Map{"status": "healthy", "checks": checks})
}

// bind parses and validates a JSON body
func (h *Handlers) bind(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return fmt.Errorf("invalid request body: %v", err)
	}
	if err := h.validate.Struct(req); err != nil {
		return errors.New(validationMessage(err))
	}
	return nil
}

func (h *Handlers) fail(c *fiber.Ctx, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": err.Error()})
	}
	h.logger.Error("request failed",
		slog.String("method", c.Method()),
		slog.String("path", c.Path()),
		slog.String("error", err.Error()))
	return c.Status(500).JSON(fiber.Map{"error": "internal server error"})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// parseCoordinates parses "lat,lon" string into floats
func parseCoordinates(coordStr string) (lat, lon float64, err error) {
	parts := strings.Split(coordStr, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected format: lat,lon")
	}

	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude: %w", err)
	}

	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude: %w", err)
	}

	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return 0, 0, fmt.Errorf("coordinates must be finite numbers")
	}
	if lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("latitude must be between -90 and 90")
	}
	if lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("longitude must be between -180 and 180")
	}

	return lat, lon, nil
}
