package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/transitlive/transitlive_core/internal/models"
)

type Collector struct {
	reg *prometheus.Registry

	AggregationCycles *prometheus.CounterVec // result label: success|failure
	CycleDuration     prometheus.Histogram
	ActiveBuses       prometheus.Gauge
	BusesCreated      prometheus.Counter
	BusesRemoved      prometheus.Counter

	HTTPRequests *prometheus.CounterVec   // method, route, status
	HTTPDuration *prometheus.HistogramVec // method, route
	RateLimited  prometheus.Counter

	ItineraryCache *prometheus.CounterVec // result label: hit|miss

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	AggregationInterval prometheus.Gauge // seconds
}

func NewCollector(aggregationInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		AggregationCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitlive_aggregation_cycles_total",
			Help: "Aggregation cycles by outcome.",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transitlive_aggregation_cycle_duration_seconds",
			Help:    "Duration of aggregation cycles.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		ActiveBuses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitlive_virtual_buses",
			Help: "Virtual buses after the last successful cycle.",
		}),
		BusesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitlive_virtual_buses_created_total",
			Help: "Virtual buses created.",
		}),
		BusesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitlive_virtual_buses_removed_total",
			Help: "Virtual buses retired for lack of onboard users.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitlive_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transitlive_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}, []string{"method", "route"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitlive_rate_limited_total",
			Help: "Location updates rejected by the rate limiter.",
		}),
		ItineraryCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitlive_itinerary_cache_total",
			Help: "Itinerary cache lookups by result.",
		}, []string{"result"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitlive_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitlive_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitlive_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transitlive_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		AggregationInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitlive_aggregation_interval_seconds",
			Help: "Configured pause between aggregation cycles.",
		}),
	}

	reg.MustRegister(
		c.AggregationCycles, c.CycleDuration, c.ActiveBuses, c.BusesCreated, c.BusesRemoved,
		c.HTTPRequests, c.HTTPDuration, c.RateLimited, c.ItineraryCache,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.AggregationInterval,
	)

	c.AggregationInterval.Set(aggregationInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Registry exposes the private registry, mostly for tests
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// ObserveCycle records one aggregation cycle. The bus gauge only moves on success.
func (c *Collector) ObserveCycle(result models.CycleResult, elapsed time.Duration, err error) {
	c.CycleDuration.Observe(elapsed.Seconds())
	if err != nil {
		c.AggregationCycles.WithLabelValues("failure").Inc()
		return
	}
	c.AggregationCycles.WithLabelValues("success").Inc()
	c.ActiveBuses.Set(float64(len(result.Buses)))
	c.BusesCreated.Add(float64(result.Created))
	c.BusesRemoved.Add(float64(result.Removed))
}

func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (c *Collector) RateLimitedInc() { c.RateLimited.Inc() }

func (c *Collector) CacheLookup(hit bool) {
	if hit {
		c.ItineraryCache.WithLabelValues("hit").Inc()
		return
	}
	c.ItineraryCache.WithLabelValues("miss").Inc()
}

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}
