package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/transitlive/transitlive_core/internal/models"
)

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// Conn is the subset of *nats.Conn used for publishing
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher sends virtual bus snapshots to <prefix>.<routeID>
type NATSPublisher struct {
	nc      Conn
	closer  *nats.Conn
	prefix  string
	metrics PublisherMetrics
	logger  *slog.Logger
}

func NewNATSPublisher(url, prefix string, m PublisherMetrics, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("transitlive-core"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := NewWithConn(nc, prefix, m, logger)
	p.closer = nc
	return p, nil
}

// NewWithConn wraps an existing connection
func NewWithConn(nc Conn, prefix string, m PublisherMetrics, logger *slog.Logger) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{nc: nc, prefix: subjectToken(prefix), metrics: m, logger: logger}
}

func (p *NATSPublisher) Close() {
	if p.closer != nil {
		_ = p.closer.Drain()
		p.closer.Close()
	}
}

type BusMessage struct {
	BusID     string    `json:"busId"`
	RouteID   int64     `json:"routeId"`
	Timestamp time.Time `json:"timestamp"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	SpeedMps  float64   `json:"speedMps"`
	Status    string    `json:"status"`
}

// Subject returns the subject a route's bus is published on
func (p *NATSPublisher) Subject(routeID int64) string {
	return fmt.Sprintf("%s.%s", p.prefix, subjectToken(strconv.FormatInt(routeID, 10)))
}

// PublishBuses publishes one message per bus and returns the first error after trying all of them
func (p *NATSPublisher) PublishBuses(ctx context.Context, buses []models.VirtualBus) error {
	var firstErr error
	for _, b := range buses {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := p.publish(p.Subject(b.RouteID), BusMessage{
			BusID:     b.ID,
			RouteID:   b.RouteID,
			Timestamp: b.UpdatedAt,
			Lat:       b.Lat,
			Lon:       b.Lon,
			SpeedMps:  b.Speed,
			Status:    b.Status,
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *NATSPublisher) publish(subject string, msg BusMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.logger.Debug("nats publish", slog.String("subject", subject))
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
