package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transitlive/transitlive_core/internal/logging"
	"github.com/transitlive/transitlive_core/internal/models"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	failOn   string
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if subject == f.failOn {
		return errors.New("nats: connection closed")
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

type countingMetrics struct {
	published, errs int
}

func (c *countingMetrics) NATSPublishedInc()              { c.published++ }
func (c *countingMetrics) NATSPublishErrInc()             { c.errs++ }
func (c *countingMetrics) PublishObserve(d time.Duration) {}
func (c *countingMetrics) NATSSetConnected(bool)          {}

func TestSubjectToken(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"buses", "buses"},
		{" city.buses ", "city_buses"},
		{"a>b*c", "a_b_c"},
		{"", "_"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, subjectToken(tt.in))
		})
	}
}

func TestPublishBuses(t *testing.T) {
	conn := &fakeConn{}
	m := &countingMetrics{}
	p := NewWithConn(conn, "buses", m, logging.Discard())
	ts := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	err := p.PublishBuses(context.Background(), []models.VirtualBus{
		{ID: "a", RouteID: 1, Lat: 10, Lon: -75, Status: models.BusStatusActive, UpdatedAt: ts},
		{ID: "b", RouteID: 22, Lat: 11, Lon: -76, Status: models.BusStatusActive, UpdatedAt: ts},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"buses.1", "buses.22"}, conn.subjects)
	assert.Equal(t, 2, m.published)

	var msg BusMessage
	require.NoError(t, json.Unmarshal(conn.payloads[1], &msg))
	assert.Equal(t, "b", msg.BusID)
	assert.Equal(t, int64(22), msg.RouteID)
	assert.Equal(t, ts, msg.Timestamp)
}

func TestPublishBusesContinuesAfterError(t *testing.T) {
	conn := &fakeConn{failOn: "buses.1"}
	m := &countingMetrics{}
	p := NewWithConn(conn, "buses", m, logging.Discard())

	err := p.PublishBuses(context.Background(), []models.VirtualBus{{ID: "a", RouteID: 1}, {ID: "b", RouteID: 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buses.1")
	assert.Equal(t, []string{"buses.2"}, conn.subjects)
	assert.Equal(t, 1, m.errs)
	assert.Equal(t, 1, m.published)
}

func TestPublishRetiredBus(t *testing.T) {
	conn := &fakeConn{}
	p := NewWithConn(conn, "buses", nil, logging.Discard())
	ts := time.Date(2024, 3, 1, 8, 0, 30, 0, time.UTC)

	err := p.PublishBuses(context.Background(), []models.VirtualBus{
		{ID: "gone", RouteID: 4, Lat: 10, Lon: -75, Status: models.BusStatusInactive, UpdatedAt: ts},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"buses.4"}, conn.subjects)

	var msg BusMessage
	require.NoError(t, json.Unmarshal(conn.payloads[0], &msg))
	assert.Equal(t, "gone", msg.BusID)
	assert.Equal(t, models.BusStatusInactive, msg.Status)
	assert.Equal(t, ts, msg.Timestamp)
}
